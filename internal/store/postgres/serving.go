package postgres

import (
	"context"
	"errors"
	"time"

	"wimira/queue-service/internal/models"
	"wimira/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
)

// AdvanceServing moves the serving pointer one step. The missed sweep, the
// served transition, and the pointer bump commit as one transaction; readers
// never observe a half-applied advance.
func (s *Store) AdvanceServing(ctx context.Context, input store.AdvanceInput) (store.AdvanceResult, error) {
	var result store.AdvanceResult
	err := s.retry(ctx, func(ctx context.Context) (err error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback(ctx)
			}
		}()

		gate, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		next := gate.Serving + 1
		if next >= gate.NextNumber {
			err = store.ErrNoTokenWaiting
			return err
		}

		missed := 0
		if gate.Strict {
			tag, sweepErr := tx.Exec(ctx, `
				UPDATE tokens
				SET status = $3
				WHERE queue_id = $1 AND number < $2 AND status = $4 AND reset_epoch = $5
			`, input.QueueID, next, models.StatusMissed, models.StatusActive, gate.Epoch)
			if sweepErr != nil {
				err = sweepErr
				return err
			}
			missed = int(tag.RowsAffected())
		}

		var served *models.Token
		row := tx.QueryRow(ctx, `
			UPDATE tokens
			SET status = $3,
				counter_id = COALESCE($4, counter_id)
			WHERE queue_id = $1 AND number = $2 AND reset_epoch = $5
			RETURNING `+tokenColumns+`
		`, input.QueueID, next, models.StatusServed, nullIfEmpty(input.CounterID), gate.Epoch)
		token, scanErr := scanToken(row)
		if scanErr != nil {
			if !errors.Is(scanErr, pgx.ErrNoRows) {
				err = scanErr
				return err
			}
		} else {
			served = &token
		}

		if input.CounterID != "" {
			tag, counterErr := tx.Exec(ctx, `
				UPDATE counters
				SET current_token = $3
				WHERE counter_id = $1 AND queue_id = $2
			`, input.CounterID, input.QueueID, next)
			if counterErr != nil {
				err = counterErr
				return err
			}
			if tag.RowsAffected() == 0 {
				err = store.ErrCounterNotFound
				return err
			}
		}

		row = tx.QueryRow(ctx, `
			UPDATE queue_instances
			SET serving = $2, updated_at = $3
			WHERE queue_id = $1
			RETURNING `+queueColumns+`
		`, input.QueueID, next, time.Now().UTC())
		queue, err := scanQueue(row)
		if err != nil {
			return err
		}

		extra := map[string]interface{}{
			"serving": next,
			"missed":  missed,
		}
		if served != nil {
			if err = insertOutboxTokenEvent(ctx, tx, "queue.advanced", *served, extra); err != nil {
				return err
			}
		} else if err = insertOutboxQueueEvent(ctx, tx, "queue.advanced", queue, extra); err != nil {
			return err
		}

		if err = tx.Commit(ctx); err != nil {
			return err
		}
		result = store.AdvanceResult{Queue: queue, Served: served, Missed: missed}
		return nil
	})
	return result, err
}

func (s *Store) ToggleOpen(ctx context.Context, queueID string, open bool) (models.QueueInstance, error) {
	var queue models.QueueInstance
	err := s.retry(ctx, func(ctx context.Context) (err error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback(ctx)
			}
		}()

		row := tx.QueryRow(ctx, `
			UPDATE queue_instances
			SET open = $2, updated_at = $3
			WHERE queue_id = $1
			RETURNING `+queueColumns+`
		`, queueID, open, time.Now().UTC())
		updated, err := scanQueue(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrQueueNotFound
			}
			return err
		}

		if err = insertOutboxQueueEvent(ctx, tx, "queue.toggled", updated, map[string]interface{}{
			"open": open,
		}); err != nil {
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return err
		}
		queue = updated
		return nil
	})
	return queue, err
}

// Requeue returns a token to active so it can be served out of numeric
// order. Missed and expired tokens are refused under the strict policy; a
// queue with requeue disabled refuses every request.
func (s *Store) Requeue(ctx context.Context, queueID string, number int) (models.Token, error) {
	var token models.Token
	err := s.retry(ctx, func(ctx context.Context) (err error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback(ctx)
			}
		}()

		var strict, requeueEnabled bool
		var epoch int
		row := tx.QueryRow(ctx, `
			SELECT strict_missed_policy, requeue_enabled, reset_epoch
			FROM queue_instances
			WHERE queue_id = $1
			FOR UPDATE
		`, queueID)
		if err = row.Scan(&strict, &requeueEnabled, &epoch); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrQueueNotFound
			}
			return err
		}
		if !requeueEnabled {
			err = store.ErrPolicyViolation
			return err
		}

		var status string
		row = tx.QueryRow(ctx, `
			SELECT status
			FROM tokens
			WHERE queue_id = $1 AND number = $2 AND reset_epoch = $3
			FOR UPDATE
		`, queueID, number, epoch)
		if err = row.Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrTokenNotFound
			}
			return err
		}
		if !store.RequeueAllowed(status, strict) {
			err = store.ErrPolicyViolation
			return err
		}

		row = tx.QueryRow(ctx, `
			UPDATE tokens
			SET status = $3
			WHERE queue_id = $1 AND number = $2 AND reset_epoch = $4
			RETURNING `+tokenColumns+`
		`, queueID, number, models.StatusActive, epoch)
		updated, err := scanToken(row)
		if err != nil {
			return err
		}

		if err = insertOutboxTokenEvent(ctx, tx, "token.requeued", updated, map[string]interface{}{
			"prior_status": status,
		}); err != nil {
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return err
		}
		token = updated
		return nil
	})
	return token, err
}

// ResetCounters is destructive: every active token expires and numbering
// restarts at 1. Served, missed, and expired tokens stay as history.
func (s *Store) ResetCounters(ctx context.Context, queueID string) (models.QueueInstance, error) {
	var queue models.QueueInstance
	err := s.retry(ctx, func(ctx context.Context) (err error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback(ctx)
			}
		}()

		if _, err = lockQueue(ctx, tx, queueID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE tokens
			SET status = $2
			WHERE queue_id = $1 AND status = $3
		`, queueID, models.StatusExpired, models.StatusActive)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		row := tx.QueryRow(ctx, `
			UPDATE queue_instances
			SET serving = 0, next_number = 1, reset_epoch = reset_epoch + 1,
				last_reset_date = $2, updated_at = $2
			WHERE queue_id = $1
			RETURNING `+queueColumns+`
		`, queueID, now)
		updated, err := scanQueue(row)
		if err != nil {
			return err
		}

		if err = insertOutboxQueueEvent(ctx, tx, "queue.reset", updated, map[string]interface{}{
			"expired": tag.RowsAffected(),
		}); err != nil {
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return err
		}
		queue = updated
		return nil
	})
	return queue, err
}
