package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wimira/queue-service/internal/models"
	"wimira/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tokenColumns = `token_id, queue_id, number, status, session_id, counter_id, request_id, created_at`

func scanToken(row pgx.Row) (models.Token, error) {
	var token models.Token
	var sessionNull sql.NullString
	var counterNull sql.NullString
	var requestNull sql.NullString
	if err := row.Scan(&token.TokenID, &token.QueueID, &token.Number, &token.Status,
		&sessionNull, &counterNull, &requestNull, &token.CreatedAt); err != nil {
		return models.Token{}, err
	}
	token.SessionID = nullStringPtr(sessionNull)
	token.CounterID = nullStringPtr(counterNull)
	if requestNull.Valid {
		token.RequestID = requestNull.String
	}
	return token, nil
}

// queueGate holds the queue columns the sequencer and serving controller
// read under the row lock. Epoch scopes token numbers to the numbering run
// since the last reset; historical tokens from earlier epochs keep their
// numbers without colliding with fresh ones.
type queueGate struct {
	Open          bool
	Serving       int
	NextNumber    int
	Epoch         int
	Strict        bool
	Capacity      bool
	DailyCapacity sql.NullInt64
}

func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) (queueGate, error) {
	var gate queueGate
	row := tx.QueryRow(ctx, `
		SELECT open, serving, next_number, reset_epoch, strict_missed_policy, capacity_enabled, daily_capacity
		FROM queue_instances
		WHERE queue_id = $1
		FOR UPDATE
	`, queueID)
	if err := row.Scan(&gate.Open, &gate.Serving, &gate.NextNumber, &gate.Epoch, &gate.Strict, &gate.Capacity, &gate.DailyCapacity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queueGate{}, store.ErrQueueNotFound
		}
		return queueGate{}, err
	}
	return gate, nil
}

// AllocateToken issues the next number for the queue. The open and capacity
// gates, the token insert, and the counter bump commit as one transaction
// under the queue row lock, so no two allocations observe the same number.
func (s *Store) AllocateToken(ctx context.Context, input store.AllocateInput) (models.Token, error) {
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

		if input.RequestID != "" {
			var existing models.Token
			var found bool
			existing, found, err = findTokenByRequestID(ctx, tx, input.RequestID)
			if err != nil {
				return err
			}
			if found {
				if err = tx.Commit(ctx); err != nil {
					return err
				}
				token = existing
				return nil
			}
		}

		gate, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if !gate.Open {
			err = store.ErrQueueClosed
			return err
		}
		if gate.Capacity && gate.DailyCapacity.Valid && int64(gate.NextNumber-1) >= gate.DailyCapacity.Int64 {
			err = store.ErrCapacityExceeded
			return err
		}

		createdAt := input.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		number := gate.NextNumber

		row := tx.QueryRow(ctx, `
			INSERT INTO tokens (token_id, queue_id, number, reset_epoch, status, session_id, request_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+tokenColumns+`
		`, uuid.NewString(), input.QueueID, number, gate.Epoch, models.StatusActive,
			nullIfEmpty(input.SessionID), nullIfEmpty(input.RequestID), createdAt)
		issued, err := scanToken(row)
		if err != nil {
			return err
		}

		if _, err = tx.Exec(ctx, `
			UPDATE queue_instances
			SET next_number = $2, updated_at = $3
			WHERE queue_id = $1
		`, input.QueueID, number+1, time.Now().UTC()); err != nil {
			return err
		}

		if err = insertOutboxTokenEvent(ctx, tx, "token.issued", issued, map[string]interface{}{
			"channel": input.Channel,
		}); err != nil {
			return err
		}

		if err = tx.Commit(ctx); err != nil {
			return err
		}
		token = issued
		return nil
	})
	return token, err
}

func (s *Store) GetToken(ctx context.Context, queueID string, number int) (models.Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT t.token_id, t.queue_id, t.number, t.status, t.session_id, t.counter_id, t.request_id, t.created_at
		FROM tokens t
		JOIN queue_instances q ON q.queue_id = t.queue_id AND q.reset_epoch = t.reset_epoch
		WHERE t.queue_id = $1 AND t.number = $2
	`, queueID, number)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) GetSessionToken(ctx context.Context, queueID, sessionID string) (models.Token, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE queue_id = $1 AND session_id = $2
		ORDER BY number DESC
		LIMIT 1
	`, queueID, sessionID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	return token, true, nil
}

func (s *Store) ListTokenEvents(ctx context.Context, queueID string, number int) ([]store.TokenEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.token_id, e.token_seq, e.type, e.payload, e.created_at, e.prev_hash, e.hash
		FROM token_events e
		JOIN tokens t ON t.token_id = e.token_id
		JOIN queue_instances q ON q.queue_id = t.queue_id AND q.reset_epoch = t.reset_epoch
		WHERE t.queue_id = $1 AND t.number = $2
		ORDER BY e.token_seq ASC
	`, queueID, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TokenEvent
	for rows.Next() {
		var event store.TokenEvent
		if err := rows.Scan(&event.TokenID, &event.TokenSeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func findTokenByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Token, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE request_id = $1
	`, requestID)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	return token, true, nil
}
