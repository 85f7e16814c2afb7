package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"wimira/queue-service/internal/models"
	"wimira/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxRetries = 3

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// retry re-runs fn on serialization or deadlock failures (SQLSTATE 40001,
// 40P01). Conflicts surface to callers only once attempts are exhausted.
func (s *Store) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return store.ErrConflict
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, constraint)
}

const queueColumns = `queue_id, owner_id, business_name, queue_code, industry_type, open,
		serving, next_number, strict_missed_policy, multi_counter, estimated_wait_enabled,
		capacity_enabled, audio_enabled, manual_control_enabled, requeue_enabled,
		daily_capacity, avg_service_seconds, last_reset_date, created_at, updated_at`

func scanQueue(row pgx.Row) (models.QueueInstance, error) {
	var queue models.QueueInstance
	var industryNull sql.NullString
	var capacityNull sql.NullInt64
	var avgServiceNull sql.NullFloat64
	var lastResetNull sql.NullTime
	if err := row.Scan(
		&queue.QueueID, &queue.OwnerID, &queue.BusinessName, &queue.QueueCode, &industryNull,
		&queue.Open, &queue.Serving, &queue.NextNumber, &queue.StrictMissedPolicy,
		&queue.MultiCounter, &queue.EstimatedWaitEnabled, &queue.CapacityEnabled,
		&queue.AudioEnabled, &queue.ManualControlEnabled, &queue.RequeueEnabled,
		&capacityNull, &avgServiceNull, &lastResetNull, &queue.CreatedAt, &queue.UpdatedAt,
	); err != nil {
		return models.QueueInstance{}, err
	}
	if industryNull.Valid {
		queue.IndustryType = industryNull.String
	}
	if capacityNull.Valid {
		value := int(capacityNull.Int64)
		queue.DailyCapacity = &value
	}
	if avgServiceNull.Valid {
		value := avgServiceNull.Float64
		queue.AvgServiceSeconds = &value
	}
	if lastResetNull.Valid {
		queue.LastResetDate = &lastResetNull.Time
	}
	return queue, nil
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.QueueInstance, error) {
	var queue models.QueueInstance
	err := s.retry(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		row := s.pool.QueryRow(ctx, `
			INSERT INTO queue_instances (
				queue_id, owner_id, business_name, queue_code, industry_type, open,
				serving, next_number, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, TRUE, 0, 1, $6, $6)
			RETURNING `+queueColumns+`
		`, uuid.NewString(), input.OwnerID, input.BusinessName, strings.ToUpper(input.QueueCode), nullIfEmpty(input.IndustryType), now)
		created, err := scanQueue(row)
		if err != nil {
			if isUniqueViolation(err, "queue_code") {
				return store.ErrDuplicateCode
			}
			return err
		}
		queue = created
		return nil
	})
	return queue, err
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.QueueInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queue_instances
		WHERE queue_id = $1
	`, queueID)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueInstance{}, store.ErrQueueNotFound
		}
		return models.QueueInstance{}, err
	}
	return queue, nil
}

func (s *Store) GetQueueByCode(ctx context.Context, code string) (models.QueueInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queue_instances
		WHERE queue_code = $1
	`, strings.ToUpper(code))
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueInstance{}, store.ErrQueueNotFound
		}
		return models.QueueInstance{}, err
	}
	return queue, nil
}

func (s *Store) ListOwnerQueues(ctx context.Context, ownerID string) ([]models.QueueInstance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queue_instances
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.QueueInstance
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return queues, nil
}

func (s *Store) UpdateQueuePolicy(ctx context.Context, queueID string, update store.PolicyUpdate) (models.QueueInstance, error) {
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
			UPDATE queue_instances SET
				business_name = COALESCE($2, business_name),
				industry_type = COALESCE($3, industry_type),
				strict_missed_policy = COALESCE($4, strict_missed_policy),
				multi_counter = COALESCE($5, multi_counter),
				estimated_wait_enabled = COALESCE($6, estimated_wait_enabled),
				capacity_enabled = COALESCE($7, capacity_enabled),
				audio_enabled = COALESCE($8, audio_enabled),
				manual_control_enabled = COALESCE($9, manual_control_enabled),
				requeue_enabled = COALESCE($10, requeue_enabled),
				daily_capacity = COALESCE($11, daily_capacity),
				avg_service_seconds = COALESCE($12, avg_service_seconds),
				updated_at = $13
			WHERE queue_id = $1
			RETURNING `+queueColumns+`
		`, queueID, update.BusinessName, update.IndustryType, update.StrictMissedPolicy,
			update.MultiCounter, update.EstimatedWaitEnabled, update.CapacityEnabled,
			update.AudioEnabled, update.ManualControlEnabled, update.RequeueEnabled,
			update.DailyCapacity, update.AvgServiceSeconds, time.Now().UTC())
		updated, err := scanQueue(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrQueueNotFound
			}
			return err
		}

		if err = insertOutboxQueueEvent(ctx, tx, "queue.updated", updated, nil); err != nil {
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

func (s *Store) DeleteQueue(ctx context.Context, queueID string) error {
	return s.retry(ctx, func(ctx context.Context) (err error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback(ctx)
			}
		}()

		if _, err = tx.Exec(ctx, `
			DELETE FROM token_events
			USING tokens
			WHERE token_events.token_id = tokens.token_id AND tokens.queue_id = $1
		`, queueID); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM tokens WHERE queue_id = $1`, queueID); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM counters WHERE queue_id = $1`, queueID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM queue_instances WHERE queue_id = $1`, queueID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			err = store.ErrQueueNotFound
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) CreateCounter(ctx context.Context, queueID, name string) (models.Counter, error) {
	var counter models.Counter
	row := s.pool.QueryRow(ctx, `
		INSERT INTO counters (counter_id, queue_id, name)
		SELECT $1, queue_id, $3
		FROM queue_instances
		WHERE queue_id = $2
		RETURNING counter_id, queue_id, name, current_token
	`, uuid.NewString(), queueID, name)
	var currentNull sql.NullInt64
	if err := row.Scan(&counter.CounterID, &counter.QueueID, &counter.Name, &currentNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrQueueNotFound
		}
		return models.Counter{}, err
	}
	if currentNull.Valid {
		value := int(currentNull.Int64)
		counter.CurrentToken = &value
	}
	return counter, nil
}

func (s *Store) ListCounters(ctx context.Context, queueID string) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT counter_id, queue_id, name, current_token
		FROM counters
		WHERE queue_id = $1
		ORDER BY name ASC
	`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		var counter models.Counter
		var currentNull sql.NullInt64
		if err := rows.Scan(&counter.CounterID, &counter.QueueID, &counter.Name, &currentNull); err != nil {
			return nil, err
		}
		if currentNull.Valid {
			value := int(currentNull.Int64)
			counter.CurrentToken = &value
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

func (s *Store) DeleteCounter(ctx context.Context, queueID, counterID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM counters
		WHERE counter_id = $1 AND queue_id = $2
	`, counterID, queueID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
