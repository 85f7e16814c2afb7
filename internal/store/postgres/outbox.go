package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"wimira/queue-service/internal/models"
	"wimira/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func insertOutboxTokenEvent(ctx context.Context, tx pgx.Tx, eventType string, token models.Token, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"token_id":   token.TokenID,
		"queue_id":   token.QueueID,
		"number":     token.Number,
		"status":     token.Status,
		"session_id": token.SessionID,
		"counter_id": token.CounterID,
		"created_at": token.CreatedAt,
	}
	for key, value := range extra {
		payload[key] = value
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, queue_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), token.QueueID, eventType, payloadJSON, time.Now().UTC()); err != nil {
		return err
	}
	return insertTokenEvent(ctx, tx, token.TokenID, eventType, payloadJSON)
}

func insertOutboxQueueEvent(ctx context.Context, tx pgx.Tx, eventType string, queue models.QueueInstance, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"queue_id":    queue.QueueID,
		"queue_code":  queue.QueueCode,
		"open":        queue.Open,
		"serving":     queue.Serving,
		"next_number": queue.NextNumber,
	}
	for key, value := range extra {
		payload[key] = value
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, queue_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), queue.QueueID, eventType, payloadJSON, time.Now().UTC())
	return err
}

// insertTokenEvent appends to the per-token hash chain. The advisory lock
// serializes appends for one token across concurrent transactions.
func insertTokenEvent(ctx context.Context, tx pgx.Tx, tokenID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tokenID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT token_seq, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY token_seq DESC
		LIMIT 1
		FOR UPDATE
	`, tokenID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC()
	hash := store.ComputeTokenEventHash(prev, tokenID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO token_events (token_id, token_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tokenID, nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, queue_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1 OR (created_at = $1 AND event_id > $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after.LastEventTime, after.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.QueueID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.Offset, error) {
	var offset store.Offset
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM relay_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Offset{}, nil
		}
		return store.Offset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (consumer, last_event_time, last_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer)
		DO UPDATE SET last_event_time = EXCLUDED.last_event_time, last_event_id = EXCLUDED.last_event_id
	`, consumer, offset.LastEventTime, offset.LastEventID)
	return err
}

func (s *Store) CleanupOutbox(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE created_at < $1
	`, before)
	return err
}
