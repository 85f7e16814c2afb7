package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"wimira/queue-service/internal/models"
)

type TokenEvent struct {
	TokenID   string          `json:"token_id"`
	TokenSeq  int             `json:"token_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TokenID   string     `json:"token_id"`
	QueueID   string     `json:"queue_id"`
	Number    int        `json:"number"`
	Status    string     `json:"status"`
	SessionID *string    `json:"session_id"`
	CounterID *string    `json:"counter_id"`
	CreatedAt *time.Time `json:"created_at"`
}

func ComputeTokenEventHash(prevHash, tokenID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, tokenID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTokenEvents walks the hash chain and reports the first broken link.
func VerifyTokenEvents(events []TokenEvent) error {
	prev := ""
	for i, event := range events {
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: prev hash mismatch", i)
		}
		want := ComputeTokenEventHash(event.PrevHash, event.TokenID, event.Type, event.Payload, event.CreatedAt, event.TokenSeq)
		if event.Hash != want {
			return fmt.Errorf("event %d: hash mismatch", i)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateToken folds an event history back into the token's latest state.
func RehydrateToken(events []TokenEvent) (models.Token, error) {
	var token models.Token
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Token{}, err
		}
		if payload.TokenID != "" {
			token.TokenID = payload.TokenID
		}
		if payload.QueueID != "" {
			token.QueueID = payload.QueueID
		}
		if payload.Number > 0 {
			token.Number = payload.Number
		}
		if payload.Status != "" {
			token.Status = payload.Status
		}
		if payload.SessionID != nil {
			token.SessionID = payload.SessionID
		}
		if payload.CounterID != nil {
			token.CounterID = payload.CounterID
		}
		if payload.CreatedAt != nil {
			token.CreatedAt = *payload.CreatedAt
		}
	}
	return token, nil
}
