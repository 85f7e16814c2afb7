package models

import "time"

type Token struct {
	TokenID   string    `json:"token_id"`
	QueueID   string    `json:"queue_id"`
	Number    int       `json:"number"`
	Status    string    `json:"status"`
	SessionID *string   `json:"session_id,omitempty"`
	CounterID *string   `json:"counter_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	StatusActive  = "active"
	StatusServed  = "served"
	StatusMissed  = "missed"
	StatusExpired = "expired"
)

// Terminal reports whether a status permits the holding device to request a
// fresh token.
func Terminal(status string) bool {
	switch status {
	case StatusServed, StatusMissed, StatusExpired:
		return true
	default:
		return false
	}
}

type Counter struct {
	CounterID    string `json:"counter_id"`
	QueueID      string `json:"queue_id"`
	Name         string `json:"name"`
	CurrentToken *int   `json:"current_token,omitempty"`
}
