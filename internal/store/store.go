package store

import (
	"context"
	"encoding/json"
	"time"

	"wimira/queue-service/internal/models"
)

type CreateQueueInput struct {
	OwnerID      string
	BusinessName string
	QueueCode    string
	IndustryType string
}

// PolicyUpdate carries partial configuration changes; nil fields are left
// untouched.
type PolicyUpdate struct {
	BusinessName         *string
	IndustryType         *string
	StrictMissedPolicy   *bool
	MultiCounter         *bool
	EstimatedWaitEnabled *bool
	CapacityEnabled      *bool
	AudioEnabled         *bool
	ManualControlEnabled *bool
	RequeueEnabled       *bool
	DailyCapacity        *int
	AvgServiceSeconds    *float64
}

type AllocateInput struct {
	QueueID   string
	SessionID string
	RequestID string
	Channel   string
	CreatedAt time.Time
}

type AdvanceInput struct {
	QueueID   string
	CounterID string
}

type AdvanceResult struct {
	Queue  models.QueueInstance
	Served *models.Token
	Missed int
}

type QueueStore interface {
	CreateQueue(ctx context.Context, input CreateQueueInput) (models.QueueInstance, error)
	GetQueue(ctx context.Context, queueID string) (models.QueueInstance, error)
	GetQueueByCode(ctx context.Context, code string) (models.QueueInstance, error)
	ListOwnerQueues(ctx context.Context, ownerID string) ([]models.QueueInstance, error)
	UpdateQueuePolicy(ctx context.Context, queueID string, update PolicyUpdate) (models.QueueInstance, error)
	DeleteQueue(ctx context.Context, queueID string) error

	AllocateToken(ctx context.Context, input AllocateInput) (models.Token, error)
	GetToken(ctx context.Context, queueID string, number int) (models.Token, error)
	GetSessionToken(ctx context.Context, queueID, sessionID string) (models.Token, bool, error)
	AdvanceServing(ctx context.Context, input AdvanceInput) (AdvanceResult, error)
	ToggleOpen(ctx context.Context, queueID string, open bool) (models.QueueInstance, error)
	Requeue(ctx context.Context, queueID string, number int) (models.Token, error)
	ResetCounters(ctx context.Context, queueID string) (models.QueueInstance, error)

	CreateCounter(ctx context.Context, queueID, name string) (models.Counter, error)
	ListCounters(ctx context.Context, queueID string) ([]models.Counter, error)
	DeleteCounter(ctx context.Context, queueID, counterID string) error

	ListTokenEvents(ctx context.Context, queueID string, number int) ([]TokenEvent, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	QueueID   string          `json:"queue_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Offset marks the last outbox event a relay delivered. The event id breaks
// ties between events sharing a timestamp.
type Offset struct {
	LastEventTime time.Time
	LastEventID   string
}

type EventSource interface {
	ListOutboxEvents(ctx context.Context, after Offset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (Offset, error)
	UpdateOffset(ctx context.Context, consumer string, offset Offset) error
	CleanupOutbox(ctx context.Context, before time.Time) error
}
