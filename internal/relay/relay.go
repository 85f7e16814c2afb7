package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"wimira/queue-service/internal/hub"
	"wimira/queue-service/internal/store"
)

const consumerName = "realtime"

// Broadcaster receives committed events in commit order.
type Broadcaster interface {
	Broadcast(payload []byte, meta hub.Subscription)
}

// Publisher forwards committed events to an external broker. Implementations
// must tolerate redelivery; the relay is at-least-once.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}

type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Retention    time.Duration
}

type Relay struct {
	source    store.EventSource
	hub       Broadcaster
	publisher Publisher
	offset    store.Offset
	cfg       Config
	running   int32
}

func New(source store.EventSource, broadcaster Broadcaster, publisher Publisher, cfg Config) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{source: source, hub: broadcaster, publisher: publisher, cfg: cfg}
}

// Run polls the outbox until the context is cancelled. Events reach every
// subscriber in commit order because a single goroutine drains the outbox
// and the offset only advances past delivered events.
func (r *Relay) Run(ctx context.Context) {
	offset, err := r.source.GetOffset(ctx, consumerName)
	if err != nil {
		log.Printf("relay: load offset error: %v", err)
	}
	r.offset = offset

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
				continue
			}
			if err := r.poll(ctx); err != nil && ctx.Err() == nil {
				log.Printf("relay: poll error: %v", err)
			}
			atomic.StoreInt32(&r.running, 0)
		}
	}
}

func (r *Relay) poll(ctx context.Context) error {
	events, err := r.source.ListOutboxEvents(ctx, r.offset, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		env := Envelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		meta := extractMeta(event.Payload)
		meta.QueueID = event.QueueID
		r.hub.Broadcast(payload, meta)
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, event.Type, payload); err != nil {
				log.Printf("relay: publish error: %v", err)
			}
		}
		r.offset = store.Offset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
	}

	if err := r.source.UpdateOffset(ctx, consumerName, r.offset); err != nil {
		return err
	}
	if r.cfg.Retention > 0 {
		cutoff := r.offset.LastEventTime.Add(-r.cfg.Retention)
		if err := r.source.CleanupOutbox(ctx, cutoff); err != nil {
			log.Printf("relay: cleanup error: %v", err)
		}
	}
	return nil
}

func extractMeta(payload []byte) hub.Subscription {
	var data struct {
		QueueID string `json:"queue_id"`
		Number  int    `json:"number"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return hub.Subscription{}
	}
	return hub.Subscription{QueueID: data.QueueID, TokenNumber: data.Number}
}
