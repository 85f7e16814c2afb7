package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wimira/queue-service/internal/hub"
	"wimira/queue-service/internal/store"
)

type fakeSource struct {
	events  []store.OutboxEvent
	offsets map[string]store.Offset
	cleaned []time.Time
}

func newFakeSource(events ...store.OutboxEvent) *fakeSource {
	return &fakeSource{events: events, offsets: make(map[string]store.Offset)}
}

func (f *fakeSource) ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, event := range f.events {
		if event.CreatedAt.After(after.LastEventTime) ||
			(event.CreatedAt.Equal(after.LastEventTime) && event.EventID > after.LastEventID) {
			out = append(out, event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) GetOffset(ctx context.Context, consumer string) (store.Offset, error) {
	return f.offsets[consumer], nil
}

func (f *fakeSource) UpdateOffset(ctx context.Context, consumer string, offset store.Offset) error {
	f.offsets[consumer] = offset
	return nil
}

func (f *fakeSource) CleanupOutbox(ctx context.Context, before time.Time) error {
	f.cleaned = append(f.cleaned, before)
	return nil
}

type fakeBroadcaster struct {
	payloads []string
	metas    []hub.Subscription
}

func (f *fakeBroadcaster) Broadcast(payload []byte, meta hub.Subscription) {
	f.payloads = append(f.payloads, string(payload))
	f.metas = append(f.metas, meta)
}

type fakePublisher struct {
	types []string
}

func (f *fakePublisher) Publish(ctx context.Context, eventType string, payload []byte) error {
	f.types = append(f.types, eventType)
	return nil
}

func outboxEvent(id, queueID, eventType string, at time.Time, number int) store.OutboxEvent {
	payload, _ := json.Marshal(map[string]interface{}{"queue_id": queueID, "number": number})
	return store.OutboxEvent{EventID: id, QueueID: queueID, Type: eventType, Payload: payload, CreatedAt: at}
}

func TestPollDeliversInCommitOrder(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	source := newFakeSource(
		outboxEvent("e1", "q1", "token.issued", base, 1),
		outboxEvent("e2", "q1", "token.issued", base.Add(time.Second), 2),
		outboxEvent("e3", "q1", "queue.advanced", base.Add(2*time.Second), 1),
	)
	broadcaster := &fakeBroadcaster{}
	r := New(source, broadcaster, nil, Config{BatchSize: 10})

	if err := r.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if len(broadcaster.payloads) != 3 {
		t.Fatalf("broadcast %d events, want 3", len(broadcaster.payloads))
	}
	var first Envelope
	if err := json.Unmarshal([]byte(broadcaster.payloads[0]), &first); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if first.Type != "token.issued" {
		t.Fatalf("first envelope type = %q", first.Type)
	}
	if broadcaster.metas[0].QueueID != "q1" || broadcaster.metas[0].TokenNumber != 1 {
		t.Fatalf("meta = %+v", broadcaster.metas[0])
	}

	offset := source.offsets[consumerName]
	if offset.LastEventID != "e3" {
		t.Fatalf("offset advanced to %q, want e3", offset.LastEventID)
	}
}

func TestPollResumesAfterOffset(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	source := newFakeSource(
		outboxEvent("e1", "q1", "token.issued", base, 1),
		outboxEvent("e2", "q1", "token.issued", base.Add(time.Second), 2),
	)
	broadcaster := &fakeBroadcaster{}
	r := New(source, broadcaster, nil, Config{BatchSize: 10})
	r.offset = store.Offset{LastEventTime: base, LastEventID: "e1"}

	if err := r.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(broadcaster.payloads) != 1 {
		t.Fatalf("redelivered %d events, want only the one past the offset", len(broadcaster.payloads))
	}
}

func TestPollPublishesToBroker(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	source := newFakeSource(outboxEvent("e1", "q1", "queue.reset", base, 0))
	publisher := &fakePublisher{}
	r := New(source, &fakeBroadcaster{}, publisher, Config{BatchSize: 10})

	if err := r.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(publisher.types) != 1 || publisher.types[0] != "queue.reset" {
		t.Fatalf("published %v, want [queue.reset]", publisher.types)
	}
}

func TestPollCleansUpPastRetention(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	source := newFakeSource(outboxEvent("e1", "q1", "token.issued", base, 1))
	r := New(source, &fakeBroadcaster{}, nil, Config{BatchSize: 10, Retention: time.Hour})

	if err := r.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(source.cleaned) != 1 {
		t.Fatalf("cleanup ran %d times, want 1", len(source.cleaned))
	}
	if want := base.Add(-time.Hour); !source.cleaned[0].Equal(want) {
		t.Fatalf("cleanup cutoff %v, want %v", source.cleaned[0], want)
	}
}

func TestPollEmptyOutboxKeepsOffset(t *testing.T) {
	source := newFakeSource()
	r := New(source, &fakeBroadcaster{}, nil, Config{BatchSize: 10})
	before := r.offset

	if err := r.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if r.offset != before {
		t.Fatalf("offset moved on empty outbox: %+v", r.offset)
	}
	if len(source.offsets) != 0 {
		t.Fatal("offset persisted with nothing delivered")
	}
}
