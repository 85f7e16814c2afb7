// Package binding keeps the advisory (queue, device) → token number cache.
// The token store stays the source of truth: every read through the cache is
// reconciled against it, and stale entries are discarded silently.
package binding

import (
	"context"
	"errors"
	"strconv"
	"time"

	"wimira/queue-service/internal/models"
	"wimira/queue-service/internal/store"

	"github.com/redis/go-redis/v9"
)

var ErrAlreadyQueued = errors.New("device already holds an active token")

const defaultTTL = 24 * time.Hour

type TokenLookup interface {
	GetToken(ctx context.Context, queueID string, number int) (models.Token, error)
}

// Binding is the reconciled view of a device's cache entry. Bound is false
// when no entry exists or the entry went stale.
type Binding struct {
	Bound  bool
	Number int
	Status string
}

type Store struct {
	rdb    *redis.Client
	tokens TokenLookup
	ttl    time.Duration
}

// New accepts a nil Redis client: bindings then always report Unbound and
// the allocation guard degrades to letting the sequencer decide.
func New(rdb *redis.Client, tokens TokenLookup) *Store {
	return &Store{rdb: rdb, tokens: tokens, ttl: defaultTTL}
}

func key(queueID, deviceID string) string {
	return "binding:" + queueID + ":" + deviceID
}

func (s *Store) Bind(ctx context.Context, queueID, deviceID string, number int) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Set(ctx, key(queueID, deviceID), strconv.Itoa(number), s.ttl).Err()
}

func (s *Store) Lookup(ctx context.Context, queueID, deviceID string) (int, bool, error) {
	if s.rdb == nil {
		return 0, false, nil
	}
	raw, err := s.rdb.Get(ctx, key(queueID, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	number, err := strconv.Atoi(raw)
	if err != nil || number <= 0 {
		_ = s.rdb.Del(ctx, key(queueID, deviceID)).Err()
		return 0, false, nil
	}
	return number, true, nil
}

func (s *Store) Unbind(ctx context.Context, queueID, deviceID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, key(queueID, deviceID)).Err()
}

// Reconcile resolves the cached number against the token store. A binding
// whose token no longer exists (deleted queue, counter reset) is cleared and
// reported as Unbound rather than surfaced as an error.
func (s *Store) Reconcile(ctx context.Context, queueID, deviceID string) (Binding, error) {
	number, bound, err := s.Lookup(ctx, queueID, deviceID)
	if err != nil {
		return Binding{}, err
	}
	if !bound {
		return Binding{}, nil
	}
	token, err := s.tokens.GetToken(ctx, queueID, number)
	if errors.Is(err, store.ErrTokenNotFound) || errors.Is(err, store.ErrQueueNotFound) {
		_ = s.Unbind(ctx, queueID, deviceID)
		return Binding{}, nil
	}
	if err != nil {
		return Binding{}, err
	}
	return Binding{Bound: true, Number: token.Number, Status: token.Status}, nil
}

// GuardAllocate is the client-side duplicate check run before the sequencer
// is called. Best effort only: a second device or a cleared cache can still
// hold a second ticket.
func (s *Store) GuardAllocate(ctx context.Context, queueID, deviceID string) error {
	reconciled, err := s.Reconcile(ctx, queueID, deviceID)
	if err != nil {
		return err
	}
	if !AllocationAllowed(reconciled) {
		return ErrAlreadyQueued
	}
	return nil
}

// AllocationAllowed permits a fresh token when the device holds nothing or
// its bound token reached a terminal status.
func AllocationAllowed(b Binding) bool {
	if !b.Bound {
		return true
	}
	return models.Terminal(b.Status)
}
