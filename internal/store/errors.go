package store

import "errors"

var (
	ErrQueueNotFound    = errors.New("queue not found")
	ErrTokenNotFound    = errors.New("token not found")
	ErrCounterNotFound  = errors.New("counter not found")
	ErrDuplicateCode    = errors.New("queue code already exists")
	ErrQueueClosed      = errors.New("queue closed")
	ErrCapacityExceeded = errors.New("daily capacity exceeded")
	ErrPolicyViolation  = errors.New("requeue refused by policy")
	ErrNoTokenWaiting   = errors.New("no token waiting")
	ErrConflict         = errors.New("transaction conflict")
)
