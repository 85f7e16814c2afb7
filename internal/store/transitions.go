package store

import "wimira/queue-service/internal/models"

// RequeueAllowed decides whether a token may be returned to active.
// Missed and expired tokens require a fresh allocation under the strict
// policy; every other prior status, served included, may be reactivated.
func RequeueAllowed(status string, strictPolicy bool) bool {
	switch status {
	case models.StatusActive, models.StatusServed:
		return true
	case models.StatusMissed, models.StatusExpired:
		return !strictPolicy
	default:
		return false
	}
}

var sweepMap = map[string]string{
	models.StatusActive: models.StatusMissed,
}

// SweepTarget returns the status the strict-policy sweep assigns to a passed
// token, or false when the token is untouched (already terminal).
func SweepTarget(status string) (string, bool) {
	target, ok := sweepMap[status]
	return target, ok
}

// ResetTarget returns the status a counter reset assigns, or false when the
// token stays as a historical record.
func ResetTarget(status string) (string, bool) {
	if status == models.StatusActive {
		return models.StatusExpired, true
	}
	return "", false
}
