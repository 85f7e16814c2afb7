package store

import (
	"testing"

	"wimira/queue-service/internal/models"
)

func TestRequeueAllowed(t *testing.T) {
	cases := []struct {
		name   string
		status string
		strict bool
		want   bool
	}{
		{"active lenient", models.StatusActive, false, true},
		{"active strict", models.StatusActive, true, true},
		{"served lenient", models.StatusServed, false, true},
		{"served strict", models.StatusServed, true, true},
		{"missed lenient", models.StatusMissed, false, true},
		{"missed strict", models.StatusMissed, true, false},
		{"expired lenient", models.StatusExpired, false, true},
		{"expired strict", models.StatusExpired, true, false},
		{"unknown status", "held", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RequeueAllowed(tc.status, tc.strict); got != tc.want {
				t.Fatalf("RequeueAllowed(%q, %v) = %v, want %v", tc.status, tc.strict, got, tc.want)
			}
		})
	}
}

func TestSweepTarget(t *testing.T) {
	target, ok := SweepTarget(models.StatusActive)
	if !ok || target != models.StatusMissed {
		t.Fatalf("active sweep = (%q, %v), want (missed, true)", target, ok)
	}
	for _, status := range []string{models.StatusServed, models.StatusMissed, models.StatusExpired} {
		if _, ok := SweepTarget(status); ok {
			t.Fatalf("sweep should not touch %q", status)
		}
	}
}

func TestSweepIdempotent(t *testing.T) {
	target, ok := SweepTarget(models.StatusActive)
	if !ok {
		t.Fatal("first sweep must apply")
	}
	if _, ok := SweepTarget(target); ok {
		t.Fatalf("second sweep of %q must be a no-op", target)
	}
}

func TestResetTarget(t *testing.T) {
	target, ok := ResetTarget(models.StatusActive)
	if !ok || target != models.StatusExpired {
		t.Fatalf("active reset = (%q, %v), want (expired, true)", target, ok)
	}
	for _, status := range []string{models.StatusServed, models.StatusMissed, models.StatusExpired} {
		if _, ok := ResetTarget(status); ok {
			t.Fatalf("reset should keep %q as history", status)
		}
	}
}
