package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("transfer: %w", Errorf(KindInsufficientFunds, "balance %d below %d", 10, 20))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("kinds must not cross-match: %v", err)
	}
}

func TestAsErrorHidesBackendText(t *testing.T) {
	raw := errors.New(`pq: relation "bank.accounts" does not exist`)
	e := AsError(raw)
	if e.Kind != KindStorageUnavailable {
		t.Fatalf("kind=%s want %s", e.Kind, KindStorageUnavailable)
	}
	if e.Reason != ErrStorageUnavailable.Reason {
		t.Fatalf("reason leaked backend text: %q", e.Reason)
	}
	if !errors.Is(e, raw) {
		t.Fatalf("cause should stay reachable for logs")
	}
	if !e.Retryable() {
		t.Fatalf("storage errors are retryable")
	}
}

func TestEffectiveStatus(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := SavingsAccount{Status: SavingsActive, StartsAt: start, MaturityAt: start.AddDate(0, 12, 0)}

	cases := []struct {
		name string
		now  time.Time
		want SavingsStatus
	}{
		{"before maturity", start.AddDate(0, 6, 0), SavingsActive},
		{"at maturity", start.AddDate(0, 12, 0), SavingsMatured},
		{"after maturity", start.AddDate(2, 0, 0), SavingsMatured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.EffectiveStatus(tc.now); got != tc.want {
				t.Fatalf("status=%s want %s", got, tc.want)
			}
		})
	}

	s.Status = SavingsWithdrawn
	if got := s.EffectiveStatus(start.AddDate(2, 0, 0)); got != SavingsWithdrawn {
		t.Fatalf("withdrawn is terminal, got %s", got)
	}
}
