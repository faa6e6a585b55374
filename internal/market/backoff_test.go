package market

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 30 * time.Second}

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
		{0, 2 * time.Second},
		{-3, 2 * time.Second},
	}

	for _, tc := range testCases {
		if got := b.Delay(tc.attempt); got != tc.expected {
			t.Fatalf("attempt %d: expected %v but got %v", tc.attempt, tc.expected, got)
		}
	}
}

func TestBackoffNextJitterBounds(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 30 * time.Second, Jitter: 0.1}

	for attempt := 1; attempt <= 6; attempt++ {
		base := b.Delay(attempt)
		limit := base + time.Duration(0.1*float64(base))
		for i := 0; i < 50; i++ {
			got := b.Next(attempt)
			if got < base || got > limit {
				t.Fatalf("attempt %d: %v outside [%v, %v]", attempt, got, base, limit)
			}
		}
	}
}

func TestBackoffNextNoJitter(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	if got := b.Next(2); got != 2*time.Second {
		t.Fatalf("expected exact delay without jitter, got %v", got)
	}
}
