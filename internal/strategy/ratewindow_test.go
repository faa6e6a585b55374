package strategy

import (
	"testing"
	"time"
)

func TestRateWindowCap(t *testing.T) {
	w := newRateWindow(7)
	now := time.Date(2026, 1, 14, 11, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		if !w.Allow(now.Add(time.Duration(i) * 10 * time.Millisecond)) {
			t.Fatalf("submission %d within cap should pass", i+1)
		}
	}
	if w.Allow(now.Add(80 * time.Millisecond)) {
		t.Fatal("8th submission inside one second must be rejected")
	}
}

func TestRateWindowSlides(t *testing.T) {
	w := newRateWindow(2)
	now := time.Date(2026, 1, 14, 11, 0, 0, 0, time.UTC)

	if !w.Allow(now) || !w.Allow(now.Add(100*time.Millisecond)) {
		t.Fatal("first two should pass")
	}
	if w.Allow(now.Add(200 * time.Millisecond)) {
		t.Fatal("third inside the window must be rejected")
	}
	// One second after the first submission it has left the window.
	if !w.Allow(now.Add(1001 * time.Millisecond)) {
		t.Fatal("submission after the window slid should pass")
	}
}

func TestRateWindowUnlimited(t *testing.T) {
	w := newRateWindow(0)
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !w.Allow(now) {
			t.Fatal("zero limit disables the cap")
		}
	}
}
