package market

import (
	"testing"
	"time"
)

func newTestClock(t *testing.T) *SessionClock {
	t.Helper()
	// Unknown MIC falls back to weekday-only sessions, which keeps the test
	// independent of holiday data.
	return NewSessionClock(SessionConfig{
		MIC:           "none",
		Timezone:      "Asia/Kolkata",
		OpenHour:      9,
		OpenMinute:    15,
		CloseHour:     15,
		CloseMinute:   30,
		SquareOffLead: 10 * time.Minute,
	})
}

func mustIST(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestSessionClockIsOpen(t *testing.T) {
	clock := newTestClock(t)
	ist := mustIST(t)

	testCases := []struct {
		desc     string
		at       time.Time
		expected bool
	}{
		{"mid session wednesday", time.Date(2026, 1, 14, 11, 0, 0, 0, ist), true},
		{"before open", time.Date(2026, 1, 14, 9, 14, 0, 0, ist), false},
		{"at open", time.Date(2026, 1, 14, 9, 15, 0, 0, ist), true},
		{"at close", time.Date(2026, 1, 14, 15, 30, 0, 0, ist), false},
		{"last minute", time.Date(2026, 1, 14, 15, 29, 59, 0, ist), true},
		{"saturday", time.Date(2026, 1, 17, 11, 0, 0, 0, ist), false},
		{"sunday", time.Date(2026, 1, 18, 11, 0, 0, 0, ist), false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := clock.IsOpen(tc.at); got != tc.expected {
				t.Fatalf("IsOpen(%v) = %t, expected %t", tc.at, got, tc.expected)
			}
		})
	}
}

func TestSessionClockSquareOffWindow(t *testing.T) {
	clock := newTestClock(t)
	ist := mustIST(t)

	testCases := []struct {
		desc     string
		at       time.Time
		expected bool
	}{
		{"mid session", time.Date(2026, 1, 14, 11, 0, 0, 0, ist), false},
		{"just before window", time.Date(2026, 1, 14, 15, 19, 0, 0, ist), false},
		{"window start", time.Date(2026, 1, 14, 15, 20, 0, 0, ist), true},
		{"inside window", time.Date(2026, 1, 14, 15, 25, 0, 0, ist), true},
		{"after close", time.Date(2026, 1, 14, 15, 31, 0, 0, ist), false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			if got := clock.InSquareOffWindow(tc.at); got != tc.expected {
				t.Fatalf("InSquareOffWindow(%v) = %t, expected %t", tc.at, got, tc.expected)
			}
		})
	}
}

func TestSessionClockUTCConversion(t *testing.T) {
	clock := newTestClock(t)
	// 05:30 UTC is 11:00 IST, mid session.
	at := time.Date(2026, 1, 14, 5, 30, 0, 0, time.UTC)
	if !clock.IsOpen(at) {
		t.Fatal("expected open when UTC instant maps into session hours")
	}
}
