package strategy

import "time"

// rateWindow enforces a sliding one-second cap on accepted signals across
// all strategies. Not safe for concurrent use; the scheduler owns it.
type rateWindow struct {
	limit int
	span  time.Duration
	sent  []time.Time
}

func newRateWindow(limit int) *rateWindow {
	return &rateWindow{limit: limit, span: time.Second}
}

// Allow reports whether one more signal fits in the window ending at now,
// and records it if so.
func (w *rateWindow) Allow(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}
	cutoff := now.Add(-w.span)
	keep := w.sent[:0]
	for _, t := range w.sent {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.sent = keep
	if len(w.sent) >= w.limit {
		return false
	}
	w.sent = append(w.sent, now)
	return true
}
