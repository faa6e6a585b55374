package market

import (
	"time"

	"github.com/scmhub/calendar"
	"github.com/yanun0323/logs"
)

// SessionClock answers whether the trading session is open and whether the
// forced square-off window before close has started. Exchange holidays come
// from the MIC calendar when one is available; otherwise weekdays count as
// trading days.
type SessionClock struct {
	cal           *calendar.Calendar
	loc           *time.Location
	openMinute    int
	closeMinute   int
	squareOffLead time.Duration
}

// SessionConfig describes the session hours for the traded venue.
type SessionConfig struct {
	MIC           string
	Timezone      string
	OpenHour      int
	OpenMinute    int
	CloseHour     int
	CloseMinute   int
	SquareOffLead time.Duration
}

// NewSessionClock builds a session clock from venue configuration.
func NewSessionClock(cfg SessionConfig) *SessionClock {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || loc == nil {
		logs.Warnf("load timezone %q failed, using UTC", cfg.Timezone)
		loc = time.UTC
	}
	cal := calendar.GetCalendar(cfg.MIC)
	if cal == nil {
		logs.Warnf("no calendar for MIC %q, falling back to weekday sessions", cfg.MIC)
	}
	return &SessionClock{
		cal:           cal,
		loc:           loc,
		openMinute:    cfg.OpenHour*60 + cfg.OpenMinute,
		closeMinute:   cfg.CloseHour*60 + cfg.CloseMinute,
		squareOffLead: cfg.SquareOffLead,
	}
}

// IsOpen reports whether the session is open at the given instant.
func (s *SessionClock) IsOpen(now time.Time) bool {
	local := now.In(s.loc)
	if !s.isTradingDay(local) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= s.openMinute && minute < s.closeMinute
}

// InSquareOffWindow reports whether the forced square-off window before the
// session close has started.
func (s *SessionClock) InSquareOffWindow(now time.Time) bool {
	if !s.IsOpen(now) {
		return false
	}
	local := now.In(s.loc)
	lead := int(s.squareOffLead / time.Minute)
	minute := local.Hour()*60 + local.Minute()
	return minute >= s.closeMinute-lead
}

func (s *SessionClock) isTradingDay(local time.Time) bool {
	if s.cal != nil {
		return s.cal.IsBusinessDay(local)
	}
	weekday := local.Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}
