package ledger

import "time"

// PositionStatus marks whether a position is still open.
type PositionStatus uint8

const (
	PositionOpen PositionStatus = iota
	PositionClosed
)

func (s PositionStatus) String() string {
	if s == PositionClosed {
		return "CLOSED"
	}
	return "OPEN"
}

// Exit reasons attached to closing orders.
const (
	ReasonTimeExit      = "TIME_EXIT"
	ReasonSessionClose  = "SESSION_CLOSE"
	ReasonStopLoss      = "STOP_LOSS"
	ReasonTargetHit     = "TARGET_HIT"
	ReasonDailyStopLoss = "DAILY_STOP_LOSS"
	ReasonEmergencyStop = "EMERGENCY_STOP"
)

// Position is one open exposure for an (account, symbol, strategy) key.
// Quantity is signed: positive long, negative short.
type Position struct {
	ID                string
	AccountID         string
	Symbol            string
	StrategyName      string
	Quantity          int64
	AverageEntryPrice float64
	CurrentPrice      float64
	RealizedPnl       float64
	UnrealizedPnl     float64
	StopLoss          float64
	Target            float64
	OpenedAt          time.Time
	ClosedAt          time.Time
	Status            PositionStatus

	exitPending bool
}

func (p *Position) refreshUnrealized(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnl = (price - p.AverageEntryPrice) * float64(p.Quantity)
}

func (p *Position) stopCrossed(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Quantity > 0 {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

func (p *Position) targetCrossed(price float64) bool {
	if p.Target <= 0 {
		return false
	}
	if p.Quantity > 0 {
		return price >= p.Target
	}
	return price <= p.Target
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
