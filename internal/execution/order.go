package execution

import "time"

// Side is the direction of an order.
type Side uint8

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Status is the order lifecycle state. FILLED, REJECTED and CANCELLED are
// terminal.
type Status uint8

const (
	StatusNew Status = iota
	StatusSubmitted
	StatusFilled
	StatusRejected
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusFilled:
		return "FILLED"
	case StatusRejected:
		return "REJECTED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status allows no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Order is the router's view of one submission. Only FILLED orders reach the
// position ledger.
type Order struct {
	ID               string
	Symbol           string
	Side             Side
	Quantity         int64
	RequestedPrice   float64
	AverageFillPrice float64
	Status           Status
	StrategyName     string
	Reason           string
	CreatedAt        time.Time
	ClosedAt         time.Time
}
