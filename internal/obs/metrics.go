package obs

import (
	"sync/atomic"
	"time"
)

// DropReason classifies why a signal never became an order.
type DropReason uint8

const (
	DropNone DropReason = iota
	DropLowConfidence
	DropRateLimited
	DropTradingHalted
	DropInsufficientCapital
	DropExecutionFailed
)

const maxDropReason = int(DropExecutionFailed)

func (r DropReason) String() string {
	switch r {
	case DropNone:
		return "NONE"
	case DropLowConfidence:
		return "LOW_CONFIDENCE"
	case DropRateLimited:
		return "RATE_LIMIT_EXCEEDED"
	case DropTradingHalted:
		return "TRADING_HALTED"
	case DropInsufficientCapital:
		return "INSUFFICIENT_CAPITAL"
	case DropExecutionFailed:
		return "EXECUTION_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Metrics collects lightweight engine counters and latency stats.
type Metrics struct {
	ticksIngested     uint64
	reconnects        uint64
	signalsEmitted    uint64
	signalsAccepted   uint64
	signalsDropped    [maxDropReason + 1]uint64
	ordersFilled      uint64
	ordersRejected    uint64
	persistenceErrors uint64

	orderFlowLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TicksIngested     uint64
	Reconnects        uint64
	SignalsEmitted    uint64
	SignalsAccepted   uint64
	SignalsDropped    map[DropReason]uint64
	OrdersFilled      uint64
	OrdersRejected    uint64
	PersistenceErrors uint64
	OrderFlowLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncTick records one ingested tick.
func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticksIngested, 1)
}

// IncReconnect records a feed reconnect.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// IncSignal records a strategy-emitted signal.
func (m *Metrics) IncSignal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signalsEmitted, 1)
}

// IncAccepted records a signal that passed every gate.
func (m *Metrics) IncAccepted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signalsAccepted, 1)
}

// IncDropped records a dropped signal by reason.
func (m *Metrics) IncDropped(reason DropReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.signalsDropped) {
		atomic.AddUint64(&m.signalsDropped[idx], 1)
	}
}

// IncOrderFilled records a filled order.
func (m *Metrics) IncOrderFilled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersFilled, 1)
}

// IncOrderRejected records a rejected order.
func (m *Metrics) IncOrderRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersRejected, 1)
}

// IncPersistenceError records a best-effort store failure.
func (m *Metrics) IncPersistenceError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.persistenceErrors, 1)
}

// ObserveOrderFlow measures signal-to-fill latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// Observe adds one duration sample.
func (s *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	v := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, v)
	for {
		old := atomic.LoadUint64(&s.max)
		if v <= old || atomic.CompareAndSwapUint64(&s.max, old, v) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	snap := LatencySnapshot{
		Count: count,
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		snap.Avg = time.Duration(atomic.LoadUint64(&s.sum) / count)
	}
	return snap
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	dropped := make(map[DropReason]uint64, len(m.signalsDropped))
	for i := range m.signalsDropped {
		if v := atomic.LoadUint64(&m.signalsDropped[i]); v > 0 {
			dropped[DropReason(i)] = v
		}
	}
	return Snapshot{
		TicksIngested:     atomic.LoadUint64(&m.ticksIngested),
		Reconnects:        atomic.LoadUint64(&m.reconnects),
		SignalsEmitted:    atomic.LoadUint64(&m.signalsEmitted),
		SignalsAccepted:   atomic.LoadUint64(&m.signalsAccepted),
		SignalsDropped:    dropped,
		OrdersFilled:      atomic.LoadUint64(&m.ordersFilled),
		OrdersRejected:    atomic.LoadUint64(&m.ordersRejected),
		PersistenceErrors: atomic.LoadUint64(&m.persistenceErrors),
		OrderFlowLatency:  m.orderFlowLatency.snapshot(),
	}
}
