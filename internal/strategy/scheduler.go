package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/execution"
	"main/internal/ledger"
	"main/internal/market"
	"main/internal/obs"
	"main/internal/risk"
)

// Executor routes orders. Satisfied by execution.Router.
type Executor interface {
	Execute(ctx context.Context, order *execution.Order) (*execution.Order, error)
}

// Books applies fills and records the signal's suggested exit levels.
// Satisfied by ledger.Ledger.
type Books interface {
	OnFill(order *execution.Order)
	SetExitLevels(symbol, strategy string, stop, target float64)
}

// Gate reports whether new entries are allowed. Satisfied by risk.Monitor.
type Gate interface {
	TradingAllowed() bool
}

// Session reports whether the trading session is open.
type Session interface {
	IsOpen(now time.Time) bool
}

// Recorder persists signals and orders best-effort.
type Recorder interface {
	InsertSignal(ctx context.Context, signal *Signal) error
	InsertOrder(ctx context.Context, order *execution.Order) error
}

// SchedulerConfig tunes the signal gates.
type SchedulerConfig struct {
	MinConfidence       float64
	MaxSignalsPerSecond int
}

// StrategyMetrics is a point-in-time view of one strategy's activity.
type StrategyMetrics struct {
	Name           string
	Enabled        bool
	SignalsEmitted uint64
	OrdersFilled   uint64
	RealizedPnl    float64
	LastSignalAt   time.Time
}

type entry struct {
	strategy Strategy
	cooldown time.Duration
	enabled  bool

	lastAttempt    time.Time
	signalsEmitted uint64
	ordersFilled   uint64
}

// Scheduler drives registered strategies on a fixed cadence and funnels
// their signals through the acceptance gates: confidence, rate limit,
// trading halt, then position sizing.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	window  *rateWindow

	cfg      SchedulerConfig
	cache    market.Snapshot
	session  Session
	gate     Gate
	wallet   *ledger.Wallet
	executor Executor
	books    Books
	recorder Recorder
	metrics  *obs.Metrics
	lots     map[string]int64
}

// NewScheduler builds a scheduler. session, recorder and metrics may be nil.
func NewScheduler(cfg SchedulerConfig, cache market.Snapshot, session Session, gate Gate, wallet *ledger.Wallet, executor Executor, books Books, recorder Recorder, metrics *obs.Metrics, lots map[string]int64) *Scheduler {
	return &Scheduler{
		entries:  make(map[string]*entry),
		window:   newRateWindow(cfg.MaxSignalsPerSecond),
		cfg:      cfg,
		cache:    cache,
		session:  session,
		gate:     gate,
		wallet:   wallet,
		executor: executor,
		books:    books,
		recorder: recorder,
		metrics:  metrics,
		lots:     lots,
	}
}

// Register adds a strategy. Duplicate names replace the earlier entry's
// strategy but keep its counters.
func (s *Scheduler) Register(strategy Strategy, cooldown time.Duration, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strategy.Name()
	if existing, ok := s.entries[name]; ok {
		existing.strategy = strategy
		existing.cooldown = cooldown
		existing.enabled = enabled
		return
	}
	s.entries[name] = &entry{strategy: strategy, cooldown: cooldown, enabled: enabled}
	s.order = append(s.order, name)
}

// Toggle enables or disables a strategy at runtime.
func (s *Scheduler) Toggle(name string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	e.enabled = enabled
	logs.Infof("strategy %s enabled=%t", name, enabled)
	return true
}

// Scan runs one evaluation pass over every registered strategy. Counters
// are committed under the scheduler lock at attempt time; the lock is
// released before any broker I/O so Toggle and Metrics never block behind
// an in-flight order.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) {
	if s.session != nil && !s.session.IsOpen(now) {
		return
	}

	s.mu.Lock()
	var signals []*Signal
	for _, name := range s.order {
		e := s.entries[name]
		if !e.enabled {
			continue
		}
		if e.cooldown > 0 && !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) < e.cooldown {
			continue
		}
		signal, err := e.strategy.Evaluate(ctx, s.cache)
		if err != nil {
			logs.Warnf("strategy %s evaluate: %+v", name, err)
			continue
		}
		if signal == nil {
			continue
		}
		// Cooldown counts from the emission attempt, not from acceptance:
		// a dropped signal still spaces out the next one.
		e.lastAttempt = now
		e.signalsEmitted++
		signals = append(signals, signal)
	}
	s.mu.Unlock()

	for _, signal := range signals {
		s.metrics.IncSignal()
		s.recordSignal(ctx, signal)

		if reason := s.admit(signal, now); reason != obs.DropNone {
			s.metrics.IncDropped(reason)
			logs.Infof("signal dropped: %s %s %s, reason %s", signal.StrategyName, signal.Action, signal.Symbol, reason)
			continue
		}
		if s.place(ctx, signal) {
			s.metrics.IncAccepted()
		}
	}
}

// admit applies the pre-sizing gates in order.
func (s *Scheduler) admit(signal *Signal, now time.Time) obs.DropReason {
	if signal.Confidence < s.cfg.MinConfidence {
		return obs.DropLowConfidence
	}
	if !s.window.Allow(now) {
		return obs.DropRateLimited
	}
	if s.gate != nil && !s.gate.TradingAllowed() {
		return obs.DropTradingHalted
	}
	return obs.DropNone
}

func (s *Scheduler) place(ctx context.Context, signal *Signal) bool {
	price := signal.SuggestedPrice
	if tick, ok := s.cache.Latest(signal.Symbol); ok {
		price = tick.LastPrice
	}
	quantity := risk.Size(price, s.wallet.Snapshot(), s.lotSize(signal.Symbol))
	if quantity <= 0 {
		s.metrics.IncDropped(obs.DropInsufficientCapital)
		logs.Infof("signal dropped: %s %s %s, reason %s", signal.StrategyName, signal.Action, signal.Symbol, obs.DropInsufficientCapital)
		return false
	}

	side := execution.SideBuy
	if signal.Action == ActionSell {
		side = execution.SideSell
	}
	order := &execution.Order{
		Symbol:         signal.Symbol,
		Side:           side,
		Quantity:       quantity,
		RequestedPrice: price,
		StrategyName:   signal.StrategyName,
	}

	started := time.Now()
	filled, err := s.executor.Execute(ctx, order)
	if err != nil {
		s.metrics.IncDropped(obs.DropExecutionFailed)
		s.metrics.IncOrderRejected()
		logs.Errorf("execute %s %s x%d for %s: %+v", order.Side, order.Symbol, order.Quantity, order.StrategyName, err)
		s.recordOrder(ctx, order)
		return false
	}
	s.metrics.ObserveOrderFlow(time.Since(started))
	s.metrics.IncOrderFilled()
	s.markFilled(signal.StrategyName)

	s.books.OnFill(filled)
	s.books.SetExitLevels(signal.Symbol, signal.StrategyName, signal.StopLoss, signal.Target)
	s.recordOrder(ctx, filled)
	logs.Infof("order filled: %s %s x%d @ %.2f (%s, confidence %.2f)",
		filled.Side, filled.Symbol, filled.Quantity, filled.AverageFillPrice, filled.StrategyName, signal.Confidence)
	return true
}

func (s *Scheduler) markFilled(name string) {
	s.mu.Lock()
	if e, ok := s.entries[name]; ok {
		e.ordersFilled++
	}
	s.mu.Unlock()
}

func (s *Scheduler) lotSize(symbol string) int64 {
	if lot, ok := s.lots[symbol]; ok && lot > 0 {
		return lot
	}
	return 1
}

// Metrics returns a per-strategy activity snapshot. Realized PnL is merged
// in by the caller from the ledger.
func (s *Scheduler) Metrics(realized map[string]float64) []StrategyMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StrategyMetrics, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		out = append(out, StrategyMetrics{
			Name:           name,
			Enabled:        e.enabled,
			SignalsEmitted: e.signalsEmitted,
			OrdersFilled:   e.ordersFilled,
			RealizedPnl:    realized[name],
			LastSignalAt:   e.lastAttempt,
		})
	}
	return out
}

func (s *Scheduler) recordSignal(ctx context.Context, signal *Signal) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.InsertSignal(ctx, signal); err != nil {
		s.metrics.IncPersistenceError()
		logs.Warnf("persist signal %s/%s: %+v", signal.StrategyName, signal.Symbol, err)
	}
}

func (s *Scheduler) recordOrder(ctx context.Context, order *execution.Order) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.InsertOrder(ctx, order); err != nil {
		s.metrics.IncPersistenceError()
		logs.Warnf("persist order %s: %+v", order.ID, err)
	}
}
