package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/execution"
	"main/internal/market"
	"main/internal/obs"
)

// Router submits closing orders. Satisfied by execution.Router.
type Router interface {
	Execute(ctx context.Context, order *execution.Order) (*execution.Order, error)
}

// Session reports the forced square-off window before session close.
type Session interface {
	InSquareOffWindow(now time.Time) bool
}

// Recorder persists position changes best-effort. A failure is logged and
// never blocks the in-memory ledger.
type Recorder interface {
	InsertOrUpdatePosition(ctx context.Context, position *Position) error
}

type posKey struct {
	account  string
	symbol   string
	strategy string
}

// Ledger owns the open position map: it applies fills, computes PnL, runs
// exit-condition checks, and routes closing orders.
type Ledger struct {
	mu          sync.Mutex
	positions   map[posKey]*Position
	history     []*Position
	strategyPnl map[string]float64

	wallet   *Wallet
	router   Router
	session  Session
	recorder Recorder
	metrics  *obs.Metrics

	accountID string
	maxHold   time.Duration
	ids       *obs.IDGenerator
}

// NewLedger builds a ledger for the wallet's account. recorder and session
// may be nil.
func NewLedger(wallet *Wallet, router Router, session Session, recorder Recorder, metrics *obs.Metrics, maxHold time.Duration) *Ledger {
	return &Ledger{
		positions:   make(map[posKey]*Position),
		strategyPnl: make(map[string]float64),
		wallet:      wallet,
		router:      router,
		session:     session,
		recorder:    recorder,
		metrics:     metrics,
		accountID:   wallet.Snapshot().AccountID,
		maxHold:     maxHold,
		ids:         obs.NewIDGenerator("pos", 0),
	}
}

// OnFill applies a filled order to the position map. Non-FILLED orders are
// ignored.
func (l *Ledger) OnFill(order *execution.Order) {
	if order == nil || order.Status != execution.StatusFilled || order.Quantity <= 0 {
		return
	}
	signed := order.Quantity
	if order.Side == execution.SideSell {
		signed = -signed
	}
	fillPrice := order.AverageFillPrice
	key := posKey{account: l.accountID, symbol: order.Symbol, strategy: order.StrategyName}
	now := time.Now()

	var dirty []*Position

	l.mu.Lock()
	position := l.positions[key]
	switch {
	case position == nil:
		position = l.open(key, signed, fillPrice, now)
		dirty = append(dirty, position)
	case sameDirection(position.Quantity, signed):
		l.add(position, signed, fillPrice)
		dirty = append(dirty, position)
	default:
		dirty = l.reduce(key, position, signed, fillPrice, now)
	}
	copies := make([]Position, len(dirty))
	for i := range dirty {
		copies[i] = *dirty[i]
	}
	l.mu.Unlock()

	l.persist(copies)
}

// SetExitLevels attaches the signal's suggested stop and target to the open
// position for the key. Called by the scheduler after an entry fill.
func (l *Ledger) SetExitLevels(symbol, strategy string, stop, target float64) {
	key := posKey{account: l.accountID, symbol: symbol, strategy: strategy}
	l.mu.Lock()
	if position := l.positions[key]; position != nil {
		position.StopLoss = stop
		position.Target = target
	}
	l.mu.Unlock()
}

// ManagePositions evaluates exit conditions for every open position and
// routes closing orders. Exit priority per position: time limit, square-off
// window, stop loss, target.
func (l *Ledger) ManagePositions(ctx context.Context, now time.Time, cache market.Snapshot) {
	type exit struct {
		key   posKey
		order *execution.Order
	}

	var exits []exit
	l.mu.Lock()
	for key, position := range l.positions {
		if position.exitPending {
			continue
		}
		price := position.CurrentPrice
		if tick, ok := cache.Latest(position.Symbol); ok {
			price = tick.LastPrice
		}
		position.refreshUnrealized(price)

		var reason string
		switch {
		case l.maxHold > 0 && now.Sub(position.OpenedAt) >= l.maxHold:
			reason = ReasonTimeExit
		case l.session != nil && l.session.InSquareOffWindow(now):
			reason = ReasonSessionClose
		case position.stopCrossed(price):
			reason = ReasonStopLoss
		case position.targetCrossed(price):
			reason = ReasonTargetHit
		default:
			continue
		}
		position.exitPending = true
		exits = append(exits, exit{key: key, order: l.closingOrder(position, reason)})
	}
	l.mu.Unlock()

	// Broker calls happen outside the position lock.
	for _, e := range exits {
		filled, err := l.router.Execute(ctx, e.order)
		if err != nil {
			logs.Errorf("close %s/%s failed (%s): %+v", e.key.symbol, e.key.strategy, e.order.Reason, err)
			l.clearExitPending(e.key)
			continue
		}
		l.OnFill(filled)
	}
}

// CloseAll submits closing orders for every open position, tagged with
// reason. Used by the daily-loss breach and the emergency stop.
func (l *Ledger) CloseAll(ctx context.Context, reason string) {
	type exit struct {
		key   posKey
		order *execution.Order
	}

	var exits []exit
	l.mu.Lock()
	for key, position := range l.positions {
		if position.exitPending {
			continue
		}
		position.exitPending = true
		exits = append(exits, exit{key: key, order: l.closingOrder(position, reason)})
	}
	l.mu.Unlock()

	logs.Infof("square-off all: %d positions, reason %s", len(exits), reason)
	for _, e := range exits {
		filled, err := l.router.Execute(ctx, e.order)
		if err != nil {
			logs.Errorf("square-off %s/%s failed: %+v", e.key.symbol, e.key.strategy, err)
			l.clearExitPending(e.key)
			continue
		}
		l.OnFill(filled)
	}
}

// Get returns a copy of the open position for the key.
func (l *Ledger) Get(accountID, symbol, strategy string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	position := l.positions[posKey{account: accountID, symbol: symbol, strategy: strategy}]
	if position == nil {
		return Position{}, false
	}
	return *position, true
}

// Open returns copies of all open positions.
func (l *Ledger) Open() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, position := range l.positions {
		out = append(out, *position)
	}
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// StrategyPnl returns cumulative realized PnL per strategy.
func (l *Ledger) StrategyPnl() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.strategyPnl))
	for name, pnl := range l.strategyPnl {
		out[name] = pnl
	}
	return out
}

// Restore loads previously open positions into the ledger, reserving their
// capital. Used once at engine start for crash recovery.
func (l *Ledger) Restore(positions []Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range positions {
		position := positions[i]
		if position.Status != PositionOpen || position.Quantity == 0 {
			continue
		}
		key := posKey{account: position.AccountID, symbol: position.Symbol, strategy: position.StrategyName}
		copied := position
		l.positions[key] = &copied
		if err := l.wallet.Reserve(position.AverageEntryPrice * float64(abs64(position.Quantity))); err != nil {
			logs.Warnf("restore %s/%s: %+v", position.Symbol, position.StrategyName, err)
		}
	}
	logs.Infof("restored %d open positions", len(l.positions))
}

func (l *Ledger) open(key posKey, signed int64, fillPrice float64, now time.Time) *Position {
	position := &Position{
		ID:                l.ids.Next(),
		AccountID:         key.account,
		Symbol:            key.symbol,
		StrategyName:      key.strategy,
		Quantity:          signed,
		AverageEntryPrice: fillPrice,
		OpenedAt:          now,
		Status:            PositionOpen,
	}
	position.refreshUnrealized(fillPrice)
	l.positions[key] = position
	if err := l.wallet.Reserve(fillPrice * float64(abs64(signed))); err != nil {
		logs.Warnf("reserve capital for %s/%s: %+v", key.symbol, key.strategy, err)
	}
	return position
}

func (l *Ledger) add(position *Position, signed int64, fillPrice float64) {
	oldQty := float64(abs64(position.Quantity))
	addQty := float64(abs64(signed))
	position.AverageEntryPrice = (oldQty*position.AverageEntryPrice + addQty*fillPrice) / (oldQty + addQty)
	position.Quantity += signed
	position.refreshUnrealized(fillPrice)
	if err := l.wallet.Reserve(fillPrice * addQty); err != nil {
		logs.Warnf("reserve capital for %s/%s: %+v", position.Symbol, position.StrategyName, err)
	}
}

// reduce realizes PnL on the closed portion; a sign flip closes the old
// position and opens a residual leg at the fill price.
func (l *Ledger) reduce(key posKey, position *Position, signed int64, fillPrice float64, now time.Time) []*Position {
	closeQty := abs64(signed)
	if held := abs64(position.Quantity); closeQty > held {
		closeQty = held
	}

	realized := (fillPrice - position.AverageEntryPrice) * float64(closeQty)
	if position.Quantity < 0 {
		realized = -realized
	}
	position.RealizedPnl += realized
	l.strategyPnl[position.StrategyName] += realized
	l.wallet.ApplyRealized(realized)
	l.wallet.Release(position.AverageEntryPrice * float64(closeQty))
	l.wallet.MarkTrade()

	remaining := position.Quantity + signed
	dirty := []*Position{position}
	switch {
	case remaining == 0:
		l.close(key, position, fillPrice, now)
	case sameDirection(remaining, position.Quantity):
		position.Quantity = remaining
		position.refreshUnrealized(fillPrice)
	default:
		l.close(key, position, fillPrice, now)
		// The residual leg inherits the exit levels of the position it flipped.
		residual := l.open(key, remaining, fillPrice, now)
		residual.StopLoss = position.StopLoss
		residual.Target = position.Target
		dirty = append(dirty, residual)
	}
	return dirty
}

func (l *Ledger) close(key posKey, position *Position, fillPrice float64, now time.Time) {
	position.Quantity = 0
	position.Status = PositionClosed
	position.ClosedAt = now
	position.refreshUnrealized(fillPrice)
	delete(l.positions, key)
	l.history = append(l.history, position)
}

func (l *Ledger) closingOrder(position *Position, reason string) *execution.Order {
	side := execution.SideSell
	if position.Quantity < 0 {
		side = execution.SideBuy
	}
	return &execution.Order{
		Symbol:         position.Symbol,
		Side:           side,
		Quantity:       abs64(position.Quantity),
		RequestedPrice: position.CurrentPrice,
		StrategyName:   position.StrategyName,
		Reason:         reason,
	}
}

func (l *Ledger) clearExitPending(key posKey) {
	l.mu.Lock()
	if position := l.positions[key]; position != nil {
		position.exitPending = false
	}
	l.mu.Unlock()
}

func (l *Ledger) persist(positions []Position) {
	if l.recorder == nil {
		return
	}
	for i := range positions {
		if err := l.recorder.InsertOrUpdatePosition(context.Background(), &positions[i]); err != nil {
			l.metrics.IncPersistenceError()
			logs.Warnf("persist position %s: %+v", positions[i].ID, err)
		}
	}
}

func sameDirection(a, b int64) bool {
	return (a > 0) == (b > 0)
}
