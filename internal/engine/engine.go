package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/execution"
	"main/internal/ledger"
	"main/internal/market"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/store"
	"main/internal/strategy"
)

var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrNotRunning     = errors.New("engine: not running")
	ErrLiveNoBroker   = errors.New("engine: live mode requires a broker")
)

// Status is a point-in-time operational view of the engine.
type Status struct {
	Mode           execution.Mode
	Feed           market.ConnState
	SessionOpen    bool
	TradingAllowed bool
	OpenPositions  int
	LastHeartbeat  time.Time
	Wallet         ledger.WalletView
	Metrics        obs.Snapshot
}

// Engine is the composition root. It owns the feed, the cache, the
// scheduler, the ledger and the risk monitor, and drives them with four
// background loops: strategy scan, position manage, risk observe and a
// periodic metrics report.
type Engine struct {
	cfg       ops.Loaded
	metrics   *obs.Metrics
	cache     *market.TickCache
	feed      *market.Feed
	clock     *market.SessionClock
	wallet    *ledger.Wallet
	router    *execution.Router
	books     *ledger.Ledger
	monitor   *risk.Monitor
	scheduler *strategy.Scheduler
	store     store.Store

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires the engine from resolved config. broker may be nil for paper
// mode; st must not be nil (use store.Nop when persistence is disabled).
func New(cfg ops.Loaded, creds ops.Credentials, broker execution.Broker, st store.Store) (*Engine, error) {
	if cfg.Mode == execution.ModeLive && broker == nil {
		return nil, ErrLiveNoBroker
	}
	if st == nil {
		st = store.Nop{}
	}

	feedCfg := cfg.Feed
	feedCfg.Username = creds.FeedUsername
	feedCfg.Password = creds.FeedPassword
	feedCfg.APIKey = creds.FeedAPIKey

	metrics := obs.NewMetrics()
	cache := market.NewTickCache(0)
	feed := market.NewFeed(feedCfg, market.NewDialer(feedCfg.URL), cache)
	clock := market.NewSessionClock(cfg.Session)
	wallet := ledger.NewWallet(cfg.Account.ID, cfg.Account.StartCapital, cfg.Account.MaxDailyLossPercent, cfg.Account.RiskPerTradePercent)
	router := execution.NewRouter(cfg.Router, broker, cache)
	books := ledger.NewLedger(wallet, router, clock, st, metrics, cfg.MaxHold)
	monitor := risk.NewMonitor(wallet, books)
	scheduler := strategy.NewScheduler(cfg.Scheduler, cache, clock, monitor, wallet, router, books, st, metrics, cfg.Lots)

	for _, sc := range cfg.Strategies {
		strat, err := strategy.New(sc)
		if err != nil {
			return nil, err
		}
		scheduler.Register(strat, sc.Cooldown(), sc.Enabled)
	}

	e := &Engine{
		cfg:       cfg,
		metrics:   metrics,
		cache:     cache,
		feed:      feed,
		clock:     clock,
		wallet:    wallet,
		router:    router,
		books:     books,
		monitor:   monitor,
		scheduler: scheduler,
		store:     st,
	}

	feed.OnTick(func(market.Tick) { metrics.IncTick() })
	feed.OnStatusChange(func(connected bool, err error) {
		if connected {
			metrics.IncReconnect()
			logs.Info("market data feed streaming")
			return
		}
		logs.Warnf("market data feed down: %+v", err)
	})
	router.OnAuthDegraded(func() {
		logs.Error("broker session degraded, routing to paper until reauthentication")
	})
	return e, nil
}

// Start recovers persisted positions, connects the feed and launches the
// background loops. Returns once the engine is running.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	positions, err := e.store.FetchOpenPositions(ctx, e.cfg.Account.ID)
	if err != nil {
		logs.Warnf("recover open positions: %+v", err)
	} else if len(positions) > 0 {
		e.books.Restore(positions)
	}

	if e.cfg.Mode == execution.ModeLive {
		if err := e.router.Reauthenticate(ctx); err != nil {
			e.running.Store(false)
			return err
		}
	}

	if err := e.feed.Subscribe(e.cfg.Symbols); err != nil {
		e.running.Store(false)
		return err
	}
	if err := e.feed.Connect(ctx); err != nil {
		e.running.Store(false)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(4)
	go e.scanLoop(loopCtx)
	go e.manageLoop(loopCtx)
	go e.riskLoop(loopCtx)
	go e.reportLoop(loopCtx)

	logs.Infof("engine started: mode %s, %d symbols, %d strategies",
		e.cfg.Mode, len(e.cfg.Symbols), len(e.cfg.Strategies))
	return nil
}

// Stop halts the loops and the feed. With emergency set it squares off all
// open positions first and latches the trading halt.
func (e *Engine) Stop(ctx context.Context, emergency bool) error {
	if !e.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	if emergency {
		e.monitor.EmergencyStop(ctx)
	}
	e.cancel()
	e.wg.Wait()
	e.feed.Shutdown()
	logs.Info("engine stopped")
	return nil
}

// EmergencyStop squares off everything and halts new signals. The engine
// keeps running so Resume can lift the halt.
func (e *Engine) EmergencyStop(ctx context.Context) {
	e.monitor.EmergencyStop(ctx)
}

// Resume lifts a trading halt after manual review.
func (e *Engine) Resume() {
	e.monitor.Resume()
}

// Status reports the engine's operational state.
func (e *Engine) Status() Status {
	now := time.Now()
	return Status{
		Mode:           e.router.Mode(),
		Feed:           e.feed.Status(),
		SessionOpen:    e.clock.IsOpen(now),
		TradingAllowed: e.monitor.TradingAllowed(),
		OpenPositions:  e.books.OpenCount(),
		LastHeartbeat:  e.feed.LastHeartbeat(),
		Wallet:         e.wallet.Snapshot(),
		Metrics:        e.metrics.Snapshot(),
	}
}

// GetActivePositions returns copies of all open positions.
func (e *Engine) GetActivePositions() []ledger.Position {
	return e.books.Open()
}

// GetStrategyMetrics returns per-strategy activity including realized PnL.
func (e *Engine) GetStrategyMetrics() []strategy.StrategyMetrics {
	return e.scheduler.Metrics(e.books.StrategyPnl())
}

// ToggleStrategy enables or disables a registered strategy at runtime.
func (e *Engine) ToggleStrategy(name string, enabled bool) bool {
	return e.scheduler.Toggle(name, enabled)
}

// SubscribeSymbols adds live subscriptions on the running feed.
func (e *Engine) SubscribeSymbols(symbols []string) error {
	return e.feed.Subscribe(symbols)
}

// UnsubscribeSymbols drops live subscriptions on the running feed.
func (e *Engine) UnsubscribeSymbols(symbols []string) error {
	return e.feed.Unsubscribe(symbols)
}

// scanLoop drives strategy evaluation. It slows down outside trading hours
// so an idle overnight engine does near zero work.
func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()
	timer := time.NewTimer(e.scanInterval(time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case now := <-timer.C:
			e.scheduler.Scan(ctx, now)
			timer.Reset(e.scanInterval(now))
		}
	}
}

func (e *Engine) scanInterval(now time.Time) time.Duration {
	if e.clock.IsOpen(now) {
		return e.cfg.Intervals.Scan
	}
	return e.cfg.Intervals.OffSession
}

func (e *Engine) manageLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Intervals.Manage)
	defer ticker.Stop()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.books.ManagePositions(ctx, now, e.cache)
		}
	}
}

func (e *Engine) riskLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Intervals.RiskCheck)
	defer ticker.Stop()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.monitor.Observe(ctx)
			e.retryReauth(ctx)
		}
	}
}

// retryReauth attempts to restore a degraded live broker session. Failures
// keep the router on paper until the next tick.
func (e *Engine) retryReauth(ctx context.Context) {
	if e.cfg.Mode != execution.ModeLive || !e.router.Degraded() {
		return
	}
	if err := e.router.Reauthenticate(ctx); err != nil {
		logs.Warnf("broker reauthentication failed, staying on paper: %+v", err)
	}
}

// reportLoop logs a one-line operational summary once a minute.
func (e *Engine) reportLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := e.Status()
			logs.Infof("status: mode=%s feed=%s session=%t halted=%t positions=%d ticks=%d signals=%d/%d fills=%d pnl=%.2f",
				s.Mode, s.Feed, s.SessionOpen, !s.TradingAllowed, s.OpenPositions,
				s.Metrics.TicksIngested, s.Metrics.SignalsAccepted, s.Metrics.SignalsEmitted,
				s.Metrics.OrdersFilled, s.Wallet.DailyPnl)
		}
	}
}
