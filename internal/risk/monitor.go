package risk

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/ledger"
)

// Squarer closes all open positions with a reason. Satisfied by
// ledger.Ledger.
type Squarer interface {
	CloseAll(ctx context.Context, reason string)
}

// Monitor watches aggregate daily PnL and gates new signals. Once the daily
// loss limit is breached the halt latches until an explicit Resume; it never
// self-clears at a session boundary.
type Monitor struct {
	wallet  *ledger.Wallet
	squarer Squarer
	halted  atomic.Bool
}

// NewMonitor builds a monitor over the wallet.
func NewMonitor(wallet *ledger.Wallet, squarer Squarer) *Monitor {
	return &Monitor{wallet: wallet, squarer: squarer}
}

// TradingAllowed reports whether the scheduler may emit new orders. Checked
// on every signal, so an emergency stop takes effect mid-scan.
func (m *Monitor) TradingAllowed() bool {
	return !m.halted.Load()
}

// Observe checks the daily loss limit and squares off everything on breach.
func (m *Monitor) Observe(ctx context.Context) {
	if m.halted.Load() {
		return
	}
	view := m.wallet.Snapshot()
	limit := view.StartCapital * view.MaxDailyLossPercent
	if limit <= 0 {
		return
	}
	if view.DailyPnl <= -limit {
		if m.halted.CompareAndSwap(false, true) {
			logs.Errorf("daily loss limit breached: pnl %.2f, limit -%.2f", view.DailyPnl, limit)
			m.wallet.SetStatus(ledger.WalletEmergencyStopped)
			m.squarer.CloseAll(ctx, ledger.ReasonDailyStopLoss)
		}
	}
}

// EmergencyStop halts trading and squares off everything. Externally
// triggered, identical in effect to a daily-loss breach.
func (m *Monitor) EmergencyStop(ctx context.Context) {
	if m.halted.CompareAndSwap(false, true) {
		logs.Error("emergency stop triggered")
		m.wallet.SetStatus(ledger.WalletEmergencyStopped)
		m.squarer.CloseAll(ctx, ledger.ReasonEmergencyStop)
	}
}

// Resume lifts the halt. Manual by design: a breach forces human review.
func (m *Monitor) Resume() {
	if m.halted.CompareAndSwap(true, false) {
		m.wallet.SetStatus(ledger.WalletActive)
		logs.Info("trading resumed")
	}
}
