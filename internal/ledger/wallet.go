package ledger

import (
	"errors"
	"sync"
)

var ErrCapitalExceeded = errors.New("ledger: used capital would exceed start capital")

// WalletStatus gates whether the account may trade.
type WalletStatus uint8

const (
	WalletActive WalletStatus = iota
	WalletEmergencyStopped
)

func (s WalletStatus) String() string {
	if s == WalletEmergencyStopped {
		return "EMERGENCY_STOPPED"
	}
	return "ACTIVE"
}

// WalletView is an immutable copy of the account wallet.
type WalletView struct {
	AccountID           string
	StartCapital        float64
	UsedCapital         float64
	DailyPnl            float64
	MaxDailyLossPercent float64
	RiskPerTradePercent float64
	TradesToday         int
	Status              WalletStatus
}

// Wallet tracks account capital and daily PnL. Mutated only by the ledger
// and the risk monitor; everyone else reads snapshots.
type Wallet struct {
	mu   sync.Mutex
	view WalletView
}

// NewWallet creates an active wallet with the given capital and limits.
func NewWallet(accountID string, startCapital, maxDailyLossPct, riskPerTradePct float64) *Wallet {
	return &Wallet{view: WalletView{
		AccountID:           accountID,
		StartCapital:        startCapital,
		MaxDailyLossPercent: maxDailyLossPct,
		RiskPerTradePercent: riskPerTradePct,
		Status:              WalletActive,
	}}
}

// Snapshot returns a copy of the wallet.
func (w *Wallet) Snapshot() WalletView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

// Reserve marks capital as used. UsedCapital never exceeds StartCapital.
func (w *Wallet) Reserve(amount float64) error {
	if amount <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view.UsedCapital+amount > w.view.StartCapital {
		return ErrCapitalExceeded
	}
	w.view.UsedCapital += amount
	return nil
}

// Release frees previously reserved capital.
func (w *Wallet) Release(amount float64) {
	if amount <= 0 {
		return
	}
	w.mu.Lock()
	w.view.UsedCapital -= amount
	if w.view.UsedCapital < 0 {
		w.view.UsedCapital = 0
	}
	w.mu.Unlock()
}

// ApplyRealized adds realized PnL to the daily total.
func (w *Wallet) ApplyRealized(pnl float64) {
	w.mu.Lock()
	w.view.DailyPnl += pnl
	w.mu.Unlock()
}

// MarkTrade increments the daily trade counter.
func (w *Wallet) MarkTrade() {
	w.mu.Lock()
	w.view.TradesToday++
	w.mu.Unlock()
}

// SetStatus switches the wallet between active and emergency-stopped.
func (w *Wallet) SetStatus(status WalletStatus) {
	w.mu.Lock()
	w.view.Status = status
	w.mu.Unlock()
}

// Status returns the current wallet status.
func (w *Wallet) Status() WalletStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view.Status
}
