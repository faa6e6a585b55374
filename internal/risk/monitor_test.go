package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"main/internal/ledger"
)

type fakeSquarer struct {
	calls   int
	reasons []string
}

func (s *fakeSquarer) CloseAll(_ context.Context, reason string) {
	s.calls++
	s.reasons = append(s.reasons, reason)
}

func TestMonitorBreachLatches(t *testing.T) {
	wallet := ledger.NewWallet("acct-1", 100000, 0.02, 0.02)
	squarer := &fakeSquarer{}
	monitor := NewMonitor(wallet, squarer)

	assert.True(t, monitor.TradingAllowed())

	wallet.ApplyRealized(-1999)
	monitor.Observe(t.Context())
	assert.True(t, monitor.TradingAllowed(), "loss below limit keeps trading on")
	assert.Zero(t, squarer.calls)

	wallet.ApplyRealized(-1)
	monitor.Observe(t.Context())
	assert.False(t, monitor.TradingAllowed())
	assert.Equal(t, 1, squarer.calls)
	assert.Equal(t, []string{ledger.ReasonDailyStopLoss}, squarer.reasons)
	assert.Equal(t, ledger.WalletEmergencyStopped, wallet.Status())

	// The latch holds: repeated observation and even a recovering PnL do not
	// square off again or re-enable trading.
	wallet.ApplyRealized(5000)
	monitor.Observe(t.Context())
	assert.False(t, monitor.TradingAllowed())
	assert.Equal(t, 1, squarer.calls)
}

func TestMonitorResume(t *testing.T) {
	wallet := ledger.NewWallet("acct-1", 100000, 0.02, 0.02)
	monitor := NewMonitor(wallet, &fakeSquarer{})

	wallet.ApplyRealized(-2000)
	monitor.Observe(t.Context())
	assert.False(t, monitor.TradingAllowed())

	monitor.Resume()
	assert.True(t, monitor.TradingAllowed())
	assert.Equal(t, ledger.WalletActive, wallet.Status())
}

func TestMonitorEmergencyStop(t *testing.T) {
	wallet := ledger.NewWallet("acct-1", 100000, 0.02, 0.02)
	squarer := &fakeSquarer{}
	monitor := NewMonitor(wallet, squarer)

	monitor.EmergencyStop(t.Context())
	assert.False(t, monitor.TradingAllowed())
	assert.Equal(t, []string{ledger.ReasonEmergencyStop}, squarer.reasons)

	// Idempotent while latched.
	monitor.EmergencyStop(t.Context())
	assert.Equal(t, 1, squarer.calls)
}
