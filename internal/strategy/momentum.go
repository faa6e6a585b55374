package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"main/internal/market"
)

// momentum trades in the direction of a short-window price move: when the
// last price has run more than thresholdPercent from the start of the
// lookback window, follow it. Confidence grows with the size of the move.
type momentum struct {
	name      string
	symbols   []string
	lookback  int
	threshold float64
	stopPct   float64
	targetPct float64
}

func newMomentum(cfg Config) *momentum {
	return &momentum{
		name:      cfg.Name,
		symbols:   cfg.Symbols,
		lookback:  int(cfg.param("lookbackTicks", 20)),
		threshold: cfg.param("thresholdPercent", 0.3),
		stopPct:   cfg.param("stopLossPercent", 0.5),
		targetPct: cfg.param("targetPercent", 1.5),
	}
}

func (m *momentum) Name() string      { return m.name }
func (m *momentum) Symbols() []string { return m.symbols }

func (m *momentum) Evaluate(_ context.Context, snapshot market.Snapshot) (*Signal, error) {
	for _, symbol := range m.symbols {
		ticks := snapshot.Recent(symbol, m.lookback)
		if len(ticks) < m.lookback {
			continue
		}
		first := ticks[0].LastPrice
		last := ticks[len(ticks)-1].LastPrice
		if first <= 0 {
			continue
		}
		movePct := (last - first) / first * 100
		if math.Abs(movePct) < m.threshold {
			continue
		}

		action := ActionBuy
		if movePct < 0 {
			action = ActionSell
		}
		return &Signal{
			StrategyName:   m.name,
			Symbol:         symbol,
			Action:         action,
			Confidence:     clamp01(math.Abs(movePct) / (2 * m.threshold)),
			SuggestedPrice: last,
			StopLoss:       exitLevel(last, m.stopPct, action, false),
			Target:         exitLevel(last, m.targetPct, action, true),
			Reasoning:      fmt.Sprintf("price moved %.2f%% over %d ticks", movePct, m.lookback),
			GeneratedAt:    time.Now(),
		}, nil
	}
	return nil, nil
}

// exitLevel places a stop or target pct away from the entry, on the losing
// or winning side of the trade direction.
func exitLevel(entry, pct float64, action Action, favorable bool) float64 {
	if pct <= 0 {
		return 0
	}
	offset := entry * pct / 100
	up := action == ActionBuy
	if !favorable {
		up = !up
	}
	if up {
		return entry + offset
	}
	return entry - offset
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
