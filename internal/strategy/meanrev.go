package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"main/internal/market"
)

// meanReversion fades stretched moves: when the last price sits more than
// bandPercent away from the lookback-window mean, trade back toward it.
type meanReversion struct {
	name      string
	symbols   []string
	lookback  int
	band      float64
	stopPct   float64
	targetPct float64
}

func newMeanReversion(cfg Config) *meanReversion {
	return &meanReversion{
		name:      cfg.Name,
		symbols:   cfg.Symbols,
		lookback:  int(cfg.param("lookbackTicks", 50)),
		band:      cfg.param("bandPercent", 0.4),
		stopPct:   cfg.param("stopLossPercent", 0.5),
		targetPct: cfg.param("targetPercent", 0.8),
	}
}

func (m *meanReversion) Name() string      { return m.name }
func (m *meanReversion) Symbols() []string { return m.symbols }

func (m *meanReversion) Evaluate(_ context.Context, snapshot market.Snapshot) (*Signal, error) {
	for _, symbol := range m.symbols {
		ticks := snapshot.Recent(symbol, m.lookback)
		if len(ticks) < m.lookback {
			continue
		}
		var sum float64
		for _, t := range ticks {
			sum += t.LastPrice
		}
		mean := sum / float64(len(ticks))
		last := ticks[len(ticks)-1].LastPrice
		if mean <= 0 {
			continue
		}
		deviationPct := (last - mean) / mean * 100
		if math.Abs(deviationPct) < m.band {
			continue
		}

		// Price stretched above the mean: sell the revert. Below: buy it.
		action := ActionSell
		if deviationPct < 0 {
			action = ActionBuy
		}
		return &Signal{
			StrategyName:   m.name,
			Symbol:         symbol,
			Action:         action,
			Confidence:     clamp01(math.Abs(deviationPct) / (2 * m.band)),
			SuggestedPrice: last,
			StopLoss:       exitLevel(last, m.stopPct, action, false),
			Target:         exitLevel(last, m.targetPct, action, true),
			Reasoning:      fmt.Sprintf("price %.2f%% away from the %d-tick mean", deviationPct, m.lookback),
			GeneratedAt:    time.Now(),
		}, nil
	}
	return nil, nil
}
