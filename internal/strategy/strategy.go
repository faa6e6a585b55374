package strategy

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/market"
)

// Action is the trade direction a signal proposes.
type Action uint8

const (
	ActionBuy Action = iota + 1
	ActionSell
)

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Signal is a trade proposal emitted by a strategy. Confidence is in [0, 1];
// StopLoss and Target are absolute prices, 0 disables the level.
type Signal struct {
	StrategyName   string
	Symbol         string
	Action         Action
	Confidence     float64
	SuggestedPrice float64
	StopLoss       float64
	Target         float64
	Reasoning      string
	GeneratedAt    time.Time
}

// Strategy evaluates cached market data and may emit a signal. Evaluate
// must be fast and side-effect free; it runs on the scheduler goroutine.
type Strategy interface {
	Name() string
	Symbols() []string
	Evaluate(ctx context.Context, snapshot market.Snapshot) (*Signal, error)
}

// Config declares one strategy instance from the engine config file.
type Config struct {
	Name              string             `json:"name"`
	Type              string             `json:"type"`
	Enabled           bool               `json:"enabled"`
	Symbols           []string           `json:"symbols"`
	AllocationPercent float64            `json:"allocationPercent"`
	CooldownSeconds   int                `json:"cooldownSeconds"`
	Parameters        map[string]float64 `json:"parameters"`
}

// Cooldown returns the minimum spacing between signal attempts.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c Config) param(key string, fallback float64) float64 {
	if v, ok := c.Parameters[key]; ok {
		return v
	}
	return fallback
}

// New builds a strategy instance from its config. Strategy types are a
// closed set; unknown types are a config error.
func New(cfg Config) (Strategy, error) {
	if cfg.Name == "" {
		return nil, errors.New("strategy name is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.Errorf("strategy %s: no symbols", cfg.Name)
	}
	switch cfg.Type {
	case "momentum":
		return newMomentum(cfg), nil
	case "mean_reversion":
		return newMeanReversion(cfg), nil
	default:
		return nil, errors.Errorf("unknown strategy type %q", cfg.Type)
	}
}
