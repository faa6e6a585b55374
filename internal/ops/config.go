package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/execution"
	"main/internal/market"
	"main/internal/strategy"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Mode       string            `json:"mode"`
	Account    AccountConfig     `json:"account"`
	Feed       FeedConfig        `json:"feed"`
	Session    SessionConfig     `json:"session"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	Execution  ExecutionConfig   `json:"execution"`
	Positions  PositionsConfig   `json:"positions"`
	Symbols    []SymbolConfig    `json:"symbols"`
	Store      StoreConfig       `json:"store"`
	Strategies []strategy.Config `json:"strategies"`
}

// AccountConfig defines the trading account and its risk limits.
type AccountConfig struct {
	ID                  string  `json:"id"`
	StartCapital        float64 `json:"startCapital"`
	MaxDailyLossPercent float64 `json:"maxDailyLossPercent"`
	RiskPerTradePercent float64 `json:"riskPerTradePercent"`
}

// FeedConfig defines the market data stream endpoint and reconnect policy.
type FeedConfig struct {
	URL                string `json:"url"`
	BackoffBaseSeconds int    `json:"backoffBaseSeconds"`
	BackoffMaxSeconds  int    `json:"backoffMaxSeconds"`
	MaxAttempts        int    `json:"maxAttempts"`
	ReadTimeoutSeconds int    `json:"readTimeoutSeconds"`
	ConsumerBuffer     int    `json:"consumerBuffer"`
}

// SessionConfig defines the venue trading hours.
type SessionConfig struct {
	MIC                  string `json:"mic"`
	Timezone             string `json:"timezone"`
	OpenHour             int    `json:"openHour"`
	OpenMinute           int    `json:"openMinute"`
	CloseHour            int    `json:"closeHour"`
	CloseMinute          int    `json:"closeMinute"`
	SquareOffLeadMinutes int    `json:"squareOffLeadMinutes"`
}

// SchedulerConfig defines the signal gates and scan cadence. Confidence is
// normalized to [0, 1].
type SchedulerConfig struct {
	MinConfidence             float64 `json:"minConfidence"`
	MaxSignalsPerSecond       int     `json:"maxSignalsPerSecond"`
	ScanIntervalSeconds       int     `json:"scanIntervalSeconds"`
	OffSessionIntervalSeconds int     `json:"offSessionIntervalSeconds"`
	ManageIntervalSeconds     int     `json:"manageIntervalSeconds"`
	RiskCheckIntervalSeconds  int     `json:"riskCheckIntervalSeconds"`
}

// ExecutionConfig defines order routing behavior.
type ExecutionConfig struct {
	BrokerURL            string  `json:"brokerUrl"`
	SlippageBps          float64 `json:"slippageBps"`
	BrokerTimeoutSeconds int     `json:"brokerTimeoutSeconds"`
	NetworkRetries       int     `json:"networkRetries"`
}

// PositionsConfig defines position management limits.
type PositionsConfig struct {
	MaxHoldMinutes int `json:"maxHoldMinutes"`
}

// SymbolConfig describes one tradable instrument.
type SymbolConfig struct {
	Name    string `json:"name"`
	LotSize int64  `json:"lotSize"`
}

// StoreConfig defines the optional PostgreSQL persistence target.
type StoreConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Mode       execution.Mode
	Account    AccountConfig
	Feed       market.FeedConfig
	Session    market.SessionConfig
	Scheduler  strategy.SchedulerConfig
	Router     execution.RouterConfig
	BrokerURL  string
	Intervals  Intervals
	MaxHold    time.Duration
	Symbols    []string
	Lots       map[string]int64
	Store      StoreConfig
	Strategies []strategy.Config
}

// Intervals are the periods of the engine's background loops.
type Intervals struct {
	Scan       time.Duration
	OffSession time.Duration
	Manage     time.Duration
	RiskCheck  time.Duration
}

// ConnOption maps the store section onto a database connection option.
func (c StoreConfig) ConnOption() conn.Option {
	return conn.Option{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
		SSLMode:  c.SSLMode,
	}
}

// Load reads a JSON config file, validates it and applies defaults.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	mode, err := resolveMode(cfg.Mode)
	if err != nil {
		return Loaded{}, err
	}
	if err := validateAccount(cfg.Account); err != nil {
		return Loaded{}, err
	}
	if cfg.Feed.URL == "" {
		return Loaded{}, fmt.Errorf("feed url is empty")
	}
	if mode == execution.ModeLive && cfg.Execution.BrokerURL == "" {
		return Loaded{}, fmt.Errorf("live mode requires execution.brokerUrl")
	}
	if len(cfg.Symbols) == 0 {
		return Loaded{}, fmt.Errorf("no symbols configured")
	}

	lots := make(map[string]int64, len(cfg.Symbols))
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if sym.Name == "" {
			return Loaded{}, fmt.Errorf("symbol name is empty")
		}
		if sym.LotSize <= 0 {
			return Loaded{}, fmt.Errorf("lot size must be > 0 for %s", sym.Name)
		}
		symbols = append(symbols, sym.Name)
		lots[sym.Name] = sym.LotSize
	}

	for _, sc := range cfg.Strategies {
		if _, err := strategy.New(sc); err != nil {
			return Loaded{}, err
		}
	}

	return Loaded{
		Mode:    mode,
		Account: cfg.Account,
		Feed: market.FeedConfig{
			URL: cfg.Feed.URL,
			Backoff: market.Backoff{
				Base:   secondsOr(cfg.Feed.BackoffBaseSeconds, 2*time.Second),
				Max:    secondsOr(cfg.Feed.BackoffMaxSeconds, 30*time.Second),
				Jitter: market.DefaultBackoff().Jitter,
			},
			MaxAttempts:    intOr(cfg.Feed.MaxAttempts, 5),
			ReadTimeout:    secondsOr(cfg.Feed.ReadTimeoutSeconds, 30*time.Second),
			ConsumerBuffer: cfg.Feed.ConsumerBuffer,
		},
		Session: market.SessionConfig{
			MIC:           cfg.Session.MIC,
			Timezone:      cfg.Session.Timezone,
			OpenHour:      cfg.Session.OpenHour,
			OpenMinute:    cfg.Session.OpenMinute,
			CloseHour:     cfg.Session.CloseHour,
			CloseMinute:   cfg.Session.CloseMinute,
			SquareOffLead: time.Duration(cfg.Session.SquareOffLeadMinutes) * time.Minute,
		},
		Scheduler: strategy.SchedulerConfig{
			MinConfidence:       floatOr(cfg.Scheduler.MinConfidence, 0.65),
			MaxSignalsPerSecond: intOr(cfg.Scheduler.MaxSignalsPerSecond, 7),
		},
		BrokerURL: cfg.Execution.BrokerURL,
		Router: execution.RouterConfig{
			Mode:           mode,
			SlippageBps:    cfg.Execution.SlippageBps,
			BrokerTimeout:  secondsOr(cfg.Execution.BrokerTimeoutSeconds, 15*time.Second),
			NetworkRetries: cfg.Execution.NetworkRetries,
		},
		Intervals: Intervals{
			Scan:       secondsOr(cfg.Scheduler.ScanIntervalSeconds, 5*time.Second),
			OffSession: secondsOr(cfg.Scheduler.OffSessionIntervalSeconds, time.Minute),
			Manage:     secondsOr(cfg.Scheduler.ManageIntervalSeconds, 2*time.Second),
			RiskCheck:  secondsOr(cfg.Scheduler.RiskCheckIntervalSeconds, 2*time.Second),
		},
		MaxHold:    time.Duration(cfg.Positions.MaxHoldMinutes) * time.Minute,
		Symbols:    symbols,
		Lots:       lots,
		Store:      cfg.Store,
		Strategies: cfg.Strategies,
	}, nil
}

func resolveMode(mode string) (execution.Mode, error) {
	switch mode {
	case "", "paper":
		return execution.ModePaper, nil
	case "live":
		return execution.ModeLive, nil
	default:
		return execution.ModePaper, fmt.Errorf("unknown mode %q", mode)
	}
}

func validateAccount(cfg AccountConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("account id is empty")
	}
	if cfg.StartCapital <= 0 {
		return fmt.Errorf("start capital must be > 0")
	}
	if cfg.MaxDailyLossPercent <= 0 || cfg.MaxDailyLossPercent >= 1 {
		return fmt.Errorf("max daily loss percent must be in (0, 1)")
	}
	if cfg.RiskPerTradePercent <= 0 || cfg.RiskPerTradePercent >= 1 {
		return fmt.Errorf("risk per trade percent must be in (0, 1)")
	}
	return nil
}

func secondsOr(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}

func intOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func floatOr(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}
	return value
}
