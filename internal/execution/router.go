package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/market"
	"main/internal/obs"
)

var (
	ErrInvalidOrder  = errors.New("execution: invalid order")
	ErrNoMarketPrice = errors.New("execution: no market price for symbol")
	ErrDegraded      = errors.New("execution: broker session degraded")
)

// Mode selects the execution backend.
type Mode uint8

const (
	ModePaper Mode = iota
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "LIVE"
	}
	return "PAPER"
}

// RouterConfig defines router behavior.
type RouterConfig struct {
	Mode           Mode
	SlippageBps    float64
	BrokerTimeout  time.Duration
	NetworkRetries int
}

// Router submits orders to the broker (live) or fills them deterministically
// against the tick cache (paper), normalizing both into one Order lifecycle.
type Router struct {
	cfg        RouterConfig
	broker     Broker
	cache      *market.TickCache
	degraded   atomic.Bool
	onDegraded func()
	ids        *obs.IDGenerator
}

// NewRouter builds a router. broker may be nil in paper mode.
func NewRouter(cfg RouterConfig, broker Broker, cache *market.TickCache) *Router {
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 15 * time.Second
	}
	return &Router{cfg: cfg, broker: broker, cache: cache, ids: obs.NewIDGenerator("ord", 0)}
}

// OnAuthDegraded registers the callback invoked once when a broker token
// error flips future orders to paper. Register before the loops start.
func (r *Router) OnAuthDegraded(fn func()) {
	r.onDegraded = fn
}

// Degraded reports whether the broker session is marked invalid.
func (r *Router) Degraded() bool {
	return r.degraded.Load()
}

// Mode returns the effective execution mode for the next order.
func (r *Router) Mode() Mode {
	if r.cfg.Mode == ModeLive && !r.degraded.Load() {
		return ModeLive
	}
	return ModePaper
}

// Reauthenticate restores the live broker session after a token error.
func (r *Router) Reauthenticate(ctx context.Context) error {
	if r.broker == nil {
		return ErrDegraded
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.BrokerTimeout)
	defer cancel()
	if err := r.broker.Authenticate(callCtx); err != nil {
		return err
	}
	r.degraded.Store(false)
	logs.Info("broker session restored, resuming live execution")
	return nil
}

// Execute submits one order and returns it in a terminal state. The returned
// error carries the broker failure taxonomy; callers log and skip, the
// process never dies on a broker error.
func (r *Router) Execute(ctx context.Context, order *Order) (*Order, error) {
	if order == nil || order.Symbol == "" || order.Quantity <= 0 || order.Status.Terminal() {
		return nil, ErrInvalidOrder
	}
	if order.ID == "" {
		order.ID = r.ids.Next()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	order.Status = StatusSubmitted

	if r.Mode() == ModePaper {
		return r.fillPaper(order)
	}
	return r.placeLive(ctx, order)
}

// fillPaper fills at the current cache price moved against the trader by the
// configured slippage.
func (r *Router) fillPaper(order *Order) (*Order, error) {
	price := order.RequestedPrice
	if tick, ok := r.cache.Latest(order.Symbol); ok {
		price = tick.LastPrice
	}
	if price <= 0 {
		order.Status = StatusRejected
		order.Reason = "no market price"
		return order, ErrNoMarketPrice
	}
	slip := price * r.cfg.SlippageBps / 10000
	if order.Side == SideBuy {
		price += slip
	} else {
		price -= slip
	}
	order.AverageFillPrice = price
	order.Status = StatusFilled
	order.ClosedAt = time.Now()
	return order, nil
}

func (r *Router) placeLive(ctx context.Context, order *Order) (*Order, error) {
	spec := OrderSpec{
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    order.RequestedPrice,
		Tag:      order.Reason,
	}

	var lastErr error
	attempts := r.cfg.NetworkRetries + 1
	for i := 0; i < attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.BrokerTimeout)
		brokerID, err := r.broker.PlaceOrder(callCtx, spec)
		cancel()
		if err == nil {
			if brokerID != "" {
				order.ID = brokerID
			}
			price := order.RequestedPrice
			if tick, ok := r.cache.Latest(order.Symbol); ok {
				price = tick.LastPrice
			}
			order.AverageFillPrice = price
			order.Status = StatusFilled
			order.ClosedAt = time.Now()
			return order, nil
		}

		var brokerErr *Error
		if errors.As(err, &brokerErr) {
			switch brokerErr.Kind {
			case KindToken:
				if r.degraded.CompareAndSwap(false, true) {
					logs.Errorf("broker token rejected, degrading to paper execution: %v", err)
					if r.onDegraded != nil {
						r.onDegraded()
					}
				}
				order.Status = StatusRejected
				order.Reason = "broker session degraded"
				return order, err
			case KindAPI:
				order.Status = StatusRejected
				order.Reason = brokerErr.Msg
				return order, err
			case KindNetwork:
				lastErr = err
				continue
			}
		}
		// Timeouts and unclassified transport failures are retryable.
		lastErr = err
	}

	order.Status = StatusRejected
	order.Reason = "broker unreachable"
	return order, NetworkError(lastErr)
}

// Cancel forwards a cancel request to the live broker. Paper orders fill
// immediately, so there is nothing to cancel.
func (r *Router) Cancel(ctx context.Context, orderID string) error {
	if r.Mode() == ModePaper {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.BrokerTimeout)
	defer cancel()
	return r.broker.CancelOrder(callCtx, orderID)
}
