package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/market"
)

type fakeBroker struct {
	mu        sync.Mutex
	placeErrs []error
	placed    []OrderSpec
	authCalls int
	authErr   error
	cancelled []string
	nextID    int
}

func (b *fakeBroker) Authenticate(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authCalls++
	return b.authErr
}

func (b *fakeBroker) PlaceOrder(_ context.Context, spec OrderSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, spec)
	if len(b.placeErrs) > 0 {
		err := b.placeErrs[0]
		b.placeErrs = b.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	b.nextID++
	return fmt.Sprintf("brk-%d", b.nextID), nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	return nil
}

func (b *fakeBroker) GetPositions(context.Context) ([]BrokerPosition, error) {
	return nil, nil
}

func cacheWith(symbol string, price float64) *market.TickCache {
	cache := market.NewTickCache(4)
	cache.Put(market.Tick{Symbol: symbol, LastPrice: price})
	return cache
}

func TestPaperFillAppliesSlippage(t *testing.T) {
	cache := cacheWith("NIFTY", 18000)
	router := NewRouter(RouterConfig{Mode: ModePaper, SlippageBps: 5}, nil, cache)

	buy, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 50})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, buy.Status)
	assert.InDelta(t, 18009.0, buy.AverageFillPrice, 1e-9, "buys fill above market")
	assert.NotEmpty(t, buy.ID)

	sell, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideSell, Quantity: 50})
	require.NoError(t, err)
	assert.InDelta(t, 17991.0, sell.AverageFillPrice, 1e-9, "sells fill below market")
}

func TestPaperFillWithoutMarketPrice(t *testing.T) {
	router := NewRouter(RouterConfig{Mode: ModePaper}, nil, market.NewTickCache(4))

	order, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 1})
	require.ErrorIs(t, err, ErrNoMarketPrice)
	assert.Equal(t, StatusRejected, order.Status)
}

func TestExecuteValidation(t *testing.T) {
	router := NewRouter(RouterConfig{}, nil, market.NewTickCache(4))

	_, err := router.Execute(t.Context(), nil)
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = router.Execute(t.Context(), &Order{Symbol: "NIFTY", Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = router.Execute(t.Context(), &Order{Quantity: 5})
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestLiveFillUsesBrokerID(t *testing.T) {
	broker := &fakeBroker{}
	cache := cacheWith("NIFTY", 18000)
	router := NewRouter(RouterConfig{Mode: ModeLive, BrokerTimeout: time.Second}, broker, cache)

	order, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 50, RequestedPrice: 18000})
	require.NoError(t, err)
	assert.Equal(t, "brk-1", order.ID)
	assert.Equal(t, StatusFilled, order.Status)
	assert.Equal(t, ModeLive, router.Mode())
}

func TestTokenErrorDegradesToPaper(t *testing.T) {
	broker := &fakeBroker{placeErrs: []error{TokenError(fmt.Errorf("expired"))}}
	cache := cacheWith("NIFTY", 18000)
	router := NewRouter(RouterConfig{Mode: ModeLive, BrokerTimeout: time.Second}, broker, cache)

	degraded := 0
	router.OnAuthDegraded(func() { degraded++ })

	order, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 50})
	require.Error(t, err)
	assert.Equal(t, StatusRejected, order.Status)
	assert.True(t, router.Degraded())
	assert.Equal(t, 1, degraded)
	assert.Equal(t, ModePaper, router.Mode(), "effective mode flips to paper")

	// Subsequent orders fill on paper without touching the broker.
	next, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 50})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, next.Status)
	broker.mu.Lock()
	placedCount := len(broker.placed)
	broker.mu.Unlock()
	assert.Equal(t, 1, placedCount)

	// Reauthentication restores live routing.
	require.NoError(t, router.Reauthenticate(t.Context()))
	assert.False(t, router.Degraded())
	assert.Equal(t, ModeLive, router.Mode())
}

func TestAPIErrorRejectsWithoutDegrade(t *testing.T) {
	broker := &fakeBroker{placeErrs: []error{APIError(1041, "insufficient margin")}}
	router := NewRouter(RouterConfig{Mode: ModeLive, BrokerTimeout: time.Second}, broker, cacheWith("NIFTY", 18000))

	order, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 50})
	require.Error(t, err)
	assert.Equal(t, StatusRejected, order.Status)
	assert.Equal(t, "insufficient margin", order.Reason)
	assert.False(t, router.Degraded(), "api rejections keep the session live")
	assert.Equal(t, ModeLive, router.Mode())
}

func TestNetworkErrorRetriesThenFails(t *testing.T) {
	broker := &fakeBroker{placeErrs: []error{
		NetworkError(fmt.Errorf("timeout 1")),
		NetworkError(fmt.Errorf("timeout 2")),
		NetworkError(fmt.Errorf("timeout 3")),
	}}
	router := NewRouter(RouterConfig{Mode: ModeLive, BrokerTimeout: time.Second, NetworkRetries: 2}, broker, cacheWith("NIFTY", 18000))

	order, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 50})
	require.Error(t, err)
	assert.Equal(t, StatusRejected, order.Status)
	assert.Equal(t, "broker unreachable", order.Reason)
	broker.mu.Lock()
	placedCount := len(broker.placed)
	broker.mu.Unlock()
	assert.Equal(t, 3, placedCount, "retries + 1 attempts")
}

func TestNetworkErrorRecoversMidRetry(t *testing.T) {
	broker := &fakeBroker{placeErrs: []error{NetworkError(fmt.Errorf("blip")), nil}}
	router := NewRouter(RouterConfig{Mode: ModeLive, BrokerTimeout: time.Second, NetworkRetries: 2}, broker, cacheWith("NIFTY", 18000))

	order, err := router.Execute(t.Context(), &Order{Symbol: "NIFTY", Side: SideBuy, Quantity: 50})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, order.Status)
}

func TestCancelRoutesOnlyLive(t *testing.T) {
	broker := &fakeBroker{}
	router := NewRouter(RouterConfig{Mode: ModePaper}, broker, market.NewTickCache(4))
	require.NoError(t, router.Cancel(t.Context(), "ord-1"))
	assert.Empty(t, broker.cancelled)

	live := NewRouter(RouterConfig{Mode: ModeLive, BrokerTimeout: time.Second}, broker, market.NewTickCache(4))
	require.NoError(t, live.Cancel(t.Context(), "ord-2"))
	assert.Equal(t, []string{"ord-2"}, broker.cancelled)
}
