package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultBrokerHTTPTimeout = 10 * time.Second

// RESTBrokerConfig points the client at a broker gateway.
type RESTBrokerConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// RESTBroker talks to a broker gateway over HTTP. Authenticate exchanges
// the api key pair for a session token; every other call carries it. The
// gateway invalidates tokens daily, which surfaces as a TokenError.
type RESTBroker struct {
	cfg    RESTBrokerConfig
	client *http.Client

	mu    sync.Mutex
	token string
}

// NewRESTBroker builds a broker client. It does not authenticate; call
// Authenticate before placing orders.
func NewRESTBroker(cfg RESTBrokerConfig) *RESTBroker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBrokerHTTPTimeout
	}
	return &RESTBroker{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type sessionRequest struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

type placeOrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
	Tag      string  `json:"tag"`
}

type placeOrderResponse struct {
	OrderID string `json:"orderId"`
}

type apiErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Authenticate exchanges the key pair for a session token.
func (b *RESTBroker) Authenticate(ctx context.Context) error {
	body := sessionRequest{APIKey: b.cfg.APIKey, APISecret: b.cfg.APISecret}
	var resp sessionResponse
	if err := b.do(ctx, http.MethodPost, "/session", body, &resp, false); err != nil {
		return err
	}
	if resp.Token == "" {
		return TokenError(fmt.Errorf("broker returned empty session token"))
	}
	b.mu.Lock()
	b.token = resp.Token
	b.mu.Unlock()
	return nil
}

// PlaceOrder submits an order and returns the broker's order id.
func (b *RESTBroker) PlaceOrder(ctx context.Context, spec OrderSpec) (string, error) {
	body := placeOrderRequest{
		Symbol:   spec.Symbol,
		Side:     spec.Side.String(),
		Quantity: spec.Quantity,
		Price:    spec.Price,
		Tag:      spec.Tag,
	}
	var resp placeOrderResponse
	if err := b.do(ctx, http.MethodPost, "/orders", body, &resp, true); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", APIError(0, "broker accepted order without an id")
	}
	return resp.OrderID, nil
}

// CancelOrder cancels a working order by id.
func (b *RESTBroker) CancelOrder(ctx context.Context, orderID string) error {
	return b.do(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil, true)
}

// GetPositions fetches the broker-side open positions.
func (b *RESTBroker) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	var positions []BrokerPosition
	if err := b.do(ctx, http.MethodGet, "/positions", nil, &positions, true); err != nil {
		return nil, err
	}
	return positions, nil
}

// do runs one request and maps failures onto the broker error taxonomy:
// transport failures are NetworkError, 401/403 are TokenError, any other
// non-2xx is APIError.
func (b *RESTBroker) do(ctx context.Context, method, endpoint string, body, out any, withToken bool) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode broker request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("build broker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		b.mu.Lock()
		token := b.token
		b.mu.Unlock()
		if token == "" {
			return TokenError(fmt.Errorf("no broker session"))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return NetworkError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return TokenError(fmt.Errorf("broker rejected session: %s", resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == 0 {
			return APIError(resp.StatusCode, "broker request failed")
		}
		return APIError(apiErr.Code, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NetworkError(fmt.Errorf("decode broker response: %w", err))
	}
	return nil
}
