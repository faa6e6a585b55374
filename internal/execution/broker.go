package execution

import (
	"context"
	"fmt"
)

// OrderSpec is the broker-facing order request.
type OrderSpec struct {
	Symbol   string
	Side     Side
	Quantity int64
	Price    float64
	Tag      string
}

// BrokerPosition is the broker's view of an open position.
type BrokerPosition struct {
	Symbol       string
	Quantity     int64
	AveragePrice float64
}

// Broker is the external collaborator the live backend delegates to.
type Broker interface {
	Authenticate(ctx context.Context) error
	PlaceOrder(ctx context.Context, spec OrderSpec) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
}

// ErrorKind classifies broker failures the router switches on.
type ErrorKind uint8

const (
	KindToken ErrorKind = iota + 1
	KindAPI
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindToken:
		return "TOKEN_ERROR"
	case KindAPI:
		return "API_ERROR"
	case KindNetwork:
		return "NETWORK_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error is a typed broker failure. Token errors trigger the degrade-to-paper
// flow instead of crashing the engine.
type Error struct {
	Kind ErrorKind
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("broker %s (code %d): %s", e.Kind, e.Code, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("broker %s: %s, err: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("broker %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TokenError marks an authentication/session failure.
func TokenError(err error) *Error {
	return &Error{Kind: KindToken, Msg: "session token invalid", Err: err}
}

// APIError marks a broker-side business rejection.
func APIError(code int, msg string) *Error {
	return &Error{Kind: KindAPI, Code: code, Msg: msg}
}

// NetworkError marks a retryable transport failure.
func NetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Msg: "transport failure", Err: err}
}
