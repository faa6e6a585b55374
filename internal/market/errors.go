package market

import "errors"

var (
	ErrFeedClosed     = errors.New("market: feed closed")
	ErrFeedRunning    = errors.New("market: feed already running")
	ErrAuthRejected   = errors.New("market: authentication rejected")
	ErrServerClose    = errors.New("market: server requested close")
	ErrMissingSymbols = errors.New("market: no symbols provided")
)
