package store

import (
	"context"

	"main/internal/execution"
	"main/internal/ledger"
	"main/internal/strategy"
)

// Store persists trading activity. Every write is best-effort from the
// caller's point of view: the in-memory engine state is authoritative and a
// store failure never blocks trading.
type Store interface {
	InsertOrder(ctx context.Context, order *execution.Order) error
	InsertOrUpdatePosition(ctx context.Context, position *ledger.Position) error
	InsertSignal(ctx context.Context, signal *strategy.Signal) error
	FetchOpenPositions(ctx context.Context, accountID string) ([]ledger.Position, error)
	Close() error
}

// Nop discards every write. Used when no database is configured.
type Nop struct{}

func (Nop) InsertOrder(context.Context, *execution.Order) error            { return nil }
func (Nop) InsertOrUpdatePosition(context.Context, *ledger.Position) error { return nil }
func (Nop) InsertSignal(context.Context, *strategy.Signal) error           { return nil }
func (Nop) FetchOpenPositions(context.Context, string) ([]ledger.Position, error) {
	return nil, nil
}
func (Nop) Close() error { return nil }
