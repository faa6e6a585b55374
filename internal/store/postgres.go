package store

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm/clause"

	"main/internal/execution"
	"main/internal/ledger"
	"main/internal/strategy"
	"main/pkg/conn"
)

type orderRow struct {
	ID             string `gorm:"primaryKey"`
	Symbol         string `gorm:"index"`
	Side           string
	Quantity       int64
	RequestedPrice float64
	AvgFillPrice   float64
	Status         string
	StrategyName   string `gorm:"index"`
	Reason         string
	CreatedAt      time.Time
	ClosedAt       time.Time
}

func (orderRow) TableName() string { return "orders" }

type positionRow struct {
	ID            string `gorm:"primaryKey"`
	AccountID     string `gorm:"index"`
	Symbol        string `gorm:"index"`
	StrategyName  string
	Quantity      int64
	AvgEntryPrice float64
	CurrentPrice  float64
	RealizedPnl   float64
	UnrealizedPnl float64
	StopLoss      float64
	Target        float64
	Status        string `gorm:"index"`
	OpenedAt      time.Time
	ClosedAt      time.Time
	UpdatedAt     time.Time
}

func (positionRow) TableName() string { return "positions" }

type signalRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	StrategyName   string `gorm:"index"`
	Symbol         string
	Action         string
	Confidence     float64
	SuggestedPrice float64
	StopLoss       float64
	Target         float64
	Reasoning      string
	GeneratedAt    time.Time `gorm:"index"`
}

func (signalRow) TableName() string { return "signals" }

// Postgres persists orders, positions and signals through gorm.
type Postgres struct {
	client *conn.Client
}

// NewPostgres opens the database and migrates the trading tables.
func NewPostgres(option conn.Option) (*Postgres, error) {
	client, err := conn.New(option)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := client.DB().AutoMigrate(&orderRow{}, &positionRow{}, &signalRow{}); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "migrate trading tables")
	}
	return &Postgres{client: client}, nil
}

func (p *Postgres) InsertOrder(ctx context.Context, order *execution.Order) error {
	row := orderRow{
		ID:             order.ID,
		Symbol:         order.Symbol,
		Side:           order.Side.String(),
		Quantity:       order.Quantity,
		RequestedPrice: order.RequestedPrice,
		AvgFillPrice:   order.AverageFillPrice,
		Status:         order.Status.String(),
		StrategyName:   order.StrategyName,
		Reason:         order.Reason,
		CreatedAt:      order.CreatedAt,
		ClosedAt:       order.ClosedAt,
	}
	err := p.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	return wrapDB(err, "insert order", "id", order.ID)
}

func (p *Postgres) InsertOrUpdatePosition(ctx context.Context, position *ledger.Position) error {
	row := positionRow{
		ID:            position.ID,
		AccountID:     position.AccountID,
		Symbol:        position.Symbol,
		StrategyName:  position.StrategyName,
		Quantity:      position.Quantity,
		AvgEntryPrice: position.AverageEntryPrice,
		CurrentPrice:  position.CurrentPrice,
		RealizedPnl:   position.RealizedPnl,
		UnrealizedPnl: position.UnrealizedPnl,
		StopLoss:      position.StopLoss,
		Target:        position.Target,
		Status:        position.Status.String(),
		OpenedAt:      position.OpenedAt,
		ClosedAt:      position.ClosedAt,
		UpdatedAt:     time.Now(),
	}
	err := p.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	return wrapDB(err, "upsert position", "id", position.ID)
}

func (p *Postgres) InsertSignal(ctx context.Context, signal *strategy.Signal) error {
	row := signalRow{
		StrategyName:   signal.StrategyName,
		Symbol:         signal.Symbol,
		Action:         signal.Action.String(),
		Confidence:     signal.Confidence,
		SuggestedPrice: signal.SuggestedPrice,
		StopLoss:       signal.StopLoss,
		Target:         signal.Target,
		Reasoning:      signal.Reasoning,
		GeneratedAt:    signal.GeneratedAt,
	}
	err := p.client.DB().WithContext(ctx).Create(&row).Error
	return wrapDB(err, "insert signal", "strategy", signal.StrategyName)
}

// wrapDB annotates a database error. Wrap on a nil error still yields a
// non-nil value, so the nil case is handled here.
func wrapDB(err error, message, key string, value any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, message).With(key, value)
}

// FetchOpenPositions loads positions still marked OPEN for the account.
// Called once at startup for crash recovery.
func (p *Postgres) FetchOpenPositions(ctx context.Context, accountID string) ([]ledger.Position, error) {
	var rows []positionRow
	err := p.client.DB().WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, ledger.PositionOpen.String()).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "fetch open positions").With("account", accountID)
	}
	positions := make([]ledger.Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, ledger.Position{
			ID:                row.ID,
			AccountID:         row.AccountID,
			Symbol:            row.Symbol,
			StrategyName:      row.StrategyName,
			Quantity:          row.Quantity,
			AverageEntryPrice: row.AvgEntryPrice,
			CurrentPrice:      row.CurrentPrice,
			RealizedPnl:       row.RealizedPnl,
			UnrealizedPnl:     row.UnrealizedPnl,
			StopLoss:          row.StopLoss,
			Target:            row.Target,
			OpenedAt:          row.OpenedAt,
			Status:            ledger.PositionOpen,
		})
	}
	return positions, nil
}

func (p *Postgres) Close() error {
	return p.client.Close()
}
