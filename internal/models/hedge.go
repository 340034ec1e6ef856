package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue is a registered external prediction-market liquidity source.
type Venue struct {
	Name string `gorm:"primaryKey;type:varchar(50)"`
	Kind string `gorm:"type:varchar(20);not null"`

	Endpoint     string          `gorm:"type:text"`
	Weight       int             `gorm:"not null;default:0"`
	MaxTradeSize decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	Enabled      bool            `gorm:"not null;default:true;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Venue) TableName() string {
	return "venues"
}

// HedgePosition is the engine-owned outcome-token position at one venue.
type HedgePosition struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	EventID string `gorm:"type:varchar(66);not null;uniqueIndex:idx_hedge_event_venue,priority:1"`
	Venue   string `gorm:"type:varchar(50);not null;uniqueIndex:idx_hedge_event_venue,priority:2"`

	Quantity  decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	CostBasis decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	Settled   bool       `gorm:"not null;default:false;index"`
	SettledAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (HedgePosition) TableName() string {
	return "hedge_positions"
}

// HedgeBook is the aggregate logical position per event, folded across
// venues. PendingReduction records a deferred sell-down target so a
// rebalance-down never silently loses track of it.
type HedgeBook struct {
	EventID string `gorm:"primaryKey;type:varchar(66)"`

	Quantity         decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	CostBasis        decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	PendingReduction decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	Settled         bool       `gorm:"not null;default:false"`
	SettledAt       *time.Time `gorm:"type:timestamptz"`
	LastRebalanceAt *time.Time `gorm:"type:timestamptz"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (HedgeBook) TableName() string {
	return "hedge_books"
}

// PriceSnapshot is the cached cross-venue aggregate quote for one event.
type PriceSnapshot struct {
	EventID string `gorm:"primaryKey;type:varchar(66)"`

	Price          decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Confidence     decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	TotalLiquidity decimal.Decimal `gorm:"type:numeric(30,6);not null"`
	VenueCount     int             `gorm:"not null;default:0"`

	UpdatedAt time.Time `gorm:"type:timestamptz;not null"`
}

func (PriceSnapshot) TableName() string {
	return "price_snapshots"
}
