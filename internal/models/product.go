package models

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// eventIDPattern: 32-byte opaque identifier, hex encoded with 0x prefix.
var eventIDPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func IsEventID(s string) bool {
	return eventIDPattern.MatchString(s)
}

// Product is the per-event coverage configuration. Immutable once trading
// begins except through the delayed governance path.
type Product struct {
	EventID string `gorm:"primaryKey;type:varchar(66)"`

	Strike       decimal.Decimal `gorm:"type:numeric(30,6);not null"`
	HedgeRatio   decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	ReserveRatio decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	FeeRatio     decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Retention    decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	MaxNotional  decimal.Decimal `gorm:"type:numeric(30,6);not null"`

	Active           bool       `gorm:"not null;default:true;index"`
	TradingStartedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}

// ProductState holds the mutable per-event book. Mutated only by the
// waterfall engine; Settled flips exactly once.
type ProductState struct {
	EventID string `gorm:"primaryKey;type:varchar(66)"`

	SoldUnits decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	Reserves  decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	Settled bool `gorm:"not null;default:false;index"`
	Outcome bool `gorm:"not null;default:false"`

	PreEventAssets  decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	JuniorLossLimit decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	JuniorLossPaid  decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	RealizedLoss    decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	SettledAt *time.Time `gorm:"type:timestamptz"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ProductState) TableName() string {
	return "product_states"
}
