package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool names used by the waterfall.
const (
	PoolJunior   = "junior"
	PoolTreasury = "treasury"
)

// PoolState is a share-ledger vault: shares are minted against current net
// assets and redeemed pro-rata.
type PoolState struct {
	Name string `gorm:"primaryKey;type:varchar(30)"`

	TotalShares decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	Assets      decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PoolState) TableName() string {
	return "pool_states"
}

type PoolShare struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Pool   string `gorm:"type:varchar(30);not null;uniqueIndex:idx_pool_holder,priority:1"`
	Holder string `gorm:"type:varchar(100);not null;uniqueIndex:idx_pool_holder,priority:2"`

	Shares decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PoolShare) TableName() string {
	return "pool_shares"
}

// Layer is the senior per-event loss-coverage limit with used/available
// tracking.
type Layer struct {
	EventID string `gorm:"primaryKey;type:varchar(66)"`

	Limit decimal.Decimal `gorm:"column:cap_limit;type:numeric(30,6);not null;default:0"`
	Used  decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Layer) TableName() string {
	return "layers"
}

// Available returns the remaining senior capacity.
func (l Layer) Available() decimal.Decimal {
	rem := l.Limit.Sub(l.Used)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}
