package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CoveragePosition is the per-holder coverage unit balance for one event.
// Minted on purchase, burned on redemption; total per event is the sum of
// holder balances (closed loop).
type CoveragePosition struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	EventID string `gorm:"type:varchar(66);not null;uniqueIndex:idx_cov_event_holder,priority:1"`
	Holder  string `gorm:"type:varchar(100);not null;uniqueIndex:idx_cov_event_holder,priority:2"`

	Units decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CoveragePosition) TableName() string {
	return "coverage_positions"
}
