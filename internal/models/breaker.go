package models

import (
	"time"

	"gorm.io/datatypes"
)

// Breaker statuses.
const (
	BreakerActive      = "active"
	BreakerTriggered   = "triggered"
	BreakerCoolingDown = "cooling_down"
	BreakerDisabled    = "disabled"
)

// BreakerState is the persisted snapshot of one circuit breaker. The live
// ring buffer is process state; WindowJSON holds the last saved window so a
// restart does not start blind.
type BreakerState struct {
	ID string `gorm:"primaryKey;type:varchar(50)"`

	Status           string         `gorm:"type:varchar(20);not null;default:'active'"`
	TriggeredAt      *time.Time     `gorm:"type:timestamptz"`
	CoolingDownUntil *time.Time     `gorm:"type:timestamptz"`
	TripCount        int64          `gorm:"not null;default:0"`
	WindowJSON       datatypes.JSON `gorm:"type:jsonb"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (BreakerState) TableName() string {
	return "breaker_states"
}
