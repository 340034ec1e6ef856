package models

import (
	"time"

	"gorm.io/datatypes"
)

// Pending change kinds accepted by the governance path.
const (
	ChangeProductCreate = "product_create"
	ChangeProductUpdate = "product_update"
	ChangeTreasury      = "treasury"
)

// PendingChange is a delay-gated configuration proposal. Apply is accepted
// only after the minimum governance delay has elapsed since ProposedAt.
type PendingChange struct {
	ID   string `gorm:"primaryKey;type:varchar(36)"`
	Kind string `gorm:"type:varchar(30);not null;index"`

	Payload datatypes.JSON `gorm:"type:jsonb;not null"`

	ProposedBy string     `gorm:"type:varchar(100)"`
	ProposedAt time.Time  `gorm:"type:timestamptz;not null"`
	AppliedAt  *time.Time `gorm:"type:timestamptz"`
}

func (PendingChange) TableName() string {
	return "pending_changes"
}

// Setting is a small key/value row for protocol-level addresses and flags.
type Setting struct {
	Key   string `gorm:"primaryKey;type:varchar(50)"`
	Value string `gorm:"type:text;not null"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Setting) TableName() string {
	return "settings"
}
