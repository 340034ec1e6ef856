package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Oracle kinds. Unrecognized kinds fall back to accepting the proof.
const (
	OracleKindPriceFeed   = "price_feed"
	OracleKindOptimistic  = "optimistic"
	OracleKindDisputeGame = "dispute_game"
)

// OracleAssignment configures one oracle for one event. Weight is 1..100.
type OracleAssignment struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	EventID  string `gorm:"type:varchar(66);not null;uniqueIndex:idx_oracle_event_id,priority:1"`
	OracleID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_oracle_event_id,priority:2"`
	Kind     string `gorm:"type:varchar(20);not null"`
	Weight   int    `gorm:"not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (OracleAssignment) TableName() string {
	return "oracle_assignments"
}

// OracleReport records one oracle's vote for one event. At most one per
// (event, oracle) pair.
type OracleReport struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	EventID  string `gorm:"type:varchar(66);not null;uniqueIndex:idx_report_event_oracle,priority:1"`
	OracleID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_report_event_oracle,priority:2"`

	Outcome bool           `gorm:"not null"`
	Proof   datatypes.JSON `gorm:"type:jsonb"`

	ReportedAt time.Time `gorm:"type:timestamptz;not null"`
}

func (OracleReport) TableName() string {
	return "oracle_reports"
}

// EventOutcome is the consensus record. Resolved flips on weighted
// majority; readers treat it as unresolved until the dispute deadline
// passes undisputed.
type EventOutcome struct {
	EventID string `gorm:"primaryKey;type:varchar(66)"`

	Resolved        bool            `gorm:"not null;default:false"`
	Outcome         bool            `gorm:"not null;default:false"`
	Confidence      decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	ConsensusWeight int             `gorm:"not null;default:0"`

	Disputed        bool       `gorm:"not null;default:false"`
	ResolvedAt      *time.Time `gorm:"type:timestamptz"`
	DisputeDeadline *time.Time `gorm:"type:timestamptz"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (EventOutcome) TableName() string {
	return "event_outcomes"
}

// ResolutionDay is the per-UTC-day resolution counter backing the daily
// report circuit breaker.
type ResolutionDay struct {
	Day   string `gorm:"primaryKey;type:varchar(10)"` // YYYY-MM-DD
	Count int    `gorm:"not null;default:0"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ResolutionDay) TableName() string {
	return "resolution_days"
}
