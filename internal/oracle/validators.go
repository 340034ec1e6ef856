package oracle

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"coverx/internal/fault"
	"coverx/internal/models"
)

// ProofValidator checks the evidence attached to one oracle report. Each
// oracle kind carries a different proof shape.
type ProofValidator interface {
	Kind() string
	Validate(proof datatypes.JSON, now time.Time) error
}

// PriceFeedValidator requires a signed price observation that is not older
// than MaxAge at report time.
type PriceFeedValidator struct {
	MaxAge time.Duration
}

func (PriceFeedValidator) Kind() string { return models.OracleKindPriceFeed }

func (v PriceFeedValidator) Validate(proof datatypes.JSON, now time.Time) error {
	var p struct {
		Price      string    `json:"price"`
		ObservedAt time.Time `json:"observed_at"`
		Signature  string    `json:"signature"`
	}
	if err := json.Unmarshal(proof, &p); err != nil {
		return fault.Wrap(fault.KindValidation, "oracle.proof", err)
	}
	if p.Price == "" || p.Signature == "" {
		return fault.New(fault.KindValidation, "oracle.proof", "price feed proof missing price or signature")
	}
	if p.ObservedAt.IsZero() || now.Sub(p.ObservedAt) > v.MaxAge {
		return fault.New(fault.KindPolicy, "oracle.proof", "price observation too old")
	}
	return nil
}

// OptimisticValidator requires the assertion's liveness window to have
// expired unchallenged before the report counts.
type OptimisticValidator struct{}

func (OptimisticValidator) Kind() string { return models.OracleKindOptimistic }

func (OptimisticValidator) Validate(proof datatypes.JSON, now time.Time) error {
	var p struct {
		AssertedAt  time.Time `json:"asserted_at"`
		LivenessEnd time.Time `json:"liveness_end"`
		Challenged  bool      `json:"challenged"`
	}
	if err := json.Unmarshal(proof, &p); err != nil {
		return fault.Wrap(fault.KindValidation, "oracle.proof", err)
	}
	if p.Challenged {
		return fault.New(fault.KindPolicy, "oracle.proof", "assertion was challenged")
	}
	if p.LivenessEnd.IsZero() || now.Before(p.LivenessEnd) {
		return fault.New(fault.KindPolicy, "oracle.proof", "assertion liveness window still open")
	}
	return nil
}

// DisputeGameValidator requires a completed game with a declared winner.
type DisputeGameValidator struct{}

func (DisputeGameValidator) Kind() string { return models.OracleKindDisputeGame }

func (DisputeGameValidator) Validate(proof datatypes.JSON, _ time.Time) error {
	var p struct {
		Rounds int    `json:"rounds"`
		Winner string `json:"winner"`
	}
	if err := json.Unmarshal(proof, &p); err != nil {
		return fault.Wrap(fault.KindValidation, "oracle.proof", err)
	}
	if p.Rounds < 1 {
		return fault.New(fault.KindValidation, "oracle.proof", "dispute game has no rounds")
	}
	if p.Winner != "yes" && p.Winner != "no" {
		return fault.New(fault.KindValidation, "oracle.proof", "dispute game has no winner")
	}
	return nil
}
