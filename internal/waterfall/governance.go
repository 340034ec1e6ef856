package waterfall

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"coverx/internal/breaker"
	"coverx/internal/config"
	"coverx/internal/fault"
	"coverx/internal/models"
	"coverx/internal/repository"
)

// ProductChange is the payload for product_create and product_update
// proposals.
type ProductChange struct {
	EventID      string          `json:"event_id"`
	Strike       decimal.Decimal `json:"strike"`
	HedgeRatio   decimal.Decimal `json:"hedge_ratio"`
	ReserveRatio decimal.Decimal `json:"reserve_ratio"`
	FeeRatio     decimal.Decimal `json:"fee_ratio"`
	Retention    decimal.Decimal `json:"retention"`
	MaxNotional  decimal.Decimal `json:"max_notional"`
	Active       bool            `json:"active"`
}

// TreasuryChange is the payload for treasury proposals.
type TreasuryChange struct {
	Address string `json:"address"`
}

// Governance is the delay-gated configuration path: every change is proposed
// as a pending record and can only be applied after the minimum delay.
// Applying is blocked while the emergency latch is set.
type Governance struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Cfg     config.GovernanceConfig
	Limits  config.WaterfallConfig
	Breaker *breaker.Engine

	// Now is swapped in tests.
	Now func() time.Time
}

func NewGovernance(repo repository.Repository, logger *zap.Logger, cfg config.GovernanceConfig, limits config.WaterfallConfig) *Governance {
	return &Governance{
		Repo:   repo,
		Logger: logger,
		Cfg:    cfg,
		Limits: limits,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Propose records a pending change and returns its id. Malformed payloads
// and out-of-range product parameters are rejected here, before the delay
// clock starts.
func (g *Governance) Propose(ctx context.Context, kind string, payload json.RawMessage, proposedBy string) (string, error) {
	const op = "governance.propose"
	switch kind {
	case models.ChangeProductCreate, models.ChangeProductUpdate:
		var change ProductChange
		if err := json.Unmarshal(payload, &change); err != nil {
			return "", fault.Wrap(fault.KindValidation, op, err)
		}
		if err := g.validateProduct(change); err != nil {
			return "", err
		}
	case models.ChangeTreasury:
		var change TreasuryChange
		if err := json.Unmarshal(payload, &change); err != nil {
			return "", fault.Wrap(fault.KindValidation, op, err)
		}
		if change.Address == "" {
			return "", fault.New(fault.KindValidation, op, "empty treasury address")
		}
	default:
		return "", fault.Newf(fault.KindValidation, op, "unknown change kind %q", kind)
	}

	change := &models.PendingChange{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    datatypes.JSON(payload),
		ProposedBy: proposedBy,
		ProposedAt: g.Now(),
	}
	if err := g.Repo.SavePendingChange(ctx, change); err != nil {
		return "", err
	}
	g.Logger.Info("change proposed",
		zap.String("id", change.ID),
		zap.String("kind", kind),
		zap.String("proposed_by", proposedBy))
	return change.ID, nil
}

// Apply executes a pending change once its delay has elapsed. Each proposal
// applies at most once.
func (g *Governance) Apply(ctx context.Context, id string) error {
	const op = "governance.apply"
	if g.Breaker != nil {
		if err := g.Breaker.Guard(op); err != nil {
			return err
		}
	}
	change, err := g.Repo.GetPendingChange(ctx, id)
	if err != nil {
		return err
	}
	if change == nil {
		return fault.Newf(fault.KindValidation, op, "unknown proposal %q", id)
	}
	if change.AppliedAt != nil {
		return fault.New(fault.KindPolicy, op, "proposal already applied")
	}
	now := g.Now()
	if now.Before(change.ProposedAt.Add(g.Cfg.MinDelay)) {
		return fault.Newf(fault.KindPolicy, op, "minimum delay %s not elapsed", g.Cfg.MinDelay)
	}

	switch change.Kind {
	case models.ChangeProductCreate:
		if err := g.applyProductCreate(ctx, change.Payload); err != nil {
			return err
		}
	case models.ChangeProductUpdate:
		if err := g.applyProductUpdate(ctx, change.Payload); err != nil {
			return err
		}
	case models.ChangeTreasury:
		var tc TreasuryChange
		if err := json.Unmarshal(change.Payload, &tc); err != nil {
			return fault.Wrap(fault.KindValidation, op, err)
		}
		if err := g.Repo.SaveSetting(ctx, &models.Setting{Key: "treasury_address", Value: tc.Address}); err != nil {
			return err
		}
	default:
		return fault.Newf(fault.KindValidation, op, "unknown change kind %q", change.Kind)
	}

	change.AppliedAt = &now
	if err := g.Repo.SavePendingChange(ctx, change); err != nil {
		return err
	}
	g.Logger.Info("change applied", zap.String("id", id), zap.String("kind", change.Kind))
	return nil
}

// Pending lists the not-yet-applied proposals.
func (g *Governance) Pending(ctx context.Context) ([]models.PendingChange, error) {
	return g.Repo.ListPendingChanges(ctx, true)
}

func (g *Governance) applyProductCreate(ctx context.Context, payload []byte) error {
	const op = "governance.apply"
	var change ProductChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return fault.Wrap(fault.KindValidation, op, err)
	}
	existing, err := g.Repo.GetProduct(ctx, change.EventID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fault.Newf(fault.KindPolicy, op, "product %s already exists", change.EventID)
	}
	return g.Repo.CreateProduct(ctx, &models.Product{
		EventID:      change.EventID,
		Strike:       change.Strike,
		HedgeRatio:   change.HedgeRatio,
		ReserveRatio: change.ReserveRatio,
		FeeRatio:     change.FeeRatio,
		Retention:    change.Retention,
		MaxNotional:  change.MaxNotional,
		Active:       change.Active,
	})
}

func (g *Governance) applyProductUpdate(ctx context.Context, payload []byte) error {
	const op = "governance.apply"
	var change ProductChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return fault.Wrap(fault.KindValidation, op, err)
	}
	product, err := g.Repo.GetProduct(ctx, change.EventID)
	if err != nil {
		return err
	}
	if product == nil {
		return fault.Newf(fault.KindValidation, op, "unknown product %s", change.EventID)
	}
	product.Strike = change.Strike
	product.HedgeRatio = change.HedgeRatio
	product.ReserveRatio = change.ReserveRatio
	product.FeeRatio = change.FeeRatio
	product.Retention = change.Retention
	product.MaxNotional = change.MaxNotional
	product.Active = change.Active
	return g.Repo.SaveProduct(ctx, product)
}

func (g *Governance) validateProduct(change ProductChange) error {
	const op = "governance.propose"
	if !models.IsEventID(change.EventID) {
		return fault.Newf(fault.KindValidation, op, "malformed event id %q", change.EventID)
	}
	if !change.Strike.IsPositive() {
		return fault.New(fault.KindValidation, op, "strike must be positive")
	}
	one := decimal.NewFromInt(1)
	minHedge := decimal.NewFromFloat(g.Limits.MinHedgeRatio)
	if change.HedgeRatio.LessThan(minHedge) || change.HedgeRatio.GreaterThan(one) {
		return fault.Newf(fault.KindValidation, op, "hedge ratio %s outside [%s,1]", change.HedgeRatio, minHedge)
	}
	if change.ReserveRatio.IsNegative() || change.ReserveRatio.GreaterThan(decimal.NewFromFloat(g.Limits.MaxReserveRatio)) {
		return fault.Newf(fault.KindValidation, op, "reserve ratio %s outside [0,%v]", change.ReserveRatio, g.Limits.MaxReserveRatio)
	}
	if change.FeeRatio.IsNegative() || change.FeeRatio.GreaterThan(decimal.NewFromFloat(g.Limits.MaxFeeRatio)) {
		return fault.Newf(fault.KindValidation, op, "fee ratio %s outside [0,%v]", change.FeeRatio, g.Limits.MaxFeeRatio)
	}
	if change.Retention.IsNegative() || change.Retention.GreaterThan(one) {
		return fault.Newf(fault.KindValidation, op, "retention %s outside [0,1]", change.Retention)
	}
	if !change.MaxNotional.IsPositive() {
		return fault.New(fault.KindValidation, op, "max notional must be positive")
	}
	return nil
}
