// Package ledger holds the accounting primitives of the engine: the coverage
// unit ledger (mint on purchase, burn on redemption) and the share-based
// capital vaults backing the junior pool and the treasury.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"coverx/internal/fault"
	"coverx/internal/models"
	"coverx/internal/repository"
)

// CoverageLedger is the closed-loop per-event coverage unit ledger. Every
// minted unit is owned by exactly one holder until burned.
type CoverageLedger struct {
	Repo repository.Repository
}

func NewCoverageLedger(repo repository.Repository) *CoverageLedger {
	return &CoverageLedger{Repo: repo}
}

func (l *CoverageLedger) Mint(ctx context.Context, eventID, holder string, units decimal.Decimal) error {
	const op = "ledger.mint"
	if holder == "" {
		return fault.New(fault.KindValidation, op, "empty holder")
	}
	if !units.IsPositive() {
		return fault.Newf(fault.KindValidation, op, "non-positive unit amount %s", units)
	}
	pos, err := l.Repo.GetCoveragePosition(ctx, eventID, holder)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &models.CoveragePosition{EventID: eventID, Holder: holder}
	}
	pos.Units = pos.Units.Add(units)
	return l.Repo.SaveCoveragePosition(ctx, pos)
}

func (l *CoverageLedger) Burn(ctx context.Context, eventID, holder string, units decimal.Decimal) error {
	const op = "ledger.burn"
	if !units.IsPositive() {
		return fault.Newf(fault.KindValidation, op, "non-positive unit amount %s", units)
	}
	pos, err := l.Repo.GetCoveragePosition(ctx, eventID, holder)
	if err != nil {
		return err
	}
	if pos == nil || pos.Units.LessThan(units) {
		have := decimal.Zero
		if pos != nil {
			have = pos.Units
		}
		return fault.Newf(fault.KindValidation, op, "holder %q has %s units, cannot burn %s", holder, have, units)
	}
	pos.Units = pos.Units.Sub(units)
	return l.Repo.SaveCoveragePosition(ctx, pos)
}

func (l *CoverageLedger) BalanceOf(ctx context.Context, eventID, holder string) (decimal.Decimal, error) {
	pos, err := l.Repo.GetCoveragePosition(ctx, eventID, holder)
	if err != nil {
		return decimal.Zero, err
	}
	if pos == nil {
		return decimal.Zero, nil
	}
	return pos.Units, nil
}

// TotalSupply is the sum of all holder balances for one event.
func (l *CoverageLedger) TotalSupply(ctx context.Context, eventID string) (decimal.Decimal, error) {
	return l.Repo.SumCoverageUnits(ctx, eventID)
}
