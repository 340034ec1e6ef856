package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"coverx/internal/fault"
	"coverx/internal/models"
	"coverx/internal/repository"
)

// Guard blocks share operations while the emergency latch is set.
type Guard interface {
	Guard(op string) error
}

// Vault is a share-ledger capital pool. Deposits mint shares against current
// net assets; redemptions pay out pro-rata, so losses and profits booked to
// the pool are socialized across share holders. Share operations honor the
// emergency guard; asset bookings by the settlement path do not.
type Vault struct {
	Repo    repository.Repository
	Pool    string
	Breaker Guard
}

func NewVault(repo repository.Repository, pool string) *Vault {
	return &Vault{Repo: repo, Pool: pool}
}

func (v *Vault) state(ctx context.Context) (*models.PoolState, error) {
	st, err := v.Repo.GetPoolState(ctx, v.Pool)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &models.PoolState{Name: v.Pool, TotalShares: decimal.Zero, Assets: decimal.Zero}
	}
	return st, nil
}

// Deposit adds amount to the pool and mints shares at the current
// share price. The first depositor gets shares one-for-one.
func (v *Vault) Deposit(ctx context.Context, holder string, amount decimal.Decimal) (decimal.Decimal, error) {
	const op = "vault.deposit"
	if v.Breaker != nil {
		if err := v.Breaker.Guard(op); err != nil {
			return decimal.Zero, err
		}
	}
	if holder == "" {
		return decimal.Zero, fault.New(fault.KindValidation, op, "empty holder")
	}
	if !amount.IsPositive() {
		return decimal.Zero, fault.Newf(fault.KindValidation, op, "non-positive deposit %s", amount)
	}
	st, err := v.state(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	shares := amount
	if st.TotalShares.IsPositive() {
		if !st.Assets.IsPositive() {
			// Shares exist but assets were wiped out; new capital cannot be
			// priced without diluting it to nothing.
			return decimal.Zero, fault.New(fault.KindPolicy, op, "pool is insolvent, deposits suspended")
		}
		shares = amount.Mul(st.TotalShares).Div(st.Assets)
	}

	share, err := v.Repo.GetPoolShare(ctx, v.Pool, holder)
	if err != nil {
		return decimal.Zero, err
	}
	if share == nil {
		share = &models.PoolShare{Pool: v.Pool, Holder: holder}
	}
	share.Shares = share.Shares.Add(shares)
	if err := v.Repo.SavePoolShare(ctx, share); err != nil {
		return decimal.Zero, err
	}

	st.TotalShares = st.TotalShares.Add(shares)
	st.Assets = st.Assets.Add(amount)
	if err := v.Repo.SavePoolState(ctx, st); err != nil {
		return decimal.Zero, err
	}
	return shares, nil
}

// Redeem burns shares and pays out the holder's pro-rata slice of assets.
func (v *Vault) Redeem(ctx context.Context, holder string, shares decimal.Decimal) (decimal.Decimal, error) {
	const op = "vault.redeem"
	if v.Breaker != nil {
		if err := v.Breaker.Guard(op); err != nil {
			return decimal.Zero, err
		}
	}
	if !shares.IsPositive() {
		return decimal.Zero, fault.Newf(fault.KindValidation, op, "non-positive share amount %s", shares)
	}
	share, err := v.Repo.GetPoolShare(ctx, v.Pool, holder)
	if err != nil {
		return decimal.Zero, err
	}
	if share == nil || share.Shares.LessThan(shares) {
		have := decimal.Zero
		if share != nil {
			have = share.Shares
		}
		return decimal.Zero, fault.Newf(fault.KindValidation, op, "holder %q has %s shares, cannot redeem %s", holder, have, shares)
	}
	st, err := v.state(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !st.TotalShares.IsPositive() {
		return decimal.Zero, fault.New(fault.KindFatal, op, "share ledger and pool state disagree")
	}

	payout := shares.Mul(st.Assets).Div(st.TotalShares)

	share.Shares = share.Shares.Sub(shares)
	if err := v.Repo.SavePoolShare(ctx, share); err != nil {
		return decimal.Zero, err
	}
	st.TotalShares = st.TotalShares.Sub(shares)
	st.Assets = st.Assets.Sub(payout)
	if err := v.Repo.SavePoolState(ctx, st); err != nil {
		return decimal.Zero, err
	}
	return payout, nil
}

// Assets returns the pool's current net assets.
func (v *Vault) Assets(ctx context.Context) (decimal.Decimal, error) {
	st, err := v.state(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return st.Assets, nil
}

// AddAssets books income (premiums, hedge proceeds) to the pool without
// minting shares.
func (v *Vault) AddAssets(ctx context.Context, amount decimal.Decimal) error {
	const op = "vault.add_assets"
	if amount.IsNegative() {
		return fault.Newf(fault.KindValidation, op, "negative amount %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	st, err := v.state(ctx)
	if err != nil {
		return err
	}
	st.Assets = st.Assets.Add(amount)
	return v.Repo.SavePoolState(ctx, st)
}

// RemoveAssets books a loss or payout against the pool without burning
// shares. Fails when the pool cannot absorb the amount.
func (v *Vault) RemoveAssets(ctx context.Context, amount decimal.Decimal) error {
	const op = "vault.remove_assets"
	if amount.IsNegative() {
		return fault.Newf(fault.KindValidation, op, "negative amount %s", amount)
	}
	st, err := v.state(ctx)
	if err != nil {
		return err
	}
	if st.Assets.LessThan(amount) {
		return fault.Newf(fault.KindFatal, op, "pool %s holds %s, cannot remove %s", v.Pool, st.Assets, amount)
	}
	st.Assets = st.Assets.Sub(amount)
	return v.Repo.SavePoolState(ctx, st)
}
