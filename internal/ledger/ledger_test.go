package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"coverx/internal/fault"
	"coverx/internal/models"
	"coverx/internal/repository/memory"
)

const testEvent = "0x" + "ef56ef56ef56ef56ef56ef56ef56ef56ef56ef56ef56ef56ef56ef56ef56ef56"

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMintBurnClosedLoop(t *testing.T) {
	l := NewCoverageLedger(memory.New())
	ctx := context.Background()

	if err := l.Mint(ctx, testEvent, "alice", dec("10")); err != nil {
		t.Fatalf("Mint alice: %v", err)
	}
	if err := l.Mint(ctx, testEvent, "bob", dec("5")); err != nil {
		t.Fatalf("Mint bob: %v", err)
	}
	if err := l.Mint(ctx, testEvent, "alice", dec("2.5")); err != nil {
		t.Fatalf("Mint alice again: %v", err)
	}

	total, err := l.TotalSupply(ctx, testEvent)
	if err != nil {
		t.Fatalf("TotalSupply: %v", err)
	}
	if !total.Equal(dec("17.5")) {
		t.Fatalf("TotalSupply = %s, want 17.5", total)
	}

	if err := l.Burn(ctx, testEvent, "alice", dec("12.5")); err != nil {
		t.Fatalf("Burn alice: %v", err)
	}
	balance, _ := l.BalanceOf(ctx, testEvent, "alice")
	if !balance.IsZero() {
		t.Fatalf("alice balance = %s, want 0", balance)
	}
	total, _ = l.TotalSupply(ctx, testEvent)
	if !total.Equal(dec("5")) {
		t.Fatalf("TotalSupply after burn = %s, want 5", total)
	}
}

func TestBurnOverBalanceFails(t *testing.T) {
	l := NewCoverageLedger(memory.New())
	ctx := context.Background()

	if err := l.Mint(ctx, testEvent, "alice", dec("3")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	err := l.Burn(ctx, testEvent, "alice", dec("4"))
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("over-burn err = %v, want validation fault", err)
	}
	err = l.Burn(ctx, testEvent, "bob", dec("1"))
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("burn without position err = %v, want validation fault", err)
	}
}

func TestMintRejectsBadAmounts(t *testing.T) {
	l := NewCoverageLedger(memory.New())
	ctx := context.Background()

	if err := l.Mint(ctx, testEvent, "alice", decimal.Zero); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("zero mint err = %v, want validation fault", err)
	}
	if err := l.Mint(ctx, testEvent, "", dec("1")); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("empty holder err = %v, want validation fault", err)
	}
}

func TestVaultDepositRedeemProRata(t *testing.T) {
	store := memory.New()
	v := NewVault(store, models.PoolJunior)
	ctx := context.Background()

	shares, err := v.Deposit(ctx, "alice", dec("100"))
	if err != nil {
		t.Fatalf("Deposit alice: %v", err)
	}
	if !shares.Equal(dec("100")) {
		t.Fatalf("first deposit shares = %s, want 100", shares)
	}

	// Income doubles the share price before bob enters.
	if err := v.AddAssets(ctx, dec("100")); err != nil {
		t.Fatalf("AddAssets: %v", err)
	}
	shares, err = v.Deposit(ctx, "bob", dec("100"))
	if err != nil {
		t.Fatalf("Deposit bob: %v", err)
	}
	if !shares.Equal(dec("50")) {
		t.Fatalf("bob shares = %s, want 50 at doubled share price", shares)
	}

	// A 150 loss leaves 150 across 150 shares.
	if err := v.RemoveAssets(ctx, dec("150")); err != nil {
		t.Fatalf("RemoveAssets: %v", err)
	}
	payout, err := v.Redeem(ctx, "alice", dec("100"))
	if err != nil {
		t.Fatalf("Redeem alice: %v", err)
	}
	if !payout.Equal(dec("100")) {
		t.Fatalf("alice payout = %s, want 100", payout)
	}
	payout, err = v.Redeem(ctx, "bob", dec("50"))
	if err != nil {
		t.Fatalf("Redeem bob: %v", err)
	}
	if !payout.Equal(dec("50")) {
		t.Fatalf("bob payout = %s, want 50", payout)
	}

	assets, _ := v.Assets(ctx)
	if !assets.IsZero() {
		t.Fatalf("assets after full redemption = %s, want 0", assets)
	}
}

func TestVaultRedeemOverShares(t *testing.T) {
	v := NewVault(memory.New(), models.PoolJunior)
	ctx := context.Background()

	if _, err := v.Deposit(ctx, "alice", dec("10")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := v.Redeem(ctx, "alice", dec("11")); !fault.IsKind(err, fault.KindValidation) {
		t.Fatal("redeeming more shares than held must fail")
	}
}

func TestVaultRemoveAssetsBeyondBalance(t *testing.T) {
	v := NewVault(memory.New(), models.PoolJunior)
	ctx := context.Background()

	if _, err := v.Deposit(ctx, "alice", dec("10")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := v.RemoveAssets(ctx, dec("11")); !fault.IsKind(err, fault.KindFatal) {
		t.Fatal("removing beyond assets must be a fatal fault")
	}
}

// latchedGuard refuses every operation, like a latched emergency stop.
type latchedGuard struct{}

func (latchedGuard) Guard(op string) error {
	return fault.New(fault.KindTripped, op, "emergency stop is latched")
}

func TestVaultGuardBlocksShareOps(t *testing.T) {
	v := NewVault(memory.New(), models.PoolJunior)
	ctx := context.Background()

	if _, err := v.Deposit(ctx, "alice", dec("10")); err != nil {
		t.Fatalf("Deposit before latch: %v", err)
	}

	v.Breaker = latchedGuard{}
	if _, err := v.Deposit(ctx, "bob", dec("10")); !fault.IsKind(err, fault.KindTripped) {
		t.Fatalf("Deposit under latch err = %v, want tripped fault", err)
	}
	if _, err := v.Redeem(ctx, "alice", dec("10")); !fault.IsKind(err, fault.KindTripped) {
		t.Fatalf("Redeem under latch err = %v, want tripped fault", err)
	}

	// Settlement bookings stay open while latched.
	if err := v.AddAssets(ctx, dec("5")); err != nil {
		t.Fatalf("AddAssets under latch: %v", err)
	}
	if err := v.RemoveAssets(ctx, dec("5")); err != nil {
		t.Fatalf("RemoveAssets under latch: %v", err)
	}
}

func TestVaultInsolventPoolSuspendsDeposits(t *testing.T) {
	v := NewVault(memory.New(), models.PoolJunior)
	ctx := context.Background()

	if _, err := v.Deposit(ctx, "alice", dec("10")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := v.RemoveAssets(ctx, dec("10")); err != nil {
		t.Fatalf("RemoveAssets: %v", err)
	}
	if _, err := v.Deposit(ctx, "bob", dec("10")); !fault.IsKind(err, fault.KindPolicy) {
		t.Fatal("deposit into wiped-out pool must be suspended")
	}
}
