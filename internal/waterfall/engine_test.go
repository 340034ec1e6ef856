package waterfall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coverx/internal/breaker"
	"coverx/internal/config"
	"coverx/internal/fault"
	"coverx/internal/hedge"
	"coverx/internal/models"
	"coverx/internal/oracle"
	"coverx/internal/repository/memory"
	"coverx/internal/venue"
)

const testEvent = "0x" + "9876987698769876987698769876987698769876987698769876987698769876"

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	engine  *Engine
	venue   *venue.StaticAdapter
	oracle  *oracle.Service
	breaker *breaker.Engine
	now     *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	logger := zap.NewNop()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hedgeEng := hedge.New(store, logger, config.HedgeConfig{
		MaxVenues:          10,
		MinLiquidity:       100,
		ReferenceLiquidity: 100000,
		MinPrice:           0.01,
		MaxPrice:           0.99,
		PriceStaleness:     5 * time.Minute,
		RebalanceThreshold: 0.10,
	})
	hedgeEng.Now = func() time.Time { return now }

	oracleSvc := oracle.NewService(store, logger, config.OracleConfig{
		MinOracles:           2,
		MaxOracles:           5,
		MinTotalWeight:       51,
		QuorumPct:            51,
		MajorityPct:          51,
		DisputeWindow:        24 * time.Hour,
		MaxResolutionsPerDay: 50,
		ProofMaxAge:          time.Hour,
	})
	oracleSvc.Now = func() time.Time { return now }

	stats := NewStats()
	breakerEng := breaker.New(store, stats, logger, config.BreakerConfig{WindowCapacity: 8})
	breakerEng.Now = func() time.Time { return now }

	engine := New(store, logger, config.WaterfallConfig{
		MinConfidence:    0.95,
		SolvencyBuffer:   0.90,
		MinHedgeRatio:    0.5,
		MaxReserveRatio:  0.10,
		MaxFeeRatio:      0.05,
		HedgeDivertShare: 1.0,
	}, oracleSvc, hedgeEng, breakerEng, stats)
	engine.Now = func() time.Time { return now }

	adapter := venue.NewStaticAdapter("alpha")
	err := hedgeEng.Register(context.Background(), models.Venue{
		Name:    "alpha",
		Kind:    "static",
		Weight:  1,
		Enabled: true,
	}, adapter)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	return &fixture{engine: engine, venue: adapter, oracle: oracleSvc, breaker: breakerEng, now: &now}
}

func (f *fixture) createProduct(t *testing.T, strike, hedgeRatio, reserveRatio, feeRatio, retention, maxNotional string) {
	t.Helper()
	err := f.engine.Repo.CreateProduct(context.Background(), &models.Product{
		EventID:      testEvent,
		Strike:       dec(strike),
		HedgeRatio:   dec(hedgeRatio),
		ReserveRatio: dec(reserveRatio),
		FeeRatio:     dec(feeRatio),
		Retention:    dec(retention),
		MaxNotional:  dec(maxNotional),
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
}

func (f *fixture) quoteAndRefresh(t *testing.T, price, liquidity string) {
	t.Helper()
	f.venue.SetQuote(testEvent, dec(price), dec(liquidity))
	if _, err := f.engine.Hedge.UpdatePrices(context.Background(), testEvent); err != nil {
		t.Fatalf("UpdatePrices: %v", err)
	}
}

func (f *fixture) fund(t *testing.T, amount string) {
	t.Helper()
	if _, err := f.engine.Junior.Deposit(context.Background(), "lp", dec(amount)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func TestBuyCoveragePremiumSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")

	premium, err := f.engine.BuyCoverage(ctx, testEvent, "alice", dec("10"), dec("270"))
	if err != nil {
		t.Fatalf("BuyCoverage: %v", err)
	}
	// 100*0.3*0.8 + 100*0.02 + 100*0.01 = 27 per unit.
	if !premium.Equal(dec("270")) {
		t.Fatalf("premium = %s, want 270", premium)
	}

	// Hedge budget 240 buys 800 outcome tokens at 0.3.
	if !f.venue.Bought(testEvent).Equal(dec("800")) {
		t.Fatalf("hedged %s tokens, want 800", f.venue.Bought(testEvent))
	}
	state, _ := f.engine.Repo.GetProductState(ctx, testEvent)
	if !state.Reserves.Equal(dec("20")) {
		t.Fatalf("Reserves = %s, want 20", state.Reserves)
	}
	if !state.SoldUnits.Equal(dec("10")) {
		t.Fatalf("SoldUnits = %s, want 10", state.SoldUnits)
	}
	treasury, _ := f.engine.Treasury.Assets(ctx)
	if !treasury.Equal(dec("10")) {
		t.Fatalf("treasury = %s, want 10", treasury)
	}
	balance, _ := f.engine.Coverage.BalanceOf(ctx, testEvent, "alice")
	if !balance.Equal(dec("10")) {
		t.Fatalf("alice units = %s, want 10", balance)
	}
}

func TestBuyCoverageSlippageCeiling(t *testing.T) {
	f := newFixture(t)
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")

	_, err := f.engine.BuyCoverage(context.Background(), testEvent, "alice", dec("10"), dec("269"))
	if !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("err = %v, want policy fault on premium ceiling", err)
	}
}

func TestBuyCoverageNotionalCap(t *testing.T) {
	f := newFixture(t)
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "500")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")

	_, err := f.engine.BuyCoverage(context.Background(), testEvent, "alice", dec("10"), decimal.Zero)
	if !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("err = %v, want policy fault on notional cap", err)
	}
}

func TestBuyCoverageStalePrice(t *testing.T) {
	f := newFixture(t)
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")

	*f.now = f.now.Add(10 * time.Minute)
	_, err := f.engine.BuyCoverage(context.Background(), testEvent, "alice", dec("10"), decimal.Zero)
	if !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("err = %v, want policy fault on stale price", err)
	}
}

func TestBuyCoverageHedgeFailureDiverts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")
	f.venue.FailBuys(testEvent, errors.New("venue down"))

	premium, err := f.engine.BuyCoverage(ctx, testEvent, "alice", dec("10"), dec("270"))
	if err != nil {
		t.Fatalf("BuyCoverage must survive hedge failure: %v", err)
	}
	if !premium.Equal(dec("270")) {
		t.Fatalf("premium = %s, want 270", premium)
	}
	// The whole 240 hedge budget lands in reserves alongside the 20 cut.
	state, _ := f.engine.Repo.GetProductState(ctx, testEvent)
	if !state.Reserves.Equal(dec("260")) {
		t.Fatalf("Reserves = %s, want 260 with diverted hedge budget", state.Reserves)
	}
	balance, _ := f.engine.Coverage.BalanceOf(ctx, testEvent, "alice")
	if !balance.Equal(dec("10")) {
		t.Fatalf("alice units = %s, want 10", balance)
	}
}

func TestBuyCoverageBlockedByEmergencyLatch(t *testing.T) {
	f := newFixture(t)
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")

	if err := f.breaker.SetEmergency(context.Background(), true); err != nil {
		t.Fatalf("SetEmergency: %v", err)
	}
	_, err := f.engine.BuyCoverage(context.Background(), testEvent, "alice", dec("10"), decimal.Zero)
	if !fault.IsKind(err, fault.KindTripped) {
		t.Fatalf("err = %v, want tripped fault", err)
	}
}

func TestBuyCoverageFeedsCorrelationGauge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")

	// Fresh process: a book with no sold liability reads as fully hedged.
	got, err := f.engine.Stats.Metric(ctx, MetricHedgeCorrelation)
	if err != nil || got != 1 {
		t.Fatalf("seed gauge = %v err = %v, want 1", got, err)
	}

	// 10 units at hedge ratio 0.8 target 800 tokens; the venue fills all of it.
	if _, err := f.engine.BuyCoverage(ctx, testEvent, "alice", dec("10"), dec("270")); err != nil {
		t.Fatalf("BuyCoverage: %v", err)
	}
	got, _ = f.engine.Stats.Metric(ctx, MetricHedgeCorrelation)
	if got != 1 {
		t.Fatalf("gauge after full hedge = %v, want 1", got)
	}

	// A second sale with the venue down doubles the target without growing
	// the book, so the gauge drops to the hedged share.
	f.venue.FailBuys(testEvent, errors.New("venue down"))
	if _, err := f.engine.BuyCoverage(ctx, testEvent, "alice", dec("10"), dec("270")); err != nil {
		t.Fatalf("BuyCoverage with venue down: %v", err)
	}
	got, _ = f.engine.Stats.Metric(ctx, MetricHedgeCorrelation)
	if got != 0.5 {
		t.Fatalf("gauge after unhedged sale = %v, want 0.5", got)
	}
}

func TestPoolShareOpsBlockedByEmergencyLatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "1000")

	if err := f.breaker.SetEmergency(ctx, true); err != nil {
		t.Fatalf("SetEmergency: %v", err)
	}
	if _, err := f.engine.Junior.Deposit(ctx, "lp", dec("10")); !fault.IsKind(err, fault.KindTripped) {
		t.Fatalf("Deposit under latch err = %v, want tripped fault", err)
	}
	if _, err := f.engine.Junior.Redeem(ctx, "lp", dec("10")); !fault.IsKind(err, fault.KindTripped) {
		t.Fatalf("Redeem under latch err = %v, want tripped fault", err)
	}
}

func (f *fixture) settleBad(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.oracle.EmergencyResolve(ctx, testEvent, true); err != nil {
		t.Fatalf("EmergencyResolve: %v", err)
	}
	f.venue.SetResolved(testEvent, decimal.Zero)
	if err := f.engine.SettleEvent(ctx, testEvent); err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}
}

func TestSettleEventIdempotence(t *testing.T) {
	f := newFixture(t)
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.fund(t, "1000")
	f.settleBad(t)

	err := f.engine.SettleEvent(context.Background(), testEvent)
	if !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("second settle err = %v, want policy fault", err)
	}
}

func TestSettleRequiresConfidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.fund(t, "1000")

	// 60-vs-25 of 100 configured weight resolves with confidence 0.6 < 0.95.
	seats := []oracle.Assignment{
		{OracleID: "a", Kind: "dispute_game", Weight: 60},
		{OracleID: "b", Kind: "dispute_game", Weight: 25},
		{OracleID: "c", Kind: "dispute_game", Weight: 15},
	}
	if err := f.oracle.ConfigureEventOracles(ctx, testEvent, seats); err != nil {
		t.Fatalf("ConfigureEventOracles: %v", err)
	}
	proof := []byte(`{"rounds":3,"winner":"yes"}`)
	if err := f.oracle.ReportOutcome(ctx, testEvent, "a", true, proof); err != nil {
		t.Fatalf("ReportOutcome a: %v", err)
	}
	if err := f.oracle.ReportOutcome(ctx, testEvent, "b", false, proof); err != nil {
		t.Fatalf("ReportOutcome b: %v", err)
	}
	*f.now = f.now.Add(25 * time.Hour) // dispute window passes

	outcome, _ := f.engine.Repo.GetEventOutcome(ctx, testEvent)
	if outcome.Confidence.GreaterThanOrEqual(dec("0.95")) {
		t.Fatalf("fixture confidence = %s, expected below 0.95", outcome.Confidence)
	}
	err := f.engine.SettleEvent(ctx, testEvent)
	if !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("settle err = %v, want policy fault on confidence", err)
	}
}

func TestSettleSnapshotsAndFolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.quoteAndRefresh(t, "0.3", "50000")
	f.fund(t, "1000")

	if _, err := f.engine.BuyCoverage(ctx, testEvent, "alice", dec("10"), dec("270")); err != nil {
		t.Fatalf("BuyCoverage: %v", err)
	}

	if err := f.oracle.EmergencyResolve(ctx, testEvent, true); err != nil {
		t.Fatalf("EmergencyResolve: %v", err)
	}
	f.venue.SetResolved(testEvent, dec("800")) // 800 tokens pay out 1 each
	if err := f.engine.SettleEvent(ctx, testEvent); err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}

	state, _ := f.engine.Repo.GetProductState(ctx, testEvent)
	if !state.PreEventAssets.Equal(dec("1000")) {
		t.Fatalf("PreEventAssets = %s, want 1000", state.PreEventAssets)
	}
	if !state.JuniorLossLimit.Equal(dec("200")) {
		t.Fatalf("JuniorLossLimit = %s, want 200", state.JuniorLossLimit)
	}
	if !state.Reserves.IsZero() {
		t.Fatalf("Reserves = %s, want folded to 0", state.Reserves)
	}
	// 1000 pre-event + 800 proceeds + 20 reserves.
	assets, _ := f.engine.Junior.Assets(ctx)
	if !assets.Equal(dec("1820")) {
		t.Fatalf("junior assets = %s, want 1820", assets)
	}
}

func TestRedeemGoodOutcomePaysNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	f.fund(t, "1000")
	if err := f.engine.Coverage.Mint(ctx, testEvent, "alice", dec("10")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := f.oracle.EmergencyResolve(ctx, testEvent, false); err != nil {
		t.Fatalf("EmergencyResolve: %v", err)
	}
	if err := f.engine.SettleEvent(ctx, testEvent); err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}

	paid, err := f.engine.RedeemCoverage(ctx, testEvent, "alice", dec("10"))
	if err != nil {
		t.Fatalf("RedeemCoverage: %v", err)
	}
	if !paid.IsZero() {
		t.Fatalf("paid = %s, want 0 on good outcome", paid)
	}
	balance, _ := f.engine.Coverage.BalanceOf(ctx, testEvent, "alice")
	if !balance.IsZero() {
		t.Fatalf("balance = %s, want burned to 0", balance)
	}
}

func TestRedeemWaterfallSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "100000000")
	f.fund(t, "1000000")
	if err := f.engine.Coverage.Mint(ctx, testEvent, "alice", dec("2500")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := f.engine.SetSeniorLayer(ctx, testEvent, dec("100000")); err != nil {
		t.Fatalf("SetSeniorLayer: %v", err)
	}
	f.settleBad(t)

	// Retention 0.2 of 1,000,000 pre-event assets: junior limit 200,000.
	// Payout 250,000 splits 200,000 junior + 50,000 senior.
	paid, err := f.engine.RedeemCoverage(ctx, testEvent, "alice", dec("2500"))
	if err != nil {
		t.Fatalf("RedeemCoverage: %v", err)
	}
	if !paid.Equal(dec("250000")) {
		t.Fatalf("paid = %s, want 250000", paid)
	}
	state, _ := f.engine.Repo.GetProductState(ctx, testEvent)
	if !state.JuniorLossPaid.Equal(dec("200000")) {
		t.Fatalf("JuniorLossPaid = %s, want 200000", state.JuniorLossPaid)
	}
	layer, _ := f.engine.Repo.GetLayer(ctx, testEvent)
	if !layer.Used.Equal(dec("50000")) {
		t.Fatalf("layer.Used = %s, want 50000", layer.Used)
	}
	assets, _ := f.engine.Junior.Assets(ctx)
	if !assets.Equal(dec("800000")) {
		t.Fatalf("junior assets = %s, want 800000", assets)
	}
}

func TestRedeemSeniorShortfallProRata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "100000000")
	f.fund(t, "1000")
	if err := f.engine.Coverage.Mint(ctx, testEvent, "alice", dec("100")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	// No senior layer configured: excess falls back to buffered pool assets.
	f.settleBad(t)

	// Payout 10,000; junior limit 0.2*1000 = 200; remaining assets 800, the
	// 0.9 buffer allows 720 more. Total paid 920 < 1000 assets.
	paid, err := f.engine.RedeemCoverage(ctx, testEvent, "alice", dec("100"))
	if err != nil {
		t.Fatalf("RedeemCoverage: %v", err)
	}
	if !paid.Equal(dec("920")) {
		t.Fatalf("paid = %s, want 920 buffered fallback", paid)
	}
	assets, _ := f.engine.Junior.Assets(ctx)
	if !assets.Equal(dec("80")) {
		t.Fatalf("junior assets = %s, want 80 solvency remainder", assets)
	}
}

func TestRedeemBeforeSettlementFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "1000000")
	if err := f.engine.Coverage.Mint(ctx, testEvent, "alice", dec("10")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	_, err := f.engine.RedeemCoverage(ctx, testEvent, "alice", dec("10"))
	if !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("err = %v, want policy fault before settlement", err)
	}
}

func TestRedeemBurnsBeforePaying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createProduct(t, "100", "0.8", "0.02", "0.01", "0.2", "100000000")
	f.fund(t, "1000000")
	if err := f.engine.Coverage.Mint(ctx, testEvent, "alice", dec("10")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	f.settleBad(t)

	if _, err := f.engine.RedeemCoverage(ctx, testEvent, "alice", dec("10")); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	_, err := f.engine.RedeemCoverage(ctx, testEvent, "alice", dec("10"))
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("double redeem err = %v, want validation fault on burn", err)
	}
}
