package hedge

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
	"coverx/internal/models"
	"coverx/internal/repository/memory"
	"coverx/internal/venue"
)

const testEvent = "0x" + "1234123412341234123412341234123412341234123412341234123412341234"

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	eng := New(memory.New(), zap.NewNop(), config.HedgeConfig{
		MaxVenues:          10,
		MinLiquidity:       100,
		ReferenceLiquidity: 100000,
		MinPrice:           0.01,
		MaxPrice:           0.99,
		PriceStaleness:     5 * time.Minute,
		RebalanceThreshold: 0.10,
		SlippageTolerance:  0.02,
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	return eng, &now
}

func register(t *testing.T, eng *Engine, name string, weight int) *venue.StaticAdapter {
	t.Helper()
	adapter := venue.NewStaticAdapter(name)
	err := eng.Register(context.Background(), models.Venue{
		Name:    name,
		Kind:    "static",
		Weight:  weight,
		Enabled: true,
	}, adapter)
	if err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
	return adapter
}

func TestUpdatePricesLiquidityWeighted(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	b := register(t, eng, "beta", 1)
	c := register(t, eng, "gamma", 1)
	a.SetQuote(testEvent, dec("0.20"), dec("30000"))
	b.SetQuote(testEvent, dec("0.40"), dec("10000"))
	c.SetQuote(testEvent, dec("0.50"), dec("50")) // below liquidity floor

	snapshot, err := eng.UpdatePrices(ctx, testEvent)
	if err != nil {
		t.Fatalf("UpdatePrices: %v", err)
	}
	// (0.20*30000 + 0.40*10000) / 40000 = 0.25
	if !snapshot.Price.Equal(dec("0.25")) {
		t.Fatalf("Price = %s, want 0.25", snapshot.Price)
	}
	if snapshot.VenueCount != 2 {
		t.Fatalf("VenueCount = %d, want 2", snapshot.VenueCount)
	}
	if !snapshot.Confidence.Equal(dec("0.4")) {
		t.Fatalf("Confidence = %s, want 0.4 (40000/100000)", snapshot.Confidence)
	}
}

func TestUpdatePricesRejectsBandViolations(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.995"), dec("50000")) // above MaxPrice

	if _, err := eng.UpdatePrices(ctx, testEvent); !fault.IsKind(err, fault.KindDependency) {
		t.Fatalf("err = %v, want dependency fault with no usable quotes", err)
	}
}

func TestPriceStaleness(t *testing.T) {
	eng, now := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.30"), dec("20000"))
	if _, err := eng.UpdatePrices(ctx, testEvent); err != nil {
		t.Fatalf("UpdatePrices: %v", err)
	}

	if _, err := eng.Price(ctx, testEvent); err != nil {
		t.Fatalf("fresh Price: %v", err)
	}
	*now = now.Add(6 * time.Minute)
	if _, err := eng.Price(ctx, testEvent); !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("stale Price err = %v, want policy fault", err)
	}
}

func TestBuySplitsByWeight(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 3)
	b := register(t, eng, "beta", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))
	b.SetQuote(testEvent, dec("0.25"), dec("50000"))

	result, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("50"))
	if err != nil {
		t.Fatalf("BuyYes: %v", err)
	}
	if !result.Filled.Equal(dec("100")) {
		t.Fatalf("Filled = %s, want 100", result.Filled)
	}
	if !a.Bought(testEvent).Equal(dec("75")) {
		t.Fatalf("alpha filled %s, want 75", a.Bought(testEvent))
	}
	if !b.Bought(testEvent).Equal(dec("25")) {
		t.Fatalf("beta filled %s, want 25", b.Bought(testEvent))
	}
	if !result.Cost.Equal(dec("25")) {
		t.Fatalf("Cost = %s, want 25", result.Cost)
	}

	book, _ := eng.Book(ctx, testEvent)
	if book == nil || !book.Quantity.Equal(dec("100")) {
		t.Fatalf("book quantity = %v, want 100", book)
	}
}

func TestBuyIsolatesVenueFailure(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	b := register(t, eng, "beta", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))
	b.SetQuote(testEvent, dec("0.25"), dec("50000"))
	a.FailBuys(testEvent, errors.New("venue down"))

	result, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100"))
	if err != nil {
		t.Fatalf("BuyYes: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "alpha" {
		t.Fatalf("Failed = %v, want [alpha]", result.Failed)
	}
	// beta is last and absorbs the remainder.
	if !result.Filled.Equal(dec("100")) {
		t.Fatalf("Filled = %s, want 100", result.Filled)
	}
	book, _ := eng.Book(ctx, testEvent)
	if !book.Quantity.Equal(dec("100")) {
		t.Fatalf("book quantity = %s, want 100", book.Quantity)
	}
}

func TestRebalanceWithinThresholdIsNoop(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))

	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}
	// Target 105: drift 5 within the 10% band.
	if err := eng.Rebalance(ctx, testEvent, dec("105"), dec("100")); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if !a.Bought(testEvent).Equal(dec("100")) {
		t.Fatalf("position moved inside threshold: %s", a.Bought(testEvent))
	}
}

func TestRebalanceUpBuysDifference(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))

	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}
	if err := eng.Rebalance(ctx, testEvent, dec("150"), dec("100")); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	book, _ := eng.Book(ctx, testEvent)
	if !book.Quantity.Equal(dec("150")) {
		t.Fatalf("book quantity = %s, want 150", book.Quantity)
	}
	if book.LastRebalanceAt == nil {
		t.Fatal("LastRebalanceAt not set")
	}
}

func TestRebalanceDownDefersOnFailure(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))

	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}

	a.FailSells(testEvent, errors.New("venue down"))
	if err := eng.Rebalance(ctx, testEvent, dec("60"), decimal.Zero); err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	book, _ := eng.Book(ctx, testEvent)
	if !book.PendingReduction.Equal(dec("40")) {
		t.Fatalf("PendingReduction = %s, want 40 after failed sell", book.PendingReduction)
	}
	if !book.Quantity.Equal(dec("100")) {
		t.Fatalf("Quantity = %s, want unchanged 100", book.Quantity)
	}

	// Venue recovers; the next rebalance works the backlog off.
	a.FailSells(testEvent, nil)
	if err := eng.Rebalance(ctx, testEvent, dec("60"), decimal.Zero); err != nil {
		t.Fatalf("Rebalance retry: %v", err)
	}
	book, _ = eng.Book(ctx, testEvent)
	if !book.PendingReduction.IsZero() {
		t.Fatalf("PendingReduction = %s, want 0", book.PendingReduction)
	}
	if !book.Quantity.Equal(dec("60")) {
		t.Fatalf("Quantity = %s, want 60", book.Quantity)
	}
}

func TestSettleOnceAndIsolation(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	b := register(t, eng, "beta", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))
	b.SetQuote(testEvent, dec("0.25"), dec("50000"))

	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}

	a.SetResolved(testEvent, dec("50"))
	b.SetResolved(testEvent, dec("50"))
	b.FailSettles(testEvent, errors.New("venue down"))

	outcome, err := eng.Settle(ctx, testEvent)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !outcome.Proceeds.Equal(dec("50")) {
		t.Fatalf("Proceeds = %s, want 50 from alpha only", outcome.Proceeds)
	}
	if len(outcome.Pending) != 1 || outcome.Pending[0] != "beta" {
		t.Fatalf("Pending = %v, want [beta]", outcome.Pending)
	}
	book, _ := eng.Book(ctx, testEvent)
	if book.Settled {
		t.Fatal("book marked settled with a venue still pending")
	}

	// The later sweep only touches the open position.
	b.FailSettles(testEvent, nil)
	outcome, err = eng.Settle(ctx, testEvent)
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if !outcome.Proceeds.Equal(dec("50")) {
		t.Fatalf("second Proceeds = %s, want 50 from beta only", outcome.Proceeds)
	}
	book, _ = eng.Book(ctx, testEvent)
	if !book.Settled {
		t.Fatal("book not settled after all venues cleared")
	}

	if _, err := eng.Settle(ctx, testEvent); !fault.IsKind(err, fault.KindPolicy) {
		t.Fatalf("settling a settled book err = %v, want policy fault", err)
	}
}

// gaugeSink captures execution-quality readings.
type gaugeSink struct {
	vals map[string]float64
}

func (g *gaugeSink) SetGauge(name string, v float64) {
	if g.vals == nil {
		g.vals = map[string]float64{}
	}
	g.vals[name] = v
}

func TestBuyRecordsSlippage(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()
	sink := &gaugeSink{}
	eng.Stats = sink

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))
	if _, err := eng.UpdatePrices(ctx, testEvent); err != nil {
		t.Fatalf("UpdatePrices: %v", err)
	}

	// The market moves after the snapshot; fills land 20% above it.
	a.SetQuote(testEvent, dec("0.30"), dec("50000"))
	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("30")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}
	if got := sink.vals[MetricSlippage]; got != 0.2 {
		t.Fatalf("slippage gauge = %v, want 0.2", got)
	}
}

func TestRebalanceBlockedByEmergencyLatch(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))
	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}

	latch := breaker.New(memory.New(), nil, zap.NewNop(), config.BreakerConfig{})
	if err := latch.SetEmergency(ctx, true); err != nil {
		t.Fatalf("SetEmergency: %v", err)
	}
	eng.Breaker = latch

	err := eng.Rebalance(ctx, testEvent, dec("150"), dec("100"))
	if !fault.IsKind(err, fault.KindTripped) {
		t.Fatalf("err = %v, want tripped fault", err)
	}
	book, _ := eng.Book(ctx, testEvent)
	if !book.Quantity.Equal(dec("100")) {
		t.Fatalf("book quantity = %s, want unchanged 100", book.Quantity)
	}
}

// greedyAdapter fills the full quantity regardless of the cost ceiling.
type greedyAdapter struct{ *venue.StaticAdapter }

func (g greedyAdapter) BuyOutcome(ctx context.Context, eventID string, quantity, _ decimal.Decimal) (venue.TradeResult, error) {
	return g.StaticAdapter.BuyOutcome(ctx, eventID, quantity, decimal.Zero)
}

func TestBuyBudgetOverrunKeepsBookConsistent(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	inner := venue.NewStaticAdapter("alpha")
	err := eng.Register(ctx, models.Venue{Name: "alpha", Kind: "static", Weight: 1, Enabled: true}, greedyAdapter{inner})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	inner.SetQuote(testEvent, dec("0.5"), dec("50000"))

	_, err = eng.BuyYes(ctx, testEvent, dec("100"), dec("25"))
	if !fault.IsKind(err, fault.KindFatal) {
		t.Fatalf("err = %v, want fatal fault on budget overrun", err)
	}

	// The book must still equal the sum of the saved venue positions.
	book, _ := eng.Book(ctx, testEvent)
	positions, _ := eng.Repo.ListHedgePositions(ctx, testEvent)
	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(pos.Quantity)
	}
	if book == nil || !book.Quantity.Equal(total) {
		t.Fatalf("book quantity = %v, positions sum = %s, want equal", book, total)
	}
	if !total.Equal(dec("100")) {
		t.Fatalf("positions sum = %s, want 100", total)
	}
}

func TestEmergencyExitPartialFill(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))
	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}

	a.SetFillCap(testEvent, dec("40"))
	result, err := eng.EmergencyExit(ctx, testEvent)
	if err != nil {
		t.Fatalf("EmergencyExit: %v", err)
	}
	if !result.Filled.Equal(dec("40")) {
		t.Fatalf("Filled = %s, want 40", result.Filled)
	}

	// 60 tokens remain; 25 cost basis comes off proportionally to 15.
	book, _ := eng.Book(ctx, testEvent)
	if !book.Quantity.Equal(dec("60")) {
		t.Fatalf("book quantity = %s, want 60", book.Quantity)
	}
	if !book.CostBasis.Equal(dec("15")) {
		t.Fatalf("book cost basis = %s, want 15", book.CostBasis)
	}
	pos, _ := eng.Repo.GetHedgePosition(ctx, testEvent, "alpha")
	if !pos.Quantity.Equal(dec("60")) || !pos.CostBasis.Equal(dec("15")) {
		t.Fatalf("position = %s @ %s, want 60 @ 15", pos.Quantity, pos.CostBasis)
	}
}

func TestEmergencyExit(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	a := register(t, eng, "alpha", 1)
	a.SetQuote(testEvent, dec("0.25"), dec("50000"))

	if _, err := eng.BuyYes(ctx, testEvent, dec("100"), dec("100")); err != nil {
		t.Fatalf("BuyYes: %v", err)
	}
	result, err := eng.EmergencyExit(ctx, testEvent)
	if err != nil {
		t.Fatalf("EmergencyExit: %v", err)
	}
	if !result.Filled.Equal(dec("100")) {
		t.Fatalf("Filled = %s, want 100", result.Filled)
	}
	book, _ := eng.Book(ctx, testEvent)
	if !book.Quantity.IsZero() {
		t.Fatalf("book quantity = %s, want 0", book.Quantity)
	}
}
