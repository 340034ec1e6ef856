// Package waterfall is the top-level orchestrator: it prices coverage off the
// aggregated hedge price, routes premium into hedging, reserves, and the
// treasury, settles events against the oracle consensus, and allocates
// realized losses across the junior pool and the senior layer.
package waterfall

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coverx/internal/breaker"
	"coverx/internal/config"
	"coverx/internal/fault"
	"coverx/internal/hedge"
	"coverx/internal/ledger"
	"coverx/internal/metrics"
	"coverx/internal/models"
	"coverx/internal/oracle"
	"coverx/internal/repository"
)

type Engine struct {
	Repo     repository.Repository
	Logger   *zap.Logger
	Cfg      config.WaterfallConfig
	Oracle   *oracle.Service
	Hedge    *hedge.Engine
	Breaker  *breaker.Engine
	Coverage *ledger.CoverageLedger
	Junior   *ledger.Vault
	Treasury *ledger.Vault
	Stats    *Stats

	// Now is swapped in tests.
	Now func() time.Time
}

func New(
	repo repository.Repository,
	logger *zap.Logger,
	cfg config.WaterfallConfig,
	oracleSvc *oracle.Service,
	hedgeEng *hedge.Engine,
	breakerEng *breaker.Engine,
	stats *Stats,
) *Engine {
	junior := ledger.NewVault(repo, models.PoolJunior)
	treasury := ledger.NewVault(repo, models.PoolTreasury)
	// The orchestrator owns the cross-wiring: the emergency latch guards
	// the share ledgers and the hedge rebalancer, and the collaborating
	// engines feed their breaker metrics through the shared stats sink.
	if breakerEng != nil {
		junior.Breaker = breakerEng
		treasury.Breaker = breakerEng
		if hedgeEng != nil {
			hedgeEng.Breaker = breakerEng
		}
	}
	if stats != nil {
		if hedgeEng != nil {
			hedgeEng.Stats = stats
		}
		if oracleSvc != nil {
			oracleSvc.Stats = stats
		}
		// A book with no sold liability is fully hedged; without the seed
		// the inverted correlation breaker would trip on a fresh process.
		stats.SetGauge(MetricHedgeCorrelation, 1)
	}
	return &Engine{
		Repo:     repo,
		Logger:   logger,
		Cfg:      cfg,
		Oracle:   oracleSvc,
		Hedge:    hedgeEng,
		Breaker:  breakerEng,
		Coverage: ledger.NewCoverageLedger(repo),
		Junior:   junior,
		Treasury: treasury,
		Stats:    stats,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Quote prices units of coverage at the current aggregate market price
// without mutating anything.
func (e *Engine) Quote(ctx context.Context, eventID string, units decimal.Decimal) (decimal.Decimal, error) {
	const op = "waterfall.quote"
	if !units.IsPositive() {
		return decimal.Zero, fault.Newf(fault.KindValidation, op, "non-positive units %s", units)
	}
	product, err := e.activeProduct(ctx, op, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	snapshot, err := e.Hedge.Price(ctx, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	return perUnitPremium(product, snapshot.Price).Mul(units), nil
}

// perUnitPremium = strike*price*hedgeRatio + strike*reserveRatio + strike*feeRatio.
func perUnitPremium(p *models.Product, price decimal.Decimal) decimal.Decimal {
	hedgeCut := p.Strike.Mul(price).Mul(p.HedgeRatio)
	reserveCut := p.Strike.Mul(p.ReserveRatio)
	feeCut := p.Strike.Mul(p.FeeRatio)
	return hedgeCut.Add(reserveCut).Add(feeCut)
}

// BuyCoverage sells units of coverage to buyer. The premium splits into a
// hedge budget spent at the venues, a reserve accrual, and a protocol fee.
// A hedge failure diverts the unspent budget into reserves and issuance
// still completes; the position is minted only after all transfers landed.
func (e *Engine) BuyCoverage(ctx context.Context, eventID, buyer string, units, maxPremium decimal.Decimal) (decimal.Decimal, error) {
	const op = "waterfall.buy_coverage"
	if err := e.Breaker.Guard(op); err != nil {
		return decimal.Zero, err
	}
	if buyer == "" {
		return decimal.Zero, fault.New(fault.KindValidation, op, "empty buyer")
	}
	if !units.IsPositive() {
		return decimal.Zero, fault.Newf(fault.KindValidation, op, "non-positive units %s", units)
	}
	product, err := e.activeProduct(ctx, op, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	state, err := e.productState(ctx, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	if state.Settled {
		return decimal.Zero, fault.New(fault.KindPolicy, op, "event already settled")
	}

	soldAfter := state.SoldUnits.Add(units)
	if soldAfter.Mul(product.Strike).GreaterThan(product.MaxNotional) {
		return decimal.Zero, fault.Newf(fault.KindPolicy, op, "notional cap %s exceeded", product.MaxNotional)
	}

	snapshot, err := e.Hedge.Price(ctx, eventID)
	if err != nil {
		return decimal.Zero, err
	}

	premium := perUnitPremium(product, snapshot.Price).Mul(units)
	if maxPremium.IsPositive() && premium.GreaterThan(maxPremium) {
		return decimal.Zero, fault.Newf(fault.KindPolicy, op, "premium %s exceeds ceiling %s", premium, maxPremium)
	}

	hedgeBudget := product.Strike.Mul(snapshot.Price).Mul(product.HedgeRatio).Mul(units)
	reserveCut := product.Strike.Mul(product.ReserveRatio).Mul(units)
	feeCut := product.Strike.Mul(product.FeeRatio).Mul(units)

	juniorAssets, err := e.Junior.Assets(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if juniorAssets.LessThan(hedgeBudget.Add(reserveCut)) {
		return decimal.Zero, fault.Newf(fault.KindPolicy, op, "pool liquidity %s below hedge budget plus reserve %s", juniorAssets, hedgeBudget.Add(reserveCut))
	}

	// Hedge exposure is strike-sized: hedgeRatio*units of liability, each
	// unit paying strike on the bad outcome.
	hedgeQuantity := product.Strike.Mul(product.HedgeRatio).Mul(units)
	diverted := decimal.Zero
	result, err := e.Hedge.BuyYes(ctx, eventID, hedgeQuantity, hedgeBudget)
	if err != nil {
		if fault.IsKind(err, fault.KindFatal) {
			return decimal.Zero, err
		}
		diverted = hedgeBudget.Mul(decimal.NewFromFloat(e.Cfg.HedgeDivertShare))
		e.Logger.Warn("hedge buy failed, diverting budget to reserves",
			zap.String("event_id", eventID),
			zap.String("diverted", diverted.String()),
			zap.Error(err))
	} else if result.Cost.LessThan(hedgeBudget) {
		diverted = hedgeBudget.Sub(result.Cost)
		if len(result.Failed) > 0 {
			e.Logger.Warn("partial hedge fill, diverting remainder to reserves",
				zap.String("event_id", eventID),
				zap.Strings("failed_venues", result.Failed),
				zap.String("diverted", diverted.String()))
		}
	}
	if diverted.IsPositive() {
		metrics.HedgeDiverted.Add(toFloat(diverted))
	}

	if err := e.Treasury.AddAssets(ctx, feeCut); err != nil {
		return decimal.Zero, err
	}
	state.Reserves = state.Reserves.Add(reserveCut).Add(diverted)
	state.SoldUnits = soldAfter
	if err := e.Repo.SaveProductState(ctx, state); err != nil {
		return decimal.Zero, err
	}

	if err := e.Coverage.Mint(ctx, eventID, buyer, units); err != nil {
		return decimal.Zero, err
	}

	if product.TradingStartedAt == nil {
		now := e.Now()
		product.TradingStartedAt = &now
		if err := e.Repo.SaveProduct(ctx, product); err != nil {
			return decimal.Zero, err
		}
	}

	metrics.PremiumsCollected.WithLabelValues(eventID).Add(toFloat(premium))
	metrics.CoverageUnitsSold.WithLabelValues(eventID).Add(toFloat(units))
	e.Stats.Add(MetricVolume, toFloat(premium))
	// Hedge coverage ratio of the book against the sold liability; the
	// correlation breaker trips when this decays.
	if book, err := e.Hedge.Book(ctx, eventID); err == nil && book != nil {
		hedgeTarget := product.Strike.Mul(product.HedgeRatio).Mul(soldAfter)
		if hedgeTarget.IsPositive() {
			e.Stats.SetGauge(MetricHedgeCorrelation, toFloat(book.Quantity.Div(hedgeTarget)))
		}
	}
	e.Logger.Info("coverage sold",
		zap.String("event_id", eventID),
		zap.String("buyer", buyer),
		zap.String("units", units.String()),
		zap.String("premium", premium.String()))
	return premium, nil
}

// SettleEvent locks in the oracle outcome for the event: snapshots pre-event
// assets, fixes the junior loss limit, folds hedge proceeds and reserves
// into the junior pool, and flips the irreversible settled flag.
func (e *Engine) SettleEvent(ctx context.Context, eventID string) error {
	const op = "waterfall.settle_event"
	product, err := e.Repo.GetProduct(ctx, eventID)
	if err != nil {
		return err
	}
	if product == nil {
		return fault.Newf(fault.KindValidation, op, "unknown event %s", eventID)
	}
	state, err := e.productState(ctx, eventID)
	if err != nil {
		return err
	}
	if state.Settled {
		return fault.New(fault.KindPolicy, op, "event already settled")
	}

	final, err := e.Oracle.Final(ctx, eventID)
	if err != nil {
		return err
	}
	minConfidence := decimal.NewFromFloat(e.Cfg.MinConfidence)
	if final.Confidence.LessThan(minConfidence) {
		return fault.Newf(fault.KindPolicy, op, "consensus confidence %s below required %s", final.Confidence, minConfidence)
	}

	preEventAssets, err := e.Junior.Assets(ctx)
	if err != nil {
		return err
	}

	settled, err := e.Hedge.Settle(ctx, eventID)
	if err != nil && !fault.IsKind(err, fault.KindPolicy) {
		return err
	}
	if err == nil {
		if len(settled.Pending) > 0 {
			e.Logger.Warn("hedge settlement left venues pending",
				zap.String("event_id", eventID),
				zap.Strings("pending_venues", settled.Pending))
		}
		if err := e.Junior.AddAssets(ctx, settled.Proceeds); err != nil {
			return err
		}
	}
	if state.Reserves.IsPositive() {
		if err := e.Junior.AddAssets(ctx, state.Reserves); err != nil {
			return err
		}
		state.Reserves = decimal.Zero
	}

	now := e.Now()
	state.Settled = true
	state.Outcome = final.Outcome
	state.PreEventAssets = preEventAssets
	state.JuniorLossLimit = preEventAssets.Mul(product.Retention)
	state.SettledAt = &now
	if err := e.Repo.SaveProductState(ctx, state); err != nil {
		return err
	}
	e.Logger.Info("event settled",
		zap.String("event_id", eventID),
		zap.Bool("outcome", final.Outcome),
		zap.String("junior_loss_limit", state.JuniorLossLimit.String()))
	return nil
}

// RedeemCoverage burns the holder's units and, on a bad outcome, pays
// strike*units through the loss waterfall: junior pool first up to its
// retention limit, then the senior layer, then a buffered pro-rata fallback
// from pool assets when the senior layer cannot absorb the excess.
func (e *Engine) RedeemCoverage(ctx context.Context, eventID, holder string, units decimal.Decimal) (decimal.Decimal, error) {
	const op = "waterfall.redeem_coverage"
	product, err := e.Repo.GetProduct(ctx, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	if product == nil {
		return decimal.Zero, fault.Newf(fault.KindValidation, op, "unknown event %s", eventID)
	}
	state, err := e.productState(ctx, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	if !state.Settled {
		return decimal.Zero, fault.New(fault.KindPolicy, op, "event not settled")
	}

	// Burn before pay: a failed burn (insufficient balance) rejects the
	// redemption before any money moves, and the position cannot be
	// redeemed twice.
	if err := e.Coverage.Burn(ctx, eventID, holder, units); err != nil {
		return decimal.Zero, err
	}

	if !state.Outcome {
		e.Logger.Info("coverage redeemed on good outcome",
			zap.String("event_id", eventID),
			zap.String("holder", holder),
			zap.String("units", units.String()))
		return decimal.Zero, nil
	}

	payout := product.Strike.Mul(units)

	juniorAssets, err := e.Junior.Assets(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	headroom := state.JuniorLossLimit.Sub(state.JuniorLossPaid)
	if headroom.IsNegative() {
		headroom = decimal.Zero
	}
	juniorShare := decimal.Min(payout, headroom, juniorAssets)

	excess := payout.Sub(juniorShare)
	layer, err := e.Repo.GetLayer(ctx, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	if layer == nil {
		layer = &models.Layer{EventID: eventID}
	}
	seniorShare := decimal.Min(excess, layer.Available())

	// Senior shortfall: pay what the buffered pool can bear instead of
	// failing the whole redemption.
	fallback := decimal.Zero
	if shortfall := excess.Sub(seniorShare); shortfall.IsPositive() {
		cap := juniorAssets.Sub(juniorShare).Mul(decimal.NewFromFloat(e.Cfg.SolvencyBuffer))
		fallback = decimal.Min(shortfall, cap)
		if fallback.IsNegative() {
			fallback = decimal.Zero
		}
		e.Logger.Warn("senior layer shortfall, pro-rata reduced payout",
			zap.String("event_id", eventID),
			zap.String("shortfall", shortfall.String()),
			zap.String("fallback", fallback.String()))
	}

	fromPool := juniorShare.Add(fallback)
	if juniorAssets.LessThan(fromPool) {
		return decimal.Zero, fault.Newf(fault.KindFatal, op, "pool assets %s cannot cover payout %s", juniorAssets, fromPool)
	}
	if fromPool.IsPositive() {
		if err := e.Junior.RemoveAssets(ctx, fromPool); err != nil {
			return decimal.Zero, err
		}
	}
	if seniorShare.IsPositive() {
		layer.Used = layer.Used.Add(seniorShare)
		if err := e.Repo.SaveLayer(ctx, layer); err != nil {
			return decimal.Zero, err
		}
	}

	paid := juniorShare.Add(seniorShare).Add(fallback)
	state.JuniorLossPaid = state.JuniorLossPaid.Add(juniorShare)
	state.RealizedLoss = state.RealizedLoss.Add(paid)
	if err := e.Repo.SaveProductState(ctx, state); err != nil {
		return decimal.Zero, err
	}

	metrics.PayoutsPaid.WithLabelValues("junior").Add(toFloat(juniorShare))
	metrics.PayoutsPaid.WithLabelValues("senior").Add(toFloat(seniorShare))
	metrics.PayoutsPaid.WithLabelValues("fallback").Add(toFloat(fallback))
	e.Stats.Add(MetricRealizedLoss, toFloat(paid))
	if state.PreEventAssets.IsPositive() {
		e.Stats.SetGauge(MetricPoolLossRatio, toFloat(state.RealizedLoss.Div(state.PreEventAssets)))
	}
	e.Logger.Info("coverage redeemed",
		zap.String("event_id", eventID),
		zap.String("holder", holder),
		zap.String("paid", paid.String()),
		zap.String("junior", juniorShare.String()),
		zap.String("senior", seniorShare.String()),
		zap.String("fallback", fallback.String()))
	return paid, nil
}

// SetSeniorLayer installs or resizes the per-event senior reimbursement
// limit. Shrinking below the amount already used is rejected.
func (e *Engine) SetSeniorLayer(ctx context.Context, eventID string, limit decimal.Decimal) error {
	const op = "waterfall.set_layer"
	if limit.IsNegative() {
		return fault.Newf(fault.KindValidation, op, "negative limit %s", limit)
	}
	layer, err := e.Repo.GetLayer(ctx, eventID)
	if err != nil {
		return err
	}
	if layer == nil {
		layer = &models.Layer{EventID: eventID}
	}
	if limit.LessThan(layer.Used) {
		return fault.Newf(fault.KindPolicy, op, "limit %s below already used %s", limit, layer.Used)
	}
	layer.Limit = limit
	return e.Repo.SaveLayer(ctx, layer)
}

func (e *Engine) activeProduct(ctx context.Context, op, eventID string) (*models.Product, error) {
	if !models.IsEventID(eventID) {
		return nil, fault.Newf(fault.KindValidation, op, "malformed event id %q", eventID)
	}
	product, err := e.Repo.GetProduct(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fault.Newf(fault.KindValidation, op, "unknown event %s", eventID)
	}
	if !product.Active {
		return nil, fault.Newf(fault.KindValidation, op, "product %s is inactive", eventID)
	}
	return product, nil
}

func (e *Engine) productState(ctx context.Context, eventID string) (*models.ProductState, error) {
	state, err := e.Repo.GetProductState(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &models.ProductState{EventID: eventID}
	}
	return state, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
