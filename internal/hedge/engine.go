// Package hedge maintains the engine's offsetting outcome-token positions
// across external prediction-market venues. Orders are split by venue weight,
// venue failures degrade the slice instead of aborting the aggregate, and the
// per-event book tracks both the folded position and any deferred sell-down.
package hedge

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coverx/internal/config"
	"coverx/internal/fault"
	"coverx/internal/metrics"
	"coverx/internal/models"
	"coverx/internal/repository"
	"coverx/internal/venue"
)

// MetricSlippage is the execution-quality gauge fed to the slippage breaker.
const MetricSlippage = "hedge_slippage"

// StatsSink receives execution-quality readings. Nil disables recording.
type StatsSink interface {
	SetGauge(name string, value float64)
}

// Guard blocks risk-increasing entry points while the emergency latch is
// set. Nil means unguarded.
type Guard interface {
	Guard(op string) error
}

// Result reports one aggregate buy or sell across venues.
type Result struct {
	Requested decimal.Decimal
	Filled    decimal.Decimal
	Cost      decimal.Decimal
	Failed    []string
}

// SettleOutcome reports a settlement sweep across venues.
type SettleOutcome struct {
	Proceeds decimal.Decimal
	Pending  []string
}

type Engine struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Cfg     config.HedgeConfig
	Stats   StatsSink
	Breaker Guard

	// Now is swapped in tests.
	Now func() time.Time

	mu       sync.RWMutex
	adapters map[string]venue.Adapter
}

func New(repo repository.Repository, logger *zap.Logger, cfg config.HedgeConfig) *Engine {
	return &Engine{
		Repo:     repo,
		Logger:   logger,
		Cfg:      cfg,
		Now:      func() time.Time { return time.Now().UTC() },
		adapters: map[string]venue.Adapter{},
	}
}

// Register persists the venue row and installs its adapter. The registry is
// bounded by MaxVenues.
func (e *Engine) Register(ctx context.Context, row models.Venue, adapter venue.Adapter) error {
	const op = "hedge.register"
	if row.Name == "" || adapter == nil {
		return fault.New(fault.KindValidation, op, "venue needs a name and an adapter")
	}
	if row.Weight < 1 {
		return fault.Newf(fault.KindValidation, op, "venue %q weight must be positive", row.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.adapters[row.Name]; !exists && len(e.adapters) >= e.Cfg.MaxVenues {
		return fault.Newf(fault.KindPolicy, op, "venue registry is full (%d)", e.Cfg.MaxVenues)
	}
	if err := e.Repo.SaveVenue(ctx, &row); err != nil {
		return err
	}
	e.adapters[row.Name] = adapter
	e.Logger.Info("venue registered", zap.String("venue", row.Name), zap.Int("weight", row.Weight))
	return nil
}

func (e *Engine) adapter(name string) venue.Adapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapters[name]
}

// enabledVenues returns the persisted venue rows that are enabled and have a
// live adapter.
func (e *Engine) enabledVenues(ctx context.Context) ([]models.Venue, error) {
	rows, err := e.Repo.ListVenues(ctx)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if row.Enabled && e.adapter(row.Name) != nil {
			out = append(out, row)
		}
	}
	return out, nil
}

// UpdatePrices polls every enabled venue and folds the quotes into one
// liquidity-weighted snapshot. Quotes outside the sane price band, below the
// liquidity floor, or from resolved markets are discarded.
func (e *Engine) UpdatePrices(ctx context.Context, eventID string) (*models.PriceSnapshot, error) {
	const op = "hedge.update_prices"
	venues, err := e.enabledVenues(ctx)
	if err != nil {
		return nil, err
	}

	minPrice := decimal.NewFromFloat(e.Cfg.MinPrice)
	maxPrice := decimal.NewFromFloat(e.Cfg.MaxPrice)
	minLiquidity := decimal.NewFromFloat(e.Cfg.MinLiquidity)

	weighted := decimal.Zero
	totalLiquidity := decimal.Zero
	count := 0
	for _, row := range venues {
		quote, err := e.adapter(row.Name).Quote(ctx, eventID)
		if err != nil {
			e.Logger.Warn("venue quote failed", zap.String("venue", row.Name), zap.String("event_id", eventID), zap.Error(err))
			continue
		}
		if quote.Resolved {
			continue
		}
		if quote.Price.LessThan(minPrice) || quote.Price.GreaterThan(maxPrice) {
			e.Logger.Warn("venue quote outside price band", zap.String("venue", row.Name), zap.String("price", quote.Price.String()))
			continue
		}
		if quote.Liquidity.LessThan(minLiquidity) {
			continue
		}
		weighted = weighted.Add(quote.Price.Mul(quote.Liquidity))
		totalLiquidity = totalLiquidity.Add(quote.Liquidity)
		count++
	}
	if count == 0 {
		return nil, fault.Newf(fault.KindDependency, op, "no usable quotes for %s", eventID)
	}

	confidence := totalLiquidity.Div(decimal.NewFromFloat(e.Cfg.ReferenceLiquidity))
	one := decimal.NewFromInt(1)
	if confidence.GreaterThan(one) {
		confidence = one
	}
	snapshot := &models.PriceSnapshot{
		EventID:        eventID,
		Price:          weighted.Div(totalLiquidity),
		Confidence:     confidence,
		TotalLiquidity: totalLiquidity,
		VenueCount:     count,
		UpdatedAt:      e.Now(),
	}
	if err := e.Repo.SavePriceSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Price returns the cached snapshot, rejecting it once stale.
func (e *Engine) Price(ctx context.Context, eventID string) (*models.PriceSnapshot, error) {
	const op = "hedge.price"
	snapshot, err := e.Repo.GetPriceSnapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fault.Newf(fault.KindPolicy, op, "no price snapshot for %s", eventID)
	}
	if e.Now().Sub(snapshot.UpdatedAt) > e.Cfg.PriceStaleness {
		return nil, fault.Newf(fault.KindPolicy, op, "price snapshot for %s is stale", eventID)
	}
	return snapshot, nil
}

// BuyYes splits a buy across enabled venues proportionally to weight. A venue
// failure forfeits only that slice. The aggregate spend never exceeds
// maxCost; each slice carries its proportional share of the budget.
func (e *Engine) BuyYes(ctx context.Context, eventID string, quantity, maxCost decimal.Decimal) (Result, error) {
	const op = "hedge.buy"
	if !quantity.IsPositive() {
		return Result{}, fault.Newf(fault.KindValidation, op, "non-positive quantity %s", quantity)
	}
	book, err := e.Repo.GetHedgeBook(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	if book != nil && book.Settled {
		return Result{}, fault.New(fault.KindPolicy, op, "hedge book already settled")
	}
	venues, err := e.enabledVenues(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(venues) == 0 {
		return Result{}, fault.New(fault.KindDependency, op, "no enabled venues")
	}

	totalWeight := 0
	for _, row := range venues {
		totalWeight += row.Weight
	}

	result := Result{Requested: quantity}
	remaining := quantity
	budget := maxCost
	for i, row := range venues {
		var slice decimal.Decimal
		if i == len(venues)-1 {
			slice = remaining
		} else {
			slice = quantity.Mul(decimal.NewFromInt(int64(row.Weight))).Div(decimal.NewFromInt(int64(totalWeight)))
			if slice.GreaterThan(remaining) {
				slice = remaining
			}
		}
		if row.MaxTradeSize.IsPositive() && slice.GreaterThan(row.MaxTradeSize) {
			slice = row.MaxTradeSize
		}
		if !slice.IsPositive() {
			continue
		}
		sliceBudget := decimal.Zero
		if maxCost.IsPositive() {
			sliceBudget = budget
			if i < len(venues)-1 {
				sliceBudget = maxCost.Mul(slice).Div(quantity)
				if sliceBudget.GreaterThan(budget) {
					sliceBudget = budget
				}
			}
		}
		fill, err := e.adapter(row.Name).BuyOutcome(ctx, eventID, slice, sliceBudget)
		if err != nil {
			metrics.HedgeFills.WithLabelValues(row.Name, "error").Inc()
			e.Logger.Warn("venue buy failed", zap.String("venue", row.Name), zap.String("event_id", eventID), zap.Error(err))
			result.Failed = append(result.Failed, row.Name)
			continue
		}
		metrics.HedgeFills.WithLabelValues(row.Name, "ok").Inc()
		remaining = remaining.Sub(fill.Quantity)
		budget = budget.Sub(fill.Cost)
		result.Filled = result.Filled.Add(fill.Quantity)
		result.Cost = result.Cost.Add(fill.Cost)
		if err := e.bumpPosition(ctx, eventID, row.Name, fill.Quantity, fill.Cost); err != nil {
			return result, err
		}
	}

	// The book is bumped before the budget check so it stays reconciled
	// with the per-venue positions even on the fatal path.
	if result.Filled.IsPositive() {
		if err := e.bumpBook(ctx, eventID, result.Filled, result.Cost); err != nil {
			return result, err
		}
	}
	e.recordSlippage(ctx, eventID, result)
	if maxCost.IsPositive() && result.Cost.GreaterThan(maxCost) {
		return result, fault.Newf(fault.KindFatal, op, "aggregate cost %s exceeded budget %s", result.Cost, maxCost)
	}
	return result, nil
}

// recordSlippage compares the realized fill cost against the snapshot price
// and feeds the execution-quality gauge. Fills beyond the configured
// tolerance are logged.
func (e *Engine) recordSlippage(ctx context.Context, eventID string, result Result) {
	if e.Stats == nil || !result.Filled.IsPositive() {
		return
	}
	snapshot, err := e.Repo.GetPriceSnapshot(ctx, eventID)
	if err != nil || snapshot == nil {
		return
	}
	expected := snapshot.Price.Mul(result.Filled)
	if !expected.IsPositive() {
		return
	}
	slippage, _ := result.Cost.Sub(expected).Div(expected).Float64()
	e.Stats.SetGauge(MetricSlippage, slippage)
	if slippage > e.Cfg.SlippageTolerance {
		e.Logger.Warn("hedge slippage above tolerance",
			zap.String("event_id", eventID),
			zap.Float64("slippage", slippage),
			zap.Float64("tolerance", e.Cfg.SlippageTolerance))
	}
}

func (e *Engine) bumpPosition(ctx context.Context, eventID, venueName string, quantity, cost decimal.Decimal) error {
	pos, err := e.Repo.GetHedgePosition(ctx, eventID, venueName)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = &models.HedgePosition{EventID: eventID, Venue: venueName}
	}
	pos.Quantity = pos.Quantity.Add(quantity)
	pos.CostBasis = pos.CostBasis.Add(cost)
	return e.Repo.SaveHedgePosition(ctx, pos)
}

func (e *Engine) bumpBook(ctx context.Context, eventID string, quantity, cost decimal.Decimal) error {
	book, err := e.Repo.GetHedgeBook(ctx, eventID)
	if err != nil {
		return err
	}
	if book == nil {
		book = &models.HedgeBook{EventID: eventID}
	}
	book.Quantity = book.Quantity.Add(quantity)
	book.CostBasis = book.CostBasis.Add(cost)
	return e.Repo.SaveHedgeBook(ctx, book)
}

// Rebalance drives the book toward target. Small drift inside the threshold
// is left alone. An increase buys at market; a decrease is recorded as a
// pending reduction and worked off venue by venue, so a failed sell leaves
// the remainder on the book instead of vanishing.
func (e *Engine) Rebalance(ctx context.Context, eventID string, target, maxCost decimal.Decimal) error {
	const op = "hedge.rebalance"
	if e.Breaker != nil {
		if err := e.Breaker.Guard(op); err != nil {
			return err
		}
	}
	if target.IsNegative() {
		return fault.Newf(fault.KindValidation, op, "negative target %s", target)
	}
	book, err := e.Repo.GetHedgeBook(ctx, eventID)
	if err != nil {
		return err
	}
	if book == nil {
		book = &models.HedgeBook{EventID: eventID}
	}
	if book.Settled {
		return fault.New(fault.KindPolicy, op, "hedge book already settled")
	}

	diff := target.Sub(book.Quantity)
	if target.IsPositive() {
		threshold := target.Mul(decimal.NewFromFloat(e.Cfg.RebalanceThreshold))
		if diff.Abs().LessThanOrEqual(threshold) && book.PendingReduction.IsZero() {
			return nil
		}
	}

	now := e.Now()
	if diff.IsPositive() {
		result, err := e.BuyYes(ctx, eventID, diff, maxCost)
		if err != nil {
			return err
		}
		e.Logger.Info("hedge rebalanced up",
			zap.String("event_id", eventID),
			zap.String("filled", result.Filled.String()),
			zap.Strings("failed_venues", result.Failed))
		book, err = e.Repo.GetHedgeBook(ctx, eventID)
		if err != nil {
			return err
		}
		book.LastRebalanceAt = &now
		return e.Repo.SaveHedgeBook(ctx, book)
	}

	if diff.IsNegative() {
		// The pending target is absolute, not additive: working it off
		// brings the book to target no matter how many retries it took.
		book.PendingReduction = diff.Neg()
	}
	book.LastRebalanceAt = &now
	if err := e.Repo.SaveHedgeBook(ctx, book); err != nil {
		return err
	}
	return e.workReduction(ctx, eventID)
}

// workReduction sells down the pending reduction across venues holding
// positions. Per-venue failures leave the remainder pending.
func (e *Engine) workReduction(ctx context.Context, eventID string) error {
	book, err := e.Repo.GetHedgeBook(ctx, eventID)
	if err != nil {
		return err
	}
	if book == nil || !book.PendingReduction.IsPositive() {
		return nil
	}
	positions, err := e.Repo.ListHedgePositions(ctx, eventID)
	if err != nil {
		return err
	}

	remaining := book.PendingReduction
	for _, pos := range positions {
		if !remaining.IsPositive() {
			break
		}
		if pos.Settled || !pos.Quantity.IsPositive() {
			continue
		}
		adapter := e.adapter(pos.Venue)
		if adapter == nil {
			continue
		}
		sell := pos.Quantity
		if sell.GreaterThan(remaining) {
			sell = remaining
		}
		fill, err := adapter.SellOutcome(ctx, eventID, sell)
		if err != nil {
			metrics.HedgeFills.WithLabelValues(pos.Venue, "error").Inc()
			e.Logger.Warn("venue sell failed", zap.String("venue", pos.Venue), zap.String("event_id", eventID), zap.Error(err))
			continue
		}
		metrics.HedgeFills.WithLabelValues(pos.Venue, "ok").Inc()

		// Cost basis comes off proportionally to the quantity sold.
		costOff := pos.CostBasis
		if !pos.Quantity.Equal(fill.Quantity) {
			costOff = pos.CostBasis.Mul(fill.Quantity).Div(pos.Quantity)
		}
		pos.Quantity = pos.Quantity.Sub(fill.Quantity)
		pos.CostBasis = pos.CostBasis.Sub(costOff)
		if err := e.Repo.SaveHedgePosition(ctx, &pos); err != nil {
			return err
		}

		remaining = remaining.Sub(fill.Quantity)
		book.Quantity = book.Quantity.Sub(fill.Quantity)
		book.CostBasis = book.CostBasis.Sub(costOff)
	}

	book.PendingReduction = remaining
	return e.Repo.SaveHedgeBook(ctx, book)
}

// Settle redeems every open position for the event. A venue failure leaves
// that position open for a later sweep; the book flips to settled only once
// every position is closed. Settling a settled book is rejected.
func (e *Engine) Settle(ctx context.Context, eventID string) (SettleOutcome, error) {
	const op = "hedge.settle"
	book, err := e.Repo.GetHedgeBook(ctx, eventID)
	if err != nil {
		return SettleOutcome{}, err
	}
	if book == nil {
		return SettleOutcome{}, nil
	}
	if book.Settled {
		return SettleOutcome{}, fault.New(fault.KindPolicy, op, "hedge book already settled")
	}

	positions, err := e.Repo.ListHedgePositions(ctx, eventID)
	if err != nil {
		return SettleOutcome{}, err
	}

	now := e.Now()
	outcome := SettleOutcome{}
	for _, pos := range positions {
		if pos.Settled {
			continue
		}
		adapter := e.adapter(pos.Venue)
		if adapter == nil {
			outcome.Pending = append(outcome.Pending, pos.Venue)
			continue
		}
		result, err := adapter.SettlePosition(ctx, eventID)
		if err != nil {
			e.Logger.Warn("venue settlement failed", zap.String("venue", pos.Venue), zap.String("event_id", eventID), zap.Error(err))
			outcome.Pending = append(outcome.Pending, pos.Venue)
			continue
		}
		outcome.Proceeds = outcome.Proceeds.Add(result.Payout)
		pos.Settled = true
		pos.SettledAt = &now
		if err := e.Repo.SaveHedgePosition(ctx, &pos); err != nil {
			return outcome, err
		}
	}

	if len(outcome.Pending) == 0 {
		book.Settled = true
		book.SettledAt = &now
		book.PendingReduction = decimal.Zero
		if err := e.Repo.SaveHedgeBook(ctx, book); err != nil {
			return outcome, err
		}
	}
	e.Logger.Info("hedge settled",
		zap.String("event_id", eventID),
		zap.String("proceeds", outcome.Proceeds.String()),
		zap.Strings("pending_venues", outcome.Pending))
	return outcome, nil
}

// EmergencyExit dumps every open position at market, venue by venue. Used
// when a critical breaker fires before resolution.
func (e *Engine) EmergencyExit(ctx context.Context, eventID string) (Result, error) {
	const op = "hedge.emergency_exit"
	book, err := e.Repo.GetHedgeBook(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	if book == nil || book.Settled {
		return Result{}, fault.New(fault.KindPolicy, op, "nothing to exit")
	}

	positions, err := e.Repo.ListHedgePositions(ctx, eventID)
	if err != nil {
		return Result{}, err
	}

	result := Result{Requested: book.Quantity}
	for _, pos := range positions {
		if pos.Settled || !pos.Quantity.IsPositive() {
			continue
		}
		adapter := e.adapter(pos.Venue)
		if adapter == nil {
			result.Failed = append(result.Failed, pos.Venue)
			continue
		}
		fill, err := adapter.SellOutcome(ctx, eventID, pos.Quantity)
		if err != nil {
			e.Logger.Warn("emergency sell failed", zap.String("venue", pos.Venue), zap.String("event_id", eventID), zap.Error(err))
			result.Failed = append(result.Failed, pos.Venue)
			continue
		}
		// Partial liquidations leave the residual position in place; cost
		// basis comes off proportionally to the quantity sold.
		costOff := pos.CostBasis
		if !pos.Quantity.Equal(fill.Quantity) {
			costOff = pos.CostBasis.Mul(fill.Quantity).Div(pos.Quantity)
		}
		result.Filled = result.Filled.Add(fill.Quantity)
		result.Cost = result.Cost.Add(fill.Cost)
		book.Quantity = book.Quantity.Sub(fill.Quantity)
		book.CostBasis = book.CostBasis.Sub(costOff)
		pos.Quantity = pos.Quantity.Sub(fill.Quantity)
		pos.CostBasis = pos.CostBasis.Sub(costOff)
		if err := e.Repo.SaveHedgePosition(ctx, &pos); err != nil {
			return result, err
		}
	}
	if err := e.Repo.SaveHedgeBook(ctx, book); err != nil {
		return result, err
	}
	return result, nil
}

// Book returns the aggregate per-event position.
func (e *Engine) Book(ctx context.Context, eventID string) (*models.HedgeBook, error) {
	return e.Repo.GetHedgeBook(ctx, eventID)
}
