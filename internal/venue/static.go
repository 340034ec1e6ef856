package venue

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticAdapter is an in-process venue used for tests and development.
// Quotes and failures are scriptable per event.
type StaticAdapter struct {
	VenueName string

	mu       sync.Mutex
	quotes   map[string]Quote
	fillCap  map[string]decimal.Decimal // max quantity filled per order
	payouts  map[string]decimal.Decimal
	failBuy  map[string]error
	failSell map[string]error
	failStl  map[string]error

	bought map[string]decimal.Decimal
}

func NewStaticAdapter(name string) *StaticAdapter {
	return &StaticAdapter{
		VenueName: name,
		quotes:    map[string]Quote{},
		fillCap:   map[string]decimal.Decimal{},
		payouts:   map[string]decimal.Decimal{},
		failBuy:   map[string]error{},
		failSell:  map[string]error{},
		failStl:   map[string]error{},
		bought:    map[string]decimal.Decimal{},
	}
}

func (a *StaticAdapter) Name() string { return a.VenueName }

func (a *StaticAdapter) SetQuote(eventID string, price, liquidity decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes[eventID] = Quote{Price: price, Liquidity: liquidity, At: time.Now().UTC()}
}

func (a *StaticAdapter) SetResolved(eventID string, payout decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := a.quotes[eventID]
	q.Resolved = true
	a.quotes[eventID] = q
	a.payouts[eventID] = payout
}

// SetFillCap limits how much of any single order the venue will fill.
func (a *StaticAdapter) SetFillCap(eventID string, cap decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fillCap[eventID] = cap
}

func (a *StaticAdapter) FailBuys(eventID string, err error)    { a.mu.Lock(); a.failBuy[eventID] = err; a.mu.Unlock() }
func (a *StaticAdapter) FailSells(eventID string, err error)   { a.mu.Lock(); a.failSell[eventID] = err; a.mu.Unlock() }
func (a *StaticAdapter) FailSettles(eventID string, err error) { a.mu.Lock(); a.failStl[eventID] = err; a.mu.Unlock() }

func (a *StaticAdapter) Bought(eventID string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bought[eventID]
}

func (a *StaticAdapter) ValidateEvent(_ context.Context, eventID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.quotes[eventID]
	return ok, nil
}

func (a *StaticAdapter) Quote(_ context.Context, eventID string) (Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.quotes[eventID]
	if !ok {
		return Quote{}, ErrUnknownEvent
	}
	return q, nil
}

func (a *StaticAdapter) BuyOutcome(_ context.Context, eventID string, quantity, maxCost decimal.Decimal) (TradeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failBuy[eventID]; err != nil {
		return TradeResult{}, err
	}
	q, ok := a.quotes[eventID]
	if !ok {
		return TradeResult{}, ErrUnknownEvent
	}
	if q.Resolved {
		return TradeResult{}, ErrMarketResolved
	}
	filled := quantity
	if cap, ok := a.fillCap[eventID]; ok && filled.GreaterThan(cap) {
		filled = cap
	}
	cost := filled.Mul(q.Price)
	if maxCost.IsPositive() && cost.GreaterThan(maxCost) {
		// Fill down to the cost ceiling at the quoted price.
		filled = maxCost.Div(q.Price)
		cost = maxCost
	}
	a.bought[eventID] = a.bought[eventID].Add(filled)
	return TradeResult{Quantity: filled, Cost: cost}, nil
}

func (a *StaticAdapter) SellOutcome(_ context.Context, eventID string, quantity decimal.Decimal) (TradeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failSell[eventID]; err != nil {
		return TradeResult{}, err
	}
	q, ok := a.quotes[eventID]
	if !ok {
		return TradeResult{}, ErrUnknownEvent
	}
	filled := quantity
	if cap, ok := a.fillCap[eventID]; ok && filled.GreaterThan(cap) {
		filled = cap
	}
	a.bought[eventID] = a.bought[eventID].Sub(filled)
	return TradeResult{Quantity: filled, Cost: filled.Mul(q.Price)}, nil
}

func (a *StaticAdapter) SettlePosition(_ context.Context, eventID string) (SettleResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failStl[eventID]; err != nil {
		return SettleResult{}, err
	}
	return SettleResult{Payout: a.payouts[eventID]}, nil
}
