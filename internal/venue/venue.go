// Package venue defines the trade capability the hedge engine expects from
// an external prediction-market liquidity source. Each adapter may fail
// independently; the hedge engine degrades per-venue failures instead of
// aborting aggregate operations.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownEvent is returned when the venue does not list the event.
	ErrUnknownEvent = errors.New("venue: unknown event")

	// ErrMarketResolved is returned for trade attempts on a resolved market.
	ErrMarketResolved = errors.New("venue: market already resolved")
)

// Quote is one venue's view of an event's YES outcome token.
type Quote struct {
	Price     decimal.Decimal
	Liquidity decimal.Decimal
	Resolved  bool
	At        time.Time
}

// TradeResult reports an executed buy or sell.
type TradeResult struct {
	Quantity decimal.Decimal
	Cost     decimal.Decimal
}

// SettleResult reports redeemed proceeds for a settled position.
type SettleResult struct {
	Payout decimal.Decimal
}

// Adapter is the per-venue trade capability.
type Adapter interface {
	Name() string
	ValidateEvent(ctx context.Context, eventID string) (bool, error)
	Quote(ctx context.Context, eventID string) (Quote, error)
	BuyOutcome(ctx context.Context, eventID string, quantity, maxCost decimal.Decimal) (TradeResult, error)
	SellOutcome(ctx context.Context, eventID string, quantity decimal.Decimal) (TradeResult, error)
	SettlePosition(ctx context.Context, eventID string) (SettleResult, error)
}
