// Package strategy computes new listing prices. The engine is deterministic
// and does no I/O of its own; the one external collaborator (market data for
// market-based strategies) is injected and optional.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
)

const (
	// fallbackFloor is the safety floor applied when a listing's minimum
	// price is missing or invalid.
	fallbackFloor = "5.00"

	// aggressivenessCap bounds the time-based multiplier at 2x the
	// configured reduction value.
	aggressivenessCap = "2.0"

	// aggressivenessRampDays is how many listed days it takes for the
	// time-based multiplier to grow by 1x.
	aggressivenessRampDays = 30

	// marketUndercut is the fraction of the market average a market-based
	// strategy targets.
	marketUndercut = "0.95"
)

// Result is the outcome of one price computation.
type Result struct {
	NewPrice         decimal.Decimal `json:"new_price"`
	ReductionApplied decimal.Decimal `json:"reduction_applied"`
	Skipped          bool            `json:"skipped"`
	Reason           string          `json:"reason,omitempty"`
}

// Skip reasons surfaced in cycle summaries.
const (
	ReasonAtMinimum   = "at minimum"
	ReasonNoReduction = "no reduction"
)

// MarketDataProvider supplies the average market price for a listing.
// Implementations live outside this service; a nil provider (or a provider
// error) makes market-based strategies fall back to percentage behavior.
type MarketDataProvider interface {
	AverageMarketPrice(ctx context.Context, listing *domain.Listing) (decimal.Decimal, error)
}

// Engine computes next prices for listings.
type Engine struct {
	market MarketDataProvider
	logger logger.Logger
}

// NewEngine creates an Engine. market may be nil.
func NewEngine(market MarketDataProvider, log logger.Logger) *Engine {
	return &Engine{market: market, logger: log}
}

// ComputeNextPrice applies the strategy to the listing's current price.
//
// The result is clamped at the listing's minimum price (or a constant safety
// floor when the minimum is unusable). A computed price at or above the
// current price is reported as Skipped, not as an error; a non-positive
// result is an invariant violation.
func (e *Engine) ComputeNextPrice(
	ctx context.Context,
	listing *domain.Listing,
	strat *domain.Strategy,
	now time.Time,
) (Result, error) {
	if strat == nil {
		return Result{}, domain.Classify(domain.KindValidation, domain.ErrInvalidStrategy)
	}
	if err := strat.Validate(); err != nil {
		return Result{}, domain.Classify(domain.KindValidation, err)
	}

	current := listing.CurrentPrice
	floor := e.effectiveFloor(listing, strat)

	if current.LessThanOrEqual(floor) {
		return Result{NewPrice: current, Skipped: true, Reason: ReasonAtMinimum}, nil
	}

	raw, err := e.rawCandidate(ctx, listing, strat, now)
	if err != nil {
		return Result{}, err
	}

	newPrice := raw.Round(2)
	if newPrice.LessThan(floor) {
		newPrice = floor
	}

	if newPrice.LessThanOrEqual(decimal.Zero) {
		return Result{}, domain.Classifyf(domain.KindInvariant,
			"computed price %s is non-positive for listing %s", newPrice, listing.ID)
	}

	if newPrice.GreaterThanOrEqual(current) {
		reason := ReasonNoReduction
		if newPrice.Equal(floor) {
			reason = ReasonAtMinimum
		}
		return Result{NewPrice: current, Skipped: true, Reason: reason}, nil
	}

	return Result{
		NewPrice:         newPrice,
		ReductionApplied: current.Sub(newPrice),
	}, nil
}

// rawCandidate computes the unclamped candidate price per strategy type.
func (e *Engine) rawCandidate(
	ctx context.Context,
	listing *domain.Listing,
	strat *domain.Strategy,
	now time.Time,
) (decimal.Decimal, error) {
	current := listing.CurrentPrice

	switch strat.Type {
	case domain.StrategyPercentage:
		return percentageReduced(current, strat.ReductionValue), nil

	case domain.StrategyDollar:
		return current.Sub(strat.ReductionValue), nil

	case domain.StrategyTimeBased:
		scaled := strat.ReductionValue.Mul(e.aggressiveness(listing, now))
		return percentageReduced(current, scaled), nil

	case domain.StrategyMarketBased:
		candidate := percentageReduced(current, strat.ReductionValue)
		if e.market == nil {
			return candidate, nil
		}
		avg, err := e.market.AverageMarketPrice(ctx, listing)
		if err != nil || avg.LessThanOrEqual(decimal.Zero) {
			e.logger.Warn("market data unavailable, falling back to percentage",
				logger.UUID("listing_id", listing.ID),
				logger.Error(err))
			return candidate, nil
		}
		undercut := avg.Mul(decimal.RequireFromString(marketUndercut))
		return decimal.Min(undercut, candidate), nil

	default:
		return decimal.Zero, domain.Classify(domain.KindValidation, domain.ErrInvalidStrategy)
	}
}

// aggressiveness returns the time-based multiplier: 1x at listing time,
// growing linearly with days listed and capped at 2x.
func (e *Engine) aggressiveness(listing *domain.Listing, now time.Time) decimal.Decimal {
	days := decimal.NewFromInt(int64(listing.DaysListed(now)))
	factor := decimal.NewFromInt(1).Add(days.Div(decimal.NewFromInt(aggressivenessRampDays)))
	return decimal.Min(factor, decimal.RequireFromString(aggressivenessCap))
}

// effectiveFloor picks the clamp floor: the listing minimum, raised to the
// strategy floor when one is configured, or the safety constant when the
// minimum is missing or invalid.
func (e *Engine) effectiveFloor(listing *domain.Listing, strat *domain.Strategy) decimal.Decimal {
	floor := listing.MinimumPrice
	if floor.LessThanOrEqual(decimal.Zero) {
		e.logger.Warn("listing has no usable minimum price, applying safety floor",
			logger.UUID("listing_id", listing.ID),
			logger.Decimal("minimum_price", listing.MinimumPrice))
		floor = decimal.RequireFromString(fallbackFloor)
	}
	if strat.FloorPrice != nil && strat.FloorPrice.GreaterThan(floor) {
		floor = *strat.FloorPrice
	}
	return floor
}

func percentageReduced(current, percent decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	return current.Mul(one.Sub(percent.Div(hundred)))
}
