package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StrategyType enumerates the supported reduction strategies.
type StrategyType string

const (
	StrategyPercentage  StrategyType = "percentage"
	StrategyDollar      StrategyType = "dollar"
	StrategyMarketBased StrategyType = "market_based"
	StrategyTimeBased   StrategyType = "time_based"
)

// Strategy describes how, when, and by how much a listing's price decreases.
// Repositories normalize the legacy column variants (reduction_type,
// reduction_amount) into this canonical shape at the store boundary, so the
// engine only ever sees one schema. Treated as a read-only snapshot for the
// duration of a cycle.
type Strategy struct {
	ID             uuid.UUID        `db:"id"              json:"id"`
	TenantID       uuid.UUID        `db:"tenant_id"       json:"tenant_id"`
	Name           string           `db:"name"            json:"name"`
	Type           StrategyType     `db:"strategy_type"   json:"strategy_type"`
	ReductionValue decimal.Decimal  `db:"reduction_value" json:"reduction_value"`
	FloorPrice     *decimal.Decimal `db:"floor_price"     json:"floor_price,omitempty"`
	CreatedAt      time.Time        `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"      json:"updated_at"`
}

// Validate checks the strategy is usable by the engine.
func (s *Strategy) Validate() error {
	switch s.Type {
	case StrategyPercentage, StrategyMarketBased, StrategyTimeBased:
		if s.ReductionValue.LessThanOrEqual(decimal.Zero) || s.ReductionValue.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return ErrInvalidStrategy
		}
	case StrategyDollar:
		if s.ReductionValue.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidStrategy
		}
	default:
		return ErrInvalidStrategy
	}
	return nil
}
