package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceReductionLogEntry is an immutable record of one applied price
// mutation. Appended only after the remote update and local persist both
// succeeded; purged past a configured retention window.
type PriceReductionLogEntry struct {
	ID              uuid.UUID       `db:"id"               json:"id"`
	ListingID       uuid.UUID       `db:"listing_id"       json:"listing_id"`
	TenantID        uuid.UUID       `db:"tenant_id"        json:"tenant_id"`
	OldPrice        decimal.Decimal `db:"old_price"        json:"old_price"`
	NewPrice        decimal.Decimal `db:"new_price"        json:"new_price"`
	ReductionAmount decimal.Decimal `db:"reduction_amount" json:"reduction_amount"`
	StrategyType    StrategyType    `db:"strategy_type"    json:"strategy_type"`
	Trigger         TriggerType     `db:"trigger_type"     json:"trigger_type"`
	CreatedAt       time.Time       `db:"created_at"       json:"created_at"`
}

// RunGuardState is the single row per job type that makes scheduled cycles
// idempotent: it stores the calendar date (in the business timezone) of the
// last successfully completed run.
type RunGuardState struct {
	JobName     string    `db:"job_name"      json:"job_name"`
	LastRunDate string    `db:"last_run_date" json:"last_run_date"`
	CompletedAt time.Time `db:"completed_at"  json:"completed_at"`
}
