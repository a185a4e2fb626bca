package metrics

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecentReduction is one recently applied price change, kept in a capped
// Redis list for the dashboard.
type RecentReduction struct {
	ListingID uuid.UUID       `json:"listing_id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Title     string          `json:"title"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	AppliedAt time.Time       `json:"applied_at"`
}

// CycleRecord is the persisted outcome of a reduction cycle.
type CycleRecord struct {
	RunDate   string    `json:"run_date"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Ended     int       `json:"ended"`
	Failed    int       `json:"failed"`
	DryRun    bool      `json:"dry_run"`
	StoredAt  time.Time `json:"stored_at"`
}

// Stats represents aggregated statistics over the retained window.
type Stats struct {
	TotalReduced int64        `json:"total_reduced"`
	TotalSkipped int64        `json:"total_skipped"`
	TotalErrors  int64        `json:"total_errors"`
	Days         []DayStats   `json:"days"`
	LastCycle    *CycleRecord `json:"last_cycle,omitempty"`
	LastSync     time.Time    `json:"last_sync"`
}

// DayStats represents statistics for a single business-timezone date.
type DayStats struct {
	Date    string `json:"date"`
	Reduced int64  `json:"reduced"`
	Skipped int64  `json:"skipped"`
	Errors  int64  `json:"errors"`
}
