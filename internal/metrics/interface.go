package metrics

import (
	"context"
)

// MetricsTracker defines the interface for tracking cycle metrics.
// This interface allows for easy testing and potential future implementations.
type MetricsTracker interface {
	// RecordCycle stores a cycle outcome and bumps the date counters
	RecordCycle(ctx context.Context, rec CycleRecord) error
	// AddRecentReduction adds a price change to the recent reductions list
	AddRecentReduction(ctx context.Context, r RecentReduction) error
	// GetStats returns aggregated statistics over the given dates
	GetStats(ctx context.Context, dates []string) (*Stats, error)
	// GetRecentReductions returns recently applied price changes
	GetRecentReductions(ctx context.Context, limit int) ([]RecentReduction, error)
	// UpdateLastSync updates the last reconciliation timestamp
	UpdateLastSync(ctx context.Context) error
}
