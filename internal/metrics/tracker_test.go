package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/metrics"
)

func newTestTracker(t *testing.T) (*metrics.Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return metrics.NewTracker(client, logger.NewNopLogger()), mr
}

func reduction(title string) metrics.RecentReduction {
	return metrics.RecentReduction{
		ListingID: uuid.New(),
		TenantID:  uuid.New(),
		Title:     title,
		OldPrice:  decimal.RequireFromString("20.00"),
		NewPrice:  decimal.RequireFromString("19.00"),
		AppliedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestTracker_RecordCycle(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	rec := metrics.CycleRecord{
		RunDate:   "2026-08-25",
		Processed: 12,
		Skipped:   3,
		Failed:    1,
	}
	require.NoError(t, tracker.RecordCycle(ctx, rec))

	assert.Equal(t, "12", mustGet(t, mr, "metrics:reduced:2026-08-25"))
	assert.Equal(t, "3", mustGet(t, mr, "metrics:skipped:2026-08-25"))
	assert.Equal(t, "1", mustGet(t, mr, "metrics:errors:2026-08-25"))

	// Counters accumulate across cycles on the same date
	require.NoError(t, tracker.RecordCycle(ctx, rec))
	assert.Equal(t, "24", mustGet(t, mr, "metrics:reduced:2026-08-25"))

	stats, err := tracker.GetStats(ctx, []string{"2026-08-25"})
	require.NoError(t, err)
	require.NotNil(t, stats.LastCycle)
	assert.Equal(t, "2026-08-25", stats.LastCycle.RunDate)
	assert.EqualValues(t, 24, stats.TotalReduced)
}

func TestTracker_RecordCycle_DryRunNotCounted(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	rec := metrics.CycleRecord{
		RunDate:   "2026-08-25",
		Processed: 7,
		DryRun:    true,
	}
	require.NoError(t, tracker.RecordCycle(ctx, rec))

	// The dry run is visible as the last cycle but bumps no counters
	assert.False(t, mr.Exists("metrics:reduced:2026-08-25"))

	stats, err := tracker.GetStats(ctx, []string{"2026-08-25"})
	require.NoError(t, err)
	require.NotNil(t, stats.LastCycle)
	assert.True(t, stats.LastCycle.DryRun)
	assert.Zero(t, stats.TotalReduced)
}

func TestTracker_RecentReductions(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	first := reduction("Blue Widget")
	second := reduction("Red Widget")
	require.NoError(t, tracker.AddRecentReduction(ctx, first))
	require.NoError(t, tracker.AddRecentReduction(ctx, second))

	got, err := tracker.GetRecentReductions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first
	assert.Equal(t, "Red Widget", got[0].Title)
	assert.Equal(t, "Blue Widget", got[1].Title)
	assert.Equal(t, second.ListingID, got[0].ListingID)
	assert.True(t, got[0].NewPrice.Equal(decimal.RequireFromString("19.00")))
}

func TestTracker_RecentReductions_Capped(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < metrics.MaxRecentReductions+20; i++ {
		require.NoError(t, tracker.AddRecentReduction(ctx, reduction("Widget")))
	}

	items, err := mr.List(metrics.KeyRecentReductions)
	require.NoError(t, err)
	assert.Len(t, items, metrics.MaxRecentReductions)
}

func TestTracker_GetStats_MissingDatesCountZero(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	stats, err := tracker.GetStats(ctx, []string{"2026-08-24", "2026-08-25"})
	require.NoError(t, err)

	require.Len(t, stats.Days, 2)
	assert.Equal(t, "2026-08-24", stats.Days[0].Date)
	assert.Zero(t, stats.Days[0].Reduced)
	assert.Zero(t, stats.TotalReduced)
	assert.Nil(t, stats.LastCycle)
}

func TestTracker_UpdateLastSync(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.UpdateLastSync(ctx))

	stats, err := tracker.GetStats(ctx, nil)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stats.LastSync, 5*time.Second)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
