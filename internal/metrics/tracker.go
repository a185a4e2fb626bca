package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketops/repricer/internal/logger"
)

// Tracker implements MetricsTracker using Redis.
type Tracker struct {
	client redis.UniversalClient
	keys   *RedisKeys
	logger logger.Logger
}

// NewTracker creates a new metrics tracker
func NewTracker(client redis.UniversalClient, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		keys:   NewRedisKeys(KeyPrefixMetrics),
		logger: log,
	}
}

// RecordCycle stores the cycle summary and bumps the date counters. Dry runs
// are stored as the last cycle but never counted.
func (t *Tracker) RecordCycle(ctx context.Context, rec CycleRecord) error {
	rec.StoredAt = time.Now()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cycle record: %w", err)
	}

	ttl := MetricsTTLDays * 24 * time.Hour

	pipe := t.client.Pipeline()
	pipe.Set(ctx, KeyLastCycle, data, 0)
	if !rec.DryRun {
		pipe.IncrBy(ctx, t.keys.Reduced(rec.RunDate), int64(rec.Processed))
		pipe.Expire(ctx, t.keys.Reduced(rec.RunDate), ttl)
		pipe.IncrBy(ctx, t.keys.Skipped(rec.RunDate), int64(rec.Skipped))
		pipe.Expire(ctx, t.keys.Skipped(rec.RunDate), ttl)
		pipe.IncrBy(ctx, t.keys.Errors(rec.RunDate), int64(rec.Failed))
		pipe.Expire(ctx, t.keys.Errors(rec.RunDate), ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("Failed to record cycle metrics",
			logger.String("run_date", rec.RunDate),
			logger.Error(err),
		)
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// AddRecentReduction adds a price change to the recent reductions list
func (t *Tracker) AddRecentReduction(ctx context.Context, r RecentReduction) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reduction: %w", err)
	}

	ttl := RecentReductionsTTLDays * 24 * time.Hour

	// Pipeline keeps LPUSH, LTRIM and EXPIRE atomic
	pipe := t.client.Pipeline()
	pipe.LPush(ctx, KeyRecentReductions, data)
	pipe.LTrim(ctx, KeyRecentReductions, 0, MaxRecentReductions-1)
	pipe.Expire(ctx, KeyRecentReductions, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("Failed to add recent reduction",
			logger.UUID("listing_id", r.ListingID),
			logger.Error(err),
		)
		return fmt.Errorf("add recent reduction: %w", err)
	}
	return nil
}

// GetStats returns aggregated statistics for the given dates using a Redis
// pipeline for atomic reads.
func (t *Tracker) GetStats(ctx context.Context, dates []string) (*Stats, error) {
	pipe := t.client.Pipeline()

	reducedCmds := make(map[string]*redis.StringCmd)
	skippedCmds := make(map[string]*redis.StringCmd)
	errorCmds := make(map[string]*redis.StringCmd)

	for _, date := range dates {
		reducedCmds[date] = pipe.Get(ctx, t.keys.Reduced(date))
		skippedCmds[date] = pipe.Get(ctx, t.keys.Skipped(date))
		errorCmds[date] = pipe.Get(ctx, t.keys.Errors(date))
	}

	lastCycleCmd := pipe.Get(ctx, KeyLastCycle)
	lastSyncCmd := pipe.Get(ctx, KeyLastSync)

	if _, execErr := pipe.Exec(ctx); execErr != nil && !errors.Is(execErr, redis.Nil) {
		return nil, fmt.Errorf("execute pipeline: %w", execErr)
	}

	stats := &Stats{
		Days: make([]DayStats, 0, len(dates)),
	}

	for _, date := range dates {
		day := DayStats{Date: date}

		// Missing keys count as zero
		if v, err := reducedCmds[date].Int64(); err == nil {
			day.Reduced = v
			stats.TotalReduced += v
		}
		if v, err := skippedCmds[date].Int64(); err == nil {
			day.Skipped = v
			stats.TotalSkipped += v
		}
		if v, err := errorCmds[date].Int64(); err == nil {
			day.Errors = v
			stats.TotalErrors += v
		}

		stats.Days = append(stats.Days, day)
	}

	if raw, err := lastCycleCmd.Result(); err == nil && raw != "" {
		var rec CycleRecord
		if unmarshalErr := json.Unmarshal([]byte(raw), &rec); unmarshalErr == nil {
			stats.LastCycle = &rec
		}
	}

	if lastSyncStr, err := lastSyncCmd.Result(); err == nil && lastSyncStr != "" {
		if lastSync, parseErr := time.Parse(time.RFC3339, lastSyncStr); parseErr == nil {
			stats.LastSync = lastSync
		}
	}

	return stats, nil
}

// GetRecentReductions returns recently applied price changes
func (t *Tracker) GetRecentReductions(ctx context.Context, limit int) ([]RecentReduction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxRecentReductions {
		limit = MaxRecentReductions
	}

	results, err := t.client.LRange(ctx, KeyRecentReductions, 0, int64(limit-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []RecentReduction{}, nil
		}
		return nil, fmt.Errorf("get recent reductions: %w", err)
	}

	reductions := make([]RecentReduction, 0, len(results))
	for _, result := range results {
		var r RecentReduction
		if unmarshalErr := json.Unmarshal([]byte(result), &r); unmarshalErr != nil {
			t.logger.Warn("Failed to unmarshal recent reduction",
				logger.Error(unmarshalErr),
			)
			continue
		}
		reductions = append(reductions, r)
	}

	return reductions, nil
}

// UpdateLastSync updates the last reconciliation timestamp
func (t *Tracker) UpdateLastSync(ctx context.Context) error {
	now := time.Now().Format(time.RFC3339)

	if err := t.client.Set(ctx, KeyLastSync, now, 0).Err(); err != nil {
		t.logger.Warn("Failed to update last sync",
			logger.Error(err),
		)
		return fmt.Errorf("update last sync: %w", err)
	}
	return nil
}
