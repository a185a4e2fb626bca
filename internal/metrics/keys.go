package metrics

import "fmt"

const (
	// KeyPrefixMetrics is the prefix for all metrics keys
	KeyPrefixMetrics = "metrics"
	// KeyPrefixReduced is the prefix for applied-reduction counters
	KeyPrefixReduced = "reduced"
	// KeyPrefixSkipped is the prefix for skipped-listing counters
	KeyPrefixSkipped = "skipped"
	// KeyPrefixErrors is the prefix for error counters
	KeyPrefixErrors = "errors"
	// KeyRecentReductions is the Redis key for the recent reductions list
	KeyRecentReductions = "metrics:recent:reductions"
	// KeyLastCycle is the Redis key for the last cycle summary
	KeyLastCycle = "metrics:last_cycle"
	// KeyLastSync is the Redis key for last sync timestamp
	KeyLastSync = "metrics:last_sync"
	// MaxRecentReductions is the maximum number of recent reductions to keep
	MaxRecentReductions = 100
	// MetricsTTLDays is the TTL in days for metrics counters
	MetricsTTLDays = 30
	// RecentReductionsTTLDays is the TTL in days for the recent reductions list
	RecentReductionsTTLDays = 7
)

// RedisKeys provides methods to build Redis keys consistently
type RedisKeys struct {
	prefix string
}

// NewRedisKeys creates a new RedisKeys instance
func NewRedisKeys(prefix string) *RedisKeys {
	return &RedisKeys{prefix: prefix}
}

// Reduced returns the Redis key for the applied-reduction counter for a date
func (k *RedisKeys) Reduced(date string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixReduced, date)
}

// Skipped returns the Redis key for the skipped counter for a date
func (k *RedisKeys) Skipped(date string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixSkipped, date)
}

// Errors returns the Redis key for the error counter for a date
func (k *RedisKeys) Errors(date string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixErrors, date)
}
