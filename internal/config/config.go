// Package config loads and validates the repricer service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultReadTimeout is the default HTTP server read timeout.
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default HTTP server write timeout.
	DefaultWriteTimeout = 30 * time.Second

	defaultTimezone         = "America/New_York"
	defaultReductionCron    = "0 3 * * *"
	defaultSyncCron         = "30 */6 * * *"
	defaultPurgeCron        = "15 4 * * *"
	defaultInterTenantDelay = 2 * time.Second
	defaultPageDelay        = 500 * time.Millisecond
	defaultPageSize         = 200
	defaultRunBudget        = 8 * time.Minute
	defaultRetentionDays    = 180
	defaultRatePerSecond    = 2
	defaultErrorListCap     = 25

	// minRunBudget keeps the sync budget above the syncer's truncation
	// headroom; a smaller budget would truncate before fetching a page.
	minRunBudget = 30 * time.Second
)

// Config is the root configuration for the service.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Sync        SyncConfig        `yaml:"sync"`
	Security    SecurityConfig    `yaml:"security"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig configures the Redis connection used by the metrics tracker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MarketplaceConfig holds the endpoints of the two marketplace API surfaces
// and the OAuth token endpoint shared by both.
type MarketplaceConfig struct {
	LegacyURL   string        `yaml:"legacy_url"`
	ModernURL   string        `yaml:"modern_url"`
	TokenURL    string        `yaml:"token_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// RatePerSecond caps outbound marketplace calls per second.
	RatePerSecond int `yaml:"rate_per_second"`
}

// SchedulerConfig configures the cron worker.
type SchedulerConfig struct {
	// Timezone is the business timezone; cron expressions and the per-day
	// run guard are both evaluated in it.
	Timezone         string        `yaml:"timezone"`
	ReductionCron    string        `yaml:"reduction_cron"`
	SyncCron         string        `yaml:"sync_cron"`
	PurgeCron        string        `yaml:"purge_cron"`
	InterTenantDelay time.Duration `yaml:"inter_tenant_delay"`
	ErrorListCap     int           `yaml:"error_list_cap"`
}

// SyncConfig configures reconciliation pulls and audit retention.
type SyncConfig struct {
	PageSize  int           `yaml:"page_size"`
	PageDelay time.Duration `yaml:"page_delay"`
	RunBudget time.Duration `yaml:"run_budget"`
	// DefaultMinimumRatio seeds minimum_price for newly discovered listings
	// as a fraction of the remote price.
	DefaultMinimumRatio decimal.Decimal `yaml:"default_minimum_ratio"`
	RetentionDays       int             `yaml:"retention_days"`
}

// SecurityConfig holds secrets.
type SecurityConfig struct {
	// EncryptionKey is the hex-encoded 32-byte AES key for refresh tokens.
	EncryptionKey string `yaml:"encryption_key"`
	// APIKey guards the manual-trigger endpoints. Empty disables the guard.
	APIKey string `yaml:"api_key"`
}

// Load reads, defaults, env-overrides, and validates configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Marketplace.LegacyURL == "" {
		return errors.New("marketplace.legacy_url is required")
	}
	if c.Marketplace.ModernURL == "" {
		return errors.New("marketplace.modern_url is required")
	}
	if c.Marketplace.TokenURL == "" {
		return errors.New("marketplace.token_url is required")
	}
	if c.Security.EncryptionKey == "" {
		return errors.New("security.encryption_key is required")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Sync.DefaultMinimumRatio.LessThanOrEqual(decimal.Zero) ||
		c.Sync.DefaultMinimumRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("sync.default_minimum_ratio must be in (0,1), got %s", c.Sync.DefaultMinimumRatio)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Sync.RunBudget < minRunBudget {
		return fmt.Errorf("sync.run_budget must be at least %s, got %s", minRunBudget, c.Sync.RunBudget)
	}
	return nil
}

// BusinessLocation returns the configured business timezone.
// Validate guarantees the name parses.
func (c *Config) BusinessLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "repricer"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Marketplace.HTTPTimeout == 0 {
		cfg.Marketplace.HTTPTimeout = 30 * time.Second
	}
	if cfg.Marketplace.RatePerSecond == 0 {
		cfg.Marketplace.RatePerSecond = defaultRatePerSecond
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = defaultTimezone
	}
	if cfg.Scheduler.ReductionCron == "" {
		cfg.Scheduler.ReductionCron = defaultReductionCron
	}
	if cfg.Scheduler.SyncCron == "" {
		cfg.Scheduler.SyncCron = defaultSyncCron
	}
	if cfg.Scheduler.PurgeCron == "" {
		cfg.Scheduler.PurgeCron = defaultPurgeCron
	}
	if cfg.Scheduler.InterTenantDelay == 0 {
		cfg.Scheduler.InterTenantDelay = defaultInterTenantDelay
	}
	if cfg.Scheduler.ErrorListCap == 0 {
		cfg.Scheduler.ErrorListCap = defaultErrorListCap
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = defaultPageSize
	}
	if cfg.Sync.PageDelay == 0 {
		cfg.Sync.PageDelay = defaultPageDelay
	}
	if cfg.Sync.RunBudget == 0 {
		cfg.Sync.RunBudget = defaultRunBudget
	}
	if cfg.Sync.DefaultMinimumRatio.IsZero() {
		cfg.Sync.DefaultMinimumRatio = decimal.RequireFromString("0.70")
	}
	if cfg.Sync.RetentionDays == 0 {
		cfg.Sync.RetentionDays = defaultRetentionDays
	}
}

func overrideWithEnvVars(cfg *Config) {
	if v := os.Getenv("REPRICER_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("REPRICER_DB_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("REPRICER_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("REPRICER_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REPRICER_DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("REPRICER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REPRICER_ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("REPRICER_API_KEY"); v != "" {
		cfg.Security.APIKey = v
	}
	if v := os.Getenv("REPRICER_PORT"); v != "" {
		cfg.Server.Address = ":" + v
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
}

// parseBool parses a string value as a boolean.
// Returns true for "true", "1", "yes" (case-insensitive), false otherwise.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
