// Package worker provides the background scheduler for the repricer service:
// the nightly reduction cycle, periodic reconciliation pulls, and audit log
// retention.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marketops/repricer/internal/clock"
	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/metrics"
	"github.com/marketops/repricer/internal/reducer"
	"github.com/marketops/repricer/internal/syncer"
)

// CycleRunner runs one price reduction cycle.
type CycleRunner interface {
	Run(ctx context.Context, opts reducer.Options) (*reducer.Summary, error)
}

// TenantSyncer reconciles one tenant against the marketplace.
type TenantSyncer interface {
	Sync(ctx context.Context, cred *domain.Credential) (syncer.Result, error)
}

// CredentialLister returns every tenant still marked connected.
type CredentialLister interface {
	ListConnected(ctx context.Context) ([]domain.Credential, error)
}

// AuditPurger removes audit entries past the retention window.
type AuditPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the worker schedule.
type Config struct {
	// Location is the business timezone; all cron expressions fire in it.
	Location         *time.Location
	ReductionCron    string
	SyncCron         string
	PurgeCron        string
	InterTenantDelay time.Duration
	RetentionDays    int
}

// Worker drives the scheduled jobs with a timezone-aware cron.
type Worker struct {
	cycle       CycleRunner
	syncer      TenantSyncer
	credentials CredentialLister
	audit       AuditPurger
	tracker     metrics.MetricsTracker
	cfg         Config
	clock       clock.Clock
	logger      logger.Logger

	cron    *cron.Cron
	started bool
	mu      sync.Mutex
}

// New creates a Worker. tracker may be nil when metrics are disabled.
func New(
	cycle CycleRunner,
	tenantSyncer TenantSyncer,
	credentials CredentialLister,
	audit AuditPurger,
	tracker metrics.MetricsTracker,
	cfg Config,
	clk clock.Clock,
	log logger.Logger,
) *Worker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	// Standard 5-field parser (minute hour day month weekday), panics in a
	// job recovered so one bad run never kills the scheduler.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)

	return &Worker{
		cycle:       cycle,
		syncer:      tenantSyncer,
		credentials: credentials,
		audit:       audit,
		tracker:     tracker,
		cfg:         cfg,
		clock:       clk,
		logger:      log,
		cron:        c,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	if _, err := w.cron.AddFunc(w.cfg.ReductionCron, func() { w.runReduction(ctx) }); err != nil {
		return err
	}
	if _, err := w.cron.AddFunc(w.cfg.SyncCron, func() { w.runSync(ctx) }); err != nil {
		return err
	}
	if _, err := w.cron.AddFunc(w.cfg.PurgeCron, func() { w.runPurge(ctx) }); err != nil {
		return err
	}

	w.cron.Start()
	w.started = true

	w.logger.Info("scheduler started",
		logger.String("timezone", w.cfg.Location.String()),
		logger.String("reduction_cron", w.cfg.ReductionCron),
		logger.String("sync_cron", w.cfg.SyncCron),
		logger.String("purge_cron", w.cfg.PurgeCron))
	return nil
}

// Stop stops the scheduler and waits for any running job to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}

	stopCtx := w.cron.Stop()
	<-stopCtx.Done()
	w.started = false
	w.logger.Info("scheduler stopped")
}

// runReduction executes the daily price reduction cycle. The run guard makes
// a duplicate fire on the same business date a no-op; the cycle publishes
// its own summary to the metrics tracker.
func (w *Worker) runReduction(ctx context.Context) {
	if _, err := w.cycle.Run(ctx, reducer.Options{Trigger: domain.TriggerScheduled}); err != nil {
		if errors.Is(err, domain.ErrCycleAlreadyRan) {
			w.logger.Info("reduction cycle already completed today, skipping")
			return
		}
		w.logger.Error("reduction cycle failed", logger.Error(err))
	}
}

// runSync reconciles every connected tenant, one at a time.
func (w *Worker) runSync(ctx context.Context) {
	creds, err := w.credentials.ListConnected(ctx)
	if err != nil {
		w.logger.Error("failed to list connected tenants", logger.Error(err))
		return
	}

	for i := range creds {
		if ctx.Err() != nil {
			return
		}

		result, syncErr := w.syncer.Sync(ctx, &creds[i])
		if syncErr != nil {
			w.logger.Error("tenant reconciliation failed",
				logger.UUID("tenant_id", creds[i].TenantID),
				logger.Error(syncErr))
		} else if result.Truncated {
			w.logger.Warn("tenant reconciliation truncated, will resume next run",
				logger.UUID("tenant_id", creds[i].TenantID))
		}

		if i < len(creds)-1 {
			if err := w.clock.Sleep(ctx, w.cfg.InterTenantDelay); err != nil {
				return
			}
		}
	}

	if w.tracker != nil {
		if err := w.tracker.UpdateLastSync(ctx); err != nil {
			w.logger.Warn("failed to record sync timestamp", logger.Error(err))
		}
	}
}

// runPurge trims the price reduction log to the retention window.
func (w *Worker) runPurge(ctx context.Context) {
	cutoff := w.clock.Now().AddDate(0, 0, -w.cfg.RetentionDays)

	deleted, err := w.audit.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("audit purge failed", logger.Error(err))
		return
	}
	if deleted > 0 {
		w.logger.Info("purged old price reduction log entries",
			logger.Int64("deleted", deleted),
			logger.Time("cutoff", cutoff))
	}
}
