// Package reducer runs the scheduled price reduction cycle: snapshot the due
// listings, compute each one's next price, push it to the marketplace, and
// record the change.
package reducer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketops/repricer/internal/clock"
	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/metrics"
	"github.com/marketops/repricer/internal/strategy"
)

// GuardJobName keys the reduction cycle's row in the run guard table.
const GuardJobName = "price_reduction"

// ListingSource is the slice of the listing repository the cycle uses.
type ListingSource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error)
	ApplyReduction(ctx context.Context, id uuid.UUID, newPrice decimal.Decimal, now, next time.Time) error
	MarkEnded(ctx context.Context, id uuid.UUID) (bool, error)
}

// StrategySource loads a tenant's strategies.
type StrategySource interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Strategy, error)
}

// CredentialSource loads credentials and flags broken connections.
type CredentialSource interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Credential, error)
	MarkDisconnected(ctx context.Context, tenantID uuid.UUID, reason string) error
}

// TokenSource exchanges a credential for an access token.
type TokenSource interface {
	AccessToken(ctx context.Context, cred *domain.Credential) (string, error)
}

// PriceUpdater pushes a price change to the listing's marketplace protocol.
type PriceUpdater interface {
	UpdatePrice(ctx context.Context, listing *domain.Listing, price decimal.Decimal, token string) error
}

// PriceEngine computes a listing's next price under a strategy.
type PriceEngine interface {
	ComputeNextPrice(ctx context.Context, listing *domain.Listing, strat *domain.Strategy, now time.Time) (strategy.Result, error)
}

// AuditSink records applied reductions.
type AuditSink interface {
	Insert(ctx context.Context, e *domain.PriceReductionLogEntry) error
}

// Guard is the once-per-day run guard.
type Guard interface {
	Get(ctx context.Context, jobName string) (*domain.RunGuardState, error)
	MarkCompleted(ctx context.Context, jobName, runDate string, completedAt time.Time) error
}

// MetricsSink publishes cycle outcomes and applied reductions for the
// dashboard. metrics.MetricsTracker satisfies it; a publish failure never
// fails the cycle.
type MetricsSink interface {
	RecordCycle(ctx context.Context, rec metrics.CycleRecord) error
	AddRecentReduction(ctx context.Context, r metrics.RecentReduction) error
}

// Config tunes cycle execution.
type Config struct {
	// Location is the business timezone the run guard's calendar date is
	// evaluated in.
	Location         *time.Location
	InterTenantDelay time.Duration
	// ErrorListCap bounds the errors carried in a Summary; overflow is
	// counted, not stored.
	ErrorListCap int
}

// Options selects what one invocation does.
type Options struct {
	// DryRun computes and reports prices without any remote call, local
	// write, or audit append. Dry runs bypass the run guard both ways: they
	// neither check it nor record completion.
	DryRun bool
	// Limit caps how many due listings the snapshot takes. Zero means all.
	Limit int
	// Trigger is recorded on each audit entry.
	Trigger domain.TriggerType
}

// ItemError is one failed or surfaced listing in a cycle summary.
type ItemError struct {
	ListingID uuid.UUID        `json:"listing_id"`
	TenantID  uuid.UUID        `json:"tenant_id"`
	Kind      domain.ErrorKind `json:"kind"`
	Message   string           `json:"message"`
}

// Preview is a dry-run projection for one listing.
type Preview struct {
	ListingID uuid.UUID       `json:"listing_id"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Skipped   bool            `json:"skipped"`
	Reason    string          `json:"reason,omitempty"`
}

// Summary is the outcome of one cycle.
type Summary struct {
	RunDate       string        `json:"run_date"`
	DryRun        bool          `json:"dry_run"`
	TotalDue      int           `json:"total_due"`
	Processed     int           `json:"processed"`
	Skipped       int           `json:"skipped"`
	Ended         int           `json:"ended"`
	Failed        int           `json:"failed"`
	ErrorOverflow int           `json:"error_overflow,omitempty"`
	Errors        []ItemError   `json:"errors,omitempty"`
	Previews      []Preview     `json:"previews,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Cycle orchestrates one reduction pass across all tenants.
//
// Per-item ordering: remote update, then local price persist, then audit
// append. Local state never claims a reduction the marketplace rejected.
type Cycle struct {
	listings    ListingSource
	strategies  StrategySource
	credentials CredentialSource
	tokens      TokenSource
	updater     PriceUpdater
	engine      PriceEngine
	audit       AuditSink
	guard       Guard
	metrics     MetricsSink
	cfg         Config
	clock       clock.Clock
	logger      logger.Logger
}

// New creates a Cycle. sink may be nil when metrics are disabled.
func New(
	listings ListingSource,
	strategies StrategySource,
	credentials CredentialSource,
	tokens TokenSource,
	updater PriceUpdater,
	engine PriceEngine,
	audit AuditSink,
	guard Guard,
	sink MetricsSink,
	cfg Config,
	clk clock.Clock,
	log logger.Logger,
) *Cycle {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Cycle{
		listings:    listings,
		strategies:  strategies,
		credentials: credentials,
		tokens:      tokens,
		updater:     updater,
		engine:      engine,
		audit:       audit,
		guard:       guard,
		metrics:     sink,
		cfg:         cfg,
		clock:       clk,
		logger:      log,
	}
}

// Run executes one cycle. When the run guard shows a completed run for the
// current business-timezone date and this is not a dry run, it returns
// domain.ErrCycleAlreadyRan without touching any listing.
func (c *Cycle) Run(ctx context.Context, opts Options) (*Summary, error) {
	started := c.clock.Now()
	runDate := started.In(c.cfg.Location).Format("2006-01-02")

	if !opts.DryRun {
		if err := c.checkGuard(ctx, runDate); err != nil {
			return nil, err
		}
	}
	if opts.Trigger == "" {
		opts.Trigger = domain.TriggerScheduled
	}

	due, err := c.listings.ListDue(ctx, started, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot due listings: %w", err)
	}

	summary := &Summary{
		RunDate:  runDate,
		DryRun:   opts.DryRun,
		TotalDue: len(due),
	}

	batches := groupByTenant(due)
	for i := range batches {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		c.runTenant(ctx, batches[i], opts, summary)

		// No delay after the final tenant
		if i < len(batches)-1 && c.cfg.InterTenantDelay > 0 && !opts.DryRun {
			if err := c.clock.Sleep(ctx, c.cfg.InterTenantDelay); err != nil {
				return summary, err
			}
		}
	}

	if !opts.DryRun {
		if err := c.guard.MarkCompleted(ctx, GuardJobName, runDate, c.clock.Now()); err != nil {
			c.logger.Error("failed to record cycle completion", logger.Error(err))
		}
	}

	summary.Duration = c.clock.Now().Sub(started)
	c.logger.Info("reduction cycle finished",
		logger.String("run_date", runDate),
		logger.Bool("dry_run", opts.DryRun),
		logger.Int("total_due", summary.TotalDue),
		logger.Int("processed", summary.Processed),
		logger.Int("skipped", summary.Skipped),
		logger.Int("ended", summary.Ended),
		logger.Int("failed", summary.Failed),
		logger.Duration("duration", summary.Duration))

	c.publishSummary(ctx, summary)
	return summary, nil
}

// publishSummary records the cycle outcome on the dashboard tracker. Dry
// runs are stored as the last cycle but bump no counters (the tracker owns
// that distinction).
func (c *Cycle) publishSummary(ctx context.Context, summary *Summary) {
	if c.metrics == nil {
		return
	}
	rec := metrics.CycleRecord{
		RunDate:   summary.RunDate,
		Processed: summary.Processed,
		Skipped:   summary.Skipped,
		Ended:     summary.Ended,
		Failed:    summary.Failed,
		DryRun:    summary.DryRun,
	}
	if err := c.metrics.RecordCycle(ctx, rec); err != nil {
		c.logger.Warn("failed to record cycle metrics", logger.Error(err))
	}
}

// publishReduction pushes one applied change onto the recent-reductions
// feed.
func (c *Cycle) publishReduction(ctx context.Context, listing *domain.Listing, result strategy.Result, at time.Time) {
	if c.metrics == nil {
		return
	}
	r := metrics.RecentReduction{
		ListingID: listing.ID,
		TenantID:  listing.TenantID,
		Title:     listing.Title,
		OldPrice:  listing.CurrentPrice,
		NewPrice:  result.NewPrice,
		AppliedAt: at,
	}
	if err := c.metrics.AddRecentReduction(ctx, r); err != nil {
		c.logger.Warn("failed to publish recent reduction", logger.Error(err))
	}
}

func (c *Cycle) checkGuard(ctx context.Context, runDate string) error {
	state, err := c.guard.Get(ctx, GuardJobName)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check run guard: %w", err)
	}
	if state.LastRunDate == runDate {
		return domain.ErrCycleAlreadyRan
	}
	return nil
}

// tenantBatch keeps a tenant's due listings in snapshot order.
type tenantBatch struct {
	tenantID uuid.UUID
	listings []domain.Listing
}

// groupByTenant preserves the snapshot's tenant ordering.
func groupByTenant(due []domain.Listing) []tenantBatch {
	var batches []tenantBatch
	index := make(map[uuid.UUID]int)

	for i := range due {
		tid := due[i].TenantID
		at, ok := index[tid]
		if !ok {
			at = len(batches)
			index[tid] = at
			batches = append(batches, tenantBatch{tenantID: tid})
		}
		batches[at].listings = append(batches[at].listings, due[i])
	}
	return batches
}

// runTenant processes one tenant's batch. Tenant-level failures (missing or
// disconnected credential, failed token exchange) skip the whole batch but
// never abort the cycle; other tenants still run.
func (c *Cycle) runTenant(ctx context.Context, batch tenantBatch, opts Options, summary *Summary) {
	cred, err := c.credentials.GetByTenant(ctx, batch.tenantID)
	if err != nil {
		c.failTenant(summary, batch, domain.KindOf(err), fmt.Sprintf("load credential: %v", err))
		return
	}
	if !cred.Connected() {
		c.logger.Warn("skipping disconnected tenant",
			logger.UUID("tenant_id", batch.tenantID),
			logger.Int("due_listings", len(batch.listings)))
		summary.Skipped += len(batch.listings)
		return
	}

	var token string
	if !opts.DryRun {
		token, err = c.tokens.AccessToken(ctx, cred)
		if err != nil {
			if domain.IsKind(err, domain.KindNeedsReconnect) {
				c.disconnect(ctx, batch.tenantID, err)
			}
			c.failTenant(summary, batch, domain.KindOf(err), fmt.Sprintf("token exchange: %v", err))
			return
		}
	}

	strategiesByID, err := c.loadStrategies(ctx, batch.tenantID)
	if err != nil {
		c.failTenant(summary, batch, domain.KindOf(err), fmt.Sprintf("load strategies: %v", err))
		return
	}

	for i := range batch.listings {
		if ctx.Err() != nil {
			return
		}
		stop := c.runItem(ctx, &batch.listings[i], strategiesByID, token, opts, summary)
		if stop {
			// Remaining items in this tenant cannot succeed either.
			for j := i + 1; j < len(batch.listings); j++ {
				summary.Skipped++
			}
			return
		}
	}
}

// loadStrategies snapshots a tenant's strategies once per batch. Strategy
// edits made mid-cycle apply from the next cycle.
func (c *Cycle) loadStrategies(ctx context.Context, tenantID uuid.UUID) (map[uuid.UUID]*domain.Strategy, error) {
	list, err := c.strategies.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Strategy, len(list))
	for i := range list {
		byID[list[i].ID] = &list[i]
	}
	return byID, nil
}

// runItem processes one listing. It returns true when the tenant's remaining
// items should be abandoned (the connection went bad mid-batch).
func (c *Cycle) runItem(
	ctx context.Context,
	listing *domain.Listing,
	strategiesByID map[uuid.UUID]*domain.Strategy,
	token string,
	opts Options,
	summary *Summary,
) bool {
	strat := c.strategyFor(listing, strategiesByID)
	if strat == nil {
		c.recordError(summary, listing, domain.KindValidation, "no strategy assigned")
		return false
	}

	now := c.clock.Now()
	result, err := c.engine.ComputeNextPrice(ctx, listing, strat, now)
	if err != nil {
		c.recordError(summary, listing, domain.KindOf(err), err.Error())
		return false
	}
	if result.Skipped {
		summary.Skipped++
		if opts.DryRun {
			summary.Previews = append(summary.Previews, Preview{
				ListingID: listing.ID,
				OldPrice:  listing.CurrentPrice,
				NewPrice:  listing.CurrentPrice,
				Skipped:   true,
				Reason:    result.Reason,
			})
		}
		return false
	}

	if opts.DryRun {
		summary.Processed++
		summary.Previews = append(summary.Previews, Preview{
			ListingID: listing.ID,
			OldPrice:  listing.CurrentPrice,
			NewPrice:  result.NewPrice,
		})
		return false
	}

	if err := c.updater.UpdatePrice(ctx, listing, result.NewPrice, token); err != nil {
		switch domain.KindOf(err) {
		case domain.KindNotFound:
			// The listing vanished remotely; treat as ended, not failed.
			ended, markErr := c.listings.MarkEnded(ctx, listing.ID)
			if markErr != nil {
				c.recordError(summary, listing, domain.KindTransient, markErr.Error())
				return false
			}
			if ended {
				summary.Ended++
			}
			return false
		case domain.KindNeedsReconnect:
			c.disconnect(ctx, listing.TenantID, err)
			c.recordError(summary, listing, domain.KindNeedsReconnect, err.Error())
			return true
		default:
			c.recordError(summary, listing, domain.KindOf(err), err.Error())
			return false
		}
	}

	next := now.Add(time.Duration(listing.ReductionIntervalHrs) * time.Hour)
	if err := c.listings.ApplyReduction(ctx, listing.ID, result.NewPrice, now, next); err != nil {
		// The remote already accepted the new price; surface loudly so an
		// operator can reconcile the divergence.
		c.logger.Error("remote price updated but local persist failed",
			logger.UUID("listing_id", listing.ID),
			logger.Decimal("new_price", result.NewPrice),
			logger.Error(err))
		c.recordError(summary, listing, domain.KindOf(err), err.Error())
		return false
	}

	c.appendAudit(ctx, listing, strat, result, opts.Trigger, now)
	c.publishReduction(ctx, listing, result, now)
	summary.Processed++

	c.logger.Info("price reduced",
		logger.UUID("listing_id", listing.ID),
		logger.UUID("tenant_id", listing.TenantID),
		logger.Decimal("old_price", listing.CurrentPrice),
		logger.Decimal("new_price", result.NewPrice),
		logger.String("strategy", string(strat.Type)))
	return false
}

func (c *Cycle) strategyFor(listing *domain.Listing, byID map[uuid.UUID]*domain.Strategy) *domain.Strategy {
	if listing.StrategyID == nil {
		return nil
	}
	return byID[*listing.StrategyID]
}

// appendAudit records the applied change. A failed append is logged, not
// returned: the reduction itself already happened on both sides.
func (c *Cycle) appendAudit(
	ctx context.Context,
	listing *domain.Listing,
	strat *domain.Strategy,
	result strategy.Result,
	trigger domain.TriggerType,
	at time.Time,
) {
	entry := &domain.PriceReductionLogEntry{
		ID:              uuid.New(),
		ListingID:       listing.ID,
		TenantID:        listing.TenantID,
		OldPrice:        listing.CurrentPrice,
		NewPrice:        result.NewPrice,
		ReductionAmount: result.ReductionApplied,
		StrategyType:    strat.Type,
		Trigger:         trigger,
		CreatedAt:       at,
	}
	if err := c.audit.Insert(ctx, entry); err != nil {
		c.logger.Error("failed to append price reduction log",
			logger.UUID("listing_id", listing.ID),
			logger.Error(err))
	}
}

func (c *Cycle) disconnect(ctx context.Context, tenantID uuid.UUID, cause error) {
	c.logger.Warn("marking tenant disconnected",
		logger.UUID("tenant_id", tenantID),
		logger.Error(cause))
	if err := c.credentials.MarkDisconnected(ctx, tenantID, cause.Error()); err != nil {
		c.logger.Error("failed to mark tenant disconnected",
			logger.UUID("tenant_id", tenantID),
			logger.Error(err))
	}
}

func (c *Cycle) failTenant(summary *Summary, batch tenantBatch, kind domain.ErrorKind, msg string) {
	for i := range batch.listings {
		c.recordError(summary, &batch.listings[i], kind, msg)
	}
}

func (c *Cycle) recordError(summary *Summary, listing *domain.Listing, kind domain.ErrorKind, msg string) {
	summary.Failed++
	if c.cfg.ErrorListCap > 0 && len(summary.Errors) >= c.cfg.ErrorListCap {
		summary.ErrorOverflow++
		return
	}
	summary.Errors = append(summary.Errors, ItemError{
		ListingID: listing.ID,
		TenantID:  listing.TenantID,
		Kind:      kind,
		Message:   msg,
	})
}
