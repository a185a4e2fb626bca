// Package syncer reconciles local listing records with the marketplace's
// authoritative state.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/marketops/repricer/internal/clock"
	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/marketplace"
)

// budgetSafety is reserved headroom: pagination self-truncates once the
// remaining budget drops below this, instead of being killed mid-page.
const budgetSafety = 15 * time.Second

// defaultReductionIntervalHours is seeded on newly discovered listings
// (weekly) until an operator configures them.
const defaultReductionIntervalHours = 168

// RemoteSource pulls pages of the tenant's full remote listing set.
type RemoteSource interface {
	FetchListingsPage(ctx context.Context, token string, page, pageSize int) ([]marketplace.RemoteListing, bool, error)
}

// TokenSource supplies an access token for a tenant.
type TokenSource interface {
	AccessToken(ctx context.Context, cred *domain.Credential) (string, error)
}

// ListingStore is the slice of the listing repository the syncer writes
// through. It only ever touches remote-owned fields.
type ListingStore interface {
	GetByRemoteKey(ctx context.Context, tenantID uuid.UUID, itemID, sku string) (*domain.Listing, error)
	Insert(ctx context.Context, l *domain.Listing) error
	UpdateRemoteFields(ctx context.Context, id uuid.UUID, title string, quantity int, images pq.StringArray, syncedAt time.Time) error
	MarkEnded(ctx context.Context, id uuid.UUID) (bool, error)
	ListActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Listing, error)
}

// CursorStore persists pagination progress across truncated runs.
type CursorStore interface {
	NextPage(ctx context.Context, tenantID uuid.UUID) (int, error)
	Save(ctx context.Context, tenantID uuid.UUID, nextPage int, at time.Time) error
	Reset(ctx context.Context, tenantID uuid.UUID, at time.Time) error
}

// Config tunes one reconciliation run.
type Config struct {
	PageSize  int
	PageDelay time.Duration
	// RunBudget time-boxes one run. Budgets at or below the safety headroom
	// (and zero) mean unlimited.
	RunBudget time.Duration
	// DefaultMinimumRatio seeds minimum_price on newly discovered listings
	// as a fraction of the remote price.
	DefaultMinimumRatio decimal.Decimal
}

// Result summarizes one reconciliation run.
type Result struct {
	Inserted  int  `json:"inserted"`
	Updated   int  `json:"updated"`
	Ended     int  `json:"ended"`
	Pages     int  `json:"pages"`
	Truncated bool `json:"truncated"`
}

// Syncer pulls remote listing state and merges it into local records.
//
// Field ownership contract: the syncer writes only remote-owned fields
// (title, quantity, images, quantity-derived status, last_synced_at). It
// never touches minimum_price, strategy, or reduction_enabled — those belong
// to the reduction engine regardless of remote payload content.
type Syncer struct {
	source  RemoteSource
	tokens  TokenSource
	store   ListingStore
	cursors CursorStore
	cfg     Config
	clock   clock.Clock
	logger  logger.Logger
}

// New creates a Syncer.
func New(
	source RemoteSource,
	tokens TokenSource,
	store ListingStore,
	cursors CursorStore,
	cfg Config,
	clk clock.Clock,
	log logger.Logger,
) *Syncer {
	return &Syncer{
		source:  source,
		tokens:  tokens,
		store:   store,
		cursors: cursors,
		cfg:     cfg,
		clock:   clk,
		logger:  log,
	}
}

// Sync reconciles one tenant.
//
// Pagination is time-boxed: when the elapsed time approaches the run budget
// the pull truncates, durable partial progress stays applied, and the saved
// cursor makes the next run resume at the first unprocessed page. Deletion
// detection (soft-ending listings absent from the pull) only runs after a
// complete pass that started at page one, since a resumed pass has not seen
// the whole remote set.
func (s *Syncer) Sync(ctx context.Context, cred *domain.Credential) (Result, error) {
	var res Result

	token, err := s.tokens.AccessToken(ctx, cred)
	if err != nil {
		return res, fmt.Errorf("sync tenant %s: %w", cred.TenantID, err)
	}

	startPage, err := s.cursors.NextPage(ctx, cred.TenantID)
	if err != nil {
		return res, err
	}

	started := s.clock.Now()
	seen := make(map[string]bool)
	page := startPage

	for {
		if s.budgetExhausted(started) {
			res.Truncated = true
			if err := s.cursors.Save(ctx, cred.TenantID, page, s.clock.Now()); err != nil {
				s.logger.Error("failed to save sync cursor", logger.Error(err))
			}
			s.logger.Warn("reconciliation truncated near run budget",
				logger.UUID("tenant_id", cred.TenantID),
				logger.Int("resume_page", page))
			break
		}

		listings, hasMore, err := s.source.FetchListingsPage(ctx, token, page, s.cfg.PageSize)
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		res.Pages++

		for i := range listings {
			if err := s.merge(ctx, cred.TenantID, &listings[i], &res); err != nil {
				s.logger.Error("failed to merge remote listing",
					logger.UUID("tenant_id", cred.TenantID),
					logger.String("remote_key", listings[i].Key()),
					logger.Error(err))
				continue
			}
			markSeen(seen, &listings[i])
		}

		if !hasMore {
			if err := s.cursors.Reset(ctx, cred.TenantID, s.clock.Now()); err != nil {
				s.logger.Error("failed to reset sync cursor", logger.Error(err))
			}
			break
		}
		page++

		if err := s.clock.Sleep(ctx, s.cfg.PageDelay); err != nil {
			return res, err
		}
	}

	if !res.Truncated && startPage == 1 {
		if err := s.endMissing(ctx, cred.TenantID, seen, &res); err != nil {
			return res, err
		}
	}

	s.logger.Info("reconciliation finished",
		logger.UUID("tenant_id", cred.TenantID),
		logger.Int("inserted", res.Inserted),
		logger.Int("updated", res.Updated),
		logger.Int("ended", res.Ended),
		logger.Int("pages", res.Pages),
		logger.Bool("truncated", res.Truncated))

	return res, nil
}

func (s *Syncer) budgetExhausted(started time.Time) bool {
	// A budget inside the safety headroom would exhaust before page one;
	// treat it as unlimited.
	if s.cfg.RunBudget <= budgetSafety {
		return false
	}
	return s.clock.Now().Sub(started) >= s.cfg.RunBudget-budgetSafety
}

// markSeen records every identifier the remote listing reports. A local
// record may carry only one of the two, so deletion detection must be able
// to match on either.
func markSeen(seen map[string]bool, remote *marketplace.RemoteListing) {
	if remote.ItemID != "" {
		seen[remote.ItemID] = true
	}
	if remote.SKU != "" {
		seen[remote.SKU] = true
	}
}

// presentInPull reports whether any of the listing's identifiers appeared in
// the completed pull.
func presentInPull(seen map[string]bool, l *domain.Listing) bool {
	if l.ItemID != nil && seen[*l.ItemID] {
		return true
	}
	return l.SKU != nil && seen[*l.SKU]
}

// merge applies one remote listing to local state: existing records get
// their remote-owned fields refreshed, unknown records are inserted with
// seeded price fields.
func (s *Syncer) merge(ctx context.Context, tenantID uuid.UUID, remote *marketplace.RemoteListing, res *Result) error {
	now := s.clock.Now()

	local, err := s.store.GetByRemoteKey(ctx, tenantID, remote.ItemID, remote.SKU)
	switch {
	case err == nil:
		return s.mergeExisting(ctx, local, remote, now, res)
	case errors.Is(err, domain.ErrNotFound):
		return s.insertNew(ctx, tenantID, remote, now, res)
	default:
		return err
	}
}

func (s *Syncer) mergeExisting(
	ctx context.Context,
	local *domain.Listing,
	remote *marketplace.RemoteListing,
	now time.Time,
	res *Result,
) error {
	if err := s.store.UpdateRemoteFields(ctx, local.ID, remote.Title, remote.Quantity, pq.StringArray(remote.ImageURLs), now); err != nil {
		return err
	}
	res.Updated++

	// Quantity zero means sold out remotely; soft-end once. Ended records
	// never reactivate here even if the remote reports them live again.
	if remote.Quantity == 0 && local.Status == domain.ListingStatusActive {
		ended, err := s.store.MarkEnded(ctx, local.ID)
		if err != nil {
			return err
		}
		if ended {
			res.Ended++
		}
	}
	return nil
}

func (s *Syncer) insertNew(
	ctx context.Context,
	tenantID uuid.UUID,
	remote *marketplace.RemoteListing,
	now time.Time,
	res *Result,
) error {
	status := domain.ListingStatusActive
	if remote.Quantity == 0 {
		status = domain.ListingStatusEnded
	}

	listing := &domain.Listing{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		Title:                remote.Title,
		Quantity:             remote.Quantity,
		ImageURLs:            pq.StringArray(remote.ImageURLs),
		Currency:             remote.Currency,
		CurrentPrice:         remote.Price,
		MinimumPrice:         remote.Price.Mul(s.cfg.DefaultMinimumRatio).Round(2),
		ReductionEnabled:     false,
		ReductionIntervalHrs: defaultReductionIntervalHours,
		Status:               status,
		Protocol:             domain.ProtocolUnclassified,
		ListedAt:             now,
		LastSyncedAt:         &now,
	}
	if remote.ItemID != "" {
		itemID := remote.ItemID
		listing.ItemID = &itemID
	}
	if remote.SKU != "" {
		sku := remote.SKU
		listing.SKU = &sku
	}

	if err := s.store.Insert(ctx, listing); err != nil {
		return err
	}
	res.Inserted++
	return nil
}

// endMissing soft-ends every active local listing whose key was absent from
// the completed full pull. MarkEnded only transitions active rows, so
// repeated runs are idempotent.
func (s *Syncer) endMissing(ctx context.Context, tenantID uuid.UUID, seen map[string]bool, res *Result) error {
	active, err := s.store.ListActiveByTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	for i := range active {
		key := active[i].RemoteKey()
		if key == "" || presentInPull(seen, &active[i]) {
			continue
		}
		ended, err := s.store.MarkEnded(ctx, active[i].ID)
		if err != nil {
			return err
		}
		if ended {
			res.Ended++
			s.logger.Info("listing absent from remote pull, soft-ended",
				logger.UUID("listing_id", active[i].ID),
				logger.String("remote_key", key))
		}
	}
	return nil
}
