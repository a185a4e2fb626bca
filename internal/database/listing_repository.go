package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/marketops/repricer/internal/domain"
)

// listingSelectList is the column list for SELECT/RETURNING on listings
// (single source for schema changes).
const listingSelectList = `id, tenant_id, item_id, sku, offer_id, title, quantity, image_urls,
			currency, current_price, minimum_price, reduction_enabled, strategy_id,
			reduction_interval_hours, last_reduction_at, next_reduction_at,
			status, protocol, listed_at, last_synced_at, created_at, updated_at`

// ListingRepository manages listing rows in PostgreSQL.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new repository.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// GetByID retrieves a single listing.
func (r *ListingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	listing := &domain.Listing{}
	query := `SELECT ` + listingSelectList + ` FROM listings WHERE id = $1`

	if err := r.db.GetContext(ctx, listing, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return listing, nil
}

// ListDue returns the snapshot of listings due for reduction at the given
// instant, ordered by tenant so the cycle can group per-tenant work. The due
// predicate mirrors Listing.IsDueForReduction.
func (r *ListingRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	query := `
		SELECT ` + listingSelectList + `
		FROM listings
		WHERE reduction_enabled = true
		  AND status = 'active'
		  AND current_price > minimum_price
		  AND (last_reduction_at IS NULL
		       OR last_reduction_at <= $1 - (reduction_interval_hours * INTERVAL '1 hour'))
		ORDER BY tenant_id, last_reduction_at ASC NULLS FIRST`
	args := []any{now}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	listings := []domain.Listing{}
	if err := r.db.SelectContext(ctx, &listings, query, args...); err != nil {
		return nil, fmt.Errorf("list due listings: %w", err)
	}
	return listings, nil
}

// ApplyReduction persists an engine-applied price change. Only engine-owned
// fields are written; the WHERE clause re-checks the floor so a concurrent
// mutation can never push the price below the minimum.
func (r *ListingRepository) ApplyReduction(
	ctx context.Context,
	id uuid.UUID,
	newPrice decimal.Decimal,
	now time.Time,
	next time.Time,
) error {
	query := `
		UPDATE listings
		SET current_price = $2,
		    last_reduction_at = $3,
		    next_reduction_at = $4,
		    updated_at = NOW()
		WHERE id = $1 AND $2 >= minimum_price`

	if err := r.execExpectOneRow(ctx, query, id, newPrice, now, next); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("apply reduction: %w", err)
	}
	return nil
}

// SetClassification persists a resolved protocol (and offer id, when one was
// looked up) after the first successful remote call on an unclassified listing.
func (r *ListingRepository) SetClassification(
	ctx context.Context,
	id uuid.UUID,
	protocol domain.Protocol,
	offerID *string,
) error {
	query := `
		UPDATE listings
		SET protocol = $2,
		    offer_id = COALESCE($3, offer_id),
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, protocol, offerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("set classification: %w", err)
	}
	return nil
}

// MarkEnded transitions an active listing to ended, reporting whether the
// transition happened. Already-ended listings are left untouched, which keeps
// the transition idempotent.
func (r *ListingRepository) MarkEnded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE listings
		SET status = 'ended', updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark ended: %w", err)
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("get affected rows: %w", rowsErr)
	}
	return rows > 0, nil
}

// ListActiveByTenant returns all active listings for a tenant, used by the
// syncer for deletion detection against a full remote pull.
func (r *ListingRepository) ListActiveByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Listing, error) {
	query := `SELECT ` + listingSelectList + `
		FROM listings
		WHERE tenant_id = $1 AND status = 'active'`

	listings := []domain.Listing{}
	if err := r.db.SelectContext(ctx, &listings, query, tenantID); err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}
	return listings, nil
}

// GetByRemoteKey finds a tenant's listing by item id or SKU. Either argument
// may be empty; a listing matches when any present identifier matches.
func (r *ListingRepository) GetByRemoteKey(ctx context.Context, tenantID uuid.UUID, itemID, sku string) (*domain.Listing, error) {
	query := `SELECT ` + listingSelectList + `
		FROM listings
		WHERE tenant_id = $1
		  AND (($2 <> '' AND item_id = $2) OR ($3 <> '' AND sku = $3))
		LIMIT 1`

	listing := &domain.Listing{}
	if err := r.db.GetContext(ctx, listing, query, tenantID, itemID, sku); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get listing by remote key: %w", err)
	}
	return listing, nil
}

// Insert stores a newly discovered listing.
func (r *ListingRepository) Insert(ctx context.Context, l *domain.Listing) error {
	query := `
		INSERT INTO listings (
			id, tenant_id, item_id, sku, offer_id, title, quantity, image_urls,
			currency, current_price, minimum_price, reduction_enabled, strategy_id,
			reduction_interval_hours, last_reduction_at, next_reduction_at,
			status, protocol, listed_at, last_synced_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, NOW(), NOW()
		)`

	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.TenantID, l.ItemID, l.SKU, l.OfferID, l.Title, l.Quantity, l.ImageURLs,
		l.Currency, l.CurrentPrice, l.MinimumPrice, l.ReductionEnabled, l.StrategyID,
		l.ReductionIntervalHrs, l.LastReductionAt, l.NextReductionAt,
		l.Status, l.Protocol, l.ListedAt, l.LastSyncedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("insert listing %s: %w", l.RemoteKey(), err)
		}
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// UpdateRemoteFields writes the sync-owned fields of an existing listing.
// Engine-owned fields (minimum_price, strategy_id, reduction_enabled, the
// reduction timestamps) are deliberately absent from the statement.
func (r *ListingRepository) UpdateRemoteFields(
	ctx context.Context,
	id uuid.UUID,
	title string,
	quantity int,
	images pq.StringArray,
	syncedAt time.Time,
) error {
	query := `
		UPDATE listings
		SET title = $2,
		    quantity = $3,
		    image_urls = $4,
		    last_synced_at = $5,
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, title, quantity, images, syncedAt); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update remote fields: %w", err)
	}
	return nil
}

// execExpectOneRow runs an exec and returns domain.ErrNotFound when no row
// was affected.
func (r *ListingRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("get affected rows: %w", rowsErr)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
