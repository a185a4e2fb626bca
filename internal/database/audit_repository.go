package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/marketops/repricer/internal/domain"
)

// AuditRepository manages the append-only price reduction log.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends one log entry. Callers invoke this only after both the
// remote update and the local price persist have succeeded.
func (r *AuditRepository) Insert(ctx context.Context, e *domain.PriceReductionLogEntry) error {
	query := `
		INSERT INTO price_reduction_log (
			id, listing_id, tenant_id, old_price, new_price,
			reduction_amount, strategy_type, trigger_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.ListingID, e.TenantID, e.OldPrice, e.NewPrice,
		e.ReductionAmount, e.StrategyType, e.Trigger, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes entries past the retention window and returns the
// number removed.
func (r *AuditRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM price_reduction_log WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return result.RowsAffected()
}

// ListByListing returns a listing's reduction history, newest first.
func (r *AuditRepository) ListByListing(ctx context.Context, listingID uuid.UUID, limit int) ([]domain.PriceReductionLogEntry, error) {
	query := `
		SELECT id, listing_id, tenant_id, old_price, new_price,
		       reduction_amount, strategy_type, trigger_type, created_at
		FROM price_reduction_log
		WHERE listing_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	entries := []domain.PriceReductionLogEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, listingID, limit); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
