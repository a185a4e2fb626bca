package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SyncCursorRepository persists per-tenant reconciliation progress so a
// time-boxed pull that truncates can resume from the next page instead of
// restarting from the beginning.
type SyncCursorRepository struct {
	db *sqlx.DB
}

// NewSyncCursorRepository creates a new repository.
func NewSyncCursorRepository(db *sqlx.DB) *SyncCursorRepository {
	return &SyncCursorRepository{db: db}
}

// NextPage returns the page a tenant's next pull should start from.
// Tenants with no cursor start at page 1.
func (r *SyncCursorRepository) NextPage(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var page int
	err := r.db.GetContext(ctx, &page,
		`SELECT next_page FROM sync_cursors WHERE tenant_id = $1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get sync cursor: %w", err)
	}
	if page < 1 {
		page = 1
	}
	return page, nil
}

// Save records where the next pull should resume.
func (r *SyncCursorRepository) Save(ctx context.Context, tenantID uuid.UUID, nextPage int, at time.Time) error {
	query := `
		INSERT INTO sync_cursors (tenant_id, next_page, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id)
		DO UPDATE SET next_page = EXCLUDED.next_page, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, tenantID, nextPage, at); err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}

// Reset returns a tenant's cursor to the first page after a completed pull.
func (r *SyncCursorRepository) Reset(ctx context.Context, tenantID uuid.UUID, at time.Time) error {
	return r.Save(ctx, tenantID, 1, at)
}
