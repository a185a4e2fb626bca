package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/marketops/repricer/internal/domain"
)

// RunGuardRepository manages the per-job run guard rows that make scheduled
// cycles idempotent across duplicate fire times.
type RunGuardRepository struct {
	db *sqlx.DB
}

// NewRunGuardRepository creates a new repository.
func NewRunGuardRepository(db *sqlx.DB) *RunGuardRepository {
	return &RunGuardRepository{db: db}
}

// Get returns the guard state for a job, or domain.ErrNotFound when the job
// has never completed.
func (r *RunGuardRepository) Get(ctx context.Context, jobName string) (*domain.RunGuardState, error) {
	query := `SELECT job_name, last_run_date, completed_at FROM run_guard WHERE job_name = $1`

	state := &domain.RunGuardState{}
	if err := r.db.GetContext(ctx, state, query, jobName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get run guard: %w", err)
	}
	return state, nil
}

// MarkCompleted records that the job finished for the given business-timezone
// calendar date.
func (r *RunGuardRepository) MarkCompleted(ctx context.Context, jobName, runDate string, completedAt time.Time) error {
	query := `
		INSERT INTO run_guard (job_name, last_run_date, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_name)
		DO UPDATE SET last_run_date = EXCLUDED.last_run_date,
		              completed_at = EXCLUDED.completed_at`

	if _, err := r.db.ExecContext(ctx, query, jobName, runDate, completedAt); err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	return nil
}
