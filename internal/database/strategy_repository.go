package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/marketops/repricer/internal/domain"
)

// strategySelectList normalizes the two schema generations at the store
// boundary: older rows carry reduction_type/reduction_amount, newer ones
// strategy_type/reduction_value. Only the canonical shape leaves this package.
const strategySelectList = `id, tenant_id, name,
			COALESCE(strategy_type, reduction_type)    AS strategy_type,
			COALESCE(reduction_value, reduction_amount) AS reduction_value,
			floor_price, created_at, updated_at`

// StrategyRepository manages pricing strategies in PostgreSQL.
type StrategyRepository struct {
	db *sqlx.DB
}

// NewStrategyRepository creates a new repository.
func NewStrategyRepository(db *sqlx.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// GetByID retrieves one strategy in canonical form.
func (r *StrategyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Strategy, error) {
	query := `SELECT ` + strategySelectList + ` FROM strategies WHERE id = $1`

	strategy := &domain.Strategy{}
	if err := r.db.GetContext(ctx, strategy, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	return strategy, nil
}

// ListByTenant retrieves all of a tenant's strategies. Cycles load these once
// up front and treat them as a read-only snapshot.
func (r *StrategyRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Strategy, error) {
	query := `SELECT ` + strategySelectList + ` FROM strategies WHERE tenant_id = $1 ORDER BY name`

	strategies := []domain.Strategy{}
	if err := r.db.SelectContext(ctx, &strategies, query, tenantID); err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	return strategies, nil
}
