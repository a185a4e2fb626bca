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

const credentialSelectList = `tenant_id, app_id, app_secret, refresh_token_ciphertext,
			connection_status, disconnect_reason, updated_at`

// CredentialRepository manages per-tenant marketplace credentials.
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository creates a new repository.
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetByTenant retrieves one tenant's credential.
func (r *CredentialRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Credential, error) {
	query := `SELECT ` + credentialSelectList + ` FROM credentials WHERE tenant_id = $1`

	cred := &domain.Credential{}
	if err := r.db.GetContext(ctx, cred, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

// ListConnected returns credentials for every tenant still marked connected.
func (r *CredentialRepository) ListConnected(ctx context.Context) ([]domain.Credential, error) {
	query := `SELECT ` + credentialSelectList + `
		FROM credentials
		WHERE connection_status = 'connected'
		ORDER BY tenant_id`

	creds := []domain.Credential{}
	if err := r.db.SelectContext(ctx, &creds, query); err != nil {
		return nil, fmt.Errorf("list connected credentials: %w", err)
	}
	return creds, nil
}

// MarkDisconnected flags a tenant's connection as broken. Done when the token
// exchange reports an invalid/expired/revoked refresh token; reconnection is
// a manual operator action, never automatic.
func (r *CredentialRepository) MarkDisconnected(ctx context.Context, tenantID uuid.UUID, reason string) error {
	query := `
		UPDATE credentials
		SET connection_status = 'disconnected',
		    disconnect_reason = $2,
		    updated_at = NOW()
		WHERE tenant_id = $1`

	result, err := r.db.ExecContext(ctx, query, tenantID, reason)
	if err != nil {
		return fmt.Errorf("mark disconnected: %w", err)
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
