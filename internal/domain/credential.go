package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus reflects whether a tenant's marketplace link is usable.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Credential holds a tenant's marketplace app credentials and encrypted
// refresh token. The refresh token is stored as AES-256-GCM ciphertext and
// decrypted only transiently in memory during a token exchange; access tokens
// are never persisted.
type Credential struct {
	TenantID           uuid.UUID        `db:"tenant_id"                json:"tenant_id"`
	AppID              string           `db:"app_id"                   json:"app_id"`
	AppSecret          string           `db:"app_secret"               json:"-"`
	RefreshTokenCipher []byte           `db:"refresh_token_ciphertext" json:"-"`
	ConnectionStatus   ConnectionStatus `db:"connection_status"        json:"connection_status"`
	DisconnectReason   *string          `db:"disconnect_reason"        json:"disconnect_reason,omitempty"`
	UpdatedAt          time.Time        `db:"updated_at"               json:"updated_at"`
}

// Connected reports whether the tenant can currently be processed.
func (c *Credential) Connected() bool {
	return c.ConnectionStatus == ConnectionConnected
}
