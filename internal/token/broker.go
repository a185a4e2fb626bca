// Package token exchanges per-tenant refresh tokens for marketplace access
// tokens. Access tokens are never persisted; callers hold them at most for
// the duration of one cycle.
package token

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
)

const (
	grantTypeRefresh = "refresh_token"

	// maxErrorBodyBytes bounds how much of an error response body is read
	// for classification and logging.
	maxErrorBodyBytes = 4 << 10
)

// ErrEmptyToken is returned when the token endpoint responds 2xx without an
// access token.
var ErrEmptyToken = errors.New("token endpoint returned empty access token")

// Broker performs OAuth refresh-token exchanges against the marketplace's
// token endpoint.
type Broker struct {
	tokenURL string
	client   *http.Client
	key      []byte
	logger   logger.Logger
}

// NewBroker creates a Broker. keyHex is the hex-encoded 32-byte AES key used
// to decrypt stored refresh tokens.
func NewBroker(tokenURL, keyHex string, timeout time.Duration, log logger.Logger) (*Broker, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	return &Broker{
		tokenURL: tokenURL,
		client:   &http.Client{Timeout: timeout},
		key:      key,
		logger:   log,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// AccessToken decrypts the credential's refresh token and exchanges it for a
// fresh access token.
//
// An invalid_grant response (or any 400/401 from the token endpoint) is
// classified NeedsReconnect: the refresh token is expired or revoked and the
// tenant must re-authorize. Every other failure is transient and retried on
// the next cycle.
func (b *Broker) AccessToken(ctx context.Context, cred *domain.Credential) (string, error) {
	refreshToken, err := b.decrypt(cred.RefreshTokenCipher)
	if err != nil {
		return "", domain.Classifyf(domain.KindNeedsReconnect,
			"decrypt refresh token for tenant %s: %w", cred.TenantID, err)
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeRefresh)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", domain.Classifyf(domain.KindTransient, "build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cred.AppID, cred.AppSecret)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", domain.Classifyf(domain.KindTransient, "token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", b.classifyFailure(cred, resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", domain.Classifyf(domain.KindTransient, "decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", domain.Classify(domain.KindTransient, ErrEmptyToken)
	}

	b.logger.Debug("access token obtained",
		logger.UUID("tenant_id", cred.TenantID),
		logger.Int("expires_in", tr.ExpiresIn))

	return tr.AccessToken, nil
}

// classifyFailure maps a non-200 token response to an error kind.
func (b *Broker) classifyFailure(cred *domain.Credential, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var te tokenErrorResponse
	_ = json.Unmarshal(body, &te)

	if te.Error == "invalid_grant" ||
		resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnauthorized {
		b.logger.Warn("refresh token rejected, tenant needs reconnect",
			logger.UUID("tenant_id", cred.TenantID),
			logger.Int("status", resp.StatusCode),
			logger.String("oauth_error", te.Error))
		return domain.Classifyf(domain.KindNeedsReconnect,
			"token endpoint rejected refresh token (status %d, error %q)", resp.StatusCode, te.Error)
	}

	return domain.Classifyf(domain.KindTransient,
		"token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// decrypt opens an AES-256-GCM ciphertext produced by Encrypt. The nonce is
// prepended to the ciphertext.
func (b *Broker) decrypt(ciphertext []byte) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}

// Encrypt seals a refresh token with the broker's key. Used by the credential
// import path and by tests; the inverse of decrypt.
func (b *Broker) Encrypt(refreshToken string) ([]byte, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(refreshToken), nil), nil
}
