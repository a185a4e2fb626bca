package token_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/token"
)

// 32 bytes, hex encoded
const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestBroker(t *testing.T, tokenURL string) *token.Broker {
	t.Helper()
	b, err := token.NewBroker(tokenURL, testKeyHex, 5*time.Second, logger.NewNopLogger())
	require.NoError(t, err)
	return b
}

func testCredential(t *testing.T, b *token.Broker, refreshToken string) *domain.Credential {
	t.Helper()
	cipher, err := b.Encrypt(refreshToken)
	require.NoError(t, err)
	return &domain.Credential{
		TenantID:           uuid.New(),
		AppID:              "app-id",
		AppSecret:          "app-secret",
		RefreshTokenCipher: cipher,
		ConnectionStatus:   domain.ConnectionConnected,
	}
}

func TestNewBroker_KeyValidation(t *testing.T) {
	log := logger.NewNopLogger()

	_, err := token.NewBroker("http://x", "not-hex", time.Second, log)
	assert.Error(t, err)

	_, err = token.NewBroker("http://x", "abcd", time.Second, log)
	assert.Error(t, err)

	_, err = token.NewBroker("http://x", testKeyHex, time.Second, log)
	assert.NoError(t, err)
}

func TestBroker_AccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "my-refresh-token", r.PostForm.Get("refresh_token"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "app-id", user)
		assert.Equal(t, "app-secret", pass)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access-token",
			"token_type":   "Bearer",
			"expires_in":   7200,
		})
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	cred := testCredential(t, b, "my-refresh-token")

	got, err := b.AccessToken(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-token", got)
}

func TestBroker_AccessToken_InvalidGrantNeedsReconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	cred := testCredential(t, b, "revoked-token")

	_, err := b.AccessToken(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNeedsReconnect))
}

func TestBroker_AccessToken_UnauthorizedNeedsReconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	cred := testCredential(t, b, "some-token")

	_, err := b.AccessToken(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNeedsReconnect))
}

func TestBroker_AccessToken_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	cred := testCredential(t, b, "some-token")

	_, err := b.AccessToken(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransient))
}

func TestBroker_AccessToken_EmptyTokenIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": ""})
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	cred := testCredential(t, b, "some-token")

	_, err := b.AccessToken(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransient))
}

func TestBroker_AccessToken_BadCiphertextNeedsReconnect(t *testing.T) {
	b := newTestBroker(t, "http://unused")
	cred := &domain.Credential{
		TenantID:           uuid.New(),
		RefreshTokenCipher: []byte("garbage"),
	}

	_, err := b.AccessToken(context.Background(), cred)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNeedsReconnect))
}

func TestBroker_EncryptRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		// The decrypted token must match what was sealed
		assert.Equal(t, "round-trip-token", r.PostForm.Get("refresh_token"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "ok"})
	}))
	defer server.Close()

	b := newTestBroker(t, server.URL)
	cred := testCredential(t, b, "round-trip-token")

	// Nonces are random, so two encryptions of the same token differ
	other, err := b.Encrypt("round-trip-token")
	require.NoError(t, err)
	assert.NotEqual(t, cred.RefreshTokenCipher, other)

	_, err = b.AccessToken(context.Background(), cred)
	require.NoError(t, err)
}
