package marketplace_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
	"github.com/marketops/repricer/internal/marketplace"
)

func newModernClient(t *testing.T, serverURL string) *marketplace.ModernClient {
	t.Helper()
	return marketplace.NewModernClient(serverURL, 5*time.Second, rate.NewLimiter(rate.Inf, 1), logger.NewNopLogger())
}

func TestModernClient_UpdatePrice(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/offer/offer-9/update_price", r.URL.Path)
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

			body, _ := io.ReadAll(r.Body)
			var payload map[string]map[string]map[string]string
			require.NoError(t, json.Unmarshal(body, &payload))
			assert.Equal(t, "47.50", payload["pricingSummary"]["price"]["value"])
			assert.Equal(t, "USD", payload["pricingSummary"]["price"]["currency"])

			w.WriteHeader(status)
		}))

		c := newModernClient(t, server.URL)
		err := c.UpdatePrice(context.Background(), "tok-123", "offer-9", decimal.RequireFromString("47.5"), "USD")
		assert.NoError(t, err)
		server.Close()
	}
}

func TestModernClient_UpdatePrice_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind domain.ErrorKind
	}{
		{
			name:     "offer gone",
			status:   http.StatusNotFound,
			body:     `{"errors":[{"errorId":25713,"message":"Offer not found."}]}`,
			wantKind: domain.KindNotFound,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			wantKind: domain.KindTransient,
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			wantKind: domain.KindTransient,
		},
		{
			name:     "rejected price",
			status:   http.StatusBadRequest,
			body:     `{"errors":[{"errorId":25001,"message":"Invalid price value."}]}`,
			wantKind: domain.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newModernClient(t, server.URL)
			err := c.UpdatePrice(context.Background(), "tok", "offer-9", decimal.RequireFromString("10.00"), "USD")
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, tt.wantKind), "got kind %s", domain.KindOf(err))
		})
	}
}

func TestModernClient_LookupOfferID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/offer", r.URL.Path)
		assert.Equal(t, "WIDGET-1", r.URL.Query().Get("sku"))
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"offers": []map[string]string{
				{"offerId": "offer-9", "sku": "WIDGET-1", "status": "PUBLISHED"},
			},
			"total": 1,
		})
	}))
	defer server.Close()

	c := newModernClient(t, server.URL)
	offerID, err := c.LookupOfferID(context.Background(), "tok-123", "WIDGET-1")
	require.NoError(t, err)
	assert.Equal(t, "offer-9", offerID)
}

func TestModernClient_LookupOfferID_NoOffers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"offers": []any{}, "total": 0})
	}))
	defer server.Close()

	c := newModernClient(t, server.URL)
	_, err := c.LookupOfferID(context.Background(), "tok", "NO-SUCH-SKU")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
