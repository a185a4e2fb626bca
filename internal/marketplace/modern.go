package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
)

const maxModernBodyBytes = 1 << 20

// ModernClient talks to the modern SKU/offer-keyed REST protocol using
// bearer tokens.
type ModernClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewModernClient creates a ModernClient sharing the outbound rate limiter
// with the legacy client.
func NewModernClient(baseURL string, timeout time.Duration, limiter *rate.Limiter, log logger.Logger) *ModernClient {
	return &ModernClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  log,
	}
}

type offerPriceRequest struct {
	PricingSummary pricingSummary `json:"pricingSummary"`
}

type pricingSummary struct {
	Price moneyValue `json:"price"`
}

type moneyValue struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type offerListResponse struct {
	Offers []offerSummary `json:"offers"`
	Total  int            `json:"total"`
}

type offerSummary struct {
	OfferID string `json:"offerId"`
	SKU     string `json:"sku"`
	Status  string `json:"status"`
}

type modernErrorResponse struct {
	Errors []struct {
		ErrorID int    `json:"errorId"`
		Message string `json:"message"`
	} `json:"errors"`
}

// UpdatePrice replaces an offer's price. Either succeeds or returns a
// classified ProtocolError.
func (c *ModernClient) UpdatePrice(ctx context.Context, token, offerID string, price decimal.Decimal, currency string) error {
	payload := offerPriceRequest{
		PricingSummary: pricingSummary{
			Price: moneyValue{Value: price.StringFixed(2), Currency: currency},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Classifyf(domain.KindTransient, "marshal price update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/offer/%s/update_price", c.baseURL, url.PathEscape(offerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Classifyf(domain.KindTransient, "build price update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Classifyf(domain.KindTransient, "rate limit wait: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Classifyf(domain.KindTransient, "update offer price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.errorFrom(resp)
	}

	c.logger.Debug("modern offer price updated",
		logger.String("offer_id", offerID),
		logger.Decimal("price", price))
	return nil
}

// LookupOfferID resolves the offer id for a SKU. Returns a not-found
// classified error when the SKU has no offer.
func (c *ModernClient) LookupOfferID(ctx context.Context, token, sku string) (string, error) {
	endpoint := fmt.Sprintf("%s/offer?sku=%s", c.baseURL, url.QueryEscape(sku))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", domain.Classifyf(domain.KindTransient, "build offer lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", domain.Classifyf(domain.KindTransient, "rate limit wait: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.Classifyf(domain.KindTransient, "lookup offer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.errorFrom(resp)
	}

	var list offerListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", domain.Classifyf(domain.KindTransient, "decode offer lookup response: %w", err)
	}
	if len(list.Offers) == 0 {
		return "", domain.Classify(domain.KindNotFound, &ProtocolError{
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("no offer found for sku %q", sku),
		})
	}

	return list.Offers[0].OfferID, nil
}

// errorFrom builds a classified ProtocolError from a non-2xx response,
// preferring the structured error message when the body parses.
func (c *ModernClient) errorFrom(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxModernBodyBytes))

	msg := strings.TrimSpace(string(raw))
	var me modernErrorResponse
	if err := json.Unmarshal(raw, &me); err == nil && len(me.Errors) > 0 {
		msg = me.Errors[0].Message
	}

	return classify(&ProtocolError{StatusCode: resp.StatusCode, Message: msg})
}
