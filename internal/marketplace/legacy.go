package marketplace

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
)

const (
	legacyCompatLevel = "1193"

	legacyCallRevise     = "ReviseItem"
	legacyCallSellerList = "GetSellerList"

	maxLegacyBodyBytes = 1 << 20
)

// LegacyClient talks to the legacy item-ID-keyed XML protocol. Every call
// carries the tenant's bearer token in the IAF header the protocol expects.
type LegacyClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewLegacyClient creates a LegacyClient. The limiter is shared with the
// modern client so the two protocols draw from one outbound budget.
func NewLegacyClient(baseURL string, timeout time.Duration, limiter *rate.Limiter, log logger.Logger) *LegacyClient {
	return &LegacyClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  log,
	}
}

type reviseItemRequest struct {
	XMLName xml.Name       `xml:"ReviseItemRequest"`
	Item    reviseItemBody `xml:"Item"`
}

type reviseItemBody struct {
	ItemID     string     `xml:"ItemID"`
	StartPrice priceField `xml:"StartPrice"`
}

type priceField struct {
	CurrencyID string `xml:"currencyID,attr"`
	Value      string `xml:",chardata"`
}

type legacyResponse struct {
	Ack    string        `xml:"Ack"`
	Errors []legacyError `xml:"Errors"`
}

type legacyError struct {
	Code     string `xml:"ErrorCode"`
	Short    string `xml:"ShortMessage"`
	Long     string `xml:"LongMessage"`
	Severity string `xml:"SeverityCode"`
}

// UpdatePrice revises the start price of a legacy listing. Either succeeds
// or returns a classified ProtocolError; no partial outcomes.
func (c *LegacyClient) UpdatePrice(ctx context.Context, token, itemID string, price decimal.Decimal, currency string) error {
	payload := reviseItemRequest{
		Item: reviseItemBody{
			ItemID:     itemID,
			StartPrice: priceField{CurrencyID: currency, Value: price.StringFixed(2)},
		},
	}

	var resp legacyResponse
	if err := c.call(ctx, token, legacyCallRevise, payload, &resp); err != nil {
		return err
	}

	if err := ackError(&resp); err != nil {
		return err
	}

	c.logger.Debug("legacy price revised",
		logger.String("item_id", itemID),
		logger.Decimal("price", price))
	return nil
}

type sellerListRequest struct {
	XMLName     xml.Name         `xml:"GetSellerListRequest"`
	Pagination  paginationFilter `xml:"Pagination"`
	DetailLevel string           `xml:"DetailLevel"`
}

type paginationFilter struct {
	EntriesPerPage int `xml:"EntriesPerPage"`
	PageNumber     int `xml:"PageNumber"`
}

type sellerListResponse struct {
	Ack          string          `xml:"Ack"`
	Errors       []legacyError   `xml:"Errors"`
	HasMoreItems bool            `xml:"HasMoreItems"`
	Items        []sellerListing `xml:"ItemArray>Item"`
}

type sellerListing struct {
	ItemID      string     `xml:"ItemID"`
	SKU         string     `xml:"SKU"`
	Title       string     `xml:"Title"`
	Quantity    int        `xml:"Quantity"`
	StartPrice  priceField `xml:"SellingStatus>CurrentPrice"`
	PictureURLs []string   `xml:"PictureDetails>PictureURL"`
}

// FetchListingsPage pulls one page of the tenant's full listing set. The
// seller list reports both item ids and SKUs, so a single pull covers
// listings of either protocol. Returns the page and whether more pages exist.
func (c *LegacyClient) FetchListingsPage(ctx context.Context, token string, page, pageSize int) ([]RemoteListing, bool, error) {
	payload := sellerListRequest{
		Pagination:  paginationFilter{EntriesPerPage: pageSize, PageNumber: page},
		DetailLevel: "ReturnAll",
	}

	var resp sellerListResponse
	if err := c.call(ctx, token, legacyCallSellerList, payload, &resp); err != nil {
		return nil, false, err
	}
	envelope := resp.legacyResponseView()
	if err := ackError(&envelope); err != nil {
		return nil, false, err
	}

	listings := make([]RemoteListing, 0, len(resp.Items))
	for _, item := range resp.Items {
		price, err := decimal.NewFromString(item.StartPrice.Value)
		if err != nil {
			c.logger.Warn("skipping remote listing with unparseable price",
				logger.String("item_id", item.ItemID),
				logger.String("raw_price", item.StartPrice.Value))
			continue
		}
		listings = append(listings, RemoteListing{
			ItemID:    item.ItemID,
			SKU:       item.SKU,
			Title:     item.Title,
			Quantity:  item.Quantity,
			Price:     price,
			Currency:  item.StartPrice.CurrencyID,
			ImageURLs: item.PictureURLs,
		})
	}

	return listings, resp.HasMoreItems, nil
}

func (r *sellerListResponse) legacyResponseView() legacyResponse {
	return legacyResponse{Ack: r.Ack, Errors: r.Errors}
}

// call posts one XML request and decodes the response envelope.
func (c *LegacyClient) call(ctx context.Context, token, callName string, payload, out any) error {
	body, err := xml.Marshal(payload)
	if err != nil {
		return domain.Classifyf(domain.KindTransient, "marshal %s request: %w", callName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ws/api.dll",
		bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return domain.Classifyf(domain.KindTransient, "build %s request: %w", callName, err)
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("X-API-CALL-NAME", callName)
	req.Header.Set("X-API-COMPATIBILITY-LEVEL", legacyCompatLevel)
	req.Header.Set("X-API-IAF-TOKEN", token)

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Classifyf(domain.KindTransient, "rate limit wait: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Classifyf(domain.KindTransient, "%s: %w", callName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxLegacyBodyBytes))
	if err != nil {
		return domain.Classifyf(domain.KindTransient, "read %s response: %w", callName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return classify(&ProtocolError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		})
	}

	if err := xml.Unmarshal(raw, out); err != nil {
		return domain.Classifyf(domain.KindTransient, "decode %s response: %w", callName, err)
	}
	return nil
}

// ackError converts a Failure ack into a classified ProtocolError. The
// legacy protocol reports application errors inside a 200 response.
func ackError(resp *legacyResponse) error {
	if resp.Ack == "Success" || resp.Ack == "Warning" {
		return nil
	}

	msg := "unspecified failure"
	status := http.StatusBadRequest
	if len(resp.Errors) > 0 {
		first := resp.Errors[0]
		msg = fmt.Sprintf("%s (code %s): %s", first.Short, first.Code, first.Long)
		if first.Code == "17" || strings.Contains(first.Long, "ended") {
			// "Item cannot be accessed" / ended item: the listing is gone.
			status = http.StatusNotFound
		}
	}
	return classify(&ProtocolError{StatusCode: status, Message: msg})
}
