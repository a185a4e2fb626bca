// Package marketplace implements clients for the two marketplace API
// surfaces: the legacy item-ID-keyed XML protocol and the modern
// SKU/offer-keyed REST protocol.
package marketplace

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/marketops/repricer/internal/domain"
)

// ProtocolError is a typed failure from a marketplace call.
type ProtocolError struct {
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("marketplace returned status %d: %s", e.StatusCode, e.Message)
}

// classify wraps a ProtocolError with the matching domain error kind:
// 404 means the listing vanished remotely, 429 and 5xx are retried next
// cycle, and the remaining 4xx responses indicate a bad request that needs
// operator attention.
func classify(perr *ProtocolError) error {
	switch {
	case perr.StatusCode == http.StatusNotFound:
		return domain.Classify(domain.KindNotFound, perr)
	case perr.StatusCode == http.StatusTooManyRequests || perr.StatusCode >= 500:
		return domain.Classify(domain.KindTransient, perr)
	default:
		return domain.Classify(domain.KindValidation, perr)
	}
}

// RemoteListing is one listing as reported by a full remote pull.
type RemoteListing struct {
	ItemID    string
	SKU       string
	Title     string
	Quantity  int
	Price     decimal.Decimal
	Currency  string
	ImageURLs []string
}

// Key returns the identifier used to match a remote listing against local
// records: the item id when present, otherwise the SKU.
func (r *RemoteListing) Key() string {
	if r.ItemID != "" {
		return r.ItemID
	}
	return r.SKU
}
