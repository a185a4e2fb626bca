// Package domain contains the core domain models for the repricer service.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ListingStatus represents the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusActive ListingStatus = "active"
	ListingStatusEnded  ListingStatus = "ended"
)

// Protocol identifies which marketplace API surface a listing belongs to.
type Protocol string

const (
	ProtocolLegacy       Protocol = "legacy"
	ProtocolModern       Protocol = "modern"
	ProtocolUnclassified Protocol = "unclassified"
)

// TriggerType records what initiated a price reduction.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerAutomated TriggerType = "automated"
)

// Listing mirrors one item/offer on the external marketplace.
//
// Two mutators own disjoint field sets by contract: the reduction engine
// writes price and reduction timestamps, the syncer writes the remote-owned
// fields (title, quantity, images, status derived from quantity,
// last_synced_at). Neither may touch the other's fields.
type Listing struct {
	ID                   uuid.UUID       `db:"id"                       json:"id"`
	TenantID             uuid.UUID       `db:"tenant_id"                json:"tenant_id"`
	ItemID               *string         `db:"item_id"                  json:"item_id,omitempty"`
	SKU                  *string         `db:"sku"                      json:"sku,omitempty"`
	OfferID              *string         `db:"offer_id"                 json:"offer_id,omitempty"`
	Title                string          `db:"title"                    json:"title"`
	Quantity             int             `db:"quantity"                 json:"quantity"`
	ImageURLs            pq.StringArray  `db:"image_urls"               json:"image_urls"`
	Currency             string          `db:"currency"                 json:"currency"`
	CurrentPrice         decimal.Decimal `db:"current_price"            json:"current_price"`
	MinimumPrice         decimal.Decimal `db:"minimum_price"            json:"minimum_price"`
	ReductionEnabled     bool            `db:"reduction_enabled"        json:"reduction_enabled"`
	StrategyID           *uuid.UUID      `db:"strategy_id"              json:"strategy_id,omitempty"`
	ReductionIntervalHrs int             `db:"reduction_interval_hours" json:"reduction_interval_hours"`
	LastReductionAt      *time.Time      `db:"last_reduction_at"        json:"last_reduction_at,omitempty"`
	NextReductionAt      *time.Time      `db:"next_reduction_at"        json:"next_reduction_at,omitempty"`
	Status               ListingStatus   `db:"status"                   json:"status"`
	Protocol             Protocol        `db:"protocol"                 json:"protocol"`
	ListedAt             time.Time       `db:"listed_at"                json:"listed_at"`
	LastSyncedAt         *time.Time      `db:"last_synced_at"           json:"last_synced_at,omitempty"`
	CreatedAt            time.Time       `db:"created_at"               json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"               json:"updated_at"`
}

// RemoteIdentity is the closed set of marketplace identities a listing can
// carry. Exactly one concrete type is returned per listing; callers switch on
// the concrete type to pick a protocol client.
type RemoteIdentity interface {
	remoteIdentity()
}

// LegacyIdentity keys a listing by the legacy protocol's item id.
type LegacyIdentity struct {
	ItemID string
}

// ModernIdentity keys a listing by SKU plus offer id. OfferID may be empty
// when the offer has not been resolved yet.
type ModernIdentity struct {
	SKU     string
	OfferID string
}

func (LegacyIdentity) remoteIdentity() {}
func (ModernIdentity) remoteIdentity() {}

// Identity resolves the listing's remote identity. The explicit protocol tag
// wins; for unclassified listings the identifiers present decide, with
// sku+offer taking precedence over a bare item id.
func (l *Listing) Identity() (RemoteIdentity, error) {
	switch l.Protocol {
	case ProtocolLegacy:
		if l.ItemID == nil || *l.ItemID == "" {
			return nil, ErrNoRemoteIdentity
		}
		return LegacyIdentity{ItemID: *l.ItemID}, nil
	case ProtocolModern:
		if l.SKU == nil || *l.SKU == "" {
			return nil, ErrNoRemoteIdentity
		}
		return ModernIdentity{SKU: *l.SKU, OfferID: strOrEmpty(l.OfferID)}, nil
	case ProtocolUnclassified:
		if l.SKU != nil && *l.SKU != "" && l.OfferID != nil && *l.OfferID != "" {
			return ModernIdentity{SKU: *l.SKU, OfferID: *l.OfferID}, nil
		}
		if l.ItemID != nil && *l.ItemID != "" {
			return LegacyIdentity{ItemID: *l.ItemID}, nil
		}
		return nil, ErrNoRemoteIdentity
	}
	return nil, ErrNoRemoteIdentity
}

// ClassifiedProtocol returns the protocol implied by an identity.
func ClassifiedProtocol(id RemoteIdentity) Protocol {
	switch id.(type) {
	case ModernIdentity:
		return ProtocolModern
	case LegacyIdentity:
		return ProtocolLegacy
	default:
		return ProtocolUnclassified
	}
}

// RemoteKey returns the stable key used to match this listing against a full
// remote pull: the item id when present, otherwise the SKU.
func (l *Listing) RemoteKey() string {
	if l.ItemID != nil && *l.ItemID != "" {
		return *l.ItemID
	}
	return strOrEmpty(l.SKU)
}

// IsDueForReduction reports whether the listing qualifies for a price
// reduction at the given instant.
func (l *Listing) IsDueForReduction(now time.Time) bool {
	if !l.ReductionEnabled || l.Status != ListingStatusActive {
		return false
	}
	if l.CurrentPrice.LessThanOrEqual(l.MinimumPrice) {
		return false
	}
	if l.LastReductionAt == nil {
		return true
	}
	interval := time.Duration(l.ReductionIntervalHrs) * time.Hour
	return now.Sub(*l.LastReductionAt) >= interval
}

// DaysListed returns the number of whole days the listing has been live.
func (l *Listing) DaysListed(now time.Time) int {
	if l.ListedAt.IsZero() || now.Before(l.ListedAt) {
		return 0
	}
	return int(now.Sub(l.ListedAt).Hours() / 24)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
