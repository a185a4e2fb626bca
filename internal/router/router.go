// Package router dispatches price updates to the marketplace protocol a
// listing belongs to.
package router

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketops/repricer/internal/domain"
	"github.com/marketops/repricer/internal/logger"
)

// LegacyUpdater is the slice of the legacy client the router needs.
type LegacyUpdater interface {
	UpdatePrice(ctx context.Context, token, itemID string, price decimal.Decimal, currency string) error
}

// ModernUpdater is the slice of the modern client the router needs.
type ModernUpdater interface {
	UpdatePrice(ctx context.Context, token, offerID string, price decimal.Decimal, currency string) error
	LookupOfferID(ctx context.Context, token, sku string) (string, error)
}

// ClassificationStore persists a resolved protocol classification.
type ClassificationStore interface {
	SetClassification(ctx context.Context, id uuid.UUID, protocol domain.Protocol, offerID *string) error
}

// Router classifies a listing's protocol and routes the price update to the
// matching client.
//
// Ordering contract: the remote call always happens first. Only after remote
// success does any local write occur (the classification persist here, the
// price persist in the caller), so local state can never claim a reduction
// the marketplace did not accept.
type Router struct {
	legacy LegacyUpdater
	modern ModernUpdater
	store  ClassificationStore
	logger logger.Logger
}

// New creates a Router.
func New(legacy LegacyUpdater, modern ModernUpdater, store ClassificationStore, log logger.Logger) *Router {
	return &Router{
		legacy: legacy,
		modern: modern,
		store:  store,
		logger: log,
	}
}

// UpdatePrice pushes the new price to the listing's marketplace protocol.
//
// Classification precedence: the explicit protocol tag wins; for unclassified
// listings the identifiers decide (sku+offer means modern, a bare item id
// means legacy). A modern listing without an offer id gets one resolved by
// SKU before the price mutation. The first successful call on an unclassified
// listing persists the resolved classification.
func (r *Router) UpdatePrice(ctx context.Context, listing *domain.Listing, price decimal.Decimal, token string) error {
	identity, err := listing.Identity()
	if err != nil {
		return domain.Classify(domain.KindValidation, err)
	}

	switch id := identity.(type) {
	case domain.LegacyIdentity:
		return r.updateLegacy(ctx, listing, id, price, token)
	case domain.ModernIdentity:
		return r.updateModern(ctx, listing, id, price, token)
	default:
		return domain.Classify(domain.KindValidation, domain.ErrNoRemoteIdentity)
	}
}

func (r *Router) updateLegacy(
	ctx context.Context,
	listing *domain.Listing,
	id domain.LegacyIdentity,
	price decimal.Decimal,
	token string,
) error {
	if err := r.legacy.UpdatePrice(ctx, token, id.ItemID, price, listing.Currency); err != nil {
		return err
	}

	r.persistClassification(ctx, listing, domain.ProtocolLegacy, nil)
	return nil
}

func (r *Router) updateModern(
	ctx context.Context,
	listing *domain.Listing,
	id domain.ModernIdentity,
	price decimal.Decimal,
	token string,
) error {
	var resolvedOffer *string
	if id.OfferID == "" {
		offerID, err := r.modern.LookupOfferID(ctx, token, id.SKU)
		if err != nil {
			return err
		}
		id.OfferID = offerID
		resolvedOffer = &offerID
		r.logger.Debug("resolved offer id by sku",
			logger.UUID("listing_id", listing.ID),
			logger.String("sku", id.SKU),
			logger.String("offer_id", offerID))
	}

	if err := r.modern.UpdatePrice(ctx, token, id.OfferID, price, listing.Currency); err != nil {
		return err
	}

	r.persistClassification(ctx, listing, domain.ProtocolModern, resolvedOffer)
	return nil
}

// persistClassification stores the resolved protocol (and a freshly resolved
// offer id) after a successful remote call. A persist failure is logged, not
// returned: the remote update took effect and the caller must still record
// the price change; classification will be re-derived next cycle.
func (r *Router) persistClassification(ctx context.Context, listing *domain.Listing, protocol domain.Protocol, offerID *string) {
	needsWrite := listing.Protocol != protocol || offerID != nil
	if !needsWrite {
		return
	}

	if err := r.store.SetClassification(ctx, listing.ID, protocol, offerID); err != nil {
		r.logger.Warn("failed to persist protocol classification",
			logger.UUID("listing_id", listing.ID),
			logger.String("protocol", string(protocol)),
			logger.Error(err))
		return
	}

	listing.Protocol = protocol
	if offerID != nil {
		listing.OfferID = offerID
	}
}
