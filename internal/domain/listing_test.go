package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketops/repricer/internal/domain"
)

func strPtr(s string) *string { return &s }

func baseListing() domain.Listing {
	return domain.Listing{
		CurrentPrice:         decimal.RequireFromString("50.00"),
		MinimumPrice:         decimal.RequireFromString("25.00"),
		ReductionEnabled:     true,
		ReductionIntervalHrs: 168,
		Status:               domain.ListingStatusActive,
		Protocol:             domain.ProtocolUnclassified,
	}
}

func TestListing_IsDueForReduction(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	weekAgo := now.Add(-168 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)

	tests := []struct {
		name   string
		mutate func(*domain.Listing)
		want   bool
	}{
		{
			name:   "never reduced is due",
			mutate: func(l *domain.Listing) {},
			want:   true,
		},
		{
			name:   "interval elapsed is due",
			mutate: func(l *domain.Listing) { l.LastReductionAt = &weekAgo },
			want:   true,
		},
		{
			name:   "interval not elapsed is not due",
			mutate: func(l *domain.Listing) { l.LastReductionAt = &yesterday },
			want:   false,
		},
		{
			name:   "reduction disabled is not due",
			mutate: func(l *domain.Listing) { l.ReductionEnabled = false },
			want:   false,
		},
		{
			name:   "ended listing is not due",
			mutate: func(l *domain.Listing) { l.Status = domain.ListingStatusEnded },
			want:   false,
		},
		{
			name: "price at minimum is not due",
			mutate: func(l *domain.Listing) {
				l.CurrentPrice = decimal.RequireFromString("25.00")
			},
			want: false,
		},
		{
			name: "price below minimum is not due",
			mutate: func(l *domain.Listing) {
				l.CurrentPrice = decimal.RequireFromString("24.99")
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := baseListing()
			tt.mutate(&l)
			assert.Equal(t, tt.want, l.IsDueForReduction(now))
		})
	}
}

func TestListing_Identity(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Listing)
		want    domain.RemoteIdentity
		wantErr error
	}{
		{
			name: "explicit legacy tag uses item id",
			mutate: func(l *domain.Listing) {
				l.Protocol = domain.ProtocolLegacy
				l.ItemID = strPtr("110012345")
				l.SKU = strPtr("WIDGET-1")
			},
			want: domain.LegacyIdentity{ItemID: "110012345"},
		},
		{
			name: "explicit modern tag uses sku and offer",
			mutate: func(l *domain.Listing) {
				l.Protocol = domain.ProtocolModern
				l.SKU = strPtr("WIDGET-1")
				l.OfferID = strPtr("offer-9")
			},
			want: domain.ModernIdentity{SKU: "WIDGET-1", OfferID: "offer-9"},
		},
		{
			name: "unclassified with sku and offer resolves modern",
			mutate: func(l *domain.Listing) {
				l.ItemID = strPtr("110012345")
				l.SKU = strPtr("WIDGET-1")
				l.OfferID = strPtr("offer-9")
			},
			want: domain.ModernIdentity{SKU: "WIDGET-1", OfferID: "offer-9"},
		},
		{
			name: "unclassified with bare item id resolves legacy",
			mutate: func(l *domain.Listing) {
				l.ItemID = strPtr("110012345")
				l.SKU = strPtr("WIDGET-1")
			},
			want: domain.LegacyIdentity{ItemID: "110012345"},
		},
		{
			name: "modern tag without sku fails",
			mutate: func(l *domain.Listing) {
				l.Protocol = domain.ProtocolModern
				l.ItemID = strPtr("110012345")
			},
			wantErr: domain.ErrNoRemoteIdentity,
		},
		{
			name:    "no identifiers fails",
			mutate:  func(l *domain.Listing) {},
			wantErr: domain.ErrNoRemoteIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := baseListing()
			tt.mutate(&l)

			got, err := l.Identity()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListing_RemoteKey(t *testing.T) {
	l := baseListing()
	assert.Empty(t, l.RemoteKey())

	l.SKU = strPtr("WIDGET-1")
	assert.Equal(t, "WIDGET-1", l.RemoteKey())

	// Item id wins when both are present
	l.ItemID = strPtr("110012345")
	assert.Equal(t, "110012345", l.RemoteKey())
}

func TestListing_DaysListed(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	l := baseListing()
	l.ListedAt = now.AddDate(0, 0, -10)
	assert.Equal(t, 10, l.DaysListed(now))

	l.ListedAt = now.Add(time.Hour)
	assert.Equal(t, 0, l.DaysListed(now))

	l.ListedAt = time.Time{}
	assert.Equal(t, 0, l.DaysListed(now))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.KindValidation,
		domain.KindOf(domain.Classify(domain.KindValidation, domain.ErrInvalidStrategy)))

	// Unclassified errors default to transient so they are retried
	assert.Equal(t, domain.KindTransient, domain.KindOf(assert.AnError))

	// Bare not-found sentinel maps to the not_found kind
	assert.Equal(t, domain.KindNotFound, domain.KindOf(domain.ErrNotFound))

	assert.True(t, domain.IsKind(
		domain.Classifyf(domain.KindNeedsReconnect, "token revoked"),
		domain.KindNeedsReconnect))
	assert.False(t, domain.IsKind(nil, domain.KindTransient))
}
