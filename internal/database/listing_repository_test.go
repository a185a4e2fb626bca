package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/marketops/repricer/internal/database"
	"github.com/marketops/repricer/internal/domain"
)

var listingColumns = []string{
	"id", "tenant_id", "item_id", "sku", "offer_id", "title", "quantity", "image_urls",
	"currency", "current_price", "minimum_price", "reduction_enabled", "strategy_id",
	"reduction_interval_hours", "last_reduction_at", "next_reduction_at",
	"status", "protocol", "listed_at", "last_synced_at", "created_at", "updated_at",
}

func newListingMock(t *testing.T) (*database.ListingRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, setupErr := sqlmock.New()
	if setupErr != nil {
		t.Fatalf("failed to create sqlmock: %v", setupErr)
	}
	db := sqlx.NewDb(mockDB, "sqlmock")
	return database.NewListingRepository(db), mock, func() { db.Close() }
}

func listingRow(id, tenantID uuid.UUID, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(listingColumns).AddRow(
		id, tenantID, "110012345", "WIDGET-1", nil, "Blue Widget", 3,
		pq.StringArray{"https://img.example/1.jpg"},
		"USD", "19.99", "9.99", true, nil,
		168, nil, nil,
		string(domain.ListingStatusActive), string(domain.ProtocolUnclassified),
		now, now, now, now,
	)
}

func TestListingRepository_GetByID(t *testing.T) {
	repo, mock, cleanup := newListingMock(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.New()
	tenantID := uuid.New()
	now := time.Now()

	testCases := []struct {
		name      string
		setupMock func()
		wantFound bool
		wantErr   error
	}{
		{
			name: "successfully gets listing",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(id).
					WillReturnRows(listingRow(id, tenantID, now))
			},
			wantFound: true,
		},
		{
			name: "missing listing maps to ErrNotFound",
			setupMock: func() {
				mock.ExpectQuery("SELECT").
					WithArgs(id).
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			listing, callErr := repo.GetByID(ctx, id)
			if tc.wantErr != nil && !errors.Is(callErr, tc.wantErr) {
				t.Errorf("GetByID() error = %v, want %v", callErr, tc.wantErr)
			}
			if tc.wantFound {
				if callErr != nil {
					t.Fatalf("GetByID() unexpected error: %v", callErr)
				}
				if listing.Title != "Blue Widget" {
					t.Errorf("Title = %q, want %q", listing.Title, "Blue Widget")
				}
				if !listing.CurrentPrice.Equal(decimal.RequireFromString("19.99")) {
					t.Errorf("CurrentPrice = %s, want 19.99", listing.CurrentPrice)
				}
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestListingRepository_ListDue(t *testing.T) {
	repo, mock, cleanup := newListingMock(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()

	t.Run("no limit passes single argument", func(t *testing.T) {
		rows := listingRow(uuid.New(), uuid.New(), now)
		mock.ExpectQuery("SELECT (.+) FROM listings").
			WithArgs(now).
			WillReturnRows(rows)

		due, callErr := repo.ListDue(ctx, now, 0)
		if callErr != nil {
			t.Fatalf("ListDue() unexpected error: %v", callErr)
		}
		if len(due) != 1 {
			t.Errorf("ListDue() returned %d listings, want 1", len(due))
		}

		if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
			t.Errorf("unfulfilled expectations: %v", expectErr)
		}
	})

	t.Run("limit is appended as second argument", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM listings").
			WithArgs(now, 50).
			WillReturnRows(sqlmock.NewRows(listingColumns))

		due, callErr := repo.ListDue(ctx, now, 50)
		if callErr != nil {
			t.Fatalf("ListDue() unexpected error: %v", callErr)
		}
		if len(due) != 0 {
			t.Errorf("ListDue() returned %d listings, want 0", len(due))
		}

		if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
			t.Errorf("unfulfilled expectations: %v", expectErr)
		}
	})
}

func TestListingRepository_ApplyReduction(t *testing.T) {
	repo, mock, cleanup := newListingMock(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.New()
	now := time.Now()
	next := now.Add(168 * time.Hour)
	newPrice := decimal.RequireFromString("18.99")

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "successfully applies reduction",
			setupMock: func() {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id, newPrice, now, next).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			// Zero rows means the floor recheck (or the row itself) rejected
			// the write
			name: "blocked write maps to ErrNotFound",
			setupMock: func() {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id, newPrice, now, next).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			callErr := repo.ApplyReduction(ctx, id, newPrice, now, next)
			if tc.wantErr == nil && callErr != nil {
				t.Errorf("ApplyReduction() unexpected error: %v", callErr)
			}
			if tc.wantErr != nil && !errors.Is(callErr, tc.wantErr) {
				t.Errorf("ApplyReduction() error = %v, want %v", callErr, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestListingRepository_SetClassification(t *testing.T) {
	repo, mock, cleanup := newListingMock(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.New()
	offerID := "offer-42"

	testCases := []struct {
		name      string
		offerID   *string
		setupMock func(offerID *string)
		wantErr   bool
	}{
		{
			name:    "persists protocol with resolved offer id",
			offerID: &offerID,
			setupMock: func(offerID *string) {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id, domain.ProtocolModern, offerID).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "nil offer id keeps the stored one",
			offerID: nil,
			setupMock: func(offerID *string) {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id, domain.ProtocolModern, offerID).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name:    "database error returns error",
			offerID: nil,
			setupMock: func(offerID *string) {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id, domain.ProtocolModern, offerID).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock(tc.offerID)

			callErr := repo.SetClassification(ctx, id, domain.ProtocolModern, tc.offerID)
			if (callErr != nil) != tc.wantErr {
				t.Errorf("SetClassification() error = %v, wantErr %v", callErr, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestListingRepository_MarkEnded(t *testing.T) {
	repo, mock, cleanup := newListingMock(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.New()

	testCases := []struct {
		name      string
		setupMock func()
		wantEnded bool
		wantErr   bool
	}{
		{
			name: "active listing transitions to ended",
			setupMock: func() {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantEnded: true,
		},
		{
			name: "already ended listing is untouched",
			setupMock: func() {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantEnded: false,
		},
		{
			name: "database error returns error",
			setupMock: func() {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			ended, callErr := repo.MarkEnded(ctx, id)
			if (callErr != nil) != tc.wantErr {
				t.Errorf("MarkEnded() error = %v, wantErr %v", callErr, tc.wantErr)
			}
			if ended != tc.wantEnded {
				t.Errorf("MarkEnded() = %v, want %v", ended, tc.wantEnded)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestListingRepository_UpdateRemoteFields(t *testing.T) {
	repo, mock, cleanup := newListingMock(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.New()
	syncedAt := time.Now()
	images := pq.StringArray{"https://img.example/1.jpg"}

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "successfully updates sync-owned fields",
			setupMock: func() {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id, "New Title", 5, images, syncedAt).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing listing maps to ErrNotFound",
			setupMock: func() {
				mock.ExpectExec("UPDATE listings").
					WithArgs(id, "New Title", 5, images, syncedAt).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			callErr := repo.UpdateRemoteFields(ctx, id, "New Title", 5, images, syncedAt)
			if tc.wantErr == nil && callErr != nil {
				t.Errorf("UpdateRemoteFields() unexpected error: %v", callErr)
			}
			if tc.wantErr != nil && !errors.Is(callErr, tc.wantErr) {
				t.Errorf("UpdateRemoteFields() error = %v, want %v", callErr, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}
