package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"greendrake/offers/internal/db"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

// IListingService defines the listing lookups the offer workflow needs.
type IListingService interface {
	CreateListing(ctx context.Context, userID utils.SixID, title string, askingPrice *models.AskingPrice) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
}

// listingService implements IListingService.
type listingService struct {
	st store.RecordStore
}

// NewListingService creates a new ListingService.
func NewListingService(st store.RecordStore) IListingService {
	return &listingService{st: st}
}

// CreateListing inserts a listing owned by userID. Listings are normally
// managed by the marketplace; this exists for seeding and tests.
func (s *listingService) CreateListing(ctx context.Context, userID utils.SixID, title string, askingPrice *models.AskingPrice) (*models.Listing, error) {
	const op = "listings.create"
	if strings.TrimSpace(title) == "" {
		return nil, validationError(op, "A listing needs a title.")
	}

	var listing *models.Listing
	operation := func() error {
		listing = &models.Listing{
			ID:          utils.NewSixID(),
			UserID:      userID,
			Title:       title,
			AskingPrice: askingPrice,
			CreatedAt:   time.Now().UTC(),
		}
		row, err := store.Encode(listing)
		if err != nil {
			return err
		}
		_, err = s.st.Insert(ctx, models.TableListings, row)
		return err
	}
	if err := db.Try(operation); err != nil {
		return nil, storeFailure(op, fmt.Errorf("failed to insert listing for user %s: %w", userID.String(), err))
	}
	return listing, nil
}

// FindListingByID finds a non-deleted listing by its ID.
// It does NOT check ownership.
func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	const op = "listings.find"
	rows, err := s.st.Select(ctx, models.TableListings, store.Filter{"_id": listingID, "deleted": false})
	if err != nil {
		return nil, storeFailure(op, err)
	}
	if len(rows) == 0 {
		return nil, notFound(op, "Listing")
	}
	var listing models.Listing
	if err := store.Decode(rows[0], &listing); err != nil {
		return nil, storeFailure(op, err)
	}
	return &listing, nil
}
