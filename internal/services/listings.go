package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/daloamarket/backend/internal/models"
)

// ListingRepo is the listing persistence used by ListingService.
type ListingRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, l *models.Listing) error
	PurgePendingDuplicatesTx(ctx context.Context, tx pgx.Tx, l *models.Listing) (int64, error)
	MarkSold(ctx context.Context, id, userID uuid.UUID) (bool, error)
	SoftDelete(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

type ListingService struct {
	Pool   TxBeginner
	Repo   ListingRepo
	Logger *slog.Logger
}

// NewListingInput is the seller-supplied content of a listing.
type NewListingInput struct {
	Title       string   `json:"title" validate:"required,max=120"`
	Description string   `json:"description" validate:"max=4000"`
	Price       int      `json:"price" validate:"gte=0"`
	Category    string   `json:"category" validate:"required"`
	Condition   string   `json:"condition" validate:"required"`
	District    string   `json:"district" validate:"required"`
	Photos      []string `json:"photos" validate:"max=5,dive,url"`
}

// Create stores a pending listing and soft-deletes the user's older pending
// copies of it.
func (s *ListingService) Create(ctx context.Context, userID uuid.UUID, in NewListingInput) (*models.Listing, error) {
	l := &models.Listing{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price,
		Category:    in.Category,
		Condition:   in.Condition,
		District:    in.District,
		Photos:      in.Photos,
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, models.StoreError("begin create listing", err)
	}
	defer tx.Rollback(ctx)

	if err := s.Repo.CreateTx(ctx, tx, l); err != nil {
		return nil, err
	}
	purged, err := s.Repo.PurgePendingDuplicatesTx(ctx, tx, l)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, models.StoreError("commit create listing", err)
	}
	if purged > 0 {
		s.logger().Info("purged duplicate pending listings", "user_id", userID, "listing_id", l.ID, "count", purged)
	}
	return l, nil
}

// MarkSold moves the caller's active listing to sold.
func (s *ListingService) MarkSold(ctx context.Context, userID, listingID uuid.UUID) error {
	ok, err := s.Repo.MarkSold(ctx, listingID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrListingNotPublishable
	}
	return nil
}

// Delete soft-deletes the caller's listing.
func (s *ListingService) Delete(ctx context.Context, userID, listingID uuid.UUID) error {
	ok, err := s.Repo.SoftDelete(ctx, listingID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrListingNotFound
	}
	return nil
}

func (s *ListingService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
