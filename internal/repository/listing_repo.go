package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daloamarket/backend/internal/models"
)

type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

const listingColumns = `id, user_id, title, description, price, category, condition, district,
	photos, status, boosted_until, deleted_at, created_at, updated_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var status string
	err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.Description, &l.Price, &l.Category, &l.Condition,
		&l.District, &l.Photos, &status, &l.BoostedUntil, &l.DeletedAt, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrListingNotFound
	}
	if err != nil {
		return nil, models.StoreError("scan listing", err)
	}
	l.Status = models.ListingStatus(status)
	return &l, nil
}

// CreateTx inserts a pending listing.
func (r *ListingRepo) CreateTx(ctx context.Context, tx pgx.Tx, l *models.Listing) error {
	if l.Photos == nil {
		l.Photos = []string{}
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO listings (id, user_id, title, description, price, category, condition, district, photos, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		RETURNING status, created_at, updated_at
	`, l.ID, l.UserID, l.Title, l.Description, l.Price, l.Category, l.Condition, l.District, l.Photos).
		Scan((*string)(&l.Status), &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return models.StoreError("insert listing", err)
	}
	return nil
}

// PurgePendingDuplicatesTx soft-deletes the user's other pending listings that
// carry the same title, price, category, condition and district as l. A user
// who abandons checkout and resubmits the form leaves such duplicates behind.
func (r *ListingRepo) PurgePendingDuplicatesTx(ctx context.Context, tx pgx.Tx, l *models.Listing) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE listings SET deleted_at = now(), updated_at = now()
		WHERE user_id = $1 AND id <> $2 AND status = 'pending' AND deleted_at IS NULL
		  AND title = $3 AND price = $4 AND category = $5 AND condition = $6 AND district = $7
	`, l.UserID, l.ID, l.Title, l.Price, l.Category, l.Condition, l.District)
	if err != nil {
		return 0, models.StoreError("purge duplicate listings", err)
	}
	return tag.RowsAffected(), nil
}

// GetByID returns the listing, including soft-deleted rows.
func (r *ListingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return scanListing(r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
}

// GetByIDForUpdate locks the listing row. Call within a transaction.
func (r *ListingRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Listing, error) {
	return scanListing(tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id))
}

// CountOtherByUserTx counts every listing the user ever created except
// excludeID. Soft-deleted rows count: deleting a listing does not restore
// the free first publication.
func (r *ListingRepo) CountOtherByUserTx(ctx context.Context, tx pgx.Tx, userID, excludeID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT count(*) FROM listings WHERE user_id = $1 AND id <> $2`, userID, excludeID).Scan(&n)
	if err != nil {
		return 0, models.StoreError("count listings", err)
	}
	return n, nil
}

// ActivateTx moves a live pending or active listing owned by userID to active.
// It reports false when no row matched the guard.
func (r *ListingRepo) ActivateTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE listings SET status = 'active', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL AND status IN ('pending', 'active')
	`, id, userID)
	if err != nil {
		return false, models.StoreError("activate listing", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyBoostTx sets boosted_until and activates the listing under the same
// guard as ActivateTx.
func (r *ListingRepo) ApplyBoostTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, until time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE listings SET status = 'active', boosted_until = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL AND status IN ('pending', 'active')
	`, id, userID, until)
	if err != nil {
		return false, models.StoreError("boost listing", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSold moves an active listing to sold.
func (r *ListingRepo) MarkSold(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE listings SET status = 'sold', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL AND status = 'active'
	`, id, userID)
	if err != nil {
		return false, models.StoreError("mark listing sold", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ListingRepo) SoftDelete(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE listings SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, id, userID)
	if err != nil {
		return false, models.StoreError("delete listing", err)
	}
	return tag.RowsAffected() == 1, nil
}
