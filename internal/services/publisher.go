package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/daloamarket/backend/internal/metrics"
	"github.com/daloamarket/backend/internal/models"
)

// PublishPath names how a publication was funded.
type PublishPath string

const (
	PathFree          PublishPath = "free"
	PathCredit        PublishPath = "credit"
	PathInvoice       PublishPath = "invoice"
	PathAlreadyActive PublishPath = "already_active"
)

// UserLocker locks the publishing user's row for the duration of a transaction.
type UserLocker interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
}

// PublishListingRepo is the listing access the publisher needs.
type PublishListingRepo interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Listing, error)
	CountOtherByUserTx(ctx context.Context, tx pgx.Tx, userID, excludeID uuid.UUID) (int, error)
	ActivateTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) (bool, error)
}

// CreditSpender spends one publication credit.
type CreditSpender interface {
	Decrement(ctx context.Context, tx pgx.Tx, userID uuid.UUID, e CreditEntry) (int, error)
}

// InvoiceCreator starts a paid checkout.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, payerID uuid.UUID, p models.Purchase) (*Checkout, error)
}

type PublishOptions struct {
	Boost *models.BoostOption
}

type PublishResult struct {
	Path             PublishPath `json:"path"`
	ListingID        uuid.UUID   `json:"listing_id"`
	CreditsRemaining *int        `json:"credits_remaining,omitempty"`
	Checkout         *Checkout   `json:"checkout,omitempty"`
}

// Publisher decides how a pending listing goes live: free for a user's
// first listing, else by spending a credit, else through a paid invoice.
type Publisher struct {
	Pool     TxBeginner
	Users    UserLocker
	Listings PublishListingRepo
	Credits  CreditSpender
	Invoices InvoiceCreator
	Logger   *slog.Logger
}

func (p *Publisher) Publish(ctx context.Context, userID, listingID uuid.UUID, opts PublishOptions) (*PublishResult, error) {
	if opts.Boost != nil && !opts.Boost.Valid() {
		return nil, fmt.Errorf("%w: unknown boost option %q", models.ErrInvalidPurchase, *opts.Boost)
	}

	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, models.StoreError("begin publish", err)
	}
	defer tx.Rollback(ctx)

	// Serializes concurrent publishes by the same user so the first-listing
	// check and the credit spend see each other.
	if _, err := p.Users.GetByIDForUpdate(ctx, tx, userID); err != nil {
		return nil, err
	}
	listing, err := p.Listings.GetByIDForUpdate(ctx, tx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Deleted() {
		return nil, models.ErrListingNotFound
	}
	if listing.UserID != userID {
		return nil, models.ErrOwnershipMismatch
	}

	if opts.Boost != nil {
		if !listing.Activatable() {
			return nil, fmt.Errorf("%w: listing is %s", models.ErrListingNotPublishable, listing.Status)
		}
		_ = tx.Rollback(ctx)
		return p.invoice(ctx, userID, listingID, models.Boost{ListingID: listingID, Option: *opts.Boost})
	}

	switch listing.Status {
	case models.ListingStatusActive:
		metrics.RecordPublication(string(PathAlreadyActive))
		return &PublishResult{Path: PathAlreadyActive, ListingID: listingID}, nil
	case models.ListingStatusPending:
	default:
		return nil, fmt.Errorf("%w: listing is %s", models.ErrListingNotPublishable, listing.Status)
	}

	others, err := p.Listings.CountOtherByUserTx(ctx, tx, userID, listingID)
	if err != nil {
		return nil, err
	}
	if others == 0 {
		if err := p.activate(ctx, tx, listingID, userID); err != nil {
			return nil, err
		}
		p.logger().Info("listing published", "path", PathFree, "user_id", userID, "listing_id", listingID)
		metrics.RecordPublication(string(PathFree))
		return &PublishResult{Path: PathFree, ListingID: listingID}, nil
	}

	remaining, err := p.Credits.Decrement(ctx, tx, userID, CreditEntry{
		Type:      models.CreditEntryListingPublication,
		ListingID: &listingID,
		Reason:    "publication d'annonce",
	})
	switch {
	case err == nil:
		if err := p.activate(ctx, tx, listingID, userID); err != nil {
			return nil, err
		}
		p.logger().Info("listing published", "path", PathCredit, "user_id", userID, "listing_id", listingID, "credits_remaining", remaining)
		metrics.RecordPublication(string(PathCredit))
		return &PublishResult{Path: PathCredit, ListingID: listingID, CreditsRemaining: &remaining}, nil
	case errors.Is(err, models.ErrInsufficientCredits):
		_ = tx.Rollback(ctx)
		return p.invoice(ctx, userID, listingID, models.ListingFee{ListingID: listingID})
	default:
		return nil, err
	}
}

func (p *Publisher) activate(ctx context.Context, tx pgx.Tx, listingID, userID uuid.UUID) error {
	ok, err := p.Listings.ActivateTx(ctx, tx, listingID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrListingNotPublishable
	}
	if err := tx.Commit(ctx); err != nil {
		return models.StoreError("commit publish", err)
	}
	return nil
}

func (p *Publisher) invoice(ctx context.Context, userID, listingID uuid.UUID, purchase models.Purchase) (*PublishResult, error) {
	checkout, err := p.Invoices.CreateInvoice(ctx, userID, purchase)
	if err != nil {
		return nil, err
	}
	metrics.RecordPublication(string(PathInvoice))
	return &PublishResult{Path: PathInvoice, ListingID: listingID, Checkout: checkout}, nil
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
