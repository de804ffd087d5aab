// Package reconcile applies provider payment notifications to the ledger.
// It is the only path that moves a transaction out of pending.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/daloamarket/backend/internal/metrics"
	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/services"
)

// TransactionLedger is the ledger surface the engine needs.
type TransactionLedger interface {
	GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (*models.Transaction, error)
	CloseTransaction(ctx context.Context, tx pgx.Tx, token string, outcome models.TransactionStatus) (models.TransactionStatus, error)
}

// ListingStore applies paid listing effects.
type ListingStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Listing, error)
	ActivateTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) (bool, error)
	ApplyBoostTx(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID, until time.Time) (bool, error)
}

// CreditIncrementer credits purchased packs.
type CreditIncrementer interface {
	Increment(ctx context.Context, tx pgx.Tx, userID uuid.UUID, n int, e services.CreditEntry) (int, error)
}

// IssueRecorder queues completed payments for manual review.
type IssueRecorder interface {
	CreateTx(ctx context.Context, tx pgx.Tx, i *models.FulfillmentIssue) error
}

// EnqueueReceiptFunc schedules the payment receipt inside the reconciling
// transaction, so it is sent only if the transaction commits.
type EnqueueReceiptFunc func(ctx context.Context, tx pgx.Tx, t *models.Transaction) error

// Outcome describes what a notification did.
type Outcome struct {
	Token  string                   `json:"token"`
	Status models.TransactionStatus `json:"status"`
	// Replayed is set when the transaction was already terminal and nothing changed.
	Replayed bool `json:"replayed"`
	// Applied is set when the purchased effect took place.
	Applied bool `json:"applied"`
	// Fault is the fulfillment problem recorded for review, if any.
	Fault error                    `json:"-"`
	Issue *models.FulfillmentIssue `json:"issue,omitempty"`
}

// Engine applies provider notifications to the ledger exactly once.
type Engine struct {
	Pool           services.TxBeginner
	Ledger         TransactionLedger
	Listings       ListingStore
	Credits        CreditIncrementer
	Issues         IssueRecorder
	EnqueueReceipt EnqueueReceiptFunc
	Logger         *slog.Logger

	now func() time.Time
}

// HandleNotification runs one notification through the state machine in a
// single database transaction. The purchased effect and the terminal status
// commit together or not at all; on a store error nothing is written and
// the provider is expected to redeliver.
func (e *Engine) HandleNotification(ctx context.Context, n *models.PaymentNotification) (*Outcome, error) {
	if n == nil || n.Token == "" {
		return nil, fmt.Errorf("%w: missing invoice token", models.ErrMalformedNotification)
	}
	log := e.logger().With("invoice_token", n.Token, "provider_status", n.Status, "source", n.Source)

	tx, err := e.Pool.Begin(ctx)
	if err != nil {
		return nil, models.StoreError("begin reconcile", err)
	}
	defer tx.Rollback(ctx)

	t, err := e.Ledger.GetByTokenForUpdate(ctx, tx, n.Token)
	if err != nil {
		if errors.Is(err, models.ErrUnknownTransaction) {
			log.Warn("notification for unknown invoice token")
			metrics.RecordReconciliation("unknown", "unknown_token")
		}
		return nil, err
	}
	kind := string(t.Kind)
	log = log.With("transaction_id", t.ID, "user_id", t.UserID, "kind", kind)

	if t.Status.IsTerminal() {
		log.Info("notification replay ignored", "status", t.Status)
		metrics.RecordReconciliation(kind, "replayed")
		return &Outcome{Token: t.InvoiceToken, Status: t.Status, Replayed: true}, nil
	}

	switch n.Status {
	case models.ProviderStatusCompleted:
	case models.ProviderStatusCancelled, models.ProviderStatusFailed:
		if _, err := e.Ledger.CloseTransaction(ctx, tx, t.InvoiceToken, models.TransactionFailed); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, models.StoreError("commit failed transaction", err)
		}
		log.Info("payment failed")
		metrics.RecordReconciliation(kind, "failed")
		return &Outcome{Token: t.InvoiceToken, Status: models.TransactionFailed}, nil
	default:
		log.Info("non-final provider status acknowledged")
		metrics.RecordReconciliation(kind, "acknowledged")
		return &Outcome{Token: t.InvoiceToken, Status: t.Status}, nil
	}

	if err := checkContext(t, n.Custom); err != nil {
		log.Warn("notification context does not match transaction", "error", err)
		metrics.RecordReconciliation(kind, "malformed")
		return nil, err
	}

	out := &Outcome{Token: t.InvoiceToken, Status: models.TransactionCompleted}
	if n.TotalAmount > 0 && n.TotalAmount != t.Amount {
		err := fmt.Errorf("paid %d, expected %d", n.TotalAmount, t.Amount)
		if err := e.flag(ctx, tx, t, out, models.IssueAmountMismatch, err); err != nil {
			return nil, err
		}
	} else if err := e.apply(ctx, tx, t, out); err != nil {
		return nil, err
	}

	if _, err := e.Ledger.CloseTransaction(ctx, tx, t.InvoiceToken, models.TransactionCompleted); err != nil {
		return nil, err
	}
	if e.EnqueueReceipt != nil {
		if err := e.EnqueueReceipt(ctx, tx, t); err != nil {
			return nil, models.StoreError("enqueue receipt", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, models.StoreError("commit completed transaction", err)
	}

	if out.Fault != nil {
		log.Warn("payment completed with fulfillment issue", "code", out.Issue.Code, "error", out.Fault)
		metrics.RecordReconciliation(kind, "flagged")
	} else {
		log.Info("payment completed")
		metrics.RecordReconciliation(kind, "completed")
	}
	return out, nil
}

// apply performs the purchased effect using the stored transaction as the
// source of truth. Fulfillment faults are recorded, not returned; only store
// errors abort.
func (e *Engine) apply(ctx context.Context, tx pgx.Tx, t *models.Transaction, out *Outcome) error {
	switch t.Kind {
	case models.KindListingFee, models.KindBoost:
		l, err := e.Listings.GetByIDForUpdate(ctx, tx, *t.ListingID)
		if err != nil && !errors.Is(err, models.ErrListingNotFound) {
			return err
		}
		if code, fault := listingFault(t, l); fault != nil {
			return e.flag(ctx, tx, t, out, code, fault)
		}
		var ok bool
		if t.Kind == models.KindBoost {
			ok, err = e.Listings.ApplyBoostTx(ctx, tx, l.ID, t.UserID, e.clock().Add(t.BoostOption.Duration()))
		} else {
			ok, err = e.Listings.ActivateTx(ctx, tx, l.ID, t.UserID)
		}
		if err != nil {
			return err
		}
		if !ok {
			return e.flag(ctx, tx, t, out, models.IssueListingNotActivatable, fmt.Errorf("listing %s rejected the update", l.ID))
		}
		out.Applied = true
		return nil

	case models.KindCreditPack:
		if _, err := e.Credits.Increment(ctx, tx, t.UserID, *t.Credits, services.CreditEntry{
			Type:          models.CreditEntryPackPurchase,
			TransactionID: &t.ID,
			Reason:        packReason(t),
		}); err != nil {
			return err
		}
		out.Applied = true
		return nil
	}
	return fmt.Errorf("unknown transaction kind %q", t.Kind)
}

// listingFault reports why a paid effect cannot be applied to l, which is
// nil when the listing does not exist.
func listingFault(t *models.Transaction, l *models.Listing) (string, error) {
	switch {
	case l == nil:
		return models.IssueListingMissing, fmt.Errorf("listing %s does not exist", *t.ListingID)
	case l.Deleted():
		return models.IssueListingMissing, fmt.Errorf("listing %s was deleted", l.ID)
	case l.UserID != t.UserID:
		return models.IssueOwnershipMismatch, fmt.Errorf("%w: listing %s belongs to %s", models.ErrOwnershipMismatch, l.ID, l.UserID)
	case !l.Activatable():
		return models.IssueListingNotActivatable, fmt.Errorf("listing %s is %s", l.ID, l.Status)
	}
	return "", nil
}

func (e *Engine) flag(ctx context.Context, tx pgx.Tx, t *models.Transaction, out *Outcome, code string, fault error) error {
	issue := &models.FulfillmentIssue{
		ID:            uuid.New(),
		TransactionID: t.ID,
		InvoiceToken:  t.InvoiceToken,
		Code:          code,
		Detail:        fault.Error(),
	}
	if err := e.Issues.CreateTx(ctx, tx, issue); err != nil {
		return err
	}
	metrics.RecordFulfillmentIssue(code)
	out.Fault = fault
	out.Issue = issue
	return nil
}

// checkContext verifies that the purchase context echoed by the provider
// describes the stored transaction.
func checkContext(t *models.Transaction, cd models.CustomData) error {
	malformed := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", models.ErrMalformedNotification, fmt.Sprintf(format, args...))
	}
	kind, ok := models.ParseTransactionKind(cd.Type)
	if !ok {
		return malformed("unknown or missing type %q", cd.Type)
	}
	if kind != t.Kind {
		return malformed("type %s does not match transaction kind %s", kind, t.Kind)
	}
	if cd.UserID == nil || *cd.UserID != t.UserID {
		return malformed("user_id missing or does not match")
	}
	switch t.Kind {
	case models.KindListingFee, models.KindBoost:
		if cd.ListingID == nil {
			return malformed("listing_id is required")
		}
		if t.ListingID == nil || *cd.ListingID != *t.ListingID {
			return malformed("listing_id does not match")
		}
		if t.Kind == models.KindBoost {
			if cd.BoostOption == nil || t.BoostOption == nil || *cd.BoostOption != *t.BoostOption {
				return malformed("boost_option missing or does not match")
			}
		}
	case models.KindCreditPack:
		if cd.Credits == nil || *cd.Credits <= 0 {
			return malformed("credits is required")
		}
		if t.Credits == nil || *cd.Credits != *t.Credits {
			return malformed("credits does not match")
		}
	}
	return nil
}

func packReason(t *models.Transaction) string {
	if t.PackName != nil && *t.PackName != "" {
		return "Achat pack " + *t.PackName
	}
	return fmt.Sprintf("Achat pack %d crédits", *t.Credits)
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
