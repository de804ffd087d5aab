package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/gateway"
	"github.com/daloamarket/backend/internal/ledger"
	"github.com/daloamarket/backend/internal/metrics"
	"github.com/daloamarket/backend/internal/models"
)

// InvoiceGateway creates checkout invoices at the payment provider.
type InvoiceGateway interface {
	CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error)
}

// PayerRepo resolves payers.
type PayerRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ListingReader loads listings outside a transaction.
type ListingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

// TransactionOpener records pending transactions.
type TransactionOpener interface {
	OpenTransaction(ctx context.Context, p ledger.OpenParams) (*models.Transaction, error)
}

// Checkout is what the payer needs to complete payment.
type Checkout struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Token         string    `json:"token"`
	CheckoutURL   string    `json:"checkout_url"`
	Amount        int       `json:"amount"`
	Description   string    `json:"description"`
}

// InvoiceService turns a purchase into a provider invoice and a pending
// transaction.
type InvoiceService struct {
	Users    PayerRepo
	Listings ListingReader
	Gateway  InvoiceGateway
	Ledger   TransactionOpener
	// AppURL is the public web app origin used for return and cancel pages.
	AppURL string
	// CallbackURL receives provider notifications.
	CallbackURL string
	Logger      *slog.Logger
}

// CreateInvoice prices the purchase, submits it to the gateway and persists
// the pending transaction before the checkout URL is returned. If the
// transaction cannot be stored, no checkout URL leaves this function.
func (s *InvoiceService) CreateInvoice(ctx context.Context, payerID uuid.UUID, p models.Purchase) (*Checkout, error) {
	kind := string(p.Kind())
	if err := p.Validate(); err != nil {
		metrics.RecordInvoiceFailure(kind, "invalid")
		return nil, err
	}
	payer, err := s.Users.GetByID(ctx, payerID)
	if err != nil {
		metrics.RecordInvoiceFailure(kind, "unknown_payer")
		return nil, err
	}
	if listingID := models.PurchaseListingID(p); listingID != nil {
		if err := s.checkListing(ctx, payerID, *listingID, p); err != nil {
			metrics.RecordInvoiceFailure(kind, "listing")
			return nil, err
		}
	}

	amount := Price(p)
	description, itemName := InvoiceText(p)
	inv, err := s.Gateway.CreateInvoice(ctx, gateway.InvoiceRequest{
		Amount:      amount,
		Description: description,
		ItemName:    itemName,
		Customer:    gateway.Customer{Name: payer.DisplayName(), Email: payer.Email, Phone: payer.Phone},
		Actions:     s.actions(payerID, p),
		CustomData:  customData(payerID, p),
	})
	if err != nil {
		metrics.RecordInvoiceFailure(kind, "gateway_rejected")
		return nil, err
	}

	t, err := s.Ledger.OpenTransaction(ctx, ledger.OpenParams{
		UserID:       payerID,
		Purchase:     p,
		Amount:       amount,
		InvoiceToken: inv.Token,
	})
	if err != nil {
		// The invoice exists at the provider but we hold no record of it.
		// Any payment against it will surface as an unknown token.
		s.logger().Error("persist pending transaction", "invoice_token", inv.Token, "user_id", payerID, "error", err)
		reason := "store"
		if errors.Is(err, models.ErrDuplicateToken) {
			reason = "duplicate_token"
		}
		metrics.RecordInvoiceFailure(kind, reason)
		return nil, err
	}

	metrics.RecordInvoiceCreated(kind)
	s.logger().Info("invoice created", "invoice_token", inv.Token, "user_id", payerID, "kind", kind, "amount", amount)
	return &Checkout{
		TransactionID: t.ID,
		Token:         inv.Token,
		CheckoutURL:   inv.CheckoutURL,
		Amount:        amount,
		Description:   description,
	}, nil
}

func (s *InvoiceService) checkListing(ctx context.Context, payerID, listingID uuid.UUID, p models.Purchase) error {
	l, err := s.Listings.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if l.Deleted() {
		return models.ErrListingNotFound
	}
	if l.UserID != payerID {
		return models.ErrOwnershipMismatch
	}
	switch p.(type) {
	case models.ListingFee:
		if l.Status != models.ListingStatusPending {
			return fmt.Errorf("%w: listing is %s", models.ErrListingNotPublishable, l.Status)
		}
	case models.Boost:
		if !l.Activatable() {
			return fmt.Errorf("%w: listing is %s", models.ErrListingNotPublishable, l.Status)
		}
	}
	return nil
}

func (s *InvoiceService) actions(payerID uuid.UUID, p models.Purchase) gateway.Actions {
	base := strings.TrimRight(s.AppURL, "/")
	success := url.Values{"type": {string(p.Kind())}, "user_id": {payerID.String()}}
	if id := models.PurchaseListingID(p); id != nil {
		success.Set("listing_id", id.String())
	}
	cancel := url.Values{"type": {string(p.Kind())}}
	return gateway.Actions{
		ReturnURL:   base + "/payment/success?" + success.Encode(),
		CancelURL:   base + "/payment/failure?" + cancel.Encode(),
		CallbackURL: s.CallbackURL,
	}
}

func customData(payerID uuid.UUID, p models.Purchase) gateway.CustomData {
	cd := gateway.CustomData{UserID: payerID.String(), Type: string(p.Kind())}
	if id := models.PurchaseListingID(p); id != nil {
		s := id.String()
		cd.ListingID = &s
	}
	switch v := p.(type) {
	case models.Boost:
		opt := string(v.Option)
		cd.BoostOption = &opt
	case models.CreditPack:
		n := v.Credits
		cd.Credits = &n
		if v.Label != "" {
			label := v.Label
			cd.PackName = &label
		}
	}
	return cd
}

func (s *InvoiceService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
