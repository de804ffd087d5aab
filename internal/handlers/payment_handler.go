package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/gateway"
	"github.com/daloamarket/backend/internal/middleware"
	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/reconcile"
	"github.com/daloamarket/backend/internal/services"
)

type Reconciler interface {
	HandleNotification(ctx context.Context, n *models.PaymentNotification) (*reconcile.Outcome, error)
}

type HashVerifier interface {
	VerifyHash(hash string) bool
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, payerID uuid.UUID, p models.Purchase) (*services.Checkout, error)
}

type TransactionQuery interface {
	GetByToken(ctx context.Context, token string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
}

// PaymentHandler serves the provider callback and the payer-facing
// invoice and status endpoints.
type PaymentHandler struct {
	Engine   Reconciler
	Invoices InvoiceCreator
	Ledger   TransactionQuery
	Schemas  SchemaValidator
	// Hash is consulted only when VerifyHash is set.
	Hash       HashVerifier
	VerifyHash bool
	Logger     *slog.Logger
}

type callbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// Callback handles POST /api/v1/payments/callback. Handled cases, replays
// and flagged fulfillment included, answer 200. Malformed bodies and unknown
// tokens answer 400 and store failures 500, so the provider redelivers.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := loggerOr(h.Logger)
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, callbackResponse{Message: "unreadable body"})
		return
	}
	n, hash, err := gateway.DecodeNotification(body)
	if err != nil {
		log.Warn("malformed payment notification", "error", err)
		writeJSON(w, http.StatusBadRequest, callbackResponse{Message: "malformed notification"})
		return
	}
	if h.VerifyHash && (h.Hash == nil || !h.Hash.VerifyHash(hash)) {
		log.Warn("payment notification failed hash check", "invoice_token", n.Token)
		writeJSON(w, http.StatusUnauthorized, callbackResponse{Message: "invalid signature"})
		return
	}
	n.Source = models.SourceWebhook

	out, err := h.Engine.HandleNotification(r.Context(), n)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrMalformedNotification):
		writeJSON(w, http.StatusBadRequest, callbackResponse{Message: "malformed notification"})
		return
	case errors.Is(err, models.ErrUnknownTransaction):
		writeJSON(w, http.StatusBadRequest, callbackResponse{Message: "unknown invoice token"})
		return
	default:
		log.Error("reconcile payment notification", "invoice_token", n.Token, "error", err)
		writeJSON(w, http.StatusInternalServerError, callbackResponse{Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{Success: true, Message: outcomeMessage(out), Status: string(out.Status)})
}

func outcomeMessage(out *reconcile.Outcome) string {
	switch {
	case out.Replayed:
		return "already processed"
	case out.Status == models.TransactionFailed:
		return "payment failed"
	case out.Status == models.TransactionPending:
		return "status acknowledged"
	case out.Issue != nil:
		return "payment recorded, fulfillment pending review"
	}
	return "payment processed"
}

type invoiceRequest struct {
	Type        string              `json:"type"`
	ListingID   *uuid.UUID          `json:"listing_id"`
	BoostOption *models.BoostOption `json:"boost_option"`
	Credits     *int                `json:"credits"`
	PackName    string              `json:"pack_name"`
}

func (req invoiceRequest) purchase() (models.Purchase, error) {
	kind, _ := models.ParseTransactionKind(req.Type)
	switch kind {
	case models.KindListingFee:
		return models.ListingFee{ListingID: deref(req.ListingID)}, nil
	case models.KindBoost:
		var opt models.BoostOption
		if req.BoostOption != nil {
			opt = *req.BoostOption
		}
		return models.Boost{ListingID: deref(req.ListingID), Option: opt}, nil
	case models.KindCreditPack:
		credits := 0
		if req.Credits != nil {
			credits = *req.Credits
		}
		if n, ok := models.CreditPacks[req.PackName]; ok && n != credits {
			return nil, fmt.Errorf("%w: credits do not match pack %s", models.ErrInvalidPurchase, req.PackName)
		}
		return models.CreditPack{Credits: credits, Label: req.PackName}, nil
	}
	return nil, fmt.Errorf("%w: unknown purchase type %q", models.ErrInvalidPurchase, req.Type)
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

// CreateInvoice handles POST /api/v1/payments/invoices.
func (h *PaymentHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	log := loggerOr(h.Logger)
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Schemas.Validate(services.SchemaInvoiceRequest, body); err != nil {
		writeDomainError(w, log, "validate invoice request", err)
		return
	}
	var req invoiceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p, err := req.purchase()
	if err != nil {
		writeDomainError(w, log, "build purchase", err)
		return
	}
	checkout, err := h.Invoices.CreateInvoice(r.Context(), userID, p)
	if err != nil {
		writeDomainError(w, log, "create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, checkout)
}

// GetTransaction handles GET /api/v1/payments/transactions/{token}; the
// payment return page polls it until the status is terminal.
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	t, err := h.Ledger.GetByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeDomainError(w, loggerOr(h.Logger), "get transaction", err)
		return
	}
	// Other users' tokens are indistinguishable from unknown ones.
	if t.UserID != userID {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTransactions handles GET /api/v1/payments/transactions.
func (h *PaymentHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.Ledger.ListByUser(r.Context(), userID, queryLimit(r, 50, 200))
	if err != nil {
		writeDomainError(w, loggerOr(h.Logger), "list transactions", err)
		return
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": list})
}
