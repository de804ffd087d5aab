package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/middleware"
	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/services"
)

type CreditReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditLedger, error)
}

// CreditRequester forwards a manual mobile-money purchase to staff.
type CreditRequester interface {
	Submit(ctx context.Context, userID uuid.UUID, req services.CreditRequest) (*services.CreditRequestReceipt, error)
}

type CreditHandler struct {
	Credits  CreditReader
	Requests CreditRequester
	Schemas  SchemaValidator
	Logger   *slog.Logger
}

type creditsResponse struct {
	Credits     int                    `json:"credits"`
	TotalEarned int                    `json:"total_earned"`
	History     []*models.CreditLedger `json:"history"`
}

// Get handles GET /api/v1/credits.
func (h *CreditHandler) Get(w http.ResponseWriter, r *http.Request) {
	log := loggerOr(h.Logger)
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	acc, err := h.Credits.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, log, "credit balance", err)
		return
	}
	history, err := h.Credits.History(r.Context(), userID, queryLimit(r, 20, 100))
	if err != nil {
		writeDomainError(w, log, "credit history", err)
		return
	}
	if history == nil {
		history = []*models.CreditLedger{}
	}
	writeJSON(w, http.StatusOK, creditsResponse{Credits: acc.Credits, TotalEarned: acc.TotalEarned, History: history})
}

type creditRequestBody struct {
	PackName           string `json:"pack_name"`
	PhoneNumber        string `json:"phone_number"`
	Screenshot         string `json:"screenshot"`
	ScreenshotFilename string `json:"screenshot_filename"`
}

// Request handles POST /api/v1/credits/requests: a payer who paid by mobile
// money outside the gateway asks staff to credit their account.
func (h *CreditHandler) Request(w http.ResponseWriter, r *http.Request) {
	log := loggerOr(h.Logger)
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Schemas.Validate(services.SchemaCreditRequest, body); err != nil {
		writeDomainError(w, log, "validate credit request", err)
		return
	}
	var req creditRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rec, err := h.Requests.Submit(r.Context(), userID, services.CreditRequest{
		PackName:       req.PackName,
		PhoneNumber:    req.PhoneNumber,
		Screenshot:     req.Screenshot,
		ScreenshotName: req.ScreenshotFilename,
	})
	if err != nil {
		writeDomainError(w, log, "submit credit request", err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}
