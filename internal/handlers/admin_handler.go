package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/services"
)

type IssueQueue interface {
	ListOpen(ctx context.Context, limit int) ([]*models.FulfillmentIssue, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution string) error
}

type CreditGranter interface {
	Grant(ctx context.Context, userID uuid.UUID, n int, reason string) (int, error)
}

// AdminHandler serves the operator routes behind the operator key.
type AdminHandler struct {
	Issues  IssueQueue
	Credits CreditGranter
	Schemas SchemaValidator
	Logger  *slog.Logger
}

// ListIssues handles GET /api/v1/admin/fulfillment-issues.
func (h *AdminHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.Issues.ListOpen(r.Context(), queryLimit(r, 100, 500))
	if err != nil {
		writeDomainError(w, loggerOr(h.Logger), "list fulfillment issues", err)
		return
	}
	if issues == nil {
		issues = []*models.FulfillmentIssue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// ResolveIssue handles POST /api/v1/admin/fulfillment-issues/{id}/resolve.
func (h *AdminHandler) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Resolution = strings.TrimSpace(req.Resolution)
	if req.Resolution == "" {
		writeError(w, http.StatusBadRequest, "resolution is required")
		return
	}
	if err := h.Issues.Resolve(r.Context(), id, req.Resolution); err != nil {
		writeDomainError(w, loggerOr(h.Logger), "resolve fulfillment issue", err)
		return
	}
	loggerOr(h.Logger).Info("fulfillment issue resolved", "issue_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "resolved"})
}

type grantRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	Credits int       `json:"credits"`
	Reason  string    `json:"reason"`
}

// GrantCredits handles POST /api/v1/admin/credits, used when staff confirm a
// payment received outside the gateway.
func (h *AdminHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	log := loggerOr(h.Logger)
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Schemas.Validate(services.SchemaCreditGrant, body); err != nil {
		writeDomainError(w, log, "validate credit grant", err)
		return
	}
	var req grantRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	balance, err := h.Credits.Grant(r.Context(), req.UserID, req.Credits, req.Reason)
	if err != nil {
		writeDomainError(w, log, "grant credits", err)
		return
	}
	log.Info("credits granted by operator", "user_id", req.UserID, "credits", req.Credits, "balance", balance)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "credits": balance})
}
