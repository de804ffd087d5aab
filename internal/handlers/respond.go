package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/services"
)

const (
	maxBodyBytes = 1 << 20
	// Credit requests carry a base64 screenshot.
	maxUploadBytes = 6 << 20
)

// SchemaValidator checks a raw request body against a named JSON schema.
type SchemaValidator interface {
	Validate(name string, raw json.RawMessage) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps service errors to HTTP responses. Anything not
// recognised is logged and reported as a 500.
func writeDomainError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	var rejected *models.GatewayRejectedError
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, models.ErrInvalidPurchase):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrUnknownPayer):
		writeError(w, http.StatusNotFound, "unknown user")
	case errors.Is(err, models.ErrListingNotFound):
		writeError(w, http.StatusNotFound, "listing not found")
	case errors.Is(err, models.ErrUnknownTransaction):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, models.ErrIssueNotFound):
		writeError(w, http.StatusNotFound, "issue not found or already resolved")
	case errors.Is(err, models.ErrOwnershipMismatch):
		writeError(w, http.StatusForbidden, "listing belongs to another user")
	case errors.Is(err, models.ErrListingNotPublishable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rejected):
		log.Warn(op+": gateway rejected", "reason", rejected.Reason)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     "payment provider unavailable, please retry",
			"reason":    rejected.Reason,
			"retryable": true,
		})
	case errors.Is(err, models.ErrDuplicateToken):
		log.Error(op+": duplicate invoice token", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "payment provider error, please retry", "retryable": true})
	default:
		log.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// readBody reads at most maxBodyBytes. An empty body reads as nil.
func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

// queryLimit parses ?limit=, clamped to [1, max].
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
