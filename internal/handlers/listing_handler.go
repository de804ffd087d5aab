package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/daloamarket/backend/internal/middleware"
	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/services"
)

type ListingManager interface {
	Create(ctx context.Context, userID uuid.UUID, in services.NewListingInput) (*models.Listing, error)
	MarkSold(ctx context.Context, userID, listingID uuid.UUID) error
	Delete(ctx context.Context, userID, listingID uuid.UUID) error
}

type ListingPublisher interface {
	Publish(ctx context.Context, userID, listingID uuid.UUID, opts services.PublishOptions) (*services.PublishResult, error)
}

// ListingHandler serves /api/v1/listings.
type ListingHandler struct {
	Listings  ListingManager
	Publisher ListingPublisher
	Schemas   SchemaValidator
	Structs   *validator.Validate
	Logger    *slog.Logger
}

// Create handles POST /api/v1/listings. The listing starts pending.
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var in services.NewListingInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.Structs.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.Listings.Create(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, loggerOr(h.Logger), "create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

type publishRequest struct {
	BoostOption *models.BoostOption `json:"boost_option"`
}

// Publish handles POST /api/v1/listings/{id}/publish. Free and credit
// publications answer 200; a paid path answers 202 with the checkout.
func (h *ListingHandler) Publish(w http.ResponseWriter, r *http.Request) {
	log := loggerOr(h.Logger)
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	listingID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte(`{}`)
	}
	if err := h.Schemas.Validate(services.SchemaPublishRequest, body); err != nil {
		writeDomainError(w, log, "validate publish request", err)
		return
	}
	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.Publisher.Publish(r.Context(), userID, listingID, services.PublishOptions{Boost: req.BoostOption})
	if err != nil {
		writeDomainError(w, log, "publish listing", err)
		return
	}
	status := http.StatusOK
	if res.Path == services.PathInvoice {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// MarkSold handles POST /api/v1/listings/{id}/sold.
func (h *ListingHandler) MarkSold(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "mark listing sold", h.Listings.MarkSold, models.ListingStatusSold)
}

// Delete handles DELETE /api/v1/listings/{id}.
func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "delete listing", h.Listings.Delete, "deleted")
}

func (h *ListingHandler) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, uuid.UUID) error, status models.ListingStatus) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	listingID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}
	if err := fn(r.Context(), userID, listingID); err != nil {
		writeDomainError(w, loggerOr(h.Logger), op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"listing_id": listingID.String(), "status": string(status)})
}
