package models

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers map these to HTTP status codes; everything else
// is treated as internal.
var (
	ErrUnknownPayer          = errors.New("unknown payer")
	ErrGatewayRejected       = errors.New("gateway rejected invoice")
	ErrDuplicateToken        = errors.New("duplicate invoice token")
	ErrUnknownTransaction    = errors.New("unknown transaction")
	ErrOwnershipMismatch     = errors.New("listing not owned by payer")
	ErrMalformedNotification = errors.New("malformed notification")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrStoreUnavailable      = errors.New("store unavailable")

	ErrInvalidPurchase       = errors.New("invalid purchase")
	ErrListingNotFound       = errors.New("listing not found")
	ErrListingNotPublishable = errors.New("listing cannot be published")
	ErrIssueNotFound         = errors.New("fulfillment issue not found")
)

// GatewayRejectedError carries the provider's reason for refusing an invoice.
type GatewayRejectedError struct {
	Reason string
}

func (e *GatewayRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGatewayRejected, e.Reason)
}

func (e *GatewayRejectedError) Is(target error) bool { return target == ErrGatewayRejected }

// StoreError wraps a persistence failure so callers can match ErrStoreUnavailable
// while keeping the underlying cause.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
