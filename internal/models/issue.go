package models

import (
	"time"

	"github.com/google/uuid"
)

// Fulfillment issue codes. Each one marks a completed payment whose effect
// could not be applied and needs an operator.
const (
	IssueOwnershipMismatch     = "ownership_mismatch"
	IssueListingMissing        = "listing_missing"
	IssueListingNotActivatable = "listing_not_activatable"
	IssueAmountMismatch        = "amount_mismatch"
)

type FulfillmentIssue struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	InvoiceToken  string     `json:"invoice_token"`
	Code          string     `json:"code"`
	Detail        string     `json:"detail"`
	Resolution    *string    `json:"resolution,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
