package models

import "github.com/google/uuid"

// Provider-reported invoice statuses.
const (
	ProviderStatusCompleted = "completed"
	ProviderStatusCancelled = "cancelled"
	ProviderStatusFailed    = "failed"
	ProviderStatusPending   = "pending"
)

// Where a notification came from.
const (
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
)

// PaymentNotification is a provider statement about one invoice, either
// pushed to the callback or pulled by the confirmation sweep.
type PaymentNotification struct {
	Token       string
	Status      string
	TotalAmount int
	Custom      CustomData
	Source      string
}

// CustomData is the purchase context echoed back by the provider.
// Nil fields were absent from the payload.
type CustomData struct {
	UserID      *uuid.UUID
	Type        string
	ListingID   *uuid.UUID
	BoostOption *BoostOption
	Credits     *int
	PackName    *string
}
