package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionKind string

const (
	KindListingFee TransactionKind = "listing-fee"
	KindBoost      TransactionKind = "boost"
	KindCreditPack TransactionKind = "credit-pack"
)

// ParseTransactionKind accepts the canonical kinds plus the legacy
// custom_data aliases still carried by older invoices.
func ParseTransactionKind(s string) (TransactionKind, bool) {
	switch s {
	case string(KindListingFee), "annonce", "listing":
		return KindListingFee, true
	case string(KindBoost):
		return KindBoost, true
	case string(KindCreditPack), "pack":
		return KindCreditPack, true
	}
	return "", false
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionCompleted || s == TransactionFailed
}

type BoostOption string

const (
	Boost24h BoostOption = "24h"
	Boost7d  BoostOption = "7d"
	Boost30d BoostOption = "30d"
)

// Duration returns the visibility window bought by the option, or 0 if unknown.
func (b BoostOption) Duration() time.Duration {
	switch b {
	case Boost24h:
		return 24 * time.Hour
	case Boost7d:
		return 7 * 24 * time.Hour
	case Boost30d:
		return 30 * 24 * time.Hour
	}
	return 0
}

func (b BoostOption) Valid() bool { return b.Duration() > 0 }

// Transaction is one payment attempt, keyed by the provider invoice token.
type Transaction struct {
	ID           uuid.UUID         `json:"id"`
	UserID       uuid.UUID         `json:"user_id"`
	ListingID    *uuid.UUID        `json:"listing_id,omitempty"`
	Amount       int               `json:"amount"`
	Kind         TransactionKind   `json:"kind"`
	Status       TransactionStatus `json:"status"`
	InvoiceToken string            `json:"invoice_token"`
	BoostOption  *BoostOption      `json:"boost_option,omitempty"`
	Credits      *int              `json:"credits,omitempty"`
	PackName     *string           `json:"pack_name,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
}
