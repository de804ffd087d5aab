package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry_type values.
const (
	CreditEntryPackPurchase       = "pack_purchase"
	CreditEntryListingPublication = "listing_publication"
	CreditEntryManualGrant        = "manual_grant"
)

// CreditAccount is the per-user prepaid publication balance.
type CreditAccount struct {
	UserID      uuid.UUID `json:"user_id"`
	Credits     int       `json:"credits"`
	TotalEarned int       `json:"total_earned"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreditLedger struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	ListingID     *uuid.UUID `json:"listing_id,omitempty"`
	EntryType     string     `json:"entry_type"`
	Amount        int        `json:"amount"`
	BalanceAfter  *int       `json:"balance_after,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
