// Package jobs holds the river workers that run outside the request path:
// payment receipts and the sweep that confirms stale pending invoices.
package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// PaymentReceiptArgs asks for a receipt email for a completed transaction.
type PaymentReceiptArgs struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	InvoiceToken  string    `json:"invoice_token"`
}

func (PaymentReceiptArgs) Kind() string { return "payment_receipt" }

// InsertOpts makes receipts unique per transaction, so a re-enqueue never
// mails the user twice.
func (PaymentReceiptArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 5,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// ConfirmPendingArgs triggers one sweep over stale pending transactions.
type ConfirmPendingArgs struct{}

func (ConfirmPendingArgs) Kind() string { return "confirm_pending" }

func (ConfirmPendingArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Minute},
	}
}
