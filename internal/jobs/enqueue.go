package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/daloamarket/backend/internal/models"
)

// ReceiptEnqueuer inserts receipt jobs inside the caller's transaction. The
// river client is bound after construction because its workers depend on
// services that themselves need the enqueuer.
type ReceiptEnqueuer struct {
	mu     sync.Mutex
	client *river.Client[pgx.Tx]
}

func (e *ReceiptEnqueuer) Bind(client *river.Client[pgx.Tx]) {
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()
}

var errNotBound = errors.New("river client not bound")

// Enqueue has the signature of reconcile.EnqueueReceiptFunc.
func (e *ReceiptEnqueuer) Enqueue(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return errNotBound
	}
	_, err := client.InsertTx(ctx, tx, PaymentReceiptArgs{TransactionID: t.ID, InvoiceToken: t.InvoiceToken}, nil)
	return err
}
