package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/reconcile"
)

type StaleLister interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error)
}

// InvoiceConfirmer asks the provider for the current state of an invoice.
type InvoiceConfirmer interface {
	ConfirmInvoice(ctx context.Context, token string) (*models.PaymentNotification, error)
}

type Reconciler interface {
	HandleNotification(ctx context.Context, n *models.PaymentNotification) (*reconcile.Outcome, error)
}

const sweepBatch = 50

// ConfirmWorker recovers payments whose callback never arrived. It never
// writes a status itself: every confirmation goes through the engine.
type ConfirmWorker struct {
	river.WorkerDefaults[ConfirmPendingArgs]
	ledger     StaleLister
	gateway    InvoiceConfirmer
	engine     Reconciler
	staleAfter time.Duration
	log        *slog.Logger
}

func NewConfirmWorker(ledger StaleLister, gateway InvoiceConfirmer, engine Reconciler, staleAfter time.Duration, log *slog.Logger) *ConfirmWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ConfirmWorker{ledger: ledger, gateway: gateway, engine: engine, staleAfter: staleAfter, log: log}
}

func (w *ConfirmWorker) Work(ctx context.Context, _ *river.Job[ConfirmPendingArgs]) error {
	stale, err := w.ledger.ListStalePending(ctx, w.staleAfter, sweepBatch)
	if err != nil {
		return fmt.Errorf("list stale pending: %w", err)
	}
	var closed, failed int
	for _, t := range stale {
		log := w.log.With("invoice_token", t.InvoiceToken, "transaction_id", t.ID)
		n, err := w.gateway.ConfirmInvoice(ctx, t.InvoiceToken)
		if err != nil {
			failed++
			log.Warn("confirm invoice failed", "error", err)
			continue
		}
		out, err := w.engine.HandleNotification(ctx, n)
		switch {
		case errors.Is(err, models.ErrStoreUnavailable):
			// The store is down; the next sweep retries the whole batch.
			return err
		case err != nil:
			failed++
			log.Warn("sweep notification rejected", "error", err)
		case out.Status.IsTerminal():
			closed++
		}
	}
	if len(stale) > 0 {
		w.log.Info("pending sweep finished", "checked", len(stale), "closed", closed, "failed", failed)
	}
	return nil
}
