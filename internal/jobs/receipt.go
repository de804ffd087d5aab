package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/notify"
)

type TransactionReader interface {
	GetByToken(ctx context.Context, token string) (*models.Transaction, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ReceiptWorker mails the payer a receipt once a transaction completes.
type ReceiptWorker struct {
	river.WorkerDefaults[PaymentReceiptArgs]
	ledger TransactionReader
	users  UserReader
	sender notify.Sender
	appURL string
	log    *slog.Logger
}

func NewReceiptWorker(ledger TransactionReader, users UserReader, sender notify.Sender, appURL string, log *slog.Logger) *ReceiptWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReceiptWorker{ledger: ledger, users: users, sender: sender, appURL: appURL, log: log}
}

func (w *ReceiptWorker) Timeout(*river.Job[PaymentReceiptArgs]) time.Duration {
	return 30 * time.Second
}

func (w *ReceiptWorker) Work(ctx context.Context, job *river.Job[PaymentReceiptArgs]) error {
	args := job.Args
	t, err := w.ledger.GetByToken(ctx, args.InvoiceToken)
	if errors.Is(err, models.ErrUnknownTransaction) {
		return river.JobCancel(fmt.Errorf("receipt for unknown transaction %s", args.InvoiceToken))
	}
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if t.Status != models.TransactionCompleted {
		w.log.Warn("receipt skipped, transaction not completed", "invoice_token", t.InvoiceToken, "status", t.Status)
		return nil
	}

	u, err := w.users.GetByID(ctx, t.UserID)
	if errors.Is(err, models.ErrUnknownPayer) {
		return river.JobCancel(fmt.Errorf("receipt for unknown user %s", t.UserID))
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.Email == "" {
		w.log.Info("receipt skipped, user has no email", "user_id", u.ID)
		return nil
	}

	msg, err := renderReceipt(t, u, w.appURL)
	if err != nil {
		return river.JobCancel(err)
	}
	if err := w.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send receipt: %w", err)
	}
	w.log.Info("receipt sent", "transaction_id", t.ID, "user_id", u.ID)
	return nil
}

var receiptTmpl = template.Must(template.New("receipt").Parse(`<h2>Bonjour {{.Name}},</h2>
<p>Nous avons bien reçu votre paiement de <strong>{{.Amount}} FCFA</strong> pour : {{.Item}}.</p>
<p>Référence : <code>{{.Token}}</code><br>Date : {{.Date}}</p>
<p><a href="{{.Link}}">Retourner sur DaloaMarket</a></p>`))

func renderReceipt(t *models.Transaction, u *models.User, appURL string) (notify.Message, error) {
	closed := t.CreatedAt
	if t.ClosedAt != nil {
		closed = *t.ClosedAt
	}
	var buf bytes.Buffer
	err := receiptTmpl.Execute(&buf, map[string]any{
		"Name":   u.DisplayName(),
		"Amount": t.Amount,
		"Item":   receiptItem(t),
		"Token":  t.InvoiceToken,
		"Date":   closed.Format("02/01/2006 15:04"),
		"Link":   appURL + "/dashboard",
	})
	if err != nil {
		return notify.Message{}, fmt.Errorf("render receipt: %w", err)
	}
	return notify.Message{
		Kind:    "receipt",
		To:      u.Email,
		Subject: "Votre reçu DaloaMarket",
		HTML:    buf.String(),
	}, nil
}

func receiptItem(t *models.Transaction) string {
	switch t.Kind {
	case models.KindListingFee:
		return "publication d'annonce"
	case models.KindBoost:
		if t.BoostOption != nil {
			return "boost " + string(*t.BoostOption)
		}
		return "boost"
	case models.KindCreditPack:
		if t.Credits != nil {
			return fmt.Sprintf("pack de %d crédits", *t.Credits)
		}
		return "pack de crédits"
	}
	return string(t.Kind)
}
