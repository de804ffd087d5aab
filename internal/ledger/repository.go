package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daloamarket/backend/internal/models"
)

// Repository persists payment transactions keyed by invoice token.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transactionColumns = `id, user_id, listing_id, amount, kind, status, invoice_token,
	boost_option, credits, pack_name, created_at, closed_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var kind, status string
	var boost *string
	err := row.Scan(&t.ID, &t.UserID, &t.ListingID, &t.Amount, &kind, &status, &t.InvoiceToken,
		&boost, &t.Credits, &t.PackName, &t.CreatedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = models.TransactionKind(kind)
	t.Status = models.TransactionStatus(status)
	if boost != nil {
		b := models.BoostOption(*boost)
		t.BoostOption = &b
	}
	return &t, nil
}

func (r *Repository) Insert(ctx context.Context, t *models.Transaction) error {
	var boost *string
	if t.BoostOption != nil {
		s := string(*t.BoostOption)
		boost = &s
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, listing_id, amount, kind, status, invoice_token, boost_option, credits, pack_name)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)
		RETURNING status, created_at
	`, t.ID, t.UserID, t.ListingID, t.Amount, string(t.Kind), t.InvoiceToken, boost, t.Credits, t.PackName).
		Scan((*string)(&t.Status), &t.CreatedAt)
}

func (r *Repository) GetByToken(ctx context.Context, token string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE invoice_token = $1
	`, token))
}

// GetByTokenForUpdate locks the transaction row. Concurrent deliveries of the
// same notification serialize here.
func (r *Repository) GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (*models.Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE invoice_token = $1 FOR UPDATE
	`, token))
}

// CloseTx moves a pending transaction to status. It returns the status the row
// had before the call; a terminal status means nothing was written.
func (r *Repository) CloseTx(ctx context.Context, tx pgx.Tx, token string, status models.TransactionStatus) (models.TransactionStatus, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $2, closed_at = now()
		WHERE invoice_token = $1 AND status = 'pending'
	`, token, string(status))
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 1 {
		return models.TransactionPending, nil
	}
	var stored string
	err = tx.QueryRow(ctx, `SELECT status FROM transactions WHERE invoice_token = $1`, token).Scan(&stored)
	if err != nil {
		return "", err
	}
	return models.TransactionStatus(stored), nil
}

// ListStalePending claims up to limit pending transactions created before the
// cutoff, least recently checked first, and stamps last_checked_at on them.
// Invoices the provider keeps reporting as pending rotate to the back, so a
// backlog of abandoned invoices cannot hide newer ones from the sweep.
func (r *Repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error) {
	return r.list(ctx, `
		UPDATE transactions SET last_checked_at = now()
		WHERE id IN (
			SELECT id FROM transactions
			WHERE status = 'pending' AND created_at < $1
			ORDER BY last_checked_at NULLS FIRST, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+transactionColumns, before, limit)
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	return r.list(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// isNoRows is shared by the service to map missing rows to ErrUnknownTransaction.
func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
