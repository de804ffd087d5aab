package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daloamarket/backend/internal/models"
)

// CreditRepo appends to and reads the credit_ledger audit trail.
type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, user_id, transaction_id, listing_id, entry_type, amount, balance_after, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, c.ID, c.UserID, c.TransactionID, c.ListingID, c.EntryType, c.Amount, c.BalanceAfter, c.Reason).Scan(&c.CreatedAt)
	if err != nil {
		return models.StoreError("insert credit ledger entry", err)
	}
	return nil
}

func (r *CreditRepo) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditLedger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, transaction_id, listing_id, entry_type, amount, balance_after, reason, created_at
		FROM credit_ledger WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, models.StoreError("list credit ledger", err)
	}
	defer rows.Close()
	var list []*models.CreditLedger
	for rows.Next() {
		var c models.CreditLedger
		if err := rows.Scan(&c.ID, &c.UserID, &c.TransactionID, &c.ListingID, &c.EntryType, &c.Amount, &c.BalanceAfter, &c.Reason, &c.CreatedAt); err != nil {
			return nil, models.StoreError("scan credit ledger", err)
		}
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, models.StoreError("list credit ledger", err)
	}
	return list, nil
}
