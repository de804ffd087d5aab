package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daloamarket/backend/internal/models"
)

// IssueRepo stores completed payments whose effect needs manual review.
type IssueRepo struct {
	pool *pgxpool.Pool
}

func NewIssueRepo(pool *pgxpool.Pool) *IssueRepo {
	return &IssueRepo{pool: pool}
}

func (r *IssueRepo) CreateTx(ctx context.Context, tx pgx.Tx, i *models.FulfillmentIssue) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO fulfillment_issues (id, transaction_id, invoice_token, code, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, i.ID, i.TransactionID, i.InvoiceToken, i.Code, i.Detail).Scan(&i.CreatedAt)
	if err != nil {
		return models.StoreError("insert fulfillment issue", err)
	}
	return nil
}

// ListOpen returns unresolved issues, oldest first.
func (r *IssueRepo) ListOpen(ctx context.Context, limit int) ([]*models.FulfillmentIssue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, invoice_token, code, detail, resolution, resolved_at, created_at
		FROM fulfillment_issues WHERE resolved_at IS NULL ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, models.StoreError("list fulfillment issues", err)
	}
	defer rows.Close()
	var list []*models.FulfillmentIssue
	for rows.Next() {
		var i models.FulfillmentIssue
		if err := rows.Scan(&i.ID, &i.TransactionID, &i.InvoiceToken, &i.Code, &i.Detail, &i.Resolution, &i.ResolvedAt, &i.CreatedAt); err != nil {
			return nil, models.StoreError("scan fulfillment issue", err)
		}
		list = append(list, &i)
	}
	if err := rows.Err(); err != nil {
		return nil, models.StoreError("list fulfillment issues", err)
	}
	return list, nil
}

// Resolve closes an open issue. It returns ErrIssueNotFound when the issue
// does not exist or was already resolved.
func (r *IssueRepo) Resolve(ctx context.Context, id uuid.UUID, resolution string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE fulfillment_issues SET resolution = $2, resolved_at = now()
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolution)
	if err != nil {
		return models.StoreError("resolve fulfillment issue", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrIssueNotFound
	}
	return nil
}
