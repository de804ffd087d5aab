package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daloamarket/backend/internal/models"
)

// CreditAccountRepo manages user_credits balances. Every mutation is a single
// conditional statement so concurrent callers cannot lose updates.
type CreditAccountRepo struct {
	pool *pgxpool.Pool
}

func NewCreditAccountRepo(pool *pgxpool.Pool) *CreditAccountRepo {
	return &CreditAccountRepo{pool: pool}
}

// GetByUserID returns the balance, or a zero account if the user never held credits.
func (r *CreditAccountRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	a := models.CreditAccount{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT credits, total_earned, updated_at FROM user_credits WHERE user_id = $1
	`, userID).Scan(&a.Credits, &a.TotalEarned, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &a, nil
	}
	if err != nil {
		return nil, models.StoreError("get credit account", err)
	}
	return &a, nil
}

// DeductOneTx removes one credit if the balance allows it and returns the new balance.
func (r *CreditAccountRepo) DeductOneTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE user_credits SET credits = credits - 1, updated_at = now()
		WHERE user_id = $1 AND credits >= 1
		RETURNING credits
	`, userID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrInsufficientCredits
	}
	if err != nil {
		return 0, models.StoreError("deduct credit", err)
	}
	return newBalance, nil
}

// AddTx adds n credits to both the balance and the lifetime total, creating
// the account row on first purchase.
func (r *CreditAccountRepo) AddTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, n int) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		INSERT INTO user_credits (user_id, credits, total_earned)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET credits = user_credits.credits + EXCLUDED.credits,
		    total_earned = user_credits.total_earned + EXCLUDED.total_earned,
		    updated_at = now()
		RETURNING credits
	`, userID, n).Scan(&newBalance)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return 0, models.ErrUnknownPayer
	}
	if err != nil {
		return 0, models.StoreError("add credits", err)
	}
	return newBalance, nil
}
