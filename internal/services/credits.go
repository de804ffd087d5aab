package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/daloamarket/backend/internal/metrics"
	"github.com/daloamarket/backend/internal/models"
)

// CreditAccountRepo is the minimal user_credits repository for CreditService.
type CreditAccountRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	DeductOneTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (newBalance int, err error)
	AddTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, n int) (newBalance int, err error)
}

// CreditLedgerRepo is the minimal credit_ledger interface for CreditService.
type CreditLedgerRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditLedger, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CreditEntry describes why a balance changed; it becomes a credit_ledger row.
type CreditEntry struct {
	Type          string
	TransactionID *uuid.UUID
	ListingID     *uuid.UUID
	Reason        string
}

// CreditService changes publication credit balances. Each change is one
// atomic statement plus an audit row in the caller's transaction.
type CreditService struct {
	Pool        TxBeginner
	AccountRepo CreditAccountRepo
	LedgerRepo  CreditLedgerRepo
}

func NewCreditService(pool TxBeginner, accountRepo CreditAccountRepo, ledgerRepo CreditLedgerRepo) *CreditService {
	return &CreditService{Pool: pool, AccountRepo: accountRepo, LedgerRepo: ledgerRepo}
}

// Increment adds n credits (and n to total_earned). Call within a transaction.
func (s *CreditService) Increment(ctx context.Context, tx pgx.Tx, userID uuid.UUID, n int, e CreditEntry) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("increment credits: n must be > 0, got %d", n)
	}
	newBalance, err := s.AccountRepo.AddTx(ctx, tx, userID, n)
	if err != nil {
		metrics.RecordCreditOperation("increment", "error")
		return 0, err
	}
	if err := s.LedgerRepo.CreateTx(ctx, tx, e.ledger(userID, n, newBalance)); err != nil {
		metrics.RecordCreditOperation("increment", "error")
		return 0, err
	}
	metrics.RecordCreditOperation("increment", "ok")
	return newBalance, nil
}

// Decrement removes exactly one credit. It returns models.ErrInsufficientCredits
// without writing anything when the balance is zero. Call within a transaction.
func (s *CreditService) Decrement(ctx context.Context, tx pgx.Tx, userID uuid.UUID, e CreditEntry) (int, error) {
	newBalance, err := s.AccountRepo.DeductOneTx(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			metrics.RecordCreditOperation("decrement", "insufficient")
		} else {
			metrics.RecordCreditOperation("decrement", "error")
		}
		return 0, err
	}
	if err := s.LedgerRepo.CreateTx(ctx, tx, e.ledger(userID, -1, newBalance)); err != nil {
		metrics.RecordCreditOperation("decrement", "error")
		return 0, err
	}
	metrics.RecordCreditOperation("decrement", "ok")
	return newBalance, nil
}

// Grant adds credits outside any payment, e.g. after staff verify a
// mobile-money transfer. It runs in its own transaction.
func (s *CreditService) Grant(ctx context.Context, userID uuid.UUID, n int, reason string) (int, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, models.StoreError("begin grant", err)
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.Increment(ctx, tx, userID, n, CreditEntry{Type: models.CreditEntryManualGrant, Reason: reason})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, models.StoreError("commit grant", err)
	}
	return newBalance, nil
}

func (s *CreditService) Balance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	return s.AccountRepo.GetByUserID(ctx, userID)
}

func (s *CreditService) History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditLedger, error) {
	return s.LedgerRepo.ListByUserID(ctx, userID, limit)
}

func (e CreditEntry) ledger(userID uuid.UUID, amount, balanceAfter int) *models.CreditLedger {
	return &models.CreditLedger{
		ID:            uuid.New(),
		UserID:        userID,
		TransactionID: e.TransactionID,
		ListingID:     e.ListingID,
		EntryType:     e.Type,
		Amount:        amount,
		BalanceAfter:  intPtr(balanceAfter),
		Reason:        e.Reason,
	}
}

func intPtr(n int) *int { return &n }
