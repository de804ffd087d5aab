package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/daloamarket/backend/internal/models"
)

// Service is the transaction ledger: the only writer of transaction status.
type Service interface {
	OpenTransaction(ctx context.Context, p OpenParams) (*models.Transaction, error)
	GetByToken(ctx context.Context, token string) (*models.Transaction, error)
	GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (*models.Transaction, error)
	CloseTransaction(ctx context.Context, tx pgx.Tx, token string, outcome models.TransactionStatus) (models.TransactionStatus, error)
	// ListStalePending hands out pending transactions older than olderThan,
	// least recently checked first; each call marks the returned rows checked.
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
}

// Store is the persistence surface the service needs; *Repository implements it.
type Store interface {
	Insert(ctx context.Context, t *models.Transaction) error
	GetByToken(ctx context.Context, token string) (*models.Transaction, error)
	GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (*models.Transaction, error)
	CloseTx(ctx context.Context, tx pgx.Tx, token string, status models.TransactionStatus) (models.TransactionStatus, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
}

// OpenParams describes a freshly created invoice.
type OpenParams struct {
	UserID       uuid.UUID
	Purchase     models.Purchase
	Amount       int
	InvoiceToken string
}

type service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) Service {
	return &service{store: store, now: time.Now}
}

var _ Service = (*service)(nil)
var _ Store = (*Repository)(nil)

func (s *service) OpenTransaction(ctx context.Context, p OpenParams) (*models.Transaction, error) {
	if p.InvoiceToken == "" {
		return nil, fmt.Errorf("open transaction: empty invoice token")
	}
	t := &models.Transaction{
		ID:           uuid.New(),
		UserID:       p.UserID,
		Amount:       p.Amount,
		Kind:         p.Purchase.Kind(),
		InvoiceToken: p.InvoiceToken,
		ListingID:    models.PurchaseListingID(p.Purchase),
	}
	switch v := p.Purchase.(type) {
	case models.Boost:
		opt := v.Option
		t.BoostOption = &opt
	case models.CreditPack:
		n := v.Credits
		t.Credits = &n
		if v.Label != "" {
			label := v.Label
			t.PackName = &label
		}
	}
	if err := s.store.Insert(ctx, t); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, models.ErrDuplicateToken
		}
		return nil, models.StoreError("open transaction", err)
	}
	return t, nil
}

func (s *service) GetByToken(ctx context.Context, token string) (*models.Transaction, error) {
	t, err := s.store.GetByToken(ctx, token)
	return t, mapLookupErr("get transaction", err)
}

func (s *service) GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (*models.Transaction, error) {
	t, err := s.store.GetByTokenForUpdate(ctx, tx, token)
	return t, mapLookupErr("lock transaction", err)
}

// CloseTransaction writes a terminal status exactly once. When the
// transaction is already terminal it returns the stored status and writes
// nothing, so callers can treat a replay as success.
func (s *service) CloseTransaction(ctx context.Context, tx pgx.Tx, token string, outcome models.TransactionStatus) (models.TransactionStatus, error) {
	if !outcome.IsTerminal() {
		return "", fmt.Errorf("close transaction: %q is not a terminal status", outcome)
	}
	prev, err := s.store.CloseTx(ctx, tx, token, outcome)
	return prev, mapLookupErr("close transaction", err)
}

func (s *service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error) {
	list, err := s.store.ListStalePending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, models.StoreError("list stale pending", err)
	}
	return list, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error) {
	list, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, models.StoreError("list transactions", err)
	}
	return list, nil
}

func mapLookupErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isNoRows(err):
		return models.ErrUnknownTransaction
	default:
		return models.StoreError(op, err)
	}
}
