package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/daloamarket/backend/internal/gateway"
	"github.com/daloamarket/backend/internal/ledger"
	"github.com/daloamarket/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks. These let us test the real service logic without a database.
// ---------------------------------------------------------------------------

// --- recTx satisfies pgx.Tx and records whether Commit was called. ---

type recTx struct {
	mu        sync.Mutex
	committed bool
}

func (t *recTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *recTx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = true
	return nil
}
func (t *recTx) Rollback(context.Context) error { return nil }
func (t *recTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *recTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *recTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *recTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *recTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *recTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *recTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *recTx) Conn() *pgx.Conn { return nil }

type mockPool struct {
	mu  sync.Mutex
	txs []*recTx
}

func (p *mockPool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &recTx{}
	p.txs = append(p.txs, tx)
	return tx, nil
}

func (p *mockPool) commits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tx := range p.txs {
		if tx.committed {
			n++
		}
	}
	return n
}

// --- CreditAccountRepo ---

type mockCreditAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.CreditAccount
}

func newMockCreditAccounts() *mockCreditAccounts {
	return &mockCreditAccounts{accounts: make(map[uuid.UUID]*models.CreditAccount)}
}

func (m *mockCreditAccounts) set(userID uuid.UUID, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = &models.CreditAccount{UserID: userID, Credits: credits, TotalEarned: credits}
}

func (m *mockCreditAccounts) GetByUserID(_ context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return &models.CreditAccount{UserID: userID}, nil
	}
	cp := *a
	return &cp, nil
}

func (m *mockCreditAccounts) DeductOneTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok || a.Credits < 1 {
		return 0, models.ErrInsufficientCredits
	}
	a.Credits--
	return a.Credits, nil
}

func (m *mockCreditAccounts) AddTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		a = &models.CreditAccount{UserID: userID}
		m.accounts[userID] = a
	}
	a.Credits += n
	a.TotalEarned += n
	return a.Credits, nil
}

func (m *mockCreditAccounts) balance(userID uuid.UUID) (credits, totalEarned int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return 0, 0
	}
	return a.Credits, a.TotalEarned
}

// --- CreditLedgerRepo ---

type mockCreditLedger struct {
	mu      sync.Mutex
	entries []*models.CreditLedger
}

func (m *mockCreditLedger) CreateTx(_ context.Context, _ pgx.Tx, c *models.CreditLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, c)
	return nil
}

func (m *mockCreditLedger) ListByUserID(_ context.Context, userID uuid.UUID, _ int) ([]*models.CreditLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CreditLedger
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockCreditLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- Users ---

type mockUsers struct {
	users map[uuid.UUID]*models.User
}

func newMockUsers(users ...*models.User) *mockUsers {
	m := &mockUsers{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrUnknownPayer
	}
	return u, nil
}

func (m *mockUsers) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.User, error) {
	return m.GetByID(ctx, id)
}

// --- Listings ---

type mockListings struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*models.Listing
}

func newMockListings(ls ...*models.Listing) *mockListings {
	m := &mockListings{listings: make(map[uuid.UUID]*models.Listing)}
	for _, l := range ls {
		m.listings[l.ID] = l
	}
	return m
}

func (m *mockListings) GetByID(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, models.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *mockListings) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Listing, error) {
	return m.GetByID(ctx, id)
}

func (m *mockListings) CountOtherByUserTx(_ context.Context, _ pgx.Tx, userID, excludeID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.listings {
		if l.UserID == userID && l.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (m *mockListings) ActivateTx(_ context.Context, _ pgx.Tx, id, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok || l.UserID != userID || !l.Activatable() {
		return false, nil
	}
	l.Status = models.ListingStatusActive
	return true, nil
}

func (m *mockListings) CreateTx(_ context.Context, _ pgx.Tx, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.Status = models.ListingStatusPending
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *mockListings) PurgePendingDuplicatesTx(_ context.Context, _ pgx.Tx, l *models.Listing) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.listings {
		if o.ID != l.ID && o.UserID == l.UserID && o.Status == models.ListingStatusPending && !o.Deleted() &&
			o.Title == l.Title && o.Price == l.Price && o.Category == l.Category &&
			o.Condition == l.Condition && o.District == l.District {
			now := o.CreatedAt
			o.DeletedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *mockListings) MarkSold(_ context.Context, id, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok || l.UserID != userID || l.Deleted() || l.Status != models.ListingStatusActive {
		return false, nil
	}
	l.Status = models.ListingStatusSold
	return true, nil
}

func (m *mockListings) SoftDelete(_ context.Context, id, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok || l.UserID != userID || l.Deleted() {
		return false, nil
	}
	now := l.CreatedAt
	l.DeletedAt = &now
	return true, nil
}

func (m *mockListings) status(id uuid.UUID) models.ListingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[id].Status
}

// --- Gateway ---

type mockGateway struct {
	calls []gateway.InvoiceRequest
	err   error
	n     int
}

func (g *mockGateway) CreateInvoice(_ context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	g.n++
	tok := fmt.Sprintf("tok_%d", g.n)
	return &gateway.Invoice{Token: tok, CheckoutURL: "https://app.paydunya.com/checkout/invoice/" + tok}, nil
}

// --- TransactionOpener ---

type mockOpener struct {
	opened []ledger.OpenParams
	err    error
}

func (o *mockOpener) OpenTransaction(_ context.Context, p ledger.OpenParams) (*models.Transaction, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opened = append(o.opened, p)
	return &models.Transaction{ID: uuid.New(), InvoiceToken: p.InvoiceToken, Status: models.TransactionPending}, nil
}

// --- InvoiceCreator ---

type mockInvoices struct {
	purchases []models.Purchase
	err       error
}

func (m *mockInvoices) CreateInvoice(_ context.Context, _ uuid.UUID, p models.Purchase) (*Checkout, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.purchases = append(m.purchases, p)
	return &Checkout{Token: "tok_pub", CheckoutURL: "https://app.paydunya.com/checkout/invoice/tok_pub", Amount: Price(p)}, nil
}
