package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daloamarket/backend/internal/models"
	"github.com/daloamarket/backend/internal/services"
)

// ---------------------------------------------------------------------------
// memDB: an in-memory store with one global lock standing in for row locks.
// Begin snapshots the state; Rollback without Commit restores it, so tests
// observe real all-or-nothing behavior.
// ---------------------------------------------------------------------------

type state struct {
	transactions map[string]models.Transaction
	listings     map[uuid.UUID]models.Listing
	credits      map[uuid.UUID]models.CreditAccount
	audit        []models.CreditLedger
	issues       []models.FulfillmentIssue
	receipts     []uuid.UUID
}

func (s *state) clone() *state {
	c := &state{
		transactions: make(map[string]models.Transaction, len(s.transactions)),
		listings:     make(map[uuid.UUID]models.Listing, len(s.listings)),
		credits:      make(map[uuid.UUID]models.CreditAccount, len(s.credits)),
		audit:        append([]models.CreditLedger(nil), s.audit...),
		issues:       append([]models.FulfillmentIssue(nil), s.issues...),
		receipts:     append([]uuid.UUID(nil), s.receipts...),
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.credits {
		c.credits[k] = v
	}
	return c
}

type memDB struct {
	lock   sync.Mutex
	st     *state
	failOn string
}

func newMemDB() *memDB {
	return &memDB{st: &state{
		transactions: make(map[string]models.Transaction),
		listings:     make(map[uuid.UUID]models.Listing),
		credits:      make(map[uuid.UUID]models.CreditAccount),
	}}
}

func (db *memDB) Begin(context.Context) (pgx.Tx, error) {
	db.lock.Lock()
	return &memTx{db: db, snapshot: db.st.clone()}, nil
}

func (db *memDB) fail(op string) error {
	if db.failOn == op {
		return models.StoreError(op, errors.New("connection reset by peer"))
	}
	return nil
}

// snapshot reads state outside any transaction.
func (db *memDB) snapshot() *state {
	db.lock.Lock()
	defer db.lock.Unlock()
	return db.st.clone()
}

type memTx struct {
	db       *memDB
	snapshot *state
	done     bool
}

func (t *memTx) Commit(context.Context) error {
	if !t.done {
		t.done = true
		t.db.lock.Unlock()
	}
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.done {
		t.done = true
		t.db.st = t.snapshot
		t.db.lock.Unlock()
	}
	return nil
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

// --- TransactionLedger ---

type memLedger struct{ db *memDB }

func (l memLedger) GetByTokenForUpdate(_ context.Context, _ pgx.Tx, token string) (*models.Transaction, error) {
	t, ok := l.db.st.transactions[token]
	if !ok {
		return nil, models.ErrUnknownTransaction
	}
	return &t, nil
}

func (l memLedger) CloseTransaction(_ context.Context, _ pgx.Tx, token string, outcome models.TransactionStatus) (models.TransactionStatus, error) {
	if err := l.db.fail("close"); err != nil {
		return "", err
	}
	t, ok := l.db.st.transactions[token]
	if !ok {
		return "", models.ErrUnknownTransaction
	}
	if t.Status.IsTerminal() {
		return t.Status, nil
	}
	now := time.Now()
	t.Status, t.ClosedAt = outcome, &now
	l.db.st.transactions[token] = t
	return models.TransactionPending, nil
}

// --- ListingStore ---

type memListings struct{ db *memDB }

func (m memListings) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Listing, error) {
	l, ok := m.db.st.listings[id]
	if !ok {
		return nil, models.ErrListingNotFound
	}
	return &l, nil
}

func (m memListings) update(id, userID uuid.UUID, fn func(*models.Listing)) bool {
	l, ok := m.db.st.listings[id]
	if !ok || l.UserID != userID || !l.Activatable() {
		return false
	}
	fn(&l)
	m.db.st.listings[id] = l
	return true
}

func (m memListings) ActivateTx(_ context.Context, _ pgx.Tx, id, userID uuid.UUID) (bool, error) {
	return m.update(id, userID, func(l *models.Listing) { l.Status = models.ListingStatusActive }), nil
}

func (m memListings) ApplyBoostTx(_ context.Context, _ pgx.Tx, id, userID uuid.UUID, until time.Time) (bool, error) {
	return m.update(id, userID, func(l *models.Listing) {
		l.Status = models.ListingStatusActive
		l.BoostedUntil = &until
	}), nil
}

// --- CreditIncrementer ---

type memCredits struct{ db *memDB }

func (m memCredits) Increment(_ context.Context, _ pgx.Tx, userID uuid.UUID, n int, e services.CreditEntry) (int, error) {
	if err := m.db.fail("increment"); err != nil {
		return 0, err
	}
	a := m.db.st.credits[userID]
	a.UserID = userID
	a.Credits += n
	a.TotalEarned += n
	m.db.st.credits[userID] = a
	m.db.st.audit = append(m.db.st.audit, models.CreditLedger{UserID: userID, EntryType: e.Type, Amount: n, TransactionID: e.TransactionID})
	return a.Credits, nil
}

// --- IssueRecorder ---

type memIssues struct{ db *memDB }

func (m memIssues) CreateTx(_ context.Context, _ pgx.Tx, i *models.FulfillmentIssue) error {
	m.db.st.issues = append(m.db.st.issues, *i)
	return nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newEngine(db *memDB) *Engine {
	return &Engine{
		Pool:     db,
		Ledger:   memLedger{db},
		Listings: memListings{db},
		Credits:  memCredits{db},
		Issues:   memIssues{db},
		EnqueueReceipt: func(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
			if err := db.fail("enqueue"); err != nil {
				return err
			}
			db.st.receipts = append(db.st.receipts, t.ID)
			return nil
		},
		now: func() time.Time { return fixedNow },
	}
}

func seedPack(db *memDB, token string, credits int) models.Transaction {
	t := models.Transaction{
		ID: uuid.New(), UserID: uuid.New(), Amount: 1500, Kind: models.KindCreditPack,
		Status: models.TransactionPending, InvoiceToken: token, Credits: &credits,
	}
	db.st.transactions[token] = t
	return t
}

func seedListingPayment(db *memDB, token string, kind models.TransactionKind, boost *models.BoostOption) (models.Transaction, models.Listing) {
	owner := uuid.New()
	l := models.Listing{ID: uuid.New(), UserID: owner, Status: models.ListingStatusPending}
	db.st.listings[l.ID] = l
	amount := 200
	if kind == models.KindBoost {
		amount = 800
	}
	t := models.Transaction{
		ID: uuid.New(), UserID: owner, ListingID: &l.ID, Amount: amount, Kind: kind,
		Status: models.TransactionPending, InvoiceToken: token, BoostOption: boost,
	}
	db.st.transactions[token] = t
	return t, l
}

func completed(t models.Transaction) *models.PaymentNotification {
	cd := models.CustomData{UserID: &t.UserID, Type: string(t.Kind), ListingID: t.ListingID, BoostOption: t.BoostOption, Credits: t.Credits}
	return &models.PaymentNotification{Token: t.InvoiceToken, Status: models.ProviderStatusCompleted, TotalAmount: t.Amount, Custom: cd, Source: models.SourceWebhook}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreditPack_CompletedCreditsOnce(t *testing.T) {
	db := newMemDB()
	tr := seedPack(db, "tok_pack", 10)
	e := newEngine(db)

	out, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, out.Status)
	assert.True(t, out.Applied)
	assert.False(t, out.Replayed)

	// Replay: same terminal state, effect not reapplied.
	out, err = e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, models.TransactionCompleted, out.Status)

	st := db.snapshot()
	assert.Equal(t, 10, st.credits[tr.UserID].Credits)
	assert.Equal(t, 10, st.credits[tr.UserID].TotalEarned)
	assert.Len(t, st.audit, 1)
	assert.Equal(t, models.CreditEntryPackPurchase, st.audit[0].EntryType)
	assert.Equal(t, []uuid.UUID{tr.ID}, st.receipts)
	assert.Equal(t, models.TransactionCompleted, st.transactions["tok_pack"].Status)
}

func TestCreditPack_SecondDistinctPurchaseAccumulates(t *testing.T) {
	db := newMemDB()
	first := seedPack(db, "tok_a", 10)
	second := seedPack(db, "tok_b", 10)
	second.UserID = first.UserID
	db.st.transactions["tok_b"] = second
	e := newEngine(db)

	_, err := e.HandleNotification(context.Background(), completed(first))
	require.NoError(t, err)
	_, err = e.HandleNotification(context.Background(), completed(second))
	require.NoError(t, err)

	st := db.snapshot()
	assert.Equal(t, 20, st.credits[first.UserID].Credits)
	assert.Equal(t, 20, st.credits[first.UserID].TotalEarned)
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	db := newMemDB()
	tr := seedPack(db, "tok_race", 3)
	e := newEngine(db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	replays := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.HandleNotification(context.Background(), completed(tr))
			assert.NoError(t, err)
			if err == nil && out.Replayed {
				mu.Lock()
				replays++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, replays)
	st := db.snapshot()
	assert.Equal(t, 3, st.credits[tr.UserID].Credits)
	assert.Len(t, st.receipts, 1)
}

func TestListingFee_ActivatesOwnedListing(t *testing.T) {
	db := newMemDB()
	tr, l := seedListingPayment(db, "tok_fee", models.KindListingFee, nil)
	e := newEngine(db)

	out, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Nil(t, out.Fault)
	assert.Equal(t, models.ListingStatusActive, db.snapshot().listings[l.ID].Status)
}

func TestListingFee_ReplayAfterDeletion(t *testing.T) {
	db := newMemDB()
	tr, l := seedListingPayment(db, "tok_fee", models.KindListingFee, nil)
	e := newEngine(db)

	_, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)

	deleted := db.st.listings[l.ID]
	now := time.Now()
	deleted.DeletedAt = &now
	db.st.listings[l.ID] = deleted

	out, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, models.TransactionCompleted, db.snapshot().transactions["tok_fee"].Status)
}

func TestListingFee_DeletedBeforePaymentIsFlagged(t *testing.T) {
	db := newMemDB()
	tr, l := seedListingPayment(db, "tok_fee", models.KindListingFee, nil)
	deleted := db.st.listings[l.ID]
	now := time.Now()
	deleted.DeletedAt = &now
	db.st.listings[l.ID] = deleted
	e := newEngine(db)

	out, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, out.Status)
	assert.False(t, out.Applied)
	require.NotNil(t, out.Issue)
	assert.Equal(t, models.IssueListingMissing, out.Issue.Code)
	assert.Len(t, db.snapshot().issues, 1)
}

func TestListingFee_OwnershipMismatchIsFlagged(t *testing.T) {
	db := newMemDB()
	tr, l := seedListingPayment(db, "tok_fee", models.KindListingFee, nil)
	foreign := db.st.listings[l.ID]
	foreign.UserID = uuid.New()
	db.st.listings[l.ID] = foreign
	e := newEngine(db)

	out, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.ErrorIs(t, out.Fault, models.ErrOwnershipMismatch)
	assert.Equal(t, models.IssueOwnershipMismatch, out.Issue.Code)

	st := db.snapshot()
	assert.Equal(t, models.ListingStatusPending, st.listings[l.ID].Status)
	assert.Equal(t, models.TransactionCompleted, st.transactions["tok_fee"].Status)
}

func TestListingFee_SoldListingNotReactivated(t *testing.T) {
	db := newMemDB()
	tr, l := seedListingPayment(db, "tok_fee", models.KindListingFee, nil)
	sold := db.st.listings[l.ID]
	sold.Status = models.ListingStatusSold
	db.st.listings[l.ID] = sold
	e := newEngine(db)

	out, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.Equal(t, models.IssueListingNotActivatable, out.Issue.Code)
	assert.Equal(t, models.ListingStatusSold, db.snapshot().listings[l.ID].Status)
}

func TestBoost_SetsBoostedUntil(t *testing.T) {
	db := newMemDB()
	opt := models.Boost7d
	tr, l := seedListingPayment(db, "tok_boost", models.KindBoost, &opt)
	e := newEngine(db)

	_, err := e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)

	got := db.snapshot().listings[l.ID]
	assert.Equal(t, models.ListingStatusActive, got.Status)
	require.NotNil(t, got.BoostedUntil)
	assert.Equal(t, fixedNow.Add(7*24*time.Hour), *got.BoostedUntil)
}

func TestUnknownToken_NoMutation(t *testing.T) {
	db := newMemDB()
	seedPack(db, "tok_known", 3)
	e := newEngine(db)

	_, err := e.HandleNotification(context.Background(), &models.PaymentNotification{Token: "tok_unknown", Status: models.ProviderStatusCompleted})
	assert.ErrorIs(t, err, models.ErrUnknownTransaction)

	st := db.snapshot()
	assert.Empty(t, st.credits)
	assert.Empty(t, st.receipts)
	assert.Equal(t, models.TransactionPending, st.transactions["tok_known"].Status)
}

func TestCancelledClosesAsFailed(t *testing.T) {
	db := newMemDB()
	tr := seedPack(db, "tok_cancel", 3)
	e := newEngine(db)

	out, err := e.HandleNotification(context.Background(), &models.PaymentNotification{Token: tr.InvoiceToken, Status: models.ProviderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, out.Status)

	// A late completed notification cannot resurrect it.
	out, err = e.HandleNotification(context.Background(), completed(tr))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, models.TransactionFailed, out.Status)

	st := db.snapshot()
	assert.Empty(t, st.credits)
	assert.Empty(t, st.receipts)
}

func TestPendingStatusIsAcknowledged(t *testing.T) {
	db := newMemDB()
	tr := seedPack(db, "tok_wait", 3)
	e := newEngine(db)

	out, err := e.HandleNotification(context.Background(), &models.PaymentNotification{Token: tr.InvoiceToken, Status: models.ProviderStatusPending})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, out.Status)
	assert.Equal(t, models.TransactionPending, db.snapshot().transactions["tok_wait"].Status)
}

func TestMalformedContextKeepsTransactionPending(t *testing.T) {
	db := newMemDB()
	tr := seedPack(db, "tok_bad", 10)
	e := newEngine(db)

	cases := map[string]func(n *models.PaymentNotification){
		"missing credits": func(n *models.PaymentNotification) { n.Custom.Credits = nil },
		"wrong credits":   func(n *models.PaymentNotification) { c := 30; n.Custom.Credits = &c },
		"wrong user":      func(n *models.PaymentNotification) { u := uuid.New(); n.Custom.UserID = &u },
		"wrong type":      func(n *models.PaymentNotification) { n.Custom.Type = "boost" },
		"missing type":    func(n *models.PaymentNotification) { n.Custom.Type = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			n := completed(tr)
			mutate(n)
			_, err := e.HandleNotification(context.Background(), n)
			assert.ErrorIs(t, err, models.ErrMalformedNotification)
		})
	}
	assert.Equal(t, models.TransactionPending, db.snapshot().transactions["tok_bad"].Status)
	assert.Empty(t, db.snapshot().credits)
}

func TestLegacyTypeAliasAccepted(t *testing.T) {
	db := newMemDB()
	tr := seedPack(db, "tok_legacy", 3)
	e := newEngine(db)

	n := completed(tr)
	n.Custom.Type = "pack"
	out, err := e.HandleNotification(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, out.Applied)
}

func TestListingFeeRequiresListingID(t *testing.T) {
	db := newMemDB()
	tr, _ := seedListingPayment(db, "tok_fee", models.KindListingFee, nil)
	e := newEngine(db)

	n := completed(tr)
	n.Custom.ListingID = nil
	_, err := e.HandleNotification(context.Background(), n)
	assert.ErrorIs(t, err, models.ErrMalformedNotification)
}

func TestAmountMismatchIsFlaggedWithoutEffect(t *testing.T) {
	db := newMemDB()
	tr := seedPack(db, "tok_amount", 10)
	e := newEngine(db)

	n := completed(tr)
	n.TotalAmount = 100
	out, err := e.HandleNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, out.Status)
	assert.False(t, out.Applied)
	assert.Equal(t, models.IssueAmountMismatch, out.Issue.Code)
	assert.Empty(t, db.snapshot().credits)
}

func TestStoreFailureRollsBackEverything(t *testing.T) {
	for _, op := range []string{"close", "enqueue"} {
		t.Run(op, func(t *testing.T) {
			db := newMemDB()
			tr := seedPack(db, "tok_fail", 10)
			db.failOn = op
			e := newEngine(db)

			_, err := e.HandleNotification(context.Background(), completed(tr))
			assert.ErrorIs(t, err, models.ErrStoreUnavailable)

			st := db.snapshot()
			assert.Equal(t, models.TransactionPending, st.transactions["tok_fail"].Status)
			assert.Empty(t, st.credits, "credit effect must roll back with the status write")
			assert.Empty(t, st.audit)

			// Redelivery after recovery applies exactly once.
			db.failOn = ""
			out, err := e.HandleNotification(context.Background(), completed(tr))
			require.NoError(t, err)
			assert.True(t, out.Applied)
			assert.Equal(t, 10, db.snapshot().credits[tr.UserID].Credits)
		})
	}
}

func TestEmptyTokenIsMalformed(t *testing.T) {
	e := newEngine(newMemDB())
	_, err := e.HandleNotification(context.Background(), &models.PaymentNotification{Status: models.ProviderStatusCompleted})
	assert.ErrorIs(t, err, models.ErrMalformedNotification)
}
