package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/pkg/database"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cfg := database.DefaultSQLiteConfig(filepath.Join(t.TempDir(), "pos.db"))
	s, err := Open(context.Background(), cfg, slog.New(slog.DiscardHandler), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func seedProduct(t *testing.T, s *Store, id string, qty int) {
	t.Helper()
	_, err := s.UpsertProduct(context.Background(), domain.Product{
		ID: id, StoreID: "store-1", Name: "Product " + id, UnitPrice: 1160, VATRate: 1600, Quantity: qty,
	})
	require.NoError(t, err)
}

func item(t *testing.T, d domain.Domain, id, storeID string) domain.QueueItem {
	t.Helper()
	it, err := domain.NewQueueItem(d, id, storeID, map[string]string{"id": id})
	require.NoError(t, err)
	return it
}

// ============================================================================
// Queue
// ============================================================================

func TestQueryUnsynced_FIFOWithinStore(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	// Same timestamp for b and c: insertion order breaks the tie.
	require.NoError(t, s.Put(ctx, item(t, domain.DomainStock, "a", "store-1")))
	clock.Advance(time.Second)
	require.NoError(t, s.Put(ctx, item(t, domain.DomainStock, "b", "store-1")))
	require.NoError(t, s.Put(ctx, item(t, domain.DomainStock, "c", "store-1")))
	require.NoError(t, s.Put(ctx, item(t, domain.DomainStock, "other", "store-2")))
	require.NoError(t, s.Put(ctx, item(t, domain.DomainSales, "sale", "store-1")))

	items, err := s.QueryUnsynced(ctx, domain.DomainStock, "store-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, domain.StatusPending, items[0].Status)
	assert.False(t, items[0].Synced)
}

func TestPut_ResetsSyncedKeepsCreatedAt(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, item(t, domain.DomainTax, "INV-1", "store-1")))
	first, err := s.Get(ctx, domain.DomainTax, "INV-1")
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, domain.DomainTax, "INV-1", 1, json.RawMessage(`{"ok":true}`)))

	clock.Advance(time.Minute)
	require.NoError(t, s.Put(ctx, item(t, domain.DomainTax, "INV-1", "store-1")))

	got, err := s.Get(ctx, domain.DomainTax, "INV-1")
	require.NoError(t, err)
	assert.False(t, got.Synced)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.SyncedAt)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.Equal(t, int64(1), first.Revision)
	assert.Equal(t, int64(2), got.Revision)
}

func TestMarkSynced_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, item(t, domain.DomainSales, "sale-1", "store-1")))

	require.NoError(t, s.MarkSynced(ctx, domain.DomainSales, "sale-1", 1, json.RawMessage(`{"transaction_id":"t1"}`)))
	require.NoError(t, s.MarkSynced(ctx, domain.DomainSales, "sale-1", 1, json.RawMessage(`{"transaction_id":"t2"}`)))

	got, err := s.Get(ctx, domain.DomainSales, "sale-1")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.JSONEq(t, `{"transaction_id":"t1"}`, string(got.Response))
	require.NotNil(t, got.SyncedAt)

	pending, err := s.QueryUnsynced(ctx, domain.DomainSales, "store-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = s.MarkSynced(ctx, domain.DomainSales, "missing", 1, nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSettle_RewrittenItemStaysPending(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)

	sent, err := s.Get(ctx, domain.DomainProducts, "p1")
	require.NoError(t, err)

	_, err = s.UpsertProduct(ctx, domain.Product{ID: "p1", StoreID: "store-1", Name: "New name", UnitPrice: 1160})
	require.NoError(t, err)

	err = s.MarkSynced(ctx, domain.DomainProducts, "p1", sent.Revision, nil)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	err = s.MarkFailed(ctx, domain.DomainProducts, "p1", sent.Revision, "rejected")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	err = s.RecordAttempt(ctx, domain.DomainProducts, "p1", sent.Revision, "rate limited")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	pending, err := s.QueryUnsynced(ctx, domain.DomainProducts, "store-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].Revision)
	assert.Equal(t, 0, pending[0].Attempts)
	var queued domain.Product
	require.NoError(t, pending[0].Decode(&queued))
	assert.Equal(t, "New name", queued.Name)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, p.Synced)

	require.NoError(t, s.MarkSynced(ctx, domain.DomainProducts, "p1", pending[0].Revision, nil))
	p, err = s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Synced)
}

func TestMarkFailed_ExcludedUntilRetried(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, item(t, domain.DomainTax, "INV-9", "store-1")))

	require.NoError(t, s.RecordAttempt(ctx, domain.DomainTax, "INV-9", 1, "rate limited"))
	require.NoError(t, s.MarkFailed(ctx, domain.DomainTax, "INV-9", 1, "missing customer PIN"))

	pending, err := s.QueryUnsynced(ctx, domain.DomainTax, "store-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, total, err := s.ListFailed(ctx, domain.DomainTax, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, failed, 1)
	assert.Equal(t, "missing customer PIN", failed[0].LastError)
	assert.Equal(t, 2, failed[0].Attempts)

	counts, err := s.Counts(ctx, domain.DomainTax)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCounts{Failed: 1}, counts)

	require.NoError(t, s.RetryFailed(ctx, domain.DomainTax, "INV-9"))
	pending, err = s.QueryUnsynced(ctx, domain.DomainTax, "store-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	assert.ErrorIs(t, s.RetryFailed(ctx, domain.DomainTax, "INV-9"), apperrors.ErrNotFound)
}

func TestEnqueue_OnlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Enqueue(ctx, item(t, domain.DomainTax, "INV-2", "store-1"))
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, s.MarkSynced(ctx, domain.DomainTax, "INV-2", 1, nil))

	created, err = s.Enqueue(ctx, item(t, domain.DomainTax, "INV-2", "store-1"))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.Get(ctx, domain.DomainTax, "INV-2")
	require.NoError(t, err)
	assert.True(t, got.Synced)
}

// ============================================================================
// Atomic mutations
// ============================================================================

func TestRecordSale_CommitsSaleInvoiceAndStock(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)

	sale := domain.Sale{
		ID: "sale-1", StoreID: "store-1", PaymentMethod: domain.PaymentCash,
		Lines: []domain.SaleLine{{ProductID: "p1", Quantity: 2, UnitPrice: 1160, VATAmount: 320}},
	}
	inv := &domain.Invoice{Number: "INV-1", StoreID: "store-1", SaleID: "sale-1"}
	require.NoError(t, s.RecordSale(ctx, sale, inv))

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, p.Quantity)

	_, err = s.Get(ctx, domain.DomainSales, "sale-1")
	require.NoError(t, err)
	_, err = s.Get(ctx, domain.DomainTax, "INV-1")
	require.NoError(t, err)

	deltas, err := s.PendingDeltas(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, -2, deltas[0].Delta)

	err = s.RecordSale(ctx, sale, nil)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestRecordSale_UnknownProductRollsBack(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)

	sale := domain.Sale{
		ID: "sale-2", StoreID: "store-1",
		Lines: []domain.SaleLine{
			{ProductID: "p1", Quantity: 3},
			{ProductID: "ghost", Quantity: 1},
		},
	}
	err := s.RecordSale(ctx, sale, &domain.Invoice{Number: "INV-2", StoreID: "store-1"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity, "first line must not be applied")

	_, err = s.Get(ctx, domain.DomainSales, "sale-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.Get(ctx, domain.DomainTax, "INV-2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStockNeverNegative(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 3)

	for i, qty := range []int{2, 5, 1} {
		sale := domain.Sale{
			ID: "sale-" + string(rune('a'+i)), StoreID: "store-1",
			Lines: []domain.SaleLine{{ProductID: "p1", Quantity: qty}},
		}
		require.NoError(t, s.RecordSale(ctx, sale, nil))

		p, err := s.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Quantity, 0)
	}

	p, err := s.RecordStockAdjustment(ctx, domain.StockUpdate{ID: "adj-1", ProductID: "p1", StoreID: "store-1", Delta: -4})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)
}

func TestApplyRemoteQuantity_KeepsPendingDeltas(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)

	// Synced adjustment: already reflected remotely.
	_, err := s.RecordStockAdjustment(ctx, domain.StockUpdate{ID: "adj-1", ProductID: "p1", StoreID: "store-1", Delta: 5})
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, domain.DomainStock, "adj-1", 1, nil))

	// Pending sale: not yet known remotely.
	require.NoError(t, s.RecordSale(ctx, domain.Sale{
		ID: "sale-1", StoreID: "store-1", Lines: []domain.SaleLine{{ProductID: "p1", Quantity: 4}},
	}, nil))

	// Failed adjustment: never reaches the remote, so it is dropped.
	_, err = s.RecordStockAdjustment(ctx, domain.StockUpdate{ID: "adj-2", ProductID: "p1", StoreID: "store-1", Delta: -1})
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, domain.DomainStock, "adj-2", 1, "rejected"))

	qty, err := s.ApplyRemoteQuantity(ctx, "p1", 15)
	require.NoError(t, err)
	assert.Equal(t, 11, qty)

	qty, err = s.ApplyRemoteQuantity(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, qty)

	_, err = s.ApplyRemoteQuantity(ctx, "ghost", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpsertProduct_KeepsQuantityAndQueues(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "p1", 10)
	require.NoError(t, s.MarkSynced(ctx, domain.DomainProducts, "p1", 1, nil))

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Synced)

	updated, err := s.UpsertProduct(ctx, domain.Product{ID: "p1", StoreID: "store-1", Name: "Renamed", UnitPrice: 900, Quantity: 99})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 10, updated.Quantity)
	assert.False(t, updated.Synced)

	items, err := s.QueryUnsynced(ctx, domain.DomainProducts, "store-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	var queued domain.Product
	require.NoError(t, items[0].Decode(&queued))
	assert.Equal(t, "Renamed", queued.Name)

	created, err := s.ImportProduct(ctx, domain.Product{ID: "p1", StoreID: "store-1", Name: "Remote"})
	require.NoError(t, err)
	assert.False(t, created)

	list, total, err := s.ListProducts(ctx, "store-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Renamed", list[0].Name)
}

// ============================================================================
// Session and credential
// ============================================================================

func TestSessionAndCredential(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadSession(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.LoadCredential(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	tokenExp := clock.Now().Add(15 * time.Minute)
	sess := domain.Session{
		SessionID: "s1", UserID: "u1", StoreID: "store-1", Email: "cashier@example.com",
		Metadata: map[string]string{"role": "cashier"}, Mode: domain.ModeOnline,
		ExpiresAt: clock.Now().Add(time.Hour), AccessToken: "tok", TokenExpiresAt: &tokenExp, CreatedAt: clock.Now(),
	}
	cred := domain.Credential{Email: "cashier@example.com", HashedPassword: []byte{1, 2, 3}, Salt: []byte{9, 9}}
	require.NoError(t, s.SaveLogin(ctx, sess, cred))

	got, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "cashier", got.Metadata["role"])
	assert.Equal(t, sess.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, "tok", got.AccessToken)
	require.NotNil(t, got.TokenExpiresAt)
	assert.Equal(t, tokenExp, *got.TokenExpiresAt)
	assert.False(t, got.SignedOut)

	require.NoError(t, s.MarkSessionSignedOut(ctx))
	got, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.True(t, got.SignedOut)

	gotCred, err := s.LoadCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, gotCred.HashedPassword)
	assert.Equal(t, []byte{9, 9}, gotCred.Salt)

	require.NoError(t, s.ClearLogin(ctx))
	_, err = s.LoadSession(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.LoadCredential(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ============================================================================
// Device identity and locking
// ============================================================================

func TestDeviceID_Persisted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.DeviceID(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := s.DeviceID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	forced, err := s.DeviceID(ctx, "till-07")
	require.NoError(t, err)
	assert.Equal(t, "till-07", forced)
	again, err = s.DeviceID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "till-07", again)
}

func TestOpen_SecondWriterRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out lock retries")
	}
	path := filepath.Join(t.TempDir(), "pos.db")
	logger := slog.New(slog.DiscardHandler)
	cfg := database.DefaultSQLiteConfig(path)
	cfg.BusyTimeout = 50 * time.Millisecond

	first, err := Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(context.Background(), cfg, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}
