package postgres

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

func newTestRemote(t *testing.T) (*Remote, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, slog.New(slog.DiscardHandler)), mock
}

func sampleSale() domain.Sale {
	return domain.Sale{
		ID:            "sale-1",
		StoreID:       "store-1",
		UserID:        "user-1",
		PaymentMethod: domain.PaymentCash,
		TotalAmount:   2320,
		VATTotal:      320,
		Lines:         []domain.SaleLine{{ProductID: "p1", Quantity: 2, UnitPrice: 1160, VATAmount: 320}},
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// CreateSale
// ---------------------------------------------------------------------------

func TestCreateSale_Success(t *testing.T) {
	r, mock := newTestRemote(t)
	s := sampleSale()

	mock.ExpectQuery(`create_sale\(`).
		WithArgs(s.ID, s.StoreID, s.UserID, s.PaymentMethod, s.TotalAmount, s.VATTotal,
			`[{"id":"p1","quantity":2,"unit_price":1160,"vat_amount":320}]`, true, s.CreatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"create_sale"}).AddRow("txn-42"))

	txID, err := r.CreateSale(context.Background(), s, true)
	require.NoError(t, err)
	assert.Equal(t, "txn-42", txID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSale_RaisedExceptionIsPermanent(t *testing.T) {
	r, mock := newTestRemote(t)

	mock.ExpectQuery(`create_sale\(`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "P0001", Message: "unknown product p1"})

	_, err := r.CreateSale(context.Background(), sampleSale(), true)
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
	assert.Contains(t, err.Error(), "unknown product p1")
}

func TestCreateSale_ConnectionErrorIsTransient(t *testing.T) {
	r, mock := newTestRemote(t)

	mock.ExpectQuery(`create_sale\(`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"))

	_, err := r.CreateSale(context.Background(), sampleSale(), true)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.False(t, apperrors.IsPermanent(err))
}

func TestCreateSale_SerializationFailureIsTransient(t *testing.T) {
	r, mock := newTestRemote(t)

	mock.ExpectQuery(`create_sale\(`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	_, err := r.CreateSale(context.Background(), sampleSale(), true)
	assert.True(t, apperrors.IsTransient(err))
}

// ---------------------------------------------------------------------------
// UpdateStock
// ---------------------------------------------------------------------------

func TestUpdateStock(t *testing.T) {
	r, mock := newTestRemote(t)
	upd := domain.StockUpdate{ID: "u1", ProductID: "p1", StoreID: "store-1", Delta: -3, Reason: domain.AdjustmentDamage}

	mock.ExpectQuery(`update_stock\(`).
		WithArgs(upd.ID, upd.ProductID, upd.StoreID, upd.Delta, upd.Reason).
		WillReturnRows(pgxmock.NewRows([]string{"update_stock"}).AddRow(false))

	ok, err := r.UpdateStock(context.Background(), upd)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStockBatch_PerItemResults(t *testing.T) {
	r, mock := newTestRemote(t)
	updates := []domain.StockUpdate{
		{ID: "u1", ProductID: "p1", Delta: 5},
		{ID: "u2", ProductID: "p1", Delta: -50},
		{ID: "u3", ProductID: "ghost", Delta: 1},
	}

	mock.ExpectQuery(`update_stock\(`).WithArgs("u1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"update_stock"}).AddRow(true))
	mock.ExpectQuery(`update_stock\(`).WithArgs("u2", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"update_stock"}).AddRow(false))
	mock.ExpectQuery(`update_stock\(`).WithArgs("u3", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "product not found"})

	results, err := r.UpdateStockBatch(context.Background(), updates)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Equal(t, "stock would go negative", results[1].Error)
	assert.False(t, results[2].OK)
	assert.Contains(t, results[2].Error, "product not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStockBatch_AbortsOnConnectionLoss(t *testing.T) {
	r, mock := newTestRemote(t)

	mock.ExpectQuery(`update_stock\(`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("failed to connect to host"))

	_, err := r.UpdateStockBatch(context.Background(), []domain.StockUpdate{{ID: "u1"}, {ID: "u2"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func TestCreateProductsBatch(t *testing.T) {
	r, mock := newTestRemote(t)
	products := []domain.Product{
		{ID: "p1", StoreID: "store-1", Name: "Soap", SKU: "SOAP-1", UnitPrice: 1160, VATRate: 1600, Quantity: 10},
		{ID: "p2", StoreID: "store-1", Name: "", SKU: "X"},
	}

	mock.ExpectExec(`upsert_product\(`).
		WithArgs("p1", "store-1", "Soap", "SOAP-1", int64(1160), 1600, 10).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`upsert_product\(`).
		WithArgs("p2", "store-1", "", "X", int64(0), 0, 0).
		WillReturnError(&pgconn.PgError{Code: "23502", Message: "null value in column \"name\""})

	results, err := r.CreateProductsBatch(context.Background(), products)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProducts(t *testing.T) {
	r, mock := newTestRemote(t)
	updated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`list_products\(`).
		WithArgs("store-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "store_id", "name", "sku", "unit_price", "vat_rate", "quantity", "updated_at"}).
			AddRow("p1", "store-1", "Soap", "SOAP-1", int64(1160), 1600, 7, updated).
			AddRow("p2", "store-1", "Salt", "SALT-1", int64(50), 0, 0, updated))

	products, err := r.ListProducts(context.Background(), "store-1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, 7, products[0].Quantity)
	assert.True(t, products[0].Synced)
	assert.Equal(t, updated, products[1].UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	r := New(mock, slog.New(slog.DiscardHandler))
	mock.ExpectPing().WillReturnError(errors.New("connection reset by peer"))

	err = r.Ping(context.Background())
	assert.True(t, apperrors.IsTransient(err))
}
