package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

func seeded() *Remote {
	r := New()
	r.Seed(domain.Product{ID: "p1", StoreID: "store-1", Name: "Soap", Quantity: 10})
	return r
}

func TestCreateSale_Idempotent(t *testing.T) {
	r := seeded()
	ctx := context.Background()
	sale := domain.Sale{ID: "sale-1", StoreID: "store-1", Lines: []domain.SaleLine{{ProductID: "p1", Quantity: 2}}}

	tx1, err := r.CreateSale(ctx, sale, true)
	require.NoError(t, err)
	tx2, err := r.CreateSale(ctx, sale, true)
	require.NoError(t, err)

	assert.Equal(t, tx1, tx2)
	assert.Equal(t, 1, r.SaleCount())
	assert.Equal(t, 2, r.Calls("create_sale"))
	p, _ := r.Product("p1")
	assert.Equal(t, 8, p.Quantity)
}

func TestCreateSale_Validation(t *testing.T) {
	r := seeded()
	_, err := r.CreateSale(context.Background(), domain.Sale{ID: "s", Lines: []domain.SaleLine{{ProductID: "ghost", Quantity: 1}}}, true)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = r.CreateSale(context.Background(), domain.Sale{ID: "s"}, true)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpdateStock_RejectsNegativeAndDedups(t *testing.T) {
	r := seeded()
	ctx := context.Background()

	ok, err := r.UpdateStock(ctx, domain.StockUpdate{ID: "u1", ProductID: "p1", Delta: -11})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.UpdateStock(ctx, domain.StockUpdate{ID: "u2", ProductID: "p1", Delta: -4})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.UpdateStock(ctx, domain.StockUpdate{ID: "u2", ProductID: "p1", Delta: -4})
	require.NoError(t, err)
	assert.True(t, ok)

	p, _ := r.Product("p1")
	assert.Equal(t, 6, p.Quantity)
}

func TestBatches(t *testing.T) {
	r := seeded()
	ctx := context.Background()

	res, err := r.UpdateStockBatch(ctx, []domain.StockUpdate{
		{ID: "u1", ProductID: "p1", Delta: 5},
		{ID: "u2", ProductID: "p1", Delta: -100},
		{ID: "u3", ProductID: "ghost", Delta: 1},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.True(t, res[0].OK)
	assert.False(t, res[1].OK)
	assert.False(t, res[2].OK)
	assert.NotEmpty(t, res[2].Error)

	pres, err := r.CreateProductsBatch(ctx, []domain.Product{
		{ID: "p1", StoreID: "store-1", Name: "Soap Bar", Quantity: 999},
		{ID: "p2", StoreID: "store-1", Name: "Salt", Quantity: 4},
		{ID: "p3"},
	})
	require.NoError(t, err)
	assert.True(t, pres[0].OK)
	assert.True(t, pres[1].OK)
	assert.False(t, pres[2].OK)

	list, err := r.ListProducts(ctx, "store-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Soap Bar", list[0].Name)
	assert.Equal(t, 15, list[0].Quantity, "existing quantity kept")
	assert.Equal(t, 4, list[1].Quantity)
}

func TestSetFailure(t *testing.T) {
	r := seeded()
	boom := errors.New("connection refused")
	r.SetFailure(func(op string) error {
		if op == "create_sale" {
			return boom
		}
		return nil
	})

	_, err := r.CreateSale(context.Background(), domain.Sale{ID: "s1", Lines: []domain.SaleLine{{ProductID: "p1", Quantity: 1}}}, true)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.SaleCount())
	assert.NoError(t, r.Ping(context.Background()))
}
