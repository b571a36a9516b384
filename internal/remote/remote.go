package remote

import (
	"context"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
)

// SystemOfRecord is the remote authority the sync engine drains into.
// Every call must be safe to repeat with the same idempotency key: a
// replayed sale id, stock update id or product id must not apply twice.
type SystemOfRecord interface {
	// CreateSale records sale and decrements remote stock. isSyncReplay
	// marks a sale captured offline. A sale id seen before returns the
	// original transaction id.
	CreateSale(ctx context.Context, sale domain.Sale, isSyncReplay bool) (string, error)

	// UpdateStock applies upd. It returns false, without applying, when
	// the resulting quantity would be negative.
	UpdateStock(ctx context.Context, upd domain.StockUpdate) (bool, error)

	// CreateProductsBatch upserts products, one result per input.
	CreateProductsBatch(ctx context.Context, products []domain.Product) ([]BatchResult, error)

	// UpdateStockBatch applies updates, one result per input.
	UpdateStockBatch(ctx context.Context, updates []domain.StockUpdate) ([]BatchResult, error)

	// ListProducts returns the remote catalog and quantities for storeID.
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)

	// Ping checks reachability.
	Ping(ctx context.Context) error
}

// BatchResult reports one element of a batch call.
type BatchResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
