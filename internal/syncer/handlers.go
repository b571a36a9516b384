package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/ratelimit"
	"github.com/Kellyhimself/POS-sub002/internal/remote"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Gate is the admission and retry wrapper around outbound calls.
type Gate interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

var _ Gate = (*ratelimit.Gate)(nil)

// InvoiceSender posts one fiscal invoice.
type InvoiceSender interface {
	Send(ctx context.Context, inv domain.Invoice) (json.RawMessage, error)
}

// ProductStore is the local side of product reconciliation.
type ProductStore interface {
	ImportProduct(ctx context.Context, p domain.Product) (bool, error)
	ApplyRemoteQuantity(ctx context.Context, productID string, remoteQty int) (int, error)
}

func undecodable(item domain.QueueItem, err error) domain.Outcome {
	return domain.Failed{Reason: fmt.Sprintf("undecodable %s payload: %v", item.Domain, err)}
}

// ============================================================================
// Sales
// ============================================================================

// SalesHandler replays sales captured offline through create_sale.
type SalesHandler struct {
	remote remote.SystemOfRecord
	gate   Gate
	key    string
}

// NewSalesHandler creates a SalesHandler whose calls pass through gate
// under key.
func NewSalesHandler(r remote.SystemOfRecord, gate Gate, key string) *SalesHandler {
	return &SalesHandler{remote: r, gate: gate, key: key}
}

func (h *SalesHandler) Domain() domain.Domain { return domain.DomainSales }

func (h *SalesHandler) Sync(ctx context.Context, item domain.QueueItem) domain.Outcome {
	var sale domain.Sale
	if err := item.Decode(&sale); err != nil {
		return undecodable(item, err)
	}

	var txID string
	err := h.gate.Do(ctx, h.key, func(ctx context.Context) error {
		var err error
		txID, err = h.remote.CreateSale(ctx, sale, true)
		return err
	})
	if err != nil {
		return domain.OutcomeFromError(nil, err)
	}
	resp, _ := json.Marshal(map[string]string{"transaction_id": txID})
	return domain.Success{Response: resp}
}

// ============================================================================
// Stock
// ============================================================================

const negativeStockReason = "remote rejected update: stock would go negative"

// StockHandler pushes stock adjustments through update_stock, or
// update_stock_batch when batchSize is positive.
type StockHandler struct {
	remote    remote.SystemOfRecord
	gate      Gate
	key       string
	batchSize int
}

// NewStockHandler creates a StockHandler.
func NewStockHandler(r remote.SystemOfRecord, gate Gate, key string, batchSize int) *StockHandler {
	return &StockHandler{remote: r, gate: gate, key: key, batchSize: batchSize}
}

func (h *StockHandler) Domain() domain.Domain { return domain.DomainStock }

func (h *StockHandler) BatchSize() int { return h.batchSize }

func (h *StockHandler) Sync(ctx context.Context, item domain.QueueItem) domain.Outcome {
	var upd domain.StockUpdate
	if err := item.Decode(&upd); err != nil {
		return undecodable(item, err)
	}

	var applied bool
	err := h.gate.Do(ctx, h.key, func(ctx context.Context) error {
		var err error
		applied, err = h.remote.UpdateStock(ctx, upd)
		return err
	})
	switch {
	case err != nil:
		return domain.OutcomeFromError(nil, err)
	case !applied:
		return domain.Failed{Reason: negativeStockReason}
	}
	return domain.Success{Response: json.RawMessage(`{"applied":true}`)}
}

func (h *StockHandler) SyncBatch(ctx context.Context, items []domain.QueueItem) []domain.Outcome {
	outcomes := make([]domain.Outcome, len(items))
	updates := make([]domain.StockUpdate, 0, len(items))
	index := make(map[string]int, len(items))
	for i, it := range items {
		var upd domain.StockUpdate
		if err := it.Decode(&upd); err != nil {
			outcomes[i] = undecodable(it, err)
			continue
		}
		index[upd.ID] = i
		updates = append(updates, upd)
	}
	if len(updates) == 0 {
		return outcomes
	}

	var results []remote.BatchResult
	err := h.gate.Do(ctx, h.key, func(ctx context.Context) error {
		var err error
		results, err = h.remote.UpdateStockBatch(ctx, updates)
		return err
	})
	fillBatch(outcomes, index, results, err, func(r remote.BatchResult) domain.Outcome {
		if r.Error == "" {
			return domain.Failed{Reason: negativeStockReason}
		}
		return domain.Failed{Reason: r.Error}
	})
	return outcomes
}

// ============================================================================
// Products
// ============================================================================

// ProductsHandler uploads catalog changes in batches and then pulls the
// remote catalog so quantities changed by other tills reach this one.
type ProductsHandler struct {
	remote    remote.SystemOfRecord
	gate      Gate
	key       string
	batchSize int
	local     ProductStore
	logger    *slog.Logger
}

// NewProductsHandler creates a ProductsHandler. A nil local store disables
// reconciliation.
func NewProductsHandler(r remote.SystemOfRecord, gate Gate, key string, batchSize int, local ProductStore, logger *slog.Logger) *ProductsHandler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ProductsHandler{remote: r, gate: gate, key: key, batchSize: batchSize, local: local, logger: logger}
}

func (h *ProductsHandler) Domain() domain.Domain { return domain.DomainProducts }

func (h *ProductsHandler) BatchSize() int { return h.batchSize }

func (h *ProductsHandler) Sync(ctx context.Context, item domain.QueueItem) domain.Outcome {
	return h.SyncBatch(ctx, []domain.QueueItem{item})[0]
}

func (h *ProductsHandler) SyncBatch(ctx context.Context, items []domain.QueueItem) []domain.Outcome {
	outcomes := make([]domain.Outcome, len(items))
	products := make([]domain.Product, 0, len(items))
	index := make(map[string]int, len(items))
	for i, it := range items {
		var p domain.Product
		if err := it.Decode(&p); err != nil {
			outcomes[i] = undecodable(it, err)
			continue
		}
		index[p.ID] = i
		products = append(products, p)
	}
	if len(products) == 0 {
		return outcomes
	}

	var results []remote.BatchResult
	err := h.gate.Do(ctx, h.key, func(ctx context.Context) error {
		var err error
		results, err = h.remote.CreateProductsBatch(ctx, products)
		return err
	})
	fillBatch(outcomes, index, results, err, func(r remote.BatchResult) domain.Outcome {
		return domain.Failed{Reason: "remote rejected product: " + r.Error}
	})
	return outcomes
}

// Reconcile imports products the device has never seen and rebases every
// local quantity on the remote one plus deltas still waiting to sync.
func (h *ProductsHandler) Reconcile(ctx context.Context, storeID string) error {
	if h.local == nil {
		return nil
	}

	var products []domain.Product
	err := h.gate.Do(ctx, h.key, func(ctx context.Context) error {
		var err error
		products, err = h.remote.ListProducts(ctx, storeID)
		return err
	})
	if err != nil {
		return fmt.Errorf("list remote products: %w", err)
	}

	imported := 0
	for _, p := range products {
		created, err := h.local.ImportProduct(ctx, p)
		if err != nil {
			return err
		}
		if created {
			imported++
			continue
		}
		if _, err := h.local.ApplyRemoteQuantity(ctx, p.ID, p.Quantity); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	h.logger.DebugContext(ctx, "reconciled products",
		slog.Int("remote", len(products)),
		slog.Int("imported", imported),
	)
	return nil
}

// ============================================================================
// Tax
// ============================================================================

// TaxHandler submits queued fiscal invoices to the tax gateway.
type TaxHandler struct {
	sender InvoiceSender
	gate   Gate
	key    string
}

// NewTaxHandler creates a TaxHandler. key should identify the store token
// so tills sharing it share one quota window.
func NewTaxHandler(sender InvoiceSender, gate Gate, key string) *TaxHandler {
	return &TaxHandler{sender: sender, gate: gate, key: key}
}

func (h *TaxHandler) Domain() domain.Domain { return domain.DomainTax }

func (h *TaxHandler) Sync(ctx context.Context, item domain.QueueItem) domain.Outcome {
	var inv domain.Invoice
	if err := item.Decode(&inv); err != nil {
		return undecodable(item, err)
	}

	var resp json.RawMessage
	err := h.gate.Do(ctx, h.key, func(ctx context.Context) error {
		var err error
		resp, err = h.sender.Send(ctx, inv)
		return err
	})
	return domain.OutcomeFromError(resp, err)
}

// fillBatch maps batch results back onto item positions. A call-level
// error applies to every item still without an outcome; items the remote
// did not report on stay pending.
func fillBatch(outcomes []domain.Outcome, index map[string]int, results []remote.BatchResult, err error, rejected func(remote.BatchResult) domain.Outcome) {
	if err != nil {
		for i := range outcomes {
			if outcomes[i] == nil {
				outcomes[i] = domain.OutcomeFromError(nil, err)
			}
		}
		return
	}
	for _, r := range results {
		i, ok := index[r.ID]
		if !ok {
			continue
		}
		if r.OK {
			resp, _ := json.Marshal(r)
			outcomes[i] = domain.Success{Response: resp}
		} else {
			outcomes[i] = rejected(r)
		}
	}
	for i := range outcomes {
		if outcomes[i] == nil {
			outcomes[i] = domain.Pending{Err: errors.New("no result in batch response")}
		}
	}
}
