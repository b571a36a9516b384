package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/remote"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// Remote is an in-process system of record. It enforces the same
// idempotency and non-negative stock rules as the server functions and is
// used in development and tests.
type Remote struct {
	mu       sync.Mutex
	products map[string]domain.Product
	sales    map[string]string // sale id -> transaction id
	updates  map[string]bool   // stock update id -> applied
	calls    map[string]int
	fail     func(op string) error
}

// New creates an empty remote.
func New() *Remote {
	return &Remote{
		products: make(map[string]domain.Product),
		sales:    make(map[string]string),
		updates:  make(map[string]bool),
		calls:    make(map[string]int),
	}
}

var _ remote.SystemOfRecord = (*Remote)(nil)

// SetFailure installs fn, consulted before every operation; a non-nil
// return fails the call without side effects.
func (r *Remote) SetFailure(fn func(op string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fn
}

// Calls returns how many times op was invoked, failures included.
func (r *Remote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Seed sets a product directly.
func (r *Remote) Seed(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

// Product returns the remote copy of a product.
func (r *Remote) Product(id string) (domain.Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	return p, ok
}

// SaleCount returns the number of distinct sales recorded.
func (r *Remote) SaleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

func (r *Remote) enter(op string) error {
	r.calls[op]++
	if r.fail != nil {
		return r.fail(op)
	}
	return nil
}

// CreateSale implements remote.SystemOfRecord.
func (r *Remote) CreateSale(_ context.Context, sale domain.Sale, _ bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("create_sale"); err != nil {
		return "", err
	}
	if sale.ID == "" || len(sale.Lines) == 0 {
		return "", apperrors.InvalidInput("sale requires an id and at least one product")
	}
	if txID, ok := r.sales[sale.ID]; ok {
		return txID, nil
	}
	for _, l := range sale.Lines {
		if _, ok := r.products[l.ProductID]; !ok {
			return "", apperrors.InvalidInput("unknown product " + l.ProductID)
		}
	}
	for _, l := range sale.Lines {
		p := r.products[l.ProductID]
		p.Quantity = max(0, p.Quantity-l.Quantity)
		r.products[l.ProductID] = p
	}
	txID := uuid.NewString()
	r.sales[sale.ID] = txID
	return txID, nil
}

// UpdateStock implements remote.SystemOfRecord.
func (r *Remote) UpdateStock(_ context.Context, upd domain.StockUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("update_stock"); err != nil {
		return false, err
	}
	return r.applyLocked(upd)
}

// UpdateStockBatch implements remote.SystemOfRecord.
func (r *Remote) UpdateStockBatch(_ context.Context, updates []domain.StockUpdate) ([]remote.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("update_stock_batch"); err != nil {
		return nil, err
	}
	results := make([]remote.BatchResult, 0, len(updates))
	for _, u := range updates {
		ok, err := r.applyLocked(u)
		res := remote.BatchResult{ID: u.ID, OK: ok}
		switch {
		case err != nil:
			res.Error = err.Error()
		case !ok:
			res.Error = "stock would go negative"
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Remote) applyLocked(upd domain.StockUpdate) (bool, error) {
	if r.updates[upd.ID] {
		return true, nil
	}
	p, ok := r.products[upd.ProductID]
	if !ok {
		return false, apperrors.InvalidInput("unknown product " + upd.ProductID)
	}
	if p.Quantity+upd.Delta < 0 {
		return false, nil
	}
	p.Quantity += upd.Delta
	r.products[upd.ProductID] = p
	r.updates[upd.ID] = true
	return true, nil
}

// CreateProductsBatch implements remote.SystemOfRecord. Quantity is taken
// only for products the remote has not seen.
func (r *Remote) CreateProductsBatch(_ context.Context, products []domain.Product) ([]remote.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("upsert_product"); err != nil {
		return nil, err
	}
	results := make([]remote.BatchResult, 0, len(products))
	for _, p := range products {
		if p.ID == "" || p.Name == "" {
			results = append(results, remote.BatchResult{ID: p.ID, Error: "product requires id and name"})
			continue
		}
		if existing, ok := r.products[p.ID]; ok {
			p.Quantity = existing.Quantity
		}
		p.Synced = true
		r.products[p.ID] = p
		results = append(results, remote.BatchResult{ID: p.ID, OK: true})
	}
	return results, nil
}

// ListProducts implements remote.SystemOfRecord.
func (r *Remote) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("list_products"); err != nil {
		return nil, err
	}
	var out []domain.Product
	for _, p := range r.products {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ping implements remote.SystemOfRecord.
func (r *Remote) Ping(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enter("ping")
}
