// Package service implements the till's local operations. Every write
// commits locally first; the sync engine delivers it later.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
	"github.com/Kellyhimself/POS-sub002/pkg/pagination"
	"github.com/Kellyhimself/POS-sub002/pkg/validator"
)

// Store is the local persistence the service writes through.
type Store interface {
	RecordSale(ctx context.Context, sale domain.Sale, invoice *domain.Invoice) error
	RecordStockAdjustment(ctx context.Context, upd domain.StockUpdate) (*domain.Product, error)
	UpsertProduct(ctx context.Context, p domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, storeID string, limit, offset int) ([]domain.Product, int, error)
	Enqueue(ctx context.Context, item domain.QueueItem) (bool, error)
	Get(ctx context.Context, d domain.Domain, id string) (*domain.QueueItem, error)
	ListFailed(ctx context.Context, d domain.Domain, limit, offset int) ([]domain.QueueItem, int, error)
	RetryFailed(ctx context.Context, d domain.Domain, id string) error
}

// Syncer is the part of the sync engine the service pokes after a write.
type Syncer interface {
	Trigger(d domain.Domain) error
	Refresh(ctx context.Context, d domain.Domain) error
}

// ModeSource reports whether the device is online.
type ModeSource interface {
	IsOnline() bool
}

// POSService implements sales, stock, catalog and invoice operations.
type POSService struct {
	store   Store
	syncer  Syncer
	mode    ModeSource
	storeID string
	logger  *slog.Logger
	now     func() time.Time
}

// NewPOSService creates a POSService for storeID.
func NewPOSService(store Store, syncer Syncer, mode ModeSource, storeID string, logger *slog.Logger) *POSService {
	return &POSService{
		store:   store,
		syncer:  syncer,
		mode:    mode,
		storeID: storeID,
		logger:  logger,
		now:     time.Now,
	}
}

// SaleLineInput is one product on a sale.
type SaleLineInput struct {
	ProductID string `json:"id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// InvoiceInput requests a fiscal invoice for a sale.
type InvoiceInput struct {
	Number   string          `json:"invoice_number"`
	Customer domain.Customer `json:"customer"`
}

// RecordSaleInput is a sale as rung up at the till. Prices come from the
// local catalog, never from the client.
type RecordSaleInput struct {
	ID            string          `json:"id"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=cash card mpesa"`
	Lines         []SaleLineInput `json:"products" validate:"required,min=1,dive"`
	Invoice       *InvoiceInput   `json:"invoice"`
}

// RecordSale prices and commits a sale, its stock decrements and, when
// asked, its fiscal invoice in one local transaction.
func (s *POSService) RecordSale(ctx context.Context, userID string, in RecordSaleInput) (*domain.Sale, *domain.Invoice, error) {
	if err := validator.Validate(in); err != nil {
		return nil, nil, err
	}

	merged := make([]SaleLineInput, 0, len(in.Lines))
	pos := make(map[string]int, len(in.Lines))
	ids := make([]string, 0, len(in.Lines))
	for _, l := range in.Lines {
		if i, ok := pos[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		pos[l.ProductID] = len(merged)
		merged = append(merged, l)
		ids = append(ids, l.ProductID)
	}

	products, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load sale products: %w", err)
	}

	sale := domain.Sale{
		ID:            in.ID,
		StoreID:       s.storeID,
		UserID:        userID,
		PaymentMethod: in.PaymentMethod,
		CreatedAt:     s.now().UTC(),
	}
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	for _, l := range merged {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, nil, apperrors.NotFound("product", l.ProductID)
		}
		gross := p.UnitPrice * int64(l.Quantity)
		vat := domain.InclusiveVAT(gross, p.VATRate)
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ProductID: p.ID,
			Quantity:  l.Quantity,
			UnitPrice: p.UnitPrice,
			VATAmount: vat,
		})
		sale.TotalAmount += gross
		sale.VATTotal += vat
	}

	var invoice *domain.Invoice
	if in.Invoice != nil {
		number := in.Invoice.Number
		if number == "" {
			number = "INV-" + sale.ID
		}
		inv := domain.InvoiceForSale(number, sale, in.Invoice.Customer, products)
		invoice = &inv
	}

	if err := s.store.RecordSale(ctx, sale, invoice); err != nil {
		return nil, nil, fmt.Errorf("record sale: %w", err)
	}

	s.logger.InfoContext(ctx, "sale recorded",
		slog.String("sale_id", sale.ID),
		slog.Int64("total_amount", sale.TotalAmount),
		slog.Int("lines", len(sale.Lines)),
		slog.Bool("invoice", invoice != nil),
	)
	s.afterWrite(ctx, domain.DomainSales)
	if invoice != nil {
		s.afterWrite(ctx, domain.DomainTax)
	}
	return &sale, invoice, nil
}

// AdjustStockInput is a manual stock movement.
type AdjustStockInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Delta     int    `json:"quantity_change" validate:"ne=0"`
	Reason    string `json:"reason" validate:"required,oneof=restock damage correction return"`
}

// AdjustStock applies a stock movement locally and queues it.
func (s *POSService) AdjustStock(ctx context.Context, in AdjustStockInput) (*domain.Product, error) {
	if err := validator.Validate(in); err != nil {
		return nil, err
	}

	upd := domain.StockUpdate{
		ID:        uuid.NewString(),
		ProductID: in.ProductID,
		StoreID:   s.storeID,
		Delta:     in.Delta,
		Reason:    in.Reason,
		CreatedAt: s.now().UTC(),
	}
	product, err := s.store.RecordStockAdjustment(ctx, upd)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	s.logger.InfoContext(ctx, "stock adjusted",
		slog.String("product_id", product.ID),
		slog.Int("delta", in.Delta),
		slog.String("reason", in.Reason),
		slog.Int("quantity", product.Quantity),
	)
	s.afterWrite(ctx, domain.DomainStock)
	return product, nil
}

// ProductInput creates or edits a catalog entry. Prices are VAT-inclusive
// minor units; VATRate is in basis points.
type ProductInput struct {
	ID        string `json:"id"`
	Name      string `json:"name" validate:"required,max=200"`
	SKU       string `json:"sku" validate:"max=64"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
	VATRate   int    `json:"vat_rate" validate:"gte=0,lte=10000"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

// UpsertProduct writes a catalog entry and queues it for the remote.
// Quantity only seeds new products.
func (s *POSService) UpsertProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if err := validator.Validate(in); err != nil {
		return nil, err
	}
	p := domain.Product{
		ID:        in.ID,
		StoreID:   s.storeID,
		Name:      in.Name,
		SKU:       in.SKU,
		UnitPrice: in.UnitPrice,
		VATRate:   in.VATRate,
		Quantity:  in.Quantity,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	product, err := s.store.UpsertProduct(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("upsert product: %w", err)
	}
	s.afterWrite(ctx, domain.DomainProducts)
	return product, nil
}

// GetProduct returns one product.
func (s *POSService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// ListProducts returns one page of the local catalog.
func (s *POSService) ListProducts(ctx context.Context, params pagination.Params) ([]domain.Product, int, error) {
	products, total, err := s.store.ListProducts(ctx, s.storeID, params.PerPage, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

// SubmitInvoice queues a standalone fiscal invoice. A number already queued
// is not queued again; the result reports whether this call queued it.
func (s *POSService) SubmitInvoice(ctx context.Context, inv domain.Invoice) (bool, error) {
	if inv.Number == "" {
		return false, apperrors.InvalidInput("invoice_number is required")
	}
	if len(inv.Lines) == 0 {
		return false, apperrors.InvalidInput("invoice requires at least one item")
	}
	inv.StoreID = s.storeID
	if inv.Date.IsZero() {
		inv.Date = s.now().UTC()
	}
	if inv.Total == 0 {
		for _, l := range inv.Lines {
			inv.Total += l.Total
			inv.VATTotal += l.VATAmount
		}
		inv.Subtotal = inv.Total - inv.VATTotal
	}

	item, err := domain.NewQueueItem(domain.DomainTax, inv.Number, s.storeID, inv)
	if err != nil {
		return false, apperrors.InvalidInput(fmt.Sprintf("encode invoice: %v", err))
	}
	item.CreatedAt = s.now().UTC()

	queued, err := s.store.Enqueue(ctx, item)
	if err != nil {
		return false, fmt.Errorf("queue invoice: %w", err)
	}
	if !queued {
		s.logger.InfoContext(ctx, "duplicate invoice ignored", slog.String("invoice_number", inv.Number))
		return false, nil
	}
	s.afterWrite(ctx, domain.DomainTax)
	return true, nil
}

// GetQueueItem returns one queue item.
func (s *POSService) GetQueueItem(ctx context.Context, d domain.Domain, id string) (*domain.QueueItem, error) {
	return s.store.Get(ctx, d, id)
}

// ListFailed returns one page of d's rejected items.
func (s *POSService) ListFailed(ctx context.Context, d domain.Domain, params pagination.Params) ([]domain.QueueItem, int, error) {
	items, total, err := s.store.ListFailed(ctx, d, params.PerPage, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list failed %s items: %w", d, err)
	}
	return items, total, nil
}

// RetryFailed returns a rejected item to the queue.
func (s *POSService) RetryFailed(ctx context.Context, d domain.Domain, id string) error {
	if err := s.store.RetryFailed(ctx, d, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "failed item requeued",
		slog.String("domain", string(d)),
		slog.String("item_id", id),
	)
	s.afterWrite(ctx, d)
	return nil
}

// afterWrite refreshes d's queue counts and, when online, asks for a cycle.
func (s *POSService) afterWrite(ctx context.Context, d domain.Domain) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.Refresh(ctx, d); err != nil {
		s.logger.WarnContext(ctx, "failed to refresh sync status",
			slog.String("domain", string(d)),
			slog.String("error", err.Error()),
		)
	}
	if s.mode.IsOnline() {
		_ = s.syncer.Trigger(d)
	}
}
