package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/service"
	"github.com/Kellyhimself/POS-sub002/pkg/httputil"
	"github.com/Kellyhimself/POS-sub002/pkg/middleware"
	"github.com/Kellyhimself/POS-sub002/pkg/pagination"
	"github.com/Kellyhimself/POS-sub002/pkg/validator"
)

// POSHandler serves sales, stock, catalog and invoice endpoints.
type POSHandler struct {
	service *service.POSService
	logger  *slog.Logger
}

// NewPOSHandler creates a POSHandler.
func NewPOSHandler(svc *service.POSService, logger *slog.Logger) *POSHandler {
	return &POSHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// InvoiceLineRequest is one billed item of a standalone invoice.
type InvoiceLineRequest struct {
	Description string `json:"description" validate:"required,max=200"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
	UnitPrice   int64  `json:"unit_price" validate:"gte=0"`
	VATRate     int    `json:"vat_rate" validate:"gte=0,lte=10000"`
}

// SubmitInvoiceRequest is a fiscal invoice not tied to a till sale.
type SubmitInvoiceRequest struct {
	Number   string               `json:"invoice_number" validate:"required,max=64"`
	Date     *time.Time           `json:"date"`
	Customer domain.Customer      `json:"customer"`
	Lines    []InvoiceLineRequest `json:"items" validate:"required,min=1,dive"`
}

// SaleResponse is returned after a sale is recorded.
type SaleResponse struct {
	Sale    *domain.Sale    `json:"sale"`
	Invoice *domain.Invoice `json:"invoice,omitempty"`
}

// --- Handlers ---

// RecordSale handles POST /api/v1/sales
func (h *POSHandler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req service.RecordSaleInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var userID string
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		userID = p.UserID
	}

	sale, invoice, err := h.service.RecordSale(r.Context(), userID, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, SaleResponse{Sale: sale, Invoice: invoice})
}

// AdjustStock handles POST /api/v1/stock/adjustments
func (h *POSHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req service.AdjustStockInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.service.AdjustStock(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, product)
}

// ListProducts handles GET /api/v1/products
func (h *POSHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	products, total, err := h.service.ListProducts(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(products, total, params))
}

// GetProduct handles GET /api/v1/products/{id}
func (h *POSHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, product)
}

// CreateProduct handles POST /api/v1/products
func (h *POSHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req service.ProductInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.service.UpsertProduct(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, product)
}

// UpdateProduct handles PUT /api/v1/products/{id}
func (h *POSHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.service.GetProduct(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req service.ProductInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	req.ID = id

	product, err := h.service.UpsertProduct(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, product)
}

// SubmitInvoice handles POST /api/v1/invoices
func (h *POSHandler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var req SubmitInvoiceRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	inv := domain.Invoice{Number: req.Number, Customer: req.Customer}
	if req.Date != nil {
		inv.Date = req.Date.UTC()
	}
	for _, l := range req.Lines {
		total := l.UnitPrice * int64(l.Quantity)
		inv.Lines = append(inv.Lines, domain.InvoiceLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			VATRate:     l.VATRate,
			VATAmount:   domain.InclusiveVAT(total, l.VATRate),
			Total:       total,
		})
	}

	queued, err := h.service.SubmitInvoice(r.Context(), inv)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	httputil.WriteData(w, status, map[string]any{
		"invoice_number": req.Number,
		"queued":         queued,
	})
}
