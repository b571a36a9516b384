package domain

import "time"

// Invoice is a fiscal invoice bound for the tax gateway. Number is unique
// per store and is the idempotency key.
type Invoice struct {
	Number   string        `json:"invoice_number"`
	StoreID  string        `json:"store_id"`
	SaleID   string        `json:"sale_id,omitempty"`
	Date     time.Time     `json:"date"`
	Customer Customer      `json:"customer"`
	Lines    []InvoiceLine `json:"items"`
	Subtotal int64         `json:"subtotal"`
	VATTotal int64         `json:"vat_total"`
	Total    int64         `json:"total"`
}

// Customer is the buyer printed on the invoice.
type Customer struct {
	Name string `json:"name"`
	PIN  string `json:"pin,omitempty"`
}

// InvoiceLine is one billed item.
type InvoiceLine struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	VATRate     int    `json:"vat_rate"`
	VATAmount   int64  `json:"vat_amount"`
	Total       int64  `json:"total"`
}

// InvoiceForSale builds the fiscal invoice for a priced sale.
func InvoiceForSale(number string, sale Sale, customer Customer, products map[string]Product) Invoice {
	inv := Invoice{
		Number:   number,
		StoreID:  sale.StoreID,
		SaleID:   sale.ID,
		Date:     sale.CreatedAt,
		Customer: customer,
		VATTotal: sale.VATTotal,
		Total:    sale.TotalAmount,
		Subtotal: sale.TotalAmount - sale.VATTotal,
	}
	for _, l := range sale.Lines {
		p := products[l.ProductID]
		inv.Lines = append(inv.Lines, InvoiceLine{
			Description: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			VATRate:     p.VATRate,
			VATAmount:   l.VATAmount,
			Total:       l.UnitPrice * int64(l.Quantity),
		})
	}
	return inv
}
