package domain

import "time"

// Product is the locally cached catalog entry. Quantity is authoritative
// locally and reconciled against the remote during sync.
type Product struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	UnitPrice int64     `json:"unit_price"`
	VATRate   int       `json:"vat_rate"`
	Quantity  int       `json:"quantity"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockDelta is the effect of one queued mutation on one product.
type StockDelta struct {
	ItemDomain Domain `json:"item_domain"`
	ItemID     string `json:"item_id"`
	ProductID  string `json:"product_id"`
	Delta      int    `json:"delta"`
}
