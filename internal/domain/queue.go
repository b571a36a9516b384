package domain

import (
	"encoding/json"
	"time"
)

// Domain names one sync queue.
type Domain string

const (
	DomainSales    Domain = "sales"
	DomainStock    Domain = "stock"
	DomainProducts Domain = "products"
	DomainTax      Domain = "tax"
)

// Domains lists every queue in drain order for status reporting.
func Domains() []Domain {
	return []Domain{DomainSales, DomainStock, DomainProducts, DomainTax}
}

// MovesStock reports whether items of d carry stock deltas.
func (d Domain) MovesStock() bool {
	return d == DomainSales || d == DomainStock
}

// ParseDomain validates d.
func ParseDomain(d string) (Domain, bool) {
	for _, known := range Domains() {
		if string(known) == d {
			return known, true
		}
	}
	return "", false
}

// ItemStatus is the sync state of a queue item.
type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusSuccess ItemStatus = "success"
	StatusFailed  ItemStatus = "failed"
)

// QueueItem is one local mutation waiting to reach the remote.
type QueueItem struct {
	Domain         Domain          `json:"domain"`
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	Synced         bool            `json:"synced"`
	Status         ItemStatus      `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	SyncedAt       *time.Time      `json:"synced_at,omitempty"`
	// Revision increases whenever the item is rewritten before it syncs.
	Revision       int64           `json:"revision"`
}

// NewQueueItem marshals payload into a pending item keyed by id.
func NewQueueItem(d Domain, id, storeID string, payload any) (QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return QueueItem{}, err
	}
	return QueueItem{
		Domain:         d,
		ID:             id,
		StoreID:        storeID,
		IdempotencyKey: id,
		Payload:        raw,
		Status:         StatusPending,
		Revision:       1,
	}, nil
}

// Decode unmarshals the payload into dst.
func (q *QueueItem) Decode(dst any) error {
	return json.Unmarshal(q.Payload, dst)
}

// QueueCounts summarizes one domain's queue.
type QueueCounts struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Synced  int `json:"synced"`
}
