package domain

import "time"

// Stock adjustment reasons.
const (
	AdjustmentRestock    = "restock"
	AdjustmentDamage     = "damage"
	AdjustmentCorrection = "correction"
	AdjustmentReturn     = "return"
)

// IsValidAdjustmentReason checks reason against the accepted reasons.
func IsValidAdjustmentReason(reason string) bool {
	switch reason {
	case AdjustmentRestock, AdjustmentDamage, AdjustmentCorrection, AdjustmentReturn:
		return true
	default:
		return false
	}
}

// StockUpdate is a manual quantity change queued for the remote. ID is the
// idempotency key.
type StockUpdate struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	StoreID   string    `json:"store_id"`
	Delta     int       `json:"quantity_change"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
