package domain

import "time"

// Payment methods accepted at the till.
const (
	PaymentCash  = "cash"
	PaymentCard  = "card"
	PaymentMpesa = "mpesa"
)

// IsValidPaymentMethod checks m against the accepted payment methods.
func IsValidPaymentMethod(m string) bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMpesa:
		return true
	default:
		return false
	}
}

// Sale is a completed till transaction. Amounts are in minor units and
// VAT-inclusive.
type Sale struct {
	ID            string     `json:"id"`
	StoreID       string     `json:"store_id"`
	UserID        string     `json:"user_id,omitempty"`
	Lines         []SaleLine `json:"products"`
	PaymentMethod string     `json:"payment_method"`
	TotalAmount   int64      `json:"total_amount"`
	VATTotal      int64      `json:"vat_total"`
	CreatedAt     time.Time  `json:"timestamp"`
}

// SaleLine is one product on a sale.
type SaleLine struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	VATAmount int64  `json:"vat_amount"`
}

// InclusiveVAT returns the VAT contained in a VAT-inclusive gross amount at
// rate basis points, rounded half up.
func InclusiveVAT(gross int64, rateBP int) int64 {
	if rateBP <= 0 || gross <= 0 {
		return 0
	}
	den := int64(10000 + rateBP)
	return (gross*int64(rateBP) + den/2) / den
}
