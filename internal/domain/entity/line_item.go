package entity

import "time"

// LineItem is a single purchased item belonging to exactly one receipt.
// An item with IsSplitOriginal set has been logically replaced by its
// children and is excluded from all aggregate sums; an item with a non-nil
// ParentItemID is a split child and can never be split again.
type LineItem struct {
	ID              int64     `json:"id"`
	ReceiptID       int64     `json:"receipt_id"`
	TenantID        int64     `json:"tenant_id"`
	Name            string    `json:"name"`
	Quantity        float64   `json:"quantity"`
	UnitPriceCents  *int64    `json:"unit_price_cents,omitempty"`
	TotalCents      int64     `json:"total_cents"`
	TaxCents        *int64    `json:"tax_cents,omitempty"`
	Classification  string    `json:"classification"`
	Category        string    `json:"category"`
	TaxCategory     string    `json:"tax_category"`
	Project         string    `json:"project"`
	Confidence      float64   `json:"confidence"`
	ParentItemID    *int64    `json:"parent_item_id,omitempty"`
	SplitRatio      *float64  `json:"split_ratio,omitempty"`
	IsSplitOriginal bool      `json:"is_split_original"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
