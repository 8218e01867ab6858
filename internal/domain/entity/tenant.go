package entity

import "time"

// Tenant is the workspace scope isolating receipts, rules and quotas.
type Tenant struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	EmailAlias   string    `json:"email_alias"`
	Plan         string    `json:"plan"`
	MonthlyQuota int       `json:"monthly_quota"` // receipts per calendar month, 0 = unlimited
	CreatedAt    time.Time `json:"created_at"`
}

// Warranty is a durable-good warranty record derived from an extracted item.
type Warranty struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	ReceiptID int64     `json:"receipt_id"`
	ItemID    int64     `json:"item_id"`
	ItemName  string    `json:"item_name"`
	Merchant  string    `json:"merchant"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
