package entity

import "time"

// Receipt represents one submitted receipt image and its extracted data.
// All monetary fields are integer minor-currency units (cents).
type Receipt struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"tenant_id"`
	TenantUserID   int64      `json:"tenant_user_id"`
	InboundEmailID *string    `json:"inbound_email_id,omitempty"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	StorageKey     string     `json:"storage_key"`
	FileType       string     `json:"file_type"`
	Merchant       string     `json:"merchant"`
	MerchantAddr   string     `json:"merchant_address"`
	PurchaseDate   *time.Time `json:"purchase_date"`
	TotalCents     *int64     `json:"total_cents"`
	SubtotalCents  *int64     `json:"subtotal_cents"`
	TaxCents       *int64     `json:"tax_cents"`
	PaymentMethod  string     `json:"payment_method"`
	Confidence     float64    `json:"confidence"`
	Fingerprint    *string    `json:"fingerprint,omitempty"`
	DuplicateOf    *int64     `json:"duplicate_of,omitempty"`
	NeedsReview    bool       `json:"needs_review"`
	ExtractedAt    *time.Time `json:"extracted_at,omitempty"`

	HasBusinessItems     bool `json:"has_business_items"`
	HasPersonalItems     bool `json:"has_personal_items"`
	HasUnclassifiedItems bool `json:"has_unclassified_items"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Extracted reports whether an extraction result has been persisted for
// this receipt. Individual fields may still be empty when the provider
// could not read them off the image.
func (r *Receipt) Extracted() bool {
	return r.ExtractedAt != nil
}
