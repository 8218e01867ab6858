package entity

// ExtractionResult is the validated output of one extraction call.
// It is transient: the orchestrator maps it onto Receipt and LineItem rows
// and it is never persisted as-is.
type ExtractionResult struct {
	Merchant        string      `json:"merchant"`
	MerchantAddress string      `json:"merchant_address"`
	PurchaseDate    string      `json:"purchase_date"` // YYYY-MM-DD
	TotalCents      int64       `json:"total_cents"`
	SubtotalCents   int64       `json:"subtotal_cents"`
	TaxCents        int64       `json:"tax_cents"`
	PaymentMethod   string      `json:"payment_method"`
	Items           []ItemDraft `json:"items"`
	Confidence      float64     `json:"confidence"`
	Warnings        []string    `json:"warnings"`
}

// ItemDraft is one extracted line item before persistence.
type ItemDraft struct {
	Name           string  `json:"name"`
	Quantity       float64 `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TotalCents     int64   `json:"total_cents"`
	TaxCents       int64   `json:"tax_cents"`
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
}
