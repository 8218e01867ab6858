package entity

// SplitPlan is the transient input to the split engine.
type SplitPlan struct {
	ItemID        int64      `json:"item_id"`
	TenantID      int64      `json:"tenant_id"`
	Rows          []SplitRow `json:"rows"`
	TaxAllocation string     `json:"tax_allocation"` // prorated | manual
}

// SplitRow describes one child item to create. TaxCents is only consulted
// when the plan's allocation method is manual.
type SplitRow struct {
	AmountCents    int64  `json:"amount_cents"`
	Classification string `json:"classification"`
	TaxCents       *int64 `json:"tax_cents,omitempty"`
	Project        string `json:"project"`
}
