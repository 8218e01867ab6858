package entity

import "time"

// ClassificationRule is a tenant-defined auto-classification rule.
// Rules are read-only to the pipeline: the rule engine applies them to
// newly extracted items but never writes them.
type ClassificationRule struct {
	ID         int64  `json:"id"`
	TenantID   int64  `json:"tenant_id"`
	MatchType  string `json:"match_type"`
	MatchValue string `json:"match_value"`

	// Target fields. Empty string means "do not touch this field".
	SetClassification string `json:"set_classification"`
	SetCategory       string `json:"set_category"`
	SetTaxCategory    string `json:"set_tax_category"`
	SetProject        string `json:"set_project"`

	Active    bool      `json:"active"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}
