package entity

// Receipt lifecycle status constants
const (
	ReceiptStatusPending    = "pending"
	ReceiptStatusProcessing = "processing"
	ReceiptStatusInReview   = "in_review"
	ReceiptStatusComplete   = "complete"
	ReceiptStatusExported   = "exported"
	ReceiptStatusArchived   = "archived"
)

// Line item classification constants
const (
	ClassificationBusiness     = "business"
	ClassificationPersonal     = "personal"
	ClassificationUnclassified = "unclassified"
)

// Classification rule match type constants
const (
	RuleMatchMerchant         = "merchant"
	RuleMatchMerchantContains = "merchant_contains"
	RuleMatchKeyword          = "keyword"
)

// Inbound email aggregate status constants
const (
	EmailStatusProcessing = "processing"
	EmailStatusProcessed  = "processed"
	EmailStatusPartial    = "partial"
	EmailStatusFailed     = "failed"
	EmailStatusBounced    = "bounced"
)

// Tax allocation method constants for splits
const (
	TaxAllocationProrated = "prorated"
	TaxAllocationManual   = "manual"
)

// Receipt submission source constants
const (
	SourceUpload = "upload"
	SourceEmail  = "email"
)
