package entity

import "time"

// InboundEmail tracks one forwarded message. A single message may spawn
// zero or more receipts; MessageID is the idempotency key within a tenant.
type InboundEmail struct {
	ID              string    `json:"id"`
	TenantID        int64     `json:"tenant_id"`
	FromEmail       string    `json:"from_email"`
	ToEmail         string    `json:"to_email"`
	Subject         string    `json:"subject"`
	MessageID       string    `json:"message_id"`
	ReceivedAt      time.Time `json:"received_at"`
	AttachmentCount int       `json:"attachment_count"`
	ReceiptCount    int       `json:"receipt_count"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// EmailAttachment is one attachment of a forwarded message, already stored
// in object storage by the inbound mail collaborator.
type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	StorageKey  string `json:"storageKey"`
	SizeBytes   int64  `json:"sizeBytes"`
}
