package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"go.uber.org/zap"
)

// InboundEmailRepository persists inbound email records
type InboundEmailRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInboundEmailRepository creates a new inbound email repository
func NewInboundEmailRepository(db *sql.DB, logger *zap.Logger) *InboundEmailRepository {
	return &InboundEmailRepository{db: db, logger: logger}
}

func (r *InboundEmailRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFrom(ctx, r.db)
}

// Create inserts a new inbound email record. The (tenant_id, message_id)
// unique constraint is the idempotency backstop for concurrent submissions.
func (r *InboundEmailRepository) Create(ctx context.Context, email *entity.InboundEmail) error {
	query := `
		INSERT INTO inbound_emails (
			id, tenant_id, from_email, to_email, subject, message_id,
			received_at, attachment_count, receipt_count, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.exec(ctx).ExecContext(ctx, query,
		email.ID,
		email.TenantID,
		email.FromEmail,
		email.ToEmail,
		email.Subject,
		email.MessageID,
		email.ReceivedAt,
		email.AttachmentCount,
		email.ReceiptCount,
		email.Status,
	); err != nil {
		r.logger.Error("Failed to create inbound email",
			zap.String("message_id", email.MessageID),
			zap.Error(err))
		return fmt.Errorf("failed to create inbound email: %w", err)
	}
	return nil
}

// GetByMessageID returns the prior record for a message in the tenant, or nil.
func (r *InboundEmailRepository) GetByMessageID(ctx context.Context, tenantID int64, messageID string) (*entity.InboundEmail, error) {
	query := `
		SELECT id, tenant_id, from_email, to_email, subject, message_id,
			received_at, attachment_count, receipt_count, status, created_at
		FROM inbound_emails
		WHERE tenant_id = ? AND message_id = ?
	`
	var email entity.InboundEmail
	err := r.exec(ctx).QueryRowContext(ctx, query, tenantID, messageID).Scan(
		&email.ID,
		&email.TenantID,
		&email.FromEmail,
		&email.ToEmail,
		&email.Subject,
		&email.MessageID,
		&email.ReceivedAt,
		&email.AttachmentCount,
		&email.ReceiptCount,
		&email.Status,
		&email.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inbound email: %w", err)
	}
	return &email, nil
}

// Finalize records the aggregate outcome after all attachments resolve.
func (r *InboundEmailRepository) Finalize(ctx context.Context, id, status string, receiptCount int) error {
	query := `UPDATE inbound_emails SET status = ?, receipt_count = ? WHERE id = ?`
	if _, err := r.exec(ctx).ExecContext(ctx, query, status, receiptCount, id); err != nil {
		return fmt.Errorf("failed to finalize inbound email: %w", err)
	}
	return nil
}
