// Package repository provides the SQL persistence layer. Repositories join
// an enclosing transaction when one is present in the context.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"go.uber.org/zap"
)

// ReceiptRepository persists receipts
type ReceiptRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *sql.DB, logger *zap.Logger) *ReceiptRepository {
	return &ReceiptRepository{db: db, logger: logger}
}

func (r *ReceiptRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFrom(ctx, r.db)
}

const receiptColumns = `id, tenant_id, tenant_user_id, inbound_email_id, status, source,
	storage_key, file_type, merchant, merchant_address, purchase_date,
	total_cents, subtotal_cents, tax_cents, payment_method, confidence,
	fingerprint, duplicate_of, needs_review, extracted_at,
	has_business_items, has_personal_items, has_unclassified_items,
	created_at, updated_at`

// Create inserts a new pending receipt and assigns its ID.
func (r *ReceiptRepository) Create(ctx context.Context, receipt *entity.Receipt) error {
	query := `
		INSERT INTO receipts (tenant_id, tenant_user_id, inbound_email_id, status, source, storage_key, file_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.exec(ctx).ExecContext(ctx, query,
		receipt.TenantID,
		receipt.TenantUserID,
		receipt.InboundEmailID,
		receipt.Status,
		receipt.Source,
		receipt.StorageKey,
		receipt.FileType,
	)
	if err != nil {
		r.logger.Error("Failed to create receipt", zap.Error(err))
		return fmt.Errorf("failed to create receipt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	receipt.ID = id
	return nil
}

// GetByID retrieves a receipt by ID; returns nil when not found.
func (r *ReceiptRepository) GetByID(ctx context.Context, id int64) (*entity.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE id = ?`
	receipt, err := scanReceipt(r.exec(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get receipt", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

// UpdateStatus sets the lifecycle status.
func (r *ReceiptRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE receipts SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.exec(ctx).ExecContext(ctx, query, status, id); err != nil {
		r.logger.Error("Failed to update receipt status",
			zap.Int64("id", id),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update receipt status: %w", err)
	}
	return nil
}

// MarkForReview transitions a receipt to in_review with needs_review set.
// Every failing processing path ends here so a receipt is never left pending.
func (r *ReceiptRepository) MarkForReview(ctx context.Context, id int64) error {
	query := `
		UPDATE receipts SET status = ?, needs_review = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := r.exec(ctx).ExecContext(ctx, query, entity.ReceiptStatusInReview, id); err != nil {
		return fmt.Errorf("failed to mark receipt for review: %w", err)
	}
	return nil
}

// ApplyExtraction writes extracted fields onto the receipt and stamps
// extracted_at, the durable marker that extraction completed even when
// individual fields came back empty.
func (r *ReceiptRepository) ApplyExtraction(ctx context.Context, id int64, merchant, address string, purchaseDate *time.Time, totalCents, subtotalCents, taxCents int64, paymentMethod string, confidence float64) error {
	query := `
		UPDATE receipts SET
			merchant = ?, merchant_address = ?, purchase_date = ?,
			total_cents = ?, subtotal_cents = ?, tax_cents = ?,
			payment_method = ?, confidence = ?,
			extracted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := r.exec(ctx).ExecContext(ctx, query,
		merchant, address, purchaseDate,
		totalCents, subtotalCents, taxCents,
		paymentMethod, confidence, id,
	); err != nil {
		r.logger.Error("Failed to apply extraction", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to apply extraction: %w", err)
	}
	return nil
}

// SetFingerprint persists the duplicate-detection fingerprint.
func (r *ReceiptRepository) SetFingerprint(ctx context.Context, id int64, fingerprint string) error {
	query := `UPDATE receipts SET fingerprint = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.exec(ctx).ExecContext(ctx, query, fingerprint, id); err != nil {
		return fmt.Errorf("failed to set fingerprint: %w", err)
	}
	return nil
}

// FindByFingerprint returns the earliest other receipt in the tenant with
// the same fingerprint, or nil.
func (r *ReceiptRepository) FindByFingerprint(ctx context.Context, tenantID int64, fingerprint string, excludeID int64) (*entity.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + ` FROM receipts
		WHERE tenant_id = ? AND fingerprint = ? AND id != ?
		ORDER BY id ASC LIMIT 1
	`
	receipt, err := scanReceipt(r.exec(ctx).QueryRowContext(ctx, query, tenantID, fingerprint, excludeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find receipt by fingerprint: %w", err)
	}
	return receipt, nil
}

// MarkDuplicate flags a receipt as a duplicate of another. Advisory only:
// processing continues and the flag is user-correctable.
func (r *ReceiptRepository) MarkDuplicate(ctx context.Context, id, duplicateOf int64) error {
	query := `
		UPDATE receipts SET duplicate_of = ?, needs_review = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := r.exec(ctx).ExecContext(ctx, query, duplicateOf, id); err != nil {
		return fmt.Errorf("failed to mark duplicate: %w", err)
	}
	return nil
}

// UpdateAggregateFlags recomputes the classification aggregate flags from
// the full current non-split-original item set.
func (r *ReceiptRepository) UpdateAggregateFlags(ctx context.Context, receiptID int64) error {
	query := `
		UPDATE receipts SET
			has_business_items = EXISTS (
				SELECT 1 FROM line_items WHERE receipt_id = ? AND is_split_original = 0 AND classification = 'business'),
			has_personal_items = EXISTS (
				SELECT 1 FROM line_items WHERE receipt_id = ? AND is_split_original = 0 AND classification = 'personal'),
			has_unclassified_items = EXISTS (
				SELECT 1 FROM line_items WHERE receipt_id = ? AND is_split_original = 0 AND classification = 'unclassified'),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := r.exec(ctx).ExecContext(ctx, query, receiptID, receiptID, receiptID, receiptID); err != nil {
		r.logger.Error("Failed to update aggregate flags", zap.Int64("receipt_id", receiptID), zap.Error(err))
		return fmt.Errorf("failed to update aggregate flags: %w", err)
	}
	return nil
}

// Delete removes a receipt row. Only used to roll back a failed creation;
// processed receipts are status-transitioned, never deleted.
func (r *ReceiptRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.exec(ctx).ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	return nil
}

// CountCreatedInMonth counts receipts the tenant created in the calendar
// month containing at (UTC), for quota checks.
func (r *ReceiptRepository) CountCreatedInMonth(ctx context.Context, tenantID int64, at time.Time) (int, error) {
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	query := `SELECT COUNT(*) FROM receipts WHERE tenant_id = ? AND created_at >= ? AND created_at < ?`

	var count int
	if err := r.exec(ctx).QueryRowContext(ctx, query, tenantID, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count monthly receipts: %w", err)
	}
	return count, nil
}

// ListByInboundEmail returns the receipts spawned by one inbound email.
func (r *ReceiptRepository) ListByInboundEmail(ctx context.Context, inboundEmailID string) ([]*entity.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE inbound_email_id = ? ORDER BY id ASC`
	rows, err := r.exec(ctx).QueryContext(ctx, query, inboundEmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts by inbound email: %w", err)
	}
	defer rows.Close()
	return collectReceipts(rows)
}

// ListForExport returns non-archived receipts for a tenant in [from, to).
func (r *ReceiptRepository) ListForExport(ctx context.Context, tenantID int64, from, to time.Time) ([]*entity.Receipt, error) {
	query := `
		SELECT ` + receiptColumns + ` FROM receipts
		WHERE tenant_id = ? AND created_at >= ? AND created_at < ? AND status != ?
		ORDER BY created_at ASC
	`
	rows, err := r.exec(ctx).QueryContext(ctx, query, tenantID, from, to, entity.ReceiptStatusArchived)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts for export: %w", err)
	}
	defer rows.Close()
	return collectReceipts(rows)
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(row rowScanner) (*entity.Receipt, error) {
	var receipt entity.Receipt
	var inboundEmailID sql.NullString
	var purchaseDate sql.NullTime
	var totalCents, subtotalCents, taxCents, duplicateOf sql.NullInt64
	var fingerprint sql.NullString
	var extractedAt sql.NullTime

	err := row.Scan(
		&receipt.ID,
		&receipt.TenantID,
		&receipt.TenantUserID,
		&inboundEmailID,
		&receipt.Status,
		&receipt.Source,
		&receipt.StorageKey,
		&receipt.FileType,
		&receipt.Merchant,
		&receipt.MerchantAddr,
		&purchaseDate,
		&totalCents,
		&subtotalCents,
		&taxCents,
		&receipt.PaymentMethod,
		&receipt.Confidence,
		&fingerprint,
		&duplicateOf,
		&receipt.NeedsReview,
		&extractedAt,
		&receipt.HasBusinessItems,
		&receipt.HasPersonalItems,
		&receipt.HasUnclassifiedItems,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inboundEmailID.Valid {
		receipt.InboundEmailID = &inboundEmailID.String
	}
	if purchaseDate.Valid {
		receipt.PurchaseDate = &purchaseDate.Time
	}
	if totalCents.Valid {
		receipt.TotalCents = &totalCents.Int64
	}
	if subtotalCents.Valid {
		receipt.SubtotalCents = &subtotalCents.Int64
	}
	if taxCents.Valid {
		receipt.TaxCents = &taxCents.Int64
	}
	if fingerprint.Valid {
		receipt.Fingerprint = &fingerprint.String
	}
	if duplicateOf.Valid {
		receipt.DuplicateOf = &duplicateOf.Int64
	}
	if extractedAt.Valid {
		receipt.ExtractedAt = &extractedAt.Time
	}
	return &receipt, nil
}

func collectReceipts(rows *sql.Rows) ([]*entity.Receipt, error) {
	var receipts []*entity.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}
