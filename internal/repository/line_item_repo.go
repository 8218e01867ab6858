package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"go.uber.org/zap"
)

// LineItemRepository persists line items
type LineItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLineItemRepository creates a new line item repository
func NewLineItemRepository(db *sql.DB, logger *zap.Logger) *LineItemRepository {
	return &LineItemRepository{db: db, logger: logger}
}

func (r *LineItemRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFrom(ctx, r.db)
}

const lineItemColumns = `id, receipt_id, tenant_id, name, quantity, unit_price_cents,
	total_cents, tax_cents, classification, category, tax_category, project,
	confidence, parent_item_id, split_ratio, is_split_original, created_at, updated_at`

// InsertBatch inserts items one statement at a time inside whatever
// transaction the context carries, assigning IDs as it goes.
func (r *LineItemRepository) InsertBatch(ctx context.Context, items []*entity.LineItem) error {
	query := `
		INSERT INTO line_items (
			receipt_id, tenant_id, name, quantity, unit_price_cents, total_cents,
			tax_cents, classification, category, tax_category, project, confidence,
			parent_item_id, split_ratio, is_split_original
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, item := range items {
		result, err := r.exec(ctx).ExecContext(ctx, query,
			item.ReceiptID,
			item.TenantID,
			item.Name,
			item.Quantity,
			item.UnitPriceCents,
			item.TotalCents,
			item.TaxCents,
			item.Classification,
			item.Category,
			item.TaxCategory,
			item.Project,
			item.Confidence,
			item.ParentItemID,
			item.SplitRatio,
			item.IsSplitOriginal,
		)
		if err != nil {
			r.logger.Error("Failed to insert line item",
				zap.Int64("receipt_id", item.ReceiptID),
				zap.Error(err))
			return fmt.Errorf("failed to insert line item: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		item.ID = id
	}
	return nil
}

// GetByID retrieves a line item; returns nil when not found.
func (r *LineItemRepository) GetByID(ctx context.Context, id int64) (*entity.LineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM line_items WHERE id = ?`
	item, err := scanLineItem(r.exec(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get line item: %w", err)
	}
	return item, nil
}

// ListByReceipt returns all items on a receipt, split originals included.
func (r *LineItemRepository) ListByReceipt(ctx context.Context, receiptID int64) ([]*entity.LineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM line_items WHERE receipt_id = ? ORDER BY id ASC`
	rows, err := r.exec(ctx).QueryContext(ctx, query, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	defer rows.Close()

	var items []*entity.LineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClassificationUpdate is one resolved rule outcome applied to a set of items.
type ClassificationUpdate struct {
	Classification string
	Category       string
	TaxCategory    string
	Project        string
}

// UpdateClassificationBatch applies one outcome to many items in a single
// statement.
func (r *LineItemRepository) UpdateClassificationBatch(ctx context.Context, ids []int64, update ClassificationUpdate) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`
		UPDATE line_items SET
			classification = CASE WHEN ? != '' THEN ? ELSE classification END,
			category = CASE WHEN ? != '' THEN ? ELSE category END,
			tax_category = CASE WHEN ? != '' THEN ? ELSE tax_category END,
			project = CASE WHEN ? != '' THEN ? ELSE project END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id IN (%s)
	`, placeholders)

	args := []interface{}{
		update.Classification, update.Classification,
		update.Category, update.Category,
		update.TaxCategory, update.TaxCategory,
		update.Project, update.Project,
	}
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("Failed to apply classification batch",
			zap.Int("item_count", len(ids)),
			zap.Error(err))
		return fmt.Errorf("failed to apply classification batch: %w", err)
	}
	return nil
}

// MarkSplitOriginal conditionally marks an item as replaced by its children.
// Returns false when the item was already marked or is itself a split child,
// making the mark the arbiter between racing split requests.
func (r *LineItemRepository) MarkSplitOriginal(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE line_items SET is_split_original = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_split_original = 0 AND parent_item_id IS NULL
	`
	result, err := r.exec(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark split original: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// DeleteByIDs removes items; used to repair a split whose parent-mark failed.
func (r *LineItemRepository) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`DELETE FROM line_items WHERE id IN (%s)`, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	return nil
}

// DeleteByReceipt removes all items of a receipt. Rollback helper for
// failed receipt creation.
func (r *LineItemRepository) DeleteByReceipt(ctx context.Context, receiptID int64) error {
	if _, err := r.exec(ctx).ExecContext(ctx, `DELETE FROM line_items WHERE receipt_id = ?`, receiptID); err != nil {
		return fmt.Errorf("failed to delete receipt line items: %w", err)
	}
	return nil
}

func scanLineItem(row rowScanner) (*entity.LineItem, error) {
	var item entity.LineItem
	var unitPrice, taxCents, parentItemID sql.NullInt64
	var splitRatio sql.NullFloat64

	err := row.Scan(
		&item.ID,
		&item.ReceiptID,
		&item.TenantID,
		&item.Name,
		&item.Quantity,
		&unitPrice,
		&item.TotalCents,
		&taxCents,
		&item.Classification,
		&item.Category,
		&item.TaxCategory,
		&item.Project,
		&item.Confidence,
		&parentItemID,
		&splitRatio,
		&item.IsSplitOriginal,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if unitPrice.Valid {
		item.UnitPriceCents = &unitPrice.Int64
	}
	if taxCents.Valid {
		item.TaxCents = &taxCents.Int64
	}
	if parentItemID.Valid {
		item.ParentItemID = &parentItemID.Int64
	}
	if splitRatio.Valid {
		item.SplitRatio = &splitRatio.Float64
	}
	return &item, nil
}
