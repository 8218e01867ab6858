package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"go.uber.org/zap"
)

// WarrantyRepository persists warranty records
type WarrantyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWarrantyRepository creates a new warranty repository
func NewWarrantyRepository(db *sql.DB, logger *zap.Logger) *WarrantyRepository {
	return &WarrantyRepository{db: db, logger: logger}
}

func (r *WarrantyRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFrom(ctx, r.db)
}

// Create inserts a warranty record and assigns its ID.
func (r *WarrantyRepository) Create(ctx context.Context, w *entity.Warranty) error {
	query := `
		INSERT INTO warranties (tenant_id, receipt_id, item_id, item_name, merchant, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := r.exec(ctx).ExecContext(ctx, query,
		w.TenantID,
		w.ReceiptID,
		w.ItemID,
		w.ItemName,
		w.Merchant,
		w.ExpiresAt,
	)
	if err != nil {
		r.logger.Error("Failed to create warranty", zap.Int64("item_id", w.ItemID), zap.Error(err))
		return fmt.Errorf("failed to create warranty: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	w.ID = id
	return nil
}

// CountByReceipt returns how many warranties exist for a receipt.
func (r *WarrantyRepository) CountByReceipt(ctx context.Context, receiptID int64) (int, error) {
	var count int
	err := r.exec(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM warranties WHERE receipt_id = ?`, receiptID,
	).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to count warranties: %w", err)
	}
	return count, nil
}
