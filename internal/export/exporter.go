// Package export builds xlsx workbooks of a tenant's receipts for handoff
// to accounting tools.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/repository"
	"github.com/ledgerkeep/receiptpipe/internal/storage"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	receiptSheet = "Receipts"
	itemSheet    = "Line Items"
)

// Exporter writes receipt workbooks to object storage and advances the
// exported receipts' lifecycle status.
type Exporter struct {
	receipts     *repository.ReceiptRepository
	items        *repository.LineItemRepository
	store        storage.ObjectStore
	outputPrefix string
	logger       *zap.Logger
}

// NewExporter creates a new exporter
func NewExporter(receipts *repository.ReceiptRepository, items *repository.LineItemRepository, store storage.ObjectStore, outputPrefix string, logger *zap.Logger) *Exporter {
	return &Exporter{
		receipts:     receipts,
		items:        items,
		store:        store,
		outputPrefix: outputPrefix,
		logger:       logger,
	}
}

// Request selects the receipts to export: a tenant and a [From, To)
// creation window.
type Request struct {
	TenantID int64     `json:"tenantId"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// Result reports where the workbook was stored.
type Result struct {
	StorageKey       string `json:"storageKey"`
	ReceiptsExported int    `json:"receiptsExported"`
}

// Export builds the workbook, saves it and marks completed receipts
// exported. Split originals are excluded from the item sheet; their children
// carry the amounts.
func (e *Exporter) Export(ctx context.Context, req Request) (*Result, error) {
	receipts, err := e.receipts.ListForExport(ctx, req.TenantID, req.From, req.To)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return &Result{}, nil
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", receiptSheet); err != nil {
		return nil, fmt.Errorf("failed to name receipt sheet: %w", err)
	}
	if _, err := f.NewSheet(itemSheet); err != nil {
		return nil, fmt.Errorf("failed to create item sheet: %w", err)
	}

	e.writeHeader(f, receiptSheet, []string{
		"Receipt ID", "Merchant", "Purchase Date", "Total", "Subtotal", "Tax",
		"Payment Method", "Status", "Needs Review",
	})
	e.writeHeader(f, itemSheet, []string{
		"Receipt ID", "Item", "Quantity", "Total", "Tax",
		"Classification", "Category", "Tax Category", "Project",
	})

	itemRow := 2
	for i, receipt := range receipts {
		e.writeReceiptRow(f, i+2, receipt)

		items, err := e.items.ListByReceipt(ctx, receipt.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.IsSplitOriginal {
				continue
			}
			e.writeItemRow(f, itemRow, receipt.ID, item)
			itemRow++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	key := fmt.Sprintf("%s/tenant-%d-%s.xlsx",
		e.outputPrefix, req.TenantID, time.Now().UTC().Format("20060102T150405"))
	if err := e.store.Save(ctx, key, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to store workbook: %w", err)
	}

	// Only completed receipts advance; reviewable ones appear in the
	// workbook but keep their status until resolved.
	for _, receipt := range receipts {
		if receipt.Status != entity.ReceiptStatusComplete {
			continue
		}
		if err := e.receipts.UpdateStatus(ctx, receipt.ID, entity.ReceiptStatusExported); err != nil {
			e.logger.Warn("Failed to mark receipt exported",
				zap.Int64("receipt_id", receipt.ID),
				zap.Error(err))
		}
	}

	e.logger.Info("Receipts exported",
		zap.Int64("tenant_id", req.TenantID),
		zap.Int("receipts", len(receipts)),
		zap.String("storage_key", key))
	return &Result{StorageKey: key, ReceiptsExported: len(receipts)}, nil
}

func (e *Exporter) writeHeader(f *excelize.File, sheet string, headers []string) {
	for col, header := range headers {
		e.setCell(f, sheet, col+1, 1, header)
	}
}

func (e *Exporter) writeReceiptRow(f *excelize.File, row int, receipt *entity.Receipt) {
	purchaseDate := ""
	if receipt.PurchaseDate != nil {
		purchaseDate = receipt.PurchaseDate.Format("2006-01-02")
	}
	values := []interface{}{
		receipt.ID,
		receipt.Merchant,
		purchaseDate,
		centsToUnits(receipt.TotalCents),
		centsToUnits(receipt.SubtotalCents),
		centsToUnits(receipt.TaxCents),
		receipt.PaymentMethod,
		receipt.Status,
		receipt.NeedsReview,
	}
	for col, value := range values {
		e.setCell(f, receiptSheet, col+1, row, value)
	}
}

func (e *Exporter) writeItemRow(f *excelize.File, row int, receiptID int64, item *entity.LineItem) {
	values := []interface{}{
		receiptID,
		item.Name,
		item.Quantity,
		float64(item.TotalCents) / 100,
		centsToUnits(item.TaxCents),
		item.Classification,
		item.Category,
		item.TaxCategory,
		item.Project,
	}
	for col, value := range values {
		e.setCell(f, itemSheet, col+1, row, value)
	}
}

func (e *Exporter) setCell(f *excelize.File, sheet string, col, row int, value interface{}) {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		e.logger.Warn("Invalid cell coordinates",
			zap.Int("col", col),
			zap.Int("row", row))
		return
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func centsToUnits(cents *int64) interface{} {
	if cents == nil {
		return ""
	}
	return float64(*cents) / 100
}
