// Package split decomposes one line item into several classified child
// rows with strict amount and tax accounting.
package split

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when the target item does not exist in the
	// caller's tenant.
	ErrNotFound = errors.New("line item not found")
	// ErrAlreadySplit is returned when the target is already a split
	// original. Exactly one of N racing split requests avoids it.
	ErrAlreadySplit = errors.New("item is already split")
	// ErrChildItem rejects nested splitting of a split child.
	ErrChildItem = errors.New("cannot split a child of another split")
	// ErrTooFewRows requires at least two child rows.
	ErrTooFewRows = errors.New("split requires at least two rows")
	// ErrAmountMismatch is returned when row amounts do not sum to the
	// item total. Rejected before any write.
	ErrAmountMismatch = errors.New("split amounts do not sum to item total")
	// ErrTaxMismatch is returned when manual tax rows do not sum to the
	// item tax.
	ErrTaxMismatch = errors.New("split tax amounts do not sum to item tax")
	// ErrInvalidRow flags a malformed row (non-positive amount, missing
	// manual tax).
	ErrInvalidRow = errors.New("invalid split row")
)

type itemStore interface {
	GetByID(ctx context.Context, id int64) (*entity.LineItem, error)
	InsertBatch(ctx context.Context, items []*entity.LineItem) error
	MarkSplitOriginal(ctx context.Context, id int64) (bool, error)
	DeleteByIDs(ctx context.Context, ids []int64) error
}

type receiptStore interface {
	UpdateAggregateFlags(ctx context.Context, receiptID int64) error
}

// Engine performs splits. Children are inserted before the parent is
// marked: a failed insert needs no repair, and a failed mark is repaired by
// deleting the just-inserted children so a marked-but-childless parent can
// never silently vanish from totals.
type Engine struct {
	items    itemStore
	receipts receiptStore
	logger   *zap.Logger
}

// NewEngine creates a new split engine
func NewEngine(items itemStore, receipts receiptStore, logger *zap.Logger) *Engine {
	return &Engine{
		items:    items,
		receipts: receipts,
		logger:   logger,
	}
}

// Split executes a split plan and returns the created children.
func (e *Engine) Split(ctx context.Context, plan *entity.SplitPlan) ([]*entity.LineItem, error) {
	item, err := e.items.GetByID(ctx, plan.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	if item == nil || item.TenantID != plan.TenantID {
		return nil, ErrNotFound
	}
	if item.IsSplitOriginal {
		return nil, ErrAlreadySplit
	}
	if item.ParentItemID != nil {
		return nil, ErrChildItem
	}

	taxAlloc, err := validatePlan(plan, item)
	if err != nil {
		return nil, err
	}

	children := buildChildren(plan, item, taxAlloc)
	if err := e.items.InsertBatch(ctx, children); err != nil {
		// Nothing was marked, so nothing needs repair.
		return nil, fmt.Errorf("failed to insert split children: %w", err)
	}

	marked, err := e.items.MarkSplitOriginal(ctx, item.ID)
	if err != nil || !marked {
		e.rollbackChildren(ctx, item.ID, children)
		if err != nil {
			return nil, fmt.Errorf("failed to mark split original: %w", err)
		}
		// The conditional mark found the item already marked: a concurrent
		// split won the race.
		return nil, ErrAlreadySplit
	}

	if err := e.receipts.UpdateAggregateFlags(ctx, item.ReceiptID); err != nil {
		// The split itself is committed; stale flags are recoverable.
		e.logger.Error("Failed to recompute aggregate flags after split",
			zap.Int64("receipt_id", item.ReceiptID),
			zap.Error(err))
	}

	e.logger.Info("Line item split",
		zap.Int64("item_id", item.ID),
		zap.Int64("receipt_id", item.ReceiptID),
		zap.Int("children", len(children)))
	return children, nil
}

// rollbackChildren deletes orphaned children after a failed parent mark. A
// failed repair is a data-integrity incident needing manual cleanup; silent
// loss of the item would be worse than a visible repair failure.
func (e *Engine) rollbackChildren(ctx context.Context, parentID int64, children []*entity.LineItem) {
	ids := make([]int64, len(children))
	for i, child := range children {
		ids[i] = child.ID
	}
	if err := e.items.DeleteByIDs(ctx, ids); err != nil {
		e.logger.Error("DATA INTEGRITY: failed to delete orphaned split children, manual cleanup required",
			zap.Int64("parent_item_id", parentID),
			zap.Int64s("child_ids", ids),
			zap.Error(err))
	}
}

// validatePlan checks all sum invariants before any write and returns the
// per-row tax allocation.
func validatePlan(plan *entity.SplitPlan, item *entity.LineItem) ([]int64, error) {
	if len(plan.Rows) < 2 {
		return nil, ErrTooFewRows
	}

	var amountSum int64
	for i, row := range plan.Rows {
		if row.AmountCents <= 0 {
			return nil, fmt.Errorf("%w: row %d amount must be positive", ErrInvalidRow, i)
		}
		amountSum += row.AmountCents
	}
	if amountSum != item.TotalCents {
		return nil, fmt.Errorf("%w: rows sum to %d, item total is %d", ErrAmountMismatch, amountSum, item.TotalCents)
	}

	var originalTax int64
	if item.TaxCents != nil {
		originalTax = *item.TaxCents
	}

	switch plan.TaxAllocation {
	case entity.TaxAllocationManual:
		return manualTax(plan, originalTax)
	case entity.TaxAllocationProrated, "":
		return proratedTax(plan.Rows, originalTax, item.TotalCents), nil
	default:
		return nil, fmt.Errorf("%w: unknown tax allocation %q", ErrInvalidRow, plan.TaxAllocation)
	}
}

func manualTax(plan *entity.SplitPlan, originalTax int64) ([]int64, error) {
	alloc := make([]int64, len(plan.Rows))
	var taxSum int64
	for i, row := range plan.Rows {
		if row.TaxCents == nil {
			return nil, fmt.Errorf("%w: row %d missing manual tax", ErrInvalidRow, i)
		}
		if *row.TaxCents < 0 {
			return nil, fmt.Errorf("%w: row %d tax must not be negative", ErrInvalidRow, i)
		}
		alloc[i] = *row.TaxCents
		taxSum += *row.TaxCents
	}
	if taxSum != originalTax {
		return nil, fmt.Errorf("%w: rows sum to %d, item tax is %d", ErrTaxMismatch, taxSum, originalTax)
	}
	return alloc, nil
}

// proratedTax allocates tax by amount share, floor-rounded, with the
// remainder assigned to the last row so the allocation always sums exactly.
func proratedTax(rows []entity.SplitRow, originalTax, total int64) []int64 {
	alloc := make([]int64, len(rows))
	var allocated int64
	for i := 0; i < len(rows)-1; i++ {
		share := originalTax * rows[i].AmountCents / total
		alloc[i] = share
		allocated += share
	}
	alloc[len(rows)-1] = originalTax - allocated
	return alloc
}

func buildChildren(plan *entity.SplitPlan, item *entity.LineItem, taxAlloc []int64) []*entity.LineItem {
	children := make([]*entity.LineItem, len(plan.Rows))
	for i, row := range plan.Rows {
		classification := row.Classification
		if classification == "" {
			classification = item.Classification
		}
		project := row.Project
		if project == "" {
			project = item.Project
		}
		tax := taxAlloc[i]
		ratio := float64(row.AmountCents) / float64(item.TotalCents)
		children[i] = &entity.LineItem{
			ReceiptID:       item.ReceiptID,
			TenantID:        item.TenantID,
			Name:            item.Name,
			Quantity:        item.Quantity,
			TotalCents:      row.AmountCents,
			TaxCents:        &tax,
			Classification:  classification,
			Category:        item.Category,
			TaxCategory:     item.TaxCategory,
			Project:         project,
			Confidence:      item.Confidence,
			ParentItemID:    &item.ID,
			SplitRatio:      &ratio,
			IsSplitOriginal: false,
		}
	}
	return children
}
