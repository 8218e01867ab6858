package split

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/repository"
	"github.com/ledgerkeep/receiptpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cents(v int64) *int64 { return &v }

type fakeItemStore struct {
	item     *entity.LineItem
	inserted []*entity.LineItem
	deleted  []int64
	markOK   bool
	markErr  error
	nextID   int64
}

func (f *fakeItemStore) GetByID(ctx context.Context, id int64) (*entity.LineItem, error) {
	if f.item != nil && f.item.ID == id {
		return f.item, nil
	}
	return nil, nil
}

func (f *fakeItemStore) InsertBatch(ctx context.Context, items []*entity.LineItem) error {
	for _, item := range items {
		f.nextID++
		item.ID = f.nextID
	}
	f.inserted = append(f.inserted, items...)
	return nil
}

func (f *fakeItemStore) MarkSplitOriginal(ctx context.Context, id int64) (bool, error) {
	return f.markOK, f.markErr
}

func (f *fakeItemStore) DeleteByIDs(ctx context.Context, ids []int64) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeReceiptStore struct {
	recomputed []int64
}

func (f *fakeReceiptStore) UpdateAggregateFlags(ctx context.Context, receiptID int64) error {
	f.recomputed = append(f.recomputed, receiptID)
	return nil
}

func splittableItem() *entity.LineItem {
	return &entity.LineItem{
		ID:             100,
		ReceiptID:      7,
		TenantID:       1,
		Name:           "Office supplies",
		Quantity:       1,
		TotalCents:     1000,
		TaxCents:       cents(80),
		Classification: entity.ClassificationUnclassified,
		Category:       "supplies",
		Confidence:     0.9,
	}
}

func newFakeEngine(item *entity.LineItem) (*Engine, *fakeItemStore, *fakeReceiptStore) {
	items := &fakeItemStore{item: item, markOK: true, nextID: 1000}
	receipts := &fakeReceiptStore{}
	return NewEngine(items, receipts, zap.NewNop()), items, receipts
}

func plan(rows ...entity.SplitRow) *entity.SplitPlan {
	return &entity.SplitPlan{
		ItemID:        100,
		TenantID:      1,
		Rows:          rows,
		TaxAllocation: entity.TaxAllocationProrated,
	}
}

func TestSplitProratesTaxWithRemainderToLastRow(t *testing.T) {
	engine, items, receipts := newFakeEngine(splittableItem())

	children, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 400, Classification: entity.ClassificationBusiness},
		entity.SplitRow{AmountCents: 600, Classification: entity.ClassificationPersonal},
	))
	require.NoError(t, err)
	require.Len(t, children, 2)

	// 80 * 400/1000 floors to 32; the remainder 48 lands on the last row.
	assert.Equal(t, int64(32), *children[0].TaxCents)
	assert.Equal(t, int64(48), *children[1].TaxCents)
	assert.Equal(t, int64(32)+int64(48), *splittableItem().TaxCents)

	assert.Equal(t, entity.ClassificationBusiness, children[0].Classification)
	assert.Equal(t, entity.ClassificationPersonal, children[1].Classification)
	for _, child := range children {
		assert.Equal(t, int64(100), *child.ParentItemID)
		assert.False(t, child.IsSplitOriginal)
		assert.Equal(t, "Office supplies", child.Name)
		assert.Equal(t, "supplies", child.Category)
	}
	assert.InDelta(t, 0.4, *children[0].SplitRatio, 1e-9)
	assert.InDelta(t, 0.6, *children[1].SplitRatio, 1e-9)

	assert.Len(t, items.inserted, 2)
	assert.Empty(t, items.deleted)
	assert.Equal(t, []int64{7}, receipts.recomputed)
}

func TestSplitProrationAlwaysSumsExactly(t *testing.T) {
	item := splittableItem()
	item.TotalCents = 1000
	item.TaxCents = cents(100)
	engine, _, _ := newFakeEngine(item)

	children, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 333},
		entity.SplitRow{AmountCents: 333},
		entity.SplitRow{AmountCents: 334},
	))
	require.NoError(t, err)

	var taxSum int64
	for _, child := range children {
		taxSum += *child.TaxCents
	}
	assert.Equal(t, int64(100), taxSum)
	assert.Equal(t, int64(33), *children[0].TaxCents)
	assert.Equal(t, int64(33), *children[1].TaxCents)
	assert.Equal(t, int64(34), *children[2].TaxCents)
}

func TestSplitRejectsAmountMismatchBeforeAnyWrite(t *testing.T) {
	engine, items, receipts := newFakeEngine(splittableItem())

	_, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 400},
		entity.SplitRow{AmountCents: 500},
	))
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.Empty(t, items.inserted, "validation must reject before writing")
	assert.Empty(t, receipts.recomputed)
}

func TestSplitManualTaxMustSumExactly(t *testing.T) {
	engine, items, _ := newFakeEngine(splittableItem())

	manual := plan(
		entity.SplitRow{AmountCents: 400, TaxCents: cents(40)},
		entity.SplitRow{AmountCents: 600, TaxCents: cents(50)},
	)
	manual.TaxAllocation = entity.TaxAllocationManual

	_, err := engine.Split(context.Background(), manual)
	require.ErrorIs(t, err, ErrTaxMismatch)
	assert.Empty(t, items.inserted)
}

func TestSplitManualTaxAccepted(t *testing.T) {
	engine, _, _ := newFakeEngine(splittableItem())

	manual := plan(
		entity.SplitRow{AmountCents: 400, TaxCents: cents(10)},
		entity.SplitRow{AmountCents: 600, TaxCents: cents(70)},
	)
	manual.TaxAllocation = entity.TaxAllocationManual

	children, err := engine.Split(context.Background(), manual)
	require.NoError(t, err)
	assert.Equal(t, int64(10), *children[0].TaxCents)
	assert.Equal(t, int64(70), *children[1].TaxCents)
}

func TestSplitManualTaxRequiresEveryRow(t *testing.T) {
	engine, _, _ := newFakeEngine(splittableItem())

	manual := plan(
		entity.SplitRow{AmountCents: 400, TaxCents: cents(80)},
		entity.SplitRow{AmountCents: 600},
	)
	manual.TaxAllocation = entity.TaxAllocationManual

	_, err := engine.Split(context.Background(), manual)
	assert.ErrorIs(t, err, ErrInvalidRow)
}

func TestSplitRejectsSingleRow(t *testing.T) {
	engine, _, _ := newFakeEngine(splittableItem())

	_, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 1000},
	))
	assert.ErrorIs(t, err, ErrTooFewRows)
}

func TestSplitRejectsAlreadySplitItem(t *testing.T) {
	item := splittableItem()
	item.IsSplitOriginal = true
	engine, _, _ := newFakeEngine(item)

	_, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 400},
		entity.SplitRow{AmountCents: 600},
	))
	assert.ErrorIs(t, err, ErrAlreadySplit)
}

func TestSplitRejectsChildOfSplit(t *testing.T) {
	item := splittableItem()
	parent := int64(50)
	item.ParentItemID = &parent
	engine, _, _ := newFakeEngine(item)

	_, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 400},
		entity.SplitRow{AmountCents: 600},
	))
	assert.ErrorIs(t, err, ErrChildItem)
}

func TestSplitUnknownItemOrWrongTenant(t *testing.T) {
	engine, _, _ := newFakeEngine(splittableItem())

	missing := plan(entity.SplitRow{AmountCents: 400}, entity.SplitRow{AmountCents: 600})
	missing.ItemID = 999
	_, err := engine.Split(context.Background(), missing)
	assert.ErrorIs(t, err, ErrNotFound)

	foreign := plan(entity.SplitRow{AmountCents: 400}, entity.SplitRow{AmountCents: 600})
	foreign.TenantID = 2
	_, err = engine.Split(context.Background(), foreign)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSplitDeletesChildrenWhenMarkFails(t *testing.T) {
	engine, items, receipts := newFakeEngine(splittableItem())
	items.markErr = errors.New("disk full")

	_, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 400},
		entity.SplitRow{AmountCents: 600},
	))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadySplit)

	require.Len(t, items.inserted, 2)
	assert.ElementsMatch(t, []int64{items.inserted[0].ID, items.inserted[1].ID}, items.deleted,
		"orphaned children must be deleted when the mark fails")
	assert.Empty(t, receipts.recomputed)
}

func TestSplitLoserOfRaceGetsConflict(t *testing.T) {
	engine, items, _ := newFakeEngine(splittableItem())
	items.markOK = false

	_, err := engine.Split(context.Background(), plan(
		entity.SplitRow{AmountCents: 400},
		entity.SplitRow{AmountCents: 600},
	))
	assert.ErrorIs(t, err, ErrAlreadySplit)
	assert.Len(t, items.deleted, 2, "losing split must clean up its children")
}

func TestConcurrentSplitsExactlyOneWins(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	tenantID := testutil.SeedTenant(t, db, "split@inbox.test", 0)

	receiptRepo := repository.NewReceiptRepository(db.DB, logger)
	itemRepo := repository.NewLineItemRepository(db.DB, logger)

	receipt := &entity.Receipt{TenantID: tenantID, Status: entity.ReceiptStatusProcessing, Source: entity.SourceUpload, StorageKey: "k"}
	require.NoError(t, receiptRepo.Create(ctx, receipt))

	original := &entity.LineItem{
		ReceiptID:      receipt.ID,
		TenantID:       tenantID,
		Name:           "Shared dinner",
		Quantity:       1,
		TotalCents:     1000,
		TaxCents:       cents(80),
		Classification: entity.ClassificationUnclassified,
	}
	require.NoError(t, itemRepo.InsertBatch(ctx, []*entity.LineItem{original}))

	engine := NewEngine(itemRepo, receiptRepo, logger)

	const attempts = 3
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = engine.Split(ctx, &entity.SplitPlan{
				ItemID:        original.ID,
				TenantID:      tenantID,
				TaxAllocation: entity.TaxAllocationProrated,
				Rows: []entity.SplitRow{
					{AmountCents: 400, Classification: entity.ClassificationBusiness},
					{AmountCents: 600, Classification: entity.ClassificationPersonal},
				},
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadySplit)
		}
	}
	assert.Equal(t, 1, wins, "exactly one of the racing splits must win")

	stored, err := itemRepo.ListByReceipt(ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3, "original plus exactly one winner's children")
	assert.True(t, stored[0].IsSplitOriginal)

	updated, err := receiptRepo.GetByID(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, updated.HasBusinessItems, "flags must reflect children, not the split original")
	assert.True(t, updated.HasPersonalItems)
	assert.False(t, updated.HasUnclassifiedItems, "the split original is excluded from flags")
}
