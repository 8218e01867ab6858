package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/repository"
	"github.com/ledgerkeep/receiptpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRuleStore struct {
	rules []*entity.ClassificationRule
}

func (f *fakeRuleStore) ListActive(ctx context.Context, tenantID int64) ([]*entity.ClassificationRule, error) {
	return f.rules, nil
}

type recordedBatch struct {
	ids    []int64
	update repository.ClassificationUpdate
}

type fakeItemStore struct {
	batches []recordedBatch
	failOn  *repository.ClassificationUpdate
}

func (f *fakeItemStore) UpdateClassificationBatch(ctx context.Context, ids []int64, update repository.ClassificationUpdate) error {
	f.batches = append(f.batches, recordedBatch{ids: ids, update: update})
	if f.failOn != nil && *f.failOn == update {
		return errors.New("write failed")
	}
	return nil
}

type fakeReceiptStore struct {
	recomputed int
}

func (f *fakeReceiptStore) UpdateAggregateFlags(ctx context.Context, receiptID int64) error {
	f.recomputed++
	return nil
}

func merchantRule(id int64, value, classification string) *entity.ClassificationRule {
	return &entity.ClassificationRule{ID: id, MatchType: entity.RuleMatchMerchant, MatchValue: value, SetClassification: classification, Active: true}
}

func keywordRule(id int64, value, classification string) *entity.ClassificationRule {
	return &entity.ClassificationRule{ID: id, MatchType: entity.RuleMatchKeyword, MatchValue: value, SetClassification: classification, Active: true}
}

func containsRule(id int64, value, classification string) *entity.ClassificationRule {
	return &entity.ClassificationRule{ID: id, MatchType: entity.RuleMatchMerchantContains, MatchValue: value, SetClassification: classification, Active: true}
}

func newFakeEngine(rules []*entity.ClassificationRule) (*Engine, *fakeItemStore, *fakeReceiptStore) {
	items := &fakeItemStore{}
	receipts := &fakeReceiptStore{}
	engine := NewEngine(&fakeRuleStore{rules: rules}, items, receipts, zap.NewNop())
	return engine, items, receipts
}

func item(id int64, name string) *entity.LineItem {
	return &entity.LineItem{ID: id, Name: name, Classification: entity.ClassificationUnclassified}
}

func TestMerchantRuleOverridesKeywordRules(t *testing.T) {
	engine, items, _ := newFakeEngine([]*entity.ClassificationRule{
		keywordRule(1, "coffee", entity.ClassificationPersonal),
		merchantRule(2, "office depot", entity.ClassificationBusiness),
	})

	receipt := &entity.Receipt{ID: 1, TenantID: 1, Merchant: "Office Depot"}
	result, err := engine.Apply(context.Background(), receipt, []*entity.LineItem{
		item(10, "Coffee maker"),
		item(11, "Desk chair"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.MatchedItems)
	require.Len(t, items.batches, 1, "identical outcomes must be one batched write")
	assert.Equal(t, entity.ClassificationBusiness, items.batches[0].update.Classification)
	assert.ElementsMatch(t, []int64{10, 11}, items.batches[0].ids)
}

func TestExactMerchantBeatsContains(t *testing.T) {
	engine, items, _ := newFakeEngine([]*entity.ClassificationRule{
		containsRule(1, "depot", entity.ClassificationPersonal),
		merchantRule(2, "office depot", entity.ClassificationBusiness),
	})

	receipt := &entity.Receipt{ID: 1, TenantID: 1, Merchant: "Office Depot"}
	_, err := engine.Apply(context.Background(), receipt, []*entity.LineItem{item(10, "Paper")})
	require.NoError(t, err)

	require.Len(t, items.batches, 1)
	assert.Equal(t, entity.ClassificationBusiness, items.batches[0].update.Classification)
}

func TestKeywordFirstMatchByDeclarationOrder(t *testing.T) {
	engine, items, _ := newFakeEngine([]*entity.ClassificationRule{
		keywordRule(1, "cable", entity.ClassificationBusiness),
		keywordRule(2, "hdmi", entity.ClassificationPersonal),
	})

	receipt := &entity.Receipt{ID: 1, TenantID: 1, Merchant: "Somewhere Else"}
	_, err := engine.Apply(context.Background(), receipt, []*entity.LineItem{item(10, "HDMI cable")})
	require.NoError(t, err)

	require.Len(t, items.batches, 1)
	assert.Equal(t, entity.ClassificationBusiness, items.batches[0].update.Classification,
		"first declared keyword rule wins")
}

func TestUnmatchedItemsLeftUnclassified(t *testing.T) {
	engine, items, receipts := newFakeEngine([]*entity.ClassificationRule{
		keywordRule(1, "cable", entity.ClassificationBusiness),
	})

	receipt := &entity.Receipt{ID: 1, TenantID: 1, Merchant: "Grocery"}
	result, err := engine.Apply(context.Background(), receipt, []*entity.LineItem{
		item(10, "HDMI cable"),
		item(11, "Bananas"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.MatchedItems)
	require.Len(t, items.batches, 1)
	assert.Equal(t, []int64{10}, items.batches[0].ids)
	assert.Equal(t, 1, receipts.recomputed, "flags recomputed even with unmatched items")
}

func TestGroupingByIdenticalPayload(t *testing.T) {
	engine, items, _ := newFakeEngine([]*entity.ClassificationRule{
		keywordRule(1, "cable", entity.ClassificationBusiness),
		keywordRule(2, "adapter", entity.ClassificationBusiness),
		keywordRule(3, "snack", entity.ClassificationPersonal),
	})

	receipt := &entity.Receipt{ID: 1, TenantID: 1, Merchant: "Mixed Mart"}
	result, err := engine.Apply(context.Background(), receipt, []*entity.LineItem{
		item(10, "HDMI cable"),
		item(11, "USB adapter"),
		item(12, "Trail mix snack"),
	})
	require.NoError(t, err)

	// Rules 1 and 2 produce the same payload, so items 10 and 11 share one
	// batch; rule 3 gets its own.
	assert.Equal(t, 2, result.Groups)
	require.Len(t, items.batches, 2)
	assert.ElementsMatch(t, []int64{10, 11}, items.batches[0].ids)
	assert.Equal(t, []int64{12}, items.batches[1].ids)
}

func TestGroupFailureDoesNotAbortOthers(t *testing.T) {
	failing := repository.ClassificationUpdate{Classification: entity.ClassificationPersonal}
	items := &fakeItemStore{failOn: &failing}
	receipts := &fakeReceiptStore{}
	engine := NewEngine(&fakeRuleStore{rules: []*entity.ClassificationRule{
		keywordRule(1, "cable", entity.ClassificationBusiness),
		keywordRule(2, "snack", entity.ClassificationPersonal),
	}}, items, receipts, zap.NewNop())

	receipt := &entity.Receipt{ID: 1, TenantID: 1, Merchant: "Mixed Mart"}
	result, err := engine.Apply(context.Background(), receipt, []*entity.LineItem{
		item(10, "HDMI cable"),
		item(12, "Trail mix snack"),
	})
	require.NoError(t, err, "group failures are reported, not raised")

	require.Len(t, result.Failures, 1)
	assert.Equal(t, []int64{12}, result.Failures[0].ItemIDs)
	assert.Len(t, items.batches, 2, "the healthy group must still be written")
	assert.Equal(t, 1, receipts.recomputed)
}

func TestApplyAgainstDatabase(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	tenantID := testutil.SeedTenant(t, db, "rules@inbox.test", 0)

	receiptRepo := repository.NewReceiptRepository(db.DB, logger)
	itemRepo := repository.NewLineItemRepository(db.DB, logger)
	ruleRepo := repository.NewRuleRepository(db.DB, logger)

	_, err := db.Exec(`
		INSERT INTO classification_rules (tenant_id, match_type, match_value, set_classification, set_category, position)
		VALUES (?, 'keyword', 'cable', 'business', 'equipment', 1)
	`, tenantID)
	require.NoError(t, err)

	receipt := &entity.Receipt{TenantID: tenantID, Status: entity.ReceiptStatusProcessing, Source: entity.SourceUpload, StorageKey: "k"}
	require.NoError(t, receiptRepo.Create(ctx, receipt))
	receipt.Merchant = "Electronics Hut"

	lineItems := []*entity.LineItem{
		{ReceiptID: receipt.ID, TenantID: tenantID, Name: "HDMI cable", TotalCents: 1500, Classification: entity.ClassificationUnclassified},
		{ReceiptID: receipt.ID, TenantID: tenantID, Name: "Gum", TotalCents: 199, Classification: entity.ClassificationUnclassified},
	}
	require.NoError(t, itemRepo.InsertBatch(ctx, lineItems))

	engine := NewEngine(ruleRepo, itemRepo, receiptRepo, logger)
	result, err := engine.Apply(ctx, receipt, lineItems)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MatchedItems)
	assert.Empty(t, result.Failures)

	stored, err := itemRepo.ListByReceipt(ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, entity.ClassificationBusiness, stored[0].Classification)
	assert.Equal(t, "equipment", stored[0].Category)
	assert.Equal(t, entity.ClassificationUnclassified, stored[1].Classification)

	updated, err := receiptRepo.GetByID(ctx, receipt.ID)
	require.NoError(t, err)
	assert.True(t, updated.HasBusinessItems)
	assert.False(t, updated.HasPersonalItems)
	assert.True(t, updated.HasUnclassifiedItems)
}
