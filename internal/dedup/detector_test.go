package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/repository"
	"github.com/ledgerkeep/receiptpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func date(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func cents(v int64) *int64 { return &v }

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("Trader Joe's #553", date("2026-01-15"), cents(4250))
	b := Fingerprint("trader joes 553", date("2026-01-15"), cents(4250))
	assert.Equal(t, a, b, "normalization must make equivalent merchants collide")
	assert.NotEmpty(t, a)
}

func TestFingerprintChangesWithAnyField(t *testing.T) {
	base := Fingerprint("Corner Hardware", date("2026-01-15"), cents(4250))

	assert.NotEqual(t, base, Fingerprint("Other Hardware", date("2026-01-15"), cents(4250)))
	assert.NotEqual(t, base, Fingerprint("Corner Hardware", date("2026-01-16"), cents(4250)))
	assert.NotEqual(t, base, Fingerprint("Corner Hardware", date("2026-01-15"), cents(4251)))
}

func TestFingerprintRequiresAllFields(t *testing.T) {
	assert.Empty(t, Fingerprint("", date("2026-01-15"), cents(4250)))
	assert.Empty(t, Fingerprint("Corner Hardware", nil, cents(4250)))
	assert.Empty(t, Fingerprint("Corner Hardware", date("2026-01-15"), nil))
	assert.Empty(t, Fingerprint("###", date("2026-01-15"), cents(4250)), "punctuation-only merchant has no content")
}

func seedExtractedReceipt(t *testing.T, ctx context.Context, receipts *repository.ReceiptRepository, tenantID int64, merchant string, day string, totalCents int64) *entity.Receipt {
	t.Helper()
	receipt := &entity.Receipt{
		TenantID:   tenantID,
		Status:     entity.ReceiptStatusProcessing,
		Source:     entity.SourceUpload,
		StorageKey: "receipts/" + merchant,
	}
	require.NoError(t, receipts.Create(ctx, receipt))
	require.NoError(t, receipts.ApplyExtraction(ctx, receipt.ID, merchant, "", date(day), totalCents, totalCents, 0, "card", 0.9))
	receipt.Merchant = merchant
	receipt.PurchaseDate = date(day)
	receipt.TotalCents = &totalCents
	return receipt
}

func TestCheckFlagsSecondSubmission(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	receipts := repository.NewReceiptRepository(db.DB, zap.NewNop())
	tenantID := testutil.SeedTenant(t, db, "dup@inbox.test", 0)
	detector := NewDetector(receipts, zap.NewNop())

	first := seedExtractedReceipt(t, ctx, receipts, tenantID, "Corner Hardware", "2026-01-15", 4250)
	prior, err := detector.Check(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, prior, "first submission must not match")

	second := seedExtractedReceipt(t, ctx, receipts, tenantID, "CORNER HARDWARE", "2026-01-15", 4250)
	prior, err = detector.Check(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, first.ID, prior.ID)

	stored, err := receipts.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, stored.NeedsReview)
	require.NotNil(t, stored.DuplicateOf)
	assert.Equal(t, first.ID, *stored.DuplicateOf)
}

func TestCheckIgnoresOtherTenants(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	receipts := repository.NewReceiptRepository(db.DB, zap.NewNop())
	tenantA := testutil.SeedTenant(t, db, "a@inbox.test", 0)
	tenantB := testutil.SeedTenant(t, db, "b@inbox.test", 0)
	detector := NewDetector(receipts, zap.NewNop())

	first := seedExtractedReceipt(t, ctx, receipts, tenantA, "Corner Hardware", "2026-01-15", 4250)
	_, err := detector.Check(ctx, first)
	require.NoError(t, err)

	other := seedExtractedReceipt(t, ctx, receipts, tenantB, "Corner Hardware", "2026-01-15", 4250)
	prior, err := detector.Check(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, prior, "fingerprints are tenant-scoped")
}

func TestCheckDifferentFieldsDoNotMatch(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	receipts := repository.NewReceiptRepository(db.DB, zap.NewNop())
	tenantID := testutil.SeedTenant(t, db, "c@inbox.test", 0)
	detector := NewDetector(receipts, zap.NewNop())

	first := seedExtractedReceipt(t, ctx, receipts, tenantID, "Corner Hardware", "2026-01-15", 4250)
	_, err := detector.Check(ctx, first)
	require.NoError(t, err)

	differentTotal := seedExtractedReceipt(t, ctx, receipts, tenantID, "Corner Hardware", "2026-01-15", 4300)
	prior, err := detector.Check(ctx, differentTotal)
	require.NoError(t, err)
	assert.Nil(t, prior)
}
