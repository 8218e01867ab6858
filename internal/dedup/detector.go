// Package dedup flags resubmissions of the same physical receipt using a
// content fingerprint derived from extracted fields, so two different image
// files of one purchase still collide.
package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"go.uber.org/zap"
)

// receiptStore is the slice of the receipt repository the detector needs.
type receiptStore interface {
	SetFingerprint(ctx context.Context, id int64, fingerprint string) error
	FindByFingerprint(ctx context.Context, tenantID int64, fingerprint string, excludeID int64) (*entity.Receipt, error)
	MarkDuplicate(ctx context.Context, id, duplicateOf int64) error
}

// Detector computes fingerprints and flags duplicates. Detection is
// advisory: a match sets needs_review and duplicate_of but never blocks
// processing, because the fingerprint is a heuristic and false positives
// must stay user-correctable.
type Detector struct {
	receipts receiptStore
	logger   *zap.Logger
}

// NewDetector creates a new duplicate detector
func NewDetector(receipts receiptStore, logger *zap.Logger) *Detector {
	return &Detector{receipts: receipts, logger: logger}
}

// Fingerprint derives the duplicate-detection key from (normalized
// merchant, purchase date, total). Returns "" when any input is missing:
// ambiguous data is never fingerprinted.
func Fingerprint(merchant string, purchaseDate *time.Time, totalCents *int64) string {
	normalized := normalizeMerchant(merchant)
	if normalized == "" || purchaseDate == nil || totalCents == nil {
		return ""
	}

	// FNV-1a, deliberately non-cryptographic: this is a derived lookup key,
	// not an integrity check.
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", normalized, purchaseDate.Format("2006-01-02"), *totalCents)
	return fmt.Sprintf("%016x", h.Sum64())
}

// normalizeMerchant lowercases, strips punctuation and collapses whitespace
// so "TRADER JOE'S #553" and "trader joes 553" agree.
func normalizeMerchant(merchant string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(merchant) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Check fingerprints the receipt and flags it when a prior receipt in the
// same tenant carries the same fingerprint. Returns the prior receipt when
// a duplicate was found.
func (d *Detector) Check(ctx context.Context, receipt *entity.Receipt) (*entity.Receipt, error) {
	fingerprint := Fingerprint(receipt.Merchant, receipt.PurchaseDate, receipt.TotalCents)
	if fingerprint == "" {
		d.logger.Debug("Receipt not fingerprinted, fields incomplete",
			zap.Int64("receipt_id", receipt.ID))
		return nil, nil
	}

	if err := d.receipts.SetFingerprint(ctx, receipt.ID, fingerprint); err != nil {
		return nil, fmt.Errorf("failed to persist fingerprint: %w", err)
	}
	receipt.Fingerprint = &fingerprint

	prior, err := d.receipts.FindByFingerprint(ctx, receipt.TenantID, fingerprint, receipt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	if prior == nil {
		return nil, nil
	}

	if err := d.receipts.MarkDuplicate(ctx, receipt.ID, prior.ID); err != nil {
		return nil, fmt.Errorf("failed to flag duplicate: %w", err)
	}
	receipt.DuplicateOf = &prior.ID
	receipt.NeedsReview = true

	d.logger.Info("Duplicate receipt detected",
		zap.Int64("receipt_id", receipt.ID),
		zap.Int64("duplicate_of", prior.ID))
	return prior, nil
}
