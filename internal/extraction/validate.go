package extraction

import (
	"fmt"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
)

// Schema bounds for provider responses. A structurally valid but
// out-of-range response is rejected, never silently accepted.
const (
	maxMerchantLen = 256
	maxAddressLen  = 512
	maxItemNameLen = 512
	maxItems       = 100
	maxWarnings    = 20
	maxWarningLen  = 512
	maxAmountCents = 100_000_000 // 1M in major units
)

// validateResult enforces the response schema bounds.
func validateResult(r *entity.ExtractionResult) error {
	if len(r.Merchant) > maxMerchantLen {
		return fmt.Errorf("merchant exceeds %d characters", maxMerchantLen)
	}
	if len(r.MerchantAddress) > maxAddressLen {
		return fmt.Errorf("merchant address exceeds %d characters", maxAddressLen)
	}
	if r.PurchaseDate != "" {
		if _, err := time.Parse("2006-01-02", r.PurchaseDate); err != nil {
			return fmt.Errorf("purchase date %q is not YYYY-MM-DD", r.PurchaseDate)
		}
	}
	if err := validateAmount("total", r.TotalCents); err != nil {
		return err
	}
	if err := validateAmount("subtotal", r.SubtotalCents); err != nil {
		return err
	}
	if err := validateAmount("tax", r.TaxCents); err != nil {
		return err
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", r.Confidence)
	}
	if len(r.Items) > maxItems {
		return fmt.Errorf("item count %d exceeds maximum %d", len(r.Items), maxItems)
	}
	for i, item := range r.Items {
		if item.Name == "" {
			return fmt.Errorf("item %d has empty name", i)
		}
		if len(item.Name) > maxItemNameLen {
			return fmt.Errorf("item %d name exceeds %d characters", i, maxItemNameLen)
		}
		if item.Quantity < 0 {
			return fmt.Errorf("item %d has negative quantity", i)
		}
		if err := validateAmount(fmt.Sprintf("item %d total", i), item.TotalCents); err != nil {
			return err
		}
		if err := validateAmount(fmt.Sprintf("item %d unit price", i), item.UnitPriceCents); err != nil {
			return err
		}
		if err := validateAmount(fmt.Sprintf("item %d tax", i), item.TaxCents); err != nil {
			return err
		}
		if item.Confidence < 0 || item.Confidence > 1 {
			return fmt.Errorf("item %d confidence %f outside [0,1]", i, item.Confidence)
		}
	}
	if len(r.Warnings) > maxWarnings {
		return fmt.Errorf("warning count %d exceeds maximum %d", len(r.Warnings), maxWarnings)
	}
	for i, w := range r.Warnings {
		if len(w) > maxWarningLen {
			return fmt.Errorf("warning %d exceeds %d characters", i, maxWarningLen)
		}
	}
	return nil
}

func validateAmount(field string, cents int64) error {
	if cents < 0 {
		return fmt.Errorf("%s is negative", field)
	}
	if cents > maxAmountCents {
		return fmt.Errorf("%s %d exceeds maximum %d", field, cents, maxAmountCents)
	}
	return nil
}
