// Package warranty derives warranty records from extracted durable goods.
package warranty

import (
	"context"
	"strings"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"go.uber.org/zap"
)

// durableKeywords is a deliberately narrow heuristic: better to miss a
// warranty than to create one for groceries.
var durableKeywords = []string{
	"laptop", "computer", "monitor", "printer", "phone", "tablet",
	"camera", "television", "tv", "appliance", "refrigerator", "washer",
	"dryer", "microwave", "vacuum", "drill", "power tool",
}

var durableCategories = []string{
	"electronics", "appliances", "equipment", "hardware",
}

type warrantyStore interface {
	Create(ctx context.Context, w *entity.Warranty) error
}

// Service creates warranty records for qualifying line items.
type Service struct {
	warranties warrantyStore
	months     int
	logger     *zap.Logger
}

// NewService creates a new warranty service
func NewService(warranties warrantyStore, months int, logger *zap.Logger) *Service {
	return &Service{
		warranties: warranties,
		months:     months,
		logger:     logger,
	}
}

// CreateForReceipt creates warranties for durable goods on the receipt and
// returns how many were created. A single item's failure is logged and
// skipped; warranties are an enrichment, not part of the core result.
func (s *Service) CreateForReceipt(ctx context.Context, receipt *entity.Receipt, items []*entity.LineItem) int {
	start := receipt.PurchaseDate
	if start == nil {
		now := time.Now().UTC()
		start = &now
	}
	expires := start.AddDate(0, s.months, 0)

	created := 0
	for _, item := range items {
		if item.IsSplitOriginal || !s.qualifies(item) {
			continue
		}
		w := &entity.Warranty{
			TenantID:  receipt.TenantID,
			ReceiptID: receipt.ID,
			ItemID:    item.ID,
			ItemName:  item.Name,
			Merchant:  receipt.Merchant,
			ExpiresAt: expires,
		}
		if err := s.warranties.Create(ctx, w); err != nil {
			s.logger.Warn("Failed to create warranty",
				zap.Int64("item_id", item.ID),
				zap.Error(err))
			continue
		}
		created++
	}
	if created > 0 {
		s.logger.Info("Warranties created",
			zap.Int64("receipt_id", receipt.ID),
			zap.Int("count", created))
	}
	return created
}

func (s *Service) qualifies(item *entity.LineItem) bool {
	category := strings.ToLower(item.Category)
	for _, c := range durableCategories {
		if category == c {
			return true
		}
	}
	name := strings.ToLower(item.Name)
	for _, kw := range durableKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
