// Package rules auto-classifies newly extracted line items against
// tenant-defined classification rules.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/internal/repository"
	"go.uber.org/zap"
)

type ruleStore interface {
	ListActive(ctx context.Context, tenantID int64) ([]*entity.ClassificationRule, error)
}

type itemStore interface {
	UpdateClassificationBatch(ctx context.Context, ids []int64, update repository.ClassificationUpdate) error
}

type receiptStore interface {
	UpdateAggregateFlags(ctx context.Context, receiptID int64) error
}

// GroupFailure reports one failed batch. Other groups proceed regardless.
type GroupFailure struct {
	ItemIDs []int64
	Err     error
}

// ApplyResult summarizes one rule application pass.
type ApplyResult struct {
	MatchedItems int
	Groups       int
	Failures     []GroupFailure
}

// Engine matches items against tenant rules and applies the outcomes in
// deduplicated batches.
type Engine struct {
	rules    ruleStore
	items    itemStore
	receipts receiptStore
	logger   *zap.Logger
}

// NewEngine creates a new rule engine
func NewEngine(rules ruleStore, items itemStore, receipts receiptStore, logger *zap.Logger) *Engine {
	return &Engine{
		rules:    rules,
		items:    items,
		receipts: receipts,
		logger:   logger,
	}
}

// Apply resolves at most one rule per item and writes the outcomes. A
// merchant rule (exact match winning over contains) overrides per-item
// keyword matching for every item on the receipt. Items with no match stay
// unclassified. Batch grouping is a write optimization only: the per-item
// logical outcome is identical to one-write-per-row. Aggregate flags are
// recomputed from the full current item set afterwards, even when some
// groups failed.
func (e *Engine) Apply(ctx context.Context, receipt *entity.Receipt, items []*entity.LineItem) (*ApplyResult, error) {
	result := &ApplyResult{}

	active, err := e.rules.ListActive(ctx, receipt.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	if len(active) > 0 && len(items) > 0 {
		e.applyRules(ctx, receipt, items, active, result)
	}

	if err := e.receipts.UpdateAggregateFlags(ctx, receipt.ID); err != nil {
		return nil, fmt.Errorf("failed to recompute aggregate flags: %w", err)
	}
	return result, nil
}

func (e *Engine) applyRules(ctx context.Context, receipt *entity.Receipt, items []*entity.LineItem, active []*entity.ClassificationRule, result *ApplyResult) {
	exact := make(map[string]*entity.ClassificationRule)
	var contains, keyword []*entity.ClassificationRule
	for _, rule := range active {
		switch rule.MatchType {
		case entity.RuleMatchMerchant:
			key := strings.ToLower(rule.MatchValue)
			if _, ok := exact[key]; !ok {
				exact[key] = rule
			}
		case entity.RuleMatchMerchantContains:
			contains = append(contains, rule)
		case entity.RuleMatchKeyword:
			keyword = append(keyword, rule)
		default:
			e.logger.Warn("Skipping rule with unknown match type",
				zap.Int64("rule_id", rule.ID),
				zap.String("match_type", rule.MatchType))
		}
	}

	merchantRule := e.resolveMerchantRule(receipt.Merchant, exact, contains)

	// Group items by identical resulting payload, preserving first-seen
	// order so writes are deterministic.
	groups := make(map[repository.ClassificationUpdate][]int64)
	var order []repository.ClassificationUpdate
	for _, item := range items {
		rule := merchantRule
		if rule == nil {
			rule = firstKeywordMatch(item.Name, keyword)
		}
		if rule == nil {
			continue
		}
		update := payloadFor(rule)
		if _, seen := groups[update]; !seen {
			order = append(order, update)
		}
		groups[update] = append(groups[update], item.ID)
		result.MatchedItems++
	}

	result.Groups = len(order)
	for _, update := range order {
		ids := groups[update]
		if err := e.items.UpdateClassificationBatch(ctx, ids, update); err != nil {
			e.logger.Error("Rule update group failed",
				zap.Int64("receipt_id", receipt.ID),
				zap.Int("item_count", len(ids)),
				zap.Error(err))
			result.Failures = append(result.Failures, GroupFailure{ItemIDs: ids, Err: err})
		}
	}
}

// resolveMerchantRule finds the single merchant rule for a receipt: an
// exact match wins; otherwise the first contains-match by declaration order.
func (e *Engine) resolveMerchantRule(merchant string, exact map[string]*entity.ClassificationRule, contains []*entity.ClassificationRule) *entity.ClassificationRule {
	if merchant == "" {
		return nil
	}
	lower := strings.ToLower(merchant)
	if rule, ok := exact[lower]; ok {
		return rule
	}
	for _, rule := range contains {
		if strings.Contains(lower, strings.ToLower(rule.MatchValue)) {
			return rule
		}
	}
	return nil
}

func firstKeywordMatch(itemName string, keyword []*entity.ClassificationRule) *entity.ClassificationRule {
	lower := strings.ToLower(itemName)
	for _, rule := range keyword {
		if strings.Contains(lower, strings.ToLower(rule.MatchValue)) {
			return rule
		}
	}
	return nil
}

func payloadFor(rule *entity.ClassificationRule) repository.ClassificationUpdate {
	return repository.ClassificationUpdate{
		Classification: rule.SetClassification,
		Category:       rule.SetCategory,
		TaxCategory:    rule.SetTaxCategory,
		Project:        rule.SetProject,
	}
}
