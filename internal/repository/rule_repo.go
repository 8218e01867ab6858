package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"go.uber.org/zap"
)

// RuleRepository reads tenant classification rules. The pipeline never
// writes rules.
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

func (r *RuleRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFrom(ctx, r.db)
}

// ListActive returns the tenant's active rules in declaration order.
func (r *RuleRepository) ListActive(ctx context.Context, tenantID int64) ([]*entity.ClassificationRule, error) {
	query := `
		SELECT id, tenant_id, match_type, match_value,
			set_classification, set_category, set_tax_category, set_project,
			active, position, created_at
		FROM classification_rules
		WHERE tenant_id = ? AND active = 1
		ORDER BY position ASC, id ASC
	`
	rows, err := r.exec(ctx).QueryContext(ctx, query, tenantID)
	if err != nil {
		r.logger.Error("Failed to list rules", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.ClassificationRule
	for rows.Next() {
		var rule entity.ClassificationRule
		if err := rows.Scan(
			&rule.ID,
			&rule.TenantID,
			&rule.MatchType,
			&rule.MatchValue,
			&rule.SetClassification,
			&rule.SetCategory,
			&rule.SetTaxCategory,
			&rule.SetProject,
			&rule.Active,
			&rule.Position,
			&rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}
