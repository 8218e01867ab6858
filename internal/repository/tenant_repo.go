package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
	"github.com/ledgerkeep/receiptpipe/pkg/database"
	"go.uber.org/zap"
)

// TenantRepository reads tenant records
type TenantRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sql.DB, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{db: db, logger: logger}
}

func (r *TenantRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFrom(ctx, r.db)
}

const tenantColumns = `id, name, email_alias, plan, monthly_quota, created_at`

// GetByAlias resolves a recipient alias to a tenant; returns nil when no
// tenant owns the alias.
func (r *TenantRepository) GetByAlias(ctx context.Context, alias string) (*entity.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE email_alias = ?`
	tenant, err := scanTenant(r.exec(ctx).QueryRowContext(ctx, query, strings.ToLower(alias)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant by alias: %w", err)
	}
	return tenant, nil
}

// GetByID retrieves a tenant; returns nil when not found.
func (r *TenantRepository) GetByID(ctx context.Context, id int64) (*entity.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = ?`
	tenant, err := scanTenant(r.exec(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

func scanTenant(row rowScanner) (*entity.Tenant, error) {
	var tenant entity.Tenant
	if err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.EmailAlias,
		&tenant.Plan,
		&tenant.MonthlyQuota,
		&tenant.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &tenant, nil
}
