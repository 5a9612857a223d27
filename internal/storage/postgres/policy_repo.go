package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fokalhq/fokal/internal/policy"
)

// PolicyRepository implements policy.Store with PostgreSQL.
type PolicyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a PolicyRepository.
func NewPolicyRepository(db *gorm.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// LoadPolicy returns the stored policy for a tenant.
func (r *PolicyRepository) LoadPolicy(ctx context.Context, tenantID string) (policy.Policy, error) {
	var model PolicyModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return policy.Policy{}, policy.ErrPolicyNotFound
		}
		return policy.Policy{}, fmt.Errorf("loading policy for tenant %s: %w", tenantID, err)
	}
	return toPolicyDomain(&model), nil
}

// SavePolicy creates or replaces the tenant's policy row.
func (r *PolicyRepository) SavePolicy(ctx context.Context, tenantID string, p policy.Policy) error {
	model := toPolicyModel(tenantID, p)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving policy for tenant %s: %w", tenantID, err)
	}
	return nil
}
