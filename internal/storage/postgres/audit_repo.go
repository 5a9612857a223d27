package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/fokalhq/fokal/internal/audit"
)

// AuditRepository implements audit.Store with PostgreSQL.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single audit entry. This is the only write method;
// immutability is enforced at the interface level.
func (r *AuditRepository) Append(ctx context.Context, e audit.Entry) error {
	model := toAuditModel(e)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Query returns audit entries for a tenant, newest first.
// If userID is non-empty, filters to that user. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, tenantID, userID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC").
		Limit(limit)

	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var models []AuditEntryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}

	entries := make([]audit.Entry, len(models))
	for i := range models {
		entries[i] = toAuditDomain(&models[i])
	}
	return entries, nil
}
