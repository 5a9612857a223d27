package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fokalhq/fokal/internal/shadow"
)

// ShadowDiffRepository implements storage.ShadowDiffStore with PostgreSQL.
type ShadowDiffRepository struct {
	db *gorm.DB
}

// NewShadowDiffRepository creates a ShadowDiffRepository.
func NewShadowDiffRepository(db *gorm.DB) *ShadowDiffRepository {
	return &ShadowDiffRepository{db: db}
}

// SaveDiff inserts one comparison record.
func (r *ShadowDiffRepository) SaveDiff(ctx context.Context, rec shadow.DiffRecord) error {
	model := toShadowDiffModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("saving shadow diff: %w", err)
	}
	return nil
}

// ListDiffs returns comparison records for a tenant, newest first.
// Limit defaults to 100.
func (r *ShadowDiffRepository) ListDiffs(ctx context.Context, tenantID string, onlyMismatches bool, limit int) ([]shadow.DiffRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC").
		Limit(limit)

	if onlyMismatches {
		q = q.Where("match = ?", false)
	}

	var models []ShadowDiffModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing shadow diffs: %w", err)
	}

	recs := make([]shadow.DiffRecord, len(models))
	for i := range models {
		recs[i] = toShadowDiffDomain(&models[i])
	}
	return recs, nil
}

// PurgeDiffsBefore deletes records created before the cutoff.
func (r *ShadowDiffRepository) PurgeDiffsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&ShadowDiffModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging shadow diffs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
