package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fokalhq/fokal/internal/proposal"
)

// ProposalRepository implements proposal.Store with PostgreSQL.
type ProposalRepository struct {
	db *gorm.DB
}

// NewProposalRepository creates a ProposalRepository.
func NewProposalRepository(db *gorm.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// SaveProposal upserts a proposal lifecycle record.
func (r *ProposalRepository) SaveProposal(ctx context.Context, p *proposal.Pending) error {
	model := toProposalModel(p)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving proposal %s: %w", p.Proposal.ID, err)
	}
	return nil
}

// UpdateProposalStatus records a resolution.
func (r *ProposalRepository) UpdateProposalStatus(ctx context.Context, id string, status proposal.Status, resolvedBy string, resolvedAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&ProposalModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      int16(status),
			"resolved_by": resolvedBy,
			"resolved_at": resolvedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("updating proposal %s status: %w", id, err)
	}
	return nil
}

// LoadPending returns all unresolved, unexpired proposals.
func (r *ProposalRepository) LoadPending(ctx context.Context) ([]*proposal.Pending, error) {
	var models []ProposalModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ?", int16(proposal.StatusPending), time.Now().UTC()).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading pending proposals: %w", err)
	}

	out := make([]*proposal.Pending, len(models))
	for i := range models {
		out[i] = toPendingDomain(&models[i])
	}
	return out, nil
}

// PurgeProposalsBefore deletes resolved or expired proposals created before
// the cutoff. Pending, unexpired rows are never purged.
func (r *ProposalRepository) PurgeProposalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ? AND (status <> ? OR expires_at < ?)",
			cutoff, int16(proposal.StatusPending), time.Now().UTC()).
		Delete(&ProposalModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging proposals: %w", res.Error)
	}
	return res.RowsAffected, nil
}
