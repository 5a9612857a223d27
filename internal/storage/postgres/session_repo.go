package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fokalhq/fokal/internal/crm"
)

// SessionRepository implements crm.SessionStore with PostgreSQL.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// BookSession inserts a session after checking the window for overlaps.
// The check and insert run in one transaction.
func (r *SessionRepository) BookSession(ctx context.Context, s *crm.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&SessionModel{}).
			Scopes(TenantScope(s.TenantID)).
			Where("starts_at < ? AND ? < ends_at", s.EndsAt, s.StartsAt).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("checking session overlap: %w", err)
		}
		if count > 0 {
			return crm.ErrSlotTaken
		}

		model := toSessionModel(s)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		return nil
	})
}

// ListSessions returns sessions overlapping the [from, to) window, ordered by
// start time.
func (r *SessionRepository) ListSessions(ctx context.Context, tenantID string, from, to time.Time) ([]crm.Session, error) {
	var models []SessionModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("starts_at < ? AND ? < ends_at", to, from).
		Order("starts_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]crm.Session, len(models))
	for i := range models {
		sessions[i] = toSessionDomain(&models[i])
	}
	return sessions, nil
}
