package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fokalhq/fokal/internal/crm"
)

// EmailRepository implements crm.EmailStore with PostgreSQL.
type EmailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates an EmailRepository.
func NewEmailRepository(db *gorm.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

// RecordEmail appends one entry to the tenant's outbound email log.
func (r *EmailRepository) RecordEmail(ctx context.Context, e *crm.EmailRecord) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	model := toEmailModel(e)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("recording email: %w", err)
	}
	return nil
}
