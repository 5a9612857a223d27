package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fokalhq/fokal/internal/crm"
)

// ClientRepository implements crm.ClientStore with PostgreSQL.
type ClientRepository struct {
	db *gorm.DB
}

// NewClientRepository creates a ClientRepository.
func NewClientRepository(db *gorm.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// GetClient returns one client by ID within the tenant scope.
func (r *ClientRepository) GetClient(ctx context.Context, tenantID, id string) (*crm.Client, error) {
	var model ClientModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, crm.ErrClientNotFound
		}
		return nil, fmt.Errorf("getting client %s: %w", id, err)
	}
	return toClientDomain(&model), nil
}

// UpdateClient applies the given field values to a client row. Callers are
// responsible for field-level policy checks before calling.
func (r *ClientRepository) UpdateClient(ctx context.Context, tenantID, id string, fields map[string]any) (*crm.Client, error) {
	res := r.db.WithContext(ctx).
		Model(&ClientModel{}).
		Scopes(TenantScope(tenantID)).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("updating client %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, crm.ErrClientNotFound
	}
	return r.GetClient(ctx, tenantID, id)
}

// SearchClients matches the cleaned query against name, email, and notes.
// Limit defaults to 20.
func (r *ClientRepository) SearchClients(ctx context.Context, tenantID, query string, limit int) ([]crm.Client, error) {
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + query + "%"
	var models []ClientModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("name LIKE ? OR email LIKE ? OR notes LIKE ?", pattern, pattern, pattern).
		Order("name ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("searching clients: %w", err)
	}

	clients := make([]crm.Client, len(models))
	for i := range models {
		clients[i] = *toClientDomain(&models[i])
	}
	return clients, nil
}

// CreateLead inserts a lead, assigning an ID and defaults where missing.
func (r *ClientRepository) CreateLead(ctx context.Context, lead *crm.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = crm.LeadStatusNew
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}

	model := toLeadModel(lead)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating lead: %w", err)
	}
	return nil
}

// GetLead returns one lead by ID within the tenant scope.
func (r *ClientRepository) GetLead(ctx context.Context, tenantID, id string) (*crm.Lead, error) {
	var model LeadModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, crm.ErrLeadNotFound
		}
		return nil, fmt.Errorf("getting lead %s: %w", id, err)
	}
	return toLeadDomain(&model), nil
}
