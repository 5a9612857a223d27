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

// InvoiceRepository implements crm.InvoiceStore with PostgreSQL.
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates an InvoiceRepository.
func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateInvoice inserts an invoice, assigning an ID and defaults where
// missing.
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *crm.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Currency == "" {
		inv.Currency = "USD"
	}
	if inv.Status == "" {
		inv.Status = crm.InvoiceStatusDraft
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	model := toInvoiceModel(inv)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating invoice: %w", err)
	}
	return nil
}

// GetInvoice returns one invoice by ID within the tenant scope.
func (r *InvoiceRepository) GetInvoice(ctx context.Context, tenantID, id string) (*crm.Invoice, error) {
	var model InvoiceModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, crm.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("getting invoice %s: %w", id, err)
	}
	return toInvoiceDomain(&model), nil
}
