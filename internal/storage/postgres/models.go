package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JSONB is a json.RawMessage that implements the driver.Valuer and sql.Scanner
// interfaces for GORM JSONB columns. SQLite stores it as TEXT.
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("unsupported JSONB source type %T", src)
	}
}

// PolicyModel maps to the "tenant_policies" table. One row per tenant.
type PolicyModel struct {
	TenantID                   string `gorm:"primaryKey"`
	Mode                       string `gorm:"not null;default:'read_only'"`
	Authorities                JSONB  `gorm:"type:jsonb;not null;default:'[]'"`
	ApprovalRequiredOverAmount float64
	MaxOpsPerHour              int
	RestrictedFields           JSONB `gorm:"type:jsonb"`
	AutoSafeActions            JSONB `gorm:"type:jsonb"`
	EmailDomainTrustlist       JSONB `gorm:"type:jsonb"`
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

func (PolicyModel) TableName() string { return "tenant_policies" }

// AuditEntryModel maps to the "audit_entries" table. Append-only.
type AuditEntryModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TenantID    string `gorm:"not null;index:idx_audit_tenant_created"`
	UserID      string
	Action      string `gorm:"not null"`
	TargetTable string
	TargetID    string
	Before      JSONB `gorm:"type:jsonb"`
	After       JSONB `gorm:"type:jsonb"`
	Status      string `gorm:"not null"`
	RiskLevel   string
	ApprovedBy  string
	Amount      float64 `gorm:"type:numeric(14,2)"`
	Metadata    JSONB   `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"index:idx_audit_tenant_created"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }

// ProposalModel maps to the "proposals" table.
type ProposalModel struct {
	ID            string `gorm:"primaryKey"`
	TenantID      string `gorm:"not null;index"`
	UserID        string
	Tool          string `gorm:"not null"`
	Args          JSONB  `gorm:"type:jsonb;not null;default:'{}'"`
	Label         string
	Reason        string
	RiskLevel     string
	Amount        float64 `gorm:"type:numeric(14,2)"`
	CorrelationID string
	Status        int16 `gorm:"not null;default:0"`
	ResolvedBy    string
	CreatedAt     time.Time
	ExpiresAt     time.Time `gorm:"index"`
	ResolvedAt    *time.Time
}

func (ProposalModel) TableName() string { return "proposals" }

// ShadowDiffModel maps to the "shadow_diffs" table.
type ShadowDiffModel struct {
	ID                 string `gorm:"primaryKey"`
	CorrelationID      string `gorm:"index"`
	TenantID           string `gorm:"not null;index"`
	UserMessage        string
	ProductionStatus   string
	ProductionText     string
	ProductionCalls    JSONB `gorm:"type:jsonb"`
	CandidateStatus    string
	CandidateText      string
	CandidateCalls     JSONB `gorm:"type:jsonb"`
	Match              bool  `gorm:"index"`
	ProductionError    string
	CandidateError     string
	ProductionDuration int64 // Nanoseconds.
	CandidateDuration  int64
	CreatedAt          time.Time `gorm:"index"`
}

func (ShadowDiffModel) TableName() string { return "shadow_diffs" }

// ClientModel maps to the "clients" table.
type ClientModel struct {
	ID           string `gorm:"primaryKey"`
	TenantID     string `gorm:"not null;index:idx_clients_tenant"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"index"`
	Phone        string
	Notes        string
	DiscountRate float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (ClientModel) TableName() string { return "clients" }

// LeadModel maps to the "leads" table.
type LeadModel struct {
	ID        string `gorm:"primaryKey"`
	TenantID  string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Email     string
	Phone     string
	Source    string
	Notes     string
	Status    string `gorm:"not null;default:'new'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LeadModel) TableName() string { return "leads" }

// InvoiceModel maps to the "invoices" table.
type InvoiceModel struct {
	ID          string `gorm:"primaryKey"`
	TenantID    string `gorm:"not null;index"`
	ClientID    string `gorm:"index"`
	Amount      float64 `gorm:"type:numeric(14,2);not null"`
	Currency    string  `gorm:"not null;default:'USD'"`
	Description string
	Status      string `gorm:"not null;default:'draft'"`
	DueDate     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (InvoiceModel) TableName() string { return "invoices" }

// SessionModel maps to the "sessions" table.
type SessionModel struct {
	ID        string `gorm:"primaryKey"`
	TenantID  string `gorm:"not null;index:idx_sessions_tenant_start"`
	ClientID  string
	Kind      string
	StartsAt  time.Time `gorm:"not null;index:idx_sessions_tenant_start"`
	EndsAt    time.Time `gorm:"not null"`
	Location  string
	Notes     string
	CreatedAt time.Time
}

func (SessionModel) TableName() string { return "sessions" }

// EmailModel maps to the "email_log" table.
type EmailModel struct {
	ID        string `gorm:"primaryKey"`
	TenantID  string `gorm:"not null;index"`
	To        string `gorm:"column:recipient;not null"`
	Subject   string
	Body      string
	Status    string `gorm:"not null"`
	CreatedAt time.Time
}

func (EmailModel) TableName() string { return "email_log" }
