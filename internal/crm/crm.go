// Package crm holds the studio's client-facing domain records and their store
// contracts: clients, leads, invoices, sessions, and the outbound email log.
// Domain types are ORM-free; persistence lives under internal/storage.
package crm

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrClientNotFound  = errors.New("client not found")
	ErrLeadNotFound    = errors.New("lead not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrSlotTaken       = errors.New("session slot already booked")
)

// Client is a studio client record.
type Client struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	DiscountRate float64   `json:"discount_rate,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Lead is a prospective client captured from an inquiry.
type Lead struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Source    string    `json:"source,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Lead statuses.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusConverted = "converted"
	LeadStatusLost      = "lost"
)

// Invoice is a billing record for a client.
type Invoice struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ClientID    string    `json:"client_id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	DueDate     time.Time `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Invoice statuses.
const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusSent  = "sent"
	InvoiceStatusPaid  = "paid"
	InvoiceStatusVoid  = "void"
)

// Session is a booked photography session on the studio calendar.
type Session struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ClientID  string    `json:"client_id,omitempty"`
	Kind      string    `json:"kind"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Location  string    `json:"location,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EmailRecord is one outbound email logged in the tenant's outbox.
type EmailRecord struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Email statuses.
const (
	EmailStatusSent      = "sent"
	EmailStatusSimulated = "simulated"
)

// ClientStore persists clients and leads.
type ClientStore interface {
	GetClient(ctx context.Context, tenantID, id string) (*Client, error)
	UpdateClient(ctx context.Context, tenantID, id string, fields map[string]any) (*Client, error)
	SearchClients(ctx context.Context, tenantID, query string, limit int) ([]Client, error)
	CreateLead(ctx context.Context, lead *Lead) error
	GetLead(ctx context.Context, tenantID, id string) (*Lead, error)
}

// InvoiceStore persists invoices.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, tenantID, id string) (*Invoice, error)
}

// SessionStore persists calendar sessions. BookSession fails with ErrSlotTaken
// when the requested window overlaps an existing session for the tenant.
type SessionStore interface {
	BookSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, tenantID string, from, to time.Time) ([]Session, error)
}

// EmailStore persists the outbound email log.
type EmailStore interface {
	RecordEmail(ctx context.Context, e *EmailRecord) error
}

// EmailDomain extracts the domain part of an address, lowercased. Returns an
// empty string for malformed addresses.
func EmailDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// Overlaps reports whether two half-open time windows intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
