// Package policy implements per-tenant authorization for the Fokal action
// engine: the policy data model, the store-backed resolver with a conservative
// fallback, and the pure authorization guard.
//
// A policy answers two independent questions about a prospective action:
// whether the tenant granted the required authority at all, and whether the
// policy mode (or the amount involved) forces a human-approval detour.
package policy

import (
	"context"
	"errors"
)

// Sentinel errors for policy enforcement.
var (
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrRateLimited         = errors.New("hourly operation limit exceeded")
)

// Mode is the coarse dial controlling whether granted actions still require
// human approval.
type Mode string

const (
	// ModeReadOnly denies every action regardless of granted authorities.
	ModeReadOnly Mode = "read_only"
	// ModePropose turns every granted action into a pending proposal.
	ModePropose Mode = "propose"
	// ModeAutoSafe auto-executes granted actions within the safe envelope.
	ModeAutoSafe Mode = "auto_safe"
	// ModeAutoAll auto-executes every granted action.
	ModeAutoAll Mode = "auto_all"
)

// ParseMode converts a stored string to a Mode.
// Unrecognized values fall back to ModeReadOnly (never fail open).
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeReadOnly, ModePropose, ModeAutoSafe, ModeAutoAll:
		return Mode(s)
	default:
		return ModeReadOnly
	}
}

// RiskLevel classifies the danger of a proposed action.
type RiskLevel int

const (
	RiskLow    RiskLevel = iota // Read-only or trivially reversible.
	RiskMedium                  // Writes to tenant-scoped records.
	RiskHigh                    // Money movement, outbound email, bulk operations.
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseRiskLevel converts a string to a RiskLevel.
// Unrecognized values default to RiskHigh (default-deny principle).
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskHigh
	}
}

// Authority names granted to tenants. Tools declare which one they need.
const (
	AuthorityReadCRM       = "READ_CRM"
	AuthorityCreateLead    = "CREATE_LEAD"
	AuthorityUpdateClient  = "UPDATE_CLIENT"
	AuthoritySendEmail     = "SEND_EMAIL"
	AuthorityCreateInvoice = "CREATE_INVOICE"
	AuthorityBookSession   = "BOOK_SESSION"
	AuthorityRunReport     = "RUN_REPORT"
)

// Policy is the per-tenant authorization policy.
type Policy struct {
	Mode                       Mode                `json:"mode"`
	Authorities                []string            `json:"authorities"`
	ApprovalRequiredOverAmount float64             `json:"approval_required_over_amount"`
	MaxOpsPerHour              int                 `json:"max_ops_per_hour"`
	RestrictedFields           map[string][]string `json:"restricted_fields,omitempty"`
	AutoSafeActions            []string            `json:"auto_safe_actions,omitempty"`
	EmailDomainTrustlist       []string            `json:"email_domain_trustlist,omitempty"`
}

// HasAuthority reports whether the policy grants the named authority.
func (p *Policy) HasAuthority(authority string) bool {
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// FieldRestricted reports whether the given table/field pair is on the
// policy's restricted list and must not be written by the engine.
func (p *Policy) FieldRestricted(table, field string) bool {
	for _, f := range p.RestrictedFields[table] {
		if f == field {
			return true
		}
	}
	return false
}

// EmailDomainTrusted reports whether the recipient domain is on the tenant's
// trustlist. An empty trustlist trusts nothing.
func (p *Policy) EmailDomainTrusted(domain string) bool {
	for _, d := range p.EmailDomainTrustlist {
		if d == domain {
			return true
		}
	}
	return false
}

// Default returns the hard-coded conservative fallback policy: read-only mode
// with read-class authorities and zero auto-approval headroom. It is built
// from constants, never from partial store data, so a corrupted or
// unreachable policy store degrades safety rather than permissiveness.
func Default() Policy {
	return Policy{
		Mode:                       ModeReadOnly,
		Authorities:                []string{AuthorityReadCRM, AuthorityRunReport},
		ApprovalRequiredOverAmount: 0,
		MaxOpsPerHour:              30,
	}
}

// ExecutionContext carries the identity and policy for one request pipeline.
// It is immutable for the lifetime of the request; the simulate flag is the
// only field the shadow comparator overrides, via Simulated().
type ExecutionContext struct {
	TenantID   string
	UserID     string
	StudioName string
	Policy     Policy
	Simulate   bool // Dry-run: tools must not persist side effects.
}

// GrantedAuthorities returns the policy's authority grants.
func (e *ExecutionContext) GrantedAuthorities() []string {
	return e.Policy.Authorities
}

// Simulated returns a copy of the context with simulate mode forced on.
func (e *ExecutionContext) Simulated() *ExecutionContext {
	clone := *e
	clone.Simulate = true
	return &clone
}

// Store provides persistent storage for tenant policies.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadPolicy returns the stored policy for a tenant.
	// Returns ErrPolicyNotFound when no policy row exists.
	LoadPolicy(ctx context.Context, tenantID string) (Policy, error)
	// SavePolicy creates or replaces the tenant's policy.
	SavePolicy(ctx context.Context, tenantID string, p Policy) error
}

// ErrPolicyNotFound is returned by Store.LoadPolicy when a tenant has no
// stored policy.
var ErrPolicyNotFound = errors.New("policy not found")
