package postgres

import (
	"encoding/json"
	"time"

	"github.com/fokalhq/fokal/internal/audit"
	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/shadow"
)

// mustJSON marshals v, falling back to null on failure. Conversion never
// blocks a write over an unmarshalable field.
func mustJSON(v any) JSONB {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return JSONB("null")
	}
	return JSONB(raw)
}

func unmarshalStrings(raw JSONB) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalStringMap(raw JSONB) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	var out map[string][]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalAnyMap(raw JSONB) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// --- Policy ---

func toPolicyModel(tenantID string, p policy.Policy) PolicyModel {
	return PolicyModel{
		TenantID:                   tenantID,
		Mode:                       string(p.Mode),
		Authorities:                mustJSON(p.Authorities),
		ApprovalRequiredOverAmount: p.ApprovalRequiredOverAmount,
		MaxOpsPerHour:              p.MaxOpsPerHour,
		RestrictedFields:           mustJSON(p.RestrictedFields),
		AutoSafeActions:            mustJSON(p.AutoSafeActions),
		EmailDomainTrustlist:       mustJSON(p.EmailDomainTrustlist),
	}
}

func toPolicyDomain(m *PolicyModel) policy.Policy {
	return policy.Policy{
		Mode:                       policy.ParseMode(m.Mode),
		Authorities:                unmarshalStrings(m.Authorities),
		ApprovalRequiredOverAmount: m.ApprovalRequiredOverAmount,
		MaxOpsPerHour:              m.MaxOpsPerHour,
		RestrictedFields:           unmarshalStringMap(m.RestrictedFields),
		AutoSafeActions:            unmarshalStrings(m.AutoSafeActions),
		EmailDomainTrustlist:       unmarshalStrings(m.EmailDomainTrustlist),
	}
}

// --- Audit ---

func toAuditModel(e audit.Entry) AuditEntryModel {
	return AuditEntryModel{
		TenantID:    e.TenantID,
		UserID:      e.UserID,
		Action:      e.Action,
		TargetTable: e.TargetTable,
		TargetID:    e.TargetID,
		Before:      mustJSON(e.Before),
		After:       mustJSON(e.After),
		Status:      string(e.Status),
		RiskLevel:   e.RiskLevel,
		ApprovedBy:  e.ApprovedBy,
		Amount:      e.Amount,
		Metadata:    mustJSON(e.Metadata),
		CreatedAt:   e.CreatedAt,
	}
}

func toAuditDomain(m *AuditEntryModel) audit.Entry {
	return audit.Entry{
		TenantID:    m.TenantID,
		UserID:      m.UserID,
		Action:      m.Action,
		TargetTable: m.TargetTable,
		TargetID:    m.TargetID,
		Before:      unmarshalAnyMap(m.Before),
		After:       unmarshalAnyMap(m.After),
		Status:      audit.Status(m.Status),
		RiskLevel:   m.RiskLevel,
		ApprovedBy:  m.ApprovedBy,
		Amount:      m.Amount,
		Metadata:    unmarshalAnyMap(m.Metadata),
		CreatedAt:   m.CreatedAt,
	}
}

// --- Proposals ---

func toProposalModel(p *proposal.Pending) ProposalModel {
	m := ProposalModel{
		ID:            p.Proposal.ID,
		TenantID:      p.TenantID,
		UserID:        p.UserID,
		Tool:          p.Proposal.Tool,
		Args:          mustJSON(p.Proposal.Args),
		Label:         p.Proposal.Label,
		Reason:        p.Proposal.Reason,
		RiskLevel:     p.Proposal.RiskLevel.String(),
		Amount:        p.Amount,
		CorrelationID: p.CorrelationID,
		Status:        int16(p.Status),
		ResolvedBy:    p.ResolvedBy,
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
	}
	if !p.ResolvedAt.IsZero() {
		resolved := p.ResolvedAt
		m.ResolvedAt = &resolved
	}
	return m
}

func toPendingDomain(m *ProposalModel) *proposal.Pending {
	p := &proposal.Pending{
		Proposal: proposal.Proposal{
			ID:               m.ID,
			Tool:             m.Tool,
			Args:             unmarshalAnyMap(m.Args),
			RequiresApproval: true,
			Label:            m.Label,
			Reason:           m.Reason,
			RiskLevel:        policy.ParseRiskLevel(m.RiskLevel),
			CreatedAt:        m.CreatedAt,
		},
		TenantID:      m.TenantID,
		UserID:        m.UserID,
		CorrelationID: m.CorrelationID,
		Amount:        m.Amount,
		Status:        proposal.Status(m.Status),
		ResolvedBy:    m.ResolvedBy,
		CreatedAt:     m.CreatedAt,
		ExpiresAt:     m.ExpiresAt,
	}
	if m.ResolvedAt != nil {
		p.ResolvedAt = *m.ResolvedAt
	}
	return p
}

// --- Shadow diffs ---

func toShadowDiffModel(rec shadow.DiffRecord) ShadowDiffModel {
	return ShadowDiffModel{
		ID:                 rec.ID,
		CorrelationID:      rec.CorrelationID,
		TenantID:           rec.TenantID,
		UserMessage:        rec.UserMessage,
		ProductionStatus:   rec.ProductionStatus,
		ProductionText:     rec.ProductionText,
		ProductionCalls:    JSONB(rec.ProductionCalls),
		CandidateStatus:    rec.CandidateStatus,
		CandidateText:      rec.CandidateText,
		CandidateCalls:     JSONB(rec.CandidateCalls),
		Match:              rec.Match,
		ProductionError:    rec.ProductionError,
		CandidateError:     rec.CandidateError,
		ProductionDuration: int64(rec.ProductionDuration),
		CandidateDuration:  int64(rec.CandidateDuration),
		CreatedAt:          rec.CreatedAt,
	}
}

func toShadowDiffDomain(m *ShadowDiffModel) shadow.DiffRecord {
	return shadow.DiffRecord{
		ID:                 m.ID,
		CorrelationID:      m.CorrelationID,
		TenantID:           m.TenantID,
		UserMessage:        m.UserMessage,
		ProductionStatus:   m.ProductionStatus,
		ProductionText:     m.ProductionText,
		ProductionCalls:    json.RawMessage(m.ProductionCalls),
		CandidateStatus:    m.CandidateStatus,
		CandidateText:      m.CandidateText,
		CandidateCalls:     json.RawMessage(m.CandidateCalls),
		Match:              m.Match,
		ProductionError:    m.ProductionError,
		CandidateError:     m.CandidateError,
		ProductionDuration: time.Duration(m.ProductionDuration),
		CandidateDuration:  time.Duration(m.CandidateDuration),
		CreatedAt:          m.CreatedAt,
	}
}

// --- CRM ---

func toClientDomain(m *ClientModel) *crm.Client {
	return &crm.Client{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		Email:        m.Email,
		Phone:        m.Phone,
		Notes:        m.Notes,
		DiscountRate: m.DiscountRate,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toLeadModel(l *crm.Lead) LeadModel {
	return LeadModel{
		ID:        l.ID,
		TenantID:  l.TenantID,
		Name:      l.Name,
		Email:     l.Email,
		Phone:     l.Phone,
		Source:    l.Source,
		Notes:     l.Notes,
		Status:    l.Status,
		CreatedAt: l.CreatedAt,
	}
}

func toLeadDomain(m *LeadModel) *crm.Lead {
	return &crm.Lead{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Email:     m.Email,
		Phone:     m.Phone,
		Source:    m.Source,
		Notes:     m.Notes,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

func toInvoiceModel(inv *crm.Invoice) InvoiceModel {
	return InvoiceModel{
		ID:          inv.ID,
		TenantID:    inv.TenantID,
		ClientID:    inv.ClientID,
		Amount:      inv.Amount,
		Currency:    inv.Currency,
		Description: inv.Description,
		Status:      inv.Status,
		DueDate:     inv.DueDate,
		CreatedAt:   inv.CreatedAt,
	}
}

func toInvoiceDomain(m *InvoiceModel) *crm.Invoice {
	return &crm.Invoice{
		ID:          m.ID,
		TenantID:    m.TenantID,
		ClientID:    m.ClientID,
		Amount:      m.Amount,
		Currency:    m.Currency,
		Description: m.Description,
		Status:      m.Status,
		DueDate:     m.DueDate,
		CreatedAt:   m.CreatedAt,
	}
}

func toSessionModel(s *crm.Session) SessionModel {
	return SessionModel{
		ID:        s.ID,
		TenantID:  s.TenantID,
		ClientID:  s.ClientID,
		Kind:      s.Kind,
		StartsAt:  s.StartsAt,
		EndsAt:    s.EndsAt,
		Location:  s.Location,
		Notes:     s.Notes,
		CreatedAt: s.CreatedAt,
	}
}

func toSessionDomain(m *SessionModel) crm.Session {
	return crm.Session{
		ID:        m.ID,
		TenantID:  m.TenantID,
		ClientID:  m.ClientID,
		Kind:      m.Kind,
		StartsAt:  m.StartsAt,
		EndsAt:    m.EndsAt,
		Location:  m.Location,
		Notes:     m.Notes,
		CreatedAt: m.CreatedAt,
	}
}

func toEmailModel(e *crm.EmailRecord) EmailModel {
	return EmailModel{
		ID:        e.ID,
		TenantID:  e.TenantID,
		To:        e.To,
		Subject:   e.Subject,
		Body:      e.Body,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
	}
}
