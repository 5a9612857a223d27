package httpapi

import (
	"net/http"
	"testing"

	"github.com/fokalhq/fokal/internal/agent"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/proposal"
)

func TestStatusToHTTP(t *testing.T) {
	tests := []struct {
		status agent.Status
		want   int
	}{
		{agent.StatusSuccess, http.StatusOK},
		{agent.StatusNeedsApproval, http.StatusAccepted},
		{agent.StatusDenied, http.StatusForbidden},
		{agent.StatusError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusToHTTP(tt.status); got != tt.want {
			t.Errorf("statusToHTTP(%s) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestActionResponse(t *testing.T) {
	p := proposal.New("create_invoice", map[string]any{"amount": 500.0}, true,
		"Create a 500 USD invoice", "amount is at or above the auto-approval threshold", policy.RiskHigh)

	outcome := &agent.Outcome{
		Status:        agent.StatusNeedsApproval,
		Message:       "needs approval",
		Proposals:     []proposal.Proposal{p},
		TokensUsed:    42,
		CorrelationID: "corr-1",
	}

	resp := actionResponse(outcome)
	if resp.Status != "needs_approval" {
		t.Errorf("Status = %q", resp.Status)
	}
	if len(resp.Proposals) != 1 {
		t.Fatalf("Proposals = %d, want 1", len(resp.Proposals))
	}
	view := resp.Proposals[0]
	if view.ID != p.ID || view.Tool != "create_invoice" || view.RiskLevel != "high" {
		t.Errorf("proposal view = %+v", view)
	}
	if resp.TokensUsed != 42 || resp.CorrelationID != "corr-1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", defaultAuditLimit},
		{"abc", defaultAuditLimit},
		{"-5", defaultAuditLimit},
		{"0", defaultAuditLimit},
		{"25", 25},
		{"9999", maxListLimit},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.raw, defaultAuditLimit); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestNewCorrelationID(t *testing.T) {
	a := newCorrelationID()
	b := newCorrelationID()
	if len(a) != 16 {
		t.Errorf("length = %d, want 16", len(a))
	}
	if a == b {
		t.Error("correlation IDs should differ")
	}
}
