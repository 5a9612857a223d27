package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fokalhq/fokal/internal/audit"
	"github.com/fokalhq/fokal/internal/llm"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/ratelimit"
	"github.com/fokalhq/fokal/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTool is a configurable tools.Tool for pipeline tests.
type fakeTool struct {
	name      string
	authority string
	risk      policy.RiskLevel
	execute   func(ctx context.Context, ectx *policy.ExecutionContext, args map[string]any) (any, error)

	mu    sync.Mutex
	calls []map[string]any
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake " + f.name }
func (f *fakeTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (f *fakeTool) Authority() string           { return f.authority }
func (f *fakeTool) RiskLevel() policy.RiskLevel { return f.risk }
func (f *fakeTool) Validate(map[string]any) error {
	return nil
}

func (f *fakeTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.execute != nil {
		return f.execute(ctx, ectx, args)
	}
	return map[string]any{"done": true}, nil
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTool) lastArgs() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// fakeProvider replays queued responses.
type fakeProvider struct {
	responses []*llm.Response
	requests  []*llm.Request
	err       error
}

func (f *fakeProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &llm.Response{Text: "ok"}, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func (f *fakeProvider) Name() string { return "fake" }

// memAuditStore records appended entries.
type memAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAuditStore) Append(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAuditStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memAuditStore) byStatus(s audit.Status) []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for _, e := range m.entries {
		if e.Status == s {
			out = append(out, e)
		}
	}
	return out
}

// memPolicyStore serves one policy for every tenant.
type memPolicyStore struct {
	policy policy.Policy
}

func (m *memPolicyStore) LoadPolicy(context.Context, string) (policy.Policy, error) {
	return m.policy, nil
}

func (m *memPolicyStore) SavePolicy(context.Context, string, policy.Policy) error {
	return nil
}

type testHarness struct {
	orch     *Orchestrator
	provider *fakeProvider
	audits   *memAuditStore
	registry *tools.Registry
}

func newHarness(t *testing.T, pol policy.Policy, toolset ...tools.Tool) *testHarness {
	t.Helper()
	logger := testLogger()

	registry := tools.NewRegistry()
	for _, tool := range toolset {
		registry.MustRegister(tool)
	}

	provider := &fakeProvider{}
	audits := &memAuditStore{}

	orch := NewOrchestrator(
		NewPlanner(provider, registry, logger),
		tools.NewExecutor(registry, logger),
		registry,
		policy.NewResolver(&memPolicyStore{policy: pol}, logger),
		proposal.NewManager(time.Minute, logger),
		audit.NewLogger(audits, logger),
		logger,
	)
	return &testHarness{orch: orch, provider: provider, audits: audits, registry: registry}
}

func toolCall(name string, args map[string]any) llm.ToolCall {
	raw, _ := json.Marshal(args)
	return llm.ToolCall{ID: "call-1", Name: name, Arguments: raw}
}

func TestProcess_DirectTextAnswer(t *testing.T) {
	h := newHarness(t, policy.Default())
	h.provider.responses = []*llm.Response{{Text: "Your next session is Tuesday.", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "when is my next session?"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusSuccess {
		t.Errorf("status = %s", out.Status)
	}
	if out.Message != "Your next session is Tuesday." {
		t.Errorf("message = %q", out.Message)
	}
	if out.TokensUsed != 15 {
		t.Errorf("tokens = %d", out.TokensUsed)
	}
	if out.CorrelationID == "" {
		t.Error("correlation ID not assigned")
	}
}

func TestProcess_ReadOnlyModeDeniesActions(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModeReadOnly, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusDenied {
		t.Fatalf("status = %s, want denied", out.Status)
	}
	if lead.callCount() != 0 {
		t.Error("tool executed despite read-only mode")
	}
	if len(h.audits.byStatus(audit.StatusDenied)) != 1 {
		t.Error("denial not audited")
	}
}

func TestProcess_UngrantedAuthorityDenied(t *testing.T) {
	email := &fakeTool{name: "send_email", authority: policy.AuthoritySendEmail, risk: policy.RiskHigh}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityReadCRM}}
	h := newHarness(t, pol, email)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("send_email", map[string]any{"to": "x@y.com"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "email x@y.com"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusDenied {
		t.Fatalf("status = %s, want denied", out.Status)
	}
	if email.callCount() != 0 {
		t.Error("tool executed without granted authority")
	}
}

func TestProcess_ProposeModeCreatesProposal(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModePropose, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusNeedsApproval {
		t.Fatalf("status = %s, want needs_approval", out.Status)
	}
	if len(out.Proposals) != 1 {
		t.Fatalf("proposals = %d, want 1", len(out.Proposals))
	}
	if !out.Proposals[0].RequiresApproval {
		t.Error("proposal should require approval")
	}
	if lead.callCount() != 0 {
		t.Error("tool executed before approval")
	}
	if len(h.audits.byStatus(audit.StatusProposed)) != 1 {
		t.Error("proposal not audited")
	}
	if !strings.Contains(out.Message, out.Proposals[0].ID) {
		t.Error("approval ask should include the proposal ID")
	}
}

func TestProcess_AutoSafeExecutesLowRisk(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModeAutoSafe, Authorities: []string{policy.AuthorityCreateLead}, ApprovalRequiredOverAmount: 500}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", out.Status)
	}
	if lead.callCount() != 1 {
		t.Errorf("tool calls = %d, want 1", lead.callCount())
	}
	if len(h.audits.byStatus(audit.StatusExecuted)) != 1 {
		t.Error("execution not audited")
	}
}

func TestProcess_AmountAtThresholdNeedsApproval(t *testing.T) {
	invoice := &fakeTool{name: "create_invoice", authority: policy.AuthorityCreateInvoice, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityCreateInvoice}, ApprovalRequiredOverAmount: 500}
	h := newHarness(t, pol, invoice)

	tests := []struct {
		name   string
		amount float64
		want   Status
	}{
		{"below threshold auto-executes", 499.99, StatusSuccess},
		{"at threshold needs approval", 500, StatusNeedsApproval},
		{"above threshold needs approval", 500.01, StatusNeedsApproval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_invoice", map[string]any{"amount": tt.amount})}}}
			out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "invoice"})
			if err != nil {
				t.Fatal(err)
			}
			if out.Status != tt.want {
				t.Errorf("amount %v: status = %s, want %s", tt.amount, out.Status, tt.want)
			}
		})
	}
}

func TestProcess_SensitiveToolAlwaysNeedsApproval(t *testing.T) {
	bulk := &fakeTool{name: "send_bulk_email", authority: policy.AuthoritySendEmail, risk: policy.RiskHigh}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthoritySendEmail}}
	h := newHarness(t, pol, bulk)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("send_bulk_email", map[string]any{"segment": "all"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "email everyone"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusNeedsApproval {
		t.Fatalf("status = %s, want needs_approval even in auto_all", out.Status)
	}
	if bulk.callCount() != 0 {
		t.Error("sensitive tool executed without approval")
	}
}

func TestProcess_AutoSafeListGatesUnlistedTools(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	book := &fakeTool{name: "book_session", authority: policy.AuthorityBookSession, risk: policy.RiskMedium}
	pol := policy.Policy{
		Mode:            policy.ModeAutoSafe,
		Authorities:     []string{policy.AuthorityCreateLead, policy.AuthorityBookSession},
		AutoSafeActions: []string{"create_lead"},
	}
	h := newHarness(t, pol, lead, book)

	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}
	out, _ := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead"})
	if out.Status != StatusSuccess {
		t.Errorf("listed tool status = %s, want success", out.Status)
	}

	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("book_session", map[string]any{"date": "2026-09-01"})}}}
	out, _ = h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "book a session"})
	if out.Status != StatusNeedsApproval {
		t.Errorf("unlisted tool status = %s, want needs_approval", out.Status)
	}
}

func TestProcess_SearchQueryCleaned(t *testing.T) {
	search := &fakeTool{name: "search_clients", authority: policy.AuthorityReadCRM, risk: policy.RiskLow}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityReadCRM}}
	h := newHarness(t, pol, search)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("search_clients", map[string]any{"query": "show me all the Smiths"})}}}

	if _, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "find smiths"}); err != nil {
		t.Fatal(err)
	}
	if got := search.lastArgs()["query"]; got != "smiths" {
		t.Errorf("query = %q, want cleaned %q", got, "smiths")
	}
}

func TestProcess_UnknownToolBecomesFailureResult(t *testing.T) {
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityReadCRM}}
	h := newHarness(t, pol)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("no_such_tool", map[string]any{})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "do the thing"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s", out.Status)
	}
	if len(out.Results) != 1 || out.Results[0].OK {
		t.Fatalf("results = %+v, want one failure", out.Results)
	}
	if out.Results[0].Error != tools.ErrCodeUnknownTool {
		t.Errorf("error = %q, want %q", out.Results[0].Error, tools.ErrCodeUnknownTool)
	}
}

func TestProcess_PlannerFailureReturnsErrorOutcome(t *testing.T) {
	h := newHarness(t, policy.Default())
	h.provider.err = errors.New("provider down")

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusError {
		t.Errorf("status = %s, want error", out.Status)
	}
}

func TestProcess_RateLimited(t *testing.T) {
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityReadCRM}, MaxOpsPerHour: 1}
	h := newHarness(t, pol)
	h.orch.WithRateLimiter(ratelimit.NewLimiter())
	h.provider.responses = []*llm.Response{{Text: "hi"}, {Text: "hi again"}}

	if out, _ := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "hello"}); out.Status != StatusSuccess {
		t.Fatalf("first request status = %s", out.Status)
	}
	out, _ := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "hello again"})
	if out.Status != StatusDenied {
		t.Errorf("second request status = %s, want denied", out.Status)
	}
}

func TestProcess_SimulateLeavesNoAuditTrail(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane", Simulate: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s: %s", out.Status, out.Message)
	}
	if lead.callCount() != 1 {
		t.Errorf("tool calls = %d, want 1", lead.callCount())
	}
	if h.audits.count() != 0 {
		t.Errorf("audit entries = %d, a dry run must not be recorded", h.audits.count())
	}
}

func TestProcess_SimulateProposalNotApprovable(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModePropose, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane", Simulate: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusNeedsApproval || len(out.Proposals) != 1 {
		t.Fatalf("outcome = %s with %d proposals", out.Status, len(out.Proposals))
	}
	if h.audits.count() != 0 {
		t.Errorf("audit entries = %d, a dry-run proposal must not be recorded", h.audits.count())
	}

	// The dry-run proposal is never tracked, so approving it must fail
	// rather than execute the action for real.
	resumed, err := h.orch.ResumeWithProposal(context.Background(), out.Proposals[0].ID, "owner-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != StatusError {
		t.Fatalf("resumed status = %s, want error", resumed.Status)
	}
	if lead.callCount() != 0 {
		t.Error("dry-run proposal executed for real after approval")
	}
}

func TestProcess_SimulateSkipsRateLimiter(t *testing.T) {
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityReadCRM}, MaxOpsPerHour: 1}
	h := newHarness(t, pol)
	h.orch.WithRateLimiter(ratelimit.NewLimiter())
	h.provider.responses = []*llm.Response{{Text: "dry"}, {Text: "dry again"}, {Text: "real"}}

	for i := 0; i < 2; i++ {
		if out, _ := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "hello", Simulate: true}); out.Status != StatusSuccess {
			t.Fatalf("simulate request %d status = %s", i+1, out.Status)
		}
	}
	out, _ := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "hello"})
	if out.Status != StatusSuccess {
		t.Errorf("real request status = %s, dry runs must not consume the hourly budget", out.Status)
	}
}

func TestResumeWithProposal_ApproveExecutes(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModePropose, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusNeedsApproval {
		t.Fatalf("status = %s", out.Status)
	}

	resumed, err := h.orch.ResumeWithProposal(context.Background(), out.Proposals[0].ID, "owner-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != StatusSuccess {
		t.Fatalf("resumed status = %s: %s", resumed.Status, resumed.Message)
	}
	if lead.callCount() != 1 {
		t.Errorf("tool calls = %d, want 1", lead.callCount())
	}

	executed := h.audits.byStatus(audit.StatusExecuted)
	if len(executed) != 1 {
		t.Fatalf("executed audit entries = %d", len(executed))
	}
	if executed[0].ApprovedBy != "owner-1" {
		t.Errorf("approved_by = %q", executed[0].ApprovedBy)
	}
}

func TestResumeWithProposal_DenySkipsExecution(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModePropose, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, _ := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead"})
	resumed, err := h.orch.ResumeWithProposal(context.Background(), out.Proposals[0].ID, "owner-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != StatusDenied {
		t.Errorf("status = %s, want denied", resumed.Status)
	}
	if lead.callCount() != 0 {
		t.Error("tool executed despite denial")
	}
}

func TestResumeWithProposal_UnknownID(t *testing.T) {
	h := newHarness(t, policy.Default())
	out, err := h.orch.ResumeWithProposal(context.Background(), "nope", "owner-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusError {
		t.Errorf("status = %s, want error", out.Status)
	}
}

func TestResumeWithProposal_ApproveTwice(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModePropose, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol, lead)
	h.provider.responses = []*llm.Response{{ToolCalls: []llm.ToolCall{toolCall("create_lead", map[string]any{"name": "Jane"})}}}

	out, _ := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead"})
	if _, err := h.orch.ResumeWithProposal(context.Background(), out.Proposals[0].ID, "owner-1", true); err != nil {
		t.Fatal(err)
	}
	second, err := h.orch.ResumeWithProposal(context.Background(), out.Proposals[0].ID, "owner-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != StatusError {
		t.Errorf("second approval status = %s, want error", second.Status)
	}
	if lead.callCount() != 1 {
		t.Errorf("tool calls = %d, want exactly 1", lead.callCount())
	}
}

func planJSON(t *testing.T, steps []PlanStep) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"steps": steps})
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestProcess_PlanExecutesInOrder(t *testing.T) {
	var order []string
	record := func(name string) func(context.Context, *policy.ExecutionContext, map[string]any) (any, error) {
		return func(context.Context, *policy.ExecutionContext, map[string]any) (any, error) {
			order = append(order, name)
			return map[string]any{"done": true}, nil
		}
	}
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium, execute: record("create_lead")}
	book := &fakeTool{name: "book_session", authority: policy.AuthorityBookSession, risk: policy.RiskMedium, execute: record("book_session")}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityCreateLead, policy.AuthorityBookSession}}

	h := newHarness(t, pol, lead, book)
	h.orch.WithPlanning(true)
	h.provider.responses = []*llm.Response{{Text: planJSON(t, []PlanStep{
		{Tool: "create_lead", Description: "create the lead", Args: map[string]any{"name": "Jane"}},
		{Tool: "book_session", Description: "book the session", Args: map[string]any{"date": "2026-09-01"}},
	})}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane and then book a session"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s: %s", out.Status, out.Message)
	}
	if len(order) != 2 || order[0] != "create_lead" || order[1] != "book_session" {
		t.Errorf("execution order = %v", order)
	}
	if !strings.Contains(out.Message, "Executed 2/2 steps successfully") {
		t.Errorf("summary = %q", out.Message)
	}
}

func TestProcess_PlanHaltsAfterCreateClassFailure(t *testing.T) {
	lead := &fakeTool{
		name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium,
		execute: func(context.Context, *policy.ExecutionContext, map[string]any) (any, error) {
			return nil, errors.New("duplicate key value violates unique constraint")
		},
	}
	book := &fakeTool{name: "book_session", authority: policy.AuthorityBookSession, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityCreateLead, policy.AuthorityBookSession}}

	h := newHarness(t, pol, lead, book)
	h.orch.WithPlanning(true)
	h.provider.responses = []*llm.Response{{Text: planJSON(t, []PlanStep{
		{Tool: "create_lead", Args: map[string]any{"name": "Jane"}},
		{Tool: "book_session", Args: map[string]any{"date": "2026-09-01"}},
	})}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane and then book a session"})
	if err != nil {
		t.Fatal(err)
	}
	if book.callCount() != 0 {
		t.Error("plan should halt before the step after a failed create")
	}
	if !strings.Contains(out.Message, "Executed 0/2 steps successfully") {
		t.Errorf("summary = %q", out.Message)
	}
	if !strings.Contains(out.Message, "skipped after an earlier failure") {
		t.Errorf("summary missing skip note: %q", out.Message)
	}
}

func TestProcess_PlanReadFailureDoesNotHalt(t *testing.T) {
	search := &fakeTool{
		name: "search_clients", authority: policy.AuthorityReadCRM, risk: policy.RiskLow,
		execute: func(context.Context, *policy.ExecutionContext, map[string]any) (any, error) {
			return nil, errors.New("no rows in result set")
		},
	}
	book := &fakeTool{name: "book_session", authority: policy.AuthorityBookSession, risk: policy.RiskMedium}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityReadCRM, policy.AuthorityBookSession}}

	h := newHarness(t, pol, search, book)
	h.orch.WithPlanning(true)
	h.provider.responses = []*llm.Response{{Text: planJSON(t, []PlanStep{
		{Tool: "search_clients", Args: map[string]any{"query": "smith"}},
		{Tool: "book_session", Args: map[string]any{"date": "2026-09-01"}},
	})}}

	if _, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "search clients and then book a session"}); err != nil {
		t.Fatal(err)
	}
	if book.callCount() != 1 {
		t.Error("read-class failure should not halt the plan")
	}
}

func TestProcess_PlanWithDeniedStepRejectedUpfront(t *testing.T) {
	lead := &fakeTool{name: "create_lead", authority: policy.AuthorityCreateLead, risk: policy.RiskMedium}
	email := &fakeTool{name: "send_email", authority: policy.AuthoritySendEmail, risk: policy.RiskHigh}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityCreateLead}}

	h := newHarness(t, pol, lead, email)
	h.orch.WithPlanning(true)
	h.provider.responses = []*llm.Response{{Text: planJSON(t, []PlanStep{
		{Tool: "create_lead", Args: map[string]any{"name": "Jane"}},
		{Tool: "send_email", Args: map[string]any{"to": "jane@example.com"}},
	})}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead for Jane and then send her an email"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusDenied {
		t.Fatalf("status = %s, want denied", out.Status)
	}
	if lead.callCount() != 0 {
		t.Error("no step should execute when a later step is denied")
	}
}

func TestProcess_HighRiskPlanNeedsConfirmation(t *testing.T) {
	invoice := &fakeTool{name: "create_invoice", authority: policy.AuthorityCreateInvoice, risk: policy.RiskHigh}
	email := &fakeTool{name: "send_email", authority: policy.AuthoritySendEmail, risk: policy.RiskHigh}
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityCreateInvoice, policy.AuthoritySendEmail}}

	h := newHarness(t, pol, invoice, email)
	h.orch.WithPlanning(true)
	h.provider.responses = []*llm.Response{{Text: planJSON(t, []PlanStep{
		{Tool: "create_invoice", Args: map[string]any{"amount": 250.0}},
		{Tool: "send_email", Args: map[string]any{"to": "jane@example.com"}},
	})}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create an invoice and then email it"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusNeedsApproval {
		t.Fatalf("status = %s, want needs_approval", out.Status)
	}
	if out.Plan == nil {
		t.Fatal("outcome should carry the plan awaiting confirmation")
	}
	if len(out.Proposals) != 2 {
		t.Errorf("proposals = %d, want one per step", len(out.Proposals))
	}
	if invoice.callCount() != 0 || email.callCount() != 0 {
		t.Error("no step should execute before confirmation")
	}
}

func TestProcess_UnparseablePlanDegradesGracefully(t *testing.T) {
	pol := policy.Policy{Mode: policy.ModeAutoAll, Authorities: []string{policy.AuthorityCreateLead}}
	h := newHarness(t, pol)
	h.orch.WithPlanning(true)
	h.provider.responses = []*llm.Response{{Text: "sorry, I cannot produce a plan"}}

	out, err := h.orch.Process(context.Background(), &Input{TenantID: "t1", UserID: "u1", Message: "create a lead and then send an email"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusError {
		t.Errorf("status = %s, want error", out.Status)
	}
	if !strings.Contains(out.Message, "rephrase") {
		t.Errorf("message should ask the user to rephrase: %q", out.Message)
	}
}

func TestExtractAmount(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want float64
	}{
		{"float amount", map[string]any{"amount": 250.5}, 250.5},
		{"total key", map[string]any{"total": 99.0}, 99},
		{"price key", map[string]any{"price": 10.0}, 10},
		{"string amount", map[string]any{"amount": "42.50"}, 42.5},
		{"no amount", map[string]any{"name": "Jane"}, 0},
		{"amount wins over price", map[string]any{"amount": 5.0, "price": 10.0}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractAmount(tt.args); got != tt.want {
				t.Errorf("extractAmount(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}
