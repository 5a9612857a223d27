package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/fokalhq/fokal/internal/audit"
	"github.com/fokalhq/fokal/internal/llm"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/ratelimit"
	"github.com/fokalhq/fokal/internal/tools"
)

// Orchestrator drives the full action pipeline for one request:
// rate limit, policy resolution, planning, authorization, proposal or
// execution, audit. It is the production Runner.
type Orchestrator struct {
	planner   *Planner
	executor  *tools.Executor
	registry  *tools.Registry
	resolver  *policy.Resolver
	proposals *proposal.Manager
	auditor   *audit.Logger
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	planning  bool
}

// NewOrchestrator wires the pipeline. Rate limiting and multi-step planning
// are off until enabled with the With* methods.
func NewOrchestrator(
	planner *Planner,
	executor *tools.Executor,
	registry *tools.Registry,
	resolver *policy.Resolver,
	proposals *proposal.Manager,
	auditor *audit.Logger,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		planner:   planner,
		executor:  executor,
		registry:  registry,
		resolver:  resolver,
		proposals: proposals,
		auditor:   auditor,
		logger:    logger,
	}
}

// WithRateLimiter enables per-tenant hourly rate limiting.
func (o *Orchestrator) WithRateLimiter(l *ratelimit.Limiter) *Orchestrator {
	o.limiter = l
	return o
}

// WithPlanning enables multi-step plan decomposition for compound requests.
func (o *Orchestrator) WithPlanning(enabled bool) *Orchestrator {
	o.planning = enabled
	return o
}

// Process runs one user request through the pipeline.
//
// Simulate mode is a full dry run: tools skip their side effects, the rate
// limiter charges nothing, no audit entries are written, and proposals appear
// in the outcome without being tracked, so they can never be approved into a
// real execution.
func (o *Orchestrator) Process(ctx context.Context, input *Input) (*Outcome, error) {
	if input.CorrelationID == "" {
		input.CorrelationID = uuid.NewString()
	}

	pol := o.resolver.Load(ctx, input.TenantID)
	ectx := &policy.ExecutionContext{
		TenantID:   input.TenantID,
		UserID:     input.UserID,
		StudioName: input.StudioName,
		Policy:     pol,
		Simulate:   input.Simulate,
	}

	if o.limiter != nil && !input.Simulate {
		if err := o.limiter.Allow(input.TenantID, pol.MaxOpsPerHour); err != nil {
			o.logger.WarnContext(ctx, "tenant rate limited",
				slog.String("tenant_id", input.TenantID),
				slog.Int("limit", pol.MaxOpsPerHour))
			o.auditor.LogDenied(ctx, input.TenantID, input.UserID, "request", "rate_limited")
			return &Outcome{
				Status:        StatusDenied,
				Message:       "You have reached this hour's operation limit. Please try again later.",
				CorrelationID: input.CorrelationID,
			}, nil
		}
	}

	if o.planning && shouldPlan(input.Message) {
		return o.processPlan(ctx, ectx, input)
	}
	return o.processSingle(ctx, ectx, input)
}

// processSingle handles the common case: the model answers directly or picks
// one or more tool calls for immediate handling.
func (o *Orchestrator) processSingle(ctx context.Context, ectx *policy.ExecutionContext, input *Input) (*Outcome, error) {
	resp, err := o.planner.SelectAction(ctx, ectx, input.Message)
	if err != nil {
		o.logger.ErrorContext(ctx, "planning failed",
			slog.String("tenant_id", input.TenantID),
			slog.String("error", err.Error()))
		return &Outcome{
			Status:        StatusError,
			Message:       "I could not process that request right now. Please try again.",
			CorrelationID: input.CorrelationID,
		}, nil
	}

	tokens := resp.Usage.InputTokens + resp.Usage.OutputTokens

	if !resp.HasToolCalls() {
		return &Outcome{
			Status:        StatusSuccess,
			Message:       resp.Text,
			TokensUsed:    tokens,
			CorrelationID: input.CorrelationID,
		}, nil
	}

	var (
		results   []tools.Result
		proposals []proposal.Proposal
	)
	for _, call := range resp.ToolCalls {
		outcome := o.handleToolCall(ctx, ectx, input, call)
		switch {
		case outcome.denied:
			return &Outcome{
				Status:        StatusDenied,
				Message:       outcome.message,
				CorrelationID: input.CorrelationID,
				TokensUsed:    tokens,
			}, nil
		case outcome.proposed != nil:
			proposals = append(proposals, *outcome.proposed)
		default:
			results = append(results, outcome.result)
		}
	}

	if len(proposals) > 0 {
		return &Outcome{
			Status:        StatusNeedsApproval,
			Message:       proposal.FormatForApproval(proposals),
			Proposals:     proposals,
			Results:       results,
			TokensUsed:    tokens,
			CorrelationID: input.CorrelationID,
		}, nil
	}

	return &Outcome{
		Status:        StatusSuccess,
		Message:       resultsMessage(resp.Text, results),
		Results:       results,
		TokensUsed:    tokens,
		CorrelationID: input.CorrelationID,
	}, nil
}

// callOutcome is the per-call verdict inside processSingle.
type callOutcome struct {
	denied   bool
	message  string
	proposed *proposal.Proposal
	result   tools.Result
}

func (o *Orchestrator) handleToolCall(ctx context.Context, ectx *policy.ExecutionContext, input *Input, call llm.ToolCall) callOutcome {
	args, ok := decodeArgs(call.Arguments)
	if !ok {
		return callOutcome{result: o.executor.Execute(ctx, ectx, call.Name, call.Arguments)}
	}
	cleanSearchArgs(call.Name, args)

	tool := o.registry.Get(call.Name)
	if tool == nil {
		// Executor produces the canonical unknown_tool failure result.
		return callOutcome{result: o.executor.ExecuteParsed(ctx, ectx, call.Name, args)}
	}

	decision := policy.Decide(ectx, tool.Authority())
	if decision == policy.DecisionDeny {
		if !ectx.Simulate {
			o.auditor.LogDenied(ctx, input.TenantID, input.UserID, call.Name, "authority not granted or read-only mode")
		}
		return callOutcome{
			denied:  true,
			message: fmt.Sprintf("The action %q is not permitted under this studio's current settings.", call.Name),
		}
	}

	amount := extractAmount(args)
	if o.requiresApproval(ectx, tool, decision, amount) {
		p := proposal.New(call.Name, args, true,
			tool.Description(),
			approvalReason(ectx, tool, decision, amount),
			tool.RiskLevel())
		if !ectx.Simulate {
			o.proposals.Track(ctx, p, input.TenantID, input.UserID, input.CorrelationID, amount)
			o.auditor.LogProposed(ctx, input.TenantID, input.UserID, call.Name, targetTable(call.Name), tool.RiskLevel().String(), amount)
		}
		return callOutcome{proposed: &p}
	}

	result := o.executor.ExecuteParsed(ctx, ectx, call.Name, args)
	o.auditExecution(ctx, ectx, call.Name, args, result, "", amount)
	return callOutcome{result: result}
}

// requiresApproval applies the approval axes on top of an allow decision:
// explicit propose mode, the monetary threshold, the auto_safe envelope, and
// the always-confirm sensitive set.
func (o *Orchestrator) requiresApproval(ectx *policy.ExecutionContext, tool tools.Tool, decision policy.Decision, amount float64) bool {
	if decision == policy.DecisionPropose {
		return true
	}
	if sensitiveTools[tool.Name()] {
		return true
	}
	if amount > 0 && !policy.WithinAutoApproveLimit(ectx, amount) {
		return true
	}
	if ectx.Policy.Mode == policy.ModeAutoSafe {
		if tool.RiskLevel() == policy.RiskHigh {
			return true
		}
		if len(ectx.Policy.AutoSafeActions) > 0 && !containsString(ectx.Policy.AutoSafeActions, tool.Name()) {
			return true
		}
	}
	return false
}

func approvalReason(ectx *policy.ExecutionContext, tool tools.Tool, decision policy.Decision, amount float64) string {
	switch {
	case decision == policy.DecisionPropose:
		return "this studio requires approval for all actions"
	case sensitiveTools[tool.Name()]:
		return "this action always requires confirmation"
	case amount > 0 && !policy.WithinAutoApproveLimit(ectx, amount):
		return fmt.Sprintf("amount %.2f is at or above the auto-approval threshold", amount)
	case tool.RiskLevel() == policy.RiskHigh:
		return "high-risk action outside the safe envelope"
	default:
		return "action is outside the configured safe list"
	}
}

// processPlan decomposes a compound request, authorizes every step upfront,
// and either surfaces the plan for confirmation or executes it in order.
func (o *Orchestrator) processPlan(ctx context.Context, ectx *policy.ExecutionContext, input *Input) (*Outcome, error) {
	plan, usage, err := o.planner.Decompose(ctx, ectx, input.Message)
	if err != nil {
		if errors.Is(err, ErrPlanUnparseable) {
			return &Outcome{
				Status:        StatusError,
				Message:       "I could not break that request into steps. Could you rephrase it, one action at a time?",
				CorrelationID: input.CorrelationID,
				TokensUsed:    usageTokens(usage),
			}, nil
		}
		o.logger.ErrorContext(ctx, "plan decomposition failed",
			slog.String("tenant_id", input.TenantID),
			slog.String("error", err.Error()))
		return &Outcome{
			Status:        StatusError,
			Message:       "I could not process that request right now. Please try again.",
			CorrelationID: input.CorrelationID,
		}, nil
	}

	// Authorize every step before executing any.
	needsProposal := false
	for _, step := range plan.Steps {
		tool := o.registry.Get(step.Tool)
		if tool == nil {
			continue // Executor reports it per-step if the plan runs.
		}
		switch policy.Decide(ectx, tool.Authority()) {
		case policy.DecisionDeny:
			if !ectx.Simulate {
				o.auditor.LogDenied(ctx, input.TenantID, input.UserID, step.Tool, "authority not granted or read-only mode")
			}
			return &Outcome{
				Status:        StatusDenied,
				Message:       fmt.Sprintf("The planned action %q is not permitted under this studio's current settings.", step.Tool),
				CorrelationID: input.CorrelationID,
				TokensUsed:    usageTokens(usage),
			}, nil
		case policy.DecisionPropose:
			needsProposal = true
		}
		if amount := extractAmount(step.Args); amount > 0 && !policy.WithinAutoApproveLimit(ectx, amount) {
			needsProposal = true
		}
	}

	if needsProposal || plan.requiresConfirmation() {
		props := o.trackPlanProposals(ctx, ectx, input, plan)
		return &Outcome{
			Status:        StatusNeedsApproval,
			Message:       proposal.FormatForApproval(props),
			Proposals:     props,
			Plan:          plan,
			CorrelationID: input.CorrelationID,
			TokensUsed:    usageTokens(usage),
		}, nil
	}

	results := o.executePlan(ctx, ectx, input, plan)
	return &Outcome{
		Status:        StatusSuccess,
		Message:       summarize(results),
		Plan:          plan,
		Results:       stepToolResults(results),
		CorrelationID: input.CorrelationID,
		TokensUsed:    usageTokens(usage),
	}, nil
}

func (o *Orchestrator) trackPlanProposals(ctx context.Context, ectx *policy.ExecutionContext, input *Input, plan *Plan) []proposal.Proposal {
	props := make([]proposal.Proposal, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		risk := policy.RiskHigh
		label := step.Description
		if tool := o.registry.Get(step.Tool); tool != nil {
			risk = tool.RiskLevel()
			if label == "" {
				label = tool.Description()
			}
		}
		amount := extractAmount(step.Args)
		p := proposal.New(step.Tool, step.Args, true, label, "part of a multi-step plan", risk)
		if !ectx.Simulate {
			o.proposals.Track(ctx, p, input.TenantID, input.UserID, input.CorrelationID, amount)
			o.auditor.LogProposed(ctx, input.TenantID, input.UserID, step.Tool, targetTable(step.Tool), risk.String(), amount)
		}
		props = append(props, p)
	}
	return props
}

// executePlan runs steps in order. A failed create- or send-class step halts
// the plan; the remaining steps are recorded as skipped.
func (o *Orchestrator) executePlan(ctx context.Context, ectx *policy.ExecutionContext, input *Input, plan *Plan) []StepResult {
	results := make([]StepResult, 0, len(plan.Steps))
	halted := false

	for _, step := range plan.Steps {
		if halted {
			results = append(results, StepResult{Step: step})
			continue
		}

		args := step.Args
		if args == nil {
			args = map[string]any{}
		}
		cleanSearchArgs(step.Tool, args)

		result := o.executor.ExecuteParsed(ctx, ectx, step.Tool, args)
		o.auditExecution(ctx, ectx, step.Tool, args, result, "", extractAmount(args))
		results = append(results, StepResult{Step: step, Result: result, Executed: true})

		if !result.OK && isHaltingClass(step.Tool) {
			o.logger.WarnContext(ctx, "plan halted",
				slog.String("tenant_id", input.TenantID),
				slog.String("step", step.Tool),
				slog.String("error", result.Error))
			halted = true
		}
	}
	return results
}

// ResumeWithProposal resolves a tracked proposal. Approval executes the
// original action under a freshly resolved policy; denial only records the
// decision.
func (o *Orchestrator) ResumeWithProposal(ctx context.Context, proposalID, resolverID string, approve bool) (*Outcome, error) {
	pending, err := o.proposals.Get(ctx, proposalID)
	if err != nil {
		return &Outcome{
			Status:  StatusError,
			Message: "That proposal does not exist or has expired.",
		}, nil
	}

	if !approve {
		if err := o.proposals.Deny(ctx, proposalID, resolverID); err != nil {
			return resolveFailureOutcome(err), nil
		}
		o.auditor.LogDenied(ctx, pending.TenantID, pending.UserID, pending.Proposal.Tool, "denied by "+resolverID)
		return &Outcome{
			Status:        StatusDenied,
			Message:       fmt.Sprintf("Denied: %s", pending.Proposal.Label),
			CorrelationID: pending.CorrelationID,
		}, nil
	}

	if err := o.proposals.Approve(ctx, proposalID, resolverID); err != nil {
		return resolveFailureOutcome(err), nil
	}

	pol := o.resolver.Load(ctx, pending.TenantID)
	ectx := &policy.ExecutionContext{
		TenantID: pending.TenantID,
		UserID:   pending.UserID,
		Policy:   pol,
	}

	result := o.executor.ExecuteParsed(ctx, ectx, pending.Proposal.Tool, pending.Proposal.Args)
	o.auditExecution(ctx, ectx, pending.Proposal.Tool, pending.Proposal.Args, result, resolverID, pending.Amount)

	status := StatusSuccess
	message := fmt.Sprintf("Done: %s", pending.Proposal.Label)
	if !result.OK {
		status = StatusError
		message = fmt.Sprintf("The approved action failed: %s", resultDetail(result))
	}
	return &Outcome{
		Status:        status,
		Message:       message,
		Results:       []tools.Result{result},
		CorrelationID: pending.CorrelationID,
	}, nil
}

func resolveFailureOutcome(err error) *Outcome {
	switch {
	case errors.Is(err, proposal.ErrExpired):
		return &Outcome{Status: StatusError, Message: "That proposal has expired. Please make the request again."}
	case errors.Is(err, proposal.ErrAlreadyResolved):
		return &Outcome{Status: StatusError, Message: "That proposal was already resolved."}
	default:
		return &Outcome{Status: StatusError, Message: "That proposal does not exist or has expired."}
	}
}

// auditExecution records the execution outcome. Simulate runs leave no trail:
// the audit table holds only actions that really happened.
func (o *Orchestrator) auditExecution(ctx context.Context, ectx *policy.ExecutionContext, toolName string, args map[string]any, result tools.Result, approvedBy string, amount float64) {
	if ectx.Simulate {
		return
	}
	if result.OK {
		after := map[string]any{}
		if m, ok := result.Data.(map[string]any); ok {
			after = m
		}
		o.auditor.LogExecuted(ctx, ectx.TenantID, ectx.UserID, toolName, targetTable(toolName), stringArg(args, "id"), args, after, approvedBy, amount)
		return
	}
	o.auditor.LogFailure(ctx, ectx.TenantID, ectx.UserID, toolName, targetTable(toolName), args, errors.New(resultDetail(result)))
}

// targetTable maps a tool name to the table it touches, for the audit trail.
func targetTable(toolName string) string {
	switch toolName {
	case "create_lead":
		return "leads"
	case "update_client", "search_clients":
		return "clients"
	case "create_invoice":
		return "invoices"
	case "send_email", "send_bulk_email":
		return "emails"
	case "book_session":
		return "sessions"
	case "submit_order":
		return "orders"
	default:
		return ""
	}
}

// extractAmount pulls a monetary amount from tool arguments, checking the
// conventional keys in order.
func extractAmount(args map[string]any) float64 {
	for _, key := range []string{"amount", "total", "price"} {
		switch v := args[key].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// cleanSearchArgs normalizes the free-text query argument of search tools in
// place.
func cleanSearchArgs(toolName string, args map[string]any) {
	if !isSearchTool(toolName) {
		return
	}
	if q, ok := args["query"].(string); ok {
		args["query"] = CleanQuery(q)
	}
}

func decodeArgs(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return map[string]any{}, true
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

func resultsMessage(text string, results []tools.Result) string {
	if text != "" {
		return text
	}
	succeeded := 0
	for _, r := range results {
		if r.OK {
			succeeded++
		}
	}
	return fmt.Sprintf("Completed %d/%d actions.", succeeded, len(results))
}

func resultDetail(r tools.Result) string {
	if r.Detail != "" {
		return r.Detail
	}
	return r.Error
}

func stepToolResults(results []StepResult) []tools.Result {
	out := make([]tools.Result, 0, len(results))
	for _, r := range results {
		if r.Executed {
			out = append(out, r.Result)
		}
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func usageTokens(u *llm.Usage) int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}
