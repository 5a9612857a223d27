package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fokalhq/fokal/internal/llm"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/tools"
)

// ErrPlanUnparseable is returned when the model's decomposition reply is not
// a valid plan. The orchestrator degrades to an apologetic text response
// instead of guessing at steps.
var ErrPlanUnparseable = errors.New("plan response could not be parsed")

// Planner turns user messages into actions: either a single tool selection or
// a multi-step plan decomposition.
type Planner struct {
	provider llm.Provider
	registry *tools.Registry
	logger   *slog.Logger
}

// NewPlanner creates a planner backed by the given provider and tool registry.
func NewPlanner(provider llm.Provider, registry *tools.Registry, logger *slog.Logger) *Planner {
	return &Planner{
		provider: provider,
		registry: registry,
		logger:   logger,
	}
}

// SelectAction asks the model to answer directly or pick tool calls for a
// single-step request.
func (p *Planner) SelectAction(ctx context.Context, ectx *policy.ExecutionContext, message string) (*llm.Response, error) {
	req := &llm.Request{
		SystemPrompt: p.systemPrompt(ectx),
		UserMessage:  message,
		Tools:        p.toolDefinitions(),
		MaxTokens:    1024,
	}

	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planning request failed: %w", err)
	}
	return resp, nil
}

// Decompose asks the model to break a compound request into ordered atomic
// steps and parses the JSON plan it returns.
func (p *Planner) Decompose(ctx context.Context, ectx *policy.ExecutionContext, message string) (*Plan, *llm.Usage, error) {
	req := &llm.Request{
		SystemPrompt: p.decomposePrompt(ectx),
		UserMessage:  message,
		MaxTokens:    2048,
		ForceJSON:    true,
	}

	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("decomposition request failed: %w", err)
	}

	plan, err := p.parsePlan(resp.Text)
	if err != nil {
		p.logger.WarnContext(ctx, "unparseable plan response",
			slog.String("tenant_id", ectx.TenantID),
			slog.String("error", err.Error()))
		return nil, &resp.Usage, ErrPlanUnparseable
	}

	plan.RiskLevel = classifyRisk(plan.Steps, p.registry)
	return plan, &resp.Usage, nil
}

// planEnvelope is the JSON shape requested from the model.
type planEnvelope struct {
	Steps []PlanStep `json:"steps"`
}

func (p *Planner) parsePlan(text string) (*Plan, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, errors.New("no JSON object in response")
	}

	var env planEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if len(env.Steps) == 0 {
		return nil, errors.New("plan has no steps")
	}
	for i, s := range env.Steps {
		if s.Tool == "" {
			return nil, fmt.Errorf("step %d has no tool", i)
		}
	}
	return &Plan{Steps: env.Steps}, nil
}

// extractJSONObject returns the outermost {...} in text, tolerating models
// that wrap the object in prose or code fences.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func (p *Planner) systemPrompt(ectx *policy.ExecutionContext) string {
	var b strings.Builder
	b.WriteString("You are the operations assistant for the photography studio ")
	b.WriteString(ectx.StudioName)
	b.WriteString(".\n\n")
	b.WriteString("You act on CRM records, invoices, emails, and the session calendar through the tools provided. ")
	b.WriteString("Answer questions directly when no action is needed. When an action is needed, call exactly the tool that performs it.\n\n")
	b.WriteString("Granted authorities for this tenant:\n")
	for _, a := range ectx.GrantedAuthorities() {
		b.WriteString("- ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	b.WriteString("\nNever promise an action you cannot perform with a granted authority. ")
	b.WriteString("Never fabricate record IDs, amounts, or email addresses.")
	return b.String()
}

func (p *Planner) decomposePrompt(ectx *policy.ExecutionContext) string {
	var b strings.Builder
	b.WriteString("You are the operations planner for the photography studio ")
	b.WriteString(ectx.StudioName)
	b.WriteString(".\n\n")
	b.WriteString("Break the user's request into ordered atomic steps. Each step invokes exactly one tool. ")
	b.WriteString("Respond with only a JSON object of the form:\n")
	b.WriteString(`{"steps": [{"tool": "<name>", "description": "<what this step does>", "args": {...}}]}`)
	b.WriteString("\n\nAvailable tools:\n")
	for _, d := range p.registry.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	b.WriteString("\nGranted authorities for this tenant:\n")
	for _, a := range ectx.GrantedAuthorities() {
		b.WriteString("- ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	b.WriteString("\nOnly use listed tools. Do not invent steps the request does not ask for.")
	return b.String()
}

func (p *Planner) toolDefinitions() []llm.ToolDefinition {
	defs := p.registry.Definitions()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

// shouldPlan is the heuristic deciding whether a message needs multi-step
// decomposition before execution. Conjunction words and enumerations signal
// compound requests.
func shouldPlan(message string) bool {
	m := strings.ToLower(message)
	for _, marker := range []string{" and then ", ", then ", " then ", " and also ", " as well as ", " after that "} {
		if strings.Contains(m, marker) {
			return true
		}
	}
	// "do X and Y" with two verbs is compound; "search clients and leads" is
	// not. Require "and" plus a second action verb.
	if strings.Contains(m, " and ") {
		verbs := 0
		for _, v := range []string{"create", "send", "book", "update", "invoice", "email", "schedule"} {
			if strings.Contains(m, v) {
				verbs++
			}
		}
		if verbs >= 2 {
			return true
		}
	}
	return false
}
