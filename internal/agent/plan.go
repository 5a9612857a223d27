package agent

import (
	"fmt"
	"strings"

	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/tools"
)

// Plan is an ordered list of atomic steps decomposed from one user request.
// Steps run strictly in order; there is no dependency graph here by design.
type Plan struct {
	Steps     []PlanStep       `json:"steps"`
	RiskLevel policy.RiskLevel `json:"risk_level"`
}

// PlanStep is a single atomic action within a plan.
type PlanStep struct {
	Tool        string         `json:"tool"`
	Description string         `json:"description"`
	Args        map[string]any `json:"args,omitempty"`
}

// StepResult pairs a step with its execution outcome.
type StepResult struct {
	Step     PlanStep
	Result   tools.Result
	Executed bool // False when the step was skipped after a halting failure.
}

// sensitiveTools are never auto-executed as part of a plan, regardless of
// policy mode. Order submission and bulk email cannot be walked back.
var sensitiveTools = map[string]bool{
	"submit_order":    true,
	"send_bulk_email": true,
}

// isHaltingClass reports whether a failure of this tool should abandon the
// rest of the plan. Create/send-class operations leave partial state behind;
// read-class failures are just recorded.
func isHaltingClass(toolName string) bool {
	return strings.HasPrefix(toolName, "create_") || strings.HasPrefix(toolName, "send_")
}

// requiresConfirmation reports whether the plan must be surfaced for explicit
// approval instead of auto-executing.
func (p *Plan) requiresConfirmation() bool {
	if p.RiskLevel == policy.RiskHigh {
		return true
	}
	for _, s := range p.Steps {
		if sensitiveTools[s.Tool] {
			return true
		}
	}
	return false
}

// classifyRisk computes the plan's risk as the maximum of its steps' tool
// risk. Steps naming unregistered tools count as high risk.
func classifyRisk(steps []PlanStep, registry *tools.Registry) policy.RiskLevel {
	risk := policy.RiskLow
	for _, s := range steps {
		t := registry.Get(s.Tool)
		if t == nil {
			return policy.RiskHigh
		}
		if r := t.RiskLevel(); r > risk {
			risk = r
		}
	}
	return risk
}

// summarize renders a completed plan: the success count, each successful
// step's tool and result, then a distinct error section for failed steps.
func summarize(results []StepResult) string {
	total := len(results)
	succeeded := 0
	for _, r := range results {
		if r.Executed && r.Result.OK {
			succeeded++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Executed %d/%d steps successfully.\n", succeeded, total)

	for _, r := range results {
		if r.Executed && r.Result.OK {
			fmt.Fprintf(&b, "- %s: %s\n", r.Step.Tool, compactData(r.Result.Data))
		}
	}

	var errs []StepResult
	for _, r := range results {
		if !r.Executed || !r.Result.OK {
			errs = append(errs, r)
		}
	}
	if len(errs) > 0 {
		b.WriteString("\nErrors:\n")
		for _, r := range errs {
			if !r.Executed {
				fmt.Fprintf(&b, "- %s: skipped after an earlier failure\n", r.Step.Tool)
				continue
			}
			detail := r.Result.Detail
			if detail == "" {
				detail = r.Result.Error
			}
			fmt.Fprintf(&b, "- %s: %s\n", r.Step.Tool, detail)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// compactData renders tool result data on one line for the summary.
func compactData(data any) string {
	s := fmt.Sprintf("%v", data)
	s = strings.ReplaceAll(s, "\n", " ")
	const max = 140
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
