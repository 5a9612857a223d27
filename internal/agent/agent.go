// Package agent implements the planner/orchestrator of the Fokal action
// engine. It consumes the planning service to pick the next tool call or
// decompose a request into ordered steps, then drives the authorization
// guard, proposal manager, tool executor, and audit logger pipeline.
package agent

import (
	"context"

	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/tools"
)

// Status is the uniform response envelope status from the action pipeline.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusNeedsApproval Status = "needs_approval"
	StatusDenied        Status = "denied"
	StatusError         Status = "error"
)

// Input represents one user request entering the pipeline.
type Input struct {
	TenantID      string
	UserID        string
	StudioName    string
	Message       string
	CorrelationID string
	Simulate      bool // Dry-run: tools must not persist side effects.
}

// Outcome is the uniform response envelope.
// User-visible failures are natural-language summaries; technical detail
// lives in logs and audit metadata only.
type Outcome struct {
	Status        Status              `json:"status"`
	Message       string              `json:"message"`
	Proposals     []proposal.Proposal `json:"proposed_actions,omitempty"`
	Plan          *Plan               `json:"plan,omitempty"` // Set when a full plan awaits confirmation.
	Results       []tools.Result      `json:"results,omitempty"`
	TokensUsed    int                 `json:"tokens_used,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
}

// Runner is the minimal orchestrator contract. The production orchestrator
// and any shadow candidate implement it.
type Runner interface {
	Process(ctx context.Context, input *Input) (*Outcome, error)
}
