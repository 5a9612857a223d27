package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
)

// CreateLeadTool records a new prospective client.
type CreateLeadTool struct {
	store  crm.ClientStore
	logger *slog.Logger
}

// NewCreateLeadTool creates a create_lead tool backed by the given store.
func NewCreateLeadTool(store crm.ClientStore, logger *slog.Logger) *CreateLeadTool {
	return &CreateLeadTool{store: store, logger: logger}
}

func (t *CreateLeadTool) Name() string { return "create_lead" }

func (t *CreateLeadTool) Description() string {
	return "Record a new lead (prospective client) in the studio CRM. " +
		"Use when someone inquires about a shoot and is not yet a client. " +
		"Capture the name plus whatever contact details and source were mentioned."
}

func (t *CreateLeadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Full name of the prospective client",
			},
			"email": map[string]any{
				"type":        "string",
				"description": "Email address, if known",
			},
			"phone": map[string]any{
				"type":        "string",
				"description": "Phone number, if known",
			},
			"source": map[string]any{
				"type":        "string",
				"description": "Where the inquiry came from (e.g. 'instagram', 'wedding fair', 'referral')",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "Free-form notes about the inquiry (shoot type, date ideas, budget hints)",
			},
		},
		"required": []string{"name"},
	}
}

func (t *CreateLeadTool) Authority() string { return policy.AuthorityCreateLead }

func (t *CreateLeadTool) RiskLevel() policy.RiskLevel { return policy.RiskMedium }

func (t *CreateLeadTool) Validate(params map[string]any) error {
	name, err := requireString(params, "name")
	if err != nil {
		return err
	}
	if len(name) > 200 {
		return fmt.Errorf("name must be 200 characters or fewer")
	}
	return nil
}

func (t *CreateLeadTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, params map[string]any) (any, error) {
	name, _ := requireString(params, "name")
	lead := &crm.Lead{
		TenantID: ectx.TenantID,
		Name:     name,
		Email:    optionalString(params, "email"),
		Phone:    optionalString(params, "phone"),
		Source:   optionalString(params, "source"),
		Notes:    optionalString(params, "notes"),
		Status:   crm.LeadStatusNew,
	}

	if ectx.Simulate {
		return map[string]any{
			"simulated": true,
			"lead":      lead,
		}, nil
	}

	if err := t.store.CreateLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("creating lead: %w", err)
	}

	t.logger.InfoContext(ctx, "lead created",
		slog.String("tenant_id", ectx.TenantID),
		slog.String("lead_id", lead.ID),
		slog.String("source", lead.Source),
	)
	return map[string]any{
		"lead_id": lead.ID,
		"name":    lead.Name,
		"status":  lead.Status,
	}, nil
}
