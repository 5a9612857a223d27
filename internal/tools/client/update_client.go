package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
)

// updatableFields is the whitelist of client columns the tool may touch.
// Everything else, including identifiers and timestamps, is off limits
// regardless of policy.
var updatableFields = map[string]bool{
	"name":          true,
	"email":         true,
	"phone":         true,
	"notes":         true,
	"discount_rate": true,
}

// UpdateClientTool applies field updates to an existing client record.
type UpdateClientTool struct {
	store  crm.ClientStore
	logger *slog.Logger
}

// NewUpdateClientTool creates an update_client tool backed by the given store.
func NewUpdateClientTool(store crm.ClientStore, logger *slog.Logger) *UpdateClientTool {
	return &UpdateClientTool{store: store, logger: logger}
}

func (t *UpdateClientTool) Name() string { return "update_client" }

func (t *UpdateClientTool) Description() string {
	return "Update fields on an existing client record (name, email, phone, notes, discount_rate). " +
		"Requires the client_id and a fields object with only the values to change."
}

func (t *UpdateClientTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"client_id": map[string]any{
				"type":        "string",
				"description": "ID of the client to update",
			},
			"fields": map[string]any{
				"type":        "object",
				"description": "Field/value pairs to set. Allowed: name, email, phone, notes, discount_rate.",
			},
		},
		"required": []string{"client_id", "fields"},
	}
}

func (t *UpdateClientTool) Authority() string { return policy.AuthorityUpdateClient }

func (t *UpdateClientTool) RiskLevel() policy.RiskLevel { return policy.RiskMedium }

func (t *UpdateClientTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "client_id"); err != nil {
		return err
	}
	fields, ok := params["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return fmt.Errorf("fields must be a non-empty object")
	}
	for name := range fields {
		if !updatableFields[name] {
			return fmt.Errorf("field %q cannot be updated", name)
		}
	}
	return nil
}

func (t *UpdateClientTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, params map[string]any) (any, error) {
	clientID, _ := requireString(params, "client_id")
	fields, _ := params["fields"].(map[string]any)

	// Field-level policy: a tenant can fence off columns entirely.
	for name := range fields {
		if ectx.Policy.FieldRestricted("clients", name) {
			return nil, fmt.Errorf("permission denied: field %q is restricted by studio policy", name)
		}
	}

	if ectx.Simulate {
		current, err := t.store.GetClient(ctx, ectx.TenantID, clientID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"simulated": true,
			"client_id": current.ID,
			"changes":   fields,
		}, nil
	}

	updated, err := t.store.UpdateClient(ctx, ectx.TenantID, clientID, fields)
	if err != nil {
		return nil, fmt.Errorf("updating client: %w", err)
	}

	t.logger.InfoContext(ctx, "client updated",
		slog.String("tenant_id", ectx.TenantID),
		slog.String("client_id", clientID),
		slog.Int("fields", len(fields)),
	)
	return map[string]any{
		"client_id": updated.ID,
		"name":      updated.Name,
		"updated":   len(fields),
	}, nil
}
