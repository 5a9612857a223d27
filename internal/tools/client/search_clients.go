package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
)

// SearchClientsTool searches the tenant's client book by free text.
type SearchClientsTool struct {
	store  crm.ClientStore
	logger *slog.Logger
}

// NewSearchClientsTool creates a search_clients tool backed by the given
// store.
func NewSearchClientsTool(store crm.ClientStore, logger *slog.Logger) *SearchClientsTool {
	return &SearchClientsTool{store: store, logger: logger}
}

func (t *SearchClientsTool) Name() string { return "search_clients" }

func (t *SearchClientsTool) Description() string {
	return "Search the studio's clients by name, email, or notes. " +
		"Returns matching client records for the current studio only."
}

func (t *SearchClientsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search text (a name, email fragment, or keyword)",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return (default: 20)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchClientsTool) Authority() string { return policy.AuthorityReadCRM }

func (t *SearchClientsTool) RiskLevel() policy.RiskLevel { return policy.RiskLow }

func (t *SearchClientsTool) Validate(params map[string]any) error {
	_, err := requireString(params, "query")
	return err
}

func (t *SearchClientsTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, params map[string]any) (any, error) {
	query, _ := requireString(params, "query")

	limit := 20
	if v, ok := params["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	clients, err := t.store.SearchClients(ctx, ectx.TenantID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching clients: %w", err)
	}

	t.logger.DebugContext(ctx, "client search",
		slog.String("tenant_id", ectx.TenantID),
		slog.String("query", query),
		slog.Int("hits", len(clients)),
	)
	if len(clients) == 0 {
		// Empty data is normalized to a failure upstream; return it as is.
		return nil, nil
	}
	return map[string]any{
		"clients": clients,
		"count":   len(clients),
	}, nil
}
