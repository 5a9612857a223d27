// Package invoice implements the create_invoice tool.
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
)

// CreateInvoiceTool creates a draft invoice for a client.
type CreateInvoiceTool struct {
	invoices crm.InvoiceStore
	clients  crm.ClientStore
	logger   *slog.Logger
}

// NewCreateInvoiceTool creates a create_invoice tool backed by the given
// stores.
func NewCreateInvoiceTool(invoices crm.InvoiceStore, clients crm.ClientStore, logger *slog.Logger) *CreateInvoiceTool {
	return &CreateInvoiceTool{invoices: invoices, clients: clients, logger: logger}
}

func (t *CreateInvoiceTool) Name() string { return "create_invoice" }

func (t *CreateInvoiceTool) Description() string {
	return "Create a draft invoice for an existing client. " +
		"Requires client_id and amount; due_date defaults to 14 days out."
}

func (t *CreateInvoiceTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"client_id": map[string]any{
				"type":        "string",
				"description": "ID of the client being billed",
			},
			"amount": map[string]any{
				"type":        "number",
				"description": "Invoice total in the studio's currency",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "What the invoice covers (e.g. 'wedding package, 8 hours')",
			},
			"due_date": map[string]any{
				"type":        "string",
				"description": "Due date in YYYY-MM-DD format (default: 14 days from today)",
			},
		},
		"required": []string{"client_id", "amount"},
	}
}

func (t *CreateInvoiceTool) Authority() string { return policy.AuthorityCreateInvoice }

func (t *CreateInvoiceTool) RiskLevel() policy.RiskLevel { return policy.RiskHigh }

func (t *CreateInvoiceTool) Validate(params map[string]any) error {
	id, ok := params["client_id"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return fmt.Errorf("missing required parameter: client_id")
	}

	amount, ok := params["amount"].(float64)
	if !ok {
		return fmt.Errorf("amount must be a number")
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	if due, ok := params["due_date"].(string); ok && due != "" {
		if _, err := time.Parse("2006-01-02", due); err != nil {
			return fmt.Errorf("due_date must be YYYY-MM-DD: %w", err)
		}
	}
	return nil
}

func (t *CreateInvoiceTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, params map[string]any) (any, error) {
	clientID, _ := params["client_id"].(string)
	amount, _ := params["amount"].(float64)
	description, _ := params["description"].(string)

	// The client must exist; billing a phantom record is always a bug.
	client, err := t.clients.GetClient(ctx, ectx.TenantID, clientID)
	if err != nil {
		return nil, fmt.Errorf("looking up client %s: %w", clientID, err)
	}

	dueDate := time.Now().UTC().AddDate(0, 0, 14)
	if due, ok := params["due_date"].(string); ok && due != "" {
		dueDate, _ = time.Parse("2006-01-02", due)
	}

	inv := &crm.Invoice{
		TenantID:    ectx.TenantID,
		ClientID:    client.ID,
		Amount:      amount,
		Description: description,
		Status:      crm.InvoiceStatusDraft,
		DueDate:     dueDate,
	}

	if ectx.Simulate {
		return map[string]any{
			"simulated": true,
			"invoice":   inv,
			"client":    client.Name,
		}, nil
	}

	if err := t.invoices.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("creating invoice: %w", err)
	}

	t.logger.InfoContext(ctx, "invoice created",
		slog.String("tenant_id", ectx.TenantID),
		slog.String("invoice_id", inv.ID),
		slog.String("client_id", client.ID),
		slog.Float64("amount", amount),
	)
	return map[string]any{
		"invoice_id": inv.ID,
		"client":     client.Name,
		"amount":     inv.Amount,
		"currency":   inv.Currency,
		"due_date":   inv.DueDate.Format("2006-01-02"),
		"status":     inv.Status,
	}, nil
}
