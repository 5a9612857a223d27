package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/fokalhq/fokal/internal/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBridgedTool_Validate(t *testing.T) {
	tool := &BridgedTool{
		namespacedName: "mcp__printlab__submit_order",
		inputSchema: map[string]any{
			"type":     "object",
			"required": []any{"order_id", "quantity"},
		},
		logger: testLogger(),
	}

	if err := tool.Validate(map[string]any{"order_id": "o-1", "quantity": 2.0}); err != nil {
		t.Errorf("Validate: %v", err)
	}
	err := tool.Validate(map[string]any{"order_id": "o-1"})
	if err == nil || !strings.Contains(err.Error(), "quantity") {
		t.Errorf("expected missing quantity error, got %v", err)
	}
}

func TestBridgedTool_SimulateRefusal(t *testing.T) {
	ectx := &policy.ExecutionContext{TenantID: "studio-1", Simulate: true}

	writing := &BridgedTool{
		namespacedName: "mcp__printlab__submit_order",
		readOnly:       false,
		logger:         testLogger(),
	}
	_, err := writing.Execute(context.Background(), ectx, nil)
	if err == nil || !strings.Contains(err.Error(), "simulate") {
		t.Errorf("side-effecting tool must refuse simulate mode, got %v", err)
	}
}

func TestConvertInputSchemaRoundTrip(t *testing.T) {
	// Required names must land as []any so Validate can range over them
	// after a JSON round trip.
	schema := map[string]any{
		"type":     "object",
		"required": []any{"a"},
	}
	tool := &BridgedTool{inputSchema: schema}
	if err := tool.Validate(map[string]any{"a": 1}); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := tool.Validate(map[string]any{}); err == nil {
		t.Error("expected missing parameter error")
	}
}
