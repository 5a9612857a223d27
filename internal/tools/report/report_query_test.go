package report

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"select", "SELECT count(*) FROM invoices", false},
		{"lowercase select", "select * from sessions", false},
		{"cte", "WITH monthly AS (SELECT 1) SELECT * FROM monthly", false},
		{"explain", "EXPLAIN SELECT 1", false},
		{"trailing semicolon", "SELECT 1;", false},
		{"leading line comment", "-- revenue report\nSELECT sum(amount) FROM invoices", false},
		{"leading block comment", "/* q1 */ SELECT 1", false},
		{"insert", "INSERT INTO invoices VALUES (1)", true},
		{"update", "UPDATE clients SET name = 'x'", true},
		{"delete", "DELETE FROM leads", true},
		{"drop", "DROP TABLE clients", true},
		{"set", "SET search_path TO public", true},
		{"multiple statements", "SELECT 1; DELETE FROM leads", true},
		{"empty", "   ", true},
		{"comment only", "-- nothing here", true},
		{"unknown verb", "MERGE INTO clients USING leads ON true", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReadOnly(tt.query)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateReadOnly(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
			}
		})
	}
}

func TestQueryTool_Validate(t *testing.T) {
	tool := NewQueryTool(Config{DSN: "postgres://localhost/reports"}, testLogger())

	if err := tool.Validate(map[string]any{"query": "SELECT 1"}); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := tool.Validate(map[string]any{}); err == nil {
		t.Error("expected error for missing query")
	}
	if err := tool.Validate(map[string]any{"query": "TRUNCATE invoices"}); err == nil {
		t.Error("expected error for write statement")
	}
}

func TestQueryTool_Defaults(t *testing.T) {
	tool := NewQueryTool(Config{}, testLogger())
	if tool.config.MaxRows != defaultMaxRows {
		t.Errorf("MaxRows = %d, want %d", tool.config.MaxRows, defaultMaxRows)
	}
	if tool.config.TimeoutSeconds != defaultTimeoutSec {
		t.Errorf("TimeoutSeconds = %d, want %d", tool.config.TimeoutSeconds, defaultTimeoutSec)
	}
}

func TestStripLeadingComments(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"-- c\nSELECT 1", "SELECT 1"},
		{"/* a */ /* b */ SELECT 1", "SELECT 1"},
		{"-- only", ""},
		{"/* unterminated", ""},
	}
	for _, tt := range tests {
		if got := stripLeadingComments(tt.in); got != tt.want {
			t.Errorf("stripLeadingComments(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
