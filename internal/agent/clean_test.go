package agent

import "testing"

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"stopwords stripped", "show me all the weddings in june", "weddings june"},
		{"punctuation collapsed", "clients named O'Brien!!", "clients named o brien"},
		{"email preserved", "find jane@example.com please", "jane@example.com"},
		{"hyphen preserved", "mini-session bookings", "mini-session bookings"},
		{"empty input", "", ""},
		{"only stopwords", "show me all the", ""},
		{"mixed case", "Find The SMITH Wedding", "smith wedding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanQuery(tt.input); got != tt.want {
				t.Errorf("CleanQuery(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanQuery_Idempotent(t *testing.T) {
	inputs := []string{
		"show me all the weddings in june",
		"jane@example.com invoices over 500",
		"mini-session bookings 2026",
	}
	for _, in := range inputs {
		once := CleanQuery(in)
		twice := CleanQuery(once)
		if once != twice {
			t.Errorf("CleanQuery not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestIsSearchTool(t *testing.T) {
	if !isSearchTool("search_clients") {
		t.Error("search_clients should be a search tool")
	}
	if !isSearchTool("lead_lookup") {
		t.Error("lead_lookup should be a search tool")
	}
	if isSearchTool("create_invoice") {
		t.Error("create_invoice is not a search tool")
	}
}

func TestShouldPlan(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"create a lead for Jane and then send her a welcome email", true},
		{"book the session, then create the invoice", true},
		{"create an invoice and email it to the client", true},
		{"search clients and leads for smith", false},
		{"show me this week's bookings", false},
		{"send a reminder email to jane@example.com", false},
	}
	for _, tt := range tests {
		if got := shouldPlan(tt.message); got != tt.want {
			t.Errorf("shouldPlan(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
