package proposal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fokalhq/fokal/internal/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_IDIsShortAndStable(t *testing.T) {
	args := map[string]any{"name": "Ada", "email": "ada@example.com"}
	p := New("create_lead", args, true, "Create lead Ada", "new inquiry", policy.RiskMedium)

	if len(p.ID) != idLength {
		t.Fatalf("ID length = %d, want %d", len(p.ID), idLength)
	}
	// Same inputs at the same instant hash to the same ID regardless of map order.
	other := deriveID("create_lead", map[string]any{"email": "ada@example.com", "name": "Ada"}, p.CreatedAt)
	if other != p.ID {
		t.Errorf("ID not order-insensitive: %s vs %s", p.ID, other)
	}
}

func TestDeriveID_DiffersByInstant(t *testing.T) {
	args := map[string]any{"name": "Ada"}
	at := time.Now().UTC()
	a := deriveID("create_lead", args, at)
	b := deriveID("create_lead", args, at.Add(time.Nanosecond))
	if a == b {
		t.Error("IDs for different instants should differ")
	}
}

func TestValidate(t *testing.T) {
	valid := New("send_email", map[string]any{"to": "x@example.com"}, true, "Send email", "", policy.RiskLow)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid proposal rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Proposal)
	}{
		{"missing id", func(p *Proposal) { p.ID = "" }},
		{"missing tool", func(p *Proposal) { p.Tool = "" }},
		{"missing label", func(p *Proposal) { p.Label = "" }},
		{"missing args", func(p *Proposal) { p.Args = nil }},
	}
	for _, tt := range tests {
		p := valid
		tt.mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestFormatForApproval(t *testing.T) {
	low := New("create_lead", map[string]any{"name": "Ada"}, true, "Create lead Ada", "", policy.RiskLow)
	high := New("send_bulk_email", map[string]any{"segment": "all"}, true, "Email all clients", "campaign launch", policy.RiskHigh).
		WithPreview("Subject: Spring minis are here")

	out := FormatForApproval([]Proposal{low, high})

	if !strings.Contains(out, "Create lead Ada") {
		t.Error("label missing from rendering")
	}
	if strings.Contains(out, "[low risk]") {
		t.Error("low risk should not be annotated")
	}
	if !strings.Contains(out, "[high risk]") {
		t.Error("high risk should be annotated")
	}
	if !strings.Contains(out, "Spring minis") {
		t.Error("preview text missing")
	}
	if !strings.Contains(out, high.ID) {
		t.Error("proposal id missing")
	}
}

func TestFormatForApproval_Empty(t *testing.T) {
	if out := FormatForApproval(nil); out != "Nothing to approve." {
		t.Errorf("unexpected rendering for empty set: %q", out)
	}
}

// --- Manager lifecycle ---

func TestManager_TrackApproveResume(t *testing.T) {
	m := NewManager(time.Minute, testLogger())
	ctx := context.Background()

	p := New("create_invoice", map[string]any{"amount": 750.0}, true, "Invoice $750", "over threshold", policy.RiskMedium)
	id := m.Track(ctx, p, "tenant-1", "user-1", "corr-1", 750)

	if err := m.Approve(ctx, id, "owner@studio"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	got, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusApproved || got.ResolvedBy != "owner@studio" {
		t.Errorf("got status=%s resolvedBy=%s", got.Status, got.ResolvedBy)
	}

	// Second resolution attempts fail.
	if err := m.Deny(ctx, id, "owner@studio"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second resolve = %v, want ErrAlreadyResolved", err)
	}
}

func TestManager_UnknownID(t *testing.T) {
	m := NewManager(time.Minute, testLogger())
	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
	if err := m.Approve(context.Background(), "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve(unknown) = %v, want ErrNotFound", err)
	}
}

func TestManager_Expiry(t *testing.T) {
	m := NewManager(-time.Second, testLogger()) // Already expired on creation.
	ctx := context.Background()

	p := New("send_email", map[string]any{"to": "a@b.c"}, true, "Send email", "", policy.RiskLow)
	id := m.Track(ctx, p, "tenant-1", "user-1", "corr-1", 0)

	if err := m.Approve(ctx, id, "x"); !errors.Is(err, ErrExpired) {
		t.Errorf("Approve(expired) = %v, want ErrExpired", err)
	}

	got, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestManager_CleanupRemovesOldEntries(t *testing.T) {
	m := NewManager(-time.Hour, testLogger())
	ctx := context.Background()
	p := New("create_lead", map[string]any{"name": "x"}, true, "Create lead", "", policy.RiskLow)
	id := m.Track(ctx, p, "t", "u", "c", 0)

	m.Cleanup(ctx)

	if _, err := m.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry survived cleanup: %v", err)
	}
}
