package ws

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_PublishFansOutToMatchingTenant(t *testing.T) {
	h := NewHub(nil, testLogger())

	studio1 := h.subscribe("studio-1")
	studio2 := h.subscribe("studio-2")
	all := h.subscribe("")
	defer h.unsubscribe(studio1)
	defer h.unsubscribe(studio2)
	defer h.unsubscribe(all)

	h.Publish(Event{Type: EventProposalCreated, TenantID: "studio-1", ProposalID: "p1"})

	select {
	case ev := <-studio1.ch:
		if ev.ProposalID != "p1" {
			t.Errorf("proposal_id = %q", ev.ProposalID)
		}
		if ev.At.IsZero() {
			t.Error("At should be stamped on publish")
		}
	default:
		t.Fatal("matching subscriber did not receive event")
	}

	select {
	case ev := <-studio2.ch:
		t.Fatalf("other tenant received event: %+v", ev)
	default:
	}

	select {
	case <-all.ch:
	default:
		t.Error("wildcard subscriber did not receive event")
	}
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(nil, testLogger())
	sub := h.subscribe("studio-1")
	defer h.unsubscribe(sub)

	// Fill the buffer and then some. Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(Event{Type: EventProposalCreated, TenantID: "studio-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if got := len(sub.ch); got != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d", got, subscriberBuffer)
	}
}

func TestHub_SubscriberCount(t *testing.T) {
	h := NewHub(nil, testLogger())
	if h.SubscriberCount() != 0 {
		t.Fatal("expected no subscribers")
	}
	sub := h.subscribe("studio-1")
	if h.SubscriberCount() != 1 {
		t.Error("expected one subscriber")
	}
	h.unsubscribe(sub)
	if h.SubscriberCount() != 0 {
		t.Error("expected zero after unsubscribe")
	}
}

func TestHub_Authenticate(t *testing.T) {
	keys := map[string]string{"secret-key": "studio-1"}
	h := NewHub(keys, testLogger())

	tests := []struct {
		name       string
		query      string
		header     string
		wantTenant string
		wantOK     bool
	}{
		{"query token", "?token=secret-key", "", "studio-1", true},
		{"bearer header", "", "Bearer secret-key", "studio-1", true},
		{"wrong key", "?token=nope", "", "", false},
		{"missing", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/events"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			tenant, ok := h.authenticate(r)
			if ok != tt.wantOK || tenant != tt.wantTenant {
				t.Errorf("authenticate = (%q, %v), want (%q, %v)", tenant, ok, tt.wantTenant, tt.wantOK)
			}
		})
	}
}

func TestHub_NoKeysAcceptsAll(t *testing.T) {
	h := NewHub(nil, testLogger())
	r := httptest.NewRequest("GET", "/v1/events", nil)
	tenant, ok := h.authenticate(r)
	if !ok || tenant != "" {
		t.Errorf("authenticate = (%q, %v), want wildcard accept", tenant, ok)
	}
}
