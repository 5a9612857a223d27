package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (f *fakeStore) Append(_ context.Context, e Entry) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	return nil
}

func TestLog_AppendsEntry(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, testLogger())

	l.LogProposed(context.Background(), "tenant-1", "user-1", "create_invoice", "invoices", "medium", 750)

	if len(store.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Status != StatusProposed || e.Amount != 750 || e.CreatedAt.IsZero() {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Before != nil || e.After != nil {
		t.Error("proposal-time entries carry no before/after snapshots")
	}
}

func TestLog_StoreOutageNeverPanicsOrPropagates(t *testing.T) {
	l := NewLogger(&fakeStore{err: errors.New("store down")}, testLogger())
	ctx := context.Background()

	// None of these may panic; they return nothing to propagate.
	l.Log(ctx, Entry{TenantID: "t", Action: "x", Status: StatusExecuted})
	l.LogProposed(ctx, "t", "u", "a", "leads", "low", 0)
	l.LogExecuted(ctx, "t", "u", "a", "leads", "1", nil, nil, "", 0)
	l.LogFailure(ctx, "t", "u", "a", "leads", map[string]any{"k": "v"}, errors.New("boom"))
	l.LogDenied(ctx, "t", "u", "a", "no authority")
}

func TestLog_NilStore(t *testing.T) {
	l := NewLogger(nil, testLogger())
	l.Log(context.Background(), Entry{TenantID: "t", Action: "x", Status: StatusExecuted})
}

func TestLogFailure_CarriesPayloadAndError(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, testLogger())

	attempted := map[string]any{"name": "Ada"}
	l.LogFailure(context.Background(), "t", "u", "create_lead", "leads", attempted, errors.New("unique violation"))

	e := store.entries[0]
	if e.Status != StatusFailed {
		t.Errorf("status = %s, want failed", e.Status)
	}
	if e.Before["name"] != "Ada" {
		t.Error("attempted payload should land in Before")
	}
	if e.Metadata["error"] != "unique violation" {
		t.Errorf("metadata error = %v", e.Metadata["error"])
	}
}

func TestCaptureBeforeAfter(t *testing.T) {
	state := map[string]any{"status": "lead"}
	fetch := func(_ context.Context) (map[string]any, error) {
		snapshot := map[string]any{}
		for k, v := range state {
			snapshot[k] = v
		}
		return snapshot, nil
	}

	result, before, after, err := CaptureBeforeAfter(context.Background(), fetch,
		func(_ context.Context) (string, error) {
			state["status"] = "client"
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("CaptureBeforeAfter: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q", result)
	}
	if before["status"] != "lead" || after["status"] != "client" {
		t.Errorf("before=%v after=%v", before, after)
	}
}

func TestCaptureBeforeAfter_ExecutorError(t *testing.T) {
	fetch := func(_ context.Context) (map[string]any, error) {
		return map[string]any{"n": 1}, nil
	}
	_, before, after, err := CaptureBeforeAfter(context.Background(), fetch,
		func(_ context.Context) (int, error) {
			return 0, errors.New("write failed")
		})
	if err == nil {
		t.Fatal("expected executor error")
	}
	if before == nil {
		t.Error("before snapshot should survive executor failure")
	}
	if after != nil {
		t.Error("no after snapshot on failure")
	}
}

func TestCaptureBeforeAfter_NilFetcher(t *testing.T) {
	result, before, after, err := CaptureBeforeAfter(context.Background(), nil,
		func(_ context.Context) (int, error) { return 42, nil })
	if err != nil || result != 42 {
		t.Fatalf("result=%d err=%v", result, err)
	}
	if before != nil || after != nil {
		t.Error("nil fetcher yields nil snapshots")
	}
}
