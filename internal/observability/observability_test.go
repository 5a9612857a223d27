package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/fokalhq/fokal/internal/agent"
	"github.com/fokalhq/fokal/internal/config"
	"github.com/fokalhq/fokal/internal/llm"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil || m.Registry == nil {
		t.Fatal("expected collector with registry")
	}

	// CounterVecs only appear in Gather after first use.
	m.GuardDecision("CREATE_LEAD", "allow")
	m.ToolExecuted("create_lead", "success")
	m.ShadowComparison(true)
	m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/actions", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"fokal_guard_decisions_total",
		"fokal_tool_executions_total",
		"fokal_shadow_comparisons_total",
		"fokal_http_requests_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.ToolExecuted("create_lead", "success")
	m.ToolExecuted("create_lead", "success")
	m.ToolExecuted("create_lead", "failure")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() != "fokal_tool_executions_total" {
			continue
		}
		found = true
		for _, metric := range f.GetMetric() {
			labels := labelMap(metric.GetLabel())
			switch labels["status"] {
			case "success":
				if got := metric.GetCounter().GetValue(); got != 2 {
					t.Errorf("success count = %v, want 2", got)
				}
			case "failure":
				if got := metric.GetCounter().GetValue(); got != 1 {
					t.Errorf("failure count = %v, want 1", got)
				}
			}
		}
	}
	if !found {
		t.Error("fokal_tool_executions_total not found")
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- Instrumented wrappers ---

type stubProvider struct {
	resp *llm.Response
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	return s.resp, s.err
}

func TestInstrumentedProvider_RecordsTokens(t *testing.T) {
	m := NewMetricsCollector()
	inner := &stubProvider{resp: &llm.Response{
		Text:  "hi",
		Usage: llm.Usage{InputTokens: 11, OutputTokens: 7},
	}}
	p := NewInstrumentedProvider(inner, m, nil)

	if _, err := p.Complete(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	families, _ := m.Registry.Gather()
	var input, output float64
	for _, f := range families {
		if f.GetName() != "fokal_llm_tokens_used_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := labelMap(metric.GetLabel())
			switch labels["direction"] {
			case "input":
				input = metric.GetCounter().GetValue()
			case "output":
				output = metric.GetCounter().GetValue()
			}
		}
	}
	if input != 11 || output != 7 {
		t.Errorf("tokens = (%v, %v), want (11, 7)", input, output)
	}
}

func TestInstrumentedProvider_ErrorStatus(t *testing.T) {
	m := NewMetricsCollector()
	p := NewInstrumentedProvider(&stubProvider{err: errors.New("boom")}, m, nil)

	if _, err := p.Complete(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected error passthrough")
	}

	families, _ := m.Registry.Gather()
	for _, f := range families {
		if f.GetName() != "fokal_llm_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := labelMap(metric.GetLabel())
			if labels["status"] == "error" && metric.GetCounter().GetValue() == 1 {
				return
			}
		}
	}
	t.Error("error request not counted")
}

type stubRunner struct {
	outcome *agent.Outcome
}

func (s *stubRunner) Process(context.Context, *agent.Input) (*agent.Outcome, error) {
	return s.outcome, nil
}

func TestInstrumentedRunner_Passthrough(t *testing.T) {
	m := NewMetricsCollector()
	inner := &stubRunner{outcome: &agent.Outcome{Status: agent.StatusSuccess, Message: "done"}}
	r := NewInstrumentedRunner(inner, m, nil)

	out, err := r.Process(context.Background(), &agent.Input{TenantID: "studio-1", Message: "hi"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != agent.StatusSuccess || out.Message != "done" {
		t.Errorf("outcome = %+v", out)
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_Degraded(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(context.Context) error { return nil })
	h.AddCheck("reporting", func(context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["db"].Status != "ok" {
		t.Errorf("db check = %+v", status.Checks["db"])
	}
	if status.Checks["reporting"].Status != "fail" {
		t.Errorf("reporting check = %+v", status.Checks["reporting"])
	}
}

func TestHealthChecker_RecordsLatency(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("database", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	status := h.CheckReady(context.Background())
	if got := status.Checks["database"].LatencyMS; got < 20 {
		t.Errorf("latency = %dms, want at least 20", got)
	}
}
