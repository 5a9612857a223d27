// Package shadow runs a candidate pipeline configuration alongside the
// production one and records where their behavior diverges.
//
// The candidate always runs in simulate mode and can never affect the
// production response: its errors, timeouts, and diff-store outages are
// recorded and swallowed.
package shadow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fokalhq/fokal/internal/agent"
)

// DefaultCandidateTimeout bounds the candidate run so a slow experimental
// configuration cannot pile up goroutines.
const DefaultCandidateTimeout = 30 * time.Second

// DiffRecord captures one production/candidate comparison.
type DiffRecord struct {
	ID                 string          `json:"id"`
	CorrelationID      string          `json:"correlation_id"`
	TenantID           string          `json:"tenant_id"`
	UserMessage        string          `json:"user_message"`
	ProductionStatus   string          `json:"production_status"`
	ProductionText     string          `json:"production_text"`
	ProductionCalls    json.RawMessage `json:"production_calls,omitempty"`
	CandidateStatus    string          `json:"candidate_status,omitempty"`
	CandidateText      string          `json:"candidate_text,omitempty"`
	CandidateCalls     json.RawMessage `json:"candidate_calls,omitempty"`
	Match              bool            `json:"match"`
	ProductionError    string          `json:"production_error,omitempty"`
	CandidateError     string          `json:"candidate_error,omitempty"`
	ProductionDuration time.Duration   `json:"production_duration"`
	CandidateDuration  time.Duration   `json:"candidate_duration"`
	CreatedAt          time.Time       `json:"created_at"`
}

// DiffStore persists comparison records.
type DiffStore interface {
	SaveDiff(ctx context.Context, rec DiffRecord) error
}

// Comparator is a Runner that forwards to production and shadows the
// candidate.
type Comparator struct {
	production agent.Runner
	candidate  agent.Runner
	diffs      DiffStore
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
	inflight   sync.WaitGroup
}

// NewComparator creates a shadow comparator over the two runners.
func NewComparator(production, candidate agent.Runner, diffs DiffStore, logger *slog.Logger) *Comparator {
	return &Comparator{
		production: production,
		candidate:  candidate,
		diffs:      diffs,
		logger:     logger,
		timeout:    DefaultCandidateTimeout,
		now:        time.Now,
	}
}

// WithTimeout sets the candidate run timeout.
func (c *Comparator) WithTimeout(d time.Duration) *Comparator {
	c.timeout = d
	return c
}

// Process runs the production pipeline and returns its outcome as soon as it
// completes. The candidate comparison continues in the background on a
// detached context so a slow candidate never delays the caller.
func (c *Comparator) Process(ctx context.Context, input *agent.Input) (*agent.Outcome, error) {
	prodStart := c.now()
	prodOut, prodErr := c.production.Process(ctx, input)
	prodDur := c.now().Sub(prodStart)

	bgCtx := context.WithoutCancel(ctx)
	inputCopy := *input
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.compare(bgCtx, &inputCopy, prodOut, prodErr, prodDur)
	}()

	return prodOut, prodErr
}

// Wait blocks until every in-flight comparison has finished. Call it during
// shutdown so pending diff records reach the store.
func (c *Comparator) Wait() {
	c.inflight.Wait()
}

func (c *Comparator) compare(ctx context.Context, input *agent.Input, prodOut *agent.Outcome, prodErr error, prodDur time.Duration) {
	rec := DiffRecord{
		ID:                 uuid.NewString(),
		CorrelationID:      input.CorrelationID,
		TenantID:           input.TenantID,
		UserMessage:        input.Message,
		ProductionDuration: prodDur,
		CreatedAt:          c.now().UTC(),
	}
	if prodErr != nil {
		rec.ProductionError = prodErr.Error()
	}
	if prodOut != nil {
		rec.ProductionStatus = string(prodOut.Status)
		rec.ProductionText = prodOut.Message
		rec.ProductionCalls = marshalCalls(prodOut)
		if rec.CorrelationID == "" {
			rec.CorrelationID = prodOut.CorrelationID
		}
	}

	shadowInput := *input
	shadowInput.Simulate = true

	candCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	candStart := c.now()
	candOut, candErr := c.candidate.Process(candCtx, &shadowInput)
	rec.CandidateDuration = c.now().Sub(candStart)

	if candErr != nil {
		rec.CandidateError = candErr.Error()
	}
	if candOut != nil {
		rec.CandidateStatus = string(candOut.Status)
		rec.CandidateText = candOut.Message
		rec.CandidateCalls = marshalCalls(candOut)
	}

	rec.Match = outcomesMatch(prodOut, prodErr, candOut, candErr)

	if c.diffs != nil {
		if err := c.diffs.SaveDiff(ctx, rec); err != nil {
			c.logger.ErrorContext(ctx, "shadow diff write failed",
				slog.String("tenant_id", input.TenantID),
				slog.String("error", err.Error()))
		}
	}

	if !rec.Match {
		c.logger.InfoContext(ctx, "shadow mismatch",
			slog.String("tenant_id", input.TenantID),
			slog.String("correlation_id", rec.CorrelationID),
			slog.String("production_status", rec.ProductionStatus),
			slog.String("candidate_status", rec.CandidateStatus))
	}
}

// outcomesMatch is the deterministic match policy: both failed, or both
// succeeded with the same status and either equivalent normalized text or the
// same tool sequence.
func outcomesMatch(prodOut *agent.Outcome, prodErr error, candOut *agent.Outcome, candErr error) bool {
	if prodErr != nil || candErr != nil {
		return prodErr != nil && candErr != nil
	}
	if prodOut == nil || candOut == nil {
		return prodOut == candOut
	}
	if prodOut.Status != candOut.Status {
		return false
	}
	if normalizeText(prodOut.Message) == normalizeText(candOut.Message) {
		return true
	}
	return sameToolSequence(prodOut, candOut)
}

// normalizeText lowercases and collapses whitespace so formatting drift does
// not count as a behavioral difference.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func sameToolSequence(a, b *agent.Outcome) bool {
	as, bs := toolSequence(a), toolSequence(b)
	if len(as) == 0 || len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func toolSequence(o *agent.Outcome) []string {
	var seq []string
	if o.Plan != nil {
		for _, s := range o.Plan.Steps {
			seq = append(seq, s.Tool)
		}
		return seq
	}
	for _, r := range o.Results {
		seq = append(seq, r.Name)
	}
	for _, p := range o.Proposals {
		seq = append(seq, p.Tool)
	}
	return seq
}

func marshalCalls(o *agent.Outcome) json.RawMessage {
	seq := toolSequence(o)
	if len(seq) == 0 {
		return nil
	}
	raw, err := json.Marshal(seq)
	if err != nil {
		return nil
	}
	return raw
}
