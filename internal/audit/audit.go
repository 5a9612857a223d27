// Package audit records every proposed, executed, denied, and failed action
// in an append-only trail.
//
// Audit is best-effort observability, not a transactional guarantee: a write
// failure is logged locally and swallowed so it can never abort the business
// action that triggered it.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Status classifies an audit entry.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusExecuted Status = "executed"
	StatusDenied   Status = "denied"
	StatusFailed   Status = "failed"
)

// Entry is a single record in the append-only audit trail.
type Entry struct {
	TenantID    string         `json:"tenant_id"`
	UserID      string         `json:"user_id"`
	Action      string         `json:"action"`
	TargetTable string         `json:"target_table,omitempty"`
	TargetID    string         `json:"target_id,omitempty"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	Status      Status         `json:"status"`
	RiskLevel   string         `json:"risk_level,omitempty"`
	ApprovedBy  string         `json:"approved_by,omitempty"`
	Amount      float64        `json:"amount,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Store is an append-only store for audit entries.
// No update or delete methods exist; immutability is enforced at the
// interface level.
type Store interface {
	Append(ctx context.Context, e Entry) error
}

// Logger writes audit entries through a Store, swallowing persistence
// failures. Safe for concurrent use as long as the Store is.
type Logger struct {
	store  Store
	logger *slog.Logger
}

// NewLogger creates an audit logger. A nil store turns every write into a
// local log line only.
func NewLogger(store Store, logger *slog.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Log appends an entry. Persistence failures are logged and swallowed.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if l.store != nil {
		if err := l.store.Append(ctx, e); err != nil {
			l.logger.ErrorContext(ctx, "audit write failed",
				slog.String("tenant_id", e.TenantID),
				slog.String("action", e.Action),
				slog.String("status", string(e.Status)),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	l.logger.InfoContext(ctx, "audit entry",
		slog.String("tenant_id", e.TenantID),
		slog.String("user_id", e.UserID),
		slog.String("action", e.Action),
		slog.String("status", string(e.Status)),
	)
}

// LogProposed records a proposal-time entry: no before/after snapshots yet.
func (l *Logger) LogProposed(ctx context.Context, tenantID, userID, action, targetTable, riskLevel string, amount float64) {
	l.Log(ctx, Entry{
		TenantID:    tenantID,
		UserID:      userID,
		Action:      action,
		TargetTable: targetTable,
		Status:      StatusProposed,
		RiskLevel:   riskLevel,
		Amount:      amount,
	})
}

// LogExecuted records a successful execution with before/after snapshots.
func (l *Logger) LogExecuted(ctx context.Context, tenantID, userID, action, targetTable, targetID string, before, after map[string]any, approvedBy string, amount float64) {
	l.Log(ctx, Entry{
		TenantID:    tenantID,
		UserID:      userID,
		Action:      action,
		TargetTable: targetTable,
		TargetID:    targetID,
		Before:      before,
		After:       after,
		Status:      StatusExecuted,
		ApprovedBy:  approvedBy,
		Amount:      amount,
	})
}

// LogFailure records a failed execution: the attempted payload goes in
// Before, the error text in Metadata.
func (l *Logger) LogFailure(ctx context.Context, tenantID, userID, action, targetTable string, attempted map[string]any, execErr error) {
	meta := map[string]any{}
	if execErr != nil {
		meta["error"] = execErr.Error()
	}
	l.Log(ctx, Entry{
		TenantID:    tenantID,
		UserID:      userID,
		Action:      action,
		TargetTable: targetTable,
		Before:      attempted,
		Status:      StatusFailed,
		Metadata:    meta,
	})
}

// LogDenied records an authorization denial.
func (l *Logger) LogDenied(ctx context.Context, tenantID, userID, action, reason string) {
	l.Log(ctx, Entry{
		TenantID: tenantID,
		UserID:   userID,
		Action:   action,
		Status:   StatusDenied,
		Metadata: map[string]any{"reason": reason},
	})
}

// CaptureBeforeAfter fetches state, runs the mutating executor, and re-fetches
// state, so callers get a diff for the audit record without duplicating fetch
// logic. Fetch errors are tolerated: a snapshot that cannot be taken is nil.
func CaptureBeforeAfter[T any](
	ctx context.Context,
	fetch func(ctx context.Context) (map[string]any, error),
	execute func(ctx context.Context) (T, error),
) (result T, before, after map[string]any, err error) {
	if fetch != nil {
		before, _ = fetch(ctx)
	}

	result, err = execute(ctx)
	if err != nil {
		return result, before, nil, err
	}

	if fetch != nil {
		after, _ = fetch(ctx)
	}
	return result, before, after, nil
}
