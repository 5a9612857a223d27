// Package calendar implements the book_session tool.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
)

// sessionKinds the studio understands. Free-form kinds are allowed but these
// are the ones the planner is told about.
var sessionKinds = []string{"wedding", "portrait", "newborn", "event", "commercial", "mini"}

// BookSessionTool books a photo session on the studio calendar.
type BookSessionTool struct {
	store  crm.SessionStore
	logger *slog.Logger
}

// NewBookSessionTool creates a book_session tool backed by the given store.
func NewBookSessionTool(store crm.SessionStore, logger *slog.Logger) *BookSessionTool {
	return &BookSessionTool{store: store, logger: logger}
}

func (t *BookSessionTool) Name() string { return "book_session" }

func (t *BookSessionTool) Description() string {
	return "Book a photo session on the studio calendar. " +
		"Fails if the requested time overlaps an existing session. " +
		"Kinds: " + strings.Join(sessionKinds, ", ") + "."
}

func (t *BookSessionTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"client_id": map[string]any{
				"type":        "string",
				"description": "ID of the client the session is for",
			},
			"kind": map[string]any{
				"type":        "string",
				"description": "Session type (wedding, portrait, newborn, event, commercial, mini)",
			},
			"starts_at": map[string]any{
				"type":        "string",
				"description": "Start time in RFC 3339 format (e.g. 2026-09-12T10:00:00Z)",
			},
			"duration_minutes": map[string]any{
				"type":        "integer",
				"description": "Session length in minutes (default: 60)",
			},
			"location": map[string]any{
				"type":        "string",
				"description": "Where the session takes place",
			},
		},
		"required": []string{"client_id", "kind", "starts_at"},
	}
}

func (t *BookSessionTool) Authority() string { return policy.AuthorityBookSession }

func (t *BookSessionTool) RiskLevel() policy.RiskLevel { return policy.RiskMedium }

func (t *BookSessionTool) Validate(params map[string]any) error {
	for _, key := range []string{"client_id", "kind", "starts_at"} {
		v, ok := params[key].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return fmt.Errorf("missing required parameter: %s", key)
		}
	}
	starts, _ := params["starts_at"].(string)
	if _, err := time.Parse(time.RFC3339, starts); err != nil {
		return fmt.Errorf("starts_at must be RFC 3339: %w", err)
	}
	if v, ok := params["duration_minutes"].(float64); ok && v <= 0 {
		return fmt.Errorf("duration_minutes must be positive")
	}
	return nil
}

func (t *BookSessionTool) Execute(ctx context.Context, ectx *policy.ExecutionContext, params map[string]any) (any, error) {
	clientID, _ := params["client_id"].(string)
	kind, _ := params["kind"].(string)
	startsRaw, _ := params["starts_at"].(string)
	location, _ := params["location"].(string)

	startsAt, err := time.Parse(time.RFC3339, startsRaw)
	if err != nil {
		return nil, fmt.Errorf("starts_at must be RFC 3339: %w", err)
	}

	duration := 60 * time.Minute
	if v, ok := params["duration_minutes"].(float64); ok && v > 0 {
		duration = time.Duration(v) * time.Minute
	}

	session := &crm.Session{
		TenantID: ectx.TenantID,
		ClientID: clientID,
		Kind:     strings.ToLower(kind),
		StartsAt: startsAt.UTC(),
		EndsAt:   startsAt.UTC().Add(duration),
		Location: location,
	}

	if ectx.Simulate {
		existing, err := t.store.ListSessions(ctx, ectx.TenantID, session.StartsAt.Add(-24*time.Hour), session.EndsAt.Add(24*time.Hour))
		if err != nil {
			return nil, err
		}
		for _, other := range existing {
			if crm.Overlaps(session.StartsAt, session.EndsAt, other.StartsAt, other.EndsAt) {
				return nil, fmt.Errorf("time slot not available: overlaps session %s", other.ID)
			}
		}
		return map[string]any{
			"simulated": true,
			"session":   session,
		}, nil
	}

	if err := t.store.BookSession(ctx, session); err != nil {
		if errors.Is(err, crm.ErrSlotTaken) {
			return nil, fmt.Errorf("time slot not available: %w", err)
		}
		return nil, fmt.Errorf("booking session: %w", err)
	}

	t.logger.InfoContext(ctx, "session booked",
		slog.String("tenant_id", ectx.TenantID),
		slog.String("session_id", session.ID),
		slog.String("kind", session.Kind),
		slog.String("starts_at", session.StartsAt.Format(time.RFC3339)),
	)
	return map[string]any{
		"session_id": session.ID,
		"kind":       session.Kind,
		"starts_at":  session.StartsAt.Format(time.RFC3339),
		"ends_at":    session.EndsAt.Format(time.RFC3339),
		"location":   session.Location,
	}, nil
}
