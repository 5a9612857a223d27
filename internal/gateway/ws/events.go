// Package ws streams approval lifecycle events to connected operator consoles
// over WebSocket. Studio dashboards subscribe once and see proposals appear
// and resolve in real time instead of polling the HTTP API.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event types published on the feed.
const (
	EventProposalCreated  = "proposal.created"
	EventProposalResolved = "proposal.resolved"
)

// Event is one approval lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	TenantID   string    `json:"tenant_id"`
	ProposalID string    `json:"proposal_id"`
	Tool       string    `json:"tool,omitempty"`
	Label      string    `json:"label,omitempty"`
	RiskLevel  string    `json:"risk_level,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Decision   string    `json:"decision,omitempty"` // "approved" or "denied"
	ResolverID string    `json:"resolver_id,omitempty"`
	At         time.Time `json:"at"`
}

// subscriberBuffer is the per-connection event queue depth. A consumer that
// falls further behind than this loses events rather than blocking publishers.
const subscriberBuffer = 16

type subscriber struct {
	tenantID string
	ch       chan Event
}

// Hub fans approval events out to connected subscribers. Publishing never
// blocks: slow consumers drop events.
type Hub struct {
	apiKeys map[string]string // bearer key to tenant ID, same mapping as the HTTP API
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub creates an event hub. With an empty key map connections are accepted
// unauthenticated and receive events for every tenant.
func NewHub(apiKeys map[string]string, logger *slog.Logger) *Hub {
	return &Hub{
		apiKeys: apiKeys,
		logger:  logger,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish delivers an event to every subscriber whose tenant matches.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.tenantID != "" && sub.tenantID != ev.TenantID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("event dropped for slow subscriber",
				slog.String("tenant_id", sub.tenantID),
				slog.String("type", ev.Type),
			)
		}
	}
}

// SubscriberCount reports how many connections are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe(tenantID string) *subscriber {
	sub := &subscriber{tenantID: tenantID, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleUpgrade)
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"fokal-events-v1"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	h.handleConnection(r.Context(), conn, tenantID)
}

// authenticate maps the bearer key (header or ?token= query parameter) to a
// tenant ID. An empty key map disables authentication.
func (h *Hub) authenticate(r *http.Request) (string, bool) {
	if len(h.apiKeys) == 0 {
		return "", true
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	tenantID := ""
	for key, tenant := range h.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			tenantID = tenant
		}
	}
	return tenantID, tenantID != ""
}

func (h *Hub) handleConnection(ctx context.Context, conn *websocket.Conn, tenantID string) {
	sub := h.subscribe(tenantID)
	defer func() {
		h.unsubscribe(sub)
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	h.logger.Info("event subscriber connected", slog.String("tenant_id", tenantID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The feed is one-way. Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Warn("event write failed",
					slog.String("tenant_id", tenantID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}
