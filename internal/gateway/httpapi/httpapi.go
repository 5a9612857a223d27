// Package httpapi implements the HTTP API gateway for Fokal.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Each API key maps to exactly one studio tenant; cross-tenant reads are
//     impossible through this surface
//   - Request body size limits (default 1 MB)
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/fokalhq/fokal/internal/agent"
	"github.com/fokalhq/fokal/internal/gateway/ws"
	"github.com/fokalhq/fokal/internal/observability"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/shadow"
	"github.com/fokalhq/fokal/internal/storage"
	"github.com/fokalhq/fokal/internal/tools"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

const (
	defaultAuditLimit = 50
	maxListLimit      = 500
)

// Approver resolves a tracked proposal and, on approval, resumes execution of
// the original action. The production orchestrator implements it.
type Approver interface {
	ResumeWithProposal(ctx context.Context, proposalID, resolverID string, approve bool) (*agent.Outcome, error)
}

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key to tenant ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	runner    agent.Runner
	approver  Approver
	proposals *proposal.Manager
	logger    *slog.Logger
	server    *http.Server

	audits storage.AuditQueryStore // nil = audit endpoint disabled.
	diffs  storage.ShadowDiffStore // nil = shadow diff endpoint disabled.
	events *ws.Hub                 // nil = no event feed.

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway over the action runner.
func NewGateway(cfg Config, runner agent.Runner, approver Approver, proposals *proposal.Manager, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize == 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:    cfg,
		runner:    runner,
		approver:  approver,
		proposals: proposals,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithAuditLog enables the GET /v1/audit endpoint.
func (g *Gateway) WithAuditLog(audits storage.AuditQueryStore) *Gateway {
	g.audits = audits
	return g
}

// WithShadowDiffs enables the GET /v1/shadow-diffs endpoint.
func (g *Gateway) WithShadowDiffs(diffs storage.ShadowDiffStore) *Gateway {
	g.diffs = diffs
	return g
}

// WithEventFeed mounts a WebSocket approval event feed at /v1/events.
func (g *Gateway) WithEventFeed(hub *ws.Hub) *Gateway {
	g.events = hub
	return g
}

// WithOpenAPIDocs enables the generated API documentation UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Fokal",
			Version: "v0.1.0",
		},
	)
	return g
}

// Name implements gateway.Gateway.
func (g *Gateway) Name() string { return "http" }

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{
			observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		}, middlewares...)
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/actions", g.handleAction,
		okapi.DocSummary("Run a natural-language action request"),
		okapi.DocTags("Actions"),
		okapi.DocRequestBody(ActionRequest{}),
		okapi.DocResponse(ActionResponse{}),
		okapi.DocResponse(http.StatusAccepted, ActionResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/approve", g.handleApprove,
		okapi.DocSummary("Approve or deny a pending proposal"),
		okapi.DocTags("Actions"),
		okapi.DocRequestBody(ApproveRequest{}),
		okapi.DocResponse(ApproveResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusGone, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.group.Get("/proposals/{id}", g.handleProposalStatus,
		okapi.DocSummary("Get the status of a tracked proposal"),
		okapi.DocTags("Actions"),
		okapi.DocPathParam("id", "string", "Proposal ID"),
		okapi.DocResponse(ProposalStatusResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	if g.audits != nil {
		g.group.Get("/audit", g.handleAuditQuery,
			okapi.DocSummary("List audit trail entries for the authenticated studio"),
			okapi.DocTags("Audit"),
			okapi.DocResponse(AuditQueryResponse{}),
		)
	}
	if g.diffs != nil {
		g.group.Get("/shadow-diffs", g.handleShadowDiffs,
			okapi.DocSummary("List shadow comparison records for the authenticated studio"),
			okapi.DocTags("Shadow"),
			okapi.DocResponse(ShadowDiffResponse{}),
		)
	}
	if g.events != nil {
		g.okapi.HandleStd("GET", "/v1/events", g.events.Handler().ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ActionRequest is the JSON body for POST /v1/actions.
type ActionRequest struct {
	Message       string `json:"message"`
	UserID        string `json:"user_id,omitempty"`     // Defaults to the tenant ID.
	StudioName    string `json:"studio_name,omitempty"` // Personalizes model prompts.
	Simulate      bool   `json:"simulate,omitempty"`    // Dry-run: nothing persists.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ProposalView is the client-facing shape of a pending proposal.
type ProposalView struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	Label     string `json:"label"`
	Reason    string `json:"reason,omitempty"`
	RiskLevel string `json:"risk_level"`
}

// ActionResponse is the JSON response for POST /v1/actions.
type ActionResponse struct {
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	Proposals     []ProposalView `json:"proposals,omitempty"`
	Results       []tools.Result `json:"results,omitempty"`
	TokensUsed    int            `json:"tokens_used,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

func (g *Gateway) handleAction(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")
	if tenantID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.AbortBadRequest("message is required")
	}

	userID := req.UserID
	if userID == "" {
		userID = tenantID
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	g.logger.Info("http action",
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.Bool("simulate", req.Simulate),
	)

	outcome, err := g.runner.Process(c.Context(), &agent.Input{
		TenantID:      tenantID,
		UserID:        userID,
		StudioName:    req.StudioName,
		Message:       req.Message,
		CorrelationID: correlationID,
		Simulate:      req.Simulate,
	})
	if err != nil {
		g.logger.Error("action processing failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("processing failed")
	}

	resp := actionResponse(outcome)
	if g.events != nil {
		for _, p := range outcome.Proposals {
			g.events.Publish(ws.Event{
				Type:       ws.EventProposalCreated,
				TenantID:   tenantID,
				ProposalID: p.ID,
				Tool:       p.Tool,
				Label:      p.Label,
				RiskLevel:  p.RiskLevel.String(),
				Reason:     p.Reason,
			})
		}
	}

	return c.JSON(statusToHTTP(outcome.Status), resp)
}

// statusToHTTP maps outcome statuses onto response codes. Denials are policy
// verdicts, not authentication failures, so they use 403 rather than 401.
func statusToHTTP(status agent.Status) int {
	switch status {
	case agent.StatusNeedsApproval:
		return http.StatusAccepted
	case agent.StatusDenied:
		return http.StatusForbidden
	case agent.StatusError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func actionResponse(outcome *agent.Outcome) ActionResponse {
	resp := ActionResponse{
		Status:        string(outcome.Status),
		Message:       outcome.Message,
		Results:       outcome.Results,
		TokensUsed:    outcome.TokensUsed,
		CorrelationID: outcome.CorrelationID,
	}
	for _, p := range outcome.Proposals {
		resp.Proposals = append(resp.Proposals, ProposalView{
			ID:        p.ID,
			Tool:      p.Tool,
			Label:     p.Label,
			Reason:    p.Reason,
			RiskLevel: p.RiskLevel.String(),
		})
	}
	return resp
}

// ApproveRequest is the JSON body for POST /v1/approve.
type ApproveRequest struct {
	ProposalID string `json:"proposal_id"`
	Decision   string `json:"decision"` // "approve" or "deny"
	ResolverID string `json:"resolver_id,omitempty"`
}

// ApproveResponse is the JSON response after resolving a proposal.
type ApproveResponse struct {
	ProposalID    string         `json:"proposal_id"`
	Decision      string         `json:"decision"`
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	Results       []tools.Result `json:"results,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func (g *Gateway) handleApprove(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")
	if tenantID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ProposalID == "" {
		return c.AbortBadRequest("proposal_id is required")
	}
	if req.Decision != "approve" && req.Decision != "deny" {
		return c.AbortBadRequest("decision must be \"approve\" or \"deny\"")
	}

	resolverID := req.ResolverID
	if resolverID == "" {
		resolverID = tenantID
	}

	pending, err := g.proposals.Get(c.Context(), req.ProposalID)
	if err != nil {
		return proposalError(c, err)
	}
	if pending.TenantID != tenantID {
		// Do not leak cross-tenant proposal existence.
		return proposalError(c, proposal.ErrNotFound)
	}
	switch pending.Status {
	case proposal.StatusExpired:
		return proposalError(c, proposal.ErrExpired)
	case proposal.StatusApproved, proposal.StatusDenied:
		return proposalError(c, proposal.ErrAlreadyResolved)
	}

	g.logger.Info("http approval",
		slog.String("tenant_id", tenantID),
		slog.String("proposal_id", req.ProposalID),
		slog.String("decision", req.Decision),
		slog.String("resolver_id", resolverID),
	)

	outcome, err := g.approver.ResumeWithProposal(c.Context(), req.ProposalID, resolverID, req.Decision == "approve")
	if err != nil {
		g.logger.Error("proposal resolution failed",
			slog.String("proposal_id", req.ProposalID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("proposal resolution failed")
	}

	if g.events != nil {
		decision := "denied"
		if req.Decision == "approve" {
			decision = "approved"
		}
		g.events.Publish(ws.Event{
			Type:       ws.EventProposalResolved,
			TenantID:   tenantID,
			ProposalID: req.ProposalID,
			Tool:       pending.Proposal.Tool,
			Decision:   decision,
			ResolverID: resolverID,
		})
	}

	return c.OK(ApproveResponse{
		ProposalID:    req.ProposalID,
		Decision:      req.Decision,
		Status:        string(outcome.Status),
		Message:       outcome.Message,
		Results:       outcome.Results,
		CorrelationID: outcome.CorrelationID,
	})
}

// ProposalStatusResponse is the JSON response for GET /v1/proposals/{id}.
type ProposalStatusResponse struct {
	Proposal   ProposalView `json:"proposal"`
	Status     string       `json:"status"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

func (g *Gateway) handleProposalStatus(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")
	if tenantID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	pending, err := g.proposals.Get(c.Context(), c.Param("id"))
	if err != nil {
		return proposalError(c, err)
	}
	if pending.TenantID != tenantID {
		return proposalError(c, proposal.ErrNotFound)
	}

	return c.OK(ProposalStatusResponse{
		Proposal: ProposalView{
			ID:        pending.Proposal.ID,
			Tool:      pending.Proposal.Tool,
			Label:     pending.Proposal.Label,
			Reason:    pending.Proposal.Reason,
			RiskLevel: pending.Proposal.RiskLevel.String(),
		},
		Status:     pending.Status.String(),
		ResolvedBy: pending.ResolvedBy,
		CreatedAt:  pending.CreatedAt,
		ExpiresAt:  pending.ExpiresAt,
	})
}

// AuditQueryResponse is the JSON response for GET /v1/audit.
type AuditQueryResponse struct {
	Entries []auditEntryView `json:"entries"`
	Count   int              `json:"count"`
}

// auditEntryView mirrors audit.Entry for documentation purposes.
type auditEntryView = map[string]any

func (g *Gateway) handleAuditQuery(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")
	if tenantID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	q := c.Request().URL.Query()
	limit := parseLimit(q.Get("limit"), defaultAuditLimit)

	entries, err := g.audits.Query(c.Context(), tenantID, q.Get("user_id"), limit)
	if err != nil {
		g.logger.Error("audit query failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("audit query failed")
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			"tenant_id":    e.TenantID,
			"user_id":      e.UserID,
			"action":       e.Action,
			"target_table": e.TargetTable,
			"target_id":    e.TargetID,
			"status":       string(e.Status),
			"risk_level":   e.RiskLevel,
			"approved_by":  e.ApprovedBy,
			"amount":       e.Amount,
			"created_at":   e.CreatedAt,
		})
	}
	return c.OK(AuditQueryResponse{Entries: views, Count: len(views)})
}

// ShadowDiffResponse is the JSON response for GET /v1/shadow-diffs.
type ShadowDiffResponse struct {
	Diffs []shadow.DiffRecord `json:"diffs"`
	Count int                 `json:"count"`
}

func (g *Gateway) handleShadowDiffs(c *okapi.Context) error {
	tenantID := c.GetString("tenantID")
	if tenantID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	q := c.Request().URL.Query()
	limit := parseLimit(q.Get("limit"), defaultAuditLimit)
	onlyMismatches := q.Get("mismatches_only") == "true"

	diffs, err := g.diffs.ListDiffs(c.Context(), tenantID, onlyMismatches, limit)
	if err != nil {
		g.logger.Error("shadow diff query failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("shadow diff query failed")
	}
	return c.OK(ShadowDiffResponse{Diffs: diffs, Count: len(diffs)})
}

// HealthResponse is the JSON response for the health probes.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer API key and resolves the studio tenant it
// belongs to.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		tenantID := ""
		for key, tenant := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				tenantID = tenant
			}
		}
		if tenantID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("tenantID", tenantID)
		return next(c)
	}
}

// --- Helpers ---

// proposalError maps proposal resolution errors to HTTP responses.
func proposalError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, proposal.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "proposal not found"})
	case errors.Is(err, proposal.ErrExpired):
		return c.JSON(http.StatusGone, okapi.M{"error": "proposal expired"})
	case errors.Is(err, proposal.ErrAlreadyResolved):
		return c.JSON(http.StatusConflict, okapi.M{"error": "proposal already resolved"})
	default:
		return c.AbortInternalServerError("proposal error")
	}
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
