package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fokalhq/fokal/internal/agent"
	"github.com/fokalhq/fokal/internal/audit"
	"github.com/fokalhq/fokal/internal/config"
	"github.com/fokalhq/fokal/internal/llm"
	"github.com/fokalhq/fokal/internal/llm/openai"
	"github.com/fokalhq/fokal/internal/observability"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/ratelimit"
	"github.com/fokalhq/fokal/internal/shadow"
	"github.com/fokalhq/fokal/internal/storage"
	pgstore "github.com/fokalhq/fokal/internal/storage/postgres"
	sqlitestore "github.com/fokalhq/fokal/internal/storage/sqlite"
	"github.com/fokalhq/fokal/internal/tools"
	"github.com/fokalhq/fokal/internal/tools/calendar"
	"github.com/fokalhq/fokal/internal/tools/client"
	"github.com/fokalhq/fokal/internal/tools/email"
	"github.com/fokalhq/fokal/internal/tools/invoice"
	mcptools "github.com/fokalhq/fokal/internal/tools/mcp"
	"github.com/fokalhq/fokal/internal/tools/report"
)

// SharedComponents holds all initialized subsystems that both serve and CLI
// modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).

	Obs       *observability.Observability
	Provider  llm.Provider
	Registry  *tools.Registry
	Executor  *tools.Executor
	Resolver  *policy.Resolver
	Proposals *proposal.Manager
	Auditor   *audit.Logger

	// Orchestrator is the concrete pipeline; Runner is the request entry
	// point, possibly wrapped by the shadow comparator and instrumentation.
	Orchestrator *agent.Orchestrator
	Runner       agent.Runner

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between serve and CLI
// modes. Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	// Planning LLM provider.
	provider := buildProvider(cfg.Provider, logger)
	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
	}
	sc.Provider = provider
	logger.Debug("llm provider initialized", slog.String("model", cfg.Provider.Model))

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(ctx); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// Policy resolution and audit trail.
	sc.Resolver = policy.NewResolver(store.Policies(), logger)
	sc.Auditor = audit.NewLogger(store.Audit(), logger)

	// Proposal manager, backed by the store so pending approvals survive
	// restarts.
	proposals := proposal.NewManager(cfg.Approval.TTL(), logger).
		WithStore(store.Proposals())
	if err := proposals.Restore(ctx); err != nil {
		logger.Warn("restoring pending proposals", slog.String("error", err.Error()))
	}
	sc.Proposals = proposals
	logger.Debug("proposal manager initialized", slog.String("ttl", cfg.Approval.TTL().String()))

	// Tool registry.
	registry := tools.NewRegistry()
	registry.Register(client.NewCreateLeadTool(store.Clients(), logger))
	registry.Register(client.NewSearchClientsTool(store.Clients(), logger))
	registry.Register(client.NewUpdateClientTool(store.Clients(), logger))
	registry.Register(invoice.NewCreateInvoiceTool(store.Invoices(), store.Clients(), logger))
	registry.Register(calendar.NewBookSessionTool(store.Sessions(), logger))

	var sender email.Sender
	if cfg.Email != nil {
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			TLS:      cfg.Email.Port == 465,
		}, logger)
	}
	registry.Register(email.NewSendEmailTool(sender, store.Emails(), logger))

	if cfg.Report != nil && cfg.Report.DSN != "" {
		registry.Register(report.NewQueryTool(report.Config{
			DSN:            cfg.Report.DSN,
			MaxRows:        cfg.Report.MaxRows,
			TimeoutSeconds: cfg.Report.TimeoutSeconds,
		}, logger))
	}
	logger.Debug("tools registered", slog.Any("tools", registry.List()))

	// External MCP tool servers.
	if len(cfg.MCP) > 0 {
		bridge := mcptools.NewBridge(logger)
		mcpCtx, mcpCancel := context.WithTimeout(ctx, 30*time.Second)
		for _, mcpCfg := range cfg.MCP {
			discovered, mcpErr := bridge.ConnectAndDiscover(mcpCtx, mcpCfg)
			if mcpErr != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", mcpCfg.Name),
					slog.String("error", mcpErr.Error()),
				)
				continue
			}
			for _, t := range discovered {
				registry.Register(t)
			}
		}
		mcpCancel()
		sc.addCleanup(bridge.Close)
		logger.Debug("tools registered (with MCP)", slog.Any("tools", registry.List()))
	}
	sc.Registry = registry

	// Executor.
	executor := tools.NewExecutor(registry, logger)
	if obs != nil && obs.Metrics != nil {
		executor = executor.WithObserver(obs.Metrics)
	}
	sc.Executor = executor

	// Core pipeline.
	planner := agent.NewPlanner(provider, registry, logger)
	orch := agent.NewOrchestrator(planner, executor, registry, sc.Resolver, proposals, sc.Auditor, logger).
		WithRateLimiter(ratelimit.NewLimiter()).
		WithPlanning(cfg.Planning.Enabled)
	sc.Orchestrator = orch

	var runner agent.Runner = orch

	// Shadow comparison: the candidate model runs the same pipeline in
	// simulate mode; production outcomes are never affected.
	if cfg.Shadow != nil && cfg.Shadow.Enabled {
		candProvider := buildProvider(cfg.Shadow.Candidate, logger)
		candPlanner := agent.NewPlanner(candProvider, registry, logger)
		candidate := agent.NewOrchestrator(candPlanner, executor, registry, sc.Resolver, proposals, sc.Auditor, logger)

		cmp := shadow.NewComparator(runner, candidate, store.ShadowDiffs(), logger).
			WithTimeout(cfg.Shadow.CandidateTimeout())
		sc.addCleanup(cmp.Wait)
		runner = cmp
		logger.Debug("shadow comparison enabled",
			slog.String("candidate_model", cfg.Shadow.Candidate.Model),
			slog.String("timeout", cfg.Shadow.CandidateTimeout().String()),
		)
	}

	if obs != nil && obs.Metrics != nil {
		runner = observability.NewInstrumentedRunner(runner, obs.Metrics, obs.TracerOrNil())
	}
	sc.Runner = runner

	// Health checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	return sc, nil
}

// buildProvider creates an OpenAI-compatible client from provider config.
func buildProvider(pc config.ProviderConfig, logger *slog.Logger) llm.Provider {
	var opts []openai.Option
	if pc.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(pc.BaseURL))
	}
	return openai.NewClient(pc.APIKey, pc.Model, logger, opts...)
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	storageCfg := cfg.StorageConfig()

	switch storageCfg.Driver {
	case storage.DriverPostgres:
		if storageCfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or FOKAL_DB_DSN)")
		}
		db, err := pgstore.Open(pgstore.Config{
			DSN:             storageCfg.Postgres.DSN,
			MaxOpenConns:    storageCfg.Postgres.MaxOpenConns,
			MaxIdleConns:    storageCfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: time.Duration(storageCfg.Postgres.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return pgstore.NewStore(db), nil
	case storage.DriverSQLite:
		return sqlitestore.Open(sqlitestore.Config{
			Path:        storageCfg.SQLite.Path,
			JournalMode: storageCfg.SQLite.JournalMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", storageCfg.Driver)
	}
}
