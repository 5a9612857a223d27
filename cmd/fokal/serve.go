package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fokalhq/fokal/internal/config"
	"github.com/fokalhq/fokal/internal/gateway"
	"github.com/fokalhq/fokal/internal/gateway/cli"
	"github.com/fokalhq/fokal/internal/gateway/httpapi"
	"github.com/fokalhq/fokal/internal/gateway/ws"
	"github.com/fokalhq/fokal/internal/retention"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	servePort       string
	serveTenant     string
	serveStudio     string
	serveSimulate   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the action engine (HTTP gateway or interactive CLI)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `fokal --config path` and `fokal serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
		cmd.Flags().StringVar(&serveTenant, "tenant", "local", "tenant ID for the interactive CLI")
		cmd.Flags().StringVar(&serveStudio, "studio", "", "studio display name for the interactive CLI")
		cmd.Flags().BoolVar(&serveSimulate, "simulate", false, "run every CLI request as a dry run")
	}
}

// runServe starts Fokal in serve mode. With an enabled gateway section the
// HTTP API listens for studio requests; otherwise an interactive CLI runs
// against the same pipeline.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("FOKAL_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &config.GatewayConfig{Enabled: true}
		}
		cfg.Gateway.ListenAddr = servePort
	}

	logger.Info("starting fokal", slog.String("config", serveConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Expire stale proposals in the background.
	cancelCleanup := sc.Proposals.StartCleanup(ctx, 1*time.Minute)
	defer cancelCleanup()

	// Retention sweeper (optional).
	if cfg.Retention != nil && cfg.Retention.Enabled {
		sweeper := retention.New(cfg.Retention, logger).
			WithShadowDiffs(sc.Store.ShadowDiffs()).
			WithProposals(sc.Store.Proposals(), sc.Proposals)
		cancelSweeper, err := sweeper.Start(ctx)
		if err != nil {
			return err
		}
		defer cancelSweeper()
	}

	// Build enabled gateways.
	gateways := buildGateways(cfg, sc)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	type gatewayErr struct {
		name string
		err  error
	}
	errs := make(chan gatewayErr, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			logger.Info("gateway started", slog.String("gateway", g.Name()))
			errs <- gatewayErr{name: g.Name(), err: g.Start(ctx)}
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case ge := <-errs:
		if ge.err != nil {
			logger.Error("gateway exited with error",
				slog.String("gateway", ge.name),
				slog.String("error", ge.err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway",
				slog.String("gateway", gateways[i].Name()),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildGateways creates all enabled gateways from config. Without an enabled
// HTTP gateway the interactive CLI is the default.
func buildGateways(cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	var gws []gateway.Gateway

	if cfg.Gateway == nil || !cfg.Gateway.Enabled {
		cliGW := cli.NewGateway(sc.Runner, sc.Orchestrator, serveTenant, serveStudio, sc.Logger).
			WithSimulate(serveSimulate)
		gws = append(gws, cliGW)
		sc.Logger.Debug("gateway enabled", slog.String("type", "cli"), slog.String("tenant", serveTenant))
		return gws
	}

	// Build API key → tenant mapping from config + env override.
	apiKeys := cfg.Gateway.APIKeys
	if apiKeys == nil {
		apiKeys = make(map[string]string)
	}
	if envKeys := os.Getenv("FOKAL_API_KEYS"); envKeys != "" {
		for _, entry := range strings.Split(envKeys, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
			if len(parts) == 2 {
				apiKeys[parts[0]] = parts[1]
			}
		}
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.Addr(),
		EnableDocs:     cfg.Gateway.EnableDocs,
		APIKeys:        apiKeys,
		MaxRequestSize: cfg.Gateway.MaxRequestSize(),
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		httpCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			httpCfg.Tracer = ts.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
	}

	httpGW := httpapi.NewGateway(httpCfg, sc.Runner, sc.Orchestrator, sc.Proposals, sc.Logger).
		WithAuditLog(sc.Store.Audit()).
		WithEventFeed(ws.NewHub(apiKeys, sc.Logger))
	if cfg.Shadow != nil && cfg.Shadow.Enabled {
		httpGW.WithShadowDiffs(sc.Store.ShadowDiffs())
	}
	if cfg.Gateway.EnableDocs {
		httpGW.WithOpenAPIDocs()
	}

	gws = append(gws, httpGW)
	sc.Logger.Debug("gateway enabled",
		slog.String("type", "http"),
		slog.String("addr", cfg.Gateway.Addr()),
		slog.Bool("docs", cfg.Gateway.EnableDocs),
		slog.Bool("shadow_diffs", cfg.Shadow != nil && cfg.Shadow.Enabled),
	)

	return gws
}
