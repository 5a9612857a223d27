// Package config handles loading and validating Fokal configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fokalhq/fokal/internal/storage"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the Fokal action engine.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.fokal/data. Override: FOKAL_DATA_DIR env var.
	Storage       *storage.Config      `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Provider      ProviderConfig       `json:"provider" yaml:"provider"`
	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`             // nil = HTTP gateway disabled (CLI only)
	Approval      ApprovalConfig       `json:"approval" yaml:"approval"`
	Planning      PlanningConfig       `json:"planning" yaml:"planning"`
	Shadow        *ShadowConfig        `json:"shadow,omitempty" yaml:"shadow,omitempty"`               // nil = shadow comparison disabled
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = retention sweeper disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Report        *ReportConfig        `json:"report,omitempty" yaml:"report,omitempty"`               // nil = report_query tool not registered
	Email         *EmailConfig         `json:"email,omitempty" yaml:"email,omitempty"`                 // nil = send_email logs instead of delivering
	MCP           []MCPServerConfig    `json:"mcp,omitempty" yaml:"mcp,omitempty"`                     // External MCP tool servers.
}

// ProviderConfig configures the planning LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MiB.
	APIKeys             map[string]string `json:"api_keys" yaml:"api_keys"`                             // Bearer key → tenant ID.
}

// Addr returns the listen address with a default of ":8080".
func (g *GatewayConfig) Addr() string {
	if g != nil && g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request size cap with a default of 1 MiB.
func (g *GatewayConfig) MaxRequestSize() int64 {
	if g != nil && g.MaxRequestSizeBytes > 0 {
		return g.MaxRequestSizeBytes
	}
	return 1 << 20
}

// ApprovalConfig configures the proposal lifecycle.
type ApprovalConfig struct {
	TTLSeconds int `json:"ttl_seconds" yaml:"ttl_seconds"` // How long proposals stay approvable. 0 = 900s (15 min).
}

// TTL returns the proposal time-to-live with a default of 15 minutes.
func (a *ApprovalConfig) TTL() time.Duration {
	if a != nil && a.TTLSeconds > 0 {
		return time.Duration(a.TTLSeconds) * time.Second
	}
	return 15 * time.Minute
}

// PlanningConfig configures multi-step plan decomposition.
type PlanningConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// ShadowConfig configures candidate dual execution.
type ShadowConfig struct {
	Enabled                 bool           `json:"enabled" yaml:"enabled"`
	CandidateTimeoutSeconds int            `json:"candidate_timeout_seconds" yaml:"candidate_timeout_seconds"` // Default: 30.
	Candidate               ProviderConfig `json:"candidate" yaml:"candidate"`                                 // Provider for the candidate path.
}

// CandidateTimeout returns the candidate execution cap with a default of 30s.
func (s *ShadowConfig) CandidateTimeout() time.Duration {
	if s != nil && s.CandidateTimeoutSeconds > 0 {
		return time.Duration(s.CandidateTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// RetentionConfig configures the periodic purge of observational data.
type RetentionConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Schedule       string `json:"schedule" yaml:"schedule"`                 // Cron spec. Default: "17 3 * * *" (daily, 03:17).
	ShadowDiffDays int    `json:"shadow_diff_days" yaml:"shadow_diff_days"` // Default: 30.
	ProposalDays   int    `json:"proposal_days" yaml:"proposal_days"`       // Default: 90.
}

// CronSchedule returns the sweep schedule with a default of daily at 03:17.
func (r *RetentionConfig) CronSchedule() string {
	if r != nil && r.Schedule != "" {
		return r.Schedule
	}
	return "17 3 * * *"
}

// ShadowDiffAge returns the shadow diff retention window. Default: 30 days.
func (r *RetentionConfig) ShadowDiffAge() time.Duration {
	days := 30
	if r != nil && r.ShadowDiffDays > 0 {
		days = r.ShadowDiffDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ProposalAge returns the resolved-proposal retention window. Default: 90 days.
func (r *RetentionConfig) ProposalAge() time.Duration {
	days := 90
	if r != nil && r.ProposalDays > 0 {
		days = r.ProposalDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "fokal"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// ReportConfig configures the read-only reporting database tool.
type ReportConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"` // Override: FOKAL_REPORT_DSN env var.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// EmailConfig configures the SMTP relay for outbound mail.
type EmailConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"` // Default: 587.
	Username string `json:"username" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"` // Override: FOKAL_SMTP_PASSWORD env var.
	From     string `json:"from" yaml:"from"`
}

// MCPServerConfig defines a single external MCP server connection.
// Fokal acts as an MCP client, connecting at startup, discovering tools,
// and registering them in the tool registry with the configured authority.
type MCPServerConfig struct {
	Name      string            `json:"name" yaml:"name"`                           // Server ID used for tool namespacing (e.g., "printlab").
	Transport string            `json:"transport" yaml:"transport"`                 // "stdio", "sse", or "streamable_http".
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"` // Executable to launch (stdio only).
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`       // Command arguments (stdio only).
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`         // Subprocess env vars (stdio only). Values support ${VAR} expansion.
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`         // Server endpoint (sse/streamable_http only).
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // HTTP headers (sse/streamable_http). Values support ${VAR} expansion.
	Authority string            `json:"authority,omitempty" yaml:"authority,omitempty"` // Policy authority gating the server's tools. Default: "MCP_<NAME>".
	RiskLevel string            `json:"risk_level,omitempty" yaml:"risk_level,omitempty"` // "low", "medium", "high". Default: "medium".
	ReadOnly  bool              `json:"read_only,omitempty" yaml:"read_only,omitempty"`   // Side-effect free server; its tools may run in simulate mode.
}

// DefaultConfigPath returns the default config file path (~/.fokal/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/fokal.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".fokal", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Secrets can be set in the config file or overridden by
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets environment variables take precedence over file
// values for secrets and paths.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("FOKAL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("FOKAL_REPORT_DSN"); v != "" {
		if c.Report == nil {
			c.Report = &ReportConfig{}
		}
		c.Report.DSN = v
	}
	if v := os.Getenv("FOKAL_SMTP_PASSWORD"); v != "" {
		if c.Email != nil {
			c.Email.Password = v
		}
	}
	if v := os.Getenv("FOKAL_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &storage.Config{Driver: storage.DriverPostgres}
		}
		c.Storage.Postgres.DSN = v
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".fokal", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data
// directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "fokal.db")
}

// StorageConfig returns the effective storage config, defaulting to SQLite
// under the data directory.
func (c *Config) StorageConfig() storage.Config {
	if c.Storage != nil {
		cfg := *c.Storage
		if cfg.Driver == "" {
			cfg.Driver = storage.DefaultDriver
		}
		if cfg.Driver == storage.DriverSQLite && cfg.SQLite.Path == "" {
			cfg.SQLite.Path = c.DatabasePath()
		}
		return cfg
	}
	return storage.Config{
		Driver: storage.DriverSQLite,
		SQLite: storage.SQLiteConfig{Path: c.DatabasePath()},
	}
}

func (c *Config) validate() error {
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (set OPENAI_API_KEY env var)")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case storage.DriverSQLite, storage.DriverPostgres:
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
		if c.Storage.Driver == storage.DriverPostgres && c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set FOKAL_DB_DSN env var)")
		}
	}
	if c.Shadow != nil && c.Shadow.Enabled {
		if c.Shadow.Candidate.Model == "" {
			return fmt.Errorf("shadow.candidate.model is required when shadow comparison is enabled")
		}
	}
	mcpNames := make(map[string]bool, len(c.MCP))
	for i, srv := range c.MCP {
		if srv.Name == "" {
			return fmt.Errorf("mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}
