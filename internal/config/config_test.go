package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fokalhq/fokal/internal/storage"
)

func TestNilSectionDefaults(t *testing.T) {
	var (
		gw  *GatewayConfig
		ap  *ApprovalConfig
		sh  *ShadowConfig
		ret *RetentionConfig
		met *MetricsConfig
	)

	if got := gw.Addr(); got != ":8080" {
		t.Errorf("Addr() = %q", got)
	}
	if got := gw.MaxRequestSize(); got != 1<<20 {
		t.Errorf("MaxRequestSize() = %d", got)
	}
	if got := ap.TTL(); got != 15*time.Minute {
		t.Errorf("TTL() = %v", got)
	}
	if got := sh.CandidateTimeout(); got != 30*time.Second {
		t.Errorf("CandidateTimeout() = %v", got)
	}
	if got := ret.CronSchedule(); got != "17 3 * * *" {
		t.Errorf("CronSchedule() = %q", got)
	}
	if got := ret.ShadowDiffAge(); got != 30*24*time.Hour {
		t.Errorf("ShadowDiffAge() = %v", got)
	}
	if got := ret.ProposalAge(); got != 90*24*time.Hour {
		t.Errorf("ProposalAge() = %v", got)
	}
	if got := met.MetricsPath(); got != "/metrics" {
		t.Errorf("MetricsPath() = %q", got)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: ` + dir + `
provider:
  api_key: sk-test
  model: gpt-4o-mini
gateway:
  enabled: true
  listen_addr: ":9090"
  api_keys:
    key-1: studio-1
approval:
  ttl_seconds: 120
retention:
  enabled: true
  shadow_diff_days: 7
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider.Model != "gpt-4o-mini" {
		t.Errorf("Provider.Model = %q", cfg.Provider.Model)
	}
	if cfg.Gateway == nil || !cfg.Gateway.Enabled || cfg.Gateway.Addr() != ":9090" {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	if cfg.Gateway.APIKeys["key-1"] != "studio-1" {
		t.Errorf("APIKeys = %v", cfg.Gateway.APIKeys)
	}
	if got := cfg.Approval.TTL(); got != 2*time.Minute {
		t.Errorf("Approval.TTL() = %v", got)
	}
	if got := cfg.Retention.ShadowDiffAge(); got != 7*24*time.Hour {
		t.Errorf("ShadowDiffAge() = %v", got)
	}
}

func TestLoadRequiresModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("provider:\n  api_key: sk-test\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing provider.model")
	}
}

func TestStorageConfigDefaultsToSQLite(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/fokal-test"}

	sc := cfg.StorageConfig()
	if sc.Driver != storage.DriverSQLite {
		t.Errorf("Driver = %q", sc.Driver)
	}
	if sc.SQLite.Path != filepath.Join("/tmp/fokal-test", "fokal.db") {
		t.Errorf("SQLite.Path = %q", sc.SQLite.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("FOKAL_DB_DSN", "postgres://env/fokal")

	cfg := &Config{}
	cfg.applyEnvOverrides()

	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("Provider.APIKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Storage == nil || cfg.Storage.Postgres.DSN != "postgres://env/fokal" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Storage.Driver != storage.DriverPostgres {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
}
