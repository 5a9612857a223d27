// Package storage defines the unified Store interface behind the action
// engine's persistence. Two backends are provided: SQLite (default,
// zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"
	"time"

	"github.com/fokalhq/fokal/internal/audit"
	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/shadow"
)

// Store is the unified persistence interface.
// It provides access to all domain-specific sub-stores through accessor
// methods; the returned stores share the same underlying connection.
type Store interface {
	Policies() policy.Store
	Audit() AuditQueryStore
	Proposals() proposal.Store
	ShadowDiffs() ShadowDiffStore
	Clients() crm.ClientStore
	Invoices() crm.InvoiceStore
	Sessions() crm.SessionStore
	Emails() crm.EmailStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// AuditQueryStore extends the append-only audit trail with the read path the
// gateway exposes. The trail itself stays immutable; Query never filters out
// or rewrites entries.
type AuditQueryStore interface {
	audit.Store
	Query(ctx context.Context, tenantID, userID string, limit int) ([]audit.Entry, error)
}

// ShadowDiffStore extends the comparator's write contract with the read and
// retention operations the gateway and sweeper need.
type ShadowDiffStore interface {
	shadow.DiffStore
	ListDiffs(ctx context.Context, tenantID string, onlyMismatches bool, limit int) ([]shadow.DiffRecord, error)
	PurgeDiffsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	JournalMode string `json:"journal_mode" yaml:"journal_mode"` // "wal" (default)
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// Driver names.
const (
	DefaultDriver  = "sqlite"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
