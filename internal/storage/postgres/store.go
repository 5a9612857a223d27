package postgres

import (
	"context"
	"sync"

	"github.com/fokalhq/fokal/internal/crm"
	"github.com/fokalhq/fokal/internal/policy"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *DB

	// Sub-store instances (created lazily on first access).
	mu        sync.Mutex
	policies  policy.Store
	audits    storage.AuditQueryStore
	proposals proposal.Store
	diffs     storage.ShadowDiffStore
	clients   crm.ClientStore
	invoices  crm.InvoiceStore
	sessions  crm.SessionStore
	emails    crm.EmailStore
}

// NewStore wraps an open connection as a unified store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Migrate runs GORM AutoMigrate for all models.
func (s *Store) Migrate(_ context.Context) error {
	return AutoMigrate(s.db.GormDB())
}

// Ping checks the connection for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}

func (s *Store) Policies() policy.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policies == nil {
		s.policies = NewPolicyRepository(s.db.GormDB())
	}
	return s.policies
}

func (s *Store) Audit() storage.AuditQueryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audits == nil {
		s.audits = NewAuditRepository(s.db.GormDB())
	}
	return s.audits
}

func (s *Store) Proposals() proposal.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proposals == nil {
		s.proposals = NewProposalRepository(s.db.GormDB())
	}
	return s.proposals
}

func (s *Store) ShadowDiffs() storage.ShadowDiffStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diffs == nil {
		s.diffs = NewShadowDiffRepository(s.db.GormDB())
	}
	return s.diffs
}

func (s *Store) Clients() crm.ClientStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients == nil {
		s.clients = NewClientRepository(s.db.GormDB())
	}
	return s.clients
}

func (s *Store) Invoices() crm.InvoiceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invoices == nil {
		s.invoices = NewInvoiceRepository(s.db.GormDB())
	}
	return s.invoices
}

func (s *Store) Sessions() crm.SessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = NewSessionRepository(s.db.GormDB())
	}
	return s.sessions
}

func (s *Store) Emails() crm.EmailStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emails == nil {
		s.emails = NewEmailRepository(s.db.GormDB())
	}
	return s.emails
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
