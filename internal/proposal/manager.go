package proposal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status represents the lifecycle state of a pending proposal.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusDenied
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusDenied:
		return "denied"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Pending couples a proposal with the request context needed to resume
// execution once a human resolves it.
type Pending struct {
	Proposal      Proposal
	TenantID      string
	UserID        string
	CorrelationID string
	Amount        float64
	Status        Status
	ResolvedBy    string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ResolvedAt    time.Time
}

// Manager stores pending proposals in memory with a TTL.
// Thread-safe. Resolution is single-shot: a proposal is approved or denied
// exactly once.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Pending
	ttl     time.Duration
	logger  *slog.Logger
	store   Store
}

// NewManager creates a proposal manager with the given TTL for pending items.
func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		pending: make(map[string]*Pending),
		ttl:     ttl,
		logger:  logger,
	}
}

// WithStore enables write-through persistence. Store failures are logged and
// swallowed: the in-memory state stays authoritative for the running process.
func (m *Manager) WithStore(store Store) *Manager {
	m.store = store
	return m
}

// Restore loads persisted pending proposals into memory, typically at boot.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	entries, err := m.store.LoadPending(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.Status == StatusPending {
			m.pending[e.Proposal.ID] = e
		}
	}
	return nil
}

// Track stores a proposal awaiting approval and returns its ID.
func (m *Manager) Track(ctx context.Context, p Proposal, tenantID, userID, correlationID string, amount float64) string {
	now := time.Now().UTC()
	entry := &Pending{
		Proposal:      p,
		TenantID:      tenantID,
		UserID:        userID,
		CorrelationID: correlationID,
		Amount:        amount,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}

	m.mu.Lock()
	m.pending[p.ID] = entry
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveProposal(ctx, entry); err != nil {
			m.logger.ErrorContext(ctx, "proposal persistence failed",
				slog.String("proposal_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("proposal tracked",
		slog.String("proposal_id", p.ID),
		slog.String("tenant_id", tenantID),
		slog.String("tool", p.Tool),
		slog.String("risk", p.RiskLevel.String()),
	)
	return p.ID
}

// Get retrieves a pending proposal by ID, marking it expired on access if
// past its TTL.
func (m *Manager) Get(_ context.Context, id string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[id]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Status == StatusPending && time.Now().UTC().After(entry.ExpiresAt) {
		entry.Status = StatusExpired
	}
	return entry, nil
}

// Approve marks a pending proposal as approved by the given approver.
func (m *Manager) Approve(ctx context.Context, id, approverID string) error {
	return m.resolve(ctx, id, approverID, StatusApproved)
}

// Deny marks a pending proposal as denied.
func (m *Manager) Deny(ctx context.Context, id, denierID string) error {
	return m.resolve(ctx, id, denierID, StatusDenied)
}

func (m *Manager) resolve(ctx context.Context, id, resolverID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[id]
	if !ok {
		return ErrNotFound
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		entry.Status = StatusExpired
		return ErrExpired
	}
	if entry.Status != StatusPending {
		return ErrAlreadyResolved
	}

	entry.Status = status
	entry.ResolvedBy = resolverID
	entry.ResolvedAt = time.Now().UTC()

	if m.store != nil {
		if err := m.store.UpdateProposalStatus(ctx, id, status, resolverID, entry.ResolvedAt); err != nil {
			m.logger.ErrorContext(ctx, "proposal status persistence failed",
				slog.String("proposal_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("proposal resolved",
		slog.String("proposal_id", id),
		slog.String("resolver", resolverID),
		slog.String("status", status.String()),
		slog.String("tool", entry.Proposal.Tool),
	)
	return nil
}

// Cleanup removes expired entries and resolved entries older than 2x TTL.
func (m *Manager) Cleanup(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for id, entry := range m.pending {
		if entry.Status == StatusPending && now.After(entry.ExpiresAt) {
			entry.Status = StatusExpired
		}
		if entry.Status != StatusPending && now.After(entry.ExpiresAt.Add(m.ttl)) {
			delete(m.pending, id)
		}
	}
}

// StartCleanup runs Cleanup periodically until the returned cancel function
// is called or the context ends.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Cleanup(ctx)
			}
		}
	}()
	return cancel
}
