package policy

import (
	"context"
	"log/slog"
)

// Resolver loads tenant policies from the store, degrading to the hard-coded
// conservative default on any failure. The resolver never fails open: callers
// always receive a usable policy.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver creates a policy resolver backed by the given store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Load returns the tenant's policy. A missing row, a nil store, or any store
// error resolves to Default(); the caller cannot distinguish these cases and
// must not need to.
func (r *Resolver) Load(ctx context.Context, tenantID string) Policy {
	if r.store == nil {
		return Default()
	}

	p, err := r.store.LoadPolicy(ctx, tenantID)
	if err != nil {
		r.logger.WarnContext(ctx, "policy load failed, using conservative default",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return Default()
	}

	// Normalize the stored mode so an unrecognized value cannot widen access.
	p.Mode = ParseMode(string(p.Mode))
	return p
}
