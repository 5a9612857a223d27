package proposal

import (
	"context"
	"time"
)

// Store persists proposal lifecycle records so pending approvals survive a
// restart and resolved ones remain inspectable.
type Store interface {
	SaveProposal(ctx context.Context, p *Pending) error
	UpdateProposalStatus(ctx context.Context, id string, status Status, resolvedBy string, resolvedAt time.Time) error
	LoadPending(ctx context.Context) ([]*Pending, error)
	PurgeProposalsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
