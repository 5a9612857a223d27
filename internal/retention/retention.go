// Package retention prunes aged operational records on a cron schedule.
// Shadow comparison records and resolved proposals accumulate without bound
// otherwise; the audit trail is never touched.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fokalhq/fokal/internal/config"
	"github.com/fokalhq/fokal/internal/proposal"
	"github.com/fokalhq/fokal/internal/storage"
)

// Sweeper runs periodic retention sweeps. Each target is optional: a nil
// store simply skips that sweep.
type Sweeper struct {
	cfg    *config.RetentionConfig
	logger *slog.Logger

	diffs     storage.ShadowDiffStore
	proposals proposal.Store
	manager   *proposal.Manager

	parser cron.Parser
	now    func() time.Time
}

// New creates a retention sweeper. Attach targets with the With* methods.
func New(cfg *config.RetentionConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:    cfg,
		logger: logger,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:    time.Now,
	}
}

// WithShadowDiffs enables purging of aged shadow comparison records.
func (s *Sweeper) WithShadowDiffs(diffs storage.ShadowDiffStore) *Sweeper {
	s.diffs = diffs
	return s
}

// WithProposals enables purging of aged resolved proposals, both persisted
// and in-memory.
func (s *Sweeper) WithProposals(store proposal.Store, manager *proposal.Manager) *Sweeper {
	s.proposals = store
	s.manager = manager
	return s
}

// Start begins the sweep loop. Returns a cancel function, or an error when
// the configured schedule does not parse.
func (s *Sweeper) Start(ctx context.Context) (func(), error) {
	sched, err := s.parser.Parse(s.cfg.CronSchedule())
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", s.cfg.CronSchedule(), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		s.logger.InfoContext(ctx, "retention sweeper started",
			slog.String("schedule", s.cfg.CronSchedule()),
			slog.String("shadow_diff_age", s.cfg.ShadowDiffAge().String()),
			slog.String("proposal_age", s.cfg.ProposalAge().String()),
		)

		for {
			next := sched.Next(s.now().UTC())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("retention sweeper stopped")
				return
			case <-timer.C:
				s.Sweep(ctx)
			}
		}
	}()
	return cancel, nil
}

// Sweep runs one retention pass. Failures are logged per target; one failing
// store never blocks the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	if s.diffs != nil {
		cutoff := now.Add(-s.cfg.ShadowDiffAge())
		purged, err := s.diffs.PurgeDiffsBefore(ctx, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "shadow diff purge failed",
				slog.String("error", err.Error()))
		} else if purged > 0 {
			s.logger.InfoContext(ctx, "shadow diffs purged",
				slog.Int64("count", purged),
				slog.Time("cutoff", cutoff))
		}
	}

	if s.proposals != nil {
		cutoff := now.Add(-s.cfg.ProposalAge())
		purged, err := s.proposals.PurgeProposalsBefore(ctx, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "proposal purge failed",
				slog.String("error", err.Error()))
		} else if purged > 0 {
			s.logger.InfoContext(ctx, "proposals purged",
				slog.Int64("count", purged),
				slog.Time("cutoff", cutoff))
		}
	}

	if s.manager != nil {
		s.manager.Cleanup(ctx)
	}
}
