// Package scheduler runs bidirectional sync for every syncable integration on
// a cron schedule and sweeps abandoned runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/sync"
)

// DefaultConcurrency caps the integrations synced at once by one tick.
const DefaultConcurrency = 4

// Syncer executes one sync run.
// Implemented by [sync.Orchestrator].
type Syncer interface {
	Sync(ctx context.Context, req sync.Request) (model.SyncRunResult, error)
}

// Source lists the integrations due for scheduled runs and fails runs that
// were abandoned in_progress.
// Implemented by [state.Store].
type Source interface {
	ListSyncable(ctx context.Context) ([]*model.CalendarIntegration, error)
	FailStaleRuns(ctx context.Context, cutoff time.Time) (int64, error)
}

// TickStats summarizes one scheduled tick.
type TickStats struct {
	Integrations int
	Succeeded    int
	Failed       int
	Skipped      int
	Swept        int64
}

// Scheduler triggers scheduled runs. Create one with [New] and start it with
// [Scheduler.Run].
type Scheduler struct {
	syncer      Syncer
	source      Source
	spec        string
	staleAfter  time.Duration
	concurrency int
	log         *slog.Logger
	now         func() time.Time
}

// New creates a Scheduler firing on the robfig/cron spec. Runs stuck
// in_progress longer than staleAfter are marked error at the start of each
// tick.
func New(syncer Syncer, source Source, spec string, staleAfter time.Duration, concurrency int, logger *slog.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		syncer:      syncer,
		source:      source,
		spec:        spec,
		staleAfter:  staleAfter,
		concurrency: concurrency,
		log:         logger,
		now:         time.Now,
	}
}

// Run starts the cron loop with an immediate first tick. It blocks until ctx
// is cancelled, then waits for the tick in flight to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("scheduling %q: %w", s.spec, err)
	}

	s.tick(ctx)

	c.Start()
	s.log.Info("scheduler started", "schedule", s.spec, "concurrency", s.concurrency)

	<-ctx.Done()
	s.log.Info("scheduler shutting down")
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := s.Tick(ctx)
	if err != nil {
		s.log.Error("scheduled tick failed", "error", err)
		return
	}
	s.log.Info("scheduled tick finished",
		"integrations", stats.Integrations,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"swept", stats.Swept,
	)
}

// Tick performs one scheduled pass: sweep stale runs, then run a
// bidirectional sync for every syncable integration. Integrations that
// already have a run in progress are skipped. A failing integration never
// stops the others.
func (s *Scheduler) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats

	if s.staleAfter > 0 {
		n, err := s.source.FailStaleRuns(ctx, s.now().Add(-s.staleAfter))
		if err != nil {
			return stats, fmt.Errorf("sweeping stale runs: %w", err)
		}
		if n > 0 {
			s.log.Warn("marked abandoned sync runs as failed", "count", n)
		}
		stats.Swept = n
	}

	integrations, err := s.source.ListSyncable(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing syncable integrations: %w", err)
	}
	stats.Integrations = len(integrations)

	outcomes := make([]outcome, len(integrations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, integ := range integrations {
		g.Go(func() error {
			outcomes[i] = s.syncOne(gctx, integ)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	for _, o := range outcomes {
		switch o {
		case outcomeSucceeded:
			stats.Succeeded++
		case outcomeFailed:
			stats.Failed++
		case outcomeSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (s *Scheduler) syncOne(ctx context.Context, integ *model.CalendarIntegration) outcome {
	log := s.log.With("integration_id", integ.ID, "provider", integ.Provider)

	res, err := s.syncer.Sync(ctx, sync.Request{
		IntegrationID: integ.ID,
		RunType:       model.RunScheduled,
		Direction:     model.DirectionBidirectional,
	})
	switch {
	case errors.Is(err, model.ErrSyncAlreadyInProgress), errors.Is(err, sync.ErrIntegrationInactive):
		log.Debug("skipping scheduled run", "reason", err)
		return outcomeSkipped
	case err != nil:
		log.Warn("scheduled run failed", "error", err)
		return outcomeFailed
	case res.Status == model.RunError:
		return outcomeFailed
	}
	return outcomeSucceeded
}
