package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	calsync "github.com/jaayshwaah/careiq-sub001/internal/sync"
)

var testLogger = slog.Default()

func TestTick_SyncsEveryIntegration(t *testing.T) {
	src := &mockSource{integrations: integrations(3)}
	syncer := newMockSyncer()
	s := New(syncer, src, "@every 15m", 0, 0, testLogger)

	stats, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Integrations != 3 || stats.Succeeded != 3 {
		t.Errorf("stats = %+v, want 3 succeeded", stats)
	}
	for _, req := range syncer.requests {
		if req.RunType != model.RunScheduled || req.Direction != model.DirectionBidirectional {
			t.Errorf("request = %+v, want scheduled bidirectional", req)
		}
	}
	if len(src.cutoffs) != 0 {
		t.Errorf("sweep ran with staleAfter 0")
	}
}

func TestTick_ClassifiesOutcomes(t *testing.T) {
	ints := integrations(4)
	src := &mockSource{integrations: ints}
	syncer := newMockSyncer()
	syncer.errs[ints[0].ID] = model.ErrSyncAlreadyInProgress
	syncer.errs[ints[1].ID] = errors.New("provider exploded")
	syncer.status[ints[2].ID] = model.RunError
	s := New(syncer, src, "@every 15m", 0, 0, testLogger)

	stats, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	want := TickStats{Integrations: 4, Succeeded: 1, Failed: 2, Skipped: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestTick_SweepsStaleRuns(t *testing.T) {
	src := &mockSource{swept: 2}
	s := New(newMockSyncer(), src, "@every 15m", 3*time.Minute, 0, testLogger)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	stats, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Swept != 2 {
		t.Errorf("swept = %d, want 2", stats.Swept)
	}
	if len(src.cutoffs) != 1 || !src.cutoffs[0].Equal(now.Add(-3*time.Minute)) {
		t.Errorf("cutoffs = %v, want [%v]", src.cutoffs, now.Add(-3*time.Minute))
	}
}

func TestTick_ListFailure(t *testing.T) {
	src := &mockSource{listErr: errors.New("db down")}
	syncer := newMockSyncer()
	s := New(syncer, src, "@every 15m", 0, 0, testLogger)

	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(syncer.requests) != 0 {
		t.Errorf("sync called %d times, want 0", len(syncer.requests))
	}
}

func TestTick_BoundsConcurrency(t *testing.T) {
	src := &mockSource{integrations: integrations(8)}
	syncer := newMockSyncer()
	syncer.delay = 20 * time.Millisecond
	s := New(syncer, src, "@every 15m", 0, 2, testLogger)

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if syncer.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", syncer.peak)
	}
	if len(syncer.requests) != 8 {
		t.Errorf("requests = %d, want 8", len(syncer.requests))
	}
}

func TestRun_ImmediateTickAndShutdown(t *testing.T) {
	src := &mockSource{integrations: integrations(1)}
	syncer := newMockSyncer()
	s := New(syncer, src, "@every 1h", 0, 0, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		syncer.mu.Lock()
		n := len(syncer.requests)
		syncer.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first tick never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RejectsBadSpec(t *testing.T) {
	s := New(newMockSyncer(), &mockSource{}, "every fortnight", 0, 0, testLogger)
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

// compile-time check that the orchestrator satisfies Syncer.
var _ Syncer = (*calsync.Orchestrator)(nil)
