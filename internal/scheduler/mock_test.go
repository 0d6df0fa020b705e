package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	calsync "github.com/jaayshwaah/careiq-sub001/internal/sync"
)

type mockSyncer struct {
	mu       sync.Mutex
	requests []calsync.Request
	errs     map[uuid.UUID]error
	status   map[uuid.UUID]model.RunStatus

	// inflight and peak track concurrent Sync calls.
	inflight, peak int
	delay          time.Duration
}

func newMockSyncer() *mockSyncer {
	return &mockSyncer{errs: map[uuid.UUID]error{}, status: map[uuid.UUID]model.RunStatus{}}
}

func (m *mockSyncer) Sync(_ context.Context, req calsync.Request) (model.SyncRunResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.inflight++
	if m.inflight > m.peak {
		m.peak = m.inflight
	}
	err := m.errs[req.IntegrationID]
	status, ok := m.status[req.IntegrationID]
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()

	if !ok {
		status = model.RunSuccess
	}
	if err != nil {
		return model.SyncRunResult{}, err
	}
	return model.SyncRunResult{Status: status}, nil
}

type mockSource struct {
	integrations []*model.CalendarIntegration
	listErr      error

	swept   int64
	cutoffs []time.Time
}

func (m *mockSource) ListSyncable(context.Context) ([]*model.CalendarIntegration, error) {
	return m.integrations, m.listErr
}

func (m *mockSource) FailStaleRuns(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.swept, nil
}

func integrations(n int) []*model.CalendarIntegration {
	out := make([]*model.CalendarIntegration, n)
	for i := range out {
		out[i] = &model.CalendarIntegration{ID: uuid.New(), UserID: uuid.New(), Provider: model.ProviderGoogle, IsActive: true, SyncEnabled: true}
	}
	return out
}
