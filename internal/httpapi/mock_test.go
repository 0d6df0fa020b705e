package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	calsync "github.com/jaayshwaah/careiq-sub001/internal/sync"
)

// --- Mock Syncer -------------------------------------------------------------

type mockSyncer struct {
	mu       sync.Mutex
	requests []calsync.Request
	deletes  [][2]uuid.UUID
	ctxErrs  []error // ctx.Err() seen by each Sync or DeleteEvent call

	result model.SyncRunResult
	err    error
}

func (m *mockSyncer) Sync(ctx context.Context, req calsync.Request) (model.SyncRunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return m.result, m.err
}

func (m *mockSyncer) DeleteEvent(ctx context.Context, integrationID, eventID uuid.UUID) (model.SyncRunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.deletes = append(m.deletes, [2]uuid.UUID{integrationID, eventID})
	return m.result, m.err
}

func (m *mockSyncer) Status(_ context.Context, id uuid.UUID) (model.SyncStatus, error) {
	if m.err != nil {
		return model.SyncStatus{}, m.err
	}
	return model.SyncStatus{IntegrationID: id, LastSyncStatus: model.IntegrationSuccess, RecentRuns: []model.SyncLog{}}, nil
}

// --- Mock IntegrationStore ---------------------------------------------------

type mockStore struct {
	mu           sync.Mutex
	integrations map[uuid.UUID]*model.CalendarIntegration
	disconnected []uuid.UUID
}

func newMockStore() *mockStore {
	return &mockStore{integrations: make(map[uuid.UUID]*model.CalendarIntegration)}
}

func (m *mockStore) add(in *model.CalendarIntegration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[in.ID] = in
}

func (m *mockStore) GetIntegration(_ context.Context, id uuid.UUID) (*model.CalendarIntegration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.integrations[id]
	if !ok {
		return nil, fmt.Errorf("integration %s: %w", id, model.ErrNotFound)
	}
	cp := *in
	return &cp, nil
}

func (m *mockStore) ListIntegrations(_ context.Context, userID uuid.UUID) ([]*model.CalendarIntegration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CalendarIntegration
	for _, in := range m.integrations {
		if in.UserID == userID && in.DeletedAt == nil {
			cp := *in
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ConnectIntegration(_ context.Context, in *model.CalendarIntegration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.integrations {
		if existing.UserID == in.UserID && existing.Provider == in.Provider {
			in.ID = existing.ID
		}
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	in.IsActive, in.SyncEnabled, in.DeletedAt = true, true, nil
	in.LastSyncStatus = model.IntegrationPending
	cp := *in
	m.integrations[in.ID] = &cp
	return nil
}

func (m *mockStore) UpdateIntegration(_ context.Context, id uuid.UUID, upd model.IntegrationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.integrations[id]
	if !ok {
		return model.ErrNotFound
	}
	if upd.IsActive != nil {
		in.IsActive = *upd.IsActive
	}
	if upd.SyncEnabled != nil {
		in.SyncEnabled = *upd.SyncEnabled
	}
	return nil
}

func (m *mockStore) DisconnectIntegration(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.integrations[id]
	if !ok {
		return model.ErrNotFound
	}
	now := time.Now()
	in.IsActive, in.SyncEnabled, in.DeletedAt = false, false, &now
	in.AccessToken, in.RefreshToken = "", ""
	m.disconnected = append(m.disconnected, id)
	return nil
}
