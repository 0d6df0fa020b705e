package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
	"github.com/jaayshwaah/careiq-sub001/internal/provider"
)

// --- Mock Store --------------------------------------------------------------

type memStore struct {
	mu           sync.Mutex
	integrations map[uuid.UUID]*model.CalendarIntegration
	events       map[uuid.UUID]*model.CalendarEvent
	logs         []*model.SyncLog

	integrationUpdates int
	credentialWrites   int
	failUpsert         map[string]error // external id → error
}

func newMemStore() *memStore {
	return &memStore{
		integrations: make(map[uuid.UUID]*model.CalendarIntegration),
		events:       make(map[uuid.UUID]*model.CalendarEvent),
		failUpsert:   make(map[string]error),
	}
}

func (m *memStore) addIntegration(in *model.CalendarIntegration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.integrations[in.ID] = &cp
}

func (m *memStore) addEvent(ev *model.CalendarEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.ID] = &cp
}

func (m *memStore) event(id uuid.UUID) *model.CalendarEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

func (m *memStore) integration(id uuid.UUID) *model.CalendarIntegration {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.integrations[id]
	return &cp
}

func (m *memStore) logCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

func (m *memStore) GetIntegration(_ context.Context, id uuid.UUID) (*model.CalendarIntegration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.integrations[id]
	if !ok {
		return nil, fmt.Errorf("integration %s: %w", id, model.ErrNotFound)
	}
	cp := *in
	return &cp, nil
}

func (m *memStore) UpdateIntegration(_ context.Context, id uuid.UUID, upd model.IntegrationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.integrations[id]
	if !ok {
		return model.ErrNotFound
	}
	m.integrationUpdates++
	if upd.AccessToken != nil {
		m.credentialWrites++
		in.AccessToken = *upd.AccessToken
	}
	if upd.RefreshToken != nil {
		in.RefreshToken = *upd.RefreshToken
	}
	if upd.TokenExpiresAt != nil {
		in.TokenExpiresAt = *upd.TokenExpiresAt
	}
	if upd.LastSyncAt != nil {
		t := *upd.LastSyncAt
		in.LastSyncAt = &t
	}
	if upd.LastSyncStatus != nil {
		in.LastSyncStatus = *upd.LastSyncStatus
	}
	if upd.ErrorMessage != nil {
		in.ErrorMessage = *upd.ErrorMessage
	}
	return nil
}

func (m *memStore) ListPendingPush(_ context.Context, userID uuid.UUID, p model.Provider) ([]*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CalendarEvent
	for _, ev := range m.events {
		if ev.UserID != userID || ev.SyncStatus != model.EventPending {
			continue
		}
		if ev.ExternalID != "" && ev.ExternalProvider != p {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) GetEvent(_ context.Context, id uuid.UUID) (*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
	}
	cp := *ev
	return &cp, nil
}

func (m *memStore) GetEventByExternalID(_ context.Context, userID uuid.UUID, p model.Provider, externalID string) (*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.UserID == userID && ev.ExternalProvider == p && ev.ExternalID == externalID {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpsertFromPull(_ context.Context, ev *model.CalendarEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpsert[ev.ExternalID]; err != nil {
		return false, err
	}
	ev.SyncStatus = model.EventSynced
	for id, existing := range m.events {
		if existing.UserID == ev.UserID && existing.ExternalProvider == ev.ExternalProvider && existing.ExternalID == ev.ExternalID {
			ev.ID = id
			cp := *ev
			m.events[id] = &cp
			return false, nil
		}
	}
	if ev.ID != uuid.Nil {
		if _, ok := m.events[ev.ID]; ok {
			cp := *ev
			m.events[ev.ID] = &cp
			return false, nil
		}
	} else {
		ev.ID = uuid.New()
	}
	cp := *ev
	m.events[ev.ID] = &cp
	return true, nil
}

func (m *memStore) MarkSynced(_ context.Context, id uuid.UUID, p model.Provider, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return model.ErrNotFound
	}
	ev.ExternalProvider = p
	ev.ExternalID = externalID
	ev.SyncStatus = model.EventSynced
	ev.SyncError = ""
	ev.LastSyncedAt = &at
	return nil
}

func (m *memStore) MarkError(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return model.ErrNotFound
	}
	ev.SyncStatus = model.EventError
	ev.SyncError = message
	return nil
}

func (m *memStore) DeleteEvent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *memStore) BeginRun(_ context.Context, l *model.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.logs {
		if existing.IntegrationID == l.IntegrationID && existing.Status == model.RunInProgress {
			return model.ErrSyncAlreadyInProgress
		}
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.Status = model.RunInProgress
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *memStore) FinishRun(_ context.Context, l *model.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.logs {
		if existing.ID == l.ID && existing.Status == model.RunInProgress {
			cp := *l
			m.logs[i] = &cp
			return nil
		}
	}
	return model.ErrNotFound
}

func (m *memStore) RecentRuns(_ context.Context, integrationID uuid.UUID, limit int) ([]model.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].IntegrationID == integrationID {
			out = append(out, *m.logs[i])
		}
	}
	return out, nil
}

// --- Mock Provider Client ----------------------------------------------------

type mockClient struct {
	mu     sync.Mutex
	remote map[string]model.RemoteEvent
	nextID int

	creates, updates, deletes, lists, refreshes int

	failCreate  map[string]error // title → error
	failDelete  error
	listErr     error
	unreadable  []string // remote ids reported as skipped by ListEvents
	refreshCred model.Credential
	refreshErr  error

	// onCreate runs inside CreateEvent; used to block or cancel a run.
	onCreate func()
}

func newMockClient(events ...model.RemoteEvent) *mockClient {
	m := &mockClient{remote: make(map[string]model.RemoteEvent), failCreate: make(map[string]error)}
	for _, ev := range events {
		m.remote[ev.ID] = ev
	}
	return m
}

func (m *mockClient) ListEvents(_ context.Context, _ string, window model.TimeRange) ([]model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.RemoteEvent
	for _, ev := range m.remote {
		if ev.End.After(window.Start) && ev.Start.Before(window.End) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	skipped := &provider.ListError{Provider: model.ProviderGoogle}
	for _, id := range m.unreadable {
		skipped.Skip(id, fmt.Errorf("event %s start: bad dateTime", id))
	}
	return out, skipped.Err()
}

func (m *mockClient) CreateEvent(ctx context.Context, _ string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	if m.onCreate != nil {
		m.onCreate()
	}
	if err := ctx.Err(); err != nil {
		return model.RemoteEvent{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if err := m.failCreate[ev.Title]; err != nil {
		return model.RemoteEvent{}, err
	}
	m.nextID++
	ev.ID = fmt.Sprintf("remote-%d", m.nextID)
	m.remote[ev.ID] = ev
	return ev, nil
}

func (m *mockClient) UpdateEvent(_ context.Context, _ string, remoteID string, ev model.RemoteEvent) (model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if _, ok := m.remote[remoteID]; !ok {
		return model.RemoteEvent{}, provider.ErrNotFound
	}
	ev.ID = remoteID
	m.remote[remoteID] = ev
	return ev, nil
}

func (m *mockClient) DeleteEvent(_ context.Context, _ string, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failDelete != nil {
		return m.failDelete
	}
	if _, ok := m.remote[remoteID]; !ok {
		return provider.ErrNotFound
	}
	delete(m.remote, remoteID)
	return nil
}

func (m *mockClient) RefreshAccessToken(_ context.Context, _ string) (model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return m.refreshCred, m.refreshErr
}

func (m *mockClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates + m.updates + m.deletes + m.lists + m.refreshes
}

// factoryFor returns a Factory that always hands out client and records the
// credentials it was asked to build with.
func factoryFor(client *mockClient, built *[]model.Credential) provider.Factory {
	return func(_ *model.CalendarIntegration, cred model.Credential) (provider.Client, error) {
		if built != nil {
			*built = append(*built, cred)
		}
		return client, nil
	}
}
