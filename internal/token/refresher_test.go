package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

type mockWriter struct {
	updates []model.IntegrationUpdate
	err     error
}

func (m *mockWriter) UpdateIntegration(_ context.Context, _ uuid.UUID, upd model.IntegrationUpdate) error {
	m.updates = append(m.updates, upd)
	return m.err
}

type mockExchanger struct {
	calls int
	cred  model.Credential
	err   error
}

func (m *mockExchanger) RefreshAccessToken(_ context.Context, _ string) (model.Credential, error) {
	m.calls++
	return m.cred, m.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRefresher(w *mockWriter) *Refresher {
	r := NewRefresher(w, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return fixedNow }
	return r
}

func integration(expiry time.Time, refresh string) *model.CalendarIntegration {
	return &model.CalendarIntegration{
		ID:             uuid.New(),
		Provider:       model.ProviderGoogle,
		AccessToken:    "old-access",
		RefreshToken:   refresh,
		TokenExpiresAt: expiry,
	}
}

func TestEnsure_ValidCredentialNoCall(t *testing.T) {
	w := &mockWriter{}
	ex := &mockExchanger{}
	integ := integration(fixedNow.Add(time.Hour), "refresh")

	cred, refreshed, err := newTestRefresher(w).Ensure(context.Background(), integ, ex)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if refreshed || ex.calls != 0 || len(w.updates) != 0 {
		t.Errorf("refreshed=%v calls=%d updates=%d, want none", refreshed, ex.calls, len(w.updates))
	}
	if cred.AccessToken != "old-access" {
		t.Errorf("AccessToken = %q", cred.AccessToken)
	}
}

func TestEnsure_ExpiredRefreshesOnce(t *testing.T) {
	w := &mockWriter{}
	newExpiry := fixedNow.Add(time.Hour)
	ex := &mockExchanger{cred: model.Credential{AccessToken: "new-access", Expiry: newExpiry}}
	integ := integration(fixedNow.Add(-time.Second), "refresh")

	cred, refreshed, err := newTestRefresher(w).Ensure(context.Background(), integ, ex)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !refreshed || ex.calls != 1 {
		t.Errorf("refreshed=%v calls=%d, want one refresh", refreshed, ex.calls)
	}
	if len(w.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(w.updates))
	}
	upd := w.updates[0]
	if *upd.AccessToken != "new-access" || !upd.TokenExpiresAt.Equal(newExpiry) {
		t.Errorf("persisted update = %+v", upd)
	}
	if cred.RefreshToken != "refresh" {
		t.Errorf("RefreshToken = %q, want stored one kept", cred.RefreshToken)
	}
	if integ.AccessToken != "new-access" {
		t.Error("integration record not updated in memory")
	}
}

func TestEnsure_ExpiryEqualNowRefreshes(t *testing.T) {
	w := &mockWriter{}
	ex := &mockExchanger{cred: model.Credential{AccessToken: "n", Expiry: fixedNow.Add(time.Hour)}}
	if _, _, err := newTestRefresher(w).Ensure(context.Background(), integration(fixedNow, "r"), ex); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if ex.calls != 1 {
		t.Errorf("calls = %d, want 1", ex.calls)
	}
}

func TestEnsure_NoRefreshToken(t *testing.T) {
	w := &mockWriter{}
	ex := &mockExchanger{}
	_, _, err := newTestRefresher(w).Ensure(context.Background(), integration(fixedNow.Add(-time.Minute), ""), ex)
	if !errors.Is(err, ErrAuthExpiredNoRefresh) {
		t.Fatalf("err = %v, want ErrAuthExpiredNoRefresh", err)
	}
	if ex.calls != 0 || len(w.updates) != 0 {
		t.Error("no exchange or write expected")
	}
}

func TestEnsure_ZeroExpiryNeverRefreshes(t *testing.T) {
	ex := &mockExchanger{}
	_, refreshed, err := newTestRefresher(&mockWriter{}).Ensure(context.Background(), integration(time.Time{}, ""), ex)
	if err != nil || refreshed || ex.calls != 0 {
		t.Errorf("err=%v refreshed=%v calls=%d", err, refreshed, ex.calls)
	}
}

func TestEnsure_ExchangeFails(t *testing.T) {
	w := &mockWriter{}
	boom := errors.New("boom")
	ex := &mockExchanger{err: boom}
	_, _, err := newTestRefresher(w).Ensure(context.Background(), integration(fixedNow.Add(-time.Hour), "r"), ex)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if len(w.updates) != 0 {
		t.Error("failed refresh must not be persisted")
	}
}

func TestEnsure_PersistFails(t *testing.T) {
	w := &mockWriter{err: errors.New("db down")}
	ex := &mockExchanger{cred: model.Credential{AccessToken: "n", Expiry: fixedNow.Add(time.Hour)}}
	if _, _, err := newTestRefresher(w).Ensure(context.Background(), integration(fixedNow.Add(-time.Hour), "r"), ex); err == nil {
		t.Fatal("expected error when persisting fails")
	}
}
