package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

const integrationColumns = `id, user_id, provider, account_email, access_token, refresh_token,
	token_expires_at, is_active, sync_enabled, last_sync_at, last_sync_status,
	error_message, created_at, updated_at, deleted_at`

type integrationRow struct {
	ID             uuid.UUID `db:"id"`
	UserID         uuid.UUID `db:"user_id"`
	Provider       string    `db:"provider"`
	AccountEmail   string    `db:"account_email"`
	AccessToken    string    `db:"access_token"`
	RefreshToken   string    `db:"refresh_token"`
	TokenExpiresAt dbTime    `db:"token_expires_at"`
	IsActive       bool      `db:"is_active"`
	SyncEnabled    bool      `db:"sync_enabled"`
	LastSyncAt     dbTime    `db:"last_sync_at"`
	LastSyncStatus string    `db:"last_sync_status"`
	ErrorMessage   string    `db:"error_message"`
	CreatedAt      dbTime    `db:"created_at"`
	UpdatedAt      dbTime    `db:"updated_at"`
	DeletedAt      dbTime    `db:"deleted_at"`
}

func (r *integrationRow) toModel() *model.CalendarIntegration {
	return &model.CalendarIntegration{
		ID:             r.ID,
		UserID:         r.UserID,
		Provider:       model.Provider(r.Provider),
		AccountEmail:   r.AccountEmail,
		AccessToken:    r.AccessToken,
		RefreshToken:   r.RefreshToken,
		TokenExpiresAt: r.TokenExpiresAt.time(),
		IsActive:       r.IsActive,
		SyncEnabled:    r.SyncEnabled,
		LastSyncAt:     r.LastSyncAt.ptr(),
		LastSyncStatus: model.IntegrationStatus(r.LastSyncStatus),
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt.time(),
		UpdatedAt:      r.UpdatedAt.time(),
		DeletedAt:      r.DeletedAt.ptr(),
	}
}

// GetIntegration returns the integration with the given id, or
// model.ErrNotFound.
func (s *Store) GetIntegration(ctx context.Context, id uuid.UUID) (*model.CalendarIntegration, error) {
	var row integrationRow
	err := s.db.GetContext(ctx, &row,
		s.q(`SELECT `+integrationColumns+` FROM calendar_integrations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading integration %s: %w", id, err)
	}
	return row.toModel(), nil
}

// GetIntegrationByUserProvider returns the user's integration for provider,
// or model.ErrNotFound. Soft-deleted rows are returned too; callers check
// IsActive.
func (s *Store) GetIntegrationByUserProvider(ctx context.Context, userID uuid.UUID, provider model.Provider) (*model.CalendarIntegration, error) {
	var row integrationRow
	err := s.db.GetContext(ctx, &row,
		s.q(`SELECT `+integrationColumns+` FROM calendar_integrations WHERE user_id = ? AND provider = ?`),
		userID, string(provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration for %s/%s: %w", userID, provider, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading integration for %s/%s: %w", userID, provider, err)
	}
	return row.toModel(), nil
}

// ListIntegrations returns the user's integrations that have not been
// disconnected, oldest first.
func (s *Store) ListIntegrations(ctx context.Context, userID uuid.UUID) ([]*model.CalendarIntegration, error) {
	var rows []integrationRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+integrationColumns+` FROM calendar_integrations
		     WHERE user_id = ? AND deleted_at = '' ORDER BY created_at`), userID)
	if err != nil {
		return nil, fmt.Errorf("listing integrations for %s: %w", userID, err)
	}
	return toIntegrations(rows), nil
}

// ListSyncable returns every active, sync-enabled integration. Used by the
// scheduler.
func (s *Store) ListSyncable(ctx context.Context) ([]*model.CalendarIntegration, error) {
	var rows []integrationRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+integrationColumns+` FROM calendar_integrations
		     WHERE is_active = ? AND sync_enabled = ? AND deleted_at = '' ORDER BY created_at`), true, true)
	if err != nil {
		return nil, fmt.Errorf("listing syncable integrations: %w", err)
	}
	return toIntegrations(rows), nil
}

func toIntegrations(rows []integrationRow) []*model.CalendarIntegration {
	out := make([]*model.CalendarIntegration, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out
}

// ConnectIntegration records a completed provider authorization. If the user
// already has a row for the provider (possibly disconnected), it is
// reactivated with the new credential so that the (user, provider) pair keeps
// a single row and its sync history. in.ID, CreatedAt and UpdatedAt are set.
func (s *Store) ConnectIntegration(ctx context.Context, in *model.CalendarIntegration) error {
	now := s.now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning connect transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing integrationRow
	err = tx.GetContext(ctx, &existing,
		s.q(`SELECT `+integrationColumns+` FROM calendar_integrations WHERE user_id = ? AND provider = ?`),
		in.UserID, string(in.Provider))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		in.CreatedAt = now
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO calendar_integrations
			    (id, user_id, provider, account_email, access_token, refresh_token,
			     token_expires_at, is_active, sync_enabled, last_sync_status,
			     error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`),
			in.ID, in.UserID, string(in.Provider), in.AccountEmail, in.AccessToken, in.RefreshToken,
			dbTime(in.TokenExpiresAt), true, true, string(model.IntegrationPending),
			dbTime(now), dbTime(now))
		if err != nil {
			return fmt.Errorf("inserting integration: %w", err)
		}
	case err != nil:
		return fmt.Errorf("looking up integration: %w", err)
	default:
		in.ID = existing.ID
		in.CreatedAt = existing.CreatedAt.time()
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE calendar_integrations
			SET account_email = ?, access_token = ?, refresh_token = ?, token_expires_at = ?,
			    is_active = ?, sync_enabled = ?, last_sync_status = ?, error_message = '',
			    deleted_at = '', updated_at = ?
			WHERE id = ?`),
			in.AccountEmail, in.AccessToken, in.RefreshToken, dbTime(in.TokenExpiresAt),
			true, true, string(model.IntegrationPending), dbTime(now), in.ID)
		if err != nil {
			return fmt.Errorf("reactivating integration %s: %w", in.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing connect: %w", err)
	}
	in.IsActive = true
	in.SyncEnabled = true
	in.LastSyncStatus = model.IntegrationPending
	in.ErrorMessage = ""
	in.DeletedAt = nil
	in.UpdatedAt = now
	return nil
}

// UpdateIntegration applies a partial update. Nil fields are left untouched.
func (s *Store) UpdateIntegration(ctx context.Context, id uuid.UUID, upd model.IntegrationUpdate) error {
	if upd.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.AccessToken != nil {
		add("access_token", *upd.AccessToken)
	}
	if upd.RefreshToken != nil {
		add("refresh_token", *upd.RefreshToken)
	}
	if upd.TokenExpiresAt != nil {
		add("token_expires_at", dbTime(*upd.TokenExpiresAt))
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.SyncEnabled != nil {
		add("sync_enabled", *upd.SyncEnabled)
	}
	if upd.LastSyncAt != nil {
		add("last_sync_at", dbTime(*upd.LastSyncAt))
	}
	if upd.LastSyncStatus != nil {
		add("last_sync_status", string(*upd.LastSyncStatus))
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	add("updated_at", dbTime(s.now()))
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE calendar_integrations SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("updating integration %s: %w", id, err)
	}
	return expectOne(res, "integration", id)
}

// DisconnectIntegration soft-deletes an integration: it is deactivated, its
// credentials are wiped and deleted_at is stamped. The row is kept so sync
// logs and event links remain auditable.
func (s *Store) DisconnectIntegration(ctx context.Context, id uuid.UUID) error {
	now := dbTime(s.now())
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE calendar_integrations
		SET is_active = ?, sync_enabled = ?, access_token = '', refresh_token = '',
		    token_expires_at = '', deleted_at = ?, updated_at = ?
		WHERE id = ?`), false, false, now, now, id)
	if err != nil {
		return fmt.Errorf("disconnecting integration %s: %w", id, err)
	}
	return expectOne(res, "integration", id)
}

type sqlResult interface {
	RowsAffected() (int64, error)
}

func expectOne(res sqlResult, what string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s %s update: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, model.ErrNotFound)
	}
	return nil
}
