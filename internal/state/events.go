package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

const eventColumns = `id, user_id, calendar_type_id, title, description, location,
	start_time, end_time, all_day, show_as, external_provider, external_id,
	sync_status, sync_error, last_synced_at, metadata, created_at, updated_at`

type eventRow struct {
	ID               uuid.UUID `db:"id"`
	UserID           uuid.UUID `db:"user_id"`
	CalendarTypeID   string    `db:"calendar_type_id"`
	Title            string    `db:"title"`
	Description      string    `db:"description"`
	Location         string    `db:"location"`
	StartTime        dbTime    `db:"start_time"`
	EndTime          dbTime    `db:"end_time"`
	AllDay           bool      `db:"all_day"`
	ShowAs           string    `db:"show_as"`
	ExternalProvider string    `db:"external_provider"`
	ExternalID       string    `db:"external_id"`
	SyncStatus       string    `db:"sync_status"`
	SyncError        string    `db:"sync_error"`
	LastSyncedAt     dbTime    `db:"last_synced_at"`
	Metadata         string    `db:"metadata"`
	CreatedAt        dbTime    `db:"created_at"`
	UpdatedAt        dbTime    `db:"updated_at"`
}

func (r *eventRow) toModel() (*model.CalendarEvent, error) {
	ev := &model.CalendarEvent{
		ID:               r.ID,
		UserID:           r.UserID,
		CalendarTypeID:   r.CalendarTypeID,
		Title:            r.Title,
		Description:      r.Description,
		Location:         r.Location,
		StartTime:        r.StartTime.time(),
		EndTime:          r.EndTime.time(),
		AllDay:           r.AllDay,
		ShowAs:           r.ShowAs,
		ExternalProvider: model.Provider(r.ExternalProvider),
		ExternalID:       r.ExternalID,
		SyncStatus:       model.EventSyncStatus(r.SyncStatus),
		SyncError:        r.SyncError,
		LastSyncedAt:     r.LastSyncedAt.ptr(),
		CreatedAt:        r.CreatedAt.time(),
		UpdatedAt:        r.UpdatedAt.time(),
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of event %s: %w", r.ID, err)
		}
	}
	return ev, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func toEvents(rows []eventRow) ([]*model.CalendarEvent, error) {
	out := make([]*model.CalendarEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// CreateEvent inserts an internally authored event. ID, timestamps and a
// pending sync status are filled in when unset.
func (s *Store) CreateEvent(ctx context.Context, ev *model.CalendarEvent) error {
	if ev.Title == "" {
		return fmt.Errorf("event title: %w", model.ErrInvalid)
	}
	if ev.EndTime.Before(ev.StartTime) {
		return fmt.Errorf("event ends before it starts: %w", model.ErrInvalid)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.SyncStatus == "" {
		ev.SyncStatus = model.EventPending
	}
	if ev.ShowAs == "" {
		ev.ShowAs = model.ShowBusy
	}
	now := s.now()
	ev.CreatedAt, ev.UpdatedAt = now, now
	return s.insertEvent(ctx, s.db, ev)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertEvent(ctx context.Context, db execer, ev *model.CalendarEvent) error {
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, s.q(`
		INSERT INTO calendar_events
		    (id, user_id, calendar_type_id, title, description, location,
		     start_time, end_time, all_day, show_as, external_provider, external_id,
		     sync_status, sync_error, last_synced_at, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.UserID, ev.CalendarTypeID, ev.Title, ev.Description, ev.Location,
		dbTime(ev.StartTime), dbTime(ev.EndTime), ev.AllDay, ev.ShowAs,
		string(ev.ExternalProvider), ev.ExternalID,
		string(ev.SyncStatus), ev.SyncError, fromPtr(ev.LastSyncedAt), meta,
		dbTime(ev.CreatedAt), dbTime(ev.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s already linked to %s/%s: %w",
				ev.ID, ev.ExternalProvider, ev.ExternalID, model.ErrInvalid)
		}
		return fmt.Errorf("inserting event %s: %w", ev.ID, err)
	}
	return nil
}

// GetEvent returns the event with the given id, or model.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*model.CalendarEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+eventColumns+` FROM calendar_events WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading event %s: %w", id, err)
	}
	return row.toModel()
}

// GetEventByExternalID returns the user's event linked to (provider,
// externalID). Returns (nil, nil) when no such event exists.
func (s *Store) GetEventByExternalID(ctx context.Context, userID uuid.UUID, provider model.Provider, externalID string) (*model.CalendarEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row,
		s.q(`SELECT `+eventColumns+` FROM calendar_events
		     WHERE user_id = ? AND external_provider = ? AND external_id = ?`),
		userID, string(provider), externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up event by external id %s/%s: %w", provider, externalID, err)
	}
	return row.toModel()
}

// ListPendingPush returns the user's events awaiting push to provider,
// ordered by start time. Events linked to a different provider are excluded:
// an event is only ever linked to one provider.
func (s *Store) ListPendingPush(ctx context.Context, userID uuid.UUID, provider model.Provider) ([]*model.CalendarEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+eventColumns+` FROM calendar_events
		     WHERE user_id = ? AND sync_status = ?
		       AND (external_id = '' OR external_provider = ?)
		     ORDER BY start_time, id`),
		userID, string(model.EventPending), string(provider))
	if err != nil {
		return nil, fmt.Errorf("listing pending events for %s: %w", userID, err)
	}
	return toEvents(rows)
}

// ListEvents returns the user's events overlapping the window, ordered by
// start time.
func (s *Store) ListEvents(ctx context.Context, userID uuid.UUID, window model.TimeRange) ([]*model.CalendarEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+eventColumns+` FROM calendar_events
		     WHERE user_id = ? AND end_time > ? AND start_time < ?
		     ORDER BY start_time, id`),
		userID, dbTime(window.Start), dbTime(window.End))
	if err != nil {
		return nil, fmt.Errorf("listing events for %s: %w", userID, err)
	}
	return toEvents(rows)
}

// UpsertFromPull writes an event imported from a provider. The target row is
// found by (provider, external id); failing that, by ev.ID when it names an
// existing event owned by the same user (a tagged event whose link was never
// recorded). Otherwise a new row is inserted. The row ends up synced and
// linked. created reports whether a row was inserted.
func (s *Store) UpsertFromPull(ctx context.Context, ev *model.CalendarEvent) (created bool, err error) {
	if ev.ExternalID == "" || ev.ExternalProvider == "" {
		return false, fmt.Errorf("pulled event without external link: %w", model.ErrInvalid)
	}
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id uuid.UUID
	err = tx.GetContext(ctx, &id,
		s.q(`SELECT id FROM calendar_events WHERE user_id = ? AND external_provider = ? AND external_id = ?`),
		ev.UserID, string(ev.ExternalProvider), ev.ExternalID)
	if errors.Is(err, sql.ErrNoRows) && ev.ID != uuid.Nil {
		err = tx.GetContext(ctx, &id,
			s.q(`SELECT id FROM calendar_events WHERE id = ? AND user_id = ?`), ev.ID, ev.UserID)
	}

	now := s.now()
	ev.SyncStatus = model.EventSynced
	ev.SyncError = ""
	ev.LastSyncedAt = &now
	ev.UpdatedAt = now
	if ev.ShowAs == "" {
		ev.ShowAs = model.ShowBusy
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		ev.CreatedAt = now
		if err := s.insertEvent(ctx, tx, ev); err != nil {
			return false, err
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("looking up pulled event %s: %w", ev.ExternalID, err)
	default:
		ev.ID = id
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE calendar_events
			SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?,
			    all_day = ?, show_as = ?, external_provider = ?, external_id = ?,
			    sync_status = ?, sync_error = '', last_synced_at = ?, metadata = ?, updated_at = ?
			WHERE id = ?`),
			ev.Title, ev.Description, ev.Location, dbTime(ev.StartTime), dbTime(ev.EndTime),
			ev.AllDay, ev.ShowAs, string(ev.ExternalProvider), ev.ExternalID,
			string(model.EventSynced), dbTime(now), meta, dbTime(now), id)
		if err != nil {
			return false, fmt.Errorf("updating pulled event %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing pulled event %s: %w", ev.ExternalID, err)
	}
	return created, nil
}

// MarkSynced records a successful push: the event is linked to
// (provider, externalID) and its error is cleared.
func (s *Store) MarkSynced(ctx context.Context, id uuid.UUID, provider model.Provider, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE calendar_events
		SET external_provider = ?, external_id = ?, sync_status = ?, sync_error = '',
		    last_synced_at = ?, updated_at = ?
		WHERE id = ?`),
		string(provider), externalID, string(model.EventSynced), dbTime(at), dbTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("marking event %s synced: %w", id, err)
	}
	return expectOne(res, "event", id)
}

// MarkError records a failed push. The event stays unlinked (or keeps its
// previous link) and is not retried until it is edited back to pending.
func (s *Store) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE calendar_events SET sync_status = ?, sync_error = ?, updated_at = ? WHERE id = ?`),
		string(model.EventError), message, dbTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("marking event %s failed: %w", id, err)
	}
	return expectOne(res, "event", id)
}

// DeleteEvent removes the event row.
func (s *Store) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM calendar_events WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting event %s: %w", id, err)
	}
	return expectOne(res, "event", id)
}
