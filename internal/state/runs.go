package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jaayshwaah/careiq-sub001/internal/model"
)

const runColumns = `id, integration_id, run_type, direction, status, processed, created,
	updated, deleted, failed, duration_ms, started_at, finished_at, error_message`

type runRow struct {
	ID            uuid.UUID `db:"id"`
	IntegrationID uuid.UUID `db:"integration_id"`
	RunType       string    `db:"run_type"`
	Direction     string    `db:"direction"`
	Status        string    `db:"status"`
	Processed     int       `db:"processed"`
	Created       int       `db:"created"`
	Updated       int       `db:"updated"`
	Deleted       int       `db:"deleted"`
	Failed        int       `db:"failed"`
	DurationMs    int64     `db:"duration_ms"`
	StartedAt     dbTime    `db:"started_at"`
	FinishedAt    dbTime    `db:"finished_at"`
	ErrorMessage  string    `db:"error_message"`
}

func (r *runRow) toModel() model.SyncLog {
	return model.SyncLog{
		ID:            r.ID,
		IntegrationID: r.IntegrationID,
		RunType:       model.RunType(r.RunType),
		Direction:     model.Direction(r.Direction),
		Status:        model.RunStatus(r.Status),
		Counts: model.Counts{
			Processed: r.Processed,
			Created:   r.Created,
			Updated:   r.Updated,
			Deleted:   r.Deleted,
			Failed:    r.Failed,
		},
		DurationMs:   r.DurationMs,
		StartedAt:    r.StartedAt.time(),
		FinishedAt:   r.FinishedAt.ptr(),
		ErrorMessage: r.ErrorMessage,
	}
}

// BeginRun inserts an in_progress log for the integration. It returns
// model.ErrSyncAlreadyInProgress when another run holds the integration. The
// check and the insert happen in one transaction, and the partial unique
// index on in_progress rows rejects any writer that slips past the check.
func (s *Store) BeginRun(ctx context.Context, log *model.SyncLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = s.now()
	}
	log.Status = model.RunInProgress

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning run transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var running int
	err = tx.GetContext(ctx, &running,
		s.q(`SELECT COUNT(*) FROM sync_logs WHERE integration_id = ? AND status = ?`),
		log.IntegrationID, string(model.RunInProgress))
	if err != nil {
		return fmt.Errorf("checking running syncs for %s: %w", log.IntegrationID, err)
	}
	if running > 0 {
		return fmt.Errorf("integration %s: %w", log.IntegrationID, model.ErrSyncAlreadyInProgress)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO sync_logs (id, integration_id, run_type, direction, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		log.ID, log.IntegrationID, string(log.RunType), string(log.Direction),
		string(model.RunInProgress), dbTime(log.StartedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("integration %s: %w", log.IntegrationID, model.ErrSyncAlreadyInProgress)
		}
		return fmt.Errorf("inserting sync log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("integration %s: %w", log.IntegrationID, model.ErrSyncAlreadyInProgress)
		}
		return fmt.Errorf("committing sync log: %w", err)
	}
	return nil
}

// FinishRun writes the terminal state of a run. Only in_progress rows are
// updated, so a log is finalized at most once; finalizing twice returns
// model.ErrNotFound.
func (s *Store) FinishRun(ctx context.Context, log *model.SyncLog) error {
	if log.FinishedAt == nil {
		now := s.now()
		log.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sync_logs
		SET status = ?, processed = ?, created = ?, updated = ?, deleted = ?, failed = ?,
		    duration_ms = ?, finished_at = ?, error_message = ?
		WHERE id = ? AND status = ?`),
		string(log.Status), log.Processed, log.Created, log.Updated, log.Deleted, log.Failed,
		log.DurationMs, fromPtr(log.FinishedAt), log.ErrorMessage,
		log.ID, string(model.RunInProgress))
	if err != nil {
		return fmt.Errorf("finalizing sync log %s: %w", log.ID, err)
	}
	return expectOne(res, "running sync log", log.ID)
}

// RecentRuns returns up to limit logs of the integration, newest first.
func (s *Store) RecentRuns(ctx context.Context, integrationID uuid.UUID, limit int) ([]model.SyncLog, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT `+runColumns+` FROM sync_logs
		     WHERE integration_id = ? ORDER BY started_at DESC, id LIMIT ?`),
		integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync logs for %s: %w", integrationID, err)
	}
	out := make([]model.SyncLog, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// FailStaleRuns finalizes in_progress logs started before cutoff as errors.
// A process crash between BeginRun and FinishRun would otherwise block the
// integration forever. It returns the number of logs swept.
func (s *Store) FailStaleRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE sync_logs
		SET status = ?, finished_at = ?, error_message = ?
		WHERE status = ? AND started_at < ?`),
		string(model.RunError), dbTime(now), "abandoned: exceeded stale threshold",
		string(model.RunInProgress), dbTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweeping stale sync logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept sync logs: %w", err)
	}
	return n, nil
}
