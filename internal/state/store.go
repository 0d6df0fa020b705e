// Package state persists calendar integrations, internal calendar events and
// sync logs. It plays three collaborator roles for the sync engine: the
// credential store, the event store and the sync log recorder.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. Both SQLite (single node, tests)
// and PostgreSQL (production) are supported; queries are written with "?"
// placeholders and rebound per driver by sqlx.
package state

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS calendar_integrations (
    id               TEXT    PRIMARY KEY,
    user_id          TEXT    NOT NULL,
    provider         TEXT    NOT NULL,
    account_email    TEXT    NOT NULL DEFAULT '',
    access_token     TEXT    NOT NULL DEFAULT '',
    refresh_token    TEXT    NOT NULL DEFAULT '',
    token_expires_at TEXT    NOT NULL DEFAULT '',
    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
    sync_enabled     BOOLEAN NOT NULL DEFAULT TRUE,
    last_sync_at     TEXT    NOT NULL DEFAULT '',
    last_sync_status TEXT    NOT NULL DEFAULT 'pending',
    error_message    TEXT    NOT NULL DEFAULT '',
    created_at       TEXT    NOT NULL,
    updated_at       TEXT    NOT NULL,
    deleted_at       TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_integrations_user_provider ON calendar_integrations (user_id, provider);

CREATE TABLE IF NOT EXISTS calendar_events (
    id                TEXT    PRIMARY KEY,
    user_id           TEXT    NOT NULL,
    calendar_type_id  TEXT    NOT NULL DEFAULT '',
    title             TEXT    NOT NULL,
    description       TEXT    NOT NULL DEFAULT '',
    location          TEXT    NOT NULL DEFAULT '',
    start_time        TEXT    NOT NULL,
    end_time          TEXT    NOT NULL,
    all_day           BOOLEAN NOT NULL DEFAULT FALSE,
    show_as           TEXT    NOT NULL DEFAULT 'busy',
    external_provider TEXT    NOT NULL DEFAULT '',
    external_id       TEXT    NOT NULL DEFAULT '',
    sync_status       TEXT    NOT NULL DEFAULT 'pending',
    sync_error        TEXT    NOT NULL DEFAULT '',
    last_synced_at    TEXT    NOT NULL DEFAULT '',
    metadata          TEXT    NOT NULL DEFAULT '{}',
    created_at        TEXT    NOT NULL,
    updated_at        TEXT    NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_external ON calendar_events (user_id, external_provider, external_id) WHERE external_id <> '';
CREATE INDEX        IF NOT EXISTS idx_events_pending  ON calendar_events (user_id, sync_status);

CREATE TABLE IF NOT EXISTS sync_logs (
    id             TEXT    PRIMARY KEY,
    integration_id TEXT    NOT NULL,
    run_type       TEXT    NOT NULL,
    direction      TEXT    NOT NULL,
    status         TEXT    NOT NULL,
    processed      INTEGER NOT NULL DEFAULT 0,
    created        INTEGER NOT NULL DEFAULT 0,
    updated        INTEGER NOT NULL DEFAULT 0,
    deleted        INTEGER NOT NULL DEFAULT 0,
    failed         INTEGER NOT NULL DEFAULT 0,
    duration_ms    BIGINT  NOT NULL DEFAULT 0,
    started_at     TEXT    NOT NULL,
    finished_at    TEXT    NOT NULL DEFAULT '',
    error_message  TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_logs_running ON sync_logs (integration_id) WHERE status = 'in_progress';
CREATE INDEX        IF NOT EXISTS idx_sync_logs_recent  ON sync_logs (integration_id, started_at);
`

// Store is the SQL-backed state repository.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the database, applies the schema and returns a Store.
// driver is "sqlite3" or "postgres".
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driverName {
	case "sqlite3":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		db, err = sqlx.ConnectContext(ctx, "sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("opening database %q: %w", dsn, err)
		}
		// Single writer to avoid SQLITE_BUSY under WAL.
		db.SetMaxOpenConns(1)
	case "postgres":
		db, err = sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying database connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS). The
// postgres driver does not accept multiple statements per Exec with
// arguments, so statements are applied one at a time.
func migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rebinds a "?"-placeholder query for the connected driver.
func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either backend.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// --- timestamps --------------------------------------------------------------

// timeLayout is fixed-width so that text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dbTime stores a time as fixed-width UTC text. The zero time is stored as
// the empty string.
type dbTime time.Time

func (t dbTime) Value() (driver.Value, error) {
	return formatTime(time.Time(t)), nil
}

func (t *dbTime) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		*t = dbTime(v.UTC())
		return nil
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}
	parsed, err := parseTime(s)
	if err != nil {
		return err
	}
	*t = dbTime(parsed)
	return nil
}

func (t dbTime) time() time.Time { return time.Time(t) }

// ptr returns nil for the zero time.
func (t dbTime) ptr() *time.Time {
	if time.Time(t).IsZero() {
		return nil
	}
	v := time.Time(t)
	return &v
}

func fromPtr(t *time.Time) dbTime {
	if t == nil {
		return dbTime{}
	}
	return dbTime(*t)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
