package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" database/sql driver

	"github.com/iris-mcp/iris/internal/common/ierrors"
	"github.com/iris-mcp/iris/internal/db/dialect"
)

// Repository is the sqlx-backed Store implementation. One Repository can be
// driven by either a sqlite3 or a pgx connection; query shape differs only
// through dialect helpers.
type Repository struct {
	db      *sqlx.DB
	dataDir string
}

// Open connects to driver (one of dialect.SQLite3 or dialect.PGX) using dsn
// and initializes the session schema. dataDir is where on-disk per-session
// resume artifacts live, used by DeleteSession(removeFiles=true).
func Open(driver, dsn, dataDir string) (*Repository, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, ierrors.Configuration("failed to open %s database: %v", driver, err)
	}
	if driver == dialect.SQLite3 {
		// Every new sqlite connection to ":memory:" is a separate, empty
		// database; one shared connection keeps the schema visible to all.
		db.SetMaxOpenConns(1)
	}
	repo := &Repository{db: db, dataDir: dataDir}
	if err := repo.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return repo, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) initSchema() error {
	idType := "TEXT PRIMARY KEY"
	tsType := "TIMESTAMP"
	if dialect.IsPostgres(r.db.DriverName()) {
		tsType = "TIMESTAMPTZ"
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS sessions (
	id                  %s,
	from_team           TEXT NOT NULL,
	to_team             TEXT NOT NULL,
	created_at          %s NOT NULL,
	last_used_at        %s NOT NULL,
	message_count       BIGINT NOT NULL DEFAULT 0,
	process_state       TEXT NOT NULL DEFAULT 'stopped',
	status              TEXT NOT NULL DEFAULT 'active',
	current_cache_entry TEXT,
	launch_cmd          TEXT,
	config_snapshot     TEXT,
	UNIQUE(from_team, to_team)
);
CREATE INDEX IF NOT EXISTS idx_sessions_from_to ON sessions(from_team, to_team);
`, idType, tsType, tsType)
	_, err := r.db.Exec(schema)
	return err
}

// GetOrCreateSession implements spec §4.1's race-safe get-or-create: the
// INSERT is allowed to lose the unique(from_team,to_team) race (dialect's
// do-nothing-on-conflict), and the loser simply re-reads the winning row.
func (r *Repository) GetOrCreateSession(ctx context.Context, from, to string) (*Session, error) {
	if existing, err := r.GetSession(ctx, from, to); err == nil {
		return existing, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	err := dialect.InsertIgnoreConflict(ctx, r.db, `INSERT INTO sessions
		(id, from_team, to_team, created_at, last_used_at, message_count, process_state, status)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`, "from_team, to_team",
		id, from, to, now, now, StateStopped, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return r.GetSession(ctx, from, to)
}

func (r *Repository) GetSession(ctx context.Context, from, to string) (*Session, error) {
	var s Session
	err := r.db.GetContext(ctx, &s, r.db.Rebind(
		`SELECT * FROM sessions WHERE from_team = ? AND to_team = ?`), from, to)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("session %s->%s", from, to))
	}
	return &s, nil
}

func (r *Repository) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.db.GetContext(ctx, &s, r.db.Rebind(
		`SELECT * FROM sessions WHERE id = ?`), id)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("session %s", id))
	}
	return &s, nil
}

func (r *Repository) ListSessions(ctx context.Context, filter Filter) ([]*Session, error) {
	query := `SELECT * FROM sessions WHERE 1=1`
	var args []any
	if filter.FromTeam != nil {
		query += ` AND from_team = ?`
		args = append(args, *filter.FromTeam)
	}
	if filter.ToTeam != nil {
		query += ` AND to_team = ?`
		args = append(args, *filter.ToTeam)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY last_used_at DESC`

	var sessions []*Session
	if err := r.db.SelectContext(ctx, &sessions, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateProcessState writes state, validating the transition per spec §3.
func (r *Repository) UpdateProcessState(ctx context.Context, id string, state ProcessState) error {
	current, err := r.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.ProcessState, state) {
		return ierrors.InvalidState("illegal process state transition %s -> %s for session %s", current.ProcessState, state, id)
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE sessions SET process_state = ? WHERE id = ?`), state, id)
	return err
}

func (r *Repository) SetCurrentCacheEntry(ctx context.Context, id string, entryID *string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE sessions SET current_cache_entry = ? WHERE id = ?`), entryID, id)
	return err
}

func (r *Repository) RecordUsage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE sessions SET last_used_at = ? WHERE id = ?`), time.Now().UTC(), id)
	return err
}

func (r *Repository) IncrementMessageCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE sessions SET message_count = message_count + 1 WHERE id = ?`), id)
	return err
}

func (r *Repository) UpdateLastResponse(ctx context.Context, id string) error {
	return r.RecordUsage(ctx, id)
}

func (r *Repository) UpdateDebugInfo(ctx context.Context, id, launchCmd, configSnapshot string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE sessions SET launch_cmd = ?, config_snapshot = ? WHERE id = ?`), launchCmd, configSnapshot, id)
	return err
}

// DeleteSession removes the row and, if removeFiles is set, the on-disk
// resume artifacts the child uses under dataDir/sessions/<id>/.
func (r *Repository) DeleteSession(ctx context.Context, id string, removeFiles bool) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if removeFiles && r.dataDir != "" {
		dir := filepath.Join(r.dataDir, "sessions", id)
		if err := os.RemoveAll(dir); err != nil {
			return ierrors.Process(err, "failed to remove session artifacts for %s", id)
		}
	}
	return nil
}

type notFoundError struct {
	resource string
}

func (e *notFoundError) Error() string { return fmt.Sprintf("%s not found", e.resource) }

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

func wrapNotFound(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &notFoundError{resource: resource}
	}
	return fmt.Errorf("query %s: %w", resource, err)
}
