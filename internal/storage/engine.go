package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// schema is the normative layout for the three persisted tables. Column
// order, types, and index definitions here are load-bearing: tests and
// external tooling depend on them.
const schema = `
CREATE TABLE IF NOT EXISTS alarms (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	scheduled_at    INTEGER NOT NULL,
	repeat_interval INTEGER,
	payload         TEXT NOT NULL DEFAULT '{}',
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alarms_scheduled_at ON alarms(scheduled_at);

CREATE TABLE IF NOT EXISTS actor_meta (
	actor_id         TEXT PRIMARY KEY,
	created_at       INTEGER NOT NULL,
	last_active_at   INTEGER NOT NULL,
	status           TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS snapshots (
	actor_id    TEXT PRIMARY KEY,
	blob        BLOB NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	updated_at  INTEGER NOT NULL,

	FOREIGN KEY(actor_id) REFERENCES actor_meta(actor_id) ON DELETE CASCADE
);
`

// Engine is the SQL-backed Persistence Layer. A single Engine owns exactly
// one compute unit's database, per spec.md §3 ("Ownership").
type Engine struct {
	db   *sql.DB
	path string
	log  *slog.Logger

	bootstrapOnce sync.Once
	bootstrapErr  error
}

// Open opens (creating if absent) the SQLite database at path and returns
// an Engine with schema bootstrap deferred to first use. Passing an empty
// path opens an in-memory database, useful for tests.
func Open(path string, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		dsn = dsn + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	return &Engine{db: db, path: path, log: log}, nil
}

// Path returns the database file path (empty for in-memory engines).
func (e *Engine) Path() string { return e.path }

// bootstrap runs the schema DDL at most once per process incarnation,
// regardless of how many PL operations are issued. Per spec.md §4.1 this
// must be cheap and idempotent but never reissued on every call.
func (e *Engine) bootstrap(ctx context.Context) error {
	e.bootstrapOnce.Do(func() {
		if _, err := e.db.ExecContext(ctx, schema); err != nil {
			e.log.Error("schema bootstrap failed", "error", err)
			e.bootstrapErr = fmt.Errorf("storage: bootstrap schema: %w", err)
		}
	})
	return e.bootstrapErr
}

// exec runs a mutating statement. Bind values are always passed as
// individual scalar arguments, never as a single slice — the testable
// property in spec.md §8 ("no argument is ever an array wrapping the bind
// values") is structurally guaranteed by ExecContext's variadic signature.
func (e *Engine) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := e.bootstrap(ctx); err != nil {
		return nil, err
	}
	return e.db.ExecContext(ctx, query, args...)
}

// queryRecords runs a read query and decodes it through the same
// normalization path tests exercise: *sql.Rows is collected into a single
// RowBatch and passed to Normalize.
func (e *Engine) queryRecords(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if err := e.bootstrap(ctx); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	batch := RowBatch{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		batch.Rows = append(batch.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return Normalize([]RowBatch{batch})
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	_, _ = e.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return e.db.Close()
}
