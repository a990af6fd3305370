// Package eventlog stores the replica's event log durably.
//
// The log is the sole authoritative state: the materialized snapshot is a
// cache reproducible by full replay. SQLite gives us atomic batch appends
// (commit atomicity) and WAL mode for concurrent readers.
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tempolog/tempolog/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added pending-push index
const currentSchemaVersion = 1

// Keys in the sync_state table.
const (
	cursorKey = "pull_cursor"
	originKey = "origin"
)

// Log is a durable append-only event log for one replica.
type Log struct {
	db *sql.DB
}

// Open creates or opens the log database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append writes a commit batch in one transaction: either every event in
// the batch is durably appended or none is. A duplicate event id violates
// the append-once invariant and fails the whole batch with
// table-level integrity semantics surfaced as an error.
func (l *Log) Append(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, ev := range events {
		payload, err := event.MarshalPayload(ev.Payload)
		if err != nil {
			return fmt.Errorf("append batch: %w", err)
		}
		localOnly := 0
		if event.LocalOnly(ev.Name) {
			localOnly = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, seq, origin, name, payload, local_only, pushed)
			VALUES (?, ?, ?, ?, ?, ?, 0)
		`, ev.ID, ev.Seq, ev.Origin, ev.Name, string(payload), localOnly)
		if err != nil {
			return fmt.Errorf("append event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append batch: commit: %w", err)
	}
	return nil
}

// InsertRemote writes a pulled batch in one transaction, skipping events
// already present (idempotent on event id, sync rounds may overlap).
// Remote events are marked pushed - they came from the authority.
// Returns the events that were actually new.
func (l *Log) InsertRemote(ctx context.Context, events []event.Event) ([]event.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("insert remote batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	var inserted []event.Event
	for _, ev := range events {
		payload, err := event.MarshalPayload(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("insert remote batch: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, seq, origin, name, payload, local_only, pushed)
			VALUES (?, ?, ?, ?, ?, 0, 1)
			ON CONFLICT(id) DO NOTHING
		`, ev.ID, ev.Seq, ev.Origin, ev.Name, string(payload))
		if err != nil {
			return nil, fmt.Errorf("insert remote event %s: %w", ev.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert remote event %s: rows affected: %w", ev.ID, err)
		}
		if n > 0 {
			inserted = append(inserted, ev)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("insert remote batch: commit: %w", err)
	}
	return inserted, nil
}

// ReadAll returns the full log in deterministic merge order
// (seq, origin, id). This is the replay input.
func (l *Log) ReadAll(ctx context.Context) ([]event.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, seq, origin, name, payload FROM events
		ORDER BY seq ASC, origin COLLATE BINARY ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Pending returns local synced events not yet acknowledged by the
// authority, in original commit order (append order, not merge order).
func (l *Log) Pending(ctx context.Context) ([]event.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, seq, origin, name, payload FROM events
		WHERE pushed = 0 AND local_only = 0
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkPushed flags events as acknowledged by the authority.
func (l *Log) MarkPushed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark pushed: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE events SET pushed = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("mark pushed %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark pushed: commit: %w", err)
	}
	return nil
}

// LastSeq returns the highest lamport seq in the log.
// Used at startup to resume the logical clock from the correct position.
func (l *Log) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

// Contains reports whether an event id is already in the log.
func (l *Log) Contains(ctx context.Context, id string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", id, err)
	}
	return n > 0, nil
}

// Cursor returns the last acknowledged pull position, 0 if never synced.
func (l *Log) Cursor(ctx context.Context) (int64, error) {
	var value int64
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, cursorKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return value, nil
}

// SetCursor stores the last acknowledged pull position.
func (l *Log) SetCursor(ctx context.Context, cursor int64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, cursorKey, cursor)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// Origin returns the stored replica identity, creating and persisting it
// via gen on first open so the identity survives restarts.
func (l *Log) Origin(ctx context.Context, gen func() string) (string, error) {
	var value string
	err := l.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, originKey).Scan(&value)
	if err == nil {
		return value, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("get origin: %w", err)
	}

	value = gen()
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?, ?)`, originKey, value); err != nil {
		return "", fmt.Errorf("store origin: %w", err)
	}
	return value, nil
}

// scanEvents decodes query rows into events, resolving payload types from
// their versioned names. An unknown name in the log is fatal.
func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	events := []event.Event{}
	for rows.Next() {
		var (
			ev      event.Event
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.Origin, &ev.Name, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		p, err := event.DecodePayload(ev.Name, []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", ev.ID, err)
		}
		ev.Payload = p
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
