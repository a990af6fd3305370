package syncd

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tempolog/tempolog/internal/syncwire"
)

//go:embed authority.sql
var authoritySQL string

// Record is one event in the authority stream, stamped with its global
// position.
type Record = syncwire.Record

// Authority is the durable global event stream.
type Authority struct {
	db *sql.DB
}

// OpenAuthority creates or opens the authority database at path.
func OpenAuthority(path string) (*Authority, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open authority database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to authority database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(authoritySQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply authority schema: %w", err)
	}
	return &Authority{db: db}, nil
}

// Close closes the database connection.
func (a *Authority) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Accept appends a pushed batch in one transaction, skipping events
// whose id is already in the stream. Returns the ids that were accepted
// (new) and the ids that were duplicates; a retried push acknowledges
// the same events without growing the stream.
func (a *Authority) Accept(ctx context.Context, records []Record) (accepted, duplicate []string, err error) {
	if len(records) == 0 {
		return nil, nil, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("accept batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO authority_events (id, seq, origin, name, payload)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, rec.ID, rec.Seq, rec.Origin, rec.Name, string(rec.Payload))
		if err != nil {
			return nil, nil, fmt.Errorf("accept event %s: %w", rec.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, nil, fmt.Errorf("accept event %s: rows affected: %w", rec.ID, err)
		}
		if n > 0 {
			accepted = append(accepted, rec.ID)
		} else {
			duplicate = append(duplicate, rec.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("accept batch: commit: %w", err)
	}
	return accepted, duplicate, nil
}

// After returns up to limit records past the cursor in stream order.
func (a *Authority) After(ctx context.Context, cursor int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT global_seq, id, seq, origin, name, payload
		FROM authority_events
		WHERE global_seq > ?
		ORDER BY global_seq ASC
		LIMIT ?
	`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("read stream after %d: %w", cursor, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec     Record
			payload string
		)
		if err := rows.Scan(&rec.GlobalSeq, &rec.ID, &rec.Seq, &rec.Origin, &rec.Name, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Head returns the highest global sequence in the stream, 0 when empty.
func (a *Authority) Head(ctx context.Context) (int64, error) {
	var head int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(global_seq), 0) FROM authority_events`).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("get stream head: %w", err)
	}
	return head, nil
}
