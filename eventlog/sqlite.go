package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS session_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	text       TEXT NOT NULL DEFAULT '',
	tool_name  TEXT NOT NULL DEFAULT '',
	args_json  TEXT NOT NULL DEFAULT '{}',
	output     TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
`

// SQLiteLog is a Log backed by a local SQLite database. Entries are only
// ever inserted; nothing updates or deletes rows.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLiteLog opens (and if needed creates) the event log database at path.
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create event log schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Append implements Log.
func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	args, err := marshalArgs(e.Args)
	if err != nil {
		return err
	}
	success := 0
	if e.Success {
		success = 1
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO session_events
		 (session_id, kind, timestamp, text, tool_name, args_json, output, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Kind, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Text, e.ToolName, args, e.Output, success)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Session implements Log.
func (l *SQLiteLog) Session(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, kind, timestamp, text, tool_name, args_json, output, success
		 FROM session_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Sessions implements Log.
func (l *SQLiteLog) Sessions(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id FROM session_events GROUP BY session_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Log.
func (l *SQLiteLog) Close() error { return l.db.Close() }

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, argsJSON string
		var success int
		if err := rows.Scan(&e.SessionID, &e.Kind, &ts, &e.Text,
			&e.ToolName, &argsJSON, &e.Output, &success); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		e.Success = success != 0
		args, err := unmarshalArgs(argsJSON)
		if err != nil {
			return nil, err
		}
		e.Args = args
		out = append(out, e)
	}
	return out, rows.Err()
}
