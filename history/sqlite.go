package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. The table is append-only;
// INSERT OR IGNORE on the (session_id, turn_index) primary key makes
// replayed appends harmless.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during appends.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS historical_examples (
		session_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		query TEXT NOT NULL,
		keywords_json TEXT NOT NULL,
		answer TEXT NOT NULL,
		tools_json TEXT NOT NULL DEFAULT '[]',
		success INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, turn_index)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Append persists one example. Duplicate (session, turn) keys are ignored.
func (s *SQLiteStore) Append(ctx context.Context, ex Example) error {
	keywords, err := json.Marshal(ex.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	tools, err := json.Marshal(ex.ToolsUsed)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	query := `
		INSERT OR IGNORE INTO historical_examples
		(session_id, turn_index, query, keywords_json, answer, tools_json, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		ex.SessionID, ex.TurnIndex, ex.Query, string(keywords), ex.Answer,
		string(tools), boolToInt(ex.Success), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert example: %w", err)
	}
	return nil
}

// Load returns all persisted examples in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) ([]Example, error) {
	query := `
		SELECT session_id, turn_index, query, keywords_json, answer, tools_json, success
		FROM historical_examples ORDER BY created_at, session_id, turn_index`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer rows.Close()

	var examples []Example
	for rows.Next() {
		var (
			ex              Example
			keywords, tools string
			success         int
		)
		if err := rows.Scan(&ex.SessionID, &ex.TurnIndex, &ex.Query, &keywords,
			&ex.Answer, &tools, &success); err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &ex.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords: %w", err)
		}
		if err := json.Unmarshal([]byte(tools), &ex.ToolsUsed); err != nil {
			return nil, fmt.Errorf("unmarshal tools: %w", err)
		}
		ex.Success = success != 0
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
