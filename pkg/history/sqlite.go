package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jg-phare/mcphub/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	server_id    TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	user_id      TEXT NOT NULL DEFAULT '',
	success      INTEGER NOT NULL,
	execution_ns INTEGER NOT NULL,
	time         TEXT NOT NULL,
	entry        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_server ON history(server_id);
CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id);
`

// SQLiteStore persists history to a SQLite database in WAL mode. Indexed
// columns duplicate the fields used for filtering; the full entry is kept as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e types.ExecutionHistoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal: %w", err)
	}
	success := 0
	if e.Result.Success {
		success = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (id, server_id, tool_name, session_id, user_id, success, execution_ns, time, entry)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Call.ServerID,
		e.Call.ToolName,
		e.Call.SessionID,
		e.Call.UserID,
		success,
		int64(e.Result.ExecutionTime),
		e.Call.Timestamp.Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]types.ExecutionHistoryEntry, error) {
	return s.query(ctx, `SELECT entry FROM history ORDER BY seq ASC`)
}

// Query filters in SQL. ServerID and SessionID use indexed columns; a glob
// ToolName is applied after loading. Results are most recent first.
func (s *SQLiteStore) Query(ctx context.Context, f types.HistoryFilter) ([]types.ExecutionHistoryEntry, error) {
	q := `SELECT entry FROM history WHERE 1=1`
	var args []any
	if f.ServerID != "" {
		q += ` AND server_id = ?`
		args = append(args, f.ServerID)
	}
	if f.SessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	q += ` ORDER BY seq DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []types.ExecutionHistoryEntry
	for _, e := range rows {
		if !Match(f, e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]types.ExecutionHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query: %w", err)
	}
	defer rows.Close()

	var entries []types.ExecutionHistoryEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		var e types.ExecutionHistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("sqlite store: decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("sqlite store: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
