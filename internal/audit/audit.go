// Package audit keeps a history of executed actions in sqlite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// keep bounds the table; older rows are pruned on insert.
const keep = 5000

type Entry struct {
	ID     int64             `json:"id"`
	At     time.Time         `json:"at"`
	Action string            `json:"action"`
	Target string            `json:"target,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	State  string            `json:"state"`
	Detail string            `json:"detail,omitempty"`
}

// Log records entries. A nil *Log accepts and drops everything.
type Log struct {
	db  *sql.DB
	log zerolog.Logger
}

func Open(path string, logger zerolog.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			action TEXT NOT NULL,
			target TEXT,
			params TEXT,
			state TEXT NOT NULL,
			detail TEXT
		)`,
		"CREATE INDEX IF NOT EXISTS idx_actions_at ON actions(at)",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init audit schema: %w", err)
		}
	}
	return &Log{db: db, log: logger.With().Str("component", "audit").Logger()}, nil
}

func (l *Log) Record(ctx context.Context, e Entry) error {
	if l == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var params []byte
	if len(e.Params) > 0 {
		params, _ = json.Marshal(e.Params)
	}
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO actions (at, action, target, params, state, detail) VALUES (?, ?, ?, ?, ?, ?)",
		e.At.UnixNano(), e.Action, e.Target, string(params), e.State, e.Detail)
	if err != nil {
		l.log.Error().Err(err).Str("action", e.Action).Msg("failed to record action")
		return err
	}
	_, err = l.db.ExecContext(ctx,
		"DELETE FROM actions WHERE id <= (SELECT MAX(id) FROM actions) - ?", keep)
	return err
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil {
		return []Entry{}, nil
	}
	if limit <= 0 || limit > keep {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, at, action, target, params, state, detail FROM actions ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e              Entry
			at             int64
			target, detail sql.NullString
			params         sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Action, &target, &params, &e.State, &detail); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at).UTC()
		e.Target = target.String
		e.Detail = detail.String
		if params.String != "" {
			_ = json.Unmarshal([]byte(params.String), &e.Params)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
