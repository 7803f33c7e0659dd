package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/svdb-hotmail/domscribr/internal/events"
)

// SQLite is the single-file DataStore used when no database URL is set.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db, "sqlite3", "sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("store: close sqlite", "error", err)
	}
}

// LoadSessions reads every session and its messages in append order.
func (s *SQLite) LoadSessions(ctx context.Context) (map[string]*SessionData, error) {
	out := make(map[string]*SessionData)

	rows, err := s.db.QueryContext(ctx, `SELECT context_id, recording, last_captured_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	for rows.Next() {
		var (
			sd   SessionData
			last sql.NullString
		)
		if err := rows.Scan(&sd.ContextID, &sd.Recording, &last); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if last.Valid {
			t, err := parseTime(last.String)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("parse last_captured_at: %w", err)
			}
			sd.LastCapturedAt = &t
		}
		out[sd.ContextID] = &sd
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT context_id, id, sequence, role, text, raw_content, captured_at, source_url, source_title
		FROM messages
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ctxID, role, captured string
			m                     events.MessageRecord
		)
		if err := rows.Scan(&ctxID, &m.ID, &m.Sequence, &role, &m.Text, &m.RawContent, &captured, &m.Source.URL, &m.Source.Title); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = events.Role(role)
		if m.CapturedAt, err = parseTime(captured); err != nil {
			return nil, fmt.Errorf("parse captured_at: %w", err)
		}
		if sd, ok := out[ctxID]; ok {
			sd.Messages = append(sd.Messages, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	slog.Debug("store: sessions loaded", "backend", "sqlite", "count", len(out))
	return out, nil
}

// Apply writes ops in one transaction.
func (s *SQLite) Apply(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := applySQLite(ctx, tx, op); err != nil {
			return fmt.Errorf("apply %s %s: %w", op.Kind, op.ContextID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	slog.Debug("store: ops applied", "backend", "sqlite", "count", len(ops))
	return nil
}

func applySQLite(ctx context.Context, tx *sql.Tx, op Op) error {
	if op.Kind == OpDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE context_id = ?`, op.ContextID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE context_id = ?`, op.ContextID)
		return err
	}

	var last sql.NullString
	if op.LastCapturedAt != nil {
		last = sql.NullString{String: formatTime(*op.LastCapturedAt), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (context_id, recording, last_captured_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (context_id) DO UPDATE
		SET recording = excluded.recording,
		    last_captured_at = excluded.last_captured_at,
		    updated_at = CURRENT_TIMESTAMP
	`, op.ContextID, op.Recording, last)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if op.Kind == OpReset {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE context_id = ?`, op.ContextID); err != nil {
			return err
		}
	}
	if len(op.Messages) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (context_id, id, sequence, role, text, raw_content, captured_at, source_url, source_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, m := range op.Messages {
		if _, err := stmt.ExecContext(ctx, op.ContextID, m.ID, m.Sequence, string(m.Role), m.Text, m.RawContent, formatTime(m.CapturedAt), m.Source.URL, m.Source.Title); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
