package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/svdb-hotmail/domscribr/internal/events"
)

// Postgres is the pgx-backed DataStore.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, "postgres", "postgres")
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// LoadSessions reads every session and its messages in append order.
func (s *Postgres) LoadSessions(ctx context.Context) (map[string]*SessionData, error) {
	out := make(map[string]*SessionData)

	rows, err := s.pool.Query(ctx, `SELECT context_id, recording, last_captured_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	for rows.Next() {
		var (
			sd   SessionData
			last *time.Time
		)
		if err := rows.Scan(&sd.ContextID, &sd.Recording, &last); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if last != nil {
			utc := last.UTC()
			sd.LastCapturedAt = &utc
		}
		out[sd.ContextID] = &sd
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
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
			ctxID string
			m     events.MessageRecord
			role  string
		)
		if err := rows.Scan(&ctxID, &m.ID, &m.Sequence, &role, &m.Text, &m.RawContent, &m.CapturedAt, &m.Source.URL, &m.Source.Title); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = events.Role(role)
		m.CapturedAt = m.CapturedAt.UTC()
		if sd, ok := out[ctxID]; ok {
			sd.Messages = append(sd.Messages, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	slog.Debug("store: sessions loaded", "backend", "postgres", "count", len(out))
	return out, nil
}

// Apply writes ops in one transaction; messages are bulk-copied.
func (s *Postgres) Apply(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		if err := applyPostgres(ctx, tx, op); err != nil {
			return fmt.Errorf("apply %s %s: %w", op.Kind, op.ContextID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	slog.Debug("store: ops applied", "backend", "postgres", "count", len(ops))
	return nil
}

func applyPostgres(ctx context.Context, tx pgx.Tx, op Op) error {
	if op.Kind == OpDelete {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE context_id = $1`, op.ContextID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM sessions WHERE context_id = $1`, op.ContextID)
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO sessions (context_id, recording, last_captured_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (context_id) DO UPDATE
		SET recording = EXCLUDED.recording,
		    last_captured_at = EXCLUDED.last_captured_at,
		    updated_at = now()
	`, op.ContextID, op.Recording, op.LastCapturedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if op.Kind == OpReset {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE context_id = $1`, op.ContextID); err != nil {
			return err
		}
	}
	if len(op.Messages) == 0 {
		return nil
	}

	rows := make([][]any, len(op.Messages))
	for i, m := range op.Messages {
		rows[i] = []any{op.ContextID, m.ID, m.Sequence, string(m.Role), m.Text, m.RawContent, m.CapturedAt, m.Source.URL, m.Source.Title}
	}
	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"messages"},
		[]string{"context_id", "id", "sequence", "role", "text", "raw_content", "captured_at", "source_url", "source_title"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy messages: %w", err)
	}
	return nil
}
