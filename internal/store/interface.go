package store

import (
	"context"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/events"
)

// OpKind names a session mutation to be written back.
type OpKind string

const (
	// OpReset clears a session's messages, records its new state and then
	// appends Messages, if any.
	OpReset OpKind = "reset"
	// OpUpdate records recording and lastCapturedAt only.
	OpUpdate OpKind = "update"
	// OpAppend records the new state and adds Messages at the end of the log.
	OpAppend OpKind = "append"
	// OpDelete removes a session and its messages.
	OpDelete OpKind = "delete"
)

// Op is one ordered write. Every op except OpDelete carries the session
// state after the mutation, so replaying ops in order converges.
type Op struct {
	Kind           OpKind
	ContextID      string
	Recording      bool
	LastCapturedAt *time.Time
	Messages       []events.MessageRecord
}

// SessionData is the persisted form of one session.
type SessionData struct {
	ContextID      string
	Recording      bool
	LastCapturedAt *time.Time
	Messages       []events.MessageRecord
}

// DataStore is the interface consumed by the batcher and the session
// aggregator. Implementations are *Postgres and *SQLite.
type DataStore interface {
	// LoadSessions returns every persisted session keyed by context id,
	// messages in append order.
	LoadSessions(ctx context.Context) (map[string]*SessionData, error)
	// Apply writes ops in order, atomically.
	Apply(ctx context.Context, ops []Op) error
	Close()
}

// Open picks the backend: Postgres when databaseURL is set, SQLite at
// sqlitePath otherwise. Migrations are applied before returning.
func Open(ctx context.Context, databaseURL, sqlitePath string) (DataStore, error) {
	if databaseURL != "" {
		return NewPostgres(ctx, databaseURL)
	}
	return NewSQLite(ctx, sqlitePath)
}
