// Package session owns the per-context message logs: one Session per
// document context, created on first reference and destroyed when the
// context closes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/store"
)

var ErrMissingContext = errors.New("missing context id")

// Persister receives every session mutation as an ordered store op.
type Persister interface {
	Enqueue(op store.Op)
}

// Session is the log of one document context.
type Session struct {
	Recording      bool
	Messages       []events.MessageRecord
	LastCapturedAt *time.Time
}

// Status is the summary reported for a context.
type Status struct {
	Recording      bool       `json:"recording"`
	MessageCount   int        `json:"messageCount"`
	LastCapturedAt *time.Time `json:"lastCapturedAt"`
}

// Snapshot is a point-in-time copy of a session, the export payload.
type Snapshot struct {
	ContextID      string                 `json:"contextId" yaml:"contextId"`
	Recording      bool                   `json:"recording" yaml:"recording"`
	LastCapturedAt *time.Time             `json:"lastCapturedAt" yaml:"lastCapturedAt"`
	MessageCount   int                    `json:"messageCount" yaml:"messageCount"`
	Messages       []events.MessageRecord `json:"messages" yaml:"messages"`
}

// Aggregator serializes all session mutations. Persisted sessions are
// loaded once, on first access.
type Aggregator struct {
	store   store.DataStore
	persist Persister

	mu       sync.Mutex
	loaded   bool
	sessions map[string]*Session
}

// New creates an aggregator over s. persist may be nil, in which case
// mutations are kept in memory only.
func New(s store.DataStore, persist Persister) *Aggregator {
	return &Aggregator{
		store:    s,
		persist:  persist,
		sessions: make(map[string]*Session),
	}
}

// IdleStatus is reported when no context is addressed.
func IdleStatus() Status {
	return Status{}
}

// Start begins a fresh recording span for id, discarding its previous log.
func (a *Aggregator) Start(ctx context.Context, id string) error {
	return a.update(ctx, id, store.OpReset, func(s *Session) {
		s.Recording = true
		s.Messages = nil
		s.LastCapturedAt = nil
	})
}

// Stop marks id as not recording. The log is kept.
func (a *Aggregator) Stop(ctx context.Context, id string) error {
	return a.update(ctx, id, store.OpUpdate, func(s *Session) {
		s.Recording = false
	})
}

// Resume marks id as recording again without discarding its log.
func (a *Aggregator) Resume(ctx context.Context, id string) error {
	return a.update(ctx, id, store.OpUpdate, func(s *Session) {
		s.Recording = true
	})
}

// Append adds msgs to the end of id's log in arrival order. No
// deduplication happens here; that is the harvester's job.
func (a *Aggregator) Append(ctx context.Context, id string, msgs []events.MessageRecord) error {
	if len(msgs) == 0 {
		if !events.ValidContextID(id) {
			return ErrMissingContext
		}
		return nil
	}

	batch := append([]events.MessageRecord(nil), msgs...)
	return a.mutate(ctx, id, func(s *Session) store.Op {
		s.Messages = append(s.Messages, batch...)
		last := batch[len(batch)-1].CapturedAt
		s.LastCapturedAt = &last
		return store.Op{
			Kind:           store.OpAppend,
			ContextID:      id,
			Recording:      s.Recording,
			LastCapturedAt: copyTime(s.LastCapturedAt),
			Messages:       batch,
		}
	})
}

// Status summarizes id, creating an empty session on first reference.
func (a *Aggregator) Status(ctx context.Context, id string) (Status, error) {
	var st Status
	err := a.read(ctx, id, func(s *Session) {
		st = Status{
			Recording:      s.Recording,
			MessageCount:   len(s.Messages),
			LastCapturedAt: copyTime(s.LastCapturedAt),
		}
	})
	return st, err
}

// Snapshot returns a copy of id's session.
func (a *Aggregator) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	err := a.read(ctx, id, func(s *Session) {
		snap = Snapshot{
			ContextID:      id,
			Recording:      s.Recording,
			LastCapturedAt: copyTime(s.LastCapturedAt),
			MessageCount:   len(s.Messages),
			Messages:       append(make([]events.MessageRecord, 0, len(s.Messages)), s.Messages...),
		}
	})
	return snap, err
}

// Recording reports whether id is recording, for the ready handshake.
func (a *Aggregator) Recording(ctx context.Context, id string) (bool, error) {
	st, err := a.Status(ctx, id)
	return st.Recording, err
}

// Close destroys id's session. It reports whether a session existed.
func (a *Aggregator) Close(ctx context.Context, id string) (bool, error) {
	if !events.ValidContextID(id) {
		return false, ErrMissingContext
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureLoaded(ctx); err != nil {
		return false, err
	}

	if _, ok := a.sessions[id]; !ok {
		return false, nil
	}
	delete(a.sessions, id)
	a.enqueue(store.Op{Kind: store.OpDelete, ContextID: id})
	slog.Info("session: closed", "context_id", id)
	return true, nil
}

// ContextIDs lists known contexts in sorted order.
func (a *Aggregator) ContextIDs(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *Aggregator) update(ctx context.Context, id string, kind store.OpKind, fn func(*Session)) error {
	return a.mutate(ctx, id, func(s *Session) store.Op {
		fn(s)
		return store.Op{
			Kind:           kind,
			ContextID:      id,
			Recording:      s.Recording,
			LastCapturedAt: copyTime(s.LastCapturedAt),
		}
	})
}

func (a *Aggregator) mutate(ctx context.Context, id string, fn func(*Session) store.Op) error {
	if !events.ValidContextID(id) {
		return ErrMissingContext
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureLoaded(ctx); err != nil {
		return err
	}

	op := fn(a.getOrCreate(id))
	a.enqueue(op)
	return nil
}

func (a *Aggregator) read(ctx context.Context, id string, fn func(*Session)) error {
	if !events.ValidContextID(id) {
		return ErrMissingContext
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureLoaded(ctx); err != nil {
		return err
	}
	fn(a.getOrCreate(id))
	return nil
}

// ensureLoaded must be called with mu held. A failed load is retried on
// the next access.
func (a *Aggregator) ensureLoaded(ctx context.Context) error {
	if a.loaded || a.store == nil {
		a.loaded = true
		return nil
	}

	persisted, err := a.store.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	for id, sd := range persisted {
		if _, ok := a.sessions[id]; ok {
			continue
		}
		a.sessions[id] = &Session{
			Recording:      sd.Recording,
			Messages:       sd.Messages,
			LastCapturedAt: sd.LastCapturedAt,
		}
	}
	a.loaded = true
	slog.Info("session: persisted sessions loaded", "count", len(persisted))
	return nil
}

func (a *Aggregator) getOrCreate(id string) *Session {
	s, ok := a.sessions[id]
	if !ok {
		s = &Session{}
		a.sessions[id] = s
	}
	return s
}

func (a *Aggregator) enqueue(op store.Op) {
	if a.persist != nil {
		a.persist.Enqueue(op)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
