package testutil

import (
	"context"
	"sync"

	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for testing.
type MockStore struct {
	mu sync.Mutex

	Sessions map[string]*store.SessionData
	Ops      []store.Op

	ApplyErr error
	LoadErr  error

	ApplyCalls int
	LoadCalls  int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Sessions: make(map[string]*store.SessionData),
	}
}

// Seed installs a persisted session as if written by an earlier process.
func (m *MockStore) Seed(sd store.SessionData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := sd
	cp.Messages = append([]events.MessageRecord(nil), sd.Messages...)
	m.Sessions[sd.ContextID] = &cp
}

func (m *MockStore) LoadSessions(_ context.Context) (map[string]*store.SessionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCalls++
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	out := make(map[string]*store.SessionData, len(m.Sessions))
	for id, sd := range m.Sessions {
		cp := *sd
		cp.Messages = append([]events.MessageRecord(nil), sd.Messages...)
		out[id] = &cp
	}
	return out, nil
}

func (m *MockStore) Apply(_ context.Context, ops []store.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyCalls++
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	for _, op := range ops {
		m.Ops = append(m.Ops, op)
		if op.Kind == store.OpDelete {
			delete(m.Sessions, op.ContextID)
			continue
		}
		sd := m.Sessions[op.ContextID]
		if sd == nil {
			sd = &store.SessionData{ContextID: op.ContextID}
			m.Sessions[op.ContextID] = sd
		}
		sd.Recording = op.Recording
		sd.LastCapturedAt = op.LastCapturedAt
		switch op.Kind {
		case store.OpReset:
			sd.Messages = append([]events.MessageRecord(nil), op.Messages...)
		case store.OpAppend:
			sd.Messages = append(sd.Messages, op.Messages...)
		}
	}
	return nil
}

func (m *MockStore) Close() {}

// GetApplyCalls returns the number of Apply calls (thread-safe).
func (m *MockStore) GetApplyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ApplyCalls
}

// GetOpCount returns the number of ops applied (thread-safe).
func (m *MockStore) GetOpCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Ops)
}

// GetSession returns a copy of a stored session, or nil (thread-safe).
func (m *MockStore) GetSession(contextID string) *store.SessionData {
	m.mu.Lock()
	defer m.mu.Unlock()
	sd := m.Sessions[contextID]
	if sd == nil {
		return nil
	}
	cp := *sd
	cp.Messages = append([]events.MessageRecord(nil), sd.Messages...)
	return &cp
}
