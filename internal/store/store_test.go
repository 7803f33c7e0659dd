package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/events"
)

func record(id string, seq int, role events.Role, text string, at time.Time) events.MessageRecord {
	return events.MessageRecord{
		ID:         id,
		Sequence:   seq,
		Role:       role,
		Text:       text,
		RawContent: "<p>" + text + "</p>",
		CapturedAt: at,
		Source:     events.SourceContext{URL: "https://chat.example/c/1", Title: "Chat"},
	}
}

// exerciseStore runs the same op sequence against any backend.
func exerciseStore(t *testing.T, s DataStore, prefix string) {
	t.Helper()
	ctx := context.Background()

	a := prefix + "tab-a"
	b := prefix + "tab-b"
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 123000000, time.UTC)
	t2 := t1.Add(time.Second)

	ops := []Op{
		{Kind: OpReset, ContextID: a, Recording: true},
		{Kind: OpAppend, ContextID: a, Recording: true, LastCapturedAt: &t1, Messages: []events.MessageRecord{
			record("hash:-feeb154:2:DIV", 1, events.RoleUser, "Hi", t1),
		}},
		{Kind: OpAppend, ContextID: a, Recording: true, LastCapturedAt: &t2, Messages: []events.MessageRecord{
			record("hash:-38d01f2c:5:DIV", 2, events.RoleAssistant, "Hello", t2),
			// Duplicate ids are stored as-is; the log does not dedup.
			record("hash:-38d01f2c:5:DIV", 2, events.RoleAssistant, "Hello", t2),
		}},
		{Kind: OpUpdate, ContextID: a, Recording: false, LastCapturedAt: &t2},
		{Kind: OpReset, ContextID: b, Recording: true},
	}
	if err := s.Apply(ctx, ops); err != nil {
		t.Fatalf("apply: %v", err)
	}

	sessions, err := s.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	sa := sessions[a]
	if sa == nil {
		t.Fatal("expected session a")
	}
	if sa.Recording {
		t.Error("expected session a stopped")
	}
	if sa.LastCapturedAt == nil || !sa.LastCapturedAt.Equal(t2) {
		t.Errorf("unexpected lastCapturedAt %v", sa.LastCapturedAt)
	}
	if len(sa.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(sa.Messages))
	}
	if sa.Messages[0].Text != "Hi" || sa.Messages[0].Role != events.RoleUser {
		t.Errorf("unexpected first message %+v", sa.Messages[0])
	}
	if !sa.Messages[0].CapturedAt.Equal(t1) {
		t.Errorf("capturedAt lost precision: %v", sa.Messages[0].CapturedAt)
	}
	if sa.Messages[1].Source.Title != "Chat" || sa.Messages[1].RawContent != "<p>Hello</p>" {
		t.Errorf("unexpected second message %+v", sa.Messages[1])
	}

	sb := sessions[b]
	if sb == nil || !sb.Recording || sb.LastCapturedAt != nil || len(sb.Messages) != 0 {
		t.Errorf("unexpected session b %+v", sb)
	}

	// A restart clears the log; a delete removes the session.
	if err := s.Apply(ctx, []Op{
		{Kind: OpReset, ContextID: a, Recording: true},
		{Kind: OpDelete, ContextID: b},
	}); err != nil {
		t.Fatalf("apply reset/delete: %v", err)
	}

	sessions, err = s.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if sa := sessions[a]; sa == nil || len(sa.Messages) != 0 || !sa.Recording || sa.LastCapturedAt != nil {
		t.Errorf("expected session a reset, got %+v", sessions[a])
	}
	if _, ok := sessions[b]; ok {
		t.Error("expected session b deleted")
	}

	// A reset carrying messages replaces the log with them.
	if err := s.Apply(ctx, []Op{
		{Kind: OpAppend, ContextID: a, Recording: true, LastCapturedAt: &t1, Messages: []events.MessageRecord{
			record("old", 1, events.RoleUser, "old span", t1),
		}},
		{Kind: OpReset, ContextID: a, Recording: true, LastCapturedAt: &t2, Messages: []events.MessageRecord{
			record("n1", 1, events.RoleUser, "new 1", t2),
			record("n2", 2, events.RoleAssistant, "new 2", t2),
		}},
	}); err != nil {
		t.Fatalf("apply reset with messages: %v", err)
	}
	sessions, err = s.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if sa := sessions[a]; sa == nil || len(sa.Messages) != 2 || sa.Messages[0].ID != "n1" || sa.Messages[1].ID != "n2" {
		t.Errorf("expected the reset's messages only, got %+v", sessions[a])
	}

	if err := s.Apply(ctx, []Op{{Kind: OpDelete, ContextID: a}}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func TestSQLite_ApplyAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "domscribr.db")
	s, err := NewSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)

	exerciseStore(t, s, "")
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domscribr.db")
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = s.Apply(ctx, []Op{
		{Kind: OpReset, ContextID: "tab-1", Recording: true},
		{Kind: OpAppend, ContextID: "tab-1", Recording: true, LastCapturedAt: &at, Messages: []events.MessageRecord{
			record("id:42", 1, events.RoleUser, "Hi", at),
		}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	s.Close()

	// Reopening runs migrations again; they must be idempotent.
	s, err = NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer s.Close()

	sessions, err := s.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := sessions["tab-1"]; got == nil || len(got.Messages) != 1 || got.Messages[0].ID != "id:42" {
		t.Errorf("unexpected session after reopen: %+v", got)
	}
}

func TestApply_EmptyIsNoop(t *testing.T) {
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	if err := s.Apply(context.Background(), nil); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	s, err := Open(context.Background(), "", filepath.Join(t.TempDir(), "d.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLite); !ok {
		t.Errorf("expected *SQLite, got %T", s)
	}
}
