package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/session"
)

type published struct {
	subject string
	data    []byte
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (m *mockPublisher) publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, published{subject: subject, data: data})
	return nil
}

func snapshot() session.Snapshot {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := events.SourceContext{URL: "https://chat.example/c/1", Title: "Trip planning"}
	return session.Snapshot{
		ContextID:    "tab-1",
		MessageCount: 2,
		Messages: []events.MessageRecord{
			{ID: "id:1", Sequence: 1, Role: events.RoleUser, Text: "Hi", CapturedAt: t0, Source: src},
			{ID: "id:2", Sequence: 2, Role: events.RoleAssistant, Text: "Hello", CapturedAt: t0.Add(90 * time.Second), Source: src},
		},
	}
}

func TestText_Format(t *testing.T) {
	got := Text(snapshot().Messages)
	want := "[user]: Hi\n[assistant]: Hello\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if Text(nil) != "" {
		t.Error("expected empty transcript for no messages")
	}
}

func TestBuild_DerivesFields(t *testing.T) {
	evt := Build(snapshot())

	if evt.ContextID != "tab-1" || evt.MessageCount != 2 {
		t.Errorf("unexpected identity fields %+v", evt)
	}
	if evt.Title != "Trip planning" || evt.SourceURL != "https://chat.example/c/1" {
		t.Errorf("unexpected source fields %+v", evt)
	}
	if evt.Duration != "1m30s" {
		t.Errorf("expected duration 1m30s, got %q", evt.Duration)
	}
	if evt.TranscriptID == "" {
		t.Error("expected transcript id")
	}
}

func TestBuild_UntitledFallsBackToContext(t *testing.T) {
	snap := snapshot()
	for i := range snap.Messages {
		snap.Messages[i].Source.Title = ""
	}
	if got := Build(snap).Title; got != "session tab-1" {
		t.Errorf("unexpected fallback title %q", got)
	}
}

func TestAssemble_PublishesEvent(t *testing.T) {
	pub := &mockPublisher{}
	a := NewAssembler(pub.publish, events.Subjects{Prefix: "domscribr"})

	a.Assemble(context.Background(), snapshot())

	if len(pub.msgs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.msgs))
	}
	if pub.msgs[0].subject != "domscribr.tab-1.transcript" {
		t.Errorf("unexpected subject %q", pub.msgs[0].subject)
	}

	var evt Event
	if err := json.Unmarshal(pub.msgs[0].data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Transcript != "[user]: Hi\n[assistant]: Hello\n" {
		t.Errorf("unexpected transcript %q", evt.Transcript)
	}
}

func TestAssemble_SkipsEmptySession(t *testing.T) {
	pub := &mockPublisher{}
	a := NewAssembler(pub.publish, events.Subjects{Prefix: "domscribr"})

	a.Assemble(context.Background(), session.Snapshot{ContextID: "tab-1"})
	if len(pub.msgs) != 0 {
		t.Errorf("expected no publish for an empty session, got %d", len(pub.msgs))
	}
}

func TestAssemble_PublishErrorIsLogged(t *testing.T) {
	pub := &mockPublisher{err: errors.New("nats down")}
	a := NewAssembler(pub.publish, events.Subjects{Prefix: "domscribr"})

	// Must not panic.
	a.Assemble(context.Background(), snapshot())
}
