// Package transcript renders a session log as plain "[role]: text" lines and
// announces finished recordings over NATS.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/session"
)

// NATSPublishFunc is the callback signature for publishing to NATS.
type NATSPublishFunc func(subject string, data []byte) error

// Assembler turns stopped sessions into transcript events.
type Assembler struct {
	publish  NATSPublishFunc
	subjects events.Subjects
}

// NewAssembler creates an Assembler wired to the given NATS publisher.
func NewAssembler(publish NATSPublishFunc, subjects events.Subjects) *Assembler {
	return &Assembler{
		publish:  publish,
		subjects: subjects,
	}
}

// Text builds the transcript body: one "[role]: text" line per message.
func Text(msgs []events.MessageRecord) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Text)
	}
	return sb.String()
}

// Build derives the transcript event of a snapshot. Title and source come
// from the last message, which reflects where the conversation ended up.
func Build(snap session.Snapshot) Event {
	evt := Event{
		TranscriptID: uuid.New().String(),
		ContextID:    snap.ContextID,
		MessageCount: len(snap.Messages),
		Transcript:   Text(snap.Messages),
	}
	if len(snap.Messages) == 0 {
		return evt
	}

	first := snap.Messages[0].CapturedAt
	last := snap.Messages[len(snap.Messages)-1]
	lastAt := last.CapturedAt
	evt.FirstMessageAt = &first
	evt.LastMessageAt = &lastAt
	evt.Duration = lastAt.Sub(first).String()
	evt.SourceURL = last.Source.URL
	evt.Title = last.Source.Title
	if evt.Title == "" {
		evt.Title = fmt.Sprintf("session %s", snap.ContextID)
	}
	return evt
}

// Assemble publishes the transcript of a stopped session. Empty sessions are
// skipped.
func (a *Assembler) Assemble(_ context.Context, snap session.Snapshot) {
	if len(snap.Messages) == 0 {
		slog.Info("transcript: empty session, skipping", "context_id", snap.ContextID)
		return
	}

	evt := Build(snap)
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("transcript: failed to marshal transcript event", "error", err)
		return
	}

	subject := a.subjects.Transcript(snap.ContextID)
	if err := a.publish(subject, payload); err != nil {
		slog.Error("transcript: failed to publish transcript event",
			"context_id", snap.ContextID,
			"error", err,
		)
		return
	}

	slog.Info("transcript: published to NATS",
		"subject", subject,
		"transcript_id", evt.TranscriptID,
		"messages", evt.MessageCount,
	)
}
