package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/svdb-hotmail/domscribr/internal/events"
)

// handleMutation applies a change published by an in-page bridge. The
// document then notifies the harvester like any other mutation.
func (b *Bridge) handleMutation(msg *nats.Msg) {
	var m events.Mutation
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		slog.Warn("agent: malformed mutation, skipping", "error", err)
		respond(msg, events.Result{Error: "malformed mutation"})
		return
	}

	var applyErr error
	err := b.Do(context.Background(), func(context.Context) {
		applyErr = b.Apply(m)
	})
	if err == nil {
		err = applyErr
	}
	if err != nil {
		slog.Warn("agent: mutation skipped", "error", err)
		respond(msg, events.Result{Error: err.Error()})
		return
	}
	respond(msg, events.Result{OK: true})
}

// Apply performs one bridge mutation on the document. It must run on the
// bridge goroutine.
func (b *Bridge) Apply(m events.Mutation) error {
	if m.Text != nil {
		target := b.doc.GetElementByID(m.TextOf)
		if target == nil {
			return errUnknownTarget(m.TextOf)
		}
		return b.doc.SetText(target, *m.Text)
	}

	parent := b.doc.Body()
	if m.ParentID != "" {
		parent = b.doc.GetElementByID(m.ParentID)
		if parent == nil {
			return errUnknownTarget(m.ParentID)
		}
	}
	_, err := b.doc.AppendHTML(parent, m.HTML)
	return err
}

type errUnknownTarget string

func (e errUnknownTarget) Error() string { return "no element with id " + string(e) }
