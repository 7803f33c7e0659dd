// Package agent is the document side of domscribr: it owns one document
// context, runs the harvester against it and talks to the aggregator over
// NATS.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/svdb-hotmail/domscribr/internal/dom"
	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/harvester"
	"github.com/svdb-hotmail/domscribr/internal/metrics"
)

var ErrBridgeClosed = errors.New("bridge is not running")

// Connect dials NATS with the reconnect behaviour both sides share.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("agent: NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("agent: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// Options configures a Bridge.
type Options struct {
	Subjects  events.Subjects
	ContextID string
	Document  *dom.Document
	// Timeout bounds every request to the aggregator.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Bridge serialises everything that touches its document onto the goroutine
// running Run: commands, bridge mutations and file reloads are queued as
// tasks, so passes never interleave.
type Bridge struct {
	nc        *nats.Conn
	subjects  events.Subjects
	contextID string
	doc       *dom.Document
	harvester *harvester.Harvester
	timeout   time.Duration

	tasks chan task
	done  chan struct{}
}

type task struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

func NewBridge(nc *nats.Conn, opts Options) (*Bridge, error) {
	if !events.ValidContextID(opts.ContextID) {
		return nil, fmt.Errorf("%w: %q", events.ErrInvalidContextID, opts.ContextID)
	}
	if opts.Document == nil {
		return nil, errors.New("agent: document is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	b := &Bridge{
		nc:        nc,
		subjects:  opts.Subjects,
		contextID: opts.ContextID,
		doc:       opts.Document,
		timeout:   timeout,
		tasks:     make(chan task, 64),
		done:      make(chan struct{}),
	}
	b.harvester = harvester.New(harvester.Config{
		Source:  opts.Document,
		Watcher: opts.Document,
		Emit:    b.emit,
		Metrics: opts.Metrics,
	})
	return b, nil
}

// Harvester exposes the state machine, mainly for status reporting.
func (b *Bridge) Harvester() *harvester.Harvester {
	return b.harvester
}

// Run subscribes to commands and bridge mutations, performs the ready
// handshake and processes tasks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.done)

	cmdSub, err := b.nc.Subscribe(b.subjects.Command(b.contextID), b.handleCommand)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	defer func() { _ = cmdSub.Unsubscribe() }()

	mutSub, err := b.nc.Subscribe(b.subjects.Mutations(b.contextID), b.handleMutation)
	if err != nil {
		return fmt.Errorf("subscribe mutations: %w", err)
	}
	defer func() { _ = mutSub.Unsubscribe() }()

	if err := b.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	slog.Info("agent: bridge running", "context_id", b.contextID)
	b.ready(ctx)

	for {
		select {
		case <-ctx.Done():
			b.harvester.Stop()
			b.drain()
			slog.Info("agent: bridge stopped", "context_id", b.contextID)
			return nil
		case t := <-b.tasks:
			t.fn(ctx)
			close(t.done)
		}
	}
}

// Do runs fn on the bridge goroutine and waits for it to finish.
func (b *Bridge) Do(ctx context.Context, fn func(ctx context.Context)) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case b.tasks <- t:
	case <-b.done:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-b.done:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain releases callers whose tasks were queued but never run.
func (b *Bridge) drain() {
	for {
		select {
		case t := <-b.tasks:
			close(t.done)
		default:
			return
		}
	}
}

// ready asks the aggregator whether this context was recording before it
// came up, and re-arms the harvester if so.
func (b *Bridge) ready(ctx context.Context) {
	data, err := json.Marshal(events.ReadyRequest{ContextID: b.contextID})
	if err != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.nc.RequestWithContext(rctx, b.subjects.Ready(), data)
	if err != nil {
		slog.Warn("agent: ready handshake failed", "context_id", b.contextID, "error", err)
		return
	}
	var rr events.ReadyResponse
	if err := json.Unmarshal(resp.Data, &rr); err != nil {
		slog.Warn("agent: malformed ready reply", "error", err)
		return
	}
	if rr.Recording {
		b.harvester.Start(ctx)
	}
}

func (b *Bridge) handleCommand(msg *nats.Msg) {
	var cmd events.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		respond(msg, events.Result{Error: "malformed command"})
		return
	}

	var run func(ctx context.Context)
	switch cmd.Type {
	case events.CommandStart:
		run = b.harvester.Start
	case events.CommandResume:
		run = b.harvester.Resume
	case events.CommandStop:
		run = func(context.Context) { b.harvester.Stop() }
	default:
		respond(msg, events.Result{Error: "unknown command " + cmd.Type})
		return
	}

	if err := b.Do(context.Background(), run); err != nil {
		respond(msg, events.Result{Error: err.Error()})
		return
	}
	respond(msg, events.Result{OK: true})
}

// emit sends records to the aggregator and waits for its acknowledgement.
// It runs on the bridge goroutine, under the harvester's lock.
func (b *Bridge) emit(ctx context.Context, records []events.MessageRecord) error {
	data, err := json.Marshal(events.NewBatch(b.contextID, records))
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.nc.RequestWithContext(ctx, b.subjects.Messages(b.contextID), data)
	if err != nil {
		return fmt.Errorf("deliver batch: %w", err)
	}
	var res events.Result
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("aggregator rejected batch: %s", res.Error)
	}
	return nil
}

func respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("agent: failed to reply", "subject", msg.Subject, "error", err)
	}
}
