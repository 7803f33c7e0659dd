package ingester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/svdb-hotmail/domscribr/internal/batcher"
	"github.com/svdb-hotmail/domscribr/internal/events"
)

// QueueGroup lets several aggregator replicas share the inbound subjects.
const QueueGroup = "domscribr-aggregator"

// drainWait bounds Close; nats.go's own drain timeout is 30s.
const drainWait = 35 * time.Second

// TranscriptStream retains published transcripts.
const TranscriptStream = "DOMSCRIBR_TRANSCRIPTS"

// Sessions is the part of the session aggregator the ingester feeds.
type Sessions interface {
	Append(ctx context.Context, contextID string, msgs []events.MessageRecord) error
	Recording(ctx context.Context, contextID string) (bool, error)
}

// Ingester is the aggregator's NATS endpoint: it receives message batches
// and ready handshakes from document contexts and sends them commands.
type Ingester struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	sessions Sessions
	subjects events.Subjects
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	closed   chan struct{}
}

func New(natsURL string, subjects events.Subjects, sessions Sessions, b *batcher.Batcher, timeout time.Duration) (*Ingester, error) {
	closed := make(chan struct{})
	nc, err := nats.Connect(natsURL,
		nats.Name("domscribr-aggregator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("ingester: NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("ingester: NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ictx, ican := context.WithCancel(context.Background())
	ing := &Ingester{
		nc:       nc,
		js:       js,
		sessions: sessions,
		subjects: subjects,
		timeout:  timeout,
		ctx:      ictx,
		cancel:   ican,
		closed:   closed,
	}

	// Give the batcher a way to publish alerts back to NATS.
	if b != nil {
		b.SetNATSPublisher(func(subject string, data []byte) error {
			return nc.Publish(subjects.System(subject), data)
		})
	}

	return ing, nil
}

// Start subscribes to the messages and ready subjects. A missing JetStream
// only disables transcript retention.
func (ing *Ingester) Start() error {
	if err := ing.ensureStream(ing.ctx, TranscriptStream, []string{ing.subjects.Prefix + ".*.transcript"}); err != nil {
		slog.Warn("ingester: transcript stream not available, skipping", "stream", TranscriptStream, "error", err)
	}

	if _, err := ing.nc.QueueSubscribe(ing.subjects.AllMessages(), QueueGroup, ing.handleMessages); err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	if _, err := ing.nc.QueueSubscribe(ing.subjects.Ready(), QueueGroup, ing.handleReady); err != nil {
		return fmt.Errorf("subscribe ready: %w", err)
	}

	// Make sure the server has registered the subscriptions before callers
	// start sending.
	if err := ing.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	slog.Info("ingester: subscribed",
		"messages", ing.subjects.AllMessages(),
		"ready", ing.subjects.Ready(),
		"queue", QueueGroup,
	)
	return nil
}

func (ing *Ingester) ensureStream(ctx context.Context, name string, subjects []string) error {
	// Try to get existing stream first.
	_, err := ing.js.Stream(ctx, name)
	if err == nil {
		return nil
	}

	_, err = ing.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}

	slog.Info("ingester: created stream", "name", name, "subjects", subjects)
	return nil
}

func (ing *Ingester) handleMessages(msg *nats.Msg) {
	contextID := ing.subjects.ContextFromSubject(msg.Subject)
	if !events.ValidContextID(contextID) {
		ing.reply(msg, events.Result{Error: "missing context id"})
		return
	}

	batch, err := events.NormalizeBatch(msg.Data, contextID)
	if errors.Is(err, events.ErrEmptyBatch) {
		ing.reply(msg, events.Result{OK: true})
		return
	}
	if err != nil {
		slog.Warn("ingester: malformed batch, skipping",
			"subject", msg.Subject,
			"error", err,
		)
		ing.reply(msg, events.Result{Error: err.Error()})
		return
	}

	// The subject is authoritative for the sender's context.
	if batch.ContextID != contextID {
		slog.Warn("ingester: batch context does not match subject",
			"subject", msg.Subject,
			"batch_context", batch.ContextID,
		)
	}

	ctx, cancel := context.WithTimeout(ing.ctx, ing.timeout)
	defer cancel()

	if err := ing.sessions.Append(ctx, contextID, batch.Messages); err != nil {
		slog.Error("ingester: append failed",
			"context_id", contextID,
			"batch_id", batch.BatchID,
			"error", err,
		)
		ing.reply(msg, events.Result{Error: err.Error()})
		return
	}

	slog.Debug("ingester: batch appended",
		"context_id", contextID,
		"batch_id", batch.BatchID,
		"count", len(batch.Messages),
	)
	ing.reply(msg, events.Result{OK: true})
}

func (ing *Ingester) handleReady(msg *nats.Msg) {
	var req events.ReadyRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || !events.ValidContextID(req.ContextID) {
		ing.reply(msg, events.ReadyResponse{})
		return
	}

	ctx, cancel := context.WithTimeout(ing.ctx, ing.timeout)
	defer cancel()

	recording, err := ing.sessions.Recording(ctx, req.ContextID)
	if err != nil {
		slog.Error("ingester: ready lookup failed", "context_id", req.ContextID, "error", err)
		ing.reply(msg, events.ReadyResponse{})
		return
	}

	slog.Info("ingester: document ready", "context_id", req.ContextID, "recording", recording)
	ing.reply(msg, events.ReadyResponse{OK: true, Recording: recording})
}

func (ing *Ingester) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("ingester: marshal reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("ingester: failed to reply", "subject", msg.Subject, "error", err)
	}
}

// SendCommand delivers a start/stop/resume command to a document context
// and waits for its acknowledgement.
func (ing *Ingester) SendCommand(ctx context.Context, contextID, cmdType string) error {
	data, err := json.Marshal(events.Command{Type: cmdType})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ing.timeout)
	defer cancel()

	resp, err := ing.nc.RequestWithContext(ctx, ing.subjects.Command(contextID), data)
	if err != nil {
		return fmt.Errorf("send %s command: %w", cmdType, err)
	}

	var res events.Result
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return fmt.Errorf("decode %s reply: %w", cmdType, err)
	}
	if !res.OK {
		return fmt.Errorf("%s rejected: %s", cmdType, res.Error)
	}
	return nil
}

// NATSConn returns the underlying NATS connection.
func (ing *Ingester) NATSConn() *nats.Conn {
	return ing.nc
}

// Publish sends a message to NATS (used for transcripts).
func (ing *Ingester) Publish(subject string, data []byte) error {
	return ing.nc.Publish(subject, data)
}

// Close drains subscriptions and closes the NATS connection. It returns
// once every message already delivered has been handled, so appends it
// acknowledged are queued before the caller's final flush.
func (ing *Ingester) Close() {
	if err := ing.nc.Drain(); err != nil {
		slog.Warn("ingester: drain failed", "error", err)
		ing.nc.Close()
	}
	select {
	case <-ing.closed:
	case <-time.After(drainWait):
		slog.Warn("ingester: drain timed out", "wait", drainWait)
	}
	ing.cancel()
}
