// Package harvester drives incremental extraction from a live document: a
// full pass on start, then a scoped pass over every region a mutation batch
// touches, until stopped.
package harvester

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/dom"
	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/extract"
	"github.com/svdb-hotmail/domscribr/internal/metrics"
)

// Watcher delivers batches of document mutations.
type Watcher interface {
	Subscribe(fn func([]dom.Mutation)) dom.SubscriptionID
	Unsubscribe(id dom.SubscriptionID)
}

// Source is the document being harvested.
type Source interface {
	Root() dom.Node
	Location() events.SourceContext
}

// EmitFunc hands a non-empty batch of new records to the transport.
type EmitFunc func(ctx context.Context, records []events.MessageRecord) error

// Config wires a Harvester.
type Config struct {
	Source  Source
	Watcher Watcher
	Emit    EmitFunc
	Metrics *metrics.Metrics
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Harvester is the Idle/Recording state machine. A pass and the emit of its
// records run under one lock, so batches leave in sequence order and a stop
// never interrupts a pass in progress.
type Harvester struct {
	source  Source
	watcher Watcher
	emit    EmitFunc
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	state     *extract.DedupState
	recording bool
	sub       dom.SubscriptionID
	// span counts begins, so a subscription that completes after a newer
	// begin can tell it is stale.
	span uint64
	// ctx is the context passed to Start, used for emits from mutation callbacks.
	ctx context.Context
}

func New(cfg Config) *Harvester {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Harvester{
		source:  cfg.Source,
		watcher: cfg.Watcher,
		emit:    cfg.Emit,
		metrics: m,
		now:     now,
		state:   extract.NewDedupState(),
		ctx:     context.Background(),
	}
}

// Recording reports the current state.
func (h *Harvester) Recording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recording
}

// Sequence is the last sequence number assigned in the current span.
func (h *Harvester) Sequence() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Sequence()
}

// Start begins a new recording span: it forgets everything captured so far,
// harvests the whole document and then follows mutations. It is a no-op when
// already recording.
func (h *Harvester) Start(ctx context.Context) {
	h.begin(ctx, true)
}

// Resume re-enters recording without starting a new span. Content captured
// before the last Stop stays suppressed and numbering continues.
func (h *Harvester) Resume(ctx context.Context) {
	h.begin(ctx, false)
}

func (h *Harvester) begin(ctx context.Context, reset bool) {
	h.mu.Lock()
	if h.recording {
		h.mu.Unlock()
		return
	}
	h.recording = true
	h.ctx = ctx
	h.span++
	span := h.span
	if reset {
		h.state.Reset()
	}

	res := h.pass(h.source.Root(), "full")
	h.deliver(ctx, res.Records)
	h.mu.Unlock()

	// Subscribing outside the lock lets a synchronous watcher call back
	// into handleBatch without deadlocking.
	sub := h.watcher.Subscribe(h.handleBatch)

	h.mu.Lock()
	if !h.recording || h.span != span {
		// Stopped, or stopped and begun again, while subscribing.
		h.mu.Unlock()
		h.watcher.Unsubscribe(sub)
		return
	}
	h.sub = sub
	h.mu.Unlock()

	slog.Info("harvester: recording started",
		"new_span", reset,
		"initial", len(res.Records),
	)
}

// Stop ends the span. Captured fingerprints and the sequence counter are kept
// until the next Start; mutations delivered after Stop are ignored.
func (h *Harvester) Stop() {
	h.mu.Lock()
	if !h.recording {
		h.mu.Unlock()
		return
	}
	h.recording = false
	sub := h.sub
	h.sub = 0
	h.mu.Unlock()

	if sub != 0 {
		h.watcher.Unsubscribe(sub)
	}
	slog.Info("harvester: recording stopped", "sequence", h.Sequence())
}

// handleBatch harvests every region touched by a mutation batch: added
// element and document nodes, and the parent element of edited text.
func (h *Harvester) handleBatch(batch []dom.Mutation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.recording {
		return
	}

	var records []events.MessageRecord
	for _, m := range batch {
		switch m.Type {
		case dom.ChildList:
			for _, n := range m.Added {
				if n == nil {
					continue
				}
				if k := n.Kind(); k == dom.ElementNode || k == dom.DocumentNode {
					records = append(records, h.pass(n, "scoped").Records...)
				}
			}
		case dom.CharacterData:
			if parent := dom.ParentElement(m.Target); parent != nil {
				records = append(records, h.pass(parent, "scoped").Records...)
			}
		}
	}
	h.deliver(h.ctx, records)
}

// pass must be called with mu held.
func (h *Harvester) pass(root dom.Node, scope string) extract.PassResult {
	res := extract.Harvest(root, h.state, extract.Env{
		Now:      h.now,
		Location: h.source.Location,
	})
	h.metrics.PassesTotal.WithLabelValues(scope).Inc()
	h.metrics.DuplicatesSkipped.Add(float64(res.Duplicates))
	h.metrics.EmptySkipped.Add(float64(res.Empty))
	return res
}

// deliver must be called with mu held.
func (h *Harvester) deliver(ctx context.Context, records []events.MessageRecord) {
	if len(records) == 0 {
		return
	}
	if err := h.emit(ctx, records); err != nil {
		h.metrics.EmitFailures.Inc()
		slog.Warn("harvester: emit failed", "count", len(records), "error", err)
		return
	}
	h.metrics.RecordsEmitted.Add(float64(len(records)))
	slog.Debug("harvester: records emitted",
		"count", len(records),
		"last_sequence", records[len(records)-1].Sequence,
	)
}
