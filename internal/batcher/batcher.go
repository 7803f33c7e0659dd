package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/metrics"
	"github.com/svdb-hotmail/domscribr/internal/store"
)

// BatchProcessor observes appended message batches once they are durable.
type BatchProcessor interface {
	Process(ctx context.Context, contextID string, msgs []events.MessageRecord)
}

// Alert subjects published under the configured prefix.
const (
	AlertBufferOverflow = "system.buffer_overflow"
	AlertWriteFailure   = "system.write_failure"
)

// Batcher is the write-behind queue between the session aggregator and the
// store. Ops are applied in the order they were added.
type Batcher struct {
	store          store.DataStore
	procs          []BatchProcessor
	metrics        *metrics.Metrics
	flushInterval  time.Duration
	flushThreshold int
	bufferMax      int

	mu              sync.Mutex
	buffer          []store.Op
	consecutiveFail int
	natsPublish     func(subject string, data []byte) error

	// flushMu keeps flushes from overlapping so a re-queued batch stays ahead
	// of later ops.
	flushMu sync.Mutex

	done chan struct{}
}

type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	BufferMax      int
}

func New(s store.DataStore, m *metrics.Metrics, cfg Config, procs ...BatchProcessor) *Batcher {
	if m == nil {
		m = metrics.New()
	}
	return &Batcher{
		store:          s,
		procs:          procs,
		metrics:        m,
		flushInterval:  cfg.FlushInterval,
		flushThreshold: cfg.FlushThreshold,
		bufferMax:      cfg.BufferMax,
		buffer:         make([]store.Op, 0, cfg.FlushThreshold),
		done:           make(chan struct{}),
	}
}

// SetNATSPublisher sets the function used to publish system alerts.
func (b *Batcher) SetNATSPublisher(fn func(subject string, data []byte) error) {
	b.natsPublish = fn
}

// Enqueue adds a store op for batched writing. It satisfies the session
// aggregator's persister.
func (b *Batcher) Enqueue(op store.Op) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer = append(b.buffer, op)
	if len(b.buffer) > b.bufferMax {
		b.relieve()
	}
	b.metrics.PersistQueueSize.Set(float64(len(b.buffer)))

	if len(b.buffer) >= b.flushThreshold {
		go b.flush()
	}
}

// Start begins the periodic flush ticker.
func (b *Batcher) Start(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush()
			case <-ctx.Done():
				// Final flush on shutdown.
				b.flush()
				close(b.done)
				return
			}
		}
	}()
}

// Wait blocks until the batcher has completed its final flush.
func (b *Batcher) Wait() {
	<-b.done
}

// Flush writes everything queued so far. It is used before reads that must
// observe all prior writes.
func (b *Batcher) Flush() {
	b.flush()
}

// BufferLen returns the current buffer size (for health checks).
func (b *Batcher) BufferLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Batcher) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = make([]store.Op, 0, b.flushThreshold)
	b.metrics.PersistQueueSize.Set(0)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Debug("batcher: flushing", "count", len(batch))

	if err := b.store.Apply(ctx, batch); err != nil {
		slog.Error("batcher: failed to apply store ops", "error", err, "count", len(batch))
		b.metrics.PersistFailures.Inc()
		b.handleWriteFailure(batch)
		return
	}

	b.mu.Lock()
	b.consecutiveFail = 0
	b.mu.Unlock()

	for _, op := range batch {
		// A compacted reset can carry messages too.
		if len(op.Messages) == 0 {
			continue
		}
		for _, p := range b.procs {
			p.Process(ctx, op.ContextID, op.Messages)
		}
	}

	slog.Debug("batcher: flushed", "count", len(batch))
}

func (b *Batcher) handleWriteFailure(batch []store.Op) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail++

	// Re-queue the failed batch ahead of anything added since.
	b.buffer = append(batch, b.buffer...)

	if len(b.buffer) > b.bufferMax {
		b.relieve()
	}
	b.metrics.PersistQueueSize.Set(float64(len(b.buffer)))

	if b.consecutiveFail >= 3 {
		slog.Error("batcher: 3 consecutive write failures", "buffer_size", len(b.buffer))
		b.publishAlert(AlertWriteFailure, []byte(`{"message":"3 consecutive store write failures"}`))
	}
}

// relieve brings the buffer back under bufferMax. It compacts first, then
// drops the oldest append ops. Resets and deletes are never dropped, so the
// buffer may stay over the limit when it holds nothing else.
// Must be called with mu held.
func (b *Batcher) relieve() {
	before := len(b.buffer)
	b.buffer = compact(b.buffer)

	droppedOps, droppedMsgs := 0, 0
	for len(b.buffer) > b.bufferMax {
		var n int
		var ok bool
		b.buffer, n, ok = dropOldestAppend(b.buffer)
		if !ok {
			break
		}
		droppedOps++
		droppedMsgs += n
	}

	slog.Warn("batcher: buffer overflow",
		"before", before,
		"after", len(b.buffer),
		"dropped_ops", droppedOps,
		"dropped_messages", droppedMsgs,
		"buffer_max", b.bufferMax,
	)
	b.publishAlert(AlertBufferOverflow, []byte(fmt.Sprintf(`{"message":"buffer overflow, store ops compacted","dropped_messages":%d}`, droppedMsgs)))
}

func (b *Batcher) publishAlert(subject string, data []byte) {
	if b.natsPublish != nil {
		if err := b.natsPublish(subject, data); err != nil {
			slog.Error("batcher: failed to publish alert", "subject", subject, "error", err)
		}
	}
}
