package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/batcher"
	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/metrics"
	"github.com/svdb-hotmail/domscribr/internal/store"
	"github.com/svdb-hotmail/domscribr/internal/testutil"
)

type opRecorder struct {
	mu  sync.Mutex
	ops []store.Op
}

func (r *opRecorder) Enqueue(op store.Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *opRecorder) kinds() []store.OpKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.OpKind, len(r.ops))
	for i, op := range r.ops {
		out[i] = op.Kind
	}
	return out
}

func msg(id string, seq int, role events.Role, text string, at time.Time) events.MessageRecord {
	return events.MessageRecord{ID: id, Sequence: seq, Role: role, Text: text, CapturedAt: at}
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestAggregator_EndToEnd(t *testing.T) {
	ctx := context.Background()
	rec := &opRecorder{}
	a := New(testutil.NewMockStore(), rec)

	if err := a.Start(ctx, "tab-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Append(ctx, "tab-1", []events.MessageRecord{msg("hash:-feeb154:2:DIV", 1, events.RoleUser, "Hi", t0)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Append(ctx, "tab-1", []events.MessageRecord{msg("hash:-38d01f2c:5:DIV", 2, events.RoleAssistant, "Hello", t0.Add(time.Second))}); err != nil {
		t.Fatalf("append: %v", err)
	}

	st, err := a.Status(ctx, "tab-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Recording || st.MessageCount != 2 {
		t.Errorf("unexpected status %+v", st)
	}
	if st.LastCapturedAt == nil || !st.LastCapturedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("unexpected lastCapturedAt %v", st.LastCapturedAt)
	}

	kinds := rec.kinds()
	want := []store.OpKind{store.OpReset, store.OpAppend, store.OpAppend}
	if len(kinds) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("op %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestAggregator_StartResetsStopKeeps(t *testing.T) {
	ctx := context.Background()
	a := New(nil, nil)

	_ = a.Start(ctx, "tab-1")
	_ = a.Append(ctx, "tab-1", []events.MessageRecord{msg("id:1", 1, events.RoleUser, "a", t0)})
	_ = a.Stop(ctx, "tab-1")

	st, _ := a.Status(ctx, "tab-1")
	if st.Recording || st.MessageCount != 1 || st.LastCapturedAt == nil {
		t.Errorf("stop must keep the log: %+v", st)
	}

	_ = a.Resume(ctx, "tab-1")
	st, _ = a.Status(ctx, "tab-1")
	if !st.Recording || st.MessageCount != 1 {
		t.Errorf("resume must keep the log: %+v", st)
	}

	_ = a.Start(ctx, "tab-1")
	st, _ = a.Status(ctx, "tab-1")
	if !st.Recording || st.MessageCount != 0 || st.LastCapturedAt != nil {
		t.Errorf("start must reset the log: %+v", st)
	}
}

func TestAggregator_AppendDoesNotDedup(t *testing.T) {
	ctx := context.Background()
	a := New(nil, nil)

	m := msg("id:1", 1, events.RoleUser, "a", t0)
	_ = a.Append(ctx, "tab-1", []events.MessageRecord{m})
	_ = a.Append(ctx, "tab-1", []events.MessageRecord{m})

	snap, err := a.Snapshot(ctx, "tab-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.MessageCount != 2 || len(snap.Messages) != 2 {
		t.Errorf("expected both copies kept, got %d", snap.MessageCount)
	}
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	a := New(nil, nil)

	batch := []events.MessageRecord{msg("id:1", 1, events.RoleUser, "a", t0)}
	_ = a.Append(ctx, "tab-1", batch)
	batch[0].Text = "mutated by producer"

	snap, _ := a.Snapshot(ctx, "tab-1")
	if snap.Messages[0].Text != "a" {
		t.Errorf("append must copy the batch, got %q", snap.Messages[0].Text)
	}

	snap.Messages[0].Text = "mutated by reader"
	again, _ := a.Snapshot(ctx, "tab-1")
	if again.Messages[0].Text != "a" {
		t.Errorf("snapshot must be a copy, got %q", again.Messages[0].Text)
	}
}

func TestAggregator_NewContextIsIdle(t *testing.T) {
	a := New(nil, nil)
	snap, err := a.Snapshot(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Recording || snap.MessageCount != 0 || snap.LastCapturedAt != nil || snap.Messages == nil {
		t.Errorf("unexpected fresh snapshot %+v", snap)
	}
}

func TestAggregator_MissingContext(t *testing.T) {
	ctx := context.Background()
	a := New(nil, nil)

	for _, id := range []string{"", "a.b", "a b", "*"} {
		if err := a.Start(ctx, id); !errors.Is(err, ErrMissingContext) {
			t.Errorf("Start(%q): expected ErrMissingContext, got %v", id, err)
		}
		if err := a.Append(ctx, id, nil); !errors.Is(err, ErrMissingContext) {
			t.Errorf("Append(%q): expected ErrMissingContext, got %v", id, err)
		}
		if _, err := a.Status(ctx, id); !errors.Is(err, ErrMissingContext) {
			t.Errorf("Status(%q): expected ErrMissingContext, got %v", id, err)
		}
		if _, err := a.Close(ctx, id); !errors.Is(err, ErrMissingContext) {
			t.Errorf("Close(%q): expected ErrMissingContext, got %v", id, err)
		}
	}
}

func TestAggregator_LazyLoadOnce(t *testing.T) {
	ctx := context.Background()
	ms := testutil.NewMockStore()
	last := t0
	ms.Seed(store.SessionData{
		ContextID:      "tab-1",
		Recording:      true,
		LastCapturedAt: &last,
		Messages:       []events.MessageRecord{msg("id:1", 1, events.RoleUser, "a", t0)},
	})

	a := New(ms, nil)
	if ms.LoadCalls != 0 {
		t.Fatal("store must not be read before first access")
	}

	rec, err := a.Recording(ctx, "tab-1")
	if err != nil {
		t.Fatalf("recording: %v", err)
	}
	if !rec {
		t.Error("expected persisted recording flag")
	}
	_ = a.Append(ctx, "tab-1", []events.MessageRecord{msg("id:2", 2, events.RoleAssistant, "b", t0)})
	st, _ := a.Status(ctx, "tab-1")
	if st.MessageCount != 2 {
		t.Errorf("expected persisted + appended messages, got %d", st.MessageCount)
	}
	if ms.LoadCalls != 1 {
		t.Errorf("expected exactly one load, got %d", ms.LoadCalls)
	}
}

func TestAggregator_LoadFailureRetried(t *testing.T) {
	ctx := context.Background()
	ms := testutil.NewMockStore()
	ms.LoadErr = errors.New("db down")
	a := New(ms, nil)

	if _, err := a.Status(ctx, "tab-1"); err == nil {
		t.Fatal("expected load error")
	}
	ms.LoadErr = nil
	if _, err := a.Status(ctx, "tab-1"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if ms.LoadCalls != 2 {
		t.Errorf("expected 2 load attempts, got %d", ms.LoadCalls)
	}
}

func TestAggregator_Close(t *testing.T) {
	ctx := context.Background()
	rec := &opRecorder{}
	a := New(nil, rec)

	_ = a.Start(ctx, "tab-1")
	existed, err := a.Close(ctx, "tab-1")
	if err != nil || !existed {
		t.Fatalf("expected close of existing session, got %v %v", existed, err)
	}
	existed, _ = a.Close(ctx, "tab-1")
	if existed {
		t.Error("second close must report no session")
	}

	ids, _ := a.ContextIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("expected no sessions, got %v", ids)
	}
	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[1] != store.OpDelete {
		t.Errorf("expected reset then delete, got %v", kinds)
	}
}

func TestAggregator_CloseBeforeLoadDeletesPersisted(t *testing.T) {
	ctx := context.Background()
	ms := testutil.NewMockStore()
	ms.Seed(store.SessionData{ContextID: "tab-1", Recording: true})

	b := batcher.New(ms, metrics.New(), batcher.Config{FlushInterval: time.Hour, FlushThreshold: 100, BufferMax: 100})
	a := New(ms, b)

	existed, err := a.Close(ctx, "tab-1")
	if err != nil || !existed {
		t.Fatalf("expected persisted session to be closed, got %v %v", existed, err)
	}
	b.Flush()
	if ms.GetSession("tab-1") != nil {
		t.Error("expected persisted session deleted")
	}
}

func TestAggregator_PersistsThroughBatcher(t *testing.T) {
	ctx := context.Background()
	ms := testutil.NewMockStore()
	b := batcher.New(ms, metrics.New(), batcher.Config{FlushInterval: time.Hour, FlushThreshold: 100, BufferMax: 100})
	a := New(ms, b)

	_ = a.Start(ctx, "tab-1")
	_ = a.Append(ctx, "tab-1", []events.MessageRecord{msg("id:1", 1, events.RoleUser, "Hi", t0)})
	_ = a.Stop(ctx, "tab-1")
	b.Flush()

	// A new process sees the same state.
	fresh := New(ms, nil)
	snap, err := fresh.Snapshot(ctx, "tab-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Recording || snap.MessageCount != 1 || snap.Messages[0].Text != "Hi" {
		t.Errorf("unexpected reloaded snapshot %+v", snap)
	}
	if snap.LastCapturedAt == nil || !snap.LastCapturedAt.Equal(t0) {
		t.Errorf("unexpected reloaded lastCapturedAt %v", snap.LastCapturedAt)
	}
}
