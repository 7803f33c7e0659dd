package batcher

import (
	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/store"
)

// compact folds the ops queued for each context into a single op with the
// same net effect, keeping the position of the context's first op. Ops for
// different contexts touch disjoint rows, so their relative order is free.
func compact(ops []store.Op) []store.Op {
	out := make([]store.Op, 0, len(ops))
	at := make(map[string]int, len(ops))
	for _, op := range ops {
		i, ok := at[op.ContextID]
		if !ok {
			at[op.ContextID] = len(out)
			out = append(out, cloneOp(op))
			continue
		}
		out[i] = merge(out[i], op)
	}
	return out
}

// merge returns the op equivalent to applying prev then next.
func merge(prev, next store.Op) store.Op {
	switch next.Kind {
	case store.OpDelete, store.OpReset:
		// Both discard everything the session held before.
		return cloneOp(next)
	}

	if prev.Kind == store.OpDelete {
		// The session is recreated from nothing.
		prev = store.Op{Kind: store.OpReset, ContextID: prev.ContextID}
	}
	if prev.Kind == store.OpUpdate && next.Kind == store.OpAppend {
		prev.Kind = store.OpAppend
	}
	prev.Recording = next.Recording
	prev.LastCapturedAt = next.LastCapturedAt
	prev.Messages = append(prev.Messages, next.Messages...)
	return prev
}

func cloneOp(op store.Op) store.Op {
	op.Messages = append([]events.MessageRecord(nil), op.Messages...)
	return op
}

// dropOldestAppend removes the first append op, the only kind whose loss
// leaves the remaining ops consistent. It reports false when there is none.
func dropOldestAppend(ops []store.Op) ([]store.Op, int, bool) {
	for i, op := range ops {
		if op.Kind == store.OpAppend {
			return append(ops[:i:i], ops[i+1:]...), len(op.Messages), true
		}
	}
	return ops, 0, false
}
