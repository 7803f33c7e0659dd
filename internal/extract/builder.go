package extract

import (
	"strings"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/dom"
	"github.com/svdb-hotmail/domscribr/internal/events"
)

// DedupState is the per-recording memory of emitted fingerprints and the
// last assigned sequence number. It is not safe for concurrent use; the
// harvester serializes access.
type DedupState struct {
	seen     map[string]struct{}
	sequence int
}

func NewDedupState() *DedupState {
	return &DedupState{seen: make(map[string]struct{})}
}

// Reset forgets every fingerprint and restarts numbering at 1.
func (s *DedupState) Reset() {
	clear(s.seen)
	s.sequence = 0
}

// Seen reports whether a fingerprint was already emitted.
func (s *DedupState) Seen(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// Len is the number of remembered fingerprints.
func (s *DedupState) Len() int { return len(s.seen) }

// Sequence is the last assigned sequence number, 0 before the first record.
func (s *DedupState) Sequence() int { return s.sequence }

func (s *DedupState) admit(id string) int {
	s.seen[id] = struct{}{}
	s.sequence++
	return s.sequence
}

// Env supplies the capture-time inputs of a record.
type Env struct {
	Now      func() time.Time
	Location func() events.SourceContext
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

func (e Env) location() events.SourceContext {
	if e.Location == nil {
		return events.SourceContext{}
	}
	return e.Location()
}

// Outcome says what BuildMessage did with a candidate.
type Outcome int

const (
	Built Outcome = iota
	Empty
	Duplicate
)

// NormalizeText collapses whitespace runs to a single space and trims.
func NormalizeText(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// BuildMessage turns a candidate into a record. Empty candidates and
// already-seen fingerprints are skipped without touching state; a built
// record is admitted to state and takes the next sequence number.
func BuildMessage(n dom.Node, state *DedupState, env Env) (events.MessageRecord, Outcome) {
	text := NormalizeText(n.InnerText())
	raw := strings.TrimSpace(n.InnerHTML())
	if text == "" && raw == "" {
		return events.MessageRecord{}, Empty
	}

	basis := text
	if basis == "" {
		basis = raw
	}
	id := Fingerprint(n, basis)
	if state.Seen(id) {
		return events.MessageRecord{}, Duplicate
	}

	return events.MessageRecord{
		ID:         id,
		Sequence:   state.admit(id),
		Role:       InferRole(n),
		Text:       text,
		RawContent: raw,
		CapturedAt: env.now(),
		Source:     env.location(),
	}, Built
}
