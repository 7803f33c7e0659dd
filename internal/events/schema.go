package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the speaker category assigned to a captured message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SourceContext is a snapshot of the document location at capture time.
type SourceContext struct {
	URL   string `json:"url" yaml:"url"`
	Title string `json:"title" yaml:"title"`
}

// MessageRecord is one captured chat message.
type MessageRecord struct {
	ID         string        `json:"id" yaml:"id"`
	Sequence   int           `json:"sequence" yaml:"sequence"`
	Role       Role          `json:"role" yaml:"role"`
	Text       string        `json:"text" yaml:"text"`
	RawContent string        `json:"rawContent" yaml:"rawContent"`
	CapturedAt time.Time     `json:"capturedAt" yaml:"capturedAt"`
	Source     SourceContext `json:"sourceContext" yaml:"sourceContext"`
}

// Batch is the payload of a messages delivery from a document context.
type Batch struct {
	BatchID   string          `json:"batchId"`
	ContextID string          `json:"contextId"`
	Messages  []MessageRecord `json:"messages"`
}

// Command types sent to a document context.
const (
	CommandStart  = "start"
	CommandStop   = "stop"
	CommandResume = "resume"
)

// Command is a start/stop instruction for a document context.
type Command struct {
	Type string `json:"type"`
}

// ReadyRequest is sent by a document context when it comes up.
type ReadyRequest struct {
	ContextID string `json:"contextId"`
}

// ReadyResponse tells a document context whether it should self-start.
type ReadyResponse struct {
	OK        bool `json:"ok"`
	Recording bool `json:"recording"`
}

// Result is the generic acknowledgement envelope.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Mutation is published by an in-page bridge for a document context.
// Either HTML (appended under ParentID, or the body when empty) or
// TextOf/Text (replace the text of an element) is set.
type Mutation struct {
	HTML     string  `json:"html,omitempty"`
	ParentID string  `json:"parentId,omitempty"`
	TextOf   string  `json:"textOf,omitempty"`
	Text     *string `json:"text,omitempty"`
}

var (
	ErrEmptyBatch       = errors.New("batch has no messages")
	ErrInvalidContextID = errors.New("invalid context id")
)

// NewBatch wraps records for delivery, assigning a fresh batch id.
func NewBatch(contextID string, msgs []MessageRecord) Batch {
	return Batch{
		BatchID:   uuid.New().String(),
		ContextID: contextID,
		Messages:  msgs,
	}
}

// NormalizeBatch decodes an inbound batch and fills in missing fields.
// fallbackContext is used when the payload does not name its context
// (it is taken from the subject by the caller).
func NormalizeBatch(raw []byte, fallbackContext string) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}

	if b.BatchID == "" {
		b.BatchID = uuid.New().String()
	}
	if b.ContextID == "" {
		b.ContextID = fallbackContext
	}
	if len(b.Messages) == 0 {
		return b, ErrEmptyBatch
	}

	for i := range b.Messages {
		if b.Messages[i].CapturedAt.IsZero() {
			slog.Warn("record missing capturedAt, using ingestion time",
				"batch_id", b.BatchID,
				"record_id", b.Messages[i].ID,
			)
			b.Messages[i].CapturedAt = time.Now().UTC()
		}
		if b.Messages[i].Role == "" {
			b.Messages[i].Role = RoleAssistant
		}
	}

	return b, nil
}

// ValidContextID reports whether id can be used as a single NATS subject token.
func ValidContextID(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, ".*> \t\r\n")
}

// Subjects builds the NATS subjects for one subject prefix.
type Subjects struct {
	Prefix string
}

func (s Subjects) Messages(contextID string) string   { return s.Prefix + "." + contextID + ".messages" }
func (s Subjects) Command(contextID string) string    { return s.Prefix + "." + contextID + ".command" }
func (s Subjects) Mutations(contextID string) string  { return s.Prefix + "." + contextID + ".mutations" }
func (s Subjects) Transcript(contextID string) string { return s.Prefix + "." + contextID + ".transcript" }
func (s Subjects) Ready() string                      { return s.Prefix + ".ready" }

// System is the subject of an operational alert such as "system.write_failure".
func (s Subjects) System(name string) string { return s.Prefix + "." + name }

// AllMessages matches the messages subject of every context.
func (s Subjects) AllMessages() string { return s.Prefix + ".*.messages" }

// ContextFromSubject extracts the context token from "<prefix>.<ctx>.<kind>".
func (s Subjects) ContextFromSubject(subject string) string {
	rest, ok := strings.CutPrefix(subject, s.Prefix+".")
	if !ok {
		return ""
	}
	ctx, _, ok := strings.Cut(rest, ".")
	if !ok {
		return ""
	}
	return ctx
}
