package metrics

import (
	"context"
	"log/slog"

	"github.com/svdb-hotmail/domscribr/internal/events"
)

// Processor observes batches as they are appended to a session.
type Processor struct {
	m *Metrics
}

func NewProcessor(m *Metrics) *Processor {
	return &Processor{m: m}
}

// Process counts an appended batch and its records by role.
func (p *Processor) Process(_ context.Context, contextID string, msgs []events.MessageRecord) {
	if len(msgs) == 0 {
		return
	}
	p.m.BatchesAppended.Inc()

	byRole := make(map[events.Role]int, 3)
	for _, m := range msgs {
		byRole[m.Role]++
	}
	for role, n := range byRole {
		p.m.RecordsAppended.WithLabelValues(string(role)).Add(float64(n))
	}

	slog.Debug("metrics: batch appended",
		"context_id", contextID,
		"count", len(msgs),
		"last_sequence", msgs[len(msgs)-1].Sequence,
	)
}
