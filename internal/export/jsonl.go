package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/svdb-hotmail/domscribr/internal/session"
)

// JSONLExporter writes one message record per line.
type JSONLExporter struct{}

func (e *JSONLExporter) Export(snap session.Snapshot, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, m := range snap.Messages {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
	}
	return nil
}

func (e *JSONLExporter) Extension() string   { return "jsonl" }
func (e *JSONLExporter) ContentType() string { return "application/x-ndjson" }
