package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/svdb-hotmail/domscribr/internal/session"
)

// JSONExporter writes the full snapshot as indented JSON.
type JSONExporter struct{}

func (e *JSONExporter) Export(snap session.Snapshot, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

func (e *JSONExporter) Extension() string   { return "json" }
func (e *JSONExporter) ContentType() string { return "application/json" }
