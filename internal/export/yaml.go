package export

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/svdb-hotmail/domscribr/internal/session"
)

// YAMLExporter writes the full snapshot as YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(snap session.Snapshot, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(snap)
}

func (e *YAMLExporter) Extension() string   { return "yaml" }
func (e *YAMLExporter) ContentType() string { return "application/yaml" }
