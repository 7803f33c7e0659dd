// Package export renders a session snapshot in the supported download
// formats.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/svdb-hotmail/domscribr/internal/session"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

// Exporter writes one session in one format.
type Exporter interface {
	Export(snap session.Snapshot, w io.Writer) error
	Extension() string
	ContentType() string
}

// Formats lists the accepted format names.
var Formats = []string{"json", "jsonl", "yaml", "md", "txt", "html"}

// NewExporter creates a new exporter based on format. An empty format is json.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return &JSONExporter{}, nil
	case "jsonl":
		return &JSONLExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "txt", "text":
		return &TextExporter{}, nil
	case "html":
		return NewHTMLExporter(), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedFormat, format, strings.Join(Formats, ", "))
	}
}

// Filename suggests a download name for snap.
func Filename(snap session.Snapshot, e Exporter) string {
	return fmt.Sprintf("domscribr-%s.%s", snap.ContextID, e.Extension())
}
