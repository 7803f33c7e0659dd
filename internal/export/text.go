package export

import (
	"io"

	"github.com/svdb-hotmail/domscribr/internal/session"
	"github.com/svdb-hotmail/domscribr/internal/transcript"
)

// TextExporter writes the plain "[role]: text" transcript.
type TextExporter struct{}

func (e *TextExporter) Export(snap session.Snapshot, w io.Writer) error {
	_, err := io.WriteString(w, transcript.Text(snap.Messages))
	return err
}

func (e *TextExporter) Extension() string   { return "txt" }
func (e *TextExporter) ContentType() string { return "text/plain; charset=utf-8" }
