package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/svdb-hotmail/domscribr/internal/session"
)

// MarkdownExporter writes a readable Markdown log.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(snap session.Snapshot, w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Session %s\n\n", snap.ContextID)
	if n := len(snap.Messages); n > 0 {
		src := snap.Messages[n-1].Source
		if src.Title != "" {
			fmt.Fprintf(&sb, "**Title:** %s  \n", src.Title)
		}
		if src.URL != "" {
			fmt.Fprintf(&sb, "**Source:** %s  \n", src.URL)
		}
	}
	fmt.Fprintf(&sb, "**Recording:** %t  \n", snap.Recording)
	fmt.Fprintf(&sb, "**Messages:** %d\n\n", len(snap.Messages))
	sb.WriteString("---\n\n")
	sb.WriteString("## Messages\n\n")

	for i, m := range snap.Messages {
		fmt.Fprintf(&sb, "**%s** #%d (%s)\n\n%s\n\n", m.Role, m.Sequence, m.CapturedAt.UTC().Format(time.RFC3339), escapeMarkdown(m.Text))
		if i < len(snap.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock {
			continue
		}
		line = strings.ReplaceAll(line, "**", "\\*\\*")
		line = strings.ReplaceAll(line, "__", "\\_\\_")
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func (e *MarkdownExporter) Extension() string   { return "md" }
func (e *MarkdownExporter) ContentType() string { return "text/markdown; charset=utf-8" }
