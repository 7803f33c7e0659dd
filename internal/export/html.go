package export

import (
	"fmt"
	"html/template"
	"io"

	"github.com/microcosm-cc/bluemonday"

	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/session"
)

var pageTmpl = template.Must(template.New("session").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{- if .SourceURL}}
<p class="source"><a href="{{.SourceURL}}">{{.SourceURL}}</a></p>
{{- end}}
{{- range .Messages}}
<section class="message {{.Role}}" data-sequence="{{.Sequence}}">
<header>{{.Role}} <time datetime="{{.CapturedAt}}">{{.CapturedAt}}</time></header>
<div class="content">{{.Body}}</div>
</section>
{{- end}}
</body></html>
`))

type htmlMessage struct {
	Role       events.Role
	Sequence   int
	CapturedAt string
	Body       template.HTML
}

// HTMLExporter writes a standalone page. Captured markup is sanitized
// before it is embedded; records without markup fall back to their text.
type HTMLExporter struct {
	policy *bluemonday.Policy
}

func NewHTMLExporter() *HTMLExporter {
	return &HTMLExporter{policy: bluemonday.UGCPolicy()}
}

func (e *HTMLExporter) Export(snap session.Snapshot, w io.Writer) error {
	data := struct {
		Title     string
		SourceURL string
		Messages  []htmlMessage
	}{Title: "Session " + snap.ContextID}

	if n := len(snap.Messages); n > 0 {
		src := snap.Messages[n-1].Source
		if src.Title != "" {
			data.Title = src.Title
		}
		data.SourceURL = src.URL
	}

	for _, m := range snap.Messages {
		body := template.HTML(e.policy.Sanitize(m.RawContent))
		if m.RawContent == "" {
			body = template.HTML(template.HTMLEscapeString(m.Text))
		}
		data.Messages = append(data.Messages, htmlMessage{
			Role:       m.Role,
			Sequence:   m.Sequence,
			CapturedAt: m.CapturedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Body:       body,
		})
	}

	if err := pageTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

func (e *HTMLExporter) Extension() string   { return "html" }
func (e *HTMLExporter) ContentType() string { return "text/html; charset=utf-8" }
