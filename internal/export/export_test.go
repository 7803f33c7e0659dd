package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/session"
)

func testSnapshot() session.Snapshot {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	last := t0.Add(time.Second)
	src := events.SourceContext{URL: "https://chat.example/c/1", Title: "Chat"}
	return session.Snapshot{
		ContextID:      "tab-1",
		Recording:      true,
		LastCapturedAt: &last,
		MessageCount:   2,
		Messages: []events.MessageRecord{
			{ID: "hash:-feeb154:2:DIV", Sequence: 1, Role: events.RoleUser, Text: "Hi", RawContent: "Hi", CapturedAt: t0, Source: src},
			{ID: "hash:-38d01f2c:5:DIV", Sequence: 2, Role: events.RoleAssistant, Text: "Hello **there**",
				RawContent: `<p onclick="x()">Hello <b>there</b></p><script>alert(1)</script>`, CapturedAt: last, Source: src},
		},
	}
}

func render(t *testing.T, format string) string {
	t.Helper()
	e, err := NewExporter(format)
	if err != nil {
		t.Fatalf("NewExporter(%q): %v", format, err)
	}
	var buf bytes.Buffer
	if err := e.Export(testSnapshot(), &buf); err != nil {
		t.Fatalf("export %s: %v", format, err)
	}
	return buf.String()
}

func TestNewExporter(t *testing.T) {
	tests := map[string]string{
		"":         "json",
		"json":     "json",
		"JSONL":    "jsonl",
		"yml":      "yaml",
		"markdown": "md",
		"txt":      "txt",
		"html":     "html",
	}
	for format, ext := range tests {
		e, err := NewExporter(format)
		if err != nil {
			t.Errorf("NewExporter(%q): %v", format, err)
			continue
		}
		if e.Extension() != ext {
			t.Errorf("NewExporter(%q) extension = %q, want %q", format, e.Extension(), ext)
		}
	}

	if _, err := NewExporter("pdf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestJSON_RoundTripsPayload(t *testing.T) {
	var got map[string]any
	if err := json.Unmarshal([]byte(render(t, "json")), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["messageCount"] != float64(2) || got["recording"] != true || got["contextId"] != "tab-1" {
		t.Errorf("unexpected payload header %v", got)
	}
	msgs := got["messages"].([]any)
	first := msgs[0].(map[string]any)
	if first["id"] != "hash:-feeb154:2:DIV" || first["rawContent"] != "Hi" {
		t.Errorf("unexpected first message %v", first)
	}
	if first["sourceContext"].(map[string]any)["url"] != "https://chat.example/c/1" {
		t.Errorf("unexpected source context %v", first["sourceContext"])
	}
}

func TestJSONL_OneRecordPerLine(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(render(t, "jsonl")), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var m events.MessageRecord
	if err := json.Unmarshal([]byte(lines[1]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Sequence != 2 || m.Role != events.RoleAssistant {
		t.Errorf("unexpected record %+v", m)
	}
}

func TestYAML_UsesCamelCaseKeys(t *testing.T) {
	out := render(t, "yaml")
	for _, key := range []string{"contextId: tab-1", "messageCount: 2", "rawContent:", "sourceContext:", "capturedAt:"} {
		if !strings.Contains(out, key) {
			t.Errorf("expected %q in yaml output:\n%s", key, out)
		}
	}
	var back map[string]any
	if err := yaml.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("yaml does not parse: %v", err)
	}
}

func TestMarkdown(t *testing.T) {
	out := render(t, "md")
	if !strings.HasPrefix(out, "# Session tab-1\n") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, "**Messages:** 2") {
		t.Error("expected message count")
	}
	if !strings.Contains(out, "**user** #1 (2024-05-01T12:00:00Z)\n\nHi") {
		t.Errorf("unexpected user entry:\n%s", out)
	}
	if !strings.Contains(out, `Hello \*\*there\*\*`) {
		t.Errorf("expected escaped emphasis:\n%s", out)
	}
}

func TestEscapeMarkdown_KeepsCodeBlocks(t *testing.T) {
	in := "a **b**\n```\nx **y**\n```"
	want := "a \\*\\*b\\*\\*\n```\nx **y**\n```"
	if got := escapeMarkdown(in); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestText_Transcript(t *testing.T) {
	if got := render(t, "txt"); got != "[user]: Hi\n[assistant]: Hello **there**\n" {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestHTML_Sanitizes(t *testing.T) {
	out := render(t, "html")
	if strings.Contains(out, "<script>") || strings.Contains(out, "onclick") {
		t.Errorf("unsanitized markup in output:\n%s", out)
	}
	if !strings.Contains(out, "<b>there</b>") {
		t.Errorf("expected safe markup kept:\n%s", out)
	}
	if !strings.Contains(out, `class="message assistant"`) || !strings.Contains(out, "<title>Chat</title>") {
		t.Errorf("unexpected page structure:\n%s", out)
	}
}

func TestHTML_TextFallbackEscaped(t *testing.T) {
	snap := testSnapshot()
	snap.Messages = []events.MessageRecord{{Sequence: 1, Role: events.RoleUser, Text: "<i>not markup</i>"}}

	var buf bytes.Buffer
	if err := NewHTMLExporter().Export(snap, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "&lt;i&gt;not markup&lt;/i&gt;") {
		t.Errorf("expected escaped text:\n%s", buf.String())
	}
}

func TestFilename(t *testing.T) {
	e, _ := NewExporter("md")
	if got := Filename(testSnapshot(), e); got != "domscribr-tab-1.md" {
		t.Errorf("unexpected filename %q", got)
	}
}
