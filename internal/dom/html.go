package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlNode adapts *html.Node to Node. It is a value type so that two wrappers
// of the same node compare equal.
type htmlNode struct {
	n *html.Node
}

// Wrap returns the Node view of an x/net/html node, nil for nil.
func Wrap(n *html.Node) Node {
	if n == nil {
		return nil
	}
	return htmlNode{n: n}
}

// Unwrap returns the underlying x/net/html node of a Node produced by this package.
func Unwrap(n Node) (*html.Node, bool) {
	h, ok := n.(htmlNode)
	if !ok || h.n == nil {
		return nil, false
	}
	return h.n, true
}

// Parse parses a full HTML document.
func Parse(r io.Reader) (Node, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return Wrap(root), nil
}

// ParseString parses a full HTML document from a string.
func ParseString(src string) (Node, error) {
	return Parse(strings.NewReader(src))
}

// ParseFragment parses src as children of a <body> and returns the
// top-level nodes. The nodes are detached.
func ParseFragment(src string) ([]Node, error) {
	return parseFragmentIn(src, &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
}

func parseFragmentIn(src string, context *html.Node) ([]Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(src), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Wrap(n))
	}
	return out, nil
}

func (h htmlNode) Kind() Kind {
	switch h.n.Type {
	case html.ElementNode:
		return ElementNode
	case html.TextNode:
		return TextNode
	case html.DocumentNode:
		return DocumentNode
	default:
		return OtherNode
	}
}

func (h htmlNode) TagName() string {
	if h.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToUpper(h.n.Data)
}

func (h htmlNode) Attr(name string) (string, bool) {
	if h.n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range h.n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func (h htmlNode) ClassName() string {
	v, _ := h.Attr("class")
	return v
}

func (h htmlNode) Children() []Node {
	var out []Node
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, htmlNode{n: c})
		}
	}
	return out
}

func (h htmlNode) Parent() Node {
	return Wrap(h.n.Parent)
}

func (h htmlNode) InnerText() string {
	if h.n.Type == html.TextNode {
		return h.n.Data
	}
	var sb strings.Builder
	writeText(&sb, h.n)
	return sb.String()
}

func (h htmlNode) InnerHTML() string {
	var buf bytes.Buffer
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return buf.String()
		}
	}
	return buf.String()
}

// skipText lists elements whose content is never rendered as text.
var skipText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Template: true,
	atom.Noscript: true,
	atom.Head:     true,
}

// blockText lists elements that start on their own line when rendered.
var blockText = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Fieldset: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Ul: true,
}

// writeText approximates innerText: text content with line breaks around
// block elements and <br>, skipping non-rendered elements.
func writeText(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			if skipText[c.DataAtom] {
				continue
			}
			if c.DataAtom == atom.Br {
				sb.WriteByte('\n')
				continue
			}
			block := blockText[c.DataAtom]
			if block {
				sb.WriteByte('\n')
			}
			writeText(sb, c)
			if block {
				sb.WriteByte('\n')
			}
		}
	}
}
