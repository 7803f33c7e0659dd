package dom

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/svdb-hotmail/domscribr/internal/events"
)

// MutationType distinguishes structural changes from text edits.
type MutationType int

const (
	ChildList MutationType = iota
	CharacterData
)

// Mutation describes one change to the document.
type Mutation struct {
	Type MutationType
	// Target is the parent for ChildList and the text node for CharacterData.
	Target  Node
	Added   []Node
	Removed []Node
}

// SubscriptionID identifies a batch subscriber.
type SubscriptionID uint64

var ErrForeignNode = errors.New("node does not belong to an html document")

// Document is an HTML document that reports its mutations to subscribers.
//
// The tree itself is not locked: mutation and traversal must happen on one
// goroutine, the way a page's main thread owns its DOM. Subscriber
// bookkeeping is safe for concurrent use, and batches are delivered on the
// mutating goroutine after internal locks are released.
type Document struct {
	root *html.Node

	mu      sync.Mutex
	url     string
	subs    map[SubscriptionID]func([]Mutation)
	nextID  SubscriptionID
	depth   int
	pending []Mutation
}

// NewDocument parses an HTML document located at url.
func NewDocument(url string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{
		root: root,
		url:  url,
		subs: make(map[SubscriptionID]func([]Mutation)),
	}, nil
}

// ParseDocument is NewDocument over a string.
func ParseDocument(url, src string) (*Document, error) {
	return NewDocument(url, strings.NewReader(src))
}

// Root returns the document node.
func (d *Document) Root() Node {
	return Wrap(d.root)
}

// Body returns the <body> element, or the root when there is none.
func (d *Document) Body() Node {
	if b := findElement(d.root, func(n *html.Node) bool { return n.DataAtom == atom.Body }); b != nil {
		return Wrap(b)
	}
	return d.Root()
}

// Title returns the trimmed text of the first <title> element.
func (d *Document) Title() string {
	t := findElement(d.root, func(n *html.Node) bool { return n.DataAtom == atom.Title })
	if t == nil {
		return ""
	}
	return strings.TrimSpace(Wrap(t).InnerText())
}

// URL returns the document location.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// SetURL records a navigation that did not reload the document.
func (d *Document) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Location snapshots url and title.
func (d *Document) Location() events.SourceContext {
	return events.SourceContext{URL: d.URL(), Title: d.Title()}
}

// GetElementByID returns the first element whose id attribute equals id, or nil.
func (d *Document) GetElementByID(id string) Node {
	if id == "" {
		return nil
	}
	n := findElement(d.root, func(n *html.Node) bool {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return true
			}
		}
		return false
	})
	return Wrap(n)
}

// Subscribe registers fn to receive mutation batches.
func (d *Document) Subscribe(fn func([]Mutation)) SubscriptionID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subs[d.nextID] = fn
	return d.nextID
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (d *Document) Unsubscribe(id SubscriptionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, id)
}

// Batch runs fn and delivers every mutation it makes as a single batch.
func (d *Document) Batch(fn func()) {
	d.mu.Lock()
	d.depth++
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.depth--
		var batch []Mutation
		if d.depth == 0 {
			batch = d.pending
			d.pending = nil
		}
		d.mu.Unlock()
		d.deliver(batch)
	}()

	fn()
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes to it. It returns the added top-level nodes.
func (d *Document) AppendHTML(parent Node, fragment string) ([]Node, error) {
	p, ok := Unwrap(parent)
	if !ok {
		return nil, ErrForeignNode
	}
	context := p
	if p.Type != html.ElementNode {
		context = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	added := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		p.AppendChild(n)
		added = append(added, Wrap(n))
	}
	d.record(Mutation{Type: ChildList, Target: parent, Added: added})
	return added, nil
}

// SetText replaces the text of el. When el holds a single text node its data
// is edited in place (a character-data change); otherwise the children are
// replaced by one new text node (a child-list change).
func (d *Document) SetText(el Node, text string) error {
	e, ok := Unwrap(el)
	if !ok {
		return ErrForeignNode
	}

	if c := e.FirstChild; c != nil && c == e.LastChild && c.Type == html.TextNode {
		c.Data = text
		d.record(Mutation{Type: CharacterData, Target: Wrap(c)})
		return nil
	}

	var removed []Node
	for c := e.FirstChild; c != nil; {
		next := c.NextSibling
		e.RemoveChild(c)
		removed = append(removed, Wrap(c))
		c = next
	}
	t := &html.Node{Type: html.TextNode, Data: text}
	e.AppendChild(t)
	d.record(Mutation{Type: ChildList, Target: el, Added: []Node{Wrap(t)}, Removed: removed})
	return nil
}

// Remove detaches n from its parent.
func (d *Document) Remove(n Node) error {
	h, ok := Unwrap(n)
	if !ok {
		return ErrForeignNode
	}
	p := h.Parent
	if p == nil {
		return nil
	}
	p.RemoveChild(h)
	d.record(Mutation{Type: ChildList, Target: Wrap(p), Removed: []Node{n}})
	return nil
}

// Replace swaps the whole tree for a freshly parsed one, as a reload does.
// The new document node is reported as added.
func (d *Document) Replace(r io.Reader) error {
	root, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	old := d.root
	d.root = root
	d.record(Mutation{Type: ChildList, Added: []Node{Wrap(root)}, Removed: []Node{Wrap(old)}})
	return nil
}

func (d *Document) record(m Mutation) {
	d.mu.Lock()
	if d.depth > 0 {
		d.pending = append(d.pending, m)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.deliver([]Mutation{m})
}

func (d *Document) deliver(batch []Mutation) {
	if len(batch) == 0 {
		return
	}
	d.mu.Lock()
	ids := make([]SubscriptionID, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func([]Mutation), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.subs[id])
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(batch)
	}
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}
