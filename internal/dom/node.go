// Package dom is the document model the extractor works against: a narrow
// Node capability interface, an adapter over golang.org/x/net/html trees,
// and an observable Document that reports mutations in batches.
package dom

import "strings"

// Kind classifies a node.
type Kind int

const (
	OtherNode Kind = iota
	ElementNode
	TextNode
	DocumentNode
)

// Node is the capability set the extractor needs from a document node.
// Implementations must be comparable: two Node values referring to the same
// underlying node compare equal, so nodes can be used as map keys.
type Node interface {
	Kind() Kind
	// TagName is the upper-cased element name, "" for non-elements.
	TagName() string
	Attr(name string) (string, bool)
	// ClassName is the raw class attribute.
	ClassName() string
	// Children returns element children in document order.
	Children() []Node
	// Parent returns the parent node or nil at the top of the tree.
	Parent() Node
	InnerText() string
	InnerHTML() string
}

// GetAttr returns the attribute value or "" when absent.
func GetAttr(n Node, name string) string {
	v, _ := n.Attr(name)
	return v
}

// HasAttr reports whether the attribute is present, even if empty.
func HasAttr(n Node, name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// ClassList splits the class attribute into tokens.
func ClassList(n Node) []string {
	return strings.Fields(n.ClassName())
}

// HasClass reports whether token is one of the node's class tokens.
func HasClass(n Node, token string) bool {
	for _, c := range ClassList(n) {
		if c == token {
			return true
		}
	}
	return false
}

// Closest returns n or its nearest ancestor element carrying attr, or nil.
func Closest(n Node, attr string) Node {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.Kind() == ElementNode && HasAttr(cur, attr) {
			return cur
		}
	}
	return nil
}

// ParentElement returns the nearest element ancestor of n, or nil.
func ParentElement(n Node) Node {
	if n == nil {
		return nil
	}
	p := n.Parent()
	if p == nil || p.Kind() != ElementNode {
		return nil
	}
	return p
}

// Descendants returns every element below root in document order, root excluded.
func Descendants(root Node) []Node {
	var out []Node
	var walk func(Node)
	walk = func(n Node) {
		for _, c := range n.Children() {
			out = append(out, c)
			walk(c)
		}
	}
	walk(root)
	return out
}

// QueryAll returns the descendants of root matching match, in document order.
func QueryAll(root Node, match func(Node) bool) []Node {
	var out []Node
	for _, n := range Descendants(root) {
		if match(n) {
			out = append(out, n)
		}
	}
	return out
}
