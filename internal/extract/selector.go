package extract

import (
	"strings"

	"github.com/svdb-hotmail/domscribr/internal/dom"
)

type query struct {
	name  string
	match func(dom.Node) bool
}

func attrQuery(attr string) query {
	return query{name: "[" + attr + "]", match: func(n dom.Node) bool { return dom.HasAttr(n, attr) }}
}

func tagQuery(tag string) query {
	upper := strings.ToUpper(tag)
	return query{name: tag, match: func(n dom.Node) bool { return n.TagName() == upper }}
}

func classQuery(class string) query {
	return query{name: "." + class, match: func(n dom.Node) bool { return dom.HasClass(n, class) }}
}

// candidateQueries is the fixed battery run over every harvested subtree.
// Order matters: it is the first-seen order of the merged result.
var candidateQueries = []query{
	attrQuery("data-message-author-role"),
	attrQuery("data-message-id"),
	{name: `[data-testid*="message" i]`, match: func(n dom.Node) bool {
		v, ok := n.Attr("data-testid")
		return ok && strings.Contains(strings.ToLower(v), "message")
	}},
	tagQuery("cib-chat-turn"),
	tagQuery("cib-message"),
	tagQuery("article"),
	classQuery("chat-message"),
	classQuery("message"),
	classQuery("conversation-turn"),
	classQuery("response"),
	classQuery("prompt"),
}

// CollectCandidates returns the message elements at or below root,
// de-duplicated by node identity in first-seen order.
func CollectCandidates(root dom.Node) []dom.Node {
	if root == nil {
		return nil
	}

	var matches []dom.Node
	kind := root.Kind()
	if kind == dom.ElementNode && IsMessageElement(root) {
		matches = append(matches, root)
	}

	if kind == dom.ElementNode || kind == dom.DocumentNode {
		descendants := dom.Descendants(root)
		for _, q := range candidateQueries {
			for _, n := range descendants {
				if q.match(n) && IsMessageElement(n) {
					matches = append(matches, n)
				}
			}
		}
	}

	return uniqueNodes(matches)
}

func uniqueNodes(nodes []dom.Node) []dom.Node {
	seen := make(map[dom.Node]struct{}, len(nodes))
	out := make([]dom.Node, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
