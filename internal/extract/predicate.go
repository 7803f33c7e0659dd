// Package extract turns document nodes into deduplicated message records:
// candidate selection, role classification, fingerprinting and the harvest
// pass that ties them together.
package extract

import (
	"slices"
	"strings"

	"github.com/svdb-hotmail/domscribr/internal/dom"
)

// IgnoreAttr excludes an element and its whole subtree from capture.
const IgnoreAttr = "data-dom-scribr-ignore"

var (
	structuralRoles   = []string{"article", "listitem", "group"}
	chatClassKeywords = []string{"message", "assistant", "user", "conversation-turn", "chat-item"}
)

// IsMessageElement decides whether n is admitted as a message element.
// It is the single source of truth for admission; selector queries only
// enumerate candidates.
func IsMessageElement(n dom.Node) bool {
	if n == nil || n.Kind() != dom.ElementNode {
		return false
	}
	if dom.Closest(n, IgnoreAttr) != nil {
		return false
	}
	if dom.HasAttr(n, "data-message-id") || dom.HasAttr(n, "data-message-author-role") {
		return true
	}
	if role := dom.GetAttr(n, "role"); role != "" && slices.Contains(structuralRoles, strings.ToLower(role)) {
		return true
	}
	if containsAny(strings.ToLower(n.ClassName()), chatClassKeywords...) {
		return true
	}
	return n.TagName() == "ARTICLE"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
