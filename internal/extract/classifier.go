package extract

import (
	"strings"

	"github.com/svdb-hotmail/domscribr/internal/dom"
	"github.com/svdb-hotmail/domscribr/internal/events"
)

// roleAttrs are the attribute spellings chat UIs use to state the author.
var roleAttrs = []string{
	"data-message-author-role",
	"data-role",
	"data-message-role",
	"data-sender",
}

// InferRole classifies a candidate. Explicit role attributes outrank class
// names, which outrank the accessibility label and the structural role.
func InferRole(n dom.Node) events.Role {
	if direct := firstAttr(n, roleAttrs...); direct != "" {
		v := strings.ToLower(direct)
		switch {
		case containsAny(v, "user", "customer"):
			return events.RoleUser
		case containsAny(v, "assistant", "bot", "ai", "model"):
			return events.RoleAssistant
		case strings.Contains(v, "system"):
			return events.RoleSystem
		}
	}

	class := strings.ToLower(n.ClassName())
	switch {
	case containsAny(class, "assistant", "bot", "model"):
		return events.RoleAssistant
	case containsAny(class, "user", "prompt", "sender-user"):
		return events.RoleUser
	}

	label := strings.ToLower(dom.GetAttr(n, "aria-label"))
	switch {
	case containsAny(label, "assistant", "bot"):
		return events.RoleAssistant
	case strings.Contains(label, "user"):
		return events.RoleUser
	}

	if strings.EqualFold(dom.GetAttr(n, "role"), "status") {
		return events.RoleSystem
	}

	return events.RoleAssistant
}

// firstAttr returns the first non-empty value among attrs.
func firstAttr(n dom.Node, attrs ...string) string {
	for _, a := range attrs {
		if v := dom.GetAttr(n, a); v != "" {
			return v
		}
	}
	return ""
}
