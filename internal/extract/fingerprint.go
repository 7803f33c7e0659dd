package extract

import (
	"fmt"
	"strconv"
	"unicode/utf16"

	"github.com/svdb-hotmail/domscribr/internal/dom"
)

// fingerprintTextLimit bounds the text (in UTF-16 code units) that feeds a
// content fingerprint.
const fingerprintTextLimit = 200

// idAttrs are checked in priority order for a stable element identity.
var idAttrs = []string{"data-message-id", "id", "data-id", "data-uuid"}

// Fingerprint derives the dedup identity of a candidate and its text.
// An explicit id wins; otherwise the fingerprint is a content hash of role
// and leading text, qualified by the text length and the tag name.
func Fingerprint(n dom.Node, text string) string {
	if id := firstAttr(n, idAttrs...); id != "" {
		return "id:" + id
	}

	trimmed := utf16.Encode([]rune(text))
	if len(trimmed) > fingerprintTextLimit {
		trimmed = trimmed[:fingerprintTextLimit]
	}

	key := utf16.Encode([]rune(string(InferRole(n)) + "::"))
	key = append(key, trimmed...)

	return fmt.Sprintf("hash:%s:%d:%s", hashUnits(key), len(trimmed), n.TagName())
}

// HashString is the 32-bit rolling hash h = h*31 + c over the UTF-16 code
// units of s, rendered as signed lowercase hex.
func HashString(s string) string {
	return hashUnits(utf16.Encode([]rune(s)))
}

func hashUnits(units []uint16) string {
	var h int32
	for _, c := range units {
		h = (h << 5) - h + int32(c)
	}
	return strconv.FormatInt(int64(h), 16)
}
