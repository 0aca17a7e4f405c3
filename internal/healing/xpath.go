package healing

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/relock/api/schemas"
)

// buildXPath produces the fallback XPath locator for an element. It prefers
// anchoring on the nearest ancestor with a non-dynamic id, which keeps the
// expression short and resilient to layout churn above the anchor. Without
// such an anchor it falls back to a tag-indexed path built from the supplied
// ancestor chain, or a bare relative step when no chain is available.
func buildXPath(el schemas.ElementDescriptor) string {
	tag := strings.ToLower(el.Tag)
	if tag == "" {
		return ""
	}
	step := fmt.Sprintf("%s[%d]", tag, el.IndexInParent+1)

	// Ancestors are nearest-first; the first stable id wins.
	for _, anc := range el.Ancestors {
		if anc.ID == "" || isDynamicIdentifier(anc.ID) {
			continue
		}
		return fmt.Sprintf(`//*[@id='%s']//%s`, anc.ID, step)
	}

	if len(el.Ancestors) == 0 {
		return "//" + step
	}

	// Build an absolute tag-indexed path, root first. XPath indices are
	// 1-based.
	segments := make([]string, 0, len(el.Ancestors)+1)
	for i := len(el.Ancestors) - 1; i >= 0; i-- {
		anc := el.Ancestors[i]
		ancTag := strings.ToLower(anc.Tag)
		if ancTag == "" {
			continue
		}
		segments = append(segments, fmt.Sprintf("%s[%d]", ancTag, anc.Index+1))
	}
	segments = append(segments, step)

	return "/" + strings.Join(segments, "/")
}

// isDynamicIdentifier reports whether an id looks generated: long numeric
// runs, UUIDs or random/timestamp keywords.
func isDynamicIdentifier(id string) bool {
	return longNumericPattern.MatchString(id) ||
		uuidV4Pattern.MatchString(id) ||
		randomIDPattern.MatchString(id) ||
		timestampKeywordPattern.MatchString(id)
}
