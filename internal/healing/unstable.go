package healing

import (
	"regexp"

	"github.com/xkilldash9x/relock/api/schemas"
)

// UnstableVerdict is the result of a fragility check on a locator string.
type UnstableVerdict struct {
	Unstable bool   `json:"isUnstable"`
	Reason   string `json:"reason,omitempty"`
}

// Reasons reported by DetectUnstable, first match wins.
const (
	reasonLongNumeric    = "long numeric identifier (likely generated)"
	reasonCSSModule      = "CSS-in-JS class (changes on build)"
	reasonDynamicKeyword = "dynamic identifier keyword"
	reasonArrayIndex     = "indexed path segment (breaks on reordering)"
	reasonFeatureFlags   = "AI-detected dynamic pattern"
)

var (
	cssModuleLocatorPattern = regexp.MustCompile(`^\.(css|sc|jss)-\w+`)
	dynamicKeywordPattern   = regexp.MustCompile(`(?i)timestamp|uid|uuid|random`)
	arrayIndexPattern       = regexp.MustCompile(`\[\d+\]`)
)

// DetectUnstable classifies a locator string as fragile or stable. The
// ordered regex checks run first; when none match and an element snapshot is
// available with the model path enabled, the element's dynamic-pattern
// feature flags act as a fallback. Pure classification: no state, no failure.
func DetectUnstable(locator string, el *schemas.ElementDescriptor, modelEnabled bool) UnstableVerdict {
	switch {
	case longNumericPattern.MatchString(locator):
		return UnstableVerdict{Unstable: true, Reason: reasonLongNumeric}
	case cssModuleLocatorPattern.MatchString(locator):
		return UnstableVerdict{Unstable: true, Reason: reasonCSSModule}
	case dynamicKeywordPattern.MatchString(locator):
		return UnstableVerdict{Unstable: true, Reason: reasonDynamicKeyword}
	case arrayIndexPattern.MatchString(locator):
		return UnstableVerdict{Unstable: true, Reason: reasonArrayIndex}
	}

	if el != nil && modelEnabled {
		fv := ExtractFeatures(*el)
		if fv.HasNumericID || fv.HasCSSModuleClass || fv.HasTimestamp || fv.HasUUID || fv.HasRandomID {
			return UnstableVerdict{Unstable: true, Reason: reasonFeatureFlags}
		}
	}

	return UnstableVerdict{}
}
