package healing

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/relock/api/schemas"
)

// Patterns shared by the feature extractor, the candidate filters and the
// unstable-pattern detector. Compiled once at package level.
var (
	longNumericPattern      = regexp.MustCompile(`\d{6,}`)
	cssModuleClassPattern   = regexp.MustCompile(`^css-\w+`)
	timestampKeywordPattern = regexp.MustCompile(`(?i)timestamp|time|date`)
	uuidV4Pattern           = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	randomIDPattern         = regexp.MustCompile(`(?i)random|rand|uuid|guid`)
	digitPattern            = regexp.MustCompile(`\d`)
	specialCharPattern      = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
)

// clickableTags is the allowlist of inherently interactive elements.
var clickableTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "option": true, "label": true, "summary": true,
}

// commonColors are the colors so widespread that they carry no identifying
// signal. Anything else counts as a unique color.
var commonColors = map[string]bool{
	"":                   true,
	"inherit":            true,
	"transparent":        true,
	"#000":               true,
	"#000000":            true,
	"#fff":               true,
	"#ffffff":            true,
	"rgb(0, 0, 0)":       true,
	"rgb(255, 255, 255)": true,
	"rgba(0, 0, 0, 0)":   true,
	"rgba(0, 0, 0, 1)":   true,
}

// typicalSizes are common button/input bounding boxes (width x height). An
// element whose box matches one of these, rounded to whole pixels, is not
// considered uniquely sized.
var typicalSizes = [][2]int{
	{0, 0},
	{75, 24},
	{100, 32},
	{150, 32},
	{200, 40},
	{300, 40},
}

// ExtractFeatures converts an element snapshot into the fixed-size feature
// vector used by the scorer and the learned model. It is a pure function:
// missing attributes and absent parent-chain context default to false/zero,
// and it never fails.
func ExtractFeatures(el schemas.ElementDescriptor) schemas.FeatureVector {
	text := strings.TrimSpace(el.Text)
	classes := strings.Join(el.Classes, " ")
	idAndClasses := el.ID + " " + classes
	tag := strings.ToLower(el.Tag)

	fv := schemas.FeatureVector{
		HasID:          el.ID != "",
		HasTestID:      el.HasAttr("data-testid") || el.HasAttr("data-test"),
		HasAriaLabel:   el.HasAttr("aria-label"),
		HasRole:        el.HasAttr("role"),
		HasName:        el.HasAttr("name"),
		HasPlaceholder: el.HasAttr("placeholder"),
		HasText:        text != "",
		HasClass:       len(el.Classes) > 0,

		TextLength:      len(text),
		TextWordCount:   wordCount(text),
		HasNumericText:  digitPattern.MatchString(text),
		HasSpecialChars: specialCharPattern.MatchString(text),

		SiblingCount: el.SiblingCount,
		SiblingIndex: el.IndexInParent,
		Depth:        len(el.Ancestors),

		IsVisible:   el.Box.Width > 0 && el.Box.Height > 0,
		IsClickable: clickableTags[tag],

		HasNumericID:      longNumericPattern.MatchString(el.ID),
		HasCSSModuleClass: anyClassMatches(el.Classes, cssModuleClassPattern),
		HasTimestamp:      timestampKeywordPattern.MatchString(idAndClasses),
		HasUUID:           uuidV4Pattern.MatchString(el.ID),
		HasRandomID:       randomIDPattern.MatchString(idAndClasses),

		IsGenericTag: tag == "div" || tag == "span",
	}

	fv.HasUniqueColor = !commonColors[strings.ToLower(strings.TrimSpace(el.Style.Color))]
	fv.HasUniqueSize = !isTypicalSize(el.Box)

	return fv
}

func wordCount(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func anyClassMatches(classes []string, re *regexp.Regexp) bool {
	for _, c := range classes {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}

func isTypicalSize(box schemas.BoundingBox) bool {
	w := int(box.Width + 0.5)
	h := int(box.Height + 0.5)
	for _, s := range typicalSizes {
		if s[0] == w && s[1] == h {
			return true
		}
	}
	return false
}
