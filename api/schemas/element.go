package schemas

// -- Element Capture Schemas --

// BoundingBox describes the rendered geometry of an element in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ComputedStyle is the small subset of computed style properties captured at
// failure time. Missing properties are empty strings.
type ComputedStyle struct {
	Color           string `json:"color,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	FontFamily      string `json:"fontFamily,omitempty"`
	FontSize        string `json:"fontSize,omitempty"`
	FontWeight      string `json:"fontWeight,omitempty"`
	Border          string `json:"border,omitempty"`
	BorderRadius    string `json:"borderRadius,omitempty"`
	ZIndex          string `json:"zIndex,omitempty"`
}

// AncestorInfo is one link in an element's parent chain, nearest parent first.
// The capture harness supplies it when structural features are wanted; without
// it the feature extractor reports zero depth.
type AncestorInfo struct {
	Tag   string `json:"tag"`
	ID    string `json:"id,omitempty"`
	Index int    `json:"index"` // position among same-tag siblings, 0-based
}

// ElementDescriptor is an immutable snapshot of a DOM element taken at the
// moment a locator failed. It is created by the caller (capture harness) and
// consumed by the healing engine; it has no lifecycle of its own.
type ElementDescriptor struct {
	Tag        string            `json:"tag"`
	ID         string            `json:"id,omitempty"`
	Classes    []string          `json:"classes,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	// Text is the visible text content, truncated by the capture harness.
	Text  string        `json:"text,omitempty"`
	Box   BoundingBox   `json:"box"`
	Style ComputedStyle `json:"style"`
	// Ancestors is the optional parent chain, nearest first.
	Ancestors []AncestorInfo `json:"ancestors,omitempty"`
	// SiblingCount and IndexInParent are supplied by the capture harness when
	// available; zero otherwise.
	SiblingCount  int `json:"siblingCount,omitempty"`
	IndexInParent int `json:"indexInParent,omitempty"`
}

// Attr returns the value of an attribute, falling back to the dedicated
// ID field for "id".
func (e ElementDescriptor) Attr(name string) string {
	if name == "id" && e.ID != "" {
		return e.ID
	}
	return e.Attributes[name]
}

// HasAttr reports whether the attribute is present and non-empty.
func (e ElementDescriptor) HasAttr(name string) bool {
	return e.Attr(name) != ""
}
