package schemas

// FeatureVector is the fixed-size numeric view of an element used by the
// confidence scorer and the learned model. Booleans encode to 0/1; counts are
// normalized by fixed divisors at encoding time (see the model package).
type FeatureVector struct {
	// Presence flags.
	HasID          bool `json:"hasId"`
	HasTestID      bool `json:"hasTestId"`
	HasAriaLabel   bool `json:"hasAriaLabel"`
	HasRole        bool `json:"hasRole"`
	HasName        bool `json:"hasName"`
	HasPlaceholder bool `json:"hasPlaceholder"`
	HasText        bool `json:"hasText"`
	HasClass       bool `json:"hasClass"`

	// Content features.
	TextLength      int  `json:"textLength"`
	TextWordCount   int  `json:"textWordCount"`
	HasNumericText  bool `json:"hasNumericText"`
	HasSpecialChars bool `json:"hasSpecialChars"`

	// Structural features; zero when the capture harness supplied no
	// parent-chain context.
	Depth        int `json:"depth"`
	SiblingCount int `json:"siblingCount"`
	SiblingIndex int `json:"siblingIndex"`

	// Style-derived flags.
	IsVisible      bool `json:"isVisible"`
	IsClickable    bool `json:"isClickable"`
	HasUniqueColor bool `json:"hasUniqueColor"`
	HasUniqueSize  bool `json:"hasUniqueSize"`

	// Dynamic-pattern flags.
	HasNumericID      bool `json:"hasNumericId"`
	HasCSSModuleClass bool `json:"hasCssModuleClass"`
	HasTimestamp      bool `json:"hasTimestamp"`
	HasUUID           bool `json:"hasUuid"`
	HasRandomID       bool `json:"hasRandomId"`

	// IsGenericTag marks div/span elements, which carry no semantics of their
	// own and are penalized when they lack identifying attributes.
	IsGenericTag bool `json:"isGenericTag"`
}
