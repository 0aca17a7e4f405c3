package schemas

// -- Locator Schemas --

// StrategyKind categorizes a locator by the mechanism it uses to find an
// element. The kinds are mutually exclusive tags, not a hierarchy.
type StrategyKind string

const (
	StrategyTestID      StrategyKind = "testid"
	StrategyID          StrategyKind = "id"
	StrategyAria        StrategyKind = "aria"
	StrategyRole        StrategyKind = "role"
	StrategyName        StrategyKind = "name"
	StrategyPlaceholder StrategyKind = "placeholder"
	StrategyText        StrategyKind = "text"
	StrategyCSS         StrategyKind = "css"
	StrategyXPath       StrategyKind = "xpath"
)

// LocatorCandidate is one alternative locator proposed for a broken element.
// The generator leaves Confidence at zero; the scorer fills it in.
type LocatorCandidate struct {
	Locator    string       `json:"locator"`
	Strategy   StrategyKind `json:"strategy"`
	Confidence float64      `json:"confidence"`
}

// StrategyPrior expresses a prior belief about a locator strategy: its rank in
// candidate generation (lower is preferred) and its stability score in [0,1]
// (how likely locators of this kind survive markup changes).
type StrategyPrior struct {
	Strategy  StrategyKind `json:"strategy" mapstructure:"strategy"`
	Priority  int          `json:"priority" mapstructure:"priority"`
	Stability float64      `json:"stability" mapstructure:"stability"`
}

// DefaultStrategyPriors returns the built-in strategy ordering and stability
// table. Callers may override it wholesale via the engine configuration.
func DefaultStrategyPriors() []StrategyPrior {
	return []StrategyPrior{
		{Strategy: StrategyTestID, Priority: 0, Stability: 0.95},
		{Strategy: StrategyID, Priority: 1, Stability: 0.90},
		{Strategy: StrategyAria, Priority: 2, Stability: 0.85},
		{Strategy: StrategyRole, Priority: 3, Stability: 0.80},
		{Strategy: StrategyName, Priority: 4, Stability: 0.75},
		{Strategy: StrategyPlaceholder, Priority: 5, Stability: 0.70},
		{Strategy: StrategyText, Priority: 6, Stability: 0.60},
		{Strategy: StrategyCSS, Priority: 7, Stability: 0.55},
		{Strategy: StrategyXPath, Priority: 8, Stability: 0.40},
	}
}
