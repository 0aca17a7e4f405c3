package healing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap"
)

// maxTextLocatorLength bounds the visible text used in a has-text locator.
const maxTextLocatorLength = 50

// Generator enumerates alternative locator candidates for an element, in
// strategy-priority order, applying per-strategy stability filters.
// Generate is a pure function of the element: it keeps no state across calls.
type Generator struct {
	priors []schemas.StrategyPrior
	log    *zap.Logger
}

// NewGenerator creates a Generator using the given strategy priors; nil falls
// back to the default table.
func NewGenerator(priors []schemas.StrategyPrior, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(priors) == 0 {
		priors = schemas.DefaultStrategyPriors()
	}
	ordered := make([]schemas.StrategyPrior, len(priors))
	copy(ordered, priors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	return &Generator{
		priors: ordered,
		log:    logger.Named("candidates"),
	}
}

// Priors returns the generator's ordered strategy table.
func (g *Generator) Priors() []schemas.StrategyPrior {
	out := make([]schemas.StrategyPrior, len(g.priors))
	copy(out, g.priors)
	return out
}

// Generate returns candidate locators for the element with confidence unset.
// Candidates are emitted in priority order and deduplicated: when two
// strategies would produce the same locator string, only the higher-priority
// one survives. The xpath fallback always fires, so the result is never empty
// for an element with a tag.
func (g *Generator) Generate(el schemas.ElementDescriptor) []schemas.LocatorCandidate {
	candidates := make([]schemas.LocatorCandidate, 0, len(g.priors))
	seen := make(map[string]bool, len(g.priors))

	for _, prior := range g.priors {
		locator, ok := g.build(prior.Strategy, el)
		if !ok || seen[locator] {
			continue
		}
		seen[locator] = true
		candidates = append(candidates, schemas.LocatorCandidate{
			Locator:  locator,
			Strategy: prior.Strategy,
		})
	}

	return candidates
}

// build produces the locator string for one strategy, returning false when the
// element lacks the underlying attribute or the stability filter rejects it.
func (g *Generator) build(strategy schemas.StrategyKind, el schemas.ElementDescriptor) (string, bool) {
	switch strategy {
	case schemas.StrategyTestID:
		if v := el.Attr("data-testid"); v != "" {
			return fmt.Sprintf(`[data-testid=%q]`, v), true
		}
		if v := el.Attr("data-test"); v != "" {
			return fmt.Sprintf(`[data-test=%q]`, v), true
		}

	case schemas.StrategyID:
		if el.ID != "" && !longNumericPattern.MatchString(el.ID) {
			return "#" + el.ID, true
		}

	case schemas.StrategyAria:
		if v := el.Attr("aria-label"); v != "" {
			return fmt.Sprintf(`[aria-label=%q]`, v), true
		}

	case schemas.StrategyRole:
		if v := el.Attr("role"); v != "" {
			return fmt.Sprintf(`[role=%q]`, v), true
		}

	case schemas.StrategyName:
		if v := el.Attr("name"); v != "" {
			return fmt.Sprintf(`[name=%q]`, v), true
		}

	case schemas.StrategyPlaceholder:
		if v := el.Attr("placeholder"); v != "" {
			return fmt.Sprintf(`[placeholder=%q]`, v), true
		}

	case schemas.StrategyText:
		text := strings.TrimSpace(el.Text)
		if text != "" && len(text) < maxTextLocatorLength {
			tag := strings.ToLower(el.Tag)
			if tag == "" {
				tag = "*"
			}
			return fmt.Sprintf(`%s:has-text(%q)`, tag, text), true
		}

	case schemas.StrategyCSS:
		if len(el.Classes) > 0 {
			first := el.Classes[0]
			if first != "" && !longNumericPattern.MatchString(first) {
				tag := strings.ToLower(el.Tag)
				return tag + "." + first, true
			}
		}

	case schemas.StrategyXPath:
		if xp := buildXPath(el); xp != "" {
			return xp, true
		}

	default:
		g.log.Warn("Unknown locator strategy in priors, skipping",
			zap.String("strategy", string(strategy)))
	}

	return "", false
}
