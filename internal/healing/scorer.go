package healing

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap"
)

// Blend weights for the base confidence formula and the optional model term.
const (
	stabilityWeight   = 0.6
	uniquenessWeight  = 0.4
	heuristicBlend    = 0.7
	modelBlend        = 0.3
	priorSuccessBoost = 0.1
	defaultStability  = 0.5
)

// Predictor is the learned-model capability the scorer consumes. A nil
// Predictor (or one that is not ready) leaves scoring purely heuristic.
type Predictor interface {
	Predict(fv schemas.FeatureVector) (float64, error)
	Ready() bool
}

// PriorHistory carries the known outcome counts for an exact healed locator in
// the same context, within the retention window.
type PriorHistory struct {
	SuccessCount int
	FailureCount int
}

// Scorer computes a [0,1] confidence for a locator candidate by combining the
// strategy-stability prior, uniqueness heuristics, an optional learned-model
// prediction and prior outcome history.
type Scorer struct {
	stability map[schemas.StrategyKind]float64
	model     Predictor
	log       *zap.Logger
}

// NewScorer builds a scorer from the prior table. model may be nil.
func NewScorer(priors []schemas.StrategyPrior, model Predictor, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(priors) == 0 {
		priors = schemas.DefaultStrategyPriors()
	}
	stability := make(map[schemas.StrategyKind]float64, len(priors))
	for _, p := range priors {
		stability[p.Strategy] = p.Stability
	}

	return &Scorer{
		stability: stability,
		model:     model,
		log:       logger.Named("scorer"),
	}
}

// Score returns the candidate's confidence in [0,1]. prior may be nil.
// A failing model prediction is caught and logged; the heuristic-only
// confidence is used in that case, never an error.
func (s *Scorer) Score(candidate schemas.LocatorCandidate, el schemas.ElementDescriptor, prior *PriorHistory) float64 {
	stability, ok := s.stability[candidate.Strategy]
	if !ok {
		stability = defaultStability
	}

	confidence := stability*stabilityWeight + s.uniqueness(candidate, el)*uniquenessWeight

	if s.model != nil && s.model.Ready() {
		if pred, err := s.safePredict(el); err != nil {
			s.log.Warn("Model prediction failed, using heuristic confidence only",
				zap.String("locator", candidate.Locator), zap.Error(err))
		} else {
			confidence = confidence*heuristicBlend + pred*modelBlend
		}
	}

	if prior != nil && prior.SuccessCount >= 1 {
		confidence += priorSuccessBoost
	}

	return clamp01(confidence)
}

// uniqueness estimates how selective the locator is likely to be on a real
// page, starting from a neutral 0.5.
func (s *Scorer) uniqueness(candidate schemas.LocatorCandidate, el schemas.ElementDescriptor) float64 {
	score := 0.5

	switch candidate.Strategy {
	case schemas.StrategyID, schemas.StrategyTestID:
		score += 0.3
	case schemas.StrategyAria, schemas.StrategyRole:
		score += 0.2
	}

	if containsGenericTag(candidate.Locator) {
		score -= 0.2
	}

	if el.ID != "" || el.HasAttr("data-testid") || el.HasAttr("data-test") {
		score += 0.2
	}

	return clamp01(score)
}

// safePredict shields scoring from a misbehaving model, converting panics into
// errors.
func (s *Scorer) safePredict(el schemas.ElementDescriptor) (pred float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	return s.model.Predict(ExtractFeatures(el))
}

func containsGenericTag(locator string) bool {
	return strings.Contains(locator, "div") || strings.Contains(locator, "span")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
