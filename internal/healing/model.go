package healing

import (
	"fmt"
	"math"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Training hyperparameters. Fixed by design: training must be deterministic
// and idempotent for a given sample set.
const (
	initialWeight = 0.1
	learningRate  = 0.01
	trainEpochs   = 100

	defaultMinTrainingSamples = 10
	defaultMaxTrainingSamples = 500
)

// featureDims is the length of the encoded feature vector. Encoding order is
// fixed; changing it invalidates persisted model state.
const featureDims = 25

// TrainingSample pairs an element's features with the observed outcome of a
// healed locator (1 = success, 0 = failure).
type TrainingSample struct {
	Features schemas.FeatureVector `json:"features"`
	Label    int                   `json:"label"`
}

// LearnedModel is a binary logistic-regression classifier over element
// features, with a deterministic heuristic used until enough samples have
// accumulated.
//
// Retraining policy: every Train call appends its batch to the accumulated
// sample window (bounded to the most recent maxSamples) and retrains from
// scratch over the whole window. This keeps Train idempotent for a given
// accumulated set and makes confidence trajectories independent of how the
// samples were batched.
//
// All weight reads and writes go through the mutex, so Predict never observes
// a half-updated weight vector.
type LearnedModel struct {
	mu         sync.RWMutex
	weights    []float64
	bias       float64
	trained    bool
	samples    []TrainingSample
	minSamples int
	maxSamples int
	log        *zap.Logger
}

var _ Predictor = (*LearnedModel)(nil)

// modelState is the persisted form of the model, stored as an opaque blob.
type modelState struct {
	Weights []float64        `json:"weights"`
	Bias    float64          `json:"bias"`
	Trained bool             `json:"trained"`
	Samples []TrainingSample `json:"samples"`
}

// NewLearnedModel creates an untrained model. Non-positive bounds fall back to
// the defaults (10 samples to start training, 500-sample window).
func NewLearnedModel(minSamples, maxSamples int, logger *zap.Logger) *LearnedModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minSamples <= 0 {
		minSamples = defaultMinTrainingSamples
	}
	if maxSamples <= 0 {
		maxSamples = defaultMaxTrainingSamples
	}

	return &LearnedModel{
		minSamples: minSamples,
		maxSamples: maxSamples,
		log:        logger.Named("model"),
	}
}

// Ready reports whether the model can produce predictions. It always can: the
// heuristic path covers the untrained phase.
func (m *LearnedModel) Ready() bool { return true }

// Trained reports whether the logistic-regression weights are in use.
func (m *LearnedModel) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

// SampleCount returns the size of the accumulated training window.
func (m *LearnedModel) SampleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// Predict returns the probability in [0,1] that a locator for an element with
// these features will hold up. Until trained it uses the deterministic
// heuristic.
func (m *LearnedModel) Predict(fv schemas.FeatureVector) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return heuristicPredict(fv), nil
	}

	x := encodeFeatures(fv)
	if len(m.weights) != len(x) {
		return 0, fmt.Errorf("weight vector has %d dims, features have %d", len(m.weights), len(x))
	}

	z := m.bias
	for i, w := range m.weights {
		z += w * x[i]
	}
	return sigmoid(z), nil
}

// Train appends the batch to the sample window and retrains from scratch over
// the full window. Until the window reaches the minimum size the model stays
// in heuristic mode.
func (m *LearnedModel) Train(batch []TrainingSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, batch...)
	if len(m.samples) > m.maxSamples {
		m.samples = m.samples[len(m.samples)-m.maxSamples:]
	}

	if len(m.samples) < m.minSamples {
		return
	}

	m.retrainLocked()
}

// retrainLocked runs full-batch gradient descent over the sample window.
// Caller must hold the write lock.
func (m *LearnedModel) retrainLocked() {
	weights := make([]float64, featureDims)
	for i := range weights {
		weights[i] = initialWeight
	}
	bias := 0.0

	encoded := make([][]float64, len(m.samples))
	for i, s := range m.samples {
		encoded[i] = encodeFeatures(s.Features)
	}

	for epoch := 0; epoch < trainEpochs; epoch++ {
		for i, s := range m.samples {
			x := encoded[i]
			z := bias
			for j, w := range weights {
				z += w * x[j]
			}
			grad := sigmoid(z) - float64(s.Label)
			for j := range weights {
				weights[j] -= learningRate * grad * x[j]
			}
			bias -= learningRate * grad
		}
	}

	m.weights = weights
	m.bias = bias
	m.trained = true
	m.log.Debug("Model retrained", zap.Int("samples", len(m.samples)))
}

// Save serializes the model (weights and sample window) as an opaque blob.
func (m *LearnedModel) Save() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := modelState{
		Weights: m.weights,
		Bias:    m.bias,
		Trained: m.trained,
		Samples: m.samples,
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize model state: %w", err)
	}
	return blob, nil
}

// Load restores a previously saved blob, replacing the model's state.
func (m *LearnedModel) Load(blob []byte) error {
	var state modelState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("failed to parse model state: %w", err)
	}
	if state.Trained && len(state.Weights) != featureDims {
		return fmt.Errorf("persisted weight vector has %d dims, expected %d", len(state.Weights), featureDims)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.weights = state.Weights
	m.bias = state.Bias
	m.trained = state.Trained
	m.samples = state.Samples
	if len(m.samples) > m.maxSamples {
		m.samples = m.samples[len(m.samples)-m.maxSamples:]
	}
	return nil
}

// heuristicPredict is the hand-tuned fallback used before the model has
// enough data to train.
func heuristicPredict(fv schemas.FeatureVector) float64 {
	score := 0.5

	if fv.HasTestID {
		score += 0.3
	}
	if fv.HasID && !fv.HasNumericID {
		score += 0.25
	}
	if fv.HasAriaLabel {
		score += 0.2
	}
	if fv.HasRole {
		score += 0.15
	}
	if fv.HasNumericID {
		score -= 0.3
	}
	if fv.HasCSSModuleClass {
		score -= 0.2
	}
	if fv.HasTimestamp {
		score -= 0.15
	}
	if fv.HasUUID {
		score -= 0.25
	}
	if fv.IsClickable {
		score += 0.1
	}
	if fv.IsGenericTag && !fv.HasID && !fv.HasTestID && !fv.HasClass {
		score -= 0.2
	}

	return clamp01(score)
}

// encodeFeatures flattens a FeatureVector into the fixed-order numeric
// encoding: booleans as 0/1, counts normalized by fixed divisors.
func encodeFeatures(fv schemas.FeatureVector) []float64 {
	return []float64{
		b2f(fv.HasID),
		b2f(fv.HasTestID),
		b2f(fv.HasAriaLabel),
		b2f(fv.HasRole),
		b2f(fv.HasName),
		b2f(fv.HasPlaceholder),
		b2f(fv.HasText),
		b2f(fv.HasClass),
		b2f(fv.HasNumericText),
		b2f(fv.HasSpecialChars),
		b2f(fv.IsVisible),
		b2f(fv.IsClickable),
		b2f(fv.HasUniqueColor),
		b2f(fv.HasUniqueSize),
		b2f(fv.HasNumericID),
		b2f(fv.HasCSSModuleClass),
		b2f(fv.HasTimestamp),
		b2f(fv.HasUUID),
		b2f(fv.HasRandomID),
		b2f(fv.IsGenericTag),
		float64(fv.TextLength) / 100,
		float64(fv.TextWordCount) / 20,
		float64(fv.Depth) / 10,
		float64(fv.SiblingCount) / 10,
		float64(fv.SiblingIndex) / 10,
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
