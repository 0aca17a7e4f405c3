package healing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap/zaptest"
)

func stableFeatures() schemas.FeatureVector {
	return schemas.FeatureVector{
		HasTestID:   true,
		HasID:       true,
		IsClickable: true,
		IsVisible:   true,
	}
}

func fragileFeatures() schemas.FeatureVector {
	return schemas.FeatureVector{
		HasID:        true,
		HasNumericID: true,
		HasTimestamp: true,
		IsGenericTag: true,
	}
}

func TestHeuristicPredictValues(t *testing.T) {
	tests := []struct {
		name string
		fv   schemas.FeatureVector
		want float64
	}{
		{"bare element", schemas.FeatureVector{}, 0.5},
		{"testid", schemas.FeatureVector{HasTestID: true}, 0.8},
		{"stable id", schemas.FeatureVector{HasID: true}, 0.75},
		{"numeric id cancels id bonus", schemas.FeatureVector{HasID: true, HasNumericID: true}, 0.2},
		{"aria plus role", schemas.FeatureVector{HasAriaLabel: true, HasRole: true}, 0.85},
		{"css module class", schemas.FeatureVector{HasCSSModuleClass: true}, 0.3},
		{"uuid", schemas.FeatureVector{HasUUID: true}, 0.25},
		{"clickable", schemas.FeatureVector{IsClickable: true}, 0.6},
		{"anonymous div", schemas.FeatureVector{IsGenericTag: true}, 0.3},
		{"div with class keeps neutral", schemas.FeatureVector{IsGenericTag: true, HasClass: true}, 0.5},
		{"everything stable clamps to one", schemas.FeatureVector{HasTestID: true, HasID: true, HasAriaLabel: true, HasRole: true, IsClickable: true}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, heuristicPredict(tt.fv), 1e-9)
		})
	}
}

func TestPredictUsesHeuristicUntilTrained(t *testing.T) {
	m := NewLearnedModel(10, 500, zaptest.NewLogger(t))
	require.False(t, m.Trained())

	got, err := m.Predict(stableFeatures())
	require.NoError(t, err)
	assert.InDelta(t, heuristicPredict(stableFeatures()), got, 1e-9)
}

func TestTrainBelowMinimumStaysHeuristic(t *testing.T) {
	m := NewLearnedModel(10, 500, zaptest.NewLogger(t))

	batch := make([]TrainingSample, 9)
	for i := range batch {
		batch[i] = TrainingSample{Features: stableFeatures(), Label: 1}
	}
	m.Train(batch)

	assert.False(t, m.Trained())
	assert.Equal(t, 9, m.SampleCount())
}

func trainingSet() []TrainingSample {
	var samples []TrainingSample
	for i := 0; i < 10; i++ {
		samples = append(samples, TrainingSample{Features: stableFeatures(), Label: 1})
		samples = append(samples, TrainingSample{Features: fragileFeatures(), Label: 0})
	}
	return samples
}

func TestTrainSeparatesStableFromFragile(t *testing.T) {
	m := NewLearnedModel(10, 500, zaptest.NewLogger(t))
	m.Train(trainingSet())
	require.True(t, m.Trained())

	stable, err := m.Predict(stableFeatures())
	require.NoError(t, err)
	fragile, err := m.Predict(fragileFeatures())
	require.NoError(t, err)

	assert.Greater(t, stable, 0.5)
	assert.Less(t, fragile, 0.5)
}

func TestTrainDeterministicAcrossBatching(t *testing.T) {
	set := trainingSet()

	whole := NewLearnedModel(10, 500, zaptest.NewLogger(t))
	whole.Train(set)

	split := NewLearnedModel(10, 500, zaptest.NewLogger(t))
	split.Train(set[:5])
	split.Train(set[5:])

	fv := stableFeatures()
	a, err := whole.Predict(fv)
	require.NoError(t, err)
	b, err := split.Predict(fv)
	require.NoError(t, err)
	assert.InDelta(t, a, b, 1e-12, "same accumulated window must train identically")
}

func TestTrainWindowCapped(t *testing.T) {
	m := NewLearnedModel(2, 5, zaptest.NewLogger(t))

	var batch []TrainingSample
	for i := 0; i < 12; i++ {
		batch = append(batch, TrainingSample{Features: stableFeatures(), Label: 1})
	}
	m.Train(batch)

	assert.Equal(t, 5, m.SampleCount())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewLearnedModel(10, 500, zaptest.NewLogger(t))
	m.Train(trainingSet())

	blob, err := m.Save()
	require.NoError(t, err)

	restored := NewLearnedModel(10, 500, zaptest.NewLogger(t))
	require.NoError(t, restored.Load(blob))
	assert.True(t, restored.Trained())
	assert.Equal(t, m.SampleCount(), restored.SampleCount())

	fv := fragileFeatures()
	want, err := m.Predict(fv)
	require.NoError(t, err)
	got, err := restored.Predict(fv)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)
}

func TestLoadRejectsCorruptState(t *testing.T) {
	m := NewLearnedModel(10, 500, zaptest.NewLogger(t))
	assert.Error(t, m.Load([]byte("not json")))

	// Trained flag with a wrong-size weight vector is corrupt.
	blob := []byte(`{"weights":[0.1,0.2],"bias":0,"trained":true,"samples":[]}`)
	assert.Error(t, m.Load(blob))
}

func TestEncodeFeaturesDimension(t *testing.T) {
	assert.Len(t, encodeFeatures(schemas.FeatureVector{}), featureDims)

	full := schemas.FeatureVector{
		HasID: true, HasTestID: true, HasAriaLabel: true, HasRole: true,
		HasName: true, HasPlaceholder: true, HasText: true, HasClass: true,
		TextLength: 50, TextWordCount: 10, Depth: 5, SiblingCount: 5, SiblingIndex: 2,
	}
	assert.Len(t, encodeFeatures(full), featureDims)
}
