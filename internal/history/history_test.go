package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/relock/api/schemas"
	"github.com/xkilldash9x/relock/internal/store"
	"go.uber.org/zap/zaptest"
)

func newRecord(contextKey, healed string, status schemas.HealingStatus) schemas.HealingRecord {
	return schemas.HealingRecord{
		ID:              uuid.NewString(),
		Context:         contextKey,
		OriginalLocator: "#old",
		HealedLocator:   healed,
		Strategy:        schemas.StrategyID,
		Confidence:      0.9,
		Status:          status,
		CreatedAt:       time.Now(),
		LastOutcome:     schemas.OutcomeUnknown,
	}
}

func TestAppendAndGetKeepsOrder(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	first := newRecord("login", "#a", schemas.StatusPending)
	second := newRecord("login", "#b", schemas.StatusPending)
	s.Append(first)
	s.Append(second)
	s.Append(newRecord("checkout", "#c", schemas.StatusPending))

	recs := s.Get("login")
	require.Len(t, recs, 2)
	assert.Equal(t, first.ID, recs[0].ID)
	assert.Equal(t, second.ID, recs[1].ID)

	got, ok := s.Find(second.ID)
	require.True(t, ok)
	assert.Equal(t, "#b", got.HealedLocator)

	_, ok = s.Find("nope")
	assert.False(t, ok)
}

func TestGetReturnsCopies(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))
	rec := newRecord("login", "#a", schemas.StatusPending)
	s.Append(rec)

	got := s.Get("login")
	got[0].HealedLocator = "mutated"

	again := s.Get("login")
	assert.Equal(t, "#a", again[0].HealedLocator)
}

func TestUpdateAppliesUnderLock(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))
	rec := newRecord("login", "#a", schemas.StatusPending)
	s.Append(rec)

	updated, ok := s.Update(rec.ID, func(r *schemas.HealingRecord) {
		r.Status = schemas.StatusApproved
		r.SuccessCount++
	})
	require.True(t, ok)
	assert.Equal(t, schemas.StatusApproved, updated.Status)
	assert.Equal(t, 1, updated.SuccessCount)

	stored, _ := s.Find(rec.ID)
	assert.Equal(t, schemas.StatusApproved, stored.Status)
}

func TestRecentFailureCountSumsWithinWindow(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	recent := newRecord("login", "#btn", schemas.StatusAutoApplied)
	recent.FailureCount = 3
	recent.LastFailureAt = time.Now().Add(-time.Hour)
	s.Append(recent)

	stale := newRecord("login", "#btn", schemas.StatusAutoApplied)
	stale.FailureCount = 2
	stale.LastFailureAt = time.Now().Add(-8 * 24 * time.Hour)
	s.Append(stale)

	other := newRecord("login", "#other", schemas.StatusAutoApplied)
	other.FailureCount = 5
	other.LastFailureAt = time.Now()
	s.Append(other)

	window := 7 * 24 * time.Hour
	assert.Equal(t, 3, s.RecentFailureCount("login", "#btn", window))
	assert.Equal(t, 5, s.RecentFailureCount("login", "#other", window))
	assert.Equal(t, 0, s.RecentFailureCount("checkout", "#btn", window))
}

func TestPriorOutcomesRespectsRetention(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	fresh := newRecord("login", "#btn", schemas.StatusApproved)
	fresh.SuccessCount = 4
	fresh.FailureCount = 1
	s.Append(fresh)

	old := newRecord("login", "#btn", schemas.StatusApproved)
	old.SuccessCount = 10
	old.CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	s.Append(old)

	succ, fail := s.PriorOutcomes("login", "#btn", DefaultRetention)
	assert.Equal(t, 4, succ)
	assert.Equal(t, 1, fail)
}

func TestUnreliableRegistry(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	assert.False(t, s.IsUnreliable("login", "#btn"))
	s.MarkUnreliable("login", "#btn")
	s.MarkUnreliable("login", "#alt")

	assert.True(t, s.IsUnreliable("login", "#btn"))
	assert.False(t, s.IsUnreliable("checkout", "#btn"), "unreliability is per context")
	assert.Equal(t, []string{"#alt", "#btn"}, s.UnreliableLocators("login"))
}

func TestCleanupPrunesOnlyOldRejected(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	oldRejected := newRecord("login", "#a", schemas.StatusRejected)
	oldRejected.CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	s.Append(oldRejected)

	freshRejected := newRecord("login", "#b", schemas.StatusRejected)
	s.Append(freshRejected)

	oldApproved := newRecord("login", "#c", schemas.StatusApproved)
	oldApproved.CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	s.Append(oldApproved)

	removed := s.Cleanup(30 * 24 * time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := s.Find(oldRejected.ID)
	assert.False(t, ok)
	_, ok = s.Find(freshRejected.ID)
	assert.True(t, ok)
	_, ok = s.Find(oldApproved.ID)
	assert.True(t, ok, "only rejected records are ever pruned")
}

func TestStatisticsAggregation(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))

	auto := newRecord("login", `[data-testid="submit"]`, schemas.StatusAutoApplied)
	auto.Confidence = 0.9
	auto.SuccessCount = 3
	s.Append(auto)

	rolled := newRecord("login", "#flaky", schemas.StatusRolledBack)
	rolled.Confidence = 0.8
	rolled.FailureCount = 3
	s.Append(rolled)

	pending := newRecord("checkout", `[data-testid="pay"]`, schemas.StatusPending)
	pending.Confidence = 0.7
	s.Append(pending)

	stats := s.Statistics()
	assert.Equal(t, 3, stats.Total)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	// The rolled-back record was auto-applied first.
	assert.InDelta(t, 2.0/3.0, stats.AutoHealRate, 1e-9)
	assert.InDelta(t, 1.0/3.0, stats.RollbackRate, 1e-9)
	assert.InDelta(t, 0.8, stats.AverageConfidence, 1e-9)

	require.NotEmpty(t, stats.TopStrategies)
	assert.Equal(t, schemas.StrategyTestID, stats.TopStrategies[0].Strategy)
	assert.Equal(t, 2, stats.TopStrategies[0].Count)
}

func TestStatisticsEmptyStore(t *testing.T) {
	s := NewStore(zaptest.NewLogger(t))
	stats := s.Statistics()
	assert.Equal(t, 0, stats.Total)
	assert.Zero(t, stats.SuccessRate)
	assert.Empty(t, stats.TopStrategies)
}

func TestStrategyFromLocator(t *testing.T) {
	tests := []struct {
		locator string
		want    schemas.StrategyKind
	}{
		{`[data-testid="x"]`, schemas.StrategyTestID},
		{`[data-test="x"]`, schemas.StrategyTestID},
		{"#login", schemas.StrategyID},
		{`[aria-label="Close"]`, schemas.StrategyAria},
		{`[role="button"]`, schemas.StrategyRole},
		{`[name="email"]`, schemas.StrategyName},
		{`[placeholder="Search"]`, schemas.StrategyPlaceholder},
		{`button:has-text("Go")`, schemas.StrategyText},
		{"//td[3]", schemas.StrategyXPath},
		{"/html[1]/body[1]/div[2]", schemas.StrategyXPath},
		{"button.btn-primary", schemas.StrategyCSS},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, strategyFromLocator(tt.locator), "locator %q", tt.locator)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	repo := store.NewMemory()
	s := NewStore(zaptest.NewLogger(t))

	rec := newRecord("login", "#btn", schemas.StatusAutoApplied)
	s.Append(rec)
	s.MarkUnreliable("login", "#flaky")

	require.NoError(t, s.SaveTo(context.Background(), repo))

	restored := NewStore(zaptest.NewLogger(t))
	require.NoError(t, restored.LoadFrom(context.Background(), repo))

	got, ok := restored.Find(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "#btn", got.HealedLocator)
	assert.True(t, restored.IsUnreliable("login", "#flaky"))
}

func TestLoadFromMissingKey(t *testing.T) {
	repo := store.NewMemory()
	s := NewStore(zaptest.NewLogger(t))
	err := s.LoadFrom(context.Background(), repo)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
