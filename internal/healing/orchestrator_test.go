package healing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/relock/api/schemas"
	"github.com/xkilldash9x/relock/internal/store"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func defaultPolicy() schemas.AutoHealingConfig {
	return schemas.AutoHealingConfig{
		Enabled:                   true,
		ConfidenceThreshold:       0.85,
		MaxRetries:                3,
		RollbackAfterFailures:     3,
		RequireUserApproval:       false,
		AutoApproveHighConfidence: true,
	}
}

func newTestHealer(t *testing.T, cfg schemas.AutoHealingConfig, repo schemas.StateRepository) *Healer {
	t.Helper()
	h, err := NewHealer(context.Background(), Options{
		Config:     cfg,
		Repository: repo,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return h
}

func buttonElement() schemas.ElementDescriptor {
	return schemas.ElementDescriptor{
		Tag: "button",
		ID:  "pay-btn",
		Attributes: map[string]string{
			"id":          "pay-btn",
			"data-testid": "pay",
		},
		Text: "Pay now",
	}
}

func TestAutoHealDisabled(t *testing.T) {
	cfg := defaultPolicy()
	cfg.Enabled = false
	h := newTestHealer(t, cfg, nil)

	_, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	assert.ErrorIs(t, err, ErrHealingDisabled)
}

func TestAutoHealPicksHighestConfidenceCandidate(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)

	decision, err := h.AutoHeal(context.Background(), "#pay-1755612000", buttonElement(), "checkout")
	require.NoError(t, err)

	assert.Equal(t, `[data-testid="pay"]`, decision.HealedLocator)
	assert.Equal(t, schemas.StrategyTestID, decision.Strategy)
	assert.True(t, decision.AutoApplied)
	assert.False(t, decision.RequiresApproval)
	assert.GreaterOrEqual(t, decision.Confidence, 0.85)

	recs := h.History("checkout")
	require.Len(t, recs, 1)
	assert.Equal(t, decision.RecordID, recs[0].ID)
	assert.Equal(t, schemas.StatusAutoApplied, recs[0].Status)
	assert.Equal(t, "#pay-1755612000", recs[0].OriginalLocator)
}

func TestAutoHealSkipsTheLocatorThatJustFailed(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)

	// The failed locator is exactly the best candidate; the next one wins.
	decision, err := h.AutoHeal(context.Background(), `[data-testid="pay"]`, buttonElement(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, "#pay-btn", decision.HealedLocator)
}

func TestAutoHealInclusiveThreshold(t *testing.T) {
	el := schemas.ElementDescriptor{
		Tag:        "button",
		Attributes: map[string]string{"data-testid": "pay"},
	}

	// testid: stability 0.95*0.6 + uniqueness 1.0*0.4 = 0.97 exactly.
	cfg := defaultPolicy()
	cfg.ConfidenceThreshold = 0.97
	h := newTestHealer(t, cfg, nil)

	decision, err := h.AutoHeal(context.Background(), "#old", el, "checkout")
	require.NoError(t, err, "a candidate exactly at the threshold must be accepted")
	assert.InDelta(t, 0.97, decision.Confidence, 1e-9)
}

func TestAutoHealNoSuitableLocator(t *testing.T) {
	cfg := defaultPolicy()
	cfg.ConfidenceThreshold = 0.99
	h := newTestHealer(t, cfg, nil)

	// Bare element: only a weak xpath candidate exists.
	el := schemas.ElementDescriptor{Tag: "td"}
	_, err := h.AutoHeal(context.Background(), "#old", el, "report")
	assert.ErrorIs(t, err, ErrNoSuitableLocator)
	assert.Empty(t, h.History("report"))
}

func TestAutoHealRequiresApprovalPath(t *testing.T) {
	cfg := defaultPolicy()
	cfg.RequireUserApproval = true
	h := newTestHealer(t, cfg, nil)

	decision, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	assert.False(t, decision.AutoApplied)
	assert.True(t, decision.RequiresApproval)

	recs := h.History("checkout")
	require.Len(t, recs, 1)
	assert.Equal(t, schemas.StatusPending, recs[0].Status)
}

func TestAutoHealMaxRetriesBoundsCandidates(t *testing.T) {
	cfg := defaultPolicy()
	cfg.MaxRetries = 1
	cfg.ConfidenceThreshold = 0.1
	h := newTestHealer(t, cfg, nil)

	// Suppress the single best candidate: with MaxRetries 1 the truncated
	// list is empty once the top candidate is excluded as the failed locator.
	el := schemas.ElementDescriptor{
		Tag:        "button",
		Attributes: map[string]string{"data-testid": "pay"},
	}
	_, err := h.AutoHeal(context.Background(), `[data-testid="pay"]`, el, "checkout")
	require.NoError(t, err)

	// Exactly one candidate was considered and it was not the failed one.
	recs := h.History("checkout")
	require.Len(t, recs, 1)
	assert.NotEqual(t, `[data-testid="pay"]`, recs[0].HealedLocator)
}

func TestRecordOutcomeUnknownRecord(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)
	err := h.RecordOutcome(context.Background(), "missing-id", true, "")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecordOutcomeAccounting(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)
	decision, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)

	require.NoError(t, h.RecordOutcome(context.Background(), decision.RecordID, true, ""))
	require.NoError(t, h.RecordOutcome(context.Background(), decision.RecordID, false, "timeout"))

	recs := h.History("checkout")
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].SuccessCount)
	assert.Equal(t, 1, recs[0].FailureCount)
	assert.Equal(t, schemas.OutcomeFailure, recs[0].LastOutcome)
	assert.False(t, recs[0].LastFailureAt.IsZero())
}

func TestRollbackAfterRepeatedFailures(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)

	decision, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	require.True(t, decision.AutoApplied)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.RecordOutcome(context.Background(), decision.RecordID, false, "not found"))
		recs := h.History("checkout")
		require.Equal(t, schemas.StatusAutoApplied, recs[0].Status, "below the threshold nothing rolls back")
	}

	// Third failure inside the window trips the rollback.
	require.NoError(t, h.RecordOutcome(context.Background(), decision.RecordID, false, "not found"))

	recs := h.History("checkout")
	require.Len(t, recs, 1)
	assert.Equal(t, schemas.StatusRolledBack, recs[0].Status)
	require.NotNil(t, recs[0].Rollback)
	assert.Contains(t, recs[0].Rollback.Reason, "3 recent failures")
	firstStamp := recs[0].Rollback.Timestamp

	assert.Equal(t, []string{decision.HealedLocator}, h.SuppressedLocators("checkout"))

	// Further failures never restamp the rollback.
	require.NoError(t, h.RecordOutcome(context.Background(), decision.RecordID, false, "still broken"))
	recs = h.History("checkout")
	assert.Equal(t, firstStamp, recs[0].Rollback.Timestamp)
}

func TestRolledBackLocatorSuppressedOnNextHeal(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)

	decision, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	require.Equal(t, `[data-testid="pay"]`, decision.HealedLocator)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.RecordOutcome(context.Background(), decision.RecordID, false, ""))
	}

	// The suppression is per context: the same element heals to the next
	// strategy here, but still to testid elsewhere.
	next, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, "#pay-btn", next.HealedLocator)

	elsewhere, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "smoke")
	require.NoError(t, err)
	assert.Equal(t, `[data-testid="pay"]`, elsewhere.HealedLocator)
}

func TestPendingRecordNeverRollsBack(t *testing.T) {
	cfg := defaultPolicy()
	cfg.RequireUserApproval = true
	h := newTestHealer(t, cfg, nil)

	decision, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, h.RecordOutcome(context.Background(), decision.RecordID, false, ""))
	}

	recs := h.History("checkout")
	require.Len(t, recs, 1)
	assert.Equal(t, schemas.StatusPending, recs[0].Status)
	assert.Nil(t, recs[0].Rollback)
	// The locator is still suppressed: it failed regardless of status.
	assert.Contains(t, h.SuppressedLocators("checkout"), decision.HealedLocator)
}

func TestApproveRejectTransitions(t *testing.T) {
	cfg := defaultPolicy()
	cfg.RequireUserApproval = true
	h := newTestHealer(t, cfg, nil)

	first, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)

	require.NoError(t, h.Approve(context.Background(), first.RecordID))
	recs := h.History("checkout")
	assert.Equal(t, schemas.StatusApproved, recs[0].Status)

	// Approved is terminal.
	err = h.Approve(context.Background(), first.RecordID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	err = h.Reject(context.Background(), first.RecordID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	second, err := h.AutoHeal(context.Background(), "#other", buttonElement(), "checkout")
	require.NoError(t, err)
	require.NoError(t, h.Reject(context.Background(), second.RecordID))
	recs = h.History("checkout")
	assert.Equal(t, schemas.StatusRejected, recs[1].Status)

	assert.ErrorIs(t, h.Approve(context.Background(), "ghost"), ErrRecordNotFound)
}

func TestUpdateConfigValidation(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)

	bad := defaultPolicy()
	bad.ConfidenceThreshold = 1.5
	assert.Error(t, h.UpdateConfig(context.Background(), bad))

	good := defaultPolicy()
	good.ConfidenceThreshold = 0.5
	require.NoError(t, h.UpdateConfig(context.Background(), good))
	assert.InDelta(t, 0.5, h.Config().ConfidenceThreshold, 1e-9)
}

func TestUpdateStrategyPriorsRebuildsPipeline(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)

	err := h.UpdateStrategyPriors([]schemas.StrategyPrior{
		{Strategy: schemas.StrategyID, Priority: 0, Stability: 0.99},
		{Strategy: schemas.StrategyTestID, Priority: 1, Stability: 0.2},
	})
	require.NoError(t, err)

	decision, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, "#pay-btn", decision.HealedLocator, "reprioritized id strategy must win")

	assert.Error(t, h.UpdateStrategyPriors(nil))
	assert.Error(t, h.UpdateStrategyPriors([]schemas.StrategyPrior{
		{Strategy: schemas.StrategyID, Stability: 1.2},
	}))
}

func TestStatePersistsAcrossHealers(t *testing.T) {
	repo := store.NewMemory()

	first := newTestHealer(t, defaultPolicy(), repo)
	decision, err := first.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	require.NoError(t, first.RecordOutcome(context.Background(), decision.RecordID, true, ""))

	updated := defaultPolicy()
	updated.ConfidenceThreshold = 0.6
	require.NoError(t, first.UpdateConfig(context.Background(), updated))
	require.NoError(t, first.SaveState(context.Background()))

	second := newTestHealer(t, defaultPolicy(), repo)
	recs := second.History("checkout")
	require.Len(t, recs, 1)
	assert.Equal(t, decision.RecordID, recs[0].ID)
	assert.Equal(t, 1, recs[0].SuccessCount)
	assert.InDelta(t, 0.6, second.Config().ConfidenceThreshold, 1e-9,
		"persisted config wins over constructor options")
}

func TestPriorSuccessRaisesConfidence(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)

	first, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	require.NoError(t, h.RecordOutcome(context.Background(), first.RecordID, true, ""))

	second, err := h.AutoHeal(context.Background(), "#old", buttonElement(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, first.HealedLocator, second.HealedLocator)
	assert.Greater(t, second.Confidence, first.Confidence,
		"a previously successful locator gets the history boost")
}

func TestConcurrentHealingAcrossContexts(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), store.NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctxKey := fmt.Sprintf("suite-%d", n%4)
			decision, err := h.AutoHeal(context.Background(), "#old", buttonElement(), ctxKey)
			if err != nil {
				t.Error(err)
				return
			}
			_ = h.RecordOutcome(context.Background(), decision.RecordID, n%2 == 0, "")
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 4; i++ {
		total += len(h.History(fmt.Sprintf("suite-%d", i)))
	}
	assert.Equal(t, 8, total)
}

func TestHealerFacadeDelegation(t *testing.T) {
	h := newTestHealer(t, defaultPolicy(), nil)
	el := buttonElement()

	candidates := h.GenerateCandidates(el)
	require.NotEmpty(t, candidates)
	assert.Equal(t, `[data-testid="pay"]`, candidates[0].Locator)

	score := h.ScoreConfidence(candidates[0], el, nil)
	assert.Greater(t, score, 0.9)

	verdict := h.DetectUnstable("#row-1755612000", nil)
	assert.True(t, verdict.Unstable)

	sim := h.CompareVisualSimilarity(context.Background(), el, el)
	assert.InDelta(t, 1.0, sim, 1e-6)
}
