package healing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/relock/api/schemas"
	"github.com/xkilldash9x/relock/internal/healing/visual"
	"github.com/xkilldash9x/relock/internal/history"
	"github.com/xkilldash9x/relock/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Repository keys owned by the orchestrator.
const (
	configStateKey = "healing/config"
	modelStateKey  = "healing/model"
)

// Default policy windows.
const (
	DefaultFailureWindow = 7 * 24 * time.Hour
	defaultSaveInterval  = 2 * time.Second
)

// Options configures a Healer.
type Options struct {
	Config schemas.AutoHealingConfig
	// Priors overrides the strategy table; nil keeps the defaults.
	Priors []schemas.StrategyPrior
	// ModelEnabled switches on the learned-model blend in scoring and the
	// feature-flag fallback in unstable detection.
	ModelEnabled       bool
	MinTrainingSamples int
	MaxTrainingSamples int
	// Repository persists records, model state and config. nil disables
	// persistence entirely.
	Repository schemas.StateRepository
	// SnapshotProvider supplies rendered-pixel fingerprints for visual
	// comparison; nil degrades to structural hashing.
	SnapshotProvider schemas.RenderSnapshotProvider
	// FailureWindow is the lookback for rollback-threshold counting.
	FailureWindow time.Duration
	// Retention bounds both cleanup of rejected records and the prior-success
	// boost lookback.
	Retention time.Duration
	Logger    *zap.Logger
}

// Healer is the healing decision engine: candidate generation, confidence
// scoring, the auto-apply/approve/rollback state machine and the statistics
// the state machine feeds on. Callers execute the returned decisions against
// the real page and report outcomes back via RecordOutcome.
type Healer struct {
	// mu guards cfg, priors, gen and scorer; the history store and model
	// carry their own locks.
	mu     sync.RWMutex
	cfg    schemas.AutoHealingConfig
	priors []schemas.StrategyPrior
	gen    *Generator
	scorer *Scorer

	model        *LearnedModel // nil when the model path is disabled
	modelEnabled bool

	hist   *history.Store
	visual *visual.Comparator

	repo          schemas.StateRepository
	saveLimiter   *rate.Limiter
	failureWindow time.Duration
	retention     time.Duration

	log *zap.Logger
}

// NewHealer constructs the engine and, when a repository is configured,
// restores persisted config, model state and history. Missing keys are not
// errors; corrupt state is.
func NewHealer(ctx context.Context, opts Options) (*Healer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("healer")

	priors := opts.Priors
	if len(priors) == 0 {
		priors = schemas.DefaultStrategyPriors()
	}

	failureWindow := opts.FailureWindow
	if failureWindow <= 0 {
		failureWindow = DefaultFailureWindow
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = history.DefaultRetention
	}

	h := &Healer{
		cfg:           opts.Config,
		priors:        priors,
		modelEnabled:  opts.ModelEnabled,
		hist:          history.NewStore(logger),
		visual:        visual.NewComparator(opts.SnapshotProvider, logger),
		repo:          opts.Repository,
		saveLimiter:   rate.NewLimiter(rate.Every(defaultSaveInterval), 1),
		failureWindow: failureWindow,
		retention:     retention,
		log:           logger,
	}

	if opts.ModelEnabled {
		h.model = NewLearnedModel(opts.MinTrainingSamples, opts.MaxTrainingSamples, logger)
	}

	if err := h.restore(ctx); err != nil {
		return nil, err
	}

	h.rebuildPipelineLocked()
	return h, nil
}

// rebuildPipelineLocked recreates the generator and scorer from the current
// priors. Caller must hold the write lock (or own the Healer exclusively, as
// in the constructor).
func (h *Healer) rebuildPipelineLocked() {
	h.gen = NewGenerator(h.priors, h.log)
	var predictor Predictor
	if h.model != nil {
		predictor = h.model
	}
	h.scorer = NewScorer(h.priors, predictor, h.log)
}

// restore loads persisted state from the repository.
func (h *Healer) restore(ctx context.Context) error {
	if h.repo == nil {
		return nil
	}

	if blob, err := h.repo.Get(ctx, configStateKey); err == nil {
		var cfg schemas.AutoHealingConfig
		if err := json.Unmarshal(blob, &cfg); err != nil {
			return fmt.Errorf("failed to parse persisted healing config: %w", err)
		}
		h.cfg = cfg
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load healing config: %w", err)
	}

	if h.model != nil {
		if blob, err := h.repo.Get(ctx, modelStateKey); err == nil {
			if err := h.model.Load(blob); err != nil {
				return err
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load model state: %w", err)
		}
	}

	if err := h.hist.LoadFrom(ctx, h.repo); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// GenerateCandidates exposes raw candidate generation, confidence unset.
func (h *Healer) GenerateCandidates(el schemas.ElementDescriptor) []schemas.LocatorCandidate {
	h.mu.RLock()
	gen := h.gen
	h.mu.RUnlock()
	return gen.Generate(el)
}

// ScoreConfidence scores one candidate. prior may be nil.
func (h *Healer) ScoreConfidence(candidate schemas.LocatorCandidate, el schemas.ElementDescriptor, prior *PriorHistory) float64 {
	h.mu.RLock()
	scorer := h.scorer
	h.mu.RUnlock()
	return scorer.Score(candidate, el, prior)
}

// DetectUnstable classifies a locator string as fragile or stable.
func (h *Healer) DetectUnstable(locator string, el *schemas.ElementDescriptor) UnstableVerdict {
	h.mu.RLock()
	modelEnabled := h.modelEnabled
	h.mu.RUnlock()
	return DetectUnstable(locator, el, modelEnabled)
}

// CompareVisualSimilarity blends the visual similarity of two element
// snapshots into a [0,1] score.
func (h *Healer) CompareVisualSimilarity(ctx context.Context, a, b schemas.ElementDescriptor) float64 {
	return h.visual.Compare(ctx, a, b)
}

// AutoHeal runs the full decision pipeline for a failed locator: generate
// candidates, score them (with prior-outcome boosts), and apply the
// confidence-threshold policy. The threshold comparison is inclusive. Rolled
// back locators for this context are suppressed, as is the locator that just
// failed.
func (h *Healer) AutoHeal(ctx context.Context, failedLocator string, el schemas.ElementDescriptor, contextKey string) (schemas.HealingDecision, error) {
	h.mu.RLock()
	cfg := h.cfg
	gen := h.gen
	scorer := h.scorer
	h.mu.RUnlock()

	if !cfg.Enabled {
		return schemas.HealingDecision{}, ErrHealingDisabled
	}

	candidates := gen.Generate(el)
	scored := make([]schemas.LocatorCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Locator == failedLocator || h.hist.IsUnreliable(contextKey, c.Locator) {
			continue
		}
		var prior *PriorHistory
		if succ, fail := h.hist.PriorOutcomes(contextKey, c.Locator, h.retention); succ+fail > 0 {
			prior = &PriorHistory{SuccessCount: succ, FailureCount: fail}
		}
		c.Confidence = scorer.Score(c, el, prior)
		scored = append(scored, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Confidence > scored[j].Confidence
	})
	if cfg.MaxRetries > 0 && len(scored) > cfg.MaxRetries {
		scored = scored[:cfg.MaxRetries]
	}

	for _, c := range scored {
		if c.Confidence < cfg.ConfidenceThreshold {
			// Candidates are sorted; nothing further can clear the threshold.
			break
		}

		autoApplied := cfg.AutoApproveHighConfidence && !cfg.RequireUserApproval
		status := schemas.StatusPending
		if autoApplied {
			status = schemas.StatusAutoApplied
		}

		rec := schemas.HealingRecord{
			ID:              uuid.NewString(),
			Context:         contextKey,
			OriginalLocator: failedLocator,
			HealedLocator:   c.Locator,
			Strategy:        c.Strategy,
			Confidence:      c.Confidence,
			Status:          status,
			CreatedAt:       time.Now().UTC(),
			LastOutcome:     schemas.OutcomeUnknown,
			Features:        ExtractFeatures(el),
		}
		h.hist.Append(rec)
		h.persistDebounced(ctx)

		h.log.Info("Healing candidate selected",
			zap.String("context", contextKey),
			zap.String("failed_locator", failedLocator),
			zap.String("healed_locator", c.Locator),
			zap.String("strategy", string(c.Strategy)),
			zap.Float64("confidence", c.Confidence),
			zap.Bool("auto_applied", autoApplied),
		)

		return schemas.HealingDecision{
			RecordID:         rec.ID,
			HealedLocator:    c.Locator,
			Strategy:         c.Strategy,
			Confidence:       c.Confidence,
			AutoApplied:      autoApplied,
			RequiresApproval: !autoApplied,
		}, nil
	}

	h.log.Info("No healing candidate cleared the threshold",
		zap.String("context", contextKey),
		zap.String("failed_locator", failedLocator),
		zap.Float64("threshold", cfg.ConfidenceThreshold),
		zap.Int("candidates", len(scored)),
	)
	return schemas.HealingDecision{}, ErrNoSuitableLocator
}

// RecordOutcome reports the result of executing a healed locator. Failures
// count toward the rollback threshold: once recent failures for this healed
// locator reach config.RollbackAfterFailures within the failure window, an
// auto-applied record rolls back and the locator is suppressed for the
// context. Every outcome also feeds the learned model.
func (h *Healer) RecordOutcome(ctx context.Context, recordID string, success bool, errorMessage string) error {
	h.mu.RLock()
	cfg := h.cfg
	h.mu.RUnlock()

	now := time.Now().UTC()
	rec, ok := h.hist.Update(recordID, func(r *schemas.HealingRecord) {
		if success {
			r.LastOutcome = schemas.OutcomeSuccess
			r.SuccessCount++
		} else {
			r.LastOutcome = schemas.OutcomeFailure
			r.FailureCount++
			r.LastFailureAt = now
		}
	})
	if !ok {
		h.log.Error("Outcome reported for unknown healing record",
			zap.String("record_id", recordID),
			zap.Bool("success", success),
		)
		return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	if !success && cfg.RollbackAfterFailures > 0 {
		recent := h.hist.RecentFailureCount(rec.Context, rec.HealedLocator, h.failureWindow)
		if recent >= cfg.RollbackAfterFailures {
			h.rollback(rec, errorMessage, recent)
		}
	}

	if h.model != nil {
		label := 0
		if success {
			label = 1
		}
		h.model.Train([]TrainingSample{{Features: rec.Features, Label: label}})
	}

	h.persistDebounced(ctx)
	return nil
}

// rollback transitions an auto-applied record to rolled-back (at most once)
// and suppresses its locator for the context.
func (h *Healer) rollback(rec schemas.HealingRecord, errorMessage string, recentFailures int) {
	reason := fmt.Sprintf("%d recent failures", recentFailures)
	if errorMessage != "" {
		reason += ": " + errorMessage
	}

	rolled := false
	h.hist.Update(rec.ID, func(r *schemas.HealingRecord) {
		if r.Status != schemas.StatusAutoApplied || r.Rollback != nil {
			return
		}
		r.Status = schemas.StatusRolledBack
		r.Rollback = &schemas.RollbackInfo{Timestamp: time.Now().UTC(), Reason: reason}
		rolled = true
	})

	// The locator has proven unreliable regardless of which record tripped
	// the threshold; suppress it for the context either way.
	h.hist.MarkUnreliable(rec.Context, rec.HealedLocator)

	if rolled {
		h.log.Warn("Healing rolled back",
			zap.String("record_id", rec.ID),
			zap.String("context", rec.Context),
			zap.String("healed_locator", rec.HealedLocator),
			zap.String("reason", reason),
		)
	}
}

// Approve moves a pending record to approved.
func (h *Healer) Approve(ctx context.Context, recordID string) error {
	return h.resolvePending(ctx, recordID, schemas.StatusApproved)
}

// Reject moves a pending record to rejected.
func (h *Healer) Reject(ctx context.Context, recordID string) error {
	return h.resolvePending(ctx, recordID, schemas.StatusRejected)
}

func (h *Healer) resolvePending(ctx context.Context, recordID string, target schemas.HealingStatus) error {
	var invalid bool
	_, ok := h.hist.Update(recordID, func(r *schemas.HealingRecord) {
		if r.Status != schemas.StatusPending {
			invalid = true
			return
		}
		r.Status = target
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if invalid {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, recordID)
	}

	h.persistDebounced(ctx)
	return nil
}

// History returns copies of the records for one context.
func (h *Healer) History(contextKey string) []schemas.HealingRecord {
	return h.hist.Get(contextKey)
}

// SuppressedLocators lists locators excluded from healing in this context due
// to rollbacks.
func (h *Healer) SuppressedLocators(contextKey string) []string {
	return h.hist.UnreliableLocators(contextKey)
}

// Statistics aggregates the healing history.
func (h *Healer) Statistics() schemas.Statistics {
	return h.hist.Statistics()
}

// Cleanup prunes rejected records older than the given age and reports how
// many were removed.
func (h *Healer) Cleanup(ctx context.Context, olderThan time.Duration) int {
	if olderThan <= 0 {
		olderThan = h.retention
	}
	removed := h.hist.Cleanup(olderThan)
	if removed > 0 {
		h.persistDebounced(ctx)
	}
	return removed
}

// Config returns the current policy configuration.
func (h *Healer) Config() schemas.AutoHealingConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// UpdateConfig replaces the policy configuration and persists it immediately.
func (h *Healer) UpdateConfig(ctx context.Context, cfg schemas.AutoHealingConfig) error {
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", cfg.ConfidenceThreshold)
	}

	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()

	if h.repo != nil {
		blob, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to serialize healing config: %w", err)
		}
		if err := h.repo.Set(ctx, configStateKey, blob); err != nil {
			return fmt.Errorf("failed to persist healing config: %w", err)
		}
	}
	return nil
}

// StrategyPriors returns the active strategy table in priority order.
func (h *Healer) StrategyPriors() []schemas.StrategyPrior {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gen.Priors()
}

// UpdateStrategyPriors replaces the strategy table and rebuilds the
// generation/scoring pipeline.
func (h *Healer) UpdateStrategyPriors(priors []schemas.StrategyPrior) error {
	if len(priors) == 0 {
		return errors.New("strategy priors must not be empty")
	}
	for _, p := range priors {
		if p.Stability < 0 || p.Stability > 1 {
			return fmt.Errorf("stability %v for strategy %s outside [0,1]", p.Stability, p.Strategy)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.priors = append([]schemas.StrategyPrior(nil), priors...)
	h.rebuildPipelineLocked()
	return nil
}

// SaveState writes history, model state and config to the repository. Safe to
// call at shutdown; a nil repository makes it a no-op.
func (h *Healer) SaveState(ctx context.Context) error {
	if h.repo == nil {
		return nil
	}

	if err := h.hist.SaveTo(ctx, h.repo); err != nil {
		return err
	}

	if h.model != nil {
		blob, err := h.model.Save()
		if err != nil {
			return err
		}
		if err := h.repo.Set(ctx, modelStateKey, blob); err != nil {
			return fmt.Errorf("failed to persist model state: %w", err)
		}
	}

	h.mu.RLock()
	cfg := h.cfg
	h.mu.RUnlock()
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize healing config: %w", err)
	}
	if err := h.repo.Set(ctx, configStateKey, blob); err != nil {
		return fmt.Errorf("failed to persist healing config: %w", err)
	}
	return nil
}

// persistDebounced writes state through the repository at a bounded rate.
// Failures are logged, never propagated: persistence is best-effort on the
// hot path and SaveState exists for an authoritative flush.
func (h *Healer) persistDebounced(ctx context.Context) {
	if h.repo == nil || !h.saveLimiter.Allow() {
		return
	}
	if err := h.SaveState(ctx); err != nil {
		h.log.Warn("Failed to persist healing state", zap.Error(err))
	}
}
