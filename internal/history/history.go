// Package history is the append-only log of healing attempts and the
// aggregate statistics derived from it. The store owns all record mutation:
// appends and outcome updates for a context are serialized behind one lock so
// outcome counting and rollback-threshold checks stay correct even if callers
// overlap.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/relock/api/schemas"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// recordsKey is the repository key for the persisted state blob; records and
// the unreliable registry travel together in one payload.
const recordsKey = "healing/records"

// DefaultRetention is how long rejected records are kept before Cleanup may
// prune them.
const DefaultRetention = 30 * 24 * time.Hour

// topStrategyLimit bounds the per-strategy breakdown in Statistics.
const topStrategyLimit = 5

// Store holds healing records partitioned by context key, plus the registry
// of locators marked unreliable by rollbacks.
type Store struct {
	mu         sync.RWMutex
	records    map[string][]*schemas.HealingRecord // context -> records in append order
	byID       map[string]*schemas.HealingRecord
	unreliable map[string]map[string]time.Time // context -> locator -> marked at
	log        *zap.Logger
}

// persistedState is the serialized form of the store.
type persistedState struct {
	Records    map[string][]*schemas.HealingRecord `json:"records"`
	Unreliable map[string]map[string]time.Time     `json:"unreliable"`
}

// NewStore creates an empty history store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records:    make(map[string][]*schemas.HealingRecord),
		byID:       make(map[string]*schemas.HealingRecord),
		unreliable: make(map[string]map[string]time.Time),
		log:        logger.Named("history"),
	}
}

// Append adds a record to its context partition, in call order.
func (s *Store) Append(rec schemas.HealingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec
	s.records[rec.Context] = append(s.records[rec.Context], &stored)
	s.byID[rec.ID] = &stored
}

// Get returns copies of all records for a context, in append order.
func (s *Store) Get(contextKey string) []schemas.HealingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[contextKey]
	out := make([]schemas.HealingRecord, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}

// Find returns a copy of the record with the given id.
func (s *Store) Find(id string) (schemas.HealingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return schemas.HealingRecord{}, false
	}
	return *r, true
}

// Update applies fn to the record with the given id under the store lock and
// returns a copy of the result. Returns false when the id is unknown.
func (s *Store) Update(id string, fn func(*schemas.HealingRecord)) (schemas.HealingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return schemas.HealingRecord{}, false
	}
	fn(r)
	return *r, true
}

// RecentFailureCount sums failures across records in the context that share
// the healed locator, counting a record only when its most recent failure
// falls inside the window. Per-failure timestamps are not retained, so the
// window applies to each record's latest failure.
func (s *Store) RecentFailureCount(contextKey, healedLocator string, window time.Duration) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, r := range s.records[contextKey] {
		if r.HealedLocator == healedLocator && r.FailureCount > 0 && r.LastFailureAt.After(cutoff) {
			count += r.FailureCount
		}
	}
	return count
}

// PriorOutcomes sums successes and failures for an exact healed locator in
// the context, counting only records created within the retention window.
func (s *Store) PriorOutcomes(contextKey, healedLocator string, retention time.Duration) (successes, failures int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-retention)
	for _, r := range s.records[contextKey] {
		if r.HealedLocator != healedLocator || r.CreatedAt.Before(cutoff) {
			continue
		}
		successes += r.SuccessCount
		failures += r.FailureCount
	}
	return successes, failures
}

// MarkUnreliable records a locator as globally unreliable for the context, so
// future healing runs suppress it.
func (s *Store) MarkUnreliable(contextKey, locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unreliable[contextKey] == nil {
		s.unreliable[contextKey] = make(map[string]time.Time)
	}
	s.unreliable[contextKey][locator] = time.Now()
}

// IsUnreliable reports whether the locator was rolled back in this context.
func (s *Store) IsUnreliable(contextKey, locator string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.unreliable[contextKey][locator]
	return ok
}

// UnreliableLocators returns the suppressed locators for a context.
func (s *Store) UnreliableLocators(contextKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.unreliable[contextKey]))
	for loc := range s.unreliable[contextKey] {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// Cleanup removes rejected records older than the cutoff and returns how many
// were pruned. Records in any other status are never auto-pruned.
func (s *Store) Cleanup(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for ctxKey, recs := range s.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.Status == schemas.StatusRejected && r.CreatedAt.Before(cutoff) {
				delete(s.byID, r.ID)
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.records, ctxKey)
		} else {
			s.records[ctxKey] = kept
		}
	}

	if removed > 0 {
		s.log.Info("Pruned rejected healing records", zap.Int("removed", removed))
	}
	return removed
}

// Statistics aggregates the whole history: outcome rates, auto-heal and
// rollback shares, mean confidence, and the per-strategy breakdown derived
// from the healed locator strings.
func (s *Store) Statistics() schemas.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := schemas.Statistics{}
	var confidenceSum float64
	successes, failures := 0, 0
	autoHealed, rolledBack := 0, 0

	type strategyAgg struct {
		count     int
		successes int
		failures  int
	}
	perStrategy := make(map[schemas.StrategyKind]*strategyAgg)

	for _, recs := range s.records {
		for _, r := range recs {
			stats.Total++
			confidenceSum += r.Confidence
			successes += r.SuccessCount
			failures += r.FailureCount

			switch r.Status {
			case schemas.StatusAutoApplied:
				autoHealed++
			case schemas.StatusRolledBack:
				// Rolled-back records were auto-applied first.
				autoHealed++
				rolledBack++
			}

			kind := strategyFromLocator(r.HealedLocator)
			agg := perStrategy[kind]
			if agg == nil {
				agg = &strategyAgg{}
				perStrategy[kind] = agg
			}
			agg.count++
			agg.successes += r.SuccessCount
			agg.failures += r.FailureCount
		}
	}

	if stats.Total == 0 {
		return stats
	}

	if successes+failures > 0 {
		stats.SuccessRate = float64(successes) / float64(successes+failures)
	}
	stats.AutoHealRate = float64(autoHealed) / float64(stats.Total)
	stats.RollbackRate = float64(rolledBack) / float64(stats.Total)
	stats.AverageConfidence = confidenceSum / float64(stats.Total)

	for kind, agg := range perStrategy {
		ss := schemas.StrategyStats{Strategy: kind, Count: agg.count}
		if agg.successes+agg.failures > 0 {
			ss.SuccessRate = float64(agg.successes) / float64(agg.successes+agg.failures)
		}
		stats.TopStrategies = append(stats.TopStrategies, ss)
	}
	sort.Slice(stats.TopStrategies, func(i, j int) bool {
		if stats.TopStrategies[i].Count != stats.TopStrategies[j].Count {
			return stats.TopStrategies[i].Count > stats.TopStrategies[j].Count
		}
		return stats.TopStrategies[i].Strategy < stats.TopStrategies[j].Strategy
	})
	if len(stats.TopStrategies) > topStrategyLimit {
		stats.TopStrategies = stats.TopStrategies[:topStrategyLimit]
	}

	return stats
}

// strategyFromLocator recovers the strategy kind from a healed locator string
// by prefix shape. Unknown shapes default to css.
func strategyFromLocator(locator string) schemas.StrategyKind {
	switch {
	case strings.HasPrefix(locator, "[data-testid="), strings.HasPrefix(locator, "[data-test="):
		return schemas.StrategyTestID
	case strings.HasPrefix(locator, "#"):
		return schemas.StrategyID
	case strings.HasPrefix(locator, "[aria-label="):
		return schemas.StrategyAria
	case strings.HasPrefix(locator, "[role="):
		return schemas.StrategyRole
	case strings.HasPrefix(locator, "[name="):
		return schemas.StrategyName
	case strings.HasPrefix(locator, "[placeholder="):
		return schemas.StrategyPlaceholder
	case strings.Contains(locator, ":has-text("):
		return schemas.StrategyText
	case strings.HasPrefix(locator, "//"), strings.HasPrefix(locator, "/"):
		return schemas.StrategyXPath
	default:
		return schemas.StrategyCSS
	}
}

// SaveTo serializes the store into the repository.
func (s *Store) SaveTo(ctx context.Context, repo schemas.StateRepository) error {
	s.mu.RLock()
	state := persistedState{
		Records:    s.records,
		Unreliable: s.unreliable,
	}
	blob, err := json.Marshal(state)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to serialize healing history: %w", err)
	}

	if err := repo.Set(ctx, recordsKey, blob); err != nil {
		return fmt.Errorf("failed to persist healing history: %w", err)
	}
	return nil
}

// LoadFrom restores the store from the repository, replacing current state.
// A missing key is not an error; the store simply starts empty.
func (s *Store) LoadFrom(ctx context.Context, repo schemas.StateRepository) error {
	blob, err := repo.Get(ctx, recordsKey)
	if err != nil {
		return err
	}

	var state persistedState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("failed to parse healing history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = state.Records
	if s.records == nil {
		s.records = make(map[string][]*schemas.HealingRecord)
	}
	s.unreliable = state.Unreliable
	if s.unreliable == nil {
		s.unreliable = make(map[string]map[string]time.Time)
	}
	s.byID = make(map[string]*schemas.HealingRecord)
	for _, recs := range s.records {
		for _, r := range recs {
			s.byID[r.ID] = r
		}
	}
	return nil
}
