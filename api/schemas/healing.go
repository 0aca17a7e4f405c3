package schemas

import "time"

// -- Healing Lifecycle Schemas --

// HealingStatus is the lifecycle state of a healing record.
// Valid transitions: pending -> approved | rejected, and on the automatic
// path pending -> auto-applied -> rolled-back. approved, rejected and
// rolled-back are terminal; auto-applied may still roll back.
type HealingStatus string

const (
	StatusPending     HealingStatus = "pending"
	StatusApproved    HealingStatus = "approved"
	StatusRejected    HealingStatus = "rejected"
	StatusAutoApplied HealingStatus = "auto-applied"
	StatusRolledBack  HealingStatus = "rolled-back"
)

// Outcome is the last reported result of executing a healed locator.
type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// RollbackInfo records why and when an auto-applied healing was reverted.
// It is stamped at most once per record.
type RollbackInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// HealingRecord is one healing attempt: the broken locator, the replacement
// the engine chose, and the outcome history reported back by the caller.
// Records are append-only apart from outcome accounting and the single
// rollback stamp; rejected records are subject to retention pruning.
type HealingRecord struct {
	ID              string        `json:"id"`
	Context         string        `json:"context"`
	OriginalLocator string        `json:"originalLocator"`
	HealedLocator   string        `json:"healedLocator"`
	Strategy        StrategyKind  `json:"strategy"`
	Confidence      float64       `json:"confidence"`
	Status          HealingStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastOutcome     Outcome       `json:"lastOutcome"`
	SuccessCount    int           `json:"successCount"`
	FailureCount    int           `json:"failureCount"`
	LastFailureAt   time.Time     `json:"lastFailureAt,omitempty"`
	Rollback        *RollbackInfo `json:"rollback,omitempty"`
	// Features is the element's feature vector captured at healing time, kept
	// so outcome reports can feed the learned model without re-capturing.
	Features FeatureVector `json:"features"`
}

// HealingDecision is what AutoHeal returns to the caller: the locator to try
// and whether it was applied automatically or awaits approval.
type HealingDecision struct {
	RecordID         string       `json:"recordId"`
	HealedLocator    string       `json:"healedLocator"`
	Strategy         StrategyKind `json:"strategy"`
	Confidence       float64      `json:"confidence"`
	AutoApplied      bool         `json:"autoApplied"`
	RequiresApproval bool         `json:"requiresApproval"`
}

// StrategyStats aggregates healing outcomes for one strategy kind.
type StrategyStats struct {
	Strategy    StrategyKind `json:"strategy"`
	Count       int          `json:"count"`
	SuccessRate float64      `json:"successRate"`
}

// Statistics summarizes the healing history.
type Statistics struct {
	Total             int             `json:"total"`
	SuccessRate       float64         `json:"successRate"`
	AutoHealRate      float64         `json:"autoHealRate"`
	RollbackRate      float64         `json:"rollbackRate"`
	AverageConfidence float64         `json:"averageConfidence"`
	TopStrategies     []StrategyStats `json:"topStrategies"`
}

// AutoHealingConfig governs the orchestrator's policy branching.
type AutoHealingConfig struct {
	Enabled             bool    `json:"enabled"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	// MaxRetries bounds how many ranked candidates are considered per healing
	// attempt; zero means no bound.
	MaxRetries                int  `json:"maxRetries"`
	RollbackAfterFailures     int  `json:"rollbackAfterFailures"`
	RequireUserApproval       bool `json:"requireUserApproval"`
	AutoApproveHighConfidence bool `json:"autoApproveHighConfidence"`
}
