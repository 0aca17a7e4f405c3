package healing

import "errors"

// Errors surfaced to callers by AutoHeal and the outcome/approval operations.
// Everything else in the engine degrades instead of failing: feature
// extraction and candidate generation return defaults, and model failures fall
// back to heuristic scoring internally.
var (
	// ErrHealingDisabled means auto-healing is switched off in the config;
	// the caller should skip healing entirely.
	ErrHealingDisabled = errors.New("healing: auto-healing is disabled")

	// ErrNoSuitableLocator means every candidate scored below the confidence
	// threshold. The original failure stands; retriable only after a config
	// change.
	ErrNoSuitableLocator = errors.New("healing: no candidate cleared the confidence threshold")

	// ErrRecordNotFound means an outcome or approval referenced an unknown
	// record id. This is a caller error and is logged loudly.
	ErrRecordNotFound = errors.New("healing: record not found")

	// ErrInvalidTransition means an approval or rejection targeted a record
	// that is not pending.
	ErrInvalidTransition = errors.New("healing: record is not pending")
)
