package domain

import "time"

// ChangeOperation describes a persisted activity operation for a work unit.
type ChangeOperation string

// ChangeOperation values used by the activity ledger.
const (
	ChangeOperationPublish  ChangeOperation = "publish"
	ChangeOperationClaim    ChangeOperation = "claim"
	ChangeOperationRelease  ChangeOperation = "release"
	ChangeOperationComplete ChangeOperation = "complete"
	ChangeOperationReopen   ChangeOperation = "reopen"
	ChangeOperationImport   ChangeOperation = "import"
)

// ChangeEvent represents a single activity-log entry for a scope.
// Path is empty for scope-wide operations such as publish and import.
type ChangeEvent struct {
	ID            string
	Scope         string
	Path          string
	Operation     ChangeOperation
	Actor         string
	PreviousOwner string
	Metadata      map[string]string
	OccurredAt    time.Time
}

// ClassifyTransition derives the activity operation that moved a unit from prev to next.
// It reports false when the status did not change.
func ClassifyTransition(prev, next WorkUnit) (ChangeOperation, bool) {
	from, to := prev.State.Status(), next.State.Status()
	switch {
	case from == StatusAvailable && to == StatusInProgress:
		return ChangeOperationClaim, true
	case from == StatusInProgress && to == StatusAvailable:
		return ChangeOperationRelease, true
	case from == StatusInProgress && to == StatusDone:
		return ChangeOperationComplete, true
	case from == StatusDone && to == StatusInProgress:
		return ChangeOperationReopen, true
	default:
		return "", false
	}
}
