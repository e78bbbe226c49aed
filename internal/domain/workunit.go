package domain

import (
	"strings"
	"time"
)

// Status represents the lifecycle status of one work unit.
type Status string

// Canonical work unit statuses.
const (
	StatusAvailable  Status = "available"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// maxPathLength bounds the stored path identifier.
const maxPathLength = 1024

// ParseStatus normalizes one external status value. "wip" is accepted as an alias of in_progress.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusAvailable):
		return StatusAvailable, nil
	case string(StatusInProgress), "in-progress", "wip":
		return StatusInProgress, nil
	case string(StatusDone):
		return StatusDone, nil
	default:
		return "", ErrInvalidStatus
	}
}

// State couples a status with its owner. An owner can only be set together with
// StatusInProgress or StatusDone; the zero value is an available, unowned state.
type State struct {
	status Status
	owner  string
}

// Available returns the unowned available state.
func Available() State {
	return State{status: StatusAvailable}
}

// InProgress returns an in-progress state owned by contributor.
func InProgress(contributor string) (State, error) {
	if err := validateContributor(contributor); err != nil {
		return State{}, err
	}
	return State{status: StatusInProgress, owner: contributor}, nil
}

// Done returns a done state attributed to contributor.
func Done(contributor string) (State, error) {
	if err := validateContributor(contributor); err != nil {
		return State{}, err
	}
	return State{status: StatusDone, owner: contributor}, nil
}

// RestoreState rebuilds a state from persisted columns and rejects combinations
// that violate the status/owner pairing.
func RestoreState(status Status, owner string) (State, error) {
	switch status {
	case StatusAvailable, "":
		if owner != "" {
			return State{}, ErrInvalidState
		}
		return Available(), nil
	case StatusInProgress, StatusDone:
		if strings.TrimSpace(owner) == "" {
			return State{}, ErrInvalidState
		}
		return State{status: status, owner: owner}, nil
	default:
		return State{}, ErrInvalidStatus
	}
}

// Status returns the lifecycle status.
func (s State) Status() Status {
	if s.status == "" {
		return StatusAvailable
	}
	return s.status
}

// Owner returns the owning contributor, if any.
func (s State) Owner() (string, bool) {
	return s.owner, s.owner != ""
}

// WorkUnitKey is the natural key of one work unit.
type WorkUnitKey struct {
	Scope string
	Path  string
}

// NewWorkUnitKey validates and normalizes one key.
func NewWorkUnitKey(scope, path string) (WorkUnitKey, error) {
	scope = strings.TrimSpace(scope)
	path = strings.TrimSpace(path)
	if scope == "" {
		return WorkUnitKey{}, ErrInvalidScope
	}
	if path == "" || len(path) > maxPathLength {
		return WorkUnitKey{}, ErrInvalidPath
	}
	return WorkUnitKey{Scope: scope, Path: path}, nil
}

// String renders the key for logs and error messages.
func (k WorkUnitKey) String() string {
	return k.Scope + ":" + k.Path
}

// WorkUnit is one claimable unit of porting work.
type WorkUnit struct {
	Scope       string
	Path        string
	State       State
	LastUpdated time.Time
	Duration    *time.Duration
	// Version is maintained by the store and guards compare-and-swap writes.
	Version int64
}

// NewWorkUnit constructs a fresh available unit.
func NewWorkUnit(scope, path string, now time.Time) (WorkUnit, error) {
	key, err := NewWorkUnitKey(scope, path)
	if err != nil {
		return WorkUnit{}, err
	}
	return WorkUnit{
		Scope:       key.Scope,
		Path:        key.Path,
		State:       Available(),
		LastUpdated: now.UTC(),
	}, nil
}

// Key returns the unit's natural key.
func (u WorkUnit) Key() WorkUnitKey {
	return WorkUnitKey{Scope: u.Scope, Path: u.Path}
}

// Status returns the unit's lifecycle status.
func (u WorkUnit) Status() Status {
	return u.State.Status()
}

// Owner returns the owning contributor, if any.
func (u WorkUnit) Owner() (string, bool) {
	return u.State.Owner()
}

// Claim moves an available unit into progress under contributor.
func (u *WorkUnit) Claim(contributor string, now time.Time) error {
	if u.State.Status() != StatusAvailable {
		return ErrInvalidTransition
	}
	if _, owned := u.State.Owner(); owned {
		return ErrInvalidTransition
	}
	next, err := InProgress(contributor)
	if err != nil {
		return err
	}
	u.State = next
	u.touch(now)
	return nil
}

// Release returns an in-progress unit to the pool and banks the elapsed time.
func (u *WorkUnit) Release(now time.Time) error {
	if u.State.Status() != StatusInProgress {
		return ErrInvalidTransition
	}
	u.extendDuration(now)
	u.State = Available()
	u.touch(now)
	return nil
}

// Complete marks an in-progress unit done. Only the owner may complete it.
func (u *WorkUnit) Complete(contributor string, now time.Time) error {
	if u.State.Status() != StatusInProgress {
		return ErrInvalidTransition
	}
	owner, _ := u.State.Owner()
	if owner != contributor {
		return ErrOwnershipMismatch
	}
	next, err := Done(owner)
	if err != nil {
		return err
	}
	u.extendDuration(now)
	u.State = next
	u.touch(now)
	return nil
}

// Reopen moves a done unit back into progress under contributor, who need not be
// the contributor that completed it.
func (u *WorkUnit) Reopen(contributor string, now time.Time) error {
	if u.State.Status() != StatusDone {
		return ErrInvalidTransition
	}
	next, err := InProgress(contributor)
	if err != nil {
		return err
	}
	u.State = next
	u.touch(now)
	return nil
}

// Interval derives the wall-clock span recorded for this unit. It reports false
// when the unit has no owner or no accumulated duration.
func (u WorkUnit) Interval() (TimeInterval, bool) {
	owner, owned := u.State.Owner()
	if !owned || u.Duration == nil {
		return TimeInterval{}, false
	}
	end := u.LastUpdated.UTC()
	return TimeInterval{
		Contributor: owner,
		Start:       end.Add(-*u.Duration),
		End:         end,
	}, true
}

// extendDuration adds the time elapsed since the last update. A clock that stepped
// backwards contributes nothing.
func (u *WorkUnit) extendDuration(now time.Time) {
	elapsed := now.UTC().Sub(u.LastUpdated)
	if elapsed < 0 {
		elapsed = 0
	}
	total := elapsed
	if u.Duration != nil {
		total += *u.Duration
	}
	u.Duration = &total
}

// touch refreshes LastUpdated without ever moving it backwards.
func (u *WorkUnit) touch(now time.Time) {
	ts := now.UTC()
	if ts.Before(u.LastUpdated) {
		ts = u.LastUpdated.UTC()
	}
	u.LastUpdated = ts
}

func validateContributor(contributor string) error {
	if strings.TrimSpace(contributor) == "" {
		return ErrInvalidContributor
	}
	return nil
}
