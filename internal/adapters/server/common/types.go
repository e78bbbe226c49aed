// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a request that lost to the current work unit state.
var ErrConflict = errors.New("conflict")

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrServiceUnavailable reports a missing backing service.
var ErrServiceUnavailable = errors.New("service unavailable")

// WorkUnit is the transport view of one work unit.
type WorkUnit struct {
	Scope           string    `json:"scope"`
	Path            string    `json:"path"`
	Status          string    `json:"status"`
	Owner           string    `json:"owner,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
	DurationSeconds *int64    `json:"duration_seconds,omitempty"`
}

// ContributorStats is the transport view of one contributor's share of a scope.
type ContributorStats struct {
	Contributor      string `json:"contributor"`
	InProgress       int    `json:"in_progress"`
	Done             int    `json:"done"`
	TimeSpentSeconds int64  `json:"time_spent_seconds"`
}

// ScopeStats is the transport view of one scope's progress.
type ScopeStats struct {
	Scope                 string             `json:"scope"`
	Total                 int                `json:"total"`
	Available             int                `json:"available"`
	InProgress            int                `json:"in_progress"`
	Done                  int                `json:"done"`
	TotalTimeSpentSeconds int64              `json:"total_time_spent_seconds"`
	Contributors          []ContributorStats `json:"contributors"`
}

// ActivityEvent is the transport view of one activity ledger entry.
type ActivityEvent struct {
	ID            string            `json:"id,omitempty"`
	Scope         string            `json:"scope"`
	Path          string            `json:"path,omitempty"`
	Operation     string            `json:"operation"`
	Actor         string            `json:"actor,omitempty"`
	PreviousOwner string            `json:"previous_owner,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// ListUnitsRequest filters one scope listing. An empty Status lists every unit.
type ListUnitsRequest struct {
	Scope  string
	Status string
}

// PublishRequest replaces the units of one scope.
type PublishRequest struct {
	Scope string   `json:"-"`
	Paths []string `json:"paths"`
}

// ClaimRequest claims one or more paths of a scope for a contributor.
type ClaimRequest struct {
	Scope       string   `json:"-"`
	Paths       []string `json:"paths"`
	Contributor string   `json:"-"`
}

// ClaimResult lists the paths that were claimed, in request order.
type ClaimResult struct {
	Scope       string   `json:"scope"`
	Contributor string   `json:"contributor"`
	Claimed     []string `json:"claimed"`
}

// TransitionRequest addresses one unit for lookup, release, complete or reopen.
type TransitionRequest struct {
	Scope       string `json:"-"`
	Path        string `json:"path"`
	Contributor string `json:"-"`
}

// ActivityRequest lists recent activity for one scope.
type ActivityRequest struct {
	Scope string
	Limit int
}

// WorkService is the transport-facing work unit surface shared by HTTP and MCP adapters.
type WorkService interface {
	ListScopes(context.Context) ([]string, error)
	ListUnits(context.Context, ListUnitsRequest) ([]WorkUnit, error)
	PublishScope(context.Context, PublishRequest) ([]WorkUnit, error)
	ClearScope(context.Context, string) error
	GetUnit(context.Context, TransitionRequest) (WorkUnit, error)
	ClaimUnits(context.Context, ClaimRequest) (ClaimResult, error)
	ReleaseUnit(context.Context, TransitionRequest) (WorkUnit, error)
	CompleteUnit(context.Context, TransitionRequest) (WorkUnit, error)
	ReopenUnit(context.Context, TransitionRequest) (WorkUnit, error)
	ScopeStats(context.Context, string) (ScopeStats, error)
	ListActivity(context.Context, ActivityRequest) ([]ActivityEvent, error)
}
