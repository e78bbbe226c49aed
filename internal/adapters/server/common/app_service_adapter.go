package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/patchroulette/internal/app"
	"github.com/hylla/patchroulette/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service work unit APIs.
type AppServiceAdapter struct {
	service *app.Service
}

var _ WorkService = (*AppServiceAdapter)(nil)

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// ListScopes lists every published scope.
func (a *AppServiceAdapter) ListScopes(ctx context.Context) ([]string, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	scopes, err := a.service.ListScopes(ctx)
	if err != nil {
		return nil, mapAppError("list scopes", err)
	}
	return scopes, nil
}

// ListUnits lists the units of one scope, optionally filtered to one status.
func (a *AppServiceAdapter) ListUnits(ctx context.Context, in ListUnitsRequest) ([]WorkUnit, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var (
		units []domain.WorkUnit
		err   error
	)
	switch raw := strings.TrimSpace(in.Status); raw {
	case "", "all":
		units, err = a.service.ListAll(ctx, in.Scope)
	default:
		status, parseErr := domain.ParseStatus(raw)
		if parseErr != nil {
			return nil, mapAppError("list units", fmt.Errorf("status %q: %w", raw, parseErr))
		}
		if status == domain.StatusAvailable {
			units, err = a.service.ListAvailable(ctx, in.Scope)
			break
		}
		units, err = a.service.ListAll(ctx, in.Scope)
		units = filterStatus(units, status)
	}
	if err != nil {
		return nil, mapAppError("list units", err)
	}
	return mapWorkUnits(units), nil
}

// PublishScope replaces the units of one scope.
func (a *AppServiceAdapter) PublishScope(ctx context.Context, in PublishRequest) ([]WorkUnit, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	units, err := a.service.Publish(ctx, in.Scope, in.Paths)
	if err != nil {
		return nil, mapAppError("publish scope", err)
	}
	return mapWorkUnits(units), nil
}

// ClearScope deletes every unit of one scope.
func (a *AppServiceAdapter) ClearScope(ctx context.Context, scope string) error {
	if err := a.ready(); err != nil {
		return err
	}
	return mapAppError("clear scope", a.service.Clear(ctx, scope))
}

// ClaimUnits claims the requested paths and reports which ones were taken.
func (a *AppServiceAdapter) ClaimUnits(ctx context.Context, in ClaimRequest) (ClaimResult, error) {
	if err := a.ready(); err != nil {
		return ClaimResult{}, err
	}
	paths := distinctPaths(in.Paths)
	if len(paths) == 0 {
		return ClaimResult{}, fmt.Errorf("claim units: at least one path is required: %w", ErrInvalidRequest)
	}
	var claimed []string
	if len(paths) == 1 {
		// A single claim reports why it failed, so an unknown path stays distinguishable from a taken one.
		unit, err := a.service.Claim(ctx, in.Scope, paths[0], in.Contributor)
		if err != nil {
			return ClaimResult{}, mapAppError("claim unit", err)
		}
		claimed = []string{unit.Path}
	} else {
		var err error
		claimed, err = a.service.ClaimMany(ctx, in.Scope, paths, in.Contributor)
		if err != nil {
			return ClaimResult{}, mapAppError("claim units", err)
		}
	}
	return ClaimResult{
		Scope:       strings.TrimSpace(in.Scope),
		Contributor: in.Contributor,
		Claimed:     claimed,
	}, nil
}

// distinctPaths trims paths and drops blanks and repeats, keeping request order.
func distinctPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}

// GetUnit returns one unit.
func (a *AppServiceAdapter) GetUnit(ctx context.Context, in TransitionRequest) (WorkUnit, error) {
	if err := a.ready(); err != nil {
		return WorkUnit{}, err
	}
	unit, err := a.service.GetWorkUnit(ctx, in.Scope, in.Path)
	if err != nil {
		return WorkUnit{}, mapAppError("get unit", err)
	}
	return mapWorkUnit(unit), nil
}

// ReleaseUnit returns one unit to the pool.
func (a *AppServiceAdapter) ReleaseUnit(ctx context.Context, in TransitionRequest) (WorkUnit, error) {
	if err := a.ready(); err != nil {
		return WorkUnit{}, err
	}
	unit, err := a.service.Release(ctx, in.Scope, in.Path)
	if err != nil {
		return WorkUnit{}, mapAppError("release unit", err)
	}
	return mapWorkUnit(unit), nil
}

// CompleteUnit marks one unit done.
func (a *AppServiceAdapter) CompleteUnit(ctx context.Context, in TransitionRequest) (WorkUnit, error) {
	if err := a.ready(); err != nil {
		return WorkUnit{}, err
	}
	unit, err := a.service.Complete(ctx, in.Scope, in.Path, in.Contributor)
	if err != nil {
		return WorkUnit{}, mapAppError("complete unit", err)
	}
	return mapWorkUnit(unit), nil
}

// ReopenUnit moves one done unit back into progress.
func (a *AppServiceAdapter) ReopenUnit(ctx context.Context, in TransitionRequest) (WorkUnit, error) {
	if err := a.ready(); err != nil {
		return WorkUnit{}, err
	}
	unit, err := a.service.Reopen(ctx, in.Scope, in.Path, in.Contributor)
	if err != nil {
		return WorkUnit{}, mapAppError("reopen unit", err)
	}
	return mapWorkUnit(unit), nil
}

// ScopeStats aggregates progress for one scope.
func (a *AppServiceAdapter) ScopeStats(ctx context.Context, scope string) (ScopeStats, error) {
	if err := a.ready(); err != nil {
		return ScopeStats{}, err
	}
	stats, err := a.service.Stats(ctx, scope)
	if err != nil {
		return ScopeStats{}, mapAppError("scope stats", err)
	}
	return mapStats(stats), nil
}

// ListActivity lists recent activity for one scope, newest first.
func (a *AppServiceAdapter) ListActivity(ctx context.Context, in ActivityRequest) ([]ActivityEvent, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, fmt.Errorf("list activity: limit must be >= 0: %w", ErrInvalidRequest)
	}
	events, err := a.service.ListActivity(ctx, in.Scope, in.Limit)
	if err != nil {
		return nil, mapAppError("list activity", err)
	}
	out := make([]ActivityEvent, 0, len(events))
	for _, event := range events {
		out = append(out, ActivityEvent{
			ID:            event.ID,
			Scope:         event.Scope,
			Path:          event.Path,
			Operation:     string(event.Operation),
			Actor:         event.Actor,
			PreviousOwner: event.PreviousOwner,
			Metadata:      event.Metadata,
			OccurredAt:    event.OccurredAt,
		})
	}
	return out, nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrServiceUnavailable)
	}
	return nil
}

func filterStatus(units []domain.WorkUnit, status domain.Status) []domain.WorkUnit {
	out := make([]domain.WorkUnit, 0, len(units))
	for _, unit := range units {
		if unit.Status() == status {
			out = append(out, unit)
		}
	}
	return out
}

func mapWorkUnits(units []domain.WorkUnit) []WorkUnit {
	out := make([]WorkUnit, 0, len(units))
	for _, unit := range units {
		out = append(out, mapWorkUnit(unit))
	}
	return out
}

func mapWorkUnit(unit domain.WorkUnit) WorkUnit {
	owner, _ := unit.Owner()
	out := WorkUnit{
		Scope:       unit.Scope,
		Path:        unit.Path,
		Status:      string(unit.Status()),
		Owner:       owner,
		LastUpdated: unit.LastUpdated,
	}
	if unit.Duration != nil {
		seconds := int64(*unit.Duration / time.Second)
		out.DurationSeconds = &seconds
	}
	return out
}

func mapStats(stats app.Stats) ScopeStats {
	out := ScopeStats{
		Scope:                 stats.Scope,
		Total:                 stats.Total,
		Available:             stats.Available,
		InProgress:            stats.InProgress,
		Done:                  stats.Done,
		TotalTimeSpentSeconds: int64(stats.TotalTimeSpent / time.Second),
		Contributors:          make([]ContributorStats, 0, len(stats.Contributors)),
	}
	for _, entry := range stats.Contributors {
		out.Contributors = append(out.Contributors, ContributorStats{
			Contributor:      entry.Contributor,
			InProgress:       entry.InProgress,
			Done:             entry.Done,
			TimeSpentSeconds: int64(entry.TimeSpent / time.Second),
		})
	}
	return out
}

// mapAppError maps app/domain errors into transport-level error categories.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOwnershipMismatch),
		errors.Is(err, app.ErrConcurrentUpdate),
		errors.Is(err, app.ErrNothingClaimed):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, domain.ErrInvalidScope),
		errors.Is(err, domain.ErrInvalidPath),
		errors.Is(err, domain.ErrInvalidContributor),
		errors.Is(err, domain.ErrInvalidStatus):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
