package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/patchroulette/internal/domain"
)

// defaultActivityLimit caps activity listings when callers pass no limit.
const defaultActivityLimit = 50

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	DefaultActivityLimit int
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service coordinates work unit claims over a Repository.
type Service struct {
	repo          Repository
	idGen         IDGenerator
	clock         Clock
	activityLimit int
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.DefaultActivityLimit <= 0 {
		cfg.DefaultActivityLimit = defaultActivityLimit
	}
	return &Service{
		repo:          repo,
		idGen:         idGen,
		clock:         clock,
		activityLimit: cfg.DefaultActivityLimit,
	}
}

// Publish replaces every unit of scope with fresh available units, one per distinct path.
func (s *Service) Publish(ctx context.Context, scope string, paths []string) ([]domain.WorkUnit, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, domain.ErrInvalidScope
	}
	now := s.clock().UTC()
	units := make([]domain.WorkUnit, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		unit, err := domain.NewWorkUnit(scope, path, now)
		if err != nil {
			return nil, fmt.Errorf("publish %q: %w", path, err)
		}
		if _, ok := seen[unit.Path]; ok {
			continue
		}
		seen[unit.Path] = struct{}{}
		units = append(units, unit)
	}

	event := domain.ChangeEvent{
		ID:         s.idGen(),
		Scope:      scope,
		Operation:  domain.ChangeOperationPublish,
		Metadata:   map[string]string{"paths": strconv.Itoa(len(units))},
		OccurredAt: now,
	}
	if err := s.repo.ReplaceScope(ctx, scope, units, event); err != nil {
		return nil, err
	}
	return units, nil
}

// Clear deletes every unit of scope.
func (s *Service) Clear(ctx context.Context, scope string) error {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return domain.ErrInvalidScope
	}
	return s.repo.DeleteScope(ctx, scope)
}

// ListScopes lists every scope that currently has units.
func (s *Service) ListScopes(ctx context.Context) ([]string, error) {
	return s.repo.ListScopes(ctx)
}

// ListAvailable lists the units of scope that can be claimed.
func (s *Service) ListAvailable(ctx context.Context, scope string) ([]domain.WorkUnit, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, domain.ErrInvalidScope
	}
	return s.repo.ListWorkUnitsByStatus(ctx, scope, domain.StatusAvailable)
}

// ListAll lists every unit of scope.
func (s *Service) ListAll(ctx context.Context, scope string) ([]domain.WorkUnit, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, domain.ErrInvalidScope
	}
	return s.repo.ListWorkUnits(ctx, scope)
}

// GetWorkUnit returns one unit.
func (s *Service) GetWorkUnit(ctx context.Context, scope, path string) (domain.WorkUnit, error) {
	key, err := domain.NewWorkUnitKey(scope, path)
	if err != nil {
		return domain.WorkUnit{}, err
	}
	return s.repo.GetWorkUnit(ctx, key)
}

// Claim moves one available unit into progress under contributor.
func (s *Service) Claim(ctx context.Context, scope, path, contributor string) (domain.WorkUnit, error) {
	if err := requireContributor(contributor); err != nil {
		return domain.WorkUnit{}, err
	}
	return s.transition(ctx, scope, path, contributor, func(unit *domain.WorkUnit, now time.Time) error {
		return unit.Claim(contributor, now)
	})
}

// ClaimMany claims each path independently and returns the paths that were claimed,
// in request order. Paths that are taken, unknown or malformed are skipped. An empty
// result is reported as ErrNothingClaimed, unless every attempt failed for a reason
// other than contention, in which case those errors are returned.
func (s *Service) ClaimMany(ctx context.Context, scope string, paths []string, contributor string) ([]string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, domain.ErrInvalidScope
	}
	if err := requireContributor(contributor); err != nil {
		return nil, err
	}

	claimed := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	var failures []error
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}

		unit, err := s.Claim(ctx, scope, path, contributor)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return claimed, ctxErr
			}
			if !isContention(err) {
				failures = append(failures, fmt.Errorf("claim %q: %w", path, err))
			}
			continue
		}
		claimed = append(claimed, unit.Path)
	}
	if len(claimed) == 0 {
		if len(failures) > 0 {
			return claimed, errors.Join(failures...)
		}
		return claimed, ErrNothingClaimed
	}
	return claimed, nil
}

// Release returns one in-progress unit to the pool.
func (s *Service) Release(ctx context.Context, scope, path string) (domain.WorkUnit, error) {
	return s.transition(ctx, scope, path, "", func(unit *domain.WorkUnit, now time.Time) error {
		return unit.Release(now)
	})
}

// Complete marks one in-progress unit owned by contributor as done.
func (s *Service) Complete(ctx context.Context, scope, path, contributor string) (domain.WorkUnit, error) {
	if err := requireContributor(contributor); err != nil {
		return domain.WorkUnit{}, err
	}
	return s.transition(ctx, scope, path, contributor, func(unit *domain.WorkUnit, now time.Time) error {
		return unit.Complete(contributor, now)
	})
}

// Reopen moves one done unit back into progress under contributor.
func (s *Service) Reopen(ctx context.Context, scope, path, contributor string) (domain.WorkUnit, error) {
	if err := requireContributor(contributor); err != nil {
		return domain.WorkUnit{}, err
	}
	return s.transition(ctx, scope, path, contributor, func(unit *domain.WorkUnit, now time.Time) error {
		return unit.Reopen(contributor, now)
	})
}

// Stats aggregates counters and merged time spent for scope.
func (s *Service) Stats(ctx context.Context, scope string) (Stats, error) {
	units, err := s.ListAll(ctx, scope)
	if err != nil {
		return Stats{}, err
	}
	return AggregateStats(strings.TrimSpace(scope), units)
}

// ListActivity lists recent activity for scope, newest first.
func (s *Service) ListActivity(ctx context.Context, scope string, limit int) ([]domain.ChangeEvent, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, domain.ErrInvalidScope
	}
	if limit <= 0 {
		limit = s.activityLimit
	}
	return s.repo.ListChangeEvents(ctx, scope, limit)
}

// transition applies one state machine step to the unit at (scope, path) atomically.
// actor is recorded on the activity event; when empty the previous owner is used.
func (s *Service) transition(ctx context.Context, scope, path, actor string, apply func(*domain.WorkUnit, time.Time) error) (domain.WorkUnit, error) {
	key, err := domain.NewWorkUnitKey(scope, path)
	if err != nil {
		return domain.WorkUnit{}, err
	}
	unit, err := s.repo.UpdateWorkUnit(ctx, key, func(current domain.WorkUnit) (domain.WorkUnit, domain.ChangeEvent, error) {
		next := current
		now := s.clock()
		if err := apply(&next, now); err != nil {
			return domain.WorkUnit{}, domain.ChangeEvent{}, err
		}
		op, _ := domain.ClassifyTransition(current, next)
		previousOwner, _ := current.Owner()
		eventActor := actor
		if eventActor == "" {
			eventActor = previousOwner
		}
		return next, domain.ChangeEvent{
			ID:            s.idGen(),
			Scope:         next.Scope,
			Path:          next.Path,
			Operation:     op,
			Actor:         eventActor,
			PreviousOwner: previousOwner,
			OccurredAt:    next.LastUpdated,
		}, nil
	})
	if err != nil {
		return domain.WorkUnit{}, fmt.Errorf("%s: %w", key, err)
	}
	return unit, nil
}

// isContention reports whether err is an expected outcome of competing claims.
func isContention(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrOwnershipMismatch) ||
		errors.Is(err, domain.ErrInvalidPath) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConcurrentUpdate)
}

func requireContributor(contributor string) error {
	if strings.TrimSpace(contributor) == "" {
		return domain.ErrInvalidContributor
	}
	return nil
}
