package app

import (
	"context"

	"github.com/hylla/patchroulette/internal/domain"
)

// WorkUnitMutation computes the next record from the current one, plus the activity
// event stored with it. The store may call it more than once when a concurrent writer
// wins the compare-and-swap, so it must not have side effects beyond its return values.
type WorkUnitMutation func(current domain.WorkUnit) (domain.WorkUnit, domain.ChangeEvent, error)

// Repository is the durable work unit store. UpdateWorkUnit must apply the read,
// the mutation and the write as one atomic unit for the given key.
type Repository interface {
	ReplaceScope(context.Context, string, []domain.WorkUnit, domain.ChangeEvent) error
	DeleteScope(context.Context, string) error
	ListScopes(context.Context) ([]string, error)

	GetWorkUnit(context.Context, domain.WorkUnitKey) (domain.WorkUnit, error)
	ListWorkUnits(context.Context, string) ([]domain.WorkUnit, error)
	ListWorkUnitsByStatus(context.Context, string, domain.Status) ([]domain.WorkUnit, error)
	UpdateWorkUnit(context.Context, domain.WorkUnitKey, WorkUnitMutation) (domain.WorkUnit, error)

	ListChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
}
