package app

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/hylla/patchroulette/internal/domain"
)

// ContributorStats summarizes one contributor's share of a scope.
type ContributorStats struct {
	Contributor string
	InProgress  int
	Done        int
	TimeSpent   time.Duration
}

// Stats summarizes one scope.
type Stats struct {
	Scope          string
	Total          int
	Available      int
	InProgress     int
	Done           int
	Contributors   []ContributorStats
	TotalTimeSpent time.Duration
}

// AggregateStats tallies units by status and computes each contributor's time spent from
// the merged spans of the units they own. Spans are never merged across contributors.
// Contributors are ordered by done+in-progress descending, then by name.
func AggregateStats(scope string, units []domain.WorkUnit) (Stats, error) {
	stats := Stats{Scope: scope, Total: len(units)}
	byContributor := map[string]*ContributorStats{}
	intervals := map[string][]domain.TimeInterval{}

	for _, unit := range units {
		status := unit.Status()
		switch status {
		case domain.StatusAvailable:
			stats.Available++
		case domain.StatusInProgress:
			stats.InProgress++
		case domain.StatusDone:
			stats.Done++
		}

		owner, owned := unit.Owner()
		if !owned {
			continue
		}
		entry, ok := byContributor[owner]
		if !ok {
			entry = &ContributorStats{Contributor: owner}
			byContributor[owner] = entry
		}
		switch status {
		case domain.StatusInProgress:
			entry.InProgress++
		case domain.StatusDone:
			entry.Done++
		}
		if interval, ok := unit.Interval(); ok {
			intervals[owner] = append(intervals[owner], interval)
		}
	}

	for owner, spans := range intervals {
		merged, err := domain.MergeOverlapping(spans)
		if err != nil {
			return Stats{}, fmt.Errorf("merge intervals for %q: %w", owner, err)
		}
		spent := domain.TotalDuration(merged)
		byContributor[owner].TimeSpent = spent
		stats.TotalTimeSpent += spent
	}

	stats.Contributors = make([]ContributorStats, 0, len(byContributor))
	for _, entry := range byContributor {
		stats.Contributors = append(stats.Contributors, *entry)
	}
	slices.SortFunc(stats.Contributors, func(a, b ContributorStats) int {
		if c := cmp.Compare(b.Done+b.InProgress, a.Done+a.InProgress); c != 0 {
			return c
		}
		return cmp.Compare(a.Contributor, b.Contributor)
	})
	return stats, nil
}
