package domain

import (
	"fmt"
	"slices"
	"time"
)

// TimeInterval is one closed span of recorded work.
type TimeInterval struct {
	Contributor string
	Start       time.Time
	End         time.Time
}

// Duration returns End - Start.
func (i TimeInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// MergeOverlapping coalesces intervals into sorted, pairwise-disjoint spans.
// Intervals that merely touch are merged. The input slice is not reordered.
// An interval ending before it starts is rejected with ErrInvalidInterval.
func MergeOverlapping(intervals []TimeInterval) ([]TimeInterval, error) {
	if len(intervals) == 0 {
		return intervals, nil
	}
	for idx, interval := range intervals {
		if interval.End.Before(interval.Start) {
			return nil, fmt.Errorf("interval %d ends before it starts: %w", idx, ErrInvalidInterval)
		}
	}

	sorted := slices.Clone(intervals)
	slices.SortFunc(sorted, func(a, b TimeInterval) int {
		return a.Start.Compare(b.Start)
	})

	merged := make([]TimeInterval, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if !next.Start.After(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)
	return merged, nil
}

// TotalDuration sums the lengths of already-merged intervals.
func TotalDuration(merged []TimeInterval) time.Duration {
	var total time.Duration
	for _, interval := range merged {
		total += interval.Duration()
	}
	return total
}
