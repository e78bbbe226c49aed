package app

import (
	"errors"
	"testing"
	"time"

	"github.com/hylla/patchroulette/internal/domain"
)

func statsUnit(t *testing.T, path string, status domain.Status, owner string, end time.Time, spent time.Duration) domain.WorkUnit {
	t.Helper()
	state, err := domain.RestoreState(status, owner)
	if err != nil {
		t.Fatalf("RestoreState() error = %v", err)
	}
	unit := domain.WorkUnit{Scope: "1.20", Path: path, State: state, LastUpdated: end}
	if spent > 0 {
		unit.Duration = &spent
	}
	return unit
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 1, hour, minute, 0, 0, time.UTC)
}

func TestAggregateStatsMergesPerContributor(t *testing.T) {
	units := []domain.WorkUnit{
		statsUnit(t, "A.java", domain.StatusDone, "alice", at(10, 30), 30*time.Minute),
		statsUnit(t, "B.java", domain.StatusDone, "alice", at(10, 45), 30*time.Minute),
		statsUnit(t, "C.java", domain.StatusDone, "alice", at(11, 10), 10*time.Minute),
		statsUnit(t, "D.java", domain.StatusDone, "bob", at(10, 30), 30*time.Minute),
		statsUnit(t, "E.java", domain.StatusAvailable, "", at(9, 0), 0),
	}

	stats, err := AggregateStats("1.20", units)
	if err != nil {
		t.Fatalf("AggregateStats() error = %v", err)
	}
	if stats.Total != 5 || stats.Available != 1 || stats.Done != 4 || stats.InProgress != 0 {
		t.Fatalf("unexpected counters %#v", stats)
	}
	if len(stats.Contributors) != 2 {
		t.Fatalf("expected 2 contributors, got %#v", stats.Contributors)
	}
	alice, bob := stats.Contributors[0], stats.Contributors[1]
	if alice.Contributor != "alice" || alice.Done != 3 || alice.TimeSpent != 55*time.Minute {
		t.Fatalf("unexpected alice stats %#v", alice)
	}
	// bob overlaps alice in wall-clock time but is never merged with her.
	if bob.Contributor != "bob" || bob.TimeSpent != 30*time.Minute {
		t.Fatalf("unexpected bob stats %#v", bob)
	}
	if stats.TotalTimeSpent != 85*time.Minute {
		t.Fatalf("total = %v, want 85m", stats.TotalTimeSpent)
	}
}

func TestAggregateStatsRanking(t *testing.T) {
	units := []domain.WorkUnit{
		statsUnit(t, "A.java", domain.StatusInProgress, "zoe", at(9, 0), 0),
		statsUnit(t, "B.java", domain.StatusDone, "mia", at(9, 0), time.Minute),
		statsUnit(t, "C.java", domain.StatusInProgress, "mia", at(9, 5), 0),
		statsUnit(t, "D.java", domain.StatusDone, "adam", at(9, 0), time.Minute),
	}

	stats, err := AggregateStats("1.20", units)
	if err != nil {
		t.Fatalf("AggregateStats() error = %v", err)
	}
	got := []string{}
	for _, entry := range stats.Contributors {
		got = append(got, entry.Contributor)
	}
	want := []string{"mia", "adam", "zoe"}
	if len(got) != len(want) {
		t.Fatalf("ranking = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranking = %v, want %v", got, want)
		}
	}
	if stats.Contributors[2].InProgress != 1 || stats.Contributors[2].TimeSpent != 0 {
		t.Fatalf("unexpected zoe stats %#v", stats.Contributors[2])
	}
}

func TestAggregateStatsEmptyScope(t *testing.T) {
	stats, err := AggregateStats("1.20", nil)
	if err != nil {
		t.Fatalf("AggregateStats() error = %v", err)
	}
	if stats.Total != 0 || len(stats.Contributors) != 0 || stats.TotalTimeSpent != 0 {
		t.Fatalf("expected empty stats, got %#v", stats)
	}
}

func TestAggregateStatsRejectsNegativeDuration(t *testing.T) {
	unit := statsUnit(t, "A.java", domain.StatusDone, "alice", at(10, 0), time.Minute)
	negative := -time.Minute
	unit.Duration = &negative

	_, err := AggregateStats("1.20", []domain.WorkUnit{unit})
	if !errors.Is(err, domain.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}
