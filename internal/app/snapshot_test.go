package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hylla/patchroulette/internal/domain"
)

func TestExportImportSnapshotRoundTripsState(t *testing.T) {
	ctx := context.Background()
	source := newTestService(t, newFakeRepo())
	publish(t, source, "1.20", "B.java", "A.java", "C.java")
	publish(t, source, "1.21", "D.java")
	if _, err := source.Claim(ctx, "1.20", "A.java", "alice"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := source.Complete(ctx, "1.20", "A.java", "alice"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := source.Claim(ctx, "1.20", "B.java", "bob"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	snap, err := source.ExportSnapshot(ctx, "1.20")
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if snap.Version != SnapshotVersion || snap.ExportedAt.IsZero() {
		t.Fatalf("unexpected snapshot header %#v", snap)
	}
	if len(snap.Units) != 3 || snap.Units[0].Path != "A.java" || snap.Units[2].Path != "C.java" {
		t.Fatalf("expected three sorted units, got %#v", snap.Units)
	}
	if snap.Units[0].Status != "done" || snap.Units[0].Owner != "alice" || snap.Units[0].DurationNS == nil {
		t.Fatalf("unexpected exported done unit %#v", snap.Units[0])
	}

	targetRepo := newFakeRepo()
	target := newTestService(t, targetRepo)
	publish(t, target, "1.20", "stale.java")
	publish(t, target, "1.22", "E.java")
	if err := target.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}

	units, err := target.ListAll(ctx, "1.20")
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(units) != 3 || units[0].Path != "A.java" {
		t.Fatalf("expected imported scope to replace stale units, got %#v", units)
	}
	owner, _ := units[0].Owner()
	if units[0].Status() != domain.StatusDone || owner != "alice" {
		t.Fatalf("unexpected imported unit %#v", units[0])
	}
	if units[0].Duration == nil || *units[0].Duration != time.Duration(*snap.Units[0].DurationNS) {
		t.Fatalf("expected duration to survive import, got %v", units[0].Duration)
	}
	if _, err := target.Complete(ctx, "1.20", "B.java", "bob"); err != nil {
		t.Fatalf("expected imported claim to remain completable, got %v", err)
	}

	untouched, err := target.ListAll(ctx, "1.22")
	if err != nil || len(untouched) != 1 {
		t.Fatalf("expected scope outside the snapshot to survive, got %#v err=%v", untouched, err)
	}

	activity, err := target.ListActivity(ctx, "1.20", 10)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(activity) < 2 || activity[1].Operation != domain.ChangeOperationImport || activity[1].Metadata["units"] != "3" {
		t.Fatalf("expected import event before the complete, got %#v", activity)
	}
}

func TestExportSnapshotAllScopes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRepo())
	publish(t, svc, "1.21", "B.java")
	publish(t, svc, "1.20", "A.java")

	snap, err := svc.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if len(snap.Units) != 2 || snap.Units[0].Scope != "1.20" || snap.Units[1].Scope != "1.21" {
		t.Fatalf("unexpected units %#v", snap.Units)
	}
	if _, err := svc.ExportSnapshot(ctx, " "); !errors.Is(err, domain.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestSnapshotValidateRejectsBadUnits(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	negative := int64(-1)
	cases := []struct {
		name string
		snap Snapshot
		want string
	}{
		{
			name: "version",
			snap: Snapshot{Version: "other.v9"},
			want: "unsupported snapshot version",
		},
		{
			name: "duplicate",
			snap: Snapshot{Units: []SnapshotUnit{
				{Scope: "1.20", Path: "A.java", Status: "available", LastUpdated: now},
				{Scope: "1.20", Path: " A.java", Status: "available", LastUpdated: now},
			}},
			want: "duplicate unit",
		},
		{
			name: "available with owner",
			snap: Snapshot{Units: []SnapshotUnit{
				{Scope: "1.20", Path: "A.java", Status: "available", Owner: "alice", LastUpdated: now},
			}},
			want: domain.ErrInvalidState.Error(),
		},
		{
			name: "unknown status",
			snap: Snapshot{Units: []SnapshotUnit{
				{Scope: "1.20", Path: "A.java", Status: "porting", LastUpdated: now},
			}},
			want: domain.ErrInvalidStatus.Error(),
		},
		{
			name: "missing timestamp",
			snap: Snapshot{Units: []SnapshotUnit{
				{Scope: "1.20", Path: "A.java", Status: "available"},
			}},
			want: "last_updated is required",
		},
		{
			name: "negative duration",
			snap: Snapshot{Units: []SnapshotUnit{
				{Scope: "1.20", Path: "A.java", Status: "done", Owner: "alice", LastUpdated: now, DurationNS: &negative},
			}},
			want: domain.ErrInvalidInterval.Error(),
		},
		{
			name: "empty scope",
			snap: Snapshot{Units: []SnapshotUnit{
				{Path: "A.java", Status: "available", LastUpdated: now},
			}},
			want: domain.ErrInvalidScope.Error(),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.snap.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestImportSnapshotInvalidWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(t, repo)
	publish(t, svc, "1.20", "A.java")

	err := svc.ImportSnapshot(ctx, Snapshot{Units: []SnapshotUnit{
		{Scope: "1.20", Path: "B.java", Status: "in_progress", LastUpdated: time.Now()},
	}})
	if err == nil {
		t.Fatal("expected validation error for in_progress unit without owner")
	}
	units, _ := svc.ListAll(ctx, "1.20")
	if len(units) != 1 || units[0].Path != "A.java" {
		t.Fatalf("expected scope unchanged, got %#v", units)
	}
}
