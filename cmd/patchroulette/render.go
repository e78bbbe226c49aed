package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	servercommon "github.com/hylla/patchroulette/internal/adapters/server/common"
)

// timestampLayout renders unit and event times in local, minute-precision form.
const timestampLayout = "2006-01-02 15:04"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
)

// newTable returns a rounded table with the shared header and cell styles.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// renderUnits writes one row per unit.
func renderUnits(w io.Writer, units []servercommon.WorkUnit) error {
	if len(units) == 0 {
		_, err := fmt.Fprintln(w, "No units found.")
		return err
	}
	t := newTable("PATH", "STATUS", "OWNER", "UPDATED", "TOOK")
	for _, unit := range units {
		t.Row(unit.Path, unit.Status, dashIfEmpty(unit.Owner), unit.LastUpdated.Local().Format(timestampLayout), formatSeconds(unit.DurationSeconds))
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// renderStats writes the scope summary followed by the per-contributor table.
func renderStats(w io.Writer, stats servercommon.ScopeStats) error {
	if _, err := fmt.Fprintf(w, "%s: %d total, %d available, %d in progress, %d done, %s spent\n",
		stats.Scope, stats.Total, stats.Available, stats.InProgress, stats.Done,
		humanDuration(stats.TotalTimeSpentSeconds)); err != nil {
		return err
	}
	if len(stats.Contributors) == 0 {
		return nil
	}
	t := newTable("CONTRIBUTOR", "IN PROGRESS", "DONE", "TIME SPENT")
	for _, c := range stats.Contributors {
		t.Row(c.Contributor, fmt.Sprint(c.InProgress), fmt.Sprint(c.Done), humanDuration(c.TimeSpentSeconds))
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// renderActivity writes events in the order given, newest first.
func renderActivity(w io.Writer, events []servercommon.ActivityEvent) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No activity recorded.")
		return err
	}
	t := newTable("WHEN", "OPERATION", "PATH", "ACTOR", "PREVIOUS OWNER")
	for _, event := range events {
		t.Row(event.OccurredAt.Local().Format(timestampLayout), event.Operation, dashIfEmpty(event.Path), dashIfEmpty(event.Actor), dashIfEmpty(event.PreviousOwner))
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// describeUnit summarizes a unit's state for one-line command output.
func describeUnit(unit servercommon.WorkUnit) string {
	if unit.Owner == "" {
		return unit.Status
	}
	return unit.Status + " by " + unit.Owner
}

func formatSeconds(seconds *int64) string {
	if seconds == nil {
		return "-"
	}
	return humanDuration(*seconds)
}

func humanDuration(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
