package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/patchroulette/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "patchroulette.snapshot.v1"

// Snapshot is a portable copy of the work unit state of one or more scopes.
type Snapshot struct {
	Version    string         `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Units      []SnapshotUnit `json:"units"`
}

// SnapshotUnit represents one persisted work unit in a snapshot.
type SnapshotUnit struct {
	Scope       string    `json:"scope"`
	Path        string    `json:"path"`
	Status      string    `json:"status"`
	Owner       string    `json:"owner,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	DurationNS  *int64    `json:"duration_ns,omitempty"`
}

// ExportSnapshot copies the units of the given scopes, or of every scope when none are given.
func (s *Service) ExportSnapshot(ctx context.Context, scopes ...string) (Snapshot, error) {
	if len(scopes) == 0 {
		all, err := s.repo.ListScopes(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		scopes = all
	}

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Units:      make([]SnapshotUnit, 0),
	}
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			return Snapshot{}, domain.ErrInvalidScope
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}

		units, err := s.repo.ListWorkUnits(ctx, scope)
		if err != nil {
			return Snapshot{}, err
		}
		for _, unit := range units {
			snap.Units = append(snap.Units, snapshotUnitFromDomain(unit))
		}
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot replaces every scope named in snap with the snapshot's units.
// Scopes absent from the snapshot are left untouched.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	byScope := map[string][]domain.WorkUnit{}
	order := make([]string, 0)
	for _, su := range snap.Units {
		unit, err := su.toDomain()
		if err != nil {
			return err
		}
		if _, ok := byScope[unit.Scope]; !ok {
			order = append(order, unit.Scope)
		}
		byScope[unit.Scope] = append(byScope[unit.Scope], unit)
	}

	now := s.clock().UTC()
	for _, scope := range order {
		units := byScope[scope]
		event := domain.ChangeEvent{
			ID:        s.idGen(),
			Scope:     scope,
			Operation: domain.ChangeOperationImport,
			Metadata: map[string]string{
				"units":       strconv.Itoa(len(units)),
				"exported_at": snap.ExportedAt.UTC().Format(time.RFC3339),
			},
			OccurredAt: now,
		}
		if err := s.repo.ReplaceScope(ctx, scope, units, event); err != nil {
			return fmt.Errorf("import scope %q: %w", scope, err)
		}
	}
	return nil
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}

	keys := map[domain.WorkUnitKey]struct{}{}
	for i, u := range s.Units {
		key, err := domain.NewWorkUnitKey(u.Scope, u.Path)
		if err != nil {
			return fmt.Errorf("units[%d]: %w", i, err)
		}
		if _, exists := keys[key]; exists {
			return fmt.Errorf("duplicate unit: %s", key)
		}
		keys[key] = struct{}{}
		if u.LastUpdated.IsZero() {
			return fmt.Errorf("units[%d].last_updated is required", i)
		}
		if u.DurationNS != nil && *u.DurationNS < 0 {
			return fmt.Errorf("units[%d].duration_ns: %w", i, domain.ErrInvalidInterval)
		}
		if _, err := u.toDomain(); err != nil {
			return fmt.Errorf("units[%d]: %w", i, err)
		}
	}
	return nil
}

// sort orders units by scope, then path.
func (s *Snapshot) sort() {
	sort.Slice(s.Units, func(i, j int) bool {
		a := s.Units[i]
		b := s.Units[j]
		if a.Scope == b.Scope {
			return a.Path < b.Path
		}
		return a.Scope < b.Scope
	})
}

// snapshotUnitFromDomain handles snapshot unit from domain.
func snapshotUnitFromDomain(unit domain.WorkUnit) SnapshotUnit {
	owner, _ := unit.Owner()
	out := SnapshotUnit{
		Scope:       unit.Scope,
		Path:        unit.Path,
		Status:      string(unit.Status()),
		Owner:       owner,
		LastUpdated: unit.LastUpdated.UTC(),
	}
	if unit.Duration != nil {
		ns := int64(*unit.Duration)
		out.DurationNS = &ns
	}
	return out
}

// toDomain rebuilds the unit, enforcing the status/owner pairing.
func (u SnapshotUnit) toDomain() (domain.WorkUnit, error) {
	key, err := domain.NewWorkUnitKey(u.Scope, u.Path)
	if err != nil {
		return domain.WorkUnit{}, err
	}
	status, err := domain.ParseStatus(u.Status)
	if err != nil {
		return domain.WorkUnit{}, err
	}
	state, err := domain.RestoreState(status, strings.TrimSpace(u.Owner))
	if err != nil {
		return domain.WorkUnit{}, err
	}
	unit := domain.WorkUnit{
		Scope:       key.Scope,
		Path:        key.Path,
		State:       state,
		LastUpdated: u.LastUpdated.UTC(),
	}
	if u.DurationNS != nil {
		d := time.Duration(*u.DurationNS)
		unit.Duration = &d
	}
	return unit, nil
}
