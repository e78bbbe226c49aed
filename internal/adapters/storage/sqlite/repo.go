package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/patchroulette/internal/app"
	"github.com/hylla/patchroulette/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// maxCASAttempts bounds how often UpdateWorkUnit re-reads a row after losing a race.
const maxCASAttempts = 8

// busyTimeoutMillis is how long a connection waits on a locked database.
const busyTimeoutMillis = 5000

// Repository is the SQLite work unit store.
type Repository struct {
	db *sql.DB
}

var _ app.Repository = (*Repository)(nil)

// Open opens or creates the database file at path and applies migrations.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, fileDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens a private in-memory database. Every call gets its own database.
func OpenInMemory() (*Repository, error) {
	dsn := fmt.Sprintf("file:patchroulette-%s?mode=memory&cache=shared&_pragma=busy_timeout(%d)", uuid.NewString(), busyTimeoutMillis)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// The in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	return newRepository(db)
}

func newRepository(db *sql.DB) (*Repository, error) {
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// fileDSN builds a DSN that enables WAL and a busy timeout on every pooled connection.
// Transactions take the write lock up front so concurrent writers queue on the busy
// timeout instead of failing on a stale snapshot.
func fileDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_units (
			scope TEXT NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			owner TEXT NOT NULL DEFAULT '',
			last_updated TEXT NOT NULL,
			duration_ns INTEGER,
			version INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (scope, path)
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			previous_owner TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version_clock (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			value INTEGER NOT NULL
		);`,
		`INSERT OR IGNORE INTO version_clock(id, value)
			SELECT 1, COALESCE(MAX(version), 0) FROM work_units;`,
		`CREATE INDEX IF NOT EXISTS idx_work_units_scope_status ON work_units(scope, status, path);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_scope_seq ON change_events(scope, seq DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// ReplaceScope deletes every unit of scope and inserts units in one transaction.
// Inserted rows take a fresh version stamp, so a write computed against a unit from
// an earlier publish of the scope can never match the new row.
func (r *Repository) ReplaceScope(ctx context.Context, scope string, units []domain.WorkUnit, event domain.ChangeEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM work_units WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("clear scope %q: %w", scope, err)
	}
	version, err := nextVersion(ctx, tx)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO work_units(scope, path, status, owner, last_updated, duration_ns, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, unit := range units {
		owner, _ := unit.Owner()
		if _, err = stmt.ExecContext(ctx, unit.Scope, unit.Path, string(unit.Status()), owner, ts(unit.LastUpdated), nullableDuration(unit.Duration), version); err != nil {
			return fmt.Errorf("insert %s: %w", unit.Key(), err)
		}
	}
	if err = insertChangeEvent(ctx, tx, event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// DeleteScope deletes every unit of scope. Activity history is kept.
func (r *Repository) DeleteScope(ctx context.Context, scope string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM work_units WHERE scope = ?`, scope)
	return err
}

// ListScopes lists scopes that have at least one unit.
func (r *Repository) ListScopes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT scope FROM work_units ORDER BY scope ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		out = append(out, scope)
	}
	return out, rows.Err()
}

// GetWorkUnit returns one unit.
func (r *Repository) GetWorkUnit(ctx context.Context, key domain.WorkUnitKey) (domain.WorkUnit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT scope, path, status, owner, last_updated, duration_ns, version
		FROM work_units
		WHERE scope = ? AND path = ?
	`, key.Scope, key.Path)
	unit, err := scanWorkUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkUnit{}, app.ErrNotFound
	}
	return unit, err
}

// ListWorkUnits lists every unit of scope ordered by path.
func (r *Repository) ListWorkUnits(ctx context.Context, scope string) ([]domain.WorkUnit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, path, status, owner, last_updated, duration_ns, version
		FROM work_units
		WHERE scope = ?
		ORDER BY path ASC
	`, scope)
	if err != nil {
		return nil, err
	}
	return collectWorkUnits(rows)
}

// ListWorkUnitsByStatus lists the units of scope in status ordered by path.
func (r *Repository) ListWorkUnitsByStatus(ctx context.Context, scope string, status domain.Status) ([]domain.WorkUnit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, path, status, owner, last_updated, duration_ns, version
		FROM work_units
		WHERE scope = ? AND status = ?
		ORDER BY path ASC
	`, scope, string(status))
	if err != nil {
		return nil, err
	}
	return collectWorkUnits(rows)
}

// UpdateWorkUnit reads the unit at key, applies mutate and writes the result only if
// no other writer changed the row in between. A lost race re-reads the row and runs
// mutate again against the fresh state, up to maxCASAttempts times.
func (r *Repository) UpdateWorkUnit(ctx context.Context, key domain.WorkUnitKey, mutate app.WorkUnitMutation) (domain.WorkUnit, error) {
	for range maxCASAttempts {
		current, err := r.GetWorkUnit(ctx, key)
		if err != nil {
			return domain.WorkUnit{}, err
		}
		next, event, err := mutate(current)
		if err != nil {
			return domain.WorkUnit{}, err
		}
		version, swapped, err := r.compareAndSwap(ctx, current.Version, next, event)
		if err != nil {
			return domain.WorkUnit{}, err
		}
		if swapped {
			next.Version = version
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return domain.WorkUnit{}, err
		}
	}
	return domain.WorkUnit{}, app.ErrConcurrentUpdate
}

// compareAndSwap writes next and its event if the stored version still equals expected.
// The written row takes a new stamp from the store-wide version clock.
func (r *Repository) compareAndSwap(ctx context.Context, expected int64, next domain.WorkUnit, event domain.ChangeEvent) (version int64, swapped bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err != nil || !swapped {
			_ = tx.Rollback()
		}
	}()

	version, err = nextVersion(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	owner, _ := next.Owner()
	res, err := tx.ExecContext(ctx, `
		UPDATE work_units
		SET status = ?, owner = ?, last_updated = ?, duration_ns = ?, version = ?
		WHERE scope = ? AND path = ? AND version = ?
	`,
		string(next.Status()),
		owner,
		ts(next.LastUpdated),
		nullableDuration(next.Duration),
		version,
		next.Scope,
		next.Path,
		expected,
	)
	if err != nil {
		return 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		return 0, false, nil
	}
	if err = insertChangeEvent(ctx, tx, event); err != nil {
		return 0, false, err
	}
	if err = tx.Commit(); err != nil {
		return 0, false, err
	}
	return version, true, nil
}

// nextVersion advances the version clock inside tx. Stamps are never reused, even
// after a scope is cleared or republished.
func nextVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `UPDATE version_clock SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("advance version clock: %w", err)
	}
	return version, nil
}

// ListChangeEvents lists recent scope events, newest first.
func (r *Repository) ListChangeEvents(ctx context.Context, scope string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scope, path, operation, actor, previous_owner, metadata_json, created_at
		FROM change_events
		WHERE scope = ?
		ORDER BY seq DESC
		LIMIT ?
	`, scope, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.Scope, &event.Path, &opRaw, &event.Actor, &event.PreviousOwner, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = domain.ChangeOperation(opRaw)
		event.OccurredAt = parseTS(createdRaw)
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode change_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// insertChangeEvent inserts an activity ledger record.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO change_events(id, scope, path, operation, actor, previous_owner, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Scope,
		event.Path,
		string(event.Operation),
		event.Actor,
		event.PreviousOwner,
		string(metadataJSON),
		ts(occurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

func collectWorkUnits(rows *sql.Rows) ([]domain.WorkUnit, error) {
	defer rows.Close()
	out := make([]domain.WorkUnit, 0)
	for rows.Next() {
		unit, err := scanWorkUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

// scanWorkUnit decodes one row and rejects rows whose status and owner disagree.
func scanWorkUnit(s scanner) (domain.WorkUnit, error) {
	var (
		unit       domain.WorkUnit
		statusRaw  string
		owner      string
		updatedRaw string
		durationNS sql.NullInt64
	)
	if err := s.Scan(&unit.Scope, &unit.Path, &statusRaw, &owner, &updatedRaw, &durationNS, &unit.Version); err != nil {
		return domain.WorkUnit{}, err
	}
	state, err := domain.RestoreState(domain.Status(statusRaw), owner)
	if err != nil {
		return domain.WorkUnit{}, fmt.Errorf("decode work unit %s:%s: %w", unit.Scope, unit.Path, err)
	}
	unit.State = state
	unit.LastUpdated = parseTS(updatedRaw)
	if durationNS.Valid {
		d := time.Duration(durationNS.Int64)
		unit.Duration = &d
	}
	return unit, nil
}

func nullableDuration(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return int64(*d)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
