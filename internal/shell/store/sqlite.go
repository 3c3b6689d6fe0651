package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/rampup/internal/core/plan"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Mapping
// =============================================================================

// runRow is the database representation of a run. Step and probe outcomes
// are stored as JSON columns; they are read back whole, never queried into.
type runRow struct {
	ID           string       `db:"id"`
	Root         string       `db:"root"`
	Phase        string       `db:"phase"`
	FailedPhase  string       `db:"failed_phase"`
	Success      bool         `db:"success"`
	ErrorMessage string       `db:"error_message"`
	SourcePaths  string       `db:"source_paths"`
	SkippedPaths string       `db:"skipped_paths"`
	Steps        string       `db:"steps"`
	Probes       string       `db:"probes"`
	StartedAt    time.Time    `db:"started_at"`
	FinishedAt   sql.NullTime `db:"finished_at"`
}

func toRow(result *plan.RunResult) (*runRow, error) {
	sourcePaths, err := json.Marshal(orEmpty(result.SourcePaths))
	if err != nil {
		return nil, err
	}
	skippedPaths, err := json.Marshal(orEmpty(result.SkippedPaths))
	if err != nil {
		return nil, err
	}
	steps, err := json.Marshal(result.Steps)
	if err != nil {
		return nil, err
	}
	probes, err := json.Marshal(result.Probes)
	if err != nil {
		return nil, err
	}

	row := &runRow{
		ID:           result.ID,
		Root:         result.Root,
		Phase:        string(result.Phase),
		FailedPhase:  string(result.FailedPhase),
		Success:      result.Success,
		ErrorMessage: result.ErrorMessage,
		SourcePaths:  string(sourcePaths),
		SkippedPaths: string(skippedPaths),
		Steps:        string(steps),
		Probes:       string(probes),
		StartedAt:    result.StartedAt,
	}
	if result.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: *result.FinishedAt, Valid: true}
	}
	return row, nil
}

func (r *runRow) toResult() (*plan.RunResult, error) {
	result := &plan.RunResult{
		ID:           r.ID,
		Root:         r.Root,
		Phase:        plan.Phase(r.Phase),
		FailedPhase:  plan.Phase(r.FailedPhase),
		Success:      r.Success,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		result.FinishedAt = &t
	}

	if err := json.Unmarshal([]byte(r.SourcePaths), &result.SourcePaths); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.SkippedPaths), &result.SkippedPaths); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Steps), &result.Steps); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Probes), &result.Probes); err != nil {
		return nil, err
	}

	return result, nil
}

// orEmpty keeps nil slices from serializing as JSON null.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// =============================================================================
// Run Operations
// =============================================================================

// SaveRun persists a run, replacing any existing row with the same ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *plan.RunResult) error {
	row, err := toRow(result)
	if err != nil {
		return NewStoreError("SaveRun", result.ID, "failed to serialize run", err)
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, root, phase, failed_phase, success, error_message,
			source_paths, skipped_paths, steps, probes,
			started_at, finished_at
		) VALUES (
			:id, :root, :phase, :failed_phase, :success, :error_message,
			:source_paths, :skipped_paths, :steps, :probes,
			:started_at, :finished_at
		)`, row)
	if err != nil {
		return NewStoreError("SaveRun", result.ID, err.Error(), err)
	}

	return nil
}

// GetRun returns a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*plan.RunResult, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewStoreError("GetRun", id, "run not found", ErrRunNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetRun", id, err.Error(), err)
	}

	result, err := row.toResult()
	if err != nil {
		return nil, NewStoreError("GetRun", id, "failed to deserialize run", err)
	}
	return result, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]plan.RunResult, error) {
	opts = opts.Normalize()

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	results := make([]plan.RunResult, 0, len(rows))
	for i := range rows {
		result, err := rows[i].toResult()
		if err != nil {
			return nil, NewStoreError("ListRuns", rows[i].ID, "failed to deserialize run", err)
		}
		results = append(results, *result)
	}
	return results, nil
}
