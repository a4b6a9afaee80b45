package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate brings the run log schema up to date.
func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: closing it would close the store's connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger forwards golang-migrate output to slog
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Run statuses
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run is one entry of the run log: a single search, resampling or
// refinement pass against a store.
type Run struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Protocol    string     `json:"protocol"`
	Rule        string     `json:"rule"`
	Granularity int        `json:"granularity"`
	Job         int        `json:"job"`
	Seed        int64      `json:"seed"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Evaluated   int        `json:"evaluated"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// BeginRun records the start of a run and returns it with a fresh ID.
func (s *Store) BeginRun(ctx context.Context, run Run) (Run, error) {
	run.ID = uuid.New().String()
	run.StartedAt = time.Now().UTC()
	run.Status = RunRunning
	if run.Rule == "" {
		run.Rule = s.table
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, kind, protocol, rule, granularity, job, seed, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Protocol, run.Rule, run.Granularity, run.Job, run.Seed,
		run.StartedAt.Format(time.RFC3339Nano), run.Status)
	if err != nil {
		return Run{}, fmt.Errorf("failed to record run start: %w", err)
	}
	return run, nil
}

// FinishRun closes a run log entry. A non-nil runErr marks it failed.
func (s *Store) FinishRun(ctx context.Context, id string, evaluated int, runErr error) error {
	status := RunFinished
	var msg sql.NullString
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, evaluated = ?, status = ?, error = ?
		WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), evaluated, status, msg, id)
	if err != nil {
		return fmt.Errorf("failed to record run end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Runs lists the run log, newest first. Stores that never ran a migration
// (sample spaces opened read-only) have an empty log.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	ok, err := s.tableExists(ctx, "runs")
	if err != nil || !ok {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, kind, protocol, rule, granularity, job, seed,
			started_at, finished_at, evaluated, status, error
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
			msg      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Protocol, &r.Rule, &r.Granularity, &r.Job, &r.Seed,
			&started, &finished, &r.Evaluated, &r.Status, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: invalid start time: %w", r.ID, err)
		}
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: invalid finish time: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		r.Error = msg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
