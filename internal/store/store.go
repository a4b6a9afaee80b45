package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/plasticityfit/internal/param"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SentinelValue marks metrics that have not been computed yet. It is stored
// as the exact integer because the merge tooling compares against it.
const SentinelValue int64 = 9999999999999999

// Sentinel is SentinelValue as read back into a float64 metric. Any metric
// at or above it is pending.
const Sentinel = float64(SentinelValue)

// ErrNotFound is returned when a requested record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing record.
type NotFoundError struct {
	Table string
	ID    int64
}

func (e *NotFoundError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("record %d not found in %s", e.ID, e.Table)
	}
	if e.Table != "" {
		return "record not found in " + e.Table
	}
	return "record not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

var (
	// ErrStoreUnavailable is returned when a store that must already exist
	// (an upstream coarse grid or sample space) is missing.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDuplicateConfiguration is returned by Claim when a record with the
	// same indices already exists.
	ErrDuplicateConfiguration = errors.New("duplicate configuration")
)

// Layout selects the metric columns of a rule table
type Layout string

const (
	// LayoutGrid stores li and l2 for exhaustive grid results
	LayoutGrid Layout = "grid"

	// LayoutMonte stores li, l2 and the acceptance score of the local search
	LayoutMonte Layout = "monte"

	// LayoutSpace stores index columns only
	LayoutSpace Layout = "space"

	// LayoutSample stores li, l2 and the cumulative relative probability
	LayoutSample Layout = "sample"
)

// metricColumns returns the non-index columns in storage order
func (l Layout) metricColumns() []string {
	switch l {
	case LayoutGrid:
		return []string{"li", "l2"}
	case LayoutMonte:
		return []string{"li", "l2", "score"}
	case LayoutSample:
		return []string{"li", "l2", "crp"}
	}
	return nil
}

// HasMetrics reports whether rows of this layout carry li/l2
func (l Layout) HasMetrics() bool {
	return l != LayoutSpace
}

// ParseLayout validates a layout name
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LayoutGrid, LayoutMonte, LayoutSpace, LayoutSample:
		return Layout(s), nil
	}
	return "", fmt.Errorf("unknown store layout %q", s)
}

// FileName returns the conventional store file name, e.g.
// gridresults_Letzkus_g1_j4.db. A negative job omits the job suffix.
func FileName(layout Layout, protocol param.Protocol, granularity, job int) string {
	var prefix string
	switch layout {
	case LayoutGrid:
		prefix = "gridresults"
	case LayoutMonte:
		prefix = "monteresults"
	case LayoutSpace:
		prefix = "samplespace"
	case LayoutSample:
		prefix = "sampleresults"
	}
	if job < 0 {
		return fmt.Sprintf("%s_%s_g%d.db", prefix, protocol, granularity)
	}
	return fmt.Sprintf("%s_%s_g%d_j%d.db", prefix, protocol, granularity, job)
}

// LayoutForFile infers the layout from a conventional file name
func LayoutForFile(name string) (Layout, bool) {
	base := filepath.Base(name)
	switch {
	case strings.HasPrefix(base, "gridresults_"):
		return LayoutGrid, true
	case strings.HasPrefix(base, "monteresults_"):
		return LayoutMonte, true
	case strings.HasPrefix(base, "samplespace_"):
		return LayoutSpace, true
	case strings.HasPrefix(base, "sampleresults_"):
		return LayoutSample, true
	}
	return "", false
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Store is one rule table inside a SQLite store file. Every write commits
// immediately; no transaction spans more than one call.
type Store struct {
	db     *sql.DB
	path   string
	layout Layout
	rule   param.Rule
	table  string
	params []param.ID

	selectCols string
}

// Open opens or creates the store file and the rule table.
func Open(ctx context.Context, path string, layout Layout, rule param.Rule) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	s, err := open(ctx, path, layout, rule)
	if err != nil {
		return nil, err
	}
	if err := s.createTable(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// OpenExisting opens a store that an earlier pass must have produced. It
// fails with ErrStoreUnavailable if the file or the rule table is missing.
func OpenExisting(ctx context.Context, path string, layout Layout, rule param.Rule) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, path)
		}
		return nil, fmt.Errorf("failed to stat store: %w", err)
	}

	s, err := open(ctx, path, layout, rule)
	if err != nil {
		return nil, err
	}
	ok, err := s.tableExists(ctx, s.table)
	if err != nil {
		s.db.Close()
		return nil, err
	}
	if !ok {
		s.db.Close()
		return nil, fmt.Errorf("%w: %s has no table %s", ErrStoreUnavailable, path, s.table)
	}
	return s, nil
}

func open(ctx context.Context, path string, layout Layout, rule param.Rule) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	// One connection keeps the pragmas in effect for every statement.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	s := &Store{
		db:     db,
		path:   path,
		layout: layout,
		rule:   rule,
		table:  rule.TableName(),
		params: rule.Params().IDs(),
	}

	cols := []string{"id"}
	for _, id := range s.params {
		cols = append(cols, id.Column())
	}
	cols = append(cols, layout.metricColumns()...)
	s.selectCols = strings.Join(cols, ", ")

	slog.Debug("Opened store", "path", path, "table", s.table, "layout", layout)
	return s, nil
}

func (s *Store) createTable(ctx context.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT", s.table)
	for _, id := range s.params {
		fmt.Fprintf(&b, ", %s REAL", id.Column())
	}
	// NUMERIC affinity keeps the integer sentinel exact
	for _, c := range s.layout.metricColumns() {
		affinity := "NUMERIC"
		if c == "crp" {
			affinity = "REAL"
		}
		fmt.Fprintf(&b, ", %s %s", c, affinity)
	}
	b.WriteString(")")

	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_indices ON %s (%s)",
		s.table, s.table, strings.Join(s.indexColumns(), ", "))
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("failed to create unique index on %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", s.path, err)
	}
	return n > 0, nil
}

func (s *Store) indexColumns() []string {
	cols := make([]string, len(s.params))
	for i, id := range s.params {
		cols[i] = id.Column()
	}
	return cols
}

// Close closes the underlying database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store %s: %w", s.path, err)
	}
	return nil
}

// Path returns the store file path
func (s *Store) Path() string { return s.path }

// Layout returns the metric layout of the rule table
func (s *Store) Layout() Layout { return s.layout }

// Rule returns the rule whose table this store addresses
func (s *Store) Rule() param.Rule { return s.rule }

// Table returns the rule table name
func (s *Store) Table() string { return s.table }

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// Tables lists the rule tables present in a store file
func Tables(ctx context.Context, path string) ([]param.Rule, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, path)
		}
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", path, err)
	}
	defer rows.Close()

	var rules []param.Rule
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		rule, err := param.ParseTableName(name)
		if err != nil {
			// runs, schema_migrations, sqlite_sequence
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
