package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/plasticityfit/internal/param"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row rowScanner) (*Record, error) {
	rec := &Record{Config: param.NewConfiguration(s.rule.Params())}
	idx := make([]float64, len(s.params))
	metrics := make([]sql.NullFloat64, len(s.layout.metricColumns()))

	dest := make([]any, 0, 1+len(idx)+len(metrics))
	dest = append(dest, &rec.ID)
	for i := range idx {
		dest = append(dest, &idx[i])
	}
	for i := range metrics {
		dest = append(dest, &metrics[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	for i, id := range s.params {
		rec.Config.Index[id] = idx[i]
	}
	if !s.layout.HasMetrics() {
		return rec, nil
	}

	value := func(n sql.NullFloat64) float64 {
		if !n.Valid {
			return Sentinel
		}
		return n.Float64
	}
	rec.Metrics = Metrics{LInf: value(metrics[0]), L2: value(metrics[1])}
	rec.Status = statusOf(rec.Metrics.LInf)
	switch s.layout {
	case LayoutMonte:
		rec.Score = value(metrics[2])
	case LayoutSample:
		rec.CRP = metrics[2].Float64
	}
	return rec, nil
}

func (s *Store) checkConfig(cfg param.Configuration) error {
	if cfg.Params != s.rule.Params() {
		return fmt.Errorf("configuration %v does not match the parameters of %s", cfg, s.table)
	}
	return nil
}

func (s *Store) requireMetrics(op string) error {
	if !s.layout.HasMetrics() {
		return fmt.Errorf("%s: store %s has %s layout without metrics", op, s.path, s.layout)
	}
	return nil
}

func (s *Store) matchClause(cfg param.Configuration) (string, []any) {
	conds := make([]string, len(s.params))
	args := make([]any, len(s.params))
	for i, id := range s.params {
		conds[i] = id.Column() + " = ?"
		args[i] = cfg.Index[id]
	}
	return strings.Join(conds, " AND "), args
}

// Find looks up the record with exactly the indices of cfg. It returns
// ErrNotFound if no such record exists.
func (s *Store) Find(ctx context.Context, cfg param.Configuration) (*Record, error) {
	if err := s.checkConfig(cfg); err != nil {
		return nil, err
	}
	where, args := s.matchClause(cfg)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", s.selectCols, s.table, where)

	rec, err := s.scan(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Table: s.table}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %v: %w", cfg, err)
	}
	return rec, nil
}

func (s *Store) insert(ctx context.Context, cfg param.Configuration, extra map[string]float64) (int64, error) {
	cols := s.indexColumns()
	args := make([]any, 0, len(cols)+3)
	for _, id := range s.params {
		args = append(args, cfg.Index[id])
	}
	for _, c := range s.layout.metricColumns() {
		cols = append(cols, c)
		if v, ok := extra[c]; ok {
			args = append(args, v)
		} else {
			args = append(args, SentinelValue)
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, strings.Join(cols, ", "), placeholders)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v in %s", ErrDuplicateConfiguration, cfg, s.table)
		}
		return 0, fmt.Errorf("failed to insert %v: %w", cfg, err)
	}
	return res.LastInsertId()
}

// Claim inserts cfg as a pending record with sentinel metrics and returns
// its key. A record with the same indices makes it fail with
// ErrDuplicateConfiguration.
func (s *Store) Claim(ctx context.Context, cfg param.Configuration) (int64, error) {
	if err := s.requireMetrics("claim"); err != nil {
		return 0, err
	}
	if err := s.checkConfig(cfg); err != nil {
		return 0, err
	}
	return s.insert(ctx, cfg, nil)
}

// ClaimCandidate inserts a pending sampling candidate carrying its running
// cumulative relative probability.
func (s *Store) ClaimCandidate(ctx context.Context, cfg param.Configuration, crp float64) (int64, error) {
	if s.layout != LayoutSample {
		return 0, fmt.Errorf("claim candidate: store %s has %s layout", s.path, s.layout)
	}
	if err := s.checkConfig(cfg); err != nil {
		return 0, err
	}
	return s.insert(ctx, cfg, map[string]float64{"crp": crp})
}

// Finalize overwrites the sentinel metrics of a pending record. The monte
// layout also records the L-infinity metric as its acceptance score.
func (s *Store) Finalize(ctx context.Context, id int64, m Metrics) error {
	if err := s.requireMetrics("finalize"); err != nil {
		return err
	}

	var (
		q    string
		args []any
	)
	if s.layout == LayoutMonte {
		q = fmt.Sprintf("UPDATE %s SET li = ?, l2 = ?, score = ? WHERE id = ?", s.table)
		args = []any{m.LInf, m.L2, m.LInf, id}
	} else {
		q = fmt.Sprintf("UPDATE %s SET li = ?, l2 = ? WHERE id = ?", s.table)
		args = []any{m.LInf, m.L2, id}
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to finalize record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize record %d: %w", id, err)
	}
	if n == 0 {
		return &NotFoundError{Table: s.table, ID: id}
	}
	return nil
}

// Window returns all scored records whose every index lies within
// halfwidth of the corresponding index of center.
func (s *Store) Window(ctx context.Context, center param.Configuration, halfwidth float64) ([]Record, error) {
	if err := s.requireMetrics("window"); err != nil {
		return nil, err
	}
	if err := s.checkConfig(center); err != nil {
		return nil, err
	}

	conds := make([]string, 0, len(s.params)+1)
	args := make([]any, 0, 2*len(s.params)+1)
	for _, id := range s.params {
		conds = append(conds, id.Column()+" BETWEEN ? AND ?")
		c := center.Index[id]
		args = append(args, c-halfwidth, c+halfwidth)
	}
	conds = append(conds, "li < ?")
	args = append(args, SentinelValue)

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id", s.selectCols, s.table, strings.Join(conds, " AND "))
	return s.query(ctx, q, args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query on %s failed: %w", s.table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", s.table, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Get returns the record with the given id
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", s.selectCols, s.table)
	rec, err := s.scan(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Table: s.table, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %d: %w", id, err)
	}
	return rec, nil
}

// Count returns the number of rows in the rule table
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.table, err)
	}
	return n, nil
}

// Best returns up to n scored records ordered by the given metric column
// ("li", "l2" or, for the monte layout, "score"), best first.
func (s *Store) Best(ctx context.Context, n int, by string) ([]Record, error) {
	if err := s.requireMetrics("best"); err != nil {
		return nil, err
	}
	valid := false
	for _, c := range s.layout.metricColumns() {
		if c == by && c != "crp" {
			valid = true
		}
	}
	if !valid {
		return nil, fmt.Errorf("cannot rank %s by %q", s.table, by)
	}
	if n <= 0 {
		n = 1
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE li < ? ORDER BY %s ASC, id ASC LIMIT ?", s.selectCols, s.table, by)
	return s.query(ctx, q, SentinelValue, n)
}

// PurgePending deletes records left pending by an interrupted run.
func (s *Store) PurgePending(ctx context.Context) (int64, error) {
	if !s.layout.HasMetrics() {
		return 0, nil
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE li IS NULL OR li >= ?", s.table)
	res, err := s.db.ExecContext(ctx, q, SentinelValue)
	if err != nil {
		return 0, fmt.Errorf("failed to purge pending rows of %s: %w", s.table, err)
	}
	return res.RowsAffected()
}

// InsertSpace appends sample-space configurations in one transaction.
// Configurations already present are skipped, so a rebuild is idempotent.
// It returns the number of rows actually inserted.
func (s *Store) InsertSpace(ctx context.Context, cfgs []param.Configuration) (int, error) {
	if s.layout != LayoutSpace {
		return 0, fmt.Errorf("insert space: store %s has %s layout", s.path, s.layout)
	}

	cols := s.indexColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", s.table, strings.Join(cols, ", "), placeholders)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	args := make([]any, len(s.params))
	for _, cfg := range cfgs {
		if err := s.checkConfig(cfg); err != nil {
			return 0, err
		}
		for i, id := range s.params {
			args[i] = cfg.Index[id]
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert %v: %w", cfg, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit space batch: %w", err)
	}
	return inserted, nil
}

// NormalizeCRP divides every crp by total so that the last candidate ends at 1.
func (s *Store) NormalizeCRP(ctx context.Context, total float64) error {
	if s.layout != LayoutSample {
		return fmt.Errorf("normalize: store %s has %s layout", s.path, s.layout)
	}
	if total <= 0 {
		return fmt.Errorf("normalize: total must be positive, got %g", total)
	}
	q := fmt.Sprintf("UPDATE %s SET crp = crp / ?", s.table)
	if _, err := s.db.ExecContext(ctx, q, total); err != nil {
		return fmt.Errorf("failed to normalize crp in %s: %w", s.table, err)
	}
	return nil
}

// Draw performs the inverse-CDF lookup: the first candidate with crp >= u,
// or the last candidate when u exceeds every crp.
func (s *Store) Draw(ctx context.Context, u float64) (*Record, error) {
	if s.layout != LayoutSample {
		return nil, fmt.Errorf("draw: store %s has %s layout", s.path, s.layout)
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE crp >= ? ORDER BY id ASC LIMIT 1", s.selectCols, s.table)
	rec, err := s.scan(s.db.QueryRowContext(ctx, q, u))
	if errors.Is(err, sql.ErrNoRows) {
		q = fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT 1", s.selectCols, s.table)
		rec, err = s.scan(s.db.QueryRowContext(ctx, q))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Table: s.table}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to draw from %s: %w", s.table, err)
	}
	return rec, nil
}
