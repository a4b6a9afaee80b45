package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Summary is a snapshot of the progress recorded in a rule table
type Summary struct {
	Path     string   `json:"path"`
	Table    string   `json:"table"`
	Layout   Layout   `json:"layout"`
	Total    int      `json:"total"`
	Scored   int      `json:"scored"`
	Pending  int      `json:"pending"`
	BestLInf *float64 `json:"best_l_inf,omitempty"`
	BestL2   *float64 `json:"best_l2,omitempty"`
}

// Summary counts rows by status and reports the best metrics found.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{Path: s.path, Table: s.table, Layout: s.layout}

	if !s.layout.HasMetrics() {
		n, err := s.Count(ctx)
		if err != nil {
			return Summary{}, err
		}
		sum.Total = n
		return sum, nil
	}

	q := fmt.Sprintf(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN li < ? THEN 1 ELSE 0 END), 0),
			MIN(CASE WHEN li < ? THEN li END),
			MIN(CASE WHEN li < ? THEN l2 END)
		FROM %s`, s.table)

	var bestLInf, bestL2 sql.NullFloat64
	err := s.db.QueryRowContext(ctx, q, SentinelValue, SentinelValue, SentinelValue).
		Scan(&sum.Total, &sum.Scored, &bestLInf, &bestL2)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize %s: %w", s.table, err)
	}
	sum.Pending = sum.Total - sum.Scored
	if bestLInf.Valid {
		sum.BestLInf = &bestLInf.Float64
	}
	if bestL2.Valid {
		sum.BestL2 = &bestL2.Float64
	}
	return sum, nil
}
