package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// Outcome is the result of scoring one configuration
type Outcome struct {
	Record store.Record

	// Fresh is true when this call ran the evaluation. Otherwise the
	// record came from the store, possibly still pending.
	Fresh bool
}

// Metric is the L-infinity deviation used for acceptance decisions.
// Pending records have no metric yet and rank as +Inf.
func (o Outcome) Metric() float64 {
	if o.Record.Pending() {
		return math.Inf(1)
	}
	return o.Record.Metrics.LInf
}

// Scorer evaluates each configuration at most once per store. Every
// evaluation is claimed before it starts and finalized when it completes,
// and each write commits on its own.
type Scorer struct {
	store     *store.Store
	evaluator Evaluator

	// Trace receives one entry per scored configuration when set
	Trace *store.TraceWriter

	evaluated int
}

// NewScorer creates a memoized scorer over st
func NewScorer(st *store.Store, evaluator Evaluator) *Scorer {
	return &Scorer{store: st, evaluator: evaluator}
}

// Store returns the backing store
func (s *Scorer) Store() *store.Store { return s.store }

// Evaluated is the number of evaluations this scorer ran
func (s *Scorer) Evaluated() int { return s.evaluated }

// Lookup returns the stored record of cfg, or nil if there is none.
func (s *Scorer) Lookup(ctx context.Context, cfg param.Configuration) (*store.Record, error) {
	rec, err := s.store.Find(ctx, cfg)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Score returns the stored record of cfg if it is scored and evaluates it
// otherwise. A store has a single writer, so a pending record was left by
// an interrupted run and is evaluated again in place.
func (s *Scorer) Score(ctx context.Context, cfg param.Configuration) (Outcome, error) {
	rec, err := s.Lookup(ctx, cfg)
	if err != nil {
		return Outcome{}, err
	}
	if rec == nil {
		return s.Fresh(ctx, cfg)
	}
	if rec.Pending() {
		slog.Info("Re-evaluating pending record", "id", rec.ID, "configuration", cfg.String())
	}
	return s.Rescore(ctx, *rec)
}

// Fresh claims cfg and evaluates it without looking it up first. A
// configuration that is already stored fails with
// store.ErrDuplicateConfiguration.
func (s *Scorer) Fresh(ctx context.Context, cfg param.Configuration) (Outcome, error) {
	id, err := s.store.Claim(ctx, cfg)
	if err != nil {
		return Outcome{}, err
	}
	rec := store.Record{ID: id, Config: cfg, Status: store.StatusPending}
	return s.finish(ctx, rec)
}

// Rescore evaluates a record that is still pending and finalizes it in
// place. Scored records are returned unchanged.
func (s *Scorer) Rescore(ctx context.Context, rec store.Record) (Outcome, error) {
	if !rec.Pending() {
		return Outcome{Record: rec}, nil
	}
	return s.finish(ctx, rec)
}

func (s *Scorer) finish(ctx context.Context, rec store.Record) (Outcome, error) {
	start := time.Now()
	m, err := s.evaluator.Evaluate(ctx, rec.Config)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to evaluate %v: %w", rec.Config, err)
	}
	if err := s.store.Finalize(ctx, rec.ID, m); err != nil {
		return Outcome{}, err
	}
	s.evaluated++

	rec.Status = store.StatusScored
	rec.Metrics = m
	if s.store.Layout() == store.LayoutMonte {
		rec.Score = m.LInf
	}

	slog.Info("Configuration scored",
		"id", rec.ID,
		"configuration", rec.Config.String(),
		"l_inf", m.LInf,
		"l2", m.L2,
		"elapsed", time.Since(start),
	)
	return Outcome{Record: rec, Fresh: true}, nil
}

// Record writes a trace entry for o if tracing is enabled. accepted is
// only given by the local search.
func (s *Scorer) Record(iteration int, o Outcome, accepted *bool) error {
	if s.Trace == nil || o.Record.Pending() {
		return nil
	}
	return s.Trace.Write(store.TraceEntry{
		Iteration:     iteration,
		RecordID:      o.Record.ID,
		Configuration: o.Record.Config.Map(),
		LInf:          o.Record.Metrics.LInf,
		L2:            o.Record.Metrics.L2,
		Reused:        !o.Fresh,
		Accepted:      accepted,
	})
}
