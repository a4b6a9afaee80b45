package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cwbudde/plasticityfit/internal/fit"
	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// signalContext is cancelled on SIGINT or SIGTERM so that searches stop
// between evaluations and leave their stores consistent.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// storePath returns the conventional path of a store in the data directory
func storePath(layout store.Layout, granularity, job int) string {
	return filepath.Join(runConfig.DataDir, store.FileName(layout, runConfig.ProtocolValue(), granularity, job))
}

// openStore opens (or creates) the store a pass writes to
func openStore(ctx context.Context, layout store.Layout, granularity, job int) (*store.Store, error) {
	if err := os.MkdirAll(runConfig.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return store.Open(ctx, storePath(layout, granularity, job), layout, runConfig.Rule())
}

// newPipeline wires the configured simulator to the evaluation pipeline
// for a space's regime.
func newPipeline(space *param.Space) (*fit.Pipeline, error) {
	simulator, err := runConfig.NewSimulator()
	if err != nil {
		return nil, err
	}
	return fit.NewSpacePipeline(simulator, runConfig.ProtocolValue(), space)
}

// session is one logged pass over a store: the memoized scorer, its
// run-log entry and the optional progress trace.
type session struct {
	store  *store.Store
	scorer *fit.Scorer
	run    store.Run
	trace  *store.TraceWriter
	start  time.Time
}

// startSession records the run start and opens the trace when enabled
func startSession(ctx context.Context, st *store.Store, evaluator fit.Evaluator, run store.Run) (*session, error) {
	run.Protocol = string(runConfig.ProtocolValue())
	run, err := st.BeginRun(ctx, run)
	if err != nil {
		return nil, err
	}

	s := &session{
		store:  st,
		scorer: fit.NewScorer(st, evaluator),
		run:    run,
		start:  time.Now(),
	}
	if runConfig.Trace {
		tw, err := store.NewTraceWriter(runConfig.DataDir, run.ID, false)
		if err != nil {
			st.FinishRun(ctx, run.ID, 0, err)
			return nil, err
		}
		s.trace = tw
		s.scorer.Trace = tw
	}

	slog.Info("Run started",
		"run_id", run.ID,
		"kind", run.Kind,
		"store", st.Path(),
		"table", st.Table(),
		"job", run.Job,
	)
	return s, nil
}

// finish flushes the trace and closes the run-log entry. It returns
// runErr, or the first bookkeeping error when the run itself succeeded.
func (s *session) finish(runErr error) error {
	if s.trace != nil {
		if err := s.trace.Close(); err != nil {
			slog.Error("Failed to close trace", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	// The run context may already be cancelled; the log entry must still
	// be written.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.FinishRun(ctx, s.run.ID, s.scorer.Evaluated(), runErr); err != nil {
		slog.Error("Failed to record run end", "run_id", s.run.ID, "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	slog.Info("Run finished",
		"run_id", s.run.ID,
		"evaluated", s.scorer.Evaluated(),
		"elapsed", time.Since(s.start),
		"error", runErr,
	)
	return runErr
}

// interrupted reports whether err only says that the user stopped the run
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
