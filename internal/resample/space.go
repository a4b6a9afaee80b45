// Package resample refines a finished coarse search into a biased sample of
// the next finer grid. It builds the sample space, turns coarse results into
// a cumulative sampling distribution, and draws from it.
package resample

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/search"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// DefaultBatch is the number of sample-space rows committed per transaction
const DefaultBatch = 10000

// BuildSpace enumerates space into a sample-space store. Rows already
// present are kept, so an interrupted build can be rerun. It returns the
// number of rows inserted.
func BuildSpace(ctx context.Context, st *store.Store, space *param.Space, batch int) (int, error) {
	if st.Layout() != store.LayoutSpace {
		return 0, fmt.Errorf("build space: store %s has %s layout", st.Path(), st.Layout())
	}
	if batch <= 0 {
		batch = DefaultBatch
	}

	slog.Info("Building sample space",
		"path", st.Path(),
		"table", st.Table(),
		"size", space.Size(),
		"split", space.Split,
		"job", space.Job,
	)

	inserted := 0
	pending := make([]param.Configuration, 0, batch)
	flush := func() error {
		n, err := st.InsertSpace(ctx, pending)
		if err != nil {
			return err
		}
		inserted += n
		pending = pending[:0]
		slog.Debug("Committed sample-space batch", "inserted", inserted)
		return nil
	}

	err := search.Enumerate(ctx, space, func(cfg param.Configuration) error {
		pending = append(pending, cfg)
		if len(pending) == batch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return inserted, err
	}
	if len(pending) > 0 {
		if err := flush(); err != nil {
			return inserted, err
		}
	}

	slog.Info("Sample space built", "inserted", inserted)
	return inserted, nil
}
