package search

import (
	"log/slog"
	"math"
)

// Patience tracks how long the local search has gone without a fresh
// evaluation, and the best metric seen since the last restart.
type Patience struct {
	limit   int
	waiting int // draws that hit an already stored configuration
	walls   int // consecutive perturbations that left the grid
	best    float64
}

// NewPatience creates a tracker that is exhausted after limit unproductive
// draws.
func NewPatience(limit int) *Patience {
	return &Patience{
		limit: limit,
		best:  math.Inf(1),
	}
}

// Limit returns the patience threshold
func (p *Patience) Limit() int { return p.limit }

// Waiting returns the number of unproductive draws since the last fresh
// evaluation.
func (p *Patience) Waiting() int { return p.waiting }

// Walls returns the number of consecutive wall hits
func (p *Patience) Walls() int { return p.walls }

// Best returns the best metric since the last reset
func (p *Patience) Best() float64 { return p.best }

// Fresh records a new evaluation
func (p *Patience) Fresh() {
	p.waiting = 0
	p.walls = 0
}

// Repeat records a draw that was already in the store
func (p *Patience) Repeat() {
	p.waiting++
	p.walls = 0
	slog.Debug("Configuration already stored",
		"waiting", p.waiting,
		"patience", p.limit,
	)
}

// Wall records a perturbation that would leave the grid. Walls do not
// count as waiting, but a run of them as long as the patience also
// exhausts the tracker.
func (p *Patience) Wall() {
	p.walls++
}

// Exhausted reports whether the search should restart
func (p *Patience) Exhausted() bool {
	return p.waiting >= p.limit || p.walls >= p.limit
}

// Accept replaces the best metric
func (p *Patience) Accept(metric float64) {
	p.best = metric
}

// Reset clears the counters and forgets the best metric
func (p *Patience) Reset() {
	slog.Debug("Patience exhausted",
		"waiting", p.waiting,
		"walls", p.walls,
		"patience", p.limit,
		"best", p.best,
	)
	p.waiting = 0
	p.walls = 0
	p.best = math.Inf(1)
}
