package store

import (
	"encoding/json"

	"github.com/cwbudde/plasticityfit/internal/param"
)

// Status is the lifecycle state of a record
type Status string

const (
	// StatusPending marks a claimed configuration whose evaluation has not
	// finished. Its metrics hold the sentinel on disk.
	StatusPending Status = "pending"

	// StatusScored marks a finalized record
	StatusScored Status = "scored"
)

// Metrics are the deviation metrics of one evaluation
type Metrics struct {
	LInf float64 `json:"l_inf"`
	L2   float64 `json:"l2"`
}

// Record is one row of a rule table.
type Record struct {
	ID      int64
	Config  param.Configuration
	Status  Status
	Metrics Metrics

	// Score is the acceptance metric of the local search (monte layout).
	Score float64

	// CRP is the cumulative relative probability (sample layout).
	CRP float64
}

// Pending reports whether the record still awaits evaluation
func (r *Record) Pending() bool {
	return r.Status == StatusPending
}

type recordJSON struct {
	ID            int64              `json:"id"`
	Configuration map[string]float64 `json:"configuration"`
	Status        Status             `json:"status,omitempty"`
	LInf          *float64           `json:"l_inf,omitempty"`
	L2            *float64           `json:"l2,omitempty"`
	Score         *float64           `json:"score,omitempty"`
	CRP           *float64           `json:"crp,omitempty"`
}

// MarshalJSON renders the configuration by column name and leaves out
// metrics that are not known yet.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:            r.ID,
		Configuration: r.Config.Map(),
		Status:        r.Status,
	}
	if r.Status == StatusScored {
		out.LInf = &r.Metrics.LInf
		out.L2 = &r.Metrics.L2
		if r.Score != 0 {
			out.Score = &r.Score
		}
	}
	if r.CRP != 0 {
		out.CRP = &r.CRP
	}
	return json.Marshal(out)
}

func statusOf(li float64) Status {
	if li >= Sentinel {
		return StatusPending
	}
	return StatusScored
}
