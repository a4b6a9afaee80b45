// Package sim defines the boundary to the external plasticity simulator.
//
// The simulator is treated as an opaque deterministic function from
// (protocol, trace, parameters) to one relative weight change. This package
// owns the request shape, the stimulation protocol catalog and the adapters
// used to reach a simulator implementation.
package sim

import (
	"context"
	"encoding/json"

	"github.com/cwbudde/plasticityfit/internal/param"
)

// Fixed constants passed to every simulation
const (
	XReset = 1.0
	WMax   = 1.0
	WInit  = 0.5
)

// Parameters is the bundle handed to the simulator: the rule, every
// physical value the codec produced, and the fixed constants.
type Parameters struct {
	Rule   param.Rule
	Values param.Values
	XReset float64
	WMax   float64
	WInit  float64
}

// NewParameters bundles physical values with the default constants.
func NewParameters(rule param.Rule, values param.Values) Parameters {
	return Parameters{
		Rule:   rule,
		Values: values,
		XReset: XReset,
		WMax:   WMax,
		WInit:  WInit,
	}
}

// MarshalJSON renders the bundle with long parameter names, omitting
// parameters the rule does not use.
func (p Parameters) MarshalJSON() ([]byte, error) {
	values := make(map[string]float64, param.NumParams)
	for _, id := range p.Rule.Params().IDs() {
		values[id.String()] = p.Values[id]
	}
	return json.Marshal(struct {
		Plasticity string             `json:"plasticity_rule"`
		Veto       bool               `json:"veto"`
		Values     map[string]float64 `json:"values"`
		XReset     float64            `json:"x_reset"`
		WMax       float64            `json:"w_max"`
		WInit      float64            `json:"w_init"`
	}{
		Plasticity: p.Rule.Plasticity,
		Veto:       p.Rule.Veto,
		Values:     values,
		XReset:     p.XReset,
		WMax:       p.WMax,
		WInit:      p.WInit,
	})
}

// Simulator returns the plasticity outcome of one stimulation trace.
// Implementations must be deterministic for identical inputs.
type Simulator interface {
	Simulate(ctx context.Context, protocol param.Protocol, trace int, p Parameters) (float64, error)
}

// Func adapts an ordinary function to the Simulator interface
type Func func(ctx context.Context, protocol param.Protocol, trace int, p Parameters) (float64, error)

// Simulate calls f
func (f Func) Simulate(ctx context.Context, protocol param.Protocol, trace int, p Parameters) (float64, error) {
	return f(ctx, protocol, trace, p)
}
