package sim

import (
	"fmt"
	"math"

	"github.com/cwbudde/plasticityfit/internal/param"
)

// Catalog describes a stimulation protocol: how many traces to simulate, how
// their outcomes combine into the observed experiments, and the targets.
type Catalog struct {
	Protocol    param.Protocol
	Traces      int
	Repetitions int
	Targets     []float64

	// PreSpike is the presynaptic spike time of each trace, in ms.
	PreSpike []float64

	mix func(p []float64) []float64
}

// pair is a weighted mix of two consecutive traces recorded in one experiment
type pair struct {
	first  int
	weight float64
}

var brandalisePairs = []pair{{1, 0.78}, {4, 0.8}, {8, 0.85}, {13, 0.81}, {17, 0.84}, {21, 0.85}}

func mixBrandalise(p []float64) []float64 {
	out := make([]float64, 0, 18)
	i, k := 0, 0
	for i < len(p) {
		if k < len(brandalisePairs) && brandalisePairs[k].first == i {
			w := brandalisePairs[k].weight
			out = append(out, w*p[i]+(1-w)*p[i+1])
			i += 2
			k++
			continue
		}
		out = append(out, p[i])
		i++
	}
	return out
}

func identity(p []float64) []float64 {
	return append([]float64(nil), p...)
}

// letzkusPreSpike gives traces 1, 3, 5 and 7 a 10 ms presynaptic delay
func letzkusPreSpike(traces int) []float64 {
	t := make([]float64, traces)
	for i := range t {
		if i%2 == 1 && i < 8 {
			t[i] = 10
		}
	}
	return t
}

func brandalisePreSpike() []float64 {
	t := make([]float64, 24)
	for i := 21; i < 24; i++ {
		t[i] = 40
	}
	return t
}

var brandaliseTargets = []float64{
	100, 144.8, 96.6, 122, 101.4, 95.5, 128.7, 101.1, 94.5,
	100, 131, 96.6, 100, 119.3, 104.5, 104.3, 40, 40,
}

var catalogs = map[param.Protocol]*Catalog{
	param.Letzkus: {
		Protocol:    param.Letzkus,
		Traces:      9,
		Repetitions: 150,
		Targets:     []float64{92, 129, 90, 100, 118, 100, 137, 85, 100},
		PreSpike:    letzkusPreSpike(9),
		mix:         identity,
	},
	param.Brandalise: {
		Protocol:    param.Brandalise,
		Traces:      24,
		Repetitions: 60,
		Targets:     brandaliseTargets,
		PreSpike:    brandalisePreSpike(),
		mix:         mixBrandalise,
	},
	// Brandaliseb shares the Brandalise traces; only its centers differ.
	param.Brandaliseb: {
		Protocol:    param.Brandaliseb,
		Traces:      24,
		Repetitions: 60,
		Targets:     brandaliseTargets,
		PreSpike:    brandalisePreSpike(),
		mix:         mixBrandalise,
	},
}

// The local search fits Letzkus on one more recording than the grid and
// sampling passes.
var monteCatalogs = map[param.Protocol]*Catalog{
	param.Letzkus: {
		Protocol:    param.Letzkus,
		Traces:      10,
		Repetitions: 150,
		Targets:     []float64{92, 129, 90, 100, 118, 100, 137, 85, 100, 78},
		PreSpike:    letzkusPreSpike(10),
		mix:         identity,
	},
}

// LookupCatalog returns the catalog of a protocol
func LookupCatalog(p param.Protocol) (*Catalog, error) {
	c, ok := catalogs[p]
	if !ok {
		return nil, fmt.Errorf("no trace catalog for protocol %q", p)
	}
	return c, nil
}

// LookupCatalogFor returns the catalog a pass over the given kind of space
// scores against. Only monte passes differ, and only for some protocols.
func LookupCatalogFor(p param.Protocol, kind param.Kind) (*Catalog, error) {
	if kind == param.KindMonte {
		if c, ok := monteCatalogs[p]; ok {
			return c, nil
		}
	}
	return LookupCatalog(p)
}

// Outcomes is the number of observed experiments after mixing
func (c *Catalog) Outcomes() int {
	return len(c.Targets)
}

// TraceProtocol is the protocol whose trace files back this catalog.
func (c *Catalog) TraceProtocol() param.Protocol {
	if c.Protocol == param.Brandaliseb {
		return param.Brandalise
	}
	return c.Protocol
}

// Mix combines one outcome per trace into one outcome per experiment.
func (c *Catalog) Mix(perTrace []float64) ([]float64, error) {
	if len(perTrace) != c.Traces {
		return nil, fmt.Errorf("%s: got %d trace outcomes, want %d", c.Protocol, len(perTrace), c.Traces)
	}
	return c.mix(perTrace), nil
}

// Deviations returns |target - 100(1 + repetitions*p)| for every mixed outcome.
func (c *Catalog) Deviations(mixed []float64) ([]float64, error) {
	if len(mixed) != len(c.Targets) {
		return nil, fmt.Errorf("%s: got %d outcomes, want %d", c.Protocol, len(mixed), len(c.Targets))
	}
	d := make([]float64, len(mixed))
	reps := float64(c.Repetitions)
	for i, p := range mixed {
		plast := 100 * (1 + reps*p)
		d[i] = math.Abs(c.Targets[i] - plast)
	}
	return d, nil
}
