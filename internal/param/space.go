package param

import (
	"fmt"
	"math"
)

// Kind selects which family of grid tables a run uses
type Kind string

const (
	KindGrid  Kind = "grid"
	KindMonte Kind = "monte"
	KindSpace Kind = "space"
)

// Spec is the searchable range of one parameter, in index units.
type Spec struct {
	ID    ID
	Lower float64
	Upper float64
	Step  float64
}

// Count is the number of grid points in [Lower, Upper], both inclusive.
func (s Spec) Count() int {
	if s.Step <= 0 || s.Upper < s.Lower {
		return 0
	}
	return int(math.Round((s.Upper-s.Lower)/s.Step)) + 1
}

// At returns the i-th grid point
func (s Spec) At(i int) float64 {
	return s.Lower + float64(i)*s.Step
}

// Contains reports whether v lies inside the range
func (s Spec) Contains(v float64) bool {
	return v >= s.Lower && v <= s.Upper
}

// Validate checks that the range is a whole number of steps
func (s Spec) Validate() error {
	if !s.ID.Valid() {
		return &UnknownParameterError{Name: s.ID.String()}
	}
	if s.Step <= 0 {
		return fmt.Errorf("%s: step must be positive, got %g", s.ID, s.Step)
	}
	if s.Upper < s.Lower {
		return fmt.Errorf("%s: upper %g below lower %g", s.ID, s.Upper, s.Lower)
	}
	n := (s.Upper - s.Lower) / s.Step
	if n != math.Trunc(n) {
		return fmt.Errorf("%s: range [%g, %g] is not a whole number of %g steps", s.ID, s.Lower, s.Upper, s.Step)
	}
	return nil
}

// Space is the slice of the parameter grid assigned to one process: the
// free parameters it varies, in traversal order, and the parameters fixed by
// its job partition.
type Space struct {
	Kind        Kind
	Rule        Rule
	Regime      Regime
	Granularity int
	Step        float64
	Free        []Spec
	Fixed       Configuration
	Job         int
	Partitions  int
	Split       bool
}

// NewSpace builds an ad-hoc space; used by tests and custom drivers.
func NewSpace(rule Rule, regime Regime, free []Spec) (*Space, error) {
	for _, s := range free {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &Space{
		Rule:   rule,
		Regime: regime,
		Free:   free,
		Fixed:  NewConfiguration(0),
	}, nil
}

// Params returns every parameter a configuration of this space carries
func (s *Space) Params() Set {
	set := s.Fixed.Params
	for _, f := range s.Free {
		set = set.With(f.ID)
	}
	return set
}

// Base returns the fixed part of every configuration in the space
func (s *Space) Base() Configuration {
	cfg := s.Fixed
	for _, f := range s.Free {
		cfg = cfg.With(f.ID, f.Lower)
	}
	return cfg
}

// Spec returns the range of a free parameter
func (s *Space) Spec(id ID) (Spec, bool) {
	for _, f := range s.Free {
		if f.ID == id {
			return f, true
		}
	}
	return Spec{}, false
}

// Size is the number of configurations in the space
func (s *Space) Size() int {
	if len(s.Free) == 0 {
		return 0
	}
	n := 1
	for _, f := range s.Free {
		n *= f.Count()
	}
	return n
}

// Contains reports whether cfg lies inside the free ranges and agrees with
// the fixed indices.
func (s *Space) Contains(cfg Configuration) bool {
	for _, id := range s.Fixed.Params.IDs() {
		if cfg.Index[id] != s.Fixed.Index[id] {
			return false
		}
	}
	for _, f := range s.Free {
		if !f.Contains(cfg.Index[f.ID]) {
			return false
		}
	}
	return true
}

type bounds [2]float64

// shape is one row of the grid tables
type shape struct {
	regime     Regime
	exponent   int
	bounds     map[ID]bounds
	partitions int
	split      []ID
	fixed      func(job int) []float64
}

type shapeKey struct {
	kind        Kind
	table       string
	granularity int
}

var shapes = map[shapeKey]shape{
	{KindGrid, "Claire_noveto", 0}: {
		regime:   RegimeAbsolute,
		exponent: 0,
		bounds: map[ID]bounds{
			ThetaHigh: {1, 8}, ThetaLow: {1, 8}, ALTP: {1, 7}, ALTD: {1, 7},
			TauLowpass1: {1, 6}, TauLowpass2: {1, 6}, TauX: {1, 6},
		},
		partitions: 81,
		split:      []ID{ThetaLow, ThetaHigh},
		fixed: func(j int) []float64 {
			return []float64{float64(j % 9), float64(j / 9)}
		},
	},
	{KindGrid, "Claire_noveto", 1}: {
		regime:   RegimeAbsolute,
		exponent: 1,
		bounds: map[ID]bounds{
			ThetaHigh: {3, 7}, ThetaLow: {2, 8}, ALTP: {-1, 7}, ALTD: {1, 7},
			TauLowpass1: {1, 6}, TauLowpass2: {1, 4}, TauX: {1, 8},
		},
		partitions: 91,
		split:      []ID{ThetaLow, ALTD},
		fixed: func(j int) []float64 {
			return []float64{float64(j%13)*0.5 + 2, float64(j/13) + 1}
		},
	},
	{KindGrid, "Claire_veto", 1}: {
		regime:   RegimeCentered,
		exponent: 1,
		bounds: map[ID]bounds{
			ThetaHigh: {-1.5, 1}, ThetaLow: {-0.5, 1.5}, ALTP: {-2, 2}, ALTD: {-2, 2},
			TauLowpass1: {-1, 0.5}, TauLowpass2: {-0.5, 1}, TauX: {-1, 1},
			BTheta: {-1, 0.5}, TauTheta: {-1, 0.5},
		},
		partitions: 81,
		split:      []ID{ALTP, ALTD},
		fixed: func(j int) []float64 {
			return []float64{float64(j%9)*0.5 - 2, float64(j/9)*0.5 - 2}
		},
	},
	{KindGrid, "Claire_veto", 3}: {
		regime:   RegimeCentered,
		exponent: 3,
		bounds: map[ID]bounds{
			ThetaHigh: {-0.25, 0.25}, ThetaLow: {-0.25, 0.25}, ALTP: {-0.25, 0.25},
			ALTD: {-0.25, 0.25}, TauLowpass1: {-0.25, 0.25}, TauLowpass2: {-0.25, 0.25},
			TauX: {-0.25, 0.25}, BTheta: {-0.25, 0.25}, TauTheta: {-0.25, 0.25},
		},
		partitions: 25,
		split:      []ID{ALTP, ALTD},
		fixed: func(j int) []float64 {
			return []float64{float64(j%5)*0.125 - 0.25, float64(j/5)*0.125 - 0.25}
		},
	},
	{KindSpace, "Claire_noveto", 1}: {
		regime:   RegimeAbsolute,
		exponent: 0,
		bounds: map[ID]bounds{
			ThetaHigh: {-0.5, 8.5}, ThetaLow: {-0.5, 8.5}, ALTP: {0.5, 7.5}, ALTD: {0.5, 7.5},
			TauLowpass1: {0.5, 6.5}, TauLowpass2: {0.5, 6.5}, TauX: {0.5, 6.5},
		},
		partitions: 64,
		split:      []ID{ALTP, ALTD},
		fixed: func(j int) []float64 {
			return []float64{0.5 + float64(j%8), 0.5 + float64(j/8)}
		},
	},
}

var (
	monteBounds = map[ID]bounds{
		ThetaHigh: {1, 8}, ThetaLow: {1, 8}, ALTP: {1, 8}, ALTD: {1, 8},
		TauLowpass1: {1, 7}, TauLowpass2: {1, 7}, TauX: {1, 7},
		BTheta: {1, 5}, TauTheta: {1, 5},
	}
	monteShape = shape{
		regime:     RegimeMonte,
		exponent:   0,
		bounds:     monteBounds,
		partitions: 81,
		split:      []ID{ThetaLow, ThetaHigh},
		fixed: func(j int) []float64 {
			return []float64{float64(j % 9), float64(j / 9)}
		},
	}
)

func lookupShape(kind Kind, rule Rule, granularity int) (shape, error) {
	if kind == KindMonte {
		if granularity != 0 {
			return shape{}, fmt.Errorf("%w: monte search has no grid at granularity %d", ErrUnsupportedGranularity, granularity)
		}
		return monteShape, nil
	}
	sh, ok := shapes[shapeKey{kind, rule.TableName(), granularity}]
	if !ok {
		return shape{}, fmt.Errorf("%w: no %s grid for %s at granularity %d", ErrUnsupportedGranularity, kind, rule.TableName(), granularity)
	}
	return sh, nil
}

// LookupSpace returns the configured space for a run. With split set, the
// partition parameters are pinned from the job index and the remaining
// ones are free; otherwise every rule parameter is free and job is ignored.
//
// Grid and monte spaces step by 0.5^granularity. Sample spaces are built one
// level coarser (0.5^(granularity-1)) and offset by half a coarse step, so
// that each sample sits between the cells of the previous granularity.
func LookupSpace(kind Kind, rule Rule, granularity, job int, split bool) (*Space, error) {
	sh, err := lookupShape(kind, rule, granularity)
	if err != nil {
		return nil, err
	}

	exponent := granularity
	if kind == KindSpace {
		exponent = granularity - 1
	}
	step := math.Pow(0.5, float64(exponent))

	space := &Space{
		Kind:        kind,
		Rule:        rule,
		Regime:      sh.regime,
		Granularity: granularity,
		Step:        step,
		Fixed:       NewConfiguration(0),
		Job:         job,
		Partitions:  sh.partitions,
		Split:       split,
	}

	var pinned Set
	if split {
		if job < 0 || job >= sh.partitions {
			return nil, fmt.Errorf("%w: job %d, %d partitions", ErrJobOutOfRange, job, sh.partitions)
		}
		values := sh.fixed(job)
		for i, id := range sh.split {
			space.Fixed = space.Fixed.With(id, values[i])
			pinned = pinned.With(id)
		}
	} else {
		space.Partitions = 1
	}

	for _, id := range rule.Params().IDs() {
		if pinned.Has(id) {
			continue
		}
		b, ok := sh.bounds[id]
		if !ok {
			return nil, &UnknownParameterError{Name: id.String(), Regime: sh.regime}
		}
		spec := Spec{ID: id, Lower: b[0], Upper: b[1], Step: step}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		space.Free = append(space.Free, spec)
	}
	return space, nil
}

// Partitions returns the number of job partitions for a split run
func Partitions(kind Kind, rule Rule, granularity int) (int, error) {
	sh, err := lookupShape(kind, rule, granularity)
	if err != nil {
		return 0, err
	}
	return sh.partitions, nil
}
