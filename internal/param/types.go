package param

import (
	"fmt"
	"strings"
)

// ID identifies one fitted plasticity parameter
type ID int

const (
	ThetaHigh ID = iota
	ThetaLow
	ALTP
	ALTD
	TauLowpass1
	TauLowpass2
	TauX
	BTheta
	TauTheta

	// NumParams is the number of known parameters
	NumParams
)

var names = [NumParams]string{
	ThetaHigh:   "Theta_high",
	ThetaLow:    "Theta_low",
	ALTP:        "A_LTP",
	ALTD:        "A_LTD",
	TauLowpass1: "tau_lowpass1",
	TauLowpass2: "tau_lowpass2",
	TauX:        "tau_x",
	BTheta:      "b_theta",
	TauTheta:    "tau_theta",
}

// columns are the abbreviated store column names. They are part of the
// on-disk format shared with the merge tooling and must not change.
var columns = [NumParams]string{
	ThetaHigh:   "th",
	ThetaLow:    "tl",
	ALTP:        "ap",
	ALTD:        "ad",
	TauLowpass1: "t1",
	TauLowpass2: "t2",
	TauX:        "tx",
	BTheta:      "bt",
	TauTheta:    "tt",
}

// String returns the long parameter name (e.g. "Theta_high")
func (id ID) String() string {
	if id < 0 || id >= NumParams {
		return fmt.Sprintf("param(%d)", int(id))
	}
	return names[id]
}

// Column returns the store column abbreviation (e.g. "th")
func (id ID) Column() string {
	if id < 0 || id >= NumParams {
		return ""
	}
	return columns[id]
}

// Valid reports whether id is a known parameter
func (id ID) Valid() bool {
	return id >= 0 && id < NumParams
}

// ParseID resolves either a long name or a column abbreviation.
func ParseID(s string) (ID, error) {
	for i := ID(0); i < NumParams; i++ {
		if strings.EqualFold(s, names[i]) || s == columns[i] {
			return i, nil
		}
	}
	return 0, &UnknownParameterError{Name: s}
}

// Set is a bit set of parameter IDs
type Set uint16

// NewSet builds a set from the given IDs
func NewSet(ids ...ID) Set {
	var s Set
	for _, id := range ids {
		s = s.With(id)
	}
	return s
}

// With returns s with id added
func (s Set) With(id ID) Set { return s | 1<<uint(id) }

// Has reports whether id is in s
func (s Set) Has(id ID) bool { return s&(1<<uint(id)) != 0 }

// IDs returns the members of s in canonical order
func (s Set) IDs() []ID {
	ids := make([]ID, 0, NumParams)
	for id := ID(0); id < NumParams; id++ {
		if s.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of members
func (s Set) Len() int {
	n := 0
	for id := ID(0); id < NumParams; id++ {
		if s.Has(id) {
			n++
		}
	}
	return n
}

// Index holds one grid index per parameter. Entries for parameters not
// used by a rule stay zero. Arrays are values, so passing an Index never
// aliases the caller's copy.
type Index [NumParams]float64

// Configuration is one point of the discretized parameter grid
type Configuration struct {
	Index  Index
	Params Set
}

// NewConfiguration returns an all-zero configuration over params
func NewConfiguration(params Set) Configuration {
	return Configuration{Params: params}
}

// Get returns the index of id
func (c Configuration) Get(id ID) float64 { return c.Index[id] }

// With returns a copy of c with id set to v
func (c Configuration) With(id ID, v float64) Configuration {
	c.Index[id] = v
	c.Params = c.Params.With(id)
	return c
}

// Equal reports whether both configurations cover the same parameters
// with identical indices.
func (c Configuration) Equal(o Configuration) bool {
	if c.Params != o.Params {
		return false
	}
	for _, id := range c.Params.IDs() {
		if c.Index[id] != o.Index[id] {
			return false
		}
	}
	return true
}

// String renders the configuration as "th=1 tl=0.5 ..."
func (c Configuration) String() string {
	var b strings.Builder
	for i, id := range c.Params.IDs() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%g", id.Column(), c.Index[id])
	}
	return b.String()
}

// Map returns the configuration keyed by column name, for logging and JSON
func (c Configuration) Map() map[string]float64 {
	m := make(map[string]float64, c.Params.Len())
	for _, id := range c.Params.IDs() {
		m[id.Column()] = c.Index[id]
	}
	return m
}
