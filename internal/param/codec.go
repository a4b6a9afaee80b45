package param

import (
	"fmt"
	"math"
)

// Regime selects the index-to-value transform
type Regime string

const (
	// RegimeAbsolute is the coarse absolute grid used by exhaustive passes
	// over rules without veto.
	RegimeAbsolute Regime = "absolute"

	// RegimeMonte is the absolute grid used by the stochastic search.
	RegimeMonte Regime = "monte"

	// RegimeRefined is the second-level absolute grid with half-step axes.
	RegimeRefined Regime = "refined"

	// RegimeCentered expresses indices as multiplicative or additive
	// offsets from a best-known center per protocol.
	RegimeCentered Regime = "centered"
)

// ParseRegime validates a regime name
func ParseRegime(s string) (Regime, error) {
	switch Regime(s) {
	case RegimeAbsolute, RegimeMonte, RegimeRefined, RegimeCentered:
		return Regime(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedRegime, s)
}

// Values holds one physical value per parameter. Thresholds are in mV,
// time constants in ms.
type Values [NumParams]float64

// centers are the best configurations found by earlier fits, used as the
// origin of the centered regime.
var centers = map[Protocol]Values{
	Letzkus: {
		ALTD: 0.00017497, ALTP: 0.0000392, ThetaLow: 5.19687991, BTheta: 9991.2109,
		ThetaHigh: 25.7159892, TauTheta: 26.7646283, TauX: 21.8613168,
		TauLowpass1: 70.4876245, TauLowpass2: 2.00056053,
	},
	Brandalise: {
		ALTD: 0.099763602, ALTP: 0.01505758, ThetaLow: 2.927871397,
		ThetaHigh: 12.12886953, BTheta: 942.1754017, TauTheta: 114.6026989,
		TauLowpass1: 63.79366, TauLowpass2: 2.853035054, TauX: 4.990562943,
	},
	Brandaliseb: {
		ALTD: 0.099761303, ALTP: 0.013652842, ThetaLow: 2.636491402,
		ThetaHigh: 12.20124861, BTheta: 2.114599383, TauTheta: 75.72422075,
		TauLowpass1: 74.55801316, TauLowpass2: 2.786924509, TauX: 5.12639093,
	},
}

// Center returns the centered-regime origin for a protocol
func Center(p Protocol) (Values, bool) {
	v, ok := centers[p]
	return v, ok
}

// Codec converts grid indices into physical parameter values. It is
// deterministic and side-effect free.
type Codec struct {
	regime Regime
	center Values
}

// NewCodec creates a codec for the regime. The protocol only matters for
// the centered regime.
func NewCodec(regime Regime, protocol Protocol) (*Codec, error) {
	c := &Codec{regime: regime}
	switch regime {
	case RegimeAbsolute, RegimeMonte, RegimeRefined:
	case RegimeCentered:
		center, ok := centers[protocol]
		if !ok {
			return nil, fmt.Errorf("%w: no centers for protocol %q", ErrUnsupportedRegime, protocol)
		}
		c.center = center
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRegime, regime)
	}
	return c, nil
}

// Regime returns the codec's regime
func (c *Codec) Regime() Regime { return c.regime }

// Value returns the physical value of parameter id at the given index.
func (c *Codec) Value(id ID, index float64) (float64, error) {
	switch c.regime {
	case RegimeAbsolute:
		switch id {
		case ThetaHigh, ThetaLow:
			return -5 + 5*index, nil
		case ALTP, ALTD:
			return math.Pow(10, index-6), nil
		case TauLowpass1, TauLowpass2, TauX:
			return math.Pow(3, index-1), nil
		}
	case RegimeMonte:
		switch id {
		case ThetaHigh, ThetaLow:
			return -15 - 7*index, nil
		case ALTP, ALTD:
			return 0.001 * math.Pow(10, index), nil
		case TauLowpass1, TauLowpass2:
			return math.Pow(2, index), nil
		case TauX:
			return math.Pow(2, index-2), nil
		case BTheta:
			return 0.4 * math.Pow(5, index), nil
		case TauTheta:
			return 0.2 * math.Pow(5, index), nil
		}
	case RegimeRefined:
		switch id {
		case ThetaLow:
			return -5 + 5*(index+1), nil
		case ThetaHigh:
			return -5 + 5*(index/2+1), nil
		case ALTP:
			// The upper half of the axis skips two decades.
			e := index/2 + 0.5
			if index > 4.5 {
				e = index/2 + 2.5
			}
			return math.Pow(10, e-9), nil
		case ALTD:
			return math.Pow(10, index-8), nil
		case TauX:
			return math.Pow(3, index/2+2.5), nil
		case TauLowpass1:
			return math.Pow(3, index-1), nil
		case TauLowpass2:
			return math.Pow(3, index/2-1), nil
		case BTheta:
			return 0.4 * math.Pow(5, index), nil
		case TauTheta:
			return 0.2 * math.Pow(5, index), nil
		}
	case RegimeCentered:
		switch id {
		case ThetaHigh, ThetaLow:
			return c.center[id] + 8*index, nil
		case ALTP, ALTD:
			return c.center[id] * math.Pow(10, index), nil
		case TauLowpass1, TauLowpass2, TauX, TauTheta, BTheta:
			return c.center[id] * math.Pow(4, index), nil
		}
	}
	return 0, &UnknownParameterError{Name: id.String(), Regime: c.regime}
}

// Decode converts every parameter of cfg into physical values.
func (c *Codec) Decode(cfg Configuration) (Values, error) {
	var v Values
	for _, id := range cfg.Params.IDs() {
		x, err := c.Value(id, cfg.Index[id])
		if err != nil {
			return Values{}, err
		}
		v[id] = x
	}
	return v, nil
}
