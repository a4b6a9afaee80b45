package param

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestCodecMonotonic(t *testing.T) {
	regimes := []struct {
		regime Regime
		params []ID
	}{
		{RegimeAbsolute, []ID{ThetaHigh, ThetaLow, ALTP, ALTD, TauLowpass1, TauLowpass2, TauX}},
		{RegimeMonte, []ID{ThetaHigh, ThetaLow, ALTP, ALTD, TauLowpass1, TauLowpass2, TauX, BTheta, TauTheta}},
		{RegimeRefined, []ID{ThetaHigh, ThetaLow, ALTP, ALTD, TauLowpass1, TauLowpass2, TauX, BTheta, TauTheta}},
		{RegimeCentered, []ID{ThetaHigh, ThetaLow, ALTP, ALTD, TauLowpass1, TauLowpass2, TauX, BTheta, TauTheta}},
	}

	rng := rand.New(rand.NewSource(7))

	for _, tc := range regimes {
		t.Run(string(tc.regime), func(t *testing.T) {
			codec, err := NewCodec(tc.regime, Letzkus)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}

			for _, id := range tc.params {
				// The direction of each parameter is fixed by its first pair.
				lo, _ := codec.Value(id, 0)
				hi, _ := codec.Value(id, 1)
				increasing := hi > lo

				for k := 0; k < 200; k++ {
					// Half-step grid points in [-4, 10].
					a := float64(rng.Intn(29))*0.5 - 4
					b := float64(rng.Intn(29))*0.5 - 4
					if a == b {
						continue
					}
					if a > b {
						a, b = b, a
					}
					va, err := codec.Value(id, a)
					if err != nil {
						t.Fatalf("%s(%g): %v", id, a, err)
					}
					vb, err := codec.Value(id, b)
					if err != nil {
						t.Fatalf("%s(%g): %v", id, b, err)
					}
					if increasing && !(vb > va) {
						t.Errorf("%s not increasing: f(%g)=%g, f(%g)=%g", id, a, va, b, vb)
					}
					if !increasing && !(vb < va) {
						t.Errorf("%s not decreasing: f(%g)=%g, f(%g)=%g", id, a, va, b, vb)
					}
				}
			}
		})
	}
}

func TestCodecKnownValues(t *testing.T) {
	tests := []struct {
		regime Regime
		id     ID
		index  float64
		want   float64
	}{
		{RegimeAbsolute, ThetaHigh, 1, 0},
		{RegimeAbsolute, ALTD, 3, 1e-3},
		{RegimeAbsolute, TauX, 3, 9},
		{RegimeMonte, ThetaLow, 1, -22},
		{RegimeMonte, TauX, 2, 1},
		{RegimeMonte, BTheta, 1, 2},
		{RegimeRefined, ThetaHigh, 2, 5},
		{RegimeRefined, ALTP, 5, 1e-4},
		{RegimeCentered, ThetaHigh, 0.5, 25.7159892 + 4},
		{RegimeCentered, ALTP, 1, 0.000392},
	}

	for _, tc := range tests {
		codec, err := NewCodec(tc.regime, Letzkus)
		if err != nil {
			t.Fatalf("NewCodec(%s): %v", tc.regime, err)
		}
		got, err := codec.Value(tc.id, tc.index)
		if err != nil {
			t.Fatalf("Value(%s, %g): %v", tc.id, tc.index, err)
		}
		if math.Abs(got-tc.want) > 1e-9*math.Max(1, math.Abs(tc.want)) {
			t.Errorf("%s %s(%g) = %g, want %g", tc.regime, tc.id, tc.index, got, tc.want)
		}
	}
}

func TestCodecErrors(t *testing.T) {
	if _, err := NewCodec("bogus", Letzkus); !errors.Is(err, ErrUnsupportedRegime) {
		t.Errorf("expected ErrUnsupportedRegime, got %v", err)
	}
	if _, err := NewCodec(RegimeCentered, Protocol("Other")); !errors.Is(err, ErrUnsupportedRegime) {
		t.Errorf("expected ErrUnsupportedRegime for missing centers, got %v", err)
	}

	codec, err := NewCodec(RegimeAbsolute, Letzkus)
	if err != nil {
		t.Fatal(err)
	}
	_, err = codec.Value(BTheta, 1)
	if !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}
	var upe *UnknownParameterError
	if !errors.As(err, &upe) || upe.Regime != RegimeAbsolute {
		t.Errorf("expected regime in error, got %+v", upe)
	}

	veto := NewConfiguration(Rule{Plasticity: Claire, Veto: true}.Params())
	if _, err := codec.Decode(veto); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("Decode should fail for veto params in absolute regime, got %v", err)
	}
}

func TestParseID(t *testing.T) {
	for id := ID(0); id < NumParams; id++ {
		got, err := ParseID(id.String())
		if err != nil || got != id {
			t.Errorf("ParseID(%q) = %v, %v", id.String(), got, err)
		}
		got, err = ParseID(id.Column())
		if err != nil || got != id {
			t.Errorf("ParseID(%q) = %v, %v", id.Column(), got, err)
		}
	}
	if _, err := ParseID("w_max"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("expected ErrUnknownParameter, got %v", err)
	}
}

func TestConfigurationWithDoesNotAlias(t *testing.T) {
	base := NewConfiguration(NewSet(ThetaHigh, ThetaLow))
	a := base.With(ThetaHigh, 1)
	b := a.With(ThetaHigh, 2)

	if a.Get(ThetaHigh) != 1 || b.Get(ThetaHigh) != 2 || base.Get(ThetaHigh) != 0 {
		t.Errorf("With aliased: base=%v a=%v b=%v", base, a, b)
	}
	if a.Equal(b) {
		t.Error("configurations with different indices compared equal")
	}
	if got := a.String(); got != "th=1 tl=0" {
		t.Errorf("String() = %q", got)
	}
}

func TestRuleTableName(t *testing.T) {
	for _, r := range []Rule{{Claire, false}, {Claire, true}, {Clopath, true}} {
		back, err := ParseTableName(r.TableName())
		if err != nil || back != r {
			t.Errorf("ParseTableName(%q) = %v, %v", r.TableName(), back, err)
		}
	}
	if n := (Rule{Claire, true}).Params().Len(); n != 9 {
		t.Errorf("veto rule has %d params, want 9", n)
	}
	if n := (Rule{Claire, false}).Params().Len(); n != 7 {
		t.Errorf("noveto rule has %d params, want 7", n)
	}
}
