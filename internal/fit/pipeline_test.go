package fit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/plasticityfit/internal/opt"
	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/sim"
)

var noveto = param.Rule{Plasticity: param.Claire}

func gridConfig(th float64) param.Configuration {
	return param.NewConfiguration(noveto.Params()).
		With(param.ThetaHigh, th).
		With(param.ThetaLow, 1).
		With(param.ALTP, 1).
		With(param.ALTD, 1).
		With(param.TauLowpass1, 1).
		With(param.TauLowpass2, 1).
		With(param.TauX, 1)
}

// neutral returns zero weight change, i.e. 100% plasticity on every trace
var neutral = sim.Func(func(ctx context.Context, protocol param.Protocol, trace int, p sim.Parameters) (float64, error) {
	return 0, nil
})

// bowl hits every Letzkus target exactly at theta_high = 10 mV and drifts
// away quadratically elsewhere.
func bowl(t *testing.T) sim.Simulator {
	t.Helper()
	catalog, err := sim.LookupCatalog(param.Letzkus)
	if err != nil {
		t.Fatal(err)
	}
	reps := float64(catalog.Repetitions)
	return sim.Func(func(ctx context.Context, protocol param.Protocol, trace int, p sim.Parameters) (float64, error) {
		exact := (catalog.Targets[trace]/100 - 1) / reps
		d := p.Values[param.ThetaHigh] - 10
		return exact + 0.001*d*d, nil
	})
}

func TestPipelineLetzkus(t *testing.T) {
	pipeline, err := NewPipeline(neutral, param.Letzkus, noveto, param.RegimeAbsolute)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	m, err := pipeline.Evaluate(context.Background(), gridConfig(1))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// Deviations from 100: 8, 29, 10, 0, 18, 0, 37, 15, 0
	if m.LInf != 37 {
		t.Errorf("LInf = %f, want 37", m.LInf)
	}
	if math.Abs(m.L2-2923) > 1e-9 {
		t.Errorf("L2 = %f, want 2923", m.L2)
	}
}

func TestSpacePipelineMonteLetzkus(t *testing.T) {
	var calls int
	counting := sim.Func(func(ctx context.Context, protocol param.Protocol, trace int, p sim.Parameters) (float64, error) {
		calls++
		return 0, nil
	})

	space, err := param.NewSpace(noveto, param.RegimeAbsolute, []param.Spec{
		{ID: param.ThetaHigh, Lower: 0, Upper: 4, Step: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	space.Kind = param.KindMonte

	pipeline, err := NewSpacePipeline(counting, param.Letzkus, space)
	if err != nil {
		t.Fatalf("NewSpacePipeline: %v", err)
	}
	m, err := pipeline.Evaluate(context.Background(), gridConfig(1))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if calls != 10 {
		t.Errorf("simulated %d traces, want 10", calls)
	}
	// The tenth recording adds a deviation of 22 from its target of 78
	if m.LInf != 37 {
		t.Errorf("LInf = %f, want 37", m.LInf)
	}
	if math.Abs(m.L2-3407) > 1e-9 {
		t.Errorf("L2 = %f, want 3407", m.L2)
	}

	space.Kind = param.KindGrid
	grid, err := NewSpacePipeline(counting, param.Letzkus, space)
	if err != nil {
		t.Fatalf("NewSpacePipeline: %v", err)
	}
	if grid.Catalog().Traces != 9 {
		t.Errorf("grid pipeline simulates %d traces, want 9", grid.Catalog().Traces)
	}
}

func TestPipelineBrandaliseMixesTraces(t *testing.T) {
	var calls int
	counting := sim.Func(func(ctx context.Context, protocol param.Protocol, trace int, p sim.Parameters) (float64, error) {
		calls++
		if protocol != param.Brandaliseb {
			t.Errorf("protocol = %s, want Brandaliseb", protocol)
		}
		return 0, nil
	})

	pipeline, err := NewPipeline(counting, param.Brandaliseb, noveto, param.RegimeAbsolute)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	m, err := pipeline.Evaluate(context.Background(), gridConfig(1))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if calls != 24 {
		t.Errorf("simulated %d traces, want 24", calls)
	}
	if m.LInf != 60 {
		t.Errorf("LInf = %f, want 60", m.LInf)
	}
}

func TestPipelinePassesDecodedValues(t *testing.T) {
	var got sim.Parameters
	capture := sim.Func(func(ctx context.Context, protocol param.Protocol, trace int, p sim.Parameters) (float64, error) {
		got = p
		return 0, nil
	})
	pipeline, err := NewPipeline(capture, param.Letzkus, noveto, param.RegimeAbsolute)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := pipeline.Evaluate(context.Background(), gridConfig(3)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Values[param.ThetaHigh] != 10 {
		t.Errorf("theta_high = %f, want 10", got.Values[param.ThetaHigh])
	}
	if got.XReset != sim.XReset || got.WMax != sim.WMax || got.WInit != sim.WInit {
		t.Errorf("constants not set: %+v", got)
	}
}

func TestPipelineErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewPipeline(neutral, param.Protocol("Nope"), noveto, param.RegimeAbsolute); err == nil {
		t.Error("expected error for unknown protocol")
	}
	if _, err := NewPipeline(neutral, param.Letzkus, noveto, param.Regime("bogus")); !errors.Is(err, param.ErrUnsupportedRegime) {
		t.Errorf("expected ErrUnsupportedRegime, got %v", err)
	}

	pipeline, _ := NewPipeline(neutral, param.Letzkus, noveto, param.RegimeAbsolute)
	partial := param.NewConfiguration(0).With(param.ThetaHigh, 1)
	if _, err := pipeline.Evaluate(ctx, partial); err == nil {
		t.Error("expected error for incomplete configuration")
	}

	// The absolute regime has no b_theta transform.
	veto := param.Rule{Plasticity: param.Claire, Veto: true}
	vp, _ := NewPipeline(neutral, param.Letzkus, veto, param.RegimeAbsolute)
	cfg := gridConfig(1).With(param.BTheta, 1).With(param.TauTheta, 1)
	if _, err := vp.Evaluate(ctx, cfg); !errors.Is(err, param.ErrUnknownParameter) {
		t.Errorf("expected ErrUnknownParameter, got %v", err)
	}

	failing := sim.Func(func(ctx context.Context, protocol param.Protocol, trace int, p sim.Parameters) (float64, error) {
		return 0, errors.New("solver diverged")
	})
	fp, _ := NewPipeline(failing, param.Letzkus, noveto, param.RegimeAbsolute)
	if _, err := fp.Evaluate(ctx, gridConfig(1)); err == nil {
		t.Error("expected simulator error")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := pipeline.Evaluate(cancelled, gridConfig(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRefine(t *testing.T) {
	pipeline, err := NewPipeline(bowl(t), param.Letzkus, noveto, param.RegimeAbsolute)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	free := []param.Spec{
		{ID: param.ThetaHigh, Lower: 1, Upper: 8, Step: 1},
		{ID: param.ThetaLow, Lower: 1, Upper: 8, Step: 1},
		{ID: param.ALTP, Lower: 1, Upper: 7, Step: 1},
		{ID: param.ALTD, Lower: 1, Upper: 7, Step: 1},
		{ID: param.TauLowpass1, Lower: 1, Upper: 6, Step: 1},
		{ID: param.TauLowpass2, Lower: 1, Upper: 6, Step: 1},
		{ID: param.TauX, Lower: 1, Upper: 6, Step: 1},
	}
	space, err := param.NewSpace(noveto, param.RegimeAbsolute, free)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}

	optimizer, err := opt.NewMayfly(30, 20, 7)
	if err != nil {
		t.Fatalf("NewMayfly: %v", err)
	}

	start := gridConfig(1) // theta_high = 0 mV
	result, err := Refine(context.Background(), pipeline, optimizer, space, start)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}

	if result.BestMetrics.L2 >= result.Initial.L2 {
		t.Errorf("no improvement: initial %f, best %f", result.Initial.L2, result.BestMetrics.L2)
	}
	if !space.Contains(result.Best) {
		t.Errorf("refined point %v outside space", result.Best)
	}
	if math.Abs(result.BestValues[param.ThetaHigh]-10) > 5 {
		t.Errorf("theta_high = %f, expected near 10", result.BestValues[param.ThetaHigh])
	}
	if result.Evaluations == 0 {
		t.Error("expected evaluations to be counted")
	}
}

func TestRefineRejectsOutsideStart(t *testing.T) {
	pipeline, _ := NewPipeline(neutral, param.Letzkus, noveto, param.RegimeAbsolute)
	space, _ := param.NewSpace(noveto, param.RegimeAbsolute, []param.Spec{
		{ID: param.ThetaHigh, Lower: 1, Upper: 2, Step: 1},
	})
	optimizer, _ := opt.NewMayfly(5, 20, 1)

	if _, err := Refine(context.Background(), pipeline, optimizer, space, gridConfig(5)); err == nil {
		t.Error("expected error for start outside the space")
	}
}

func TestRefineReportsSimulatorFailure(t *testing.T) {
	var calls int
	flaky := sim.Func(func(ctx context.Context, protocol param.Protocol, trace int, p sim.Parameters) (float64, error) {
		calls++
		if calls > 9 {
			return 0, errors.New("solver diverged")
		}
		return 0, nil
	})
	pipeline, _ := NewPipeline(flaky, param.Letzkus, noveto, param.RegimeAbsolute)
	space, _ := param.NewSpace(noveto, param.RegimeAbsolute, []param.Spec{
		{ID: param.ThetaHigh, Lower: 1, Upper: 8, Step: 1},
	})
	optimizer, _ := opt.NewMayfly(5, 20, 1)

	if _, err := Refine(context.Background(), pipeline, optimizer, space, gridConfig(1)); err == nil {
		t.Error("expected simulator failure to surface")
	}
}
