// Package fit turns grid configurations into deviation metrics. It runs the
// simulator once per trace, mixes the outcomes per protocol and compares
// them with the experimental targets.
package fit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/plasticityfit/internal/param"
	"github.com/cwbudde/plasticityfit/internal/sim"
	"github.com/cwbudde/plasticityfit/internal/store"
)

// Evaluator scores one configuration
type Evaluator interface {
	// Evaluate simulates cfg and returns its deviation metrics
	Evaluate(ctx context.Context, cfg param.Configuration) (store.Metrics, error)
}

// Pipeline is the Evaluator backed by a simulator: decode the indices,
// simulate every trace of the protocol, mix, and measure deviations.
type Pipeline struct {
	simulator sim.Simulator
	catalog   *sim.Catalog
	codec     *param.Codec
	rule      param.Rule
}

// NewPipeline creates an evaluation pipeline for one protocol, rule and regime.
func NewPipeline(simulator sim.Simulator, protocol param.Protocol, rule param.Rule, regime param.Regime) (*Pipeline, error) {
	catalog, err := sim.LookupCatalog(protocol)
	if err != nil {
		return nil, err
	}
	return newPipeline(simulator, catalog, protocol, rule, regime)
}

// NewSpacePipeline creates the pipeline that scores the configurations of
// space, using the trace catalog of the space's kind.
func NewSpacePipeline(simulator sim.Simulator, protocol param.Protocol, space *param.Space) (*Pipeline, error) {
	catalog, err := sim.LookupCatalogFor(protocol, space.Kind)
	if err != nil {
		return nil, err
	}
	return newPipeline(simulator, catalog, protocol, space.Rule, space.Regime)
}

func newPipeline(simulator sim.Simulator, catalog *sim.Catalog, protocol param.Protocol, rule param.Rule, regime param.Regime) (*Pipeline, error) {
	codec, err := param.NewCodec(regime, protocol)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		simulator: simulator,
		catalog:   catalog,
		codec:     codec,
		rule:      rule,
	}, nil
}

// Catalog returns the protocol catalog the pipeline simulates
func (p *Pipeline) Catalog() *sim.Catalog { return p.catalog }

// Codec returns the index codec
func (p *Pipeline) Codec() *param.Codec { return p.codec }

// Evaluate decodes cfg and scores the resulting physical values.
func (p *Pipeline) Evaluate(ctx context.Context, cfg param.Configuration) (store.Metrics, error) {
	for _, id := range p.rule.Params().IDs() {
		if !cfg.Params.Has(id) {
			return store.Metrics{}, fmt.Errorf("configuration %v lacks %s required by %s", cfg, id, p.rule)
		}
	}
	values, err := p.codec.Decode(cfg)
	if err != nil {
		return store.Metrics{}, err
	}
	return p.EvaluateValues(ctx, values)
}

// EvaluateValues scores physical parameter values directly.
func (p *Pipeline) EvaluateValues(ctx context.Context, values param.Values) (store.Metrics, error) {
	start := time.Now()
	params := sim.NewParameters(p.rule, values)

	outcomes := make([]float64, p.catalog.Traces)
	for trace := range outcomes {
		if err := ctx.Err(); err != nil {
			return store.Metrics{}, err
		}
		x, err := p.simulator.Simulate(ctx, p.catalog.Protocol, trace, params)
		if err != nil {
			return store.Metrics{}, fmt.Errorf("trace %d: %w", trace, err)
		}
		outcomes[trace] = x
	}

	mixed, err := p.catalog.Mix(outcomes)
	if err != nil {
		return store.Metrics{}, err
	}
	deviations, err := p.catalog.Deviations(mixed)
	if err != nil {
		return store.Metrics{}, err
	}
	m, err := MetricsOf(deviations)
	if err != nil {
		return store.Metrics{}, err
	}

	slog.Debug("Evaluated parameters",
		"protocol", p.catalog.Protocol,
		"l_inf", m.LInf,
		"l2", m.L2,
		"elapsed", time.Since(start),
	)
	return m, nil
}
