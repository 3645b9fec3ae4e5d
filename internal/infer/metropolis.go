package infer

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"resindex/internal/dataset"
	"resindex/internal/interaction"
	"resindex/internal/nn"
)

// MetropolisConfig configures the random-walk posterior sampler.
// Zero values are replaced with defaults.
type MetropolisConfig struct {
	Samples  int     `json:"samples"`   // default 1000
	BurnIn   int     `json:"burn_in"`   // default 200
	StepSize float64 `json:"step_size"` // default 0.05
	Seed     int64   `json:"seed"`
}

// Chain is the retained portion of one Metropolis walk, values per sampled
// site per iteration.
type Chain struct {
	Sites    map[string][][]float64
	Accepted int
	Proposed int
}

func (c *Chain) AcceptRate() float64 {
	if c.Proposed == 0 {
		return 0
	}
	return float64(c.Accepted) / float64(c.Proposed)
}

// Mean returns the posterior mean of every sampled site.
func (c *Chain) Mean() map[string][]float64 {
	out := make(map[string][]float64, len(c.Sites))
	for name, draws := range c.Sites {
		if len(draws) == 0 {
			continue
		}
		mean := make([]float64, len(draws[0]))
		for _, draw := range draws {
			for i, v := range draw {
				mean[i] += v
			}
		}
		for i := range mean {
			mean[i] /= float64(len(draws))
		}
		out[name] = mean
	}
	return out
}

// Metropolis refines the sampled parameters of a fitted model with a
// random-walk over the log joint. Point-estimated parameters and the index
// network stay fixed; only sample sites move.
type Metropolis struct {
	cfg MetropolisConfig
	rng *rand.Rand
}

func NewMetropolis(cfg MetropolisConfig) *Metropolis {
	if cfg.Samples == 0 {
		cfg.Samples = 1000
	}
	if cfg.BurnIn == 0 {
		cfg.BurnIn = 200
	}
	if cfg.StepSize == 0 {
		cfg.StepSize = 0.05
	}
	return &Metropolis{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Sample walks the sampled sites over the observed batch and leaves the
// model at the posterior mean of the retained draws.
func (s *Metropolis) Sample(ctx context.Context, m *interaction.Model, b dataset.Batch) (*Chain, error) {
	if b.Outcome == nil {
		return nil, fmt.Errorf("posterior sampling requires an observed outcome")
	}
	sampled := m.Params().Sampled()
	if len(sampled) == 0 {
		return nil, fmt.Errorf("model has no sampled parameters")
	}

	logp, err := logJoint(m, b)
	if err != nil {
		return nil, err
	}
	if math.IsInf(logp, -1) || math.IsNaN(logp) {
		return nil, fmt.Errorf("degenerate starting point: log joint=%v", logp)
	}

	chain := &Chain{Sites: make(map[string][][]float64, len(sampled))}
	current := make(map[string][]float64, len(sampled))
	for _, p := range sampled {
		current[p.Name] = append([]float64(nil), p.Value...)
	}

	total := s.cfg.BurnIn + s.cfg.Samples
	for iter := 0; iter < total; iter++ {
		if err := ctx.Err(); err != nil {
			return chain, err
		}

		proposal := make(map[string][]float64, len(sampled))
		for name, value := range current {
			next := make([]float64, len(value))
			for i, v := range value {
				next[i] = v + s.cfg.StepSize*s.rng.NormFloat64()
			}
			proposal[name] = next
		}
		if err := m.Params().SetValues(proposal); err != nil {
			return nil, err
		}

		nextLogp, err := logJoint(m, b)
		if err != nil {
			return nil, err
		}

		chain.Proposed++
		if math.Log(s.rng.Float64()) < nextLogp-logp {
			chain.Accepted++
			logp = nextLogp
			for name, value := range proposal {
				copy(current[name], value)
			}
		} else {
			if err := m.Params().SetValues(current); err != nil {
				return nil, err
			}
		}

		if iter >= s.cfg.BurnIn {
			for name, value := range current {
				chain.Sites[name] = append(chain.Sites[name], append([]float64(nil), value...))
			}
		}
	}

	if err := m.Params().SetValues(chain.Mean()); err != nil {
		return nil, err
	}
	for _, p := range m.Params().All() {
		p.ClampSupport()
	}
	return chain, nil
}

func logJoint(m *interaction.Model, b dataset.Batch) (float64, error) {
	res, err := m.Forward(b, nn.ModeEval)
	if err != nil {
		return 0, err
	}
	return res.Trace.LogJoint(), nil
}
