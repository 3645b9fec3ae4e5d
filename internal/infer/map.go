package infer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"resindex/internal/dataset"
	"resindex/internal/interaction"
	"resindex/internal/nn"
	"resindex/internal/prior"
)

// ErrDiverged is returned when training produces non-finite parameters or
// losses. Callers treat it as a fit failure rather than a program bug.
var ErrDiverged = errors.New("infer: training diverged")

// MAPConfig configures maximum-a-posteriori training.
// Zero values are replaced with defaults.
type MAPConfig struct {
	BatchSize   int     `json:"batch_size"`   // default 64
	LR          float64 `json:"lr"`           // default 1e-3
	WeightDecay float64 `json:"weight_decay"` // default 0
	Seed        int64   `json:"seed"`
}

// MAP minimizes the negative mean log joint of an interaction model with
// mini-batch Adam. Optimizer state persists across Fit calls, so a trial
// resumed for more epochs continues where it stopped.
type MAP struct {
	cfg      MAPConfig
	opt      *Adam
	netCount int
	rng      *rand.Rand
}

func NewMAP(cfg MAPConfig) *MAP {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 64
	}
	if cfg.LR == 0 {
		cfg.LR = 1e-3
	}
	return &MAP{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Fit runs the given number of epochs over d and returns the mean training
// loss of the final epoch. The weight decay is decoupled from the gradient
// and applied only to the index-network weights.
func (f *MAP) Fit(ctx context.Context, m *interaction.Model, d *dataset.Dataset, epochs int) (float64, error) {
	if epochs <= 0 {
		return 0, fmt.Errorf("epoch count must be > 0: %d", epochs)
	}
	if d.Outcome == nil {
		return 0, fmt.Errorf("training requires an observed outcome")
	}

	network := m.Network()
	params := m.Params()
	if f.opt == nil {
		f.netCount = network.ParamCount()
		f.opt = NewAdam(f.cfg.LR, f.netCount+len(params.Flatten()))
	}

	lastLoss := math.Inf(1)
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return lastLoss, err
		}

		batches, err := d.Batches(f.cfg.BatchSize, f.rng)
		if err != nil {
			return 0, err
		}

		total := 0.0
		for _, b := range batches {
			res, err := m.Forward(b, nn.ModeTrain)
			if err != nil {
				return 0, err
			}
			loss := -res.Trace.LogJoint() / float64(b.Len())
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return loss, ErrDiverged
			}
			total += loss * float64(b.Len())

			grad, err := m.Gradient(b, res)
			if err != nil {
				return 0, err
			}

			vec := append(network.Params(), params.Flatten()...)
			gvec := append(grad.Network, flattenParamGrads(params, grad)...)
			if err := f.opt.Update(vec, gvec); err != nil {
				return 0, err
			}
			if f.cfg.WeightDecay > 0 {
				for i := 0; i < f.netCount; i++ {
					vec[i] -= f.cfg.LR * f.cfg.WeightDecay * vec[i]
				}
			}

			if err := network.SetParams(vec[:f.netCount]); err != nil {
				return 0, err
			}
			if err := params.Assign(vec[f.netCount:]); err != nil {
				return 0, err
			}
			for _, p := range params.All() {
				p.ClampSupport()
			}
		}
		lastLoss = total / float64(d.Len())

		if !params.Finite() || !nn.AllFinite(network.Params()) {
			return lastLoss, ErrDiverged
		}
	}
	return lastLoss, nil
}

// flattenParamGrads orders the named gradients identically to Set.Flatten.
func flattenParamGrads(params *prior.Set, grad *interaction.Gradient) []float64 {
	out := make([]float64, 0)
	for _, p := range params.All() {
		g := grad.Params[p.Name]
		if g == nil {
			g = make([]float64, len(p.Value))
		}
		out = append(out, g...)
	}
	return out
}
