package interaction

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"resindex/internal/model"
)

// Variant selects how much of the parameter set inference samples. The two
// variants share one forward composition; they differ only in which weights
// are random variables and in the noise-scale prior.
type Variant string

const (
	// VariantFull samples every regression weight.
	VariantFull Variant = "full"
	// VariantRelaxed point-estimates the control weights, control bias and
	// index main-effect weight, keeping only the interaction weight,
	// exposure main effect, threshold and noise scale Bayesian.
	VariantRelaxed Variant = "relaxed"
)

const (
	defaultDropout = 0.5
	defaultKDim    = 10
	DeviceCPU      = "cpu"
)

type Config struct {
	Variant         Variant
	InteractionVars int
	ControlVars     int
	HiddenLayers    []int

	// DisableThresholdBias turns off the learned exposure cutoff; the raw
	// exposure is used instead.
	DisableThresholdBias bool

	// Dropout 0 selects the 0.5 default; pass a negative value to disable.
	Dropout float64

	// Reduce projects interaction predictors onto Basis's first KDim
	// columns before the index network.
	Reduce bool
	Basis  *mat.Dense
	KDim   int

	// Concatenate appends the raw interaction predictors to the control
	// set; the separate index main-effect weight is dropped in that case.
	Concatenate bool

	DisableOutputNorm bool

	Device string

	// Seed drives weight initialization and dropout masks.
	Seed int64
}

func normalizeConfig(cfg Config) Config {
	if cfg.Variant == "" {
		cfg.Variant = VariantFull
	}
	if cfg.Dropout == 0 {
		cfg.Dropout = defaultDropout
	} else if cfg.Dropout < 0 {
		cfg.Dropout = 0
	}
	if cfg.Reduce && cfg.KDim == 0 {
		cfg.KDim = defaultKDim
	}
	if cfg.Device == "" {
		cfg.Device = DeviceCPU
	}
	return cfg
}

func validateConfig(cfg Config) error {
	switch cfg.Variant {
	case VariantFull, VariantRelaxed:
	default:
		return fmt.Errorf("unsupported variant: %s", cfg.Variant)
	}
	if cfg.InteractionVars <= 0 {
		return fmt.Errorf("interaction variable count must be > 0: %d", cfg.InteractionVars)
	}
	if cfg.ControlVars <= 0 {
		return fmt.Errorf("control variable count must be > 0: %d", cfg.ControlVars)
	}
	if len(cfg.HiddenLayers) == 0 {
		return fmt.Errorf("at least one hidden layer width is required")
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return fmt.Errorf("dropout rate must be in [0, 1): %v", cfg.Dropout)
	}
	if cfg.Device != DeviceCPU {
		return fmt.Errorf("unsupported device: %s", cfg.Device)
	}
	if cfg.Reduce {
		if cfg.Basis == nil {
			return fmt.Errorf("reduction requested without a basis")
		}
		if cfg.KDim > cfg.InteractionVars {
			return fmt.Errorf("retained dimension exceeds predictor dimension: k=%d predictors=%d", cfg.KDim, cfg.InteractionVars)
		}
	}
	return nil
}

// effectiveControlDim is the width of the linear-control input.
func (c Config) effectiveControlDim() int {
	if c.Concatenate {
		return c.ControlVars + c.InteractionVars
	}
	return c.ControlVars
}

// indexInputDim is the index network's input width after optional reduction.
func (c Config) indexInputDim() int {
	if c.Reduce {
		return c.KDim
	}
	return c.InteractionVars
}

// hasIndexMain reports whether the separate index main-effect weight exists.
func (c Config) hasIndexMain() bool {
	return !c.Concatenate
}

func (c Config) toModel() model.ModelConfig {
	out := model.ModelConfig{
		Variant:              string(c.Variant),
		InteractionVars:      c.InteractionVars,
		ControlVars:          c.ControlVars,
		HiddenLayers:         append([]int(nil), c.HiddenLayers...),
		DisableThresholdBias: c.DisableThresholdBias,
		Dropout:              c.Dropout,
		Reduce:               c.Reduce,
		KDim:                 c.KDim,
		Concatenate:          c.Concatenate,
		DisableOutputNorm:    c.DisableOutputNorm,
		Device:               c.Device,
	}
	if out.Dropout == 0 {
		// Keep the disabled-dropout sentinel stable across a round trip.
		out.Dropout = -1
	}
	if c.Reduce && c.Basis != nil {
		rows, cols := c.Basis.Dims()
		out.BasisRows = rows
		out.BasisCols = cols
		out.Basis = append([]float64(nil), c.Basis.RawMatrix().Data...)
	}
	return out
}

// ConfigFromModel rebuilds a Config from its persisted mirror.
func ConfigFromModel(mc model.ModelConfig) (Config, error) {
	cfg := Config{
		Variant:              Variant(mc.Variant),
		InteractionVars:      mc.InteractionVars,
		ControlVars:          mc.ControlVars,
		HiddenLayers:         append([]int(nil), mc.HiddenLayers...),
		DisableThresholdBias: mc.DisableThresholdBias,
		Dropout:              mc.Dropout,
		Reduce:               mc.Reduce,
		KDim:                 mc.KDim,
		Concatenate:          mc.Concatenate,
		DisableOutputNorm:    mc.DisableOutputNorm,
		Device:               mc.Device,
	}
	if mc.Reduce {
		if len(mc.Basis) != mc.BasisRows*mc.BasisCols {
			return Config{}, fmt.Errorf("basis payload size mismatch: got=%d want=%d", len(mc.Basis), mc.BasisRows*mc.BasisCols)
		}
		cfg.Basis = mat.NewDense(mc.BasisRows, mc.BasisCols, append([]float64(nil), mc.Basis...))
	}
	return cfg, nil
}
