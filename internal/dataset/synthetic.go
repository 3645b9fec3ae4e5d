package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SyntheticConfig drives the synthetic generator used by tests and demo
// runs. The outcome follows the moderated-interaction structure the model
// estimates: a latent index derived from the predictors scales the effect
// of the thresholded exposure on the outcome.
type SyntheticConfig struct {
	Observations    int
	InteractionVars int
	ControlVars     int
	Threshold       float64
	InteractionGain float64
	ExposureGain    float64
	NoiseStd        float64
}

func normalizeSyntheticConfig(cfg SyntheticConfig) SyntheticConfig {
	if cfg.Observations <= 0 {
		cfg.Observations = 512
	}
	if cfg.InteractionVars <= 0 {
		cfg.InteractionVars = 8
	}
	if cfg.ControlVars <= 0 {
		cfg.ControlVars = 4
	}
	if cfg.InteractionGain == 0 {
		cfg.InteractionGain = 0.8
	}
	if cfg.ExposureGain == 0 {
		cfg.ExposureGain = 0.3
	}
	if cfg.NoiseStd <= 0 {
		cfg.NoiseStd = 0.1
	}
	return cfg
}

// Synthetic generates a dataset with a known interaction structure.
func Synthetic(cfg SyntheticConfig, seed int64) (*Dataset, error) {
	cfg = normalizeSyntheticConfig(cfg)
	rng := rand.New(rand.NewSource(seed))

	n := cfg.Observations
	predictors := mat.NewDense(n, cfg.InteractionVars, nil)
	controls := mat.NewDense(n, cfg.ControlVars, nil)
	exposure := make([]float64, n)
	outcome := make([]float64, n)

	controlWeights := make([]float64, cfg.ControlVars)
	for j := range controlWeights {
		controlWeights[j] = rng.NormFloat64() * 0.5
	}
	indexWeights := make([]float64, cfg.InteractionVars)
	for j := range indexWeights {
		indexWeights[j] = rng.NormFloat64()
	}

	for i := 0; i < n; i++ {
		index := 0.0
		for j := 0; j < cfg.InteractionVars; j++ {
			v := rng.NormFloat64()
			predictors.Set(i, j, v)
			index += indexWeights[j] * v
		}
		// Bound the latent index so the interaction stays comparable in
		// magnitude to the main effects.
		index = math.Tanh(index / math.Sqrt(float64(cfg.InteractionVars)))

		controlled := 0.0
		for j := 0; j < cfg.ControlVars; j++ {
			v := rng.NormFloat64()
			controls.Set(i, j, v)
			controlled += controlWeights[j] * v
		}

		e := math.Abs(rng.NormFloat64()) * 2
		exposure[i] = e
		effective := e - cfg.Threshold
		if effective < 0 {
			effective = 0
		}

		outcome[i] = cfg.InteractionGain*effective*index +
			cfg.ExposureGain*effective +
			controlled +
			rng.NormFloat64()*cfg.NoiseStd
	}

	ds, err := New(predictors, exposure, controls, outcome)
	if err != nil {
		return nil, fmt.Errorf("synthetic dataset: %w", err)
	}
	return ds, nil
}
