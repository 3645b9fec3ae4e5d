package search

import (
	"fmt"
	"math"
	"math/rand"

	"resindex/internal/model"
)

// IntRange is a half-open integer interval [Low, High).
type IntRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

func (r IntRange) sample(rng *rand.Rand) int {
	return r.Low + rng.Intn(r.High-r.Low)
}

// LogRange samples log-uniformly from [Low, High].
type LogRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func (r LogRange) sample(rng *rand.Rand) float64 {
	lo, hi := math.Log(r.Low), math.Log(r.High)
	return math.Exp(lo + rng.Float64()*(hi-lo))
}

// Space is the hyperparameter distribution trials are drawn from.
type Space struct {
	Layer1      IntRange  `json:"layer1"`
	Layer2      IntRange  `json:"layer2"`
	KDim        IntRange  `json:"k_dim"`
	BatchSizes  []int     `json:"batch_sizes"`
	LR          LogRange  `json:"lr"`
	WeightDecay LogRange  `json:"weight_decay"`
}

// DefaultSpace returns the standard search distribution: hidden widths in
// [10, 100), retained dimensions in [5, 25), batch sizes from the usual
// powers of two, and log-uniform learning rate and weight decay over
// [1e-5, 1e-1].
func DefaultSpace() Space {
	return Space{
		Layer1:      IntRange{Low: 10, High: 100},
		Layer2:      IntRange{Low: 10, High: 100},
		KDim:        IntRange{Low: 5, High: 25},
		BatchSizes:  []int{32, 64, 128, 256, 512},
		LR:          LogRange{Low: 1e-5, High: 1e-1},
		WeightDecay: LogRange{Low: 1e-5, High: 1e-1},
	}
}

func (s Space) isZero() bool {
	return s.Layer1 == (IntRange{}) && s.Layer2 == (IntRange{}) &&
		s.KDim == (IntRange{}) && len(s.BatchSizes) == 0 &&
		s.LR == (LogRange{}) && s.WeightDecay == (LogRange{})
}

func validateSpace(s Space) error {
	for _, r := range []IntRange{s.Layer1, s.Layer2, s.KDim} {
		if r.Low <= 0 || r.High <= r.Low {
			return fmt.Errorf("invalid integer range: [%d, %d)", r.Low, r.High)
		}
	}
	if len(s.BatchSizes) == 0 {
		return fmt.Errorf("at least one batch size is required")
	}
	for _, b := range s.BatchSizes {
		if b <= 0 {
			return fmt.Errorf("batch size must be > 0: %d", b)
		}
	}
	for _, r := range []LogRange{s.LR, s.WeightDecay} {
		if r.Low <= 0 || r.High < r.Low {
			return fmt.Errorf("invalid log range: [%v, %v]", r.Low, r.High)
		}
	}
	return nil
}

// Sample draws one trial configuration.
func (s Space) Sample(rng *rand.Rand) model.TrialParams {
	return model.TrialParams{
		Layer1:      s.Layer1.sample(rng),
		Layer2:      s.Layer2.sample(rng),
		KDim:        s.KDim.sample(rng),
		BatchSize:   s.BatchSizes[rng.Intn(len(s.BatchSizes))],
		LR:          s.LR.sample(rng),
		WeightDecay: s.WeightDecay.sample(rng),
	}
}
