package nn

import (
	"math"

	"resindex/internal/model"
)

const (
	normMomentum = 0.1
	normEps      = 1e-5
)

// BatchNorm is an affine-free normalizer over the scalar network output.
// Training batches are normalized with their own statistics while running
// estimates accumulate for inference.
type BatchNorm struct {
	runningMean float64
	runningVar  float64
	count       int64
}

func NewBatchNorm() *BatchNorm {
	return &BatchNorm{runningVar: 1}
}

type normCache struct {
	std  float64
	xhat []float64
}

func (b *BatchNorm) forwardTrain(x []float64) ([]float64, *normCache) {
	n := float64(len(x))
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= n
	variance := 0.0
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= n

	std := math.Sqrt(variance + normEps)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - mean) / std
	}

	b.runningMean = (1-normMomentum)*b.runningMean + normMomentum*mean
	// Running variance uses the unbiased batch estimate.
	unbiased := variance
	if len(x) > 1 {
		unbiased = variance * n / (n - 1)
	}
	b.runningVar = (1-normMomentum)*b.runningVar + normMomentum*unbiased
	b.count += int64(len(x))

	return out, &normCache{std: std, xhat: out}
}

func (b *BatchNorm) forwardEval(x []float64) []float64 {
	std := math.Sqrt(b.runningVar + normEps)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - b.runningMean) / std
	}
	return out
}

// backward propagates through a training-mode normalization.
func (b *BatchNorm) backward(cache *normCache, dOut []float64) []float64 {
	n := float64(len(dOut))
	sumDy := 0.0
	sumDyXhat := 0.0
	for i, dy := range dOut {
		sumDy += dy
		sumDyXhat += dy * cache.xhat[i]
	}
	dx := make([]float64, len(dOut))
	for i, dy := range dOut {
		dx[i] = (n*dy - sumDy - cache.xhat[i]*sumDyXhat) / (n * cache.std)
	}
	return dx
}

func (b *BatchNorm) Snapshot() *model.NormSnapshot {
	return &model.NormSnapshot{Mean: b.runningMean, Var: b.runningVar, Count: b.count}
}

func (b *BatchNorm) Restore(s *model.NormSnapshot) {
	if s == nil {
		return
	}
	b.runningMean = s.Mean
	b.runningVar = s.Var
	b.count = s.Count
}
