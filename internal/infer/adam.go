package infer

import (
	"fmt"
	"math"
)

// Adam implements the Adam optimizer with bias correction.
//
// Update rule:
//
//	m[i] = β1·m[i] + (1-β1)·g[i]
//	v[i] = β2·v[i] + (1-β2)·g[i]²
//	m̂[i] = m[i] / (1 - β1^t)
//	v̂[i] = v[i] / (1 - β2^t)
//	w[i] = w[i] - lr · m̂[i] / (√v̂[i] + ε)
type Adam struct {
	lr           float64
	beta1, beta2 float64
	eps          float64
	m, v         []float64
	step         int
}

// NewAdam creates an Adam optimizer for a parameter vector of the given
// dimension. Uses standard defaults: β1=0.9, β2=0.999, ε=1e-8.
func NewAdam(lr float64, dim int) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, dim),
		v:     make([]float64, dim),
	}
}

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float64) {
	a.lr = lr
}

// Update applies one Adam step in place.
func (a *Adam) Update(params, grads []float64) error {
	if len(params) != len(a.m) || len(grads) != len(a.m) {
		return fmt.Errorf("optimizer dimension mismatch: params=%d grads=%d want=%d", len(params), len(grads), len(a.m))
	}
	a.step++

	mCorr := 1 - math.Pow(a.beta1, float64(a.step))
	vCorr := 1 - math.Pow(a.beta2, float64(a.step))
	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g

		mHat := a.m[i] / mCorr
		vHat := a.v[i] / vCorr

		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
	return nil
}
