package nn

import "math"

const invSqrt2Pi = 0.3989422804014327

// GELU computes the exact (erf-based) Gaussian error linear unit.
func GELU(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

// GELUGrad computes d/dx GELU(x) = Phi(x) + x*phi(x).
func GELUGrad(x float64) float64 {
	cdf := 0.5 * (1 + math.Erf(x/math.Sqrt2))
	pdf := invSqrt2Pi * math.Exp(-0.5*x*x)
	return cdf + x*pdf
}

// AllFinite reports whether every value is finite.
func AllFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
