package regress

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestOLSRecoversKnownCoefficients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 300
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a := rng.NormFloat64()
		b := rng.NormFloat64()
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		y[i] = 1 + 2*a - 3*b + rng.NormFloat64()*0.1
	}

	fit, err := NewOLS().Fit([]string{"a", "b"}, x, y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if fit.DF != n-3 {
		t.Fatalf("degrees of freedom: got=%d want=%d", fit.DF, n-3)
	}
	if fit.R2 < 0.99 {
		t.Fatalf("fit quality: R2=%v", fit.R2)
	}

	wants := map[string]float64{TermIntercept: 1, "a": 2, "b": -3}
	for name, want := range wants {
		coef, err := fit.Lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		if math.Abs(coef.Estimate-want) > 0.05 {
			t.Fatalf("%s estimate: got=%v want=%v", name, coef.Estimate, want)
		}
	}
	a, _ := fit.Lookup("a")
	if a.PValue > 1e-6 {
		t.Fatalf("strong effect should be significant: p=%v", a.PValue)
	}
}

func TestOLSSingularDesign(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	n := 50
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		v := rng.NormFloat64()
		x.Set(i, 0, v)
		x.Set(i, 1, v) // exact copy
		y[i] = v + rng.NormFloat64()
	}
	if _, err := NewOLS().Fit([]string{"a", "a_copy"}, x, y); !errors.Is(err, ErrSingular) {
		t.Fatalf("expected ErrSingular, got %v", err)
	}
}

func TestOLSRejectsShapeMismatch(t *testing.T) {
	x := mat.NewDense(10, 2, nil)
	if _, err := NewOLS().Fit([]string{"a"}, x, make([]float64, 10)); err == nil {
		t.Fatalf("expected name count error")
	}
	if _, err := NewOLS().Fit([]string{"a", "b"}, x, make([]float64, 9)); err == nil {
		t.Fatalf("expected response length error")
	}
}

func TestVIFFlagsCollinearity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 200
	x := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		a := rng.NormFloat64()
		x.Set(i, 0, a)
		x.Set(i, 1, a+rng.NormFloat64()*0.05) // near-duplicate
		x.Set(i, 2, rng.NormFloat64())        // independent
	}
	names := []string{"a", "a_noisy", "c"}

	ols := NewOLS()
	high, err := ols.VIF(names, x, "a_noisy")
	if err != nil {
		t.Fatalf("vif: %v", err)
	}
	if high < 10 {
		t.Fatalf("collinear column should inflate: vif=%v", high)
	}
	low, err := ols.VIF(names, x, "c")
	if err != nil {
		t.Fatalf("vif: %v", err)
	}
	if low > 2 {
		t.Fatalf("independent column should not inflate: vif=%v", low)
	}
}

func TestVIFMissingTerm(t *testing.T) {
	x := mat.NewDense(20, 2, nil)
	if _, err := NewOLS().VIF([]string{"a", "b"}, x, "zzz"); !errors.Is(err, ErrMissingTerm) {
		t.Fatalf("expected ErrMissingTerm, got %v", err)
	}
}

func TestLookupMissingTerm(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	n := 40
	x := mat.NewDense(n, 1, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		v := rng.NormFloat64()
		x.Set(i, 0, v)
		y[i] = v + rng.NormFloat64()
	}
	fit, err := NewOLS().Fit([]string{"a"}, x, y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, err := fit.Lookup("zzz"); !errors.Is(err, ErrMissingTerm) {
		t.Fatalf("expected ErrMissingTerm, got %v", err)
	}
}
