package prior

import (
	"math"
	"math/rand"
	"testing"
)

func TestHalfNormalDensity(t *testing.T) {
	h := HalfNormal{Sigma: 1}
	if !math.IsInf(h.LogProb(-0.1), -1) {
		t.Fatal("expected -Inf density below zero")
	}
	// Fold doubles the Gaussian density: logprob(0) = ln2 + logN(0;0,1).
	want := math.Ln2 - 0.5*math.Log(2*math.Pi)
	if got := h.LogProb(0); math.Abs(got-want) > 1e-12 {
		t.Fatalf("unexpected density at 0: got=%v want=%v", got, want)
	}
	if got := h.Mean(); math.Abs(got-math.Sqrt(2/math.Pi)) > 1e-12 {
		t.Fatalf("unexpected mean: %v", got)
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		if h.Rand(rng) < 0 {
			t.Fatal("half-normal draw must be non-negative")
		}
	}
}

func TestGammaDensityAndDraws(t *testing.T) {
	g := Gamma{Alpha: 0.5, Beta: 1}
	if !math.IsInf(g.LogProb(-1), -1) || !math.IsInf(g.LogProb(0), -1) {
		t.Fatal("expected -Inf density outside support")
	}
	if got := g.Mean(); got != 0.5 {
		t.Fatalf("unexpected mean: %v", got)
	}
	rng := rand.New(rand.NewSource(2))
	sum := 0.0
	const draws = 20000
	for i := 0; i < draws; i++ {
		v := g.Rand(rng)
		if v <= 0 {
			t.Fatal("gamma draw must be positive")
		}
		sum += v
	}
	if mean := sum / draws; math.Abs(mean-0.5) > 0.05 {
		t.Fatalf("sample mean far from 0.5: %v", mean)
	}
}

func TestParameterLogProbAndClamp(t *testing.T) {
	p := NewParameter("interaction_w", HalfNormal{Sigma: 1}, 1, true)
	if p.Value[0] <= 0 {
		t.Fatalf("expected prior-mean initialization, got=%v", p.Value[0])
	}
	p.Value[0] = -3
	if !math.IsInf(p.LogProb(), -1) {
		t.Fatal("expected -Inf log prob outside support")
	}
	p.ClampSupport()
	if p.Value[0] <= 0 {
		t.Fatalf("expected clamp into support, got=%v", p.Value[0])
	}

	free := NewParameter("control_w", nil, 3, false)
	if got := free.LogProb(); got != 0 {
		t.Fatalf("prior-free parameter must contribute zero, got=%v", got)
	}
}

func TestSetFlattenAssignRoundTrip(t *testing.T) {
	s := NewSet()
	if err := s.Add(NewParameter("a", Normal{Sigma: 1}, 2, true)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(NewParameter("b", nil, 3, false)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(NewParameter("a", Normal{Sigma: 1}, 1, true)); err == nil {
		t.Fatal("expected duplicate parameter error")
	}

	flat := s.Flatten()
	if len(flat) != 5 {
		t.Fatalf("unexpected flattened length: %d", len(flat))
	}
	for i := range flat {
		flat[i] = float64(i + 1)
	}
	if err := s.Assign(flat); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a, _ := s.Get("a")
	b, _ := s.Get("b")
	if a.Value[0] != 1 || a.Value[1] != 2 || b.Value[2] != 5 {
		t.Fatalf("unexpected assigned values: a=%v b=%v", a.Value, b.Value)
	}
	if err := s.Assign(flat[:3]); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestSetCloneIsolation(t *testing.T) {
	s := NewSet()
	if err := s.Add(NewParameter("w", Normal{Sigma: 1}, 1, true)); err != nil {
		t.Fatalf("add: %v", err)
	}
	c := s.Clone()
	p, _ := c.Get("w")
	p.Value[0] = 42
	orig, _ := s.Get("w")
	if orig.Value[0] == 42 {
		t.Fatal("clone must not alias values")
	}
}

func TestSetValuesRoundTrip(t *testing.T) {
	s := NewSet()
	if err := s.Add(NewParameter("sigma", Gamma{Alpha: 0.5, Beta: 1}, 1, true)); err != nil {
		t.Fatalf("add: %v", err)
	}
	exported := s.Values()
	exported["sigma"][0] = 2.5
	if err := s.SetValues(exported); err != nil {
		t.Fatalf("set values: %v", err)
	}
	p, _ := s.Get("sigma")
	if p.Value[0] != 2.5 {
		t.Fatalf("unexpected restored value: %v", p.Value[0])
	}
	if err := s.SetValues(map[string][]float64{"missing": {1}}); err == nil {
		t.Fatal("expected unknown parameter error")
	}
}
