package interaction

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"resindex/internal/dataset"
	"resindex/internal/nn"
)

func testBatch(rng *rand.Rand, n, predictors, controls int, withOutcome bool) dataset.Batch {
	p := mat.NewDense(n, predictors, nil)
	c := mat.NewDense(n, controls, nil)
	exposure := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < predictors; j++ {
			p.Set(i, j, rng.NormFloat64())
		}
		for j := 0; j < controls; j++ {
			c.Set(i, j, rng.NormFloat64())
		}
		exposure[i] = 2 + rng.Float64()
	}
	b := dataset.Batch{Predictors: p, Exposure: exposure, Controls: c}
	if withOutcome {
		b.Outcome = make([]float64, n)
		for i := range b.Outcome {
			b.Outcome[i] = rng.NormFloat64()
		}
	}
	return b
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := []Config{
		{Variant: "bogus", InteractionVars: 5, ControlVars: 3, HiddenLayers: []int{8}},
		{InteractionVars: 0, ControlVars: 3, HiddenLayers: []int{8}},
		{InteractionVars: 5, ControlVars: 0, HiddenLayers: []int{8}},
		{InteractionVars: 5, ControlVars: 3},
		{InteractionVars: 5, ControlVars: 3, HiddenLayers: []int{8}, Dropout: 1.5},
		{InteractionVars: 5, ControlVars: 3, HiddenLayers: []int{8}, Device: "cuda"},
		{InteractionVars: 5, ControlVars: 3, HiddenLayers: []int{8}, Reduce: true},
		{InteractionVars: 5, ControlVars: 3, HiddenLayers: []int{8}, Reduce: true, Basis: mat.NewDense(5, 5, nil), KDim: 6},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error for config %+v", i, cfg)
		}
	}
}

func TestThresholdedExposureComposition(t *testing.T) {
	m, err := New(Config{
		Variant:         VariantFull,
		InteractionVars: 5,
		ControlVars:     3,
		HiddenLayers:    []int{16, 8},
		Seed:            7,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = m.Params().SetValues(map[string][]float64{
		ParamControlWeights:    {0.7, -0.2, 0.1},
		ParamControlBias:       {0.3},
		ParamInteractionWeight: {0.5},
		ParamExposureWeight:    {0.2},
		ParamIndexWeight:       {0.4},
		ParamThreshold:         {2},
		ParamSigma:             {1},
	})
	if err != nil {
		t.Fatalf("set values: %v", err)
	}

	b := dataset.Batch{
		Predictors: mat.NewDense(1, 5, nil),
		Controls:   mat.NewDense(1, 3, nil),
		Exposure:   []float64{10},
	}
	res, err := m.Forward(b, nn.ModeEval)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if got := res.EffectiveExposure[0]; got != 8 {
		t.Fatalf("effective exposure: got=%v want=8", got)
	}

	idx, err := m.ResilienceIndex(b.Predictors)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	want := 0.5*8*idx[0] + 0.3 + 0.2*8 + 0.4*idx[0]
	if math.Abs(res.Predicted[0]-want) > 1e-12 {
		t.Fatalf("predicted: got=%v want=%v", res.Predicted[0], want)
	}

	// Exposure below the cutoff collapses both exposure terms.
	b.Exposure = []float64{1}
	res, err = m.Forward(b, nn.ModeEval)
	if err != nil {
		t.Fatalf("forward below threshold: %v", err)
	}
	if res.EffectiveExposure[0] != 0 {
		t.Fatalf("effective exposure below cutoff: got=%v want=0", res.EffectiveExposure[0])
	}
	if math.Abs(res.Predicted[0]-(0.3+0.4*idx[0])) > 1e-12 {
		t.Fatalf("predicted below cutoff: got=%v", res.Predicted[0])
	}
}

func TestConcatenateDropsIndexMainEffect(t *testing.T) {
	m, err := New(Config{
		Variant:         VariantFull,
		InteractionVars: 5,
		ControlVars:     3,
		HiddenLayers:    []int{8},
		Concatenate:     true,
		Seed:            7,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := m.Params().Get(ParamIndexWeight); ok {
		t.Fatalf("index main-effect weight should not exist with concatenation")
	}
	cw, ok := m.Params().Get(ParamControlWeights)
	if !ok {
		t.Fatalf("control weights missing")
	}
	if len(cw.Value) != 8 {
		t.Fatalf("control weight dimension: got=%d want=8", len(cw.Value))
	}

	rng := rand.New(rand.NewSource(3))
	res, err := m.Forward(testBatch(rng, 4, 5, 3, true), nn.ModeEval)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if _, ok := res.Trace.Site(ParamIndexWeight); ok {
		t.Fatalf("trace should not register an index main-effect site")
	}
}

func TestRelaxedVariantSamplesFewerSites(t *testing.T) {
	m, err := New(Config{
		Variant:         VariantRelaxed,
		InteractionVars: 4,
		ControlVars:     2,
		HiddenLayers:    []int{8},
		Seed:            11,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	want := map[string]bool{
		ParamInteractionWeight: true,
		ParamExposureWeight:    true,
		ParamThreshold:         true,
		ParamSigma:             true,
	}
	sampled := m.Params().Sampled()
	if len(sampled) != len(want) {
		t.Fatalf("sampled count: got=%d want=%d", len(sampled), len(want))
	}
	for _, p := range sampled {
		if !want[p.Name] {
			t.Fatalf("unexpected sampled parameter: %s", p.Name)
		}
	}

	// The relaxed noise scale initializes at the half-normal mean rather
	// than the gamma mean.
	sigma, _ := m.Params().Get(ParamSigma)
	if math.Abs(sigma.Value[0]-math.Sqrt(2/math.Pi)) > 1e-12 {
		t.Fatalf("relaxed sigma init: got=%v", sigma.Value[0])
	}
}

func TestForwardTraceObservation(t *testing.T) {
	m, err := New(Config{
		Variant:         VariantFull,
		InteractionVars: 4,
		ControlVars:     2,
		HiddenLayers:    []int{8},
		Dropout:         -1,
		Seed:            5,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rng := rand.New(rand.NewSource(9))
	b := testBatch(rng, 6, 4, 2, true)

	res, err := m.Forward(b, nn.ModeTrain)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Trace.PlateSize != 6 {
		t.Fatalf("plate size: got=%d want=6", res.Trace.PlateSize)
	}
	obs, ok := res.Trace.Site(SiteObs)
	if !ok || !obs.Observed {
		t.Fatalf("observation site missing or unobserved")
	}
	if res.Trace.LogLikelihood() >= 0 || math.IsInf(res.Trace.LogJoint(), 0) {
		t.Fatalf("implausible trace densities: lik=%v joint=%v", res.Trace.LogLikelihood(), res.Trace.LogJoint())
	}

	// Without an outcome the site stays unconditioned.
	b.Outcome = nil
	res, err = m.Forward(b, nn.ModeEval)
	if err != nil {
		t.Fatalf("forward without outcome: %v", err)
	}
	obs, _ = res.Trace.Site(SiteObs)
	if obs.Observed || obs.LogProb != 0 {
		t.Fatalf("unconditioned site should carry no likelihood")
	}
}

func lossAt(t *testing.T, m *Model, b dataset.Batch) float64 {
	t.Helper()
	res, err := m.Forward(b, nn.ModeTrain)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	return -res.Trace.LogJoint() / float64(b.Len())
}

func TestGradientMatchesNumeric(t *testing.T) {
	m, err := New(Config{
		Variant:         VariantFull,
		InteractionVars: 3,
		ControlVars:     2,
		HiddenLayers:    []int{6},
		Dropout:         -1,
		Seed:            21,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rng := rand.New(rand.NewSource(13))
	b := testBatch(rng, 8, 3, 2, true)

	res, err := m.Forward(b, nn.ModeTrain)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	grad, err := m.Gradient(b, res)
	if err != nil {
		t.Fatalf("gradient: %v", err)
	}

	const h = 1e-5
	const tol = 1e-4
	check := func(name string, got, want float64) {
		t.Helper()
		denom := math.Abs(want)
		if denom < 1 {
			denom = 1
		}
		if math.Abs(got-want)/denom > tol {
			t.Fatalf("%s gradient mismatch: analytic=%v numeric=%v", name, got, want)
		}
	}

	for _, p := range m.Params().All() {
		for d := range p.Value {
			orig := p.Value[d]
			p.Value[d] = orig + h
			up := lossAt(t, m, b)
			p.Value[d] = orig - h
			down := lossAt(t, m, b)
			p.Value[d] = orig
			check(p.Name, grad.Params[p.Name][d], (up-down)/(2*h))
		}
	}

	vec := m.Network().Params()
	for _, i := range []int{0, 1, len(vec) / 2, len(vec) - 1} {
		orig := vec[i]
		vec[i] = orig + h
		if err := m.Network().SetParams(vec); err != nil {
			t.Fatalf("set params: %v", err)
		}
		up := lossAt(t, m, b)
		vec[i] = orig - h
		if err := m.Network().SetParams(vec); err != nil {
			t.Fatalf("set params: %v", err)
		}
		down := lossAt(t, m, b)
		vec[i] = orig
		if err := m.Network().SetParams(vec); err != nil {
			t.Fatalf("set params: %v", err)
		}
		check("network", grad.Network[i], (up-down)/(2*h))
	}
}

func TestReduceDefaultsRetainedDimension(t *testing.T) {
	basis := mat.NewDense(12, 12, nil)
	for i := 0; i < 12; i++ {
		basis.Set(i, i, 1)
	}
	m, err := New(Config{
		Variant:         VariantFull,
		InteractionVars: 12,
		ControlVars:     3,
		HiddenLayers:    []int{8},
		Reduce:          true,
		Basis:           basis,
		Seed:            19,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := m.Config().KDim; got != 10 {
		t.Fatalf("retained dimension: got=%d want=10", got)
	}
	if got := m.Network().InputDim(); got != 10 {
		t.Fatalf("network input dimension: got=%d want=10", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	basis := mat.NewDense(5, 5, nil)
	for i := 0; i < 5; i++ {
		basis.Set(i, i, 1)
	}
	m, err := New(Config{
		Variant:         VariantFull,
		InteractionVars: 5,
		ControlVars:     3,
		HiddenLayers:    []int{10, 6},
		Reduce:          true,
		Basis:           basis,
		KDim:            3,
		Seed:            31,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rng := rand.New(rand.NewSource(17))
	train := testBatch(rng, 16, 5, 3, true)
	if _, err := m.Forward(train, nn.ModeTrain); err != nil {
		t.Fatalf("train forward: %v", err)
	}

	snap := m.Snapshot()
	if snap.ID == "" || snap.CreatedAtUTC == "" {
		t.Fatalf("snapshot identity not populated")
	}

	restored, err := LoadModel(snap)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	probe := testBatch(rng, 5, 5, 3, false)
	want, err := m.Predict(probe)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	got, err := restored.Predict(probe)
	if err != nil {
		t.Fatalf("restored predict: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: got=%v want=%v", i, got[i], want[i])
		}
	}
}
