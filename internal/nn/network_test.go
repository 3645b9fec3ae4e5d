package nn

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testInput(rows, cols int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

func TestNewValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := New(Config{InputDim: 0, HiddenLayers: []int{4}}, rng); err == nil {
		t.Fatal("expected input dimension error")
	}
	if _, err := New(Config{InputDim: 3}, rng); err == nil {
		t.Fatal("expected empty hidden layers error")
	}
	if _, err := New(Config{InputDim: 3, HiddenLayers: []int{0}}, rng); err == nil {
		t.Fatal("expected layer width error")
	}
	if _, err := New(Config{InputDim: 3, HiddenLayers: []int{4}, Dropout: 1.0}, rng); err == nil {
		t.Fatal("expected dropout rate error")
	}
	if _, err := New(Config{InputDim: 3, HiddenLayers: []int{4}}, nil); err == nil {
		t.Fatal("expected missing rng error")
	}
}

func TestEvalForwardDeterministic(t *testing.T) {
	net, err := New(Config{InputDim: 5, HiddenLayers: []int{16, 8}, Dropout: 0.5}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	x := testInput(6, 5, 4)
	first, _, err := net.Forward(x, ModeEval)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _, err := net.Forward(x, ModeEval)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("inference output changed across calls at row %d: %v vs %v", j, first[j], again[j])
			}
		}
	}
}

func TestTrainDropoutPerturbsOutput(t *testing.T) {
	net, err := New(Config{InputDim: 4, HiddenLayers: []int{32}, Dropout: 0.5, DisableOutputNorm: true}, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	x := testInput(8, 4, 6)
	a, _, err := net.Forward(x, ModeTrain)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	b, _, err := net.Forward(x, ModeTrain)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected dropout to vary training-mode outputs across calls")
	}
}

func TestOutputNormZeroMeanInTraining(t *testing.T) {
	net, err := New(Config{InputDim: 3, HiddenLayers: []int{8}}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	x := testInput(64, 3, 8)
	out, _, err := net.Forward(x, ModeTrain)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	sum, sumSq := 0.0, 0.0
	for _, v := range out {
		sum += v
		sumSq += v * v
	}
	n := float64(len(out))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if math.Abs(mean) > 1e-9 {
		t.Fatalf("expected zero-mean normalized output, got mean=%v", mean)
	}
	if math.Abs(variance-1) > 2e-2 {
		t.Fatalf("expected unit-variance normalized output, got var=%v", variance)
	}
}

func gradientCheck(t *testing.T, cfg Config) {
	t.Helper()
	net, err := New(cfg, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	x := testInput(10, cfg.InputDim, 12)
	weights := make([]float64, 10)
	rng := rand.New(rand.NewSource(13))
	for i := range weights {
		weights[i] = rng.NormFloat64()
	}
	loss := func() float64 {
		out, _, err := net.Forward(x, ModeTrain)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		total := 0.0
		for i, v := range out {
			total += weights[i] * v
		}
		return total
	}

	out, cache, err := net.Forward(x, ModeTrain)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	_ = out
	grads, err := net.Backward(cache, weights)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	analytic := grads.Flatten()

	const eps = 1e-6
	params := net.Params()
	for _, idx := range []int{0, 1, len(params) / 2, len(params) - 1} {
		orig := params[idx]
		params[idx] = orig + eps
		if err := net.SetParams(params); err != nil {
			t.Fatalf("set params: %v", err)
		}
		up := loss()
		params[idx] = orig - eps
		if err := net.SetParams(params); err != nil {
			t.Fatalf("set params: %v", err)
		}
		down := loss()
		params[idx] = orig
		if err := net.SetParams(params); err != nil {
			t.Fatalf("set params: %v", err)
		}
		numeric := (up - down) / (2 * eps)
		if math.Abs(numeric-analytic[idx]) > 1e-4*(1+math.Abs(numeric)) {
			t.Fatalf("gradient mismatch at %d: numeric=%v analytic=%v", idx, numeric, analytic[idx])
		}
	}
}

func TestBackwardMatchesNumericalGradient(t *testing.T) {
	gradientCheck(t, Config{InputDim: 4, HiddenLayers: []int{6, 3}, DisableOutputNorm: true})
}

func TestBackwardMatchesNumericalGradientWithNorm(t *testing.T) {
	gradientCheck(t, Config{InputDim: 4, HiddenLayers: []int{6}})
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := Config{InputDim: 5, HiddenLayers: []int{7, 4}}
	src, err := New(cfg, rand.New(rand.NewSource(21)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	x := testInput(32, 5, 22)
	// Touch the normalizer so running stats are non-trivial.
	if _, _, err := src.Forward(x, ModeTrain); err != nil {
		t.Fatalf("forward: %v", err)
	}
	layers, norm := src.Snapshot()

	dst, err := New(cfg, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if err := dst.Restore(layers, norm); err != nil {
		t.Fatalf("restore: %v", err)
	}

	want, _, err := src.Forward(x, ModeEval)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	got, _, err := dst.Forward(x, ModeEval)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("restored network diverges at row %d: %v vs %v", i, want[i], got[i])
		}
	}
}

func TestRestoreShapeMismatch(t *testing.T) {
	a, err := New(Config{InputDim: 3, HiddenLayers: []int{4}}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	b, err := New(Config{InputDim: 3, HiddenLayers: []int{5}}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	layers, norm := b.Snapshot()
	if err := a.Restore(layers, norm); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
