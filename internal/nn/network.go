package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"resindex/internal/model"
)

// Mode selects training or inference behavior for a forward pass. Dropout
// and batch statistics are active only in ModeTrain.
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

type Config struct {
	InputDim          int
	HiddenLayers      []int
	Dropout           float64
	DisableOutputNorm bool
}

// Layer is one dense linear transform, weights stored out×in.
type Layer struct {
	W *mat.Dense
	B []float64
}

// Network is the deterministic index-prediction network: hidden layers with
// GELU and dropout, a final linear projection to a scalar, and an optional
// affine-free normalizer on the output.
type Network struct {
	cfg    Config
	layers []*Layer
	norm   *BatchNorm
	rng    *rand.Rand
}

func New(cfg Config, rng *rand.Rand) (*Network, error) {
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("input dimension must be > 0: %d", cfg.InputDim)
	}
	if len(cfg.HiddenLayers) == 0 {
		return nil, fmt.Errorf("at least one hidden layer is required")
	}
	for i, width := range cfg.HiddenLayers {
		if width <= 0 {
			return nil, fmt.Errorf("hidden layer %d width must be > 0: %d", i, width)
		}
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1): %v", cfg.Dropout)
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}

	widths := append([]int{cfg.InputDim}, cfg.HiddenLayers...)
	widths = append(widths, 1)

	layers := make([]*Layer, 0, len(widths)-1)
	for i := 0; i < len(widths)-1; i++ {
		layers = append(layers, newLayer(widths[i], widths[i+1], rng))
	}

	n := &Network{cfg: cfg, layers: layers, rng: rng}
	if !cfg.DisableOutputNorm {
		n.norm = NewBatchNorm()
	}
	return n, nil
}

// newLayer initializes weights with the Kaiming-normal fan-in scheme.
func newLayer(in, out int, rng *rand.Rand) *Layer {
	std := math.Sqrt(2.0 / float64(in))
	w := mat.NewDense(out, in, nil)
	for r := 0; r < out; r++ {
		for c := 0; c < in; c++ {
			w.Set(r, c, rng.NormFloat64()*std)
		}
	}
	return &Layer{W: w, B: make([]float64, out)}
}

func (n *Network) InputDim() int { return n.cfg.InputDim }

// Cache holds the intermediate state of one training-mode forward pass,
// consumed by Backward.
type Cache struct {
	inputs   []*mat.Dense
	preacts  []*mat.Dense
	masks    []*mat.Dense
	normPre  []float64
	normInfo *normCache
}

// Forward maps an n×in batch to the n latent index values. In ModeTrain the
// returned cache supports Backward; in ModeEval the cache is nil and the
// output is deterministic.
func (n *Network) Forward(x *mat.Dense, mode Mode) ([]float64, *Cache, error) {
	rows, cols := x.Dims()
	if cols != n.cfg.InputDim {
		return nil, nil, fmt.Errorf("network input dimension mismatch: got=%d want=%d", cols, n.cfg.InputDim)
	}

	cache := &Cache{}
	current := x
	last := len(n.layers) - 1
	for i, layer := range n.layers {
		cache.inputs = append(cache.inputs, current)

		out, _ := layer.W.Dims()
		pre := mat.NewDense(rows, out, nil)
		pre.Mul(current, layer.W.T())
		for r := 0; r < rows; r++ {
			for c := 0; c < out; c++ {
				pre.Set(r, c, pre.At(r, c)+layer.B[c])
			}
		}
		cache.preacts = append(cache.preacts, pre)

		if i == last {
			current = pre
			cache.masks = append(cache.masks, nil)
			continue
		}

		act := mat.NewDense(rows, out, nil)
		for r := 0; r < rows; r++ {
			for c := 0; c < out; c++ {
				act.Set(r, c, GELU(pre.At(r, c)))
			}
		}

		if mode == ModeTrain && n.cfg.Dropout > 0 {
			keep := 1 - n.cfg.Dropout
			mask := mat.NewDense(rows, out, nil)
			for r := 0; r < rows; r++ {
				for c := 0; c < out; c++ {
					if n.rng.Float64() < keep {
						mask.Set(r, c, 1/keep)
					}
				}
			}
			act.MulElem(act, mask)
			cache.masks = append(cache.masks, mask)
		} else {
			cache.masks = append(cache.masks, nil)
		}
		current = act
	}

	index := make([]float64, rows)
	for r := 0; r < rows; r++ {
		index[r] = current.At(r, 0)
	}

	if n.norm == nil {
		if mode == ModeTrain {
			return index, cache, nil
		}
		return index, nil, nil
	}

	if mode == ModeTrain {
		cache.normPre = index
		normalized, info := n.norm.forwardTrain(index)
		cache.normInfo = info
		return normalized, cache, nil
	}
	return n.norm.forwardEval(index), nil, nil
}

// LayerGrad mirrors a Layer with gradients of the same shape.
type LayerGrad struct {
	DW *mat.Dense
	DB []float64
}

type Gradients struct {
	Layers []LayerGrad
}

// Backward propagates dOut (gradient of the loss with respect to the network
// output) through a cached training-mode forward pass.
func (n *Network) Backward(cache *Cache, dOut []float64) (*Gradients, error) {
	if cache == nil || len(cache.inputs) != len(n.layers) {
		return nil, fmt.Errorf("backward requires a training-mode forward cache")
	}

	d := append([]float64(nil), dOut...)
	if n.norm != nil {
		if cache.normInfo == nil {
			return nil, fmt.Errorf("normalization cache missing")
		}
		d = n.norm.backward(cache.normInfo, d)
	}

	rows := len(d)
	delta := mat.NewDense(rows, 1, d)

	grads := &Gradients{Layers: make([]LayerGrad, len(n.layers))}
	for i := len(n.layers) - 1; i >= 0; i-- {
		layer := n.layers[i]
		out, in := layer.W.Dims()

		dw := mat.NewDense(out, in, nil)
		dw.Mul(delta.T(), cache.inputs[i])
		db := make([]float64, out)
		dr, _ := delta.Dims()
		for r := 0; r < dr; r++ {
			for c := 0; c < out; c++ {
				db[c] += delta.At(r, c)
			}
		}
		grads.Layers[i] = LayerGrad{DW: dw, DB: db}

		if i == 0 {
			break
		}

		dx := mat.NewDense(rows, in, nil)
		dx.Mul(delta, layer.W)

		// Through the previous layer's dropout mask and GELU.
		prev := cache.preacts[i-1]
		mask := cache.masks[i-1]
		_, prevOut := prev.Dims()
		next := mat.NewDense(rows, prevOut, nil)
		for r := 0; r < rows; r++ {
			for c := 0; c < prevOut; c++ {
				g := dx.At(r, c)
				if mask != nil {
					g *= mask.At(r, c)
				}
				next.Set(r, c, g*GELUGrad(prev.At(r, c)))
			}
		}
		delta = next
	}
	return grads, nil
}

// ParamCount returns the number of scalar parameters across all layers.
func (n *Network) ParamCount() int {
	total := 0
	for _, layer := range n.layers {
		out, in := layer.W.Dims()
		total += out*in + out
	}
	return total
}

// Params flattens all layer weights and biases, layer by layer, weights
// row-major before biases.
func (n *Network) Params() []float64 {
	out := make([]float64, 0, n.ParamCount())
	for _, layer := range n.layers {
		out = append(out, layer.W.RawMatrix().Data...)
		out = append(out, layer.B...)
	}
	return out
}

// SetParams writes a flattened parameter vector back into the layers.
func (n *Network) SetParams(values []float64) error {
	if len(values) != n.ParamCount() {
		return fmt.Errorf("parameter count mismatch: got=%d want=%d", len(values), n.ParamCount())
	}
	offset := 0
	for _, layer := range n.layers {
		data := layer.W.RawMatrix().Data
		copy(data, values[offset:offset+len(data)])
		offset += len(data)
		copy(layer.B, values[offset:offset+len(layer.B)])
		offset += len(layer.B)
	}
	return nil
}

// Flatten orders gradients identically to Params.
func (g *Gradients) Flatten() []float64 {
	out := make([]float64, 0)
	for _, layer := range g.Layers {
		out = append(out, layer.DW.RawMatrix().Data...)
		out = append(out, layer.DB...)
	}
	return out
}

// Snapshot captures all layers and normalizer state for persistence.
func (n *Network) Snapshot() ([]model.LayerSnapshot, *model.NormSnapshot) {
	layers := make([]model.LayerSnapshot, 0, len(n.layers))
	for _, layer := range n.layers {
		out, in := layer.W.Dims()
		layers = append(layers, model.LayerSnapshot{
			In:      in,
			Out:     out,
			Weights: append([]float64(nil), layer.W.RawMatrix().Data...),
			Bias:    append([]float64(nil), layer.B...),
		})
	}
	if n.norm == nil {
		return layers, nil
	}
	return layers, n.norm.Snapshot()
}

// Restore loads a snapshot produced by an identically configured network.
func (n *Network) Restore(layers []model.LayerSnapshot, norm *model.NormSnapshot) error {
	if len(layers) != len(n.layers) {
		return fmt.Errorf("layer count mismatch: got=%d want=%d", len(layers), len(n.layers))
	}
	for i, snap := range layers {
		out, in := n.layers[i].W.Dims()
		if snap.In != in || snap.Out != out {
			return fmt.Errorf("layer %d shape mismatch: got=%dx%d want=%dx%d", i, snap.Out, snap.In, out, in)
		}
		if len(snap.Weights) != out*in || len(snap.Bias) != out {
			return fmt.Errorf("layer %d payload size mismatch", i)
		}
		copy(n.layers[i].W.RawMatrix().Data, snap.Weights)
		copy(n.layers[i].B, snap.Bias)
	}
	if n.norm != nil {
		n.norm.Restore(norm)
	}
	return nil
}
