package interaction

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"resindex/internal/dataset"
	"resindex/internal/nn"
	"resindex/internal/prior"
	"resindex/internal/reduce"
)

// Parameter site names.
const (
	ParamControlWeights    = "control_w"
	ParamControlBias       = "control_b"
	ParamInteractionWeight = "interaction_w"
	ParamExposureWeight    = "exposure_w"
	ParamIndexWeight       = "index_w"
	ParamThreshold         = "threshold"
	ParamSigma             = "sigma"
	SiteObs                = "obs"
)

// Model composes the deterministic index network with Bayesian linear and
// interaction terms. Which parameters are sampled versus point-estimated is
// decided per parameter by the variant; the forward composition is shared.
type Model struct {
	cfg     Config
	network *nn.Network
	params  *prior.Set
	basis   *reduce.Basis
	rng     *rand.Rand
}

// New validates the configuration and builds the model. Invalid dimension
// combinations fail here; no partial model is produced.
func New(cfg Config) (*Model, error) {
	cfg = normalizeConfig(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	var basis *reduce.Basis
	if cfg.Reduce {
		b, err := reduce.NewBasis(cfg.Basis, cfg.KDim)
		if err != nil {
			return nil, err
		}
		if b.SourceDim() != cfg.InteractionVars {
			return nil, fmt.Errorf("basis source dimension mismatch: got=%d want=%d", b.SourceDim(), cfg.InteractionVars)
		}
		basis = b
	}

	network, err := nn.New(nn.Config{
		InputDim:          cfg.indexInputDim(),
		HiddenLayers:      cfg.HiddenLayers,
		Dropout:           cfg.Dropout,
		DisableOutputNorm: cfg.DisableOutputNorm,
	}, rng)
	if err != nil {
		return nil, err
	}

	params, err := buildParams(cfg, rng)
	if err != nil {
		return nil, err
	}

	return &Model{cfg: cfg, network: network, params: params, basis: basis, rng: rng}, nil
}

func buildParams(cfg Config, rng *rand.Rand) (*prior.Set, error) {
	set := prior.NewSet()
	relaxed := cfg.Variant == VariantRelaxed
	controlDim := cfg.effectiveControlDim()

	controlW := prior.NewParameter(ParamControlWeights, prior.Normal{Mu: 0, Sigma: 1}, controlDim, !relaxed)
	controlB := prior.NewParameter(ParamControlBias, prior.Normal{Mu: 0, Sigma: 5}, 1, !relaxed)
	if relaxed {
		// Point-estimated control effects carry no prior; initialize them
		// with the same fan-in scheme as the network layers.
		controlW.Dist = nil
		controlB.Dist = nil
		std := math.Sqrt(2.0 / float64(controlDim))
		for i := range controlW.Value {
			controlW.Value[i] = rng.NormFloat64() * std
		}
	}
	if err := set.Add(controlW); err != nil {
		return nil, err
	}
	if err := set.Add(controlB); err != nil {
		return nil, err
	}

	if err := set.Add(prior.NewParameter(ParamInteractionWeight, prior.HalfNormal{Sigma: 1}, 1, true)); err != nil {
		return nil, err
	}
	if err := set.Add(prior.NewParameter(ParamExposureWeight, prior.Normal{Mu: 0, Sigma: 1}, 1, true)); err != nil {
		return nil, err
	}

	if cfg.hasIndexMain() {
		indexW := prior.NewParameter(ParamIndexWeight, prior.Normal{Mu: 0, Sigma: 1}, 1, !relaxed)
		if relaxed {
			indexW.Dist = nil
			indexW.Value[0] = rng.NormFloat64()
		}
		if err := set.Add(indexW); err != nil {
			return nil, err
		}
	}

	if !cfg.DisableThresholdBias {
		if err := set.Add(prior.NewParameter(ParamThreshold, prior.HalfNormal{Sigma: 1}, 1, true)); err != nil {
			return nil, err
		}
	}

	var sigmaPrior prior.Distribution = prior.Gamma{Alpha: 0.5, Beta: 1}
	if relaxed {
		sigmaPrior = prior.HalfNormal{Sigma: 1}
	}
	if err := set.Add(prior.NewParameter(ParamSigma, sigmaPrior, 1, true)); err != nil {
		return nil, err
	}

	return set, nil
}

func (m *Model) Config() Config       { return m.cfg }
func (m *Model) Params() *prior.Set   { return m.params }
func (m *Model) Network() *nn.Network { return m.network }

// Result is one forward pass: the pre-noise predicted outcome, the latent
// index it used, the effective exposure after optional thresholding, the
// registered sample sites and, in training mode, the network cache needed
// for gradients.
type Result struct {
	Predicted         []float64
	Index             []float64
	EffectiveExposure []float64
	Trace             *Trace
	cache             *nn.Cache
	linearInput       *mat.Dense
}

// Forward runs the generative composition over a batch. With an observed
// outcome the likelihood is conditioned on it; without one the observation
// site is left unconditioned and carries the predicted mean.
func (m *Model) Forward(b dataset.Batch, mode nn.Mode) (*Result, error) {
	n := b.Len()
	if n == 0 {
		return nil, fmt.Errorf("batch must not be empty")
	}
	if _, p := b.Predictors.Dims(); p != m.cfg.InteractionVars {
		return nil, fmt.Errorf("predictor dimension mismatch: got=%d want=%d", p, m.cfg.InteractionVars)
	}
	if _, c := b.Controls.Dims(); c != m.cfg.ControlVars {
		return nil, fmt.Errorf("control dimension mismatch: got=%d want=%d", c, m.cfg.ControlVars)
	}
	if len(b.Exposure) != n {
		return nil, fmt.Errorf("exposure length mismatch: got=%d want=%d", len(b.Exposure), n)
	}

	linearInput := b.Controls
	if m.cfg.Concatenate {
		combined := mat.NewDense(n, m.cfg.effectiveControlDim(), nil)
		combined.Augment(b.Controls, b.Predictors)
		linearInput = combined
	}

	controlW, _ := m.params.Get(ParamControlWeights)
	controlB, _ := m.params.Get(ParamControlBias)
	controlled := make([]float64, n)
	for i := 0; i < n; i++ {
		total := controlB.Value[0]
		row := linearInput.RawRowView(i)
		for j, w := range controlW.Value {
			total += row[j] * w
		}
		controlled[i] = total
	}

	netInput := b.Predictors
	if m.basis != nil {
		projected, err := m.basis.Project(b.Predictors)
		if err != nil {
			return nil, err
		}
		netInput = projected
	}
	index, cache, err := m.network.Forward(netInput, mode)
	if err != nil {
		return nil, err
	}

	effective := make([]float64, n)
	if !m.cfg.DisableThresholdBias {
		threshold, _ := m.params.Get(ParamThreshold)
		for i, e := range b.Exposure {
			v := e - threshold.Value[0]
			if v < 0 {
				v = 0
			}
			effective[i] = v
		}
	} else {
		copy(effective, b.Exposure)
	}

	interactionW, _ := m.params.Get(ParamInteractionWeight)
	exposureW, _ := m.params.Get(ParamExposureWeight)
	predicted := make([]float64, n)
	for i := 0; i < n; i++ {
		predicted[i] = interactionW.Value[0]*effective[i]*index[i] +
			controlled[i] +
			exposureW.Value[0]*effective[i]
	}
	if m.cfg.hasIndexMain() {
		indexW, _ := m.params.Get(ParamIndexWeight)
		for i := 0; i < n; i++ {
			predicted[i] += indexW.Value[0] * index[i]
		}
	}

	trace := &Trace{PlateSize: n}
	for _, p := range m.params.Sampled() {
		trace.add(p.Name, p.Value, p.LogProb(), false)
	}

	sigma, _ := m.params.Get(ParamSigma)
	s := sigma.Value[0]
	if b.Outcome != nil {
		logLik := 0.0
		for i, y := range b.Outcome {
			r := y - predicted[i]
			logLik += -0.5*math.Log(2*math.Pi) - math.Log(s) - r*r/(2*s*s)
		}
		trace.add(SiteObs, b.Outcome, logLik, true)
	} else {
		trace.add(SiteObs, predicted, 0, false)
	}

	return &Result{
		Predicted:         predicted,
		Index:             index,
		EffectiveExposure: effective,
		Trace:             trace,
		cache:             cache,
		linearInput:       linearInput,
	}, nil
}

// Predict returns the pre-noise predicted outcome in inference mode.
func (m *Model) Predict(b dataset.Batch) ([]float64, error) {
	noObs := b
	noObs.Outcome = nil
	res, err := m.Forward(noObs, nn.ModeEval)
	if err != nil {
		return nil, err
	}
	return res.Predicted, nil
}

// ResilienceIndex extracts the latent index deterministically: reduction
// plus the index network in inference behavior, no sample sites.
func (m *Model) ResilienceIndex(predictors *mat.Dense) ([]float64, error) {
	if _, p := predictors.Dims(); p != m.cfg.InteractionVars {
		return nil, fmt.Errorf("predictor dimension mismatch: got=%d want=%d", p, m.cfg.InteractionVars)
	}
	input := predictors
	if m.basis != nil {
		projected, err := m.basis.Project(predictors)
		if err != nil {
			return nil, err
		}
		input = projected
	}
	index, _, err := m.network.Forward(input, nn.ModeEval)
	if err != nil {
		return nil, err
	}
	return index, nil
}
