package objective

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"resindex/internal/dataset"
	"resindex/internal/interaction"
	"resindex/internal/model"
	"resindex/internal/regress"
)

// Design term names for the held-out evaluation regression.
const (
	TermExposure    = "exposure"
	TermInteraction = "exposure_x_index"
)

// Policy collapses a trial report into the single value the search
// minimizes. Reports carry every metric; the policy decides the ordering.
type Policy func(model.TrialReport) float64

// DefaultPolicy ranks trials by held-out mean squared error and pushes any
// failed or non-finite report to the bottom.
func DefaultPolicy(r model.TrialReport) float64 {
	if r.FitFailure != "" || r.StatsFailure != "" {
		return math.Inf(1)
	}
	mse := float64(r.TestMSE)
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		return math.Inf(1)
	}
	return mse
}

// Evaluator scores a fitted model on held-out data: predictive error plus
// the statistical-validity diagnostics of the moderation effect.
type Evaluator struct {
	backend regress.Backend
}

// NewEvaluator wires an evaluation backend; nil selects in-process OLS.
func NewEvaluator(backend regress.Backend) *Evaluator {
	if backend == nil {
		backend = regress.NewOLS()
	}
	return &Evaluator{backend: backend}
}

// Evaluate builds the report for one round. Diagnostic failures are recorded
// in the report rather than returned: a trial with a valid MSE but a singular
// evaluation design still reports the MSE.
func (e *Evaluator) Evaluate(m *interaction.Model, test *dataset.Dataset, round, resource int) model.TrialReport {
	nan := model.Metric(math.NaN())
	report := model.TrialReport{
		Round:           round,
		Resource:        resource,
		TestMSE:         nan,
		InteractionPVal: nan,
		VIFExposure:     nan,
		VIFInteraction:  nan,
	}

	predicted, err := m.Predict(test.Full())
	if err != nil {
		report.FitFailure = err.Error()
		return report
	}
	mse := 0.0
	for i, y := range test.Outcome {
		r := y - predicted[i]
		mse += r * r
	}
	report.TestMSE = model.Metric(mse / float64(test.Len()))

	if err := e.diagnostics(m, test, &report); err != nil {
		report.StatsFailure = err.Error()
	}
	return report
}

// diagnostics regresses the outcome on exposure, the exposure-index
// interaction and the controls, then extracts the interaction p-value and
// the variance inflation of the two exposure terms.
func (e *Evaluator) diagnostics(m *interaction.Model, test *dataset.Dataset, report *model.TrialReport) error {
	index, err := m.ResilienceIndex(test.Predictors)
	if err != nil {
		return err
	}

	n := test.Len()
	controls := test.ControlDim()
	names := make([]string, 0, 2+controls)
	names = append(names, TermExposure, TermInteraction)
	for j := 0; j < controls; j++ {
		names = append(names, fmt.Sprintf("control_%d", j))
	}

	design := mat.NewDense(n, len(names), nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, test.Exposure[i])
		design.Set(i, 1, test.Exposure[i]*index[i])
		row := test.Controls.RawRowView(i)
		for j := 0; j < controls; j++ {
			design.Set(i, 2+j, row[j])
		}
	}

	fit, err := e.backend.Fit(names, design, test.Outcome)
	if err != nil {
		return err
	}
	coef, err := fit.Lookup(TermInteraction)
	if err != nil {
		return err
	}
	report.InteractionPVal = model.Metric(coef.PValue)

	vifExposure, err := e.backend.VIF(names, design, TermExposure)
	if err != nil {
		return err
	}
	vifInteraction, err := e.backend.VIF(names, design, TermInteraction)
	if err != nil {
		return err
	}
	report.VIFExposure = model.Metric(vifExposure)
	report.VIFInteraction = model.Metric(vifInteraction)
	return nil
}
