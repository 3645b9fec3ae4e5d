package dataset

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Dataset holds one observation table: interaction predictors, the scalar
// exposure, control covariates and the observed outcome. All slices and
// matrices share the same row count.
type Dataset struct {
	Predictors *mat.Dense
	Exposure   []float64
	Controls   *mat.Dense
	Outcome    []float64
}

// Batch is a contiguous copy of a subset of rows, safe to hand to a worker.
type Batch struct {
	Predictors *mat.Dense
	Exposure   []float64
	Controls   *mat.Dense
	Outcome    []float64
}

func (b Batch) Len() int {
	if b.Predictors == nil {
		return 0
	}
	n, _ := b.Predictors.Dims()
	return n
}

func New(predictors *mat.Dense, exposure []float64, controls *mat.Dense, outcome []float64) (*Dataset, error) {
	if predictors == nil || controls == nil {
		return nil, fmt.Errorf("predictors and controls are required")
	}
	n, _ := predictors.Dims()
	if n == 0 {
		return nil, fmt.Errorf("dataset must not be empty")
	}
	if nc, _ := controls.Dims(); nc != n {
		return nil, fmt.Errorf("controls row mismatch: got=%d want=%d", nc, n)
	}
	if len(exposure) != n {
		return nil, fmt.Errorf("exposure length mismatch: got=%d want=%d", len(exposure), n)
	}
	if outcome != nil && len(outcome) != n {
		return nil, fmt.Errorf("outcome length mismatch: got=%d want=%d", len(outcome), n)
	}
	return &Dataset{
		Predictors: predictors,
		Exposure:   exposure,
		Controls:   controls,
		Outcome:    outcome,
	}, nil
}

func (d *Dataset) Len() int {
	n, _ := d.Predictors.Dims()
	return n
}

func (d *Dataset) PredictorDim() int {
	_, p := d.Predictors.Dims()
	return p
}

func (d *Dataset) ControlDim() int {
	_, c := d.Controls.Dims()
	return c
}

// Subset copies the given rows into a new dataset.
func (d *Dataset) Subset(rows []int) (*Dataset, error) {
	n := d.Len()
	p := d.PredictorDim()
	c := d.ControlDim()

	predictors := mat.NewDense(len(rows), p, nil)
	controls := mat.NewDense(len(rows), c, nil)
	exposure := make([]float64, len(rows))
	var outcome []float64
	if d.Outcome != nil {
		outcome = make([]float64, len(rows))
	}
	for i, row := range rows {
		if row < 0 || row >= n {
			return nil, fmt.Errorf("row out of range: %d", row)
		}
		predictors.SetRow(i, d.Predictors.RawRowView(row))
		controls.SetRow(i, d.Controls.RawRowView(row))
		exposure[i] = d.Exposure[row]
		if outcome != nil {
			outcome[i] = d.Outcome[row]
		}
	}
	return New(predictors, exposure, controls, outcome)
}

// Split shuffles the rows with rng and partitions them into a training set
// of trainFraction and a held-out remainder.
func (d *Dataset) Split(trainFraction float64, rng *rand.Rand) (*Dataset, *Dataset, error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, fmt.Errorf("train fraction must be in (0, 1): %v", trainFraction)
	}
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}
	n := d.Len()
	cut := int(float64(n) * trainFraction)
	if cut < 1 || cut >= n {
		return nil, nil, fmt.Errorf("split produces an empty partition: n=%d fraction=%v", n, trainFraction)
	}
	rows := rng.Perm(n)
	train, err := d.Subset(rows[:cut])
	if err != nil {
		return nil, nil, err
	}
	test, err := d.Subset(rows[cut:])
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// Batches shuffles the rows with rng and cuts them into batches of at most
// size rows. The final short batch is kept.
func (d *Dataset) Batches(size int, rng *rand.Rand) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be > 0: %d", size)
	}
	n := d.Len()
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	}

	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		sub, err := d.Subset(rows[start:end])
		if err != nil {
			return nil, err
		}
		batches = append(batches, Batch{
			Predictors: sub.Predictors,
			Exposure:   sub.Exposure,
			Controls:   sub.Controls,
			Outcome:    sub.Outcome,
		})
	}
	return batches, nil
}

// Full returns the whole dataset as a single batch without copying.
func (d *Dataset) Full() Batch {
	return Batch{
		Predictors: d.Predictors,
		Exposure:   d.Exposure,
		Controls:   d.Controls,
		Outcome:    d.Outcome,
	}
}

// Standardize z-scores every predictor and control column and the exposure
// in place. Constant columns are left untouched.
func (d *Dataset) Standardize() {
	standardizeColumns(d.Predictors)
	standardizeColumns(d.Controls)
	mean, std := stat.MeanStdDev(d.Exposure, nil)
	if std > 0 {
		for i := range d.Exposure {
			d.Exposure[i] = (d.Exposure[i] - mean) / std
		}
	}
}

func standardizeColumns(m *mat.Dense) {
	n, c := m.Dims()
	col := make([]float64, n)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			m.Set(i, j, (col[i]-mean)/std)
		}
	}
}
