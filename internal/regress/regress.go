package regress

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrSingular marks a design matrix the solver cannot invert.
	ErrSingular = errors.New("regress: singular design matrix")
	// ErrMissingTerm marks a lookup of a term the design does not contain.
	ErrMissingTerm = errors.New("regress: term not in design")
)

// Coefficient is one estimated regression term.
type Coefficient struct {
	Name     string
	Estimate float64
	StdErr   float64
	TStat    float64
	PValue   float64
}

// Fit is a completed least-squares fit with per-term inference.
type Fit struct {
	Coefficients []Coefficient
	R2           float64
	DF           int

	byName map[string]int
}

// Lookup returns the named term.
func (f *Fit) Lookup(name string) (Coefficient, error) {
	i, ok := f.byName[name]
	if !ok {
		return Coefficient{}, fmt.Errorf("%w: %s", ErrMissingTerm, name)
	}
	return f.Coefficients[i], nil
}

// Backend estimates linear models over a named design matrix. The default
// is ordinary least squares in-process; external engines can stand in as
// long as they report per-term p-values and variance inflation.
type Backend interface {
	Fit(names []string, x *mat.Dense, y []float64) (*Fit, error)
	VIF(names []string, x *mat.Dense, term string) (float64, error)
}

// TermIntercept is the name the backend gives the constant term it adds.
const TermIntercept = "const"

// OLS solves the normal equations with a QR decomposition and derives
// classical t-based p-values. An intercept column is always prepended.
type OLS struct{}

func NewOLS() *OLS { return &OLS{} }

func (o *OLS) Fit(names []string, x *mat.Dense, y []float64) (*Fit, error) {
	n, k := x.Dims()
	if len(names) != k {
		return nil, fmt.Errorf("term name count mismatch: got=%d want=%d", len(names), k)
	}
	if len(y) != n {
		return nil, fmt.Errorf("response length mismatch: got=%d want=%d", len(y), n)
	}
	df := n - k - 1
	if df <= 0 {
		return nil, fmt.Errorf("not enough observations: n=%d terms=%d", n, k+1)
	}

	design := withIntercept(x)

	var beta mat.VecDense
	if err := beta.SolveVec(design, mat.NewVecDense(n, y)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	// Residual variance and the coefficient covariance s²(XᵀX)⁻¹.
	var fitted mat.VecDense
	fitted.MulVec(design, &beta)
	rss := 0.0
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		rss += r * r
	}
	s2 := rss / float64(df)

	var xtx mat.Dense
	xtx.Mul(design.T(), design)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	allNames := append([]string{TermIntercept}, names...)
	fit := &Fit{
		Coefficients: make([]Coefficient, len(allNames)),
		R2:           rSquared(y, &fitted),
		DF:           df,
		byName:       make(map[string]int, len(allNames)),
	}
	for i, name := range allNames {
		se := math.Sqrt(s2 * inv.At(i, i))
		est := beta.AtVec(i)
		t := est / se
		fit.Coefficients[i] = Coefficient{
			Name:     name,
			Estimate: est,
			StdErr:   se,
			TStat:    t,
			PValue:   2 * (1 - tDist.CDF(math.Abs(t))),
		}
		fit.byName[name] = i
	}
	return fit, nil
}

// VIF regresses the named column on every other design column and reports
// 1/(1-R²) of that auxiliary fit.
func (o *OLS) VIF(names []string, x *mat.Dense, term string) (float64, error) {
	n, k := x.Dims()
	if len(names) != k {
		return 0, fmt.Errorf("term name count mismatch: got=%d want=%d", len(names), k)
	}
	target := -1
	for i, name := range names {
		if name == term {
			target = i
			break
		}
	}
	if target < 0 {
		return 0, fmt.Errorf("%w: %s", ErrMissingTerm, term)
	}
	if k < 2 {
		return 1, nil
	}

	response := make([]float64, n)
	mat.Col(response, target, x)

	others := mat.NewDense(n, k-1, nil)
	col := make([]float64, n)
	dst := 0
	otherNames := make([]string, 0, k-1)
	for j := 0; j < k; j++ {
		if j == target {
			continue
		}
		mat.Col(col, j, x)
		others.SetCol(dst, col)
		otherNames = append(otherNames, names[j])
		dst++
	}

	aux, err := o.Fit(otherNames, others, response)
	if err != nil {
		return 0, err
	}
	if aux.R2 >= 1 {
		return math.Inf(1), nil
	}
	return 1 / (1 - aux.R2), nil
}

func withIntercept(x *mat.Dense) *mat.Dense {
	n, k := x.Dims()
	out := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, 1)
		for j := 0; j < k; j++ {
			out.Set(i, j+1, x.At(i, j))
		}
	}
	return out
}

func rSquared(y []float64, fitted *mat.VecDense) float64 {
	mean := stat.Mean(y, nil)
	tss, rss := 0.0, 0.0
	for i, v := range y {
		d := v - mean
		tss += d * d
		r := v - fitted.AtVec(i)
		rss += r * r
	}
	if tss == 0 {
		return 0
	}
	return 1 - rss/tss
}
