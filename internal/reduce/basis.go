package reduce

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Basis is a fixed orthogonal projection supplied at model construction.
// Only the first k columns are ever used; the basis is immutable for the
// lifetime of any model holding it and is safe to share across trials.
type Basis struct {
	matrix *mat.Dense
	k      int
}

// NewBasis validates and wraps a d×m basis truncated to its first k columns.
// The source data dimension must equal d and k must satisfy 0 < k <= min(d, m).
func NewBasis(matrix *mat.Dense, k int) (*Basis, error) {
	if matrix == nil {
		return nil, fmt.Errorf("reduction basis is required")
	}
	rows, cols := matrix.Dims()
	if k <= 0 {
		return nil, fmt.Errorf("retained dimension must be > 0: %d", k)
	}
	if k > cols {
		return nil, fmt.Errorf("retained dimension exceeds basis columns: k=%d cols=%d", k, cols)
	}
	if k > rows {
		return nil, fmt.Errorf("retained dimension exceeds source dimension: k=%d rows=%d", k, rows)
	}
	copied := mat.DenseCopyOf(matrix)
	return &Basis{matrix: copied, k: k}, nil
}

func (b *Basis) K() int { return b.k }

func (b *Basis) SourceDim() int {
	rows, _ := b.matrix.Dims()
	return rows
}

// Project maps an n×d matrix onto the retained components, yielding n×k.
func (b *Basis) Project(x mat.Matrix) (*mat.Dense, error) {
	n, d := x.Dims()
	if d != b.SourceDim() {
		return nil, fmt.Errorf("projection input dimension mismatch: got=%d want=%d", d, b.SourceDim())
	}
	truncated := b.matrix.Slice(0, b.SourceDim(), 0, b.k)
	out := mat.NewDense(n, b.k, nil)
	out.Mul(x, truncated)
	return out, nil
}
