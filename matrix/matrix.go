package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RowSums returns a slice containing m row sums.
// It panics if m is nil.
func RowSums(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	sum := make([]float64, rows)

	for i := 0; i < rows; i++ {
		sum[i] = floats.Sum(m.RawRowView(i))
	}

	return sum
}

// Symmetrize stores (m + m')/2 in dst.
// It returns error if m is not square or if its dimensions don't match dst.
func Symmetrize(dst *mat.SymDense, m mat.Matrix) error {
	r, c := m.Dims()
	if r != c || r != dst.SymmetricDim() {
		return fmt.Errorf("invalid matrix dimensions: [%d x %d]", r, c)
	}

	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			dst.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}

	return nil
}

// Identity returns n x n symmetric identity matrix.
func Identity(n int) *mat.SymDense {
	eye := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		eye.SetSym(i, i, 1.0)
	}

	return eye
}
