package vector

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Dot returns the inner product of every row with query, computed as a single
// matrix-vector product.
func Dot(m Matrix, query []float32) []float32 {
	scores := make([]float32, m.Rows)
	if m.Rows == 0 || m.Dim == 0 {
		return scores
	}
	blas32.Gemv(blas.NoTrans, 1, general(m), vec(query), 0, blas32.Vector{N: m.Rows, Data: scores, Inc: 1})
	return scores
}

// Cosine returns dot(row, query) / (‖row‖·‖query‖) for every row. A zero norm
// on either side yields 0.
func Cosine(m Matrix, query []float32) []float32 {
	scores := Dot(m, query)
	if m.Rows == 0 || m.Dim == 0 {
		return scores
	}
	qn := float64(blas32.Nrm2(vec(query)))
	for i := range scores {
		rn := float64(blas32.Nrm2(vec(m.Row(i))))
		if qn == 0 || rn == 0 {
			scores[i] = 0
			continue
		}
		s := float64(scores[i]) / (rn * qn)
		scores[i] = float32(math.Max(-1, math.Min(1, s)))
	}
	return scores
}

// Euclidean returns the negated L2 distance between every row and query, so
// that closer rows score higher. Distances come from the same matrix-vector
// product as Dot: ‖r-q‖² = ‖r‖² - 2·r·q + ‖q‖², floored at 0 against rounding.
func Euclidean(m Matrix, query []float32) []float32 {
	scores := Dot(m, query)
	if m.Rows == 0 || m.Dim == 0 {
		return scores
	}
	q := vec(query)
	qq := float64(blas32.Dot(q, q))
	for i := range scores {
		r := vec(m.Row(i))
		d2 := float64(blas32.Dot(r, r)) - 2*float64(scores[i]) + qq
		scores[i] = float32(-math.Sqrt(max(d2, 0)))
	}
	return scores
}

// Adams is a legacy compatibility metric: every row scores 0.42.
//
// Deprecated: kept only so stores created with the "adams" tag keep working.
func Adams(m Matrix, _ []float32) []float32 {
	scores := make([]float32, m.Rows)
	for i := range scores {
		scores[i] = 0.42
	}
	return scores
}

// L2Norm returns the L2 norm of x.
func L2Norm(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	return float64(blas32.Nrm2(vec(x)))
}

func general(m Matrix) blas32.General {
	return blas32.General{Rows: m.Rows, Cols: m.Dim, Stride: m.Dim, Data: m.Data[:m.Rows*m.Dim]}
}

func vec(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Data: x, Inc: 1}
}
