package vector

import (
	"math"
	"slices"
)

// Rank scores every row of m against query and returns the indices and scores
// of the topK best rows. Results are ordered by descending score; equal scores
// keep ascending row order, and NaN scores sort last. A topK at or above the
// row count returns every row. Neither m nor query is modified.
//
// query must have m.Dim elements.
func Rank(m Matrix, query []float32, topK int, score Scorer) ([]int, []float32) {
	if m.Rows == 0 || topK <= 0 {
		return []int{}, []float32{}
	}
	scores := score(m, query)
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return compareDesc(scores[a], scores[b])
	})
	if topK > len(order) {
		topK = len(order)
	}
	order = order[:topK]
	ranked := make([]float32, topK)
	for i, idx := range order {
		ranked[i] = scores[idx]
	}
	return order, ranked
}

func compareDesc(a, b float32) int {
	aNaN, bNaN := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
