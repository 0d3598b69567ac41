package vector

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// ErrUnsupportedMetric is returned for a similarity metric tag that is not one of the known metrics.
var ErrUnsupportedMetric = errors.New("similarity metric not supported")

// Metric identifies a similarity metric. It is chosen once when a store is created.
type Metric string

const (
	// MetricDot is the raw inner product.
	MetricDot Metric = "dot"
	// MetricCosine is the inner product of the normalized vectors.
	MetricCosine Metric = "cosine"
	// MetricEuclidean is the negated L2 distance.
	MetricEuclidean Metric = "euclidean"
	// MetricDerrida is cosine similarity plus uniform noise in [-0.2, 0.2).
	//
	// Deprecated: legacy compatibility mode.
	MetricDerrida Metric = "derrida"
	// MetricAdams scores every vector 0.42.
	//
	// Deprecated: legacy compatibility mode.
	MetricAdams Metric = "adams"
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricDot, MetricCosine, MetricEuclidean, MetricDerrida, MetricAdams}

// ParseMetric maps a tag such as "cosine" to its Metric. Matching is exact after
// trimming and lower-casing; anything else returns ErrUnsupportedMetric.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q (supported: dot, cosine, euclidean, adams, derrida)", ErrUnsupportedMetric, s)
	}
	return m, nil
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricDot, MetricCosine, MetricEuclidean, MetricDerrida, MetricAdams:
		return true
	default:
		return false
	}
}

// Legacy reports whether m is one of the deprecated compatibility metrics.
func (m Metric) Legacy() bool {
	return m == MetricDerrida || m == MetricAdams
}

func (m Metric) String() string { return string(m) }

// Scorer returns the scoring function for m. rng feeds the derrida metric and
// may be nil, in which case a randomly seeded source is used.
func (m Metric) Scorer(rng *rand.Rand) (Scorer, error) {
	switch m {
	case MetricDot:
		return Dot, nil
	case MetricCosine:
		return Cosine, nil
	case MetricEuclidean:
		return Euclidean, nil
	case MetricDerrida:
		return derrida(rng), nil
	case MetricAdams:
		return Adams, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMetric, string(m))
	}
}

// derrida perturbs each cosine score by an independent uniform offset.
// Scorers run under a read lock, so the shared source is guarded.
func derrida(rng *rand.Rand) Scorer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	var mu sync.Mutex
	return func(m Matrix, query []float32) []float32 {
		scores := Cosine(m, query)
		mu.Lock()
		defer mu.Unlock()
		for i := range scores {
			scores[i] += float32(rng.Float64()*0.4 - 0.2)
		}
		return scores
	}
}
