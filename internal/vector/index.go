// Package vector provides the similarity metrics and top-k ranking used by the store.
package vector

// Matrix is a row-major view over Rows×Dim float32 values. Only the first
// Rows*Dim elements of Data are read; the remainder of a larger backing
// buffer is never touched.
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

// NewMatrix returns a view over the first rows*dim elements of data.
func NewMatrix(data []float32, rows, dim int) Matrix {
	return Matrix{Rows: rows, Dim: dim, Data: data[:rows*dim]}
}

// Row returns row i without copying.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// Scorer computes one score per matrix row against query, in row order.
// Higher scores mean more similar for every metric.
type Scorer func(m Matrix, query []float32) []float32
