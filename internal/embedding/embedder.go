// Package embedding turns documents into vectors through pluggable embedding
// producers (Ollama, ONNX, mock) and a batching adapter.
package embedding

import "context"

// Embedder produces vector embeddings for a batch of texts. Implementations
// return exactly one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 when it is only known after
	// the first call.
	Dimensions() int
	Close() error
}
