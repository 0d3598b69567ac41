package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/document"
)

// DefaultBatchSize is the number of texts sent to a producer per call.
const DefaultBatchSize = 100

var (
	// ErrProducerFailed is returned when a producer call fails or returns the wrong number of vectors.
	ErrProducerFailed = errors.New("embedding producer failed")
	// ErrFieldNotFound is returned when a record lacks the configured field path.
	ErrFieldNotFound = errors.New("embedding field not found")
)

// Batcher normalizes documents to text, splits them into fixed-size batches
// and calls the producer once per batch, in order. A failing batch fails the
// whole call; there are no internal retries.
type Batcher struct {
	producer  Embedder
	batchSize int
	fieldPath string
	logger    *zap.Logger
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithBatchSize sets the batch size. Values below 1 are ignored.
func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithFieldPath sets the dotted path used to pick embedding text out of
// records. Empty means every "key: value" pair is used.
func WithFieldPath(path string) BatcherOption {
	return func(b *Batcher) {
		b.fieldPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) BatcherOption {
	return func(b *Batcher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBatcher returns a batching adapter around producer.
func NewBatcher(producer Embedder, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		producer:  producer,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FieldPath returns the configured field path.
func (b *Batcher) FieldPath() string { return b.fieldPath }

// Texts returns the embedding text of each document.
func (b *Batcher) Texts(docs []document.Document) ([]string, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		s, err := d.EmbeddingText(b.fieldPath)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w: %v", i, ErrFieldNotFound, err)
		}
		texts[i] = s
	}
	return texts, nil
}

// Embed returns one vector per document in input order. An empty input
// returns nil without calling the producer.
func (b *Batcher) Embed(ctx context.Context, docs []document.Document) ([][]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts, err := b.Texts(docs)
	if err != nil {
		return nil, err
	}
	return b.EmbedTexts(ctx, texts)
}

// EmbedOne embeds a single document.
func (b *Batcher) EmbedOne(ctx context.Context, doc document.Document) ([]float32, error) {
	vecs, err := b.Embed(ctx, []document.Document{doc})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds already normalized texts.
func (b *Batcher) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+b.batchSize, len(texts))
		vecs, err := b.producer.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			b.logger.Warn("Embedding batch failed",
				zap.Int("batch_start", start), zap.Int("batch_size", end-start), zap.Error(err))
			return nil, fmt.Errorf("%w: batch at %d: %v", ErrProducerFailed, start, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: batch at %d returned %d vectors for %d texts",
				ErrProducerFailed, start, len(vecs), end-start)
		}
		b.logger.Debug("Embedded batch", zap.Int("batch_start", start), zap.Int("batch_size", end-start))
		out = append(out, vecs...)
	}
	return out, nil
}
