// Package store implements an in-memory vector store: documents paired with
// float32 vectors in a growable contiguous buffer, ranked by a fixed
// similarity metric and persisted as a compressed snapshot.
//
// Mutations (add, remove, finalize, load) take an exclusive lock; queries,
// listing and save share a read lock. Embedding runs outside the lock, so a
// failed or cancelled embedding call never leaves a partial write.
package store

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/embedding"
	"github.com/hyperjump/hyperdb/internal/vector"
)

const (
	// DefaultTopK is the number of results returned when a caller does not choose.
	DefaultTopK = 5
	// DefaultInitialCapacity is the row capacity allocated for the first vector.
	DefaultInitialCapacity = 10000
)

// Result is a ranked query hit.
type Result struct {
	Index    int               `json:"index"`
	Document document.Document `json:"document"`
	Score    float32           `json:"score"`
}

// Entry is one row of a listing. Vector is nil unless requested.
type Entry struct {
	Index    int               `json:"index"`
	Document document.Document `json:"document"`
	Vector   []float32         `json:"vector,omitempty"`
}

// Store holds documents and their vectors. Vectors live in the first count
// rows of buf; rows at or past count are never read.
type Store struct {
	mu sync.RWMutex

	metric   vector.Metric
	score    vector.Scorer
	embedder *embedding.Batcher
	logger   *zap.Logger

	initialCapacity int
	growth          int

	dim      int
	buf      []float32 // capacity*dim values
	capacity int       // rows in buf
	count    int
	docs     []document.Document

	rng *rand.Rand
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder sets the adapter used when callers omit vectors.
func WithEmbedder(b *embedding.Batcher) Option {
	return func(s *Store) {
		s.embedder = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInitialCapacity sets the rows allocated when the first vector arrives.
func WithInitialCapacity(rows int) Option {
	return func(s *Store) {
		if rows > 0 {
			s.initialCapacity = rows
		}
	}
}

// WithGrowth sets the rows added each time the buffer fills. Defaults to the initial capacity.
func WithGrowth(rows int) Option {
	return func(s *Store) {
		if rows > 0 {
			s.growth = rows
		}
	}
}

// WithDimensions fixes the vector length up front instead of inferring it from the first vector.
func WithDimensions(dim int) Option {
	return func(s *Store) {
		if dim > 0 {
			s.dim = dim
		}
	}
}

// WithRand sets the random source used by the derrida metric.
func WithRand(rng *rand.Rand) Option {
	return func(s *Store) {
		s.rng = rng
	}
}

// New returns an empty store ranking by metric.
func New(metric vector.Metric, opts ...Option) (*Store, error) {
	s := &Store{
		metric:          metric,
		logger:          zap.NewNop(),
		initialCapacity: DefaultInitialCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	score, err := metric.Scorer(s.rng)
	if err != nil {
		return nil, wrapError("new", err)
	}
	s.score = score
	if s.growth == 0 {
		s.growth = s.initialCapacity
	}
	if metric.Legacy() {
		s.logger.Warn("Using legacy similarity metric", zap.String("metric", metric.String()))
	}
	return s, nil
}

// Metric returns the store's similarity metric.
func (s *Store) Metric() vector.Metric { return s.metric }

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Capacity returns the number of rows the backing buffer can hold.
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Dimensions returns the vector length, or 0 before the first vector.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// AddDocument appends doc. When vec is nil the document is embedded first;
// if that fails the document is not added and ErrEmbeddingUnavailable is returned.
func (s *Store) AddDocument(ctx context.Context, doc document.Document, vec []float32) error {
	var vecs [][]float32
	if vec != nil {
		vecs = [][]float32{vec}
	}
	if err := s.add(ctx, []document.Document{doc}, vecs); err != nil {
		return wrapError("add document", err)
	}
	return nil
}

// AddDocuments appends docs in order. When vecs is nil every document is
// embedded before any is appended; on failure nothing is added.
func (s *Store) AddDocuments(ctx context.Context, docs []document.Document, vecs [][]float32) error {
	if err := s.add(ctx, docs, vecs); err != nil {
		return wrapError("add documents", err)
	}
	return nil
}

func (s *Store) add(ctx context.Context, docs []document.Document, vecs [][]float32) error {
	if len(docs) == 0 {
		return nil
	}
	if vecs == nil {
		var err error
		if vecs, err = s.embed(ctx, docs); err != nil {
			return err
		}
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("%d vectors for %d documents", len(vecs), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(docs, vecs)
}

// ReplaceFunc removes every entry whose document matches and appends docs in
// their place, under one lock. The vectors are checked first, so on error
// nothing is removed. Returns the number of entries removed.
func (s *Store) ReplaceFunc(ctx context.Context, match func(document.Document) bool, docs []document.Document, vecs [][]float32) (int, error) {
	if vecs == nil && len(docs) > 0 {
		var err error
		if vecs, err = s.embed(ctx, docs); err != nil {
			return 0, wrapError("replace", err)
		}
	}
	if len(vecs) != len(docs) {
		return 0, wrapError("replace", fmt.Errorf("%d vectors for %d documents", len(vecs), len(docs)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(docs) > 0 {
		if _, err := s.checkLocked(vecs); err != nil {
			return 0, wrapError("replace", err)
		}
	}
	removed := 0
	for i := s.count - 1; i >= 0; i-- {
		if match(s.docs[i]) {
			s.removeLocked(i)
			removed++
		}
	}
	if len(docs) == 0 {
		return removed, nil
	}
	return removed, wrapError("replace", s.appendLocked(docs, vecs))
}

// checkLocked returns the dimensionality vecs must share with the store.
func (s *Store) checkLocked(vecs [][]float32) (int, error) {
	dim := s.dim
	if dim == 0 {
		dim = len(vecs[0])
	}
	if dim == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for i, v := range vecs {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has length %d, store has %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return dim, nil
}

func (s *Store) appendLocked(docs []document.Document, vecs [][]float32) error {
	dim, err := s.checkLocked(vecs)
	if err != nil {
		return err
	}
	if s.dim == 0 {
		s.dim = dim
		s.logger.Debug("Store dimensionality fixed", zap.Int("dimensions", dim))
	}

	s.reserve(s.count + len(vecs))
	for _, v := range vecs {
		copy(s.buf[s.count*s.dim:(s.count+1)*s.dim], v)
		s.count++
	}
	s.docs = append(s.docs, docs...)
	return nil
}

// Embed returns vectors for docs from the configured embedder without adding
// them. Empty input yields nil.
func (s *Store) Embed(ctx context.Context, docs []document.Document) ([][]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	vecs, err := s.embed(ctx, docs)
	if err != nil {
		return nil, wrapError("embed", err)
	}
	return vecs, nil
}

func (s *Store) embed(ctx context.Context, docs []document.Document) ([][]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbeddingUnavailable)
	}
	vecs, err := s.embedder.Embed(ctx, docs)
	if err != nil {
		s.logger.Warn("Embedding failed, documents not added", zap.Int("documents", len(docs)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return vecs, nil
}

// reserve grows the buffer by whole growth blocks until it holds rows rows.
// Callers hold the write lock and have fixed s.dim.
func (s *Store) reserve(rows int) {
	if rows <= s.capacity {
		return
	}
	newCap := s.capacity
	if newCap == 0 {
		newCap = s.initialCapacity
	}
	for newCap < rows {
		newCap += s.growth
	}
	buf := make([]float32, newCap*s.dim)
	copy(buf, s.buf[:s.count*s.dim])
	s.buf = buf
	s.logger.Debug("Store buffer grown", zap.Int("from_rows", s.capacity), zap.Int("to_rows", newCap))
	s.capacity = newCap
}

// RemoveDocument deletes the entry at index; later entries shift down by one.
func (s *Store) RemoveDocument(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.count {
		return wrapError("remove document", fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, s.count))
	}
	s.removeLocked(index)
	return nil
}

// RemoveFunc deletes every entry whose document matches and returns how many were removed.
func (s *Store) RemoveFunc(match func(document.Document) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for i := s.count - 1; i >= 0; i-- {
		if match(s.docs[i]) {
			s.removeLocked(i)
			removed++
		}
	}
	return removed
}

func (s *Store) removeLocked(index int) {
	d := s.dim
	copy(s.buf[index*d:], s.buf[(index+1)*d:s.count*d])
	clear(s.buf[(s.count-1)*d : s.count*d])
	s.docs = slices.Delete(s.docs, index, index+1)
	s.count--
}

// Finalize shrinks the backing buffer to exactly Len() rows.
func (s *Store) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity == s.count {
		return
	}
	var buf []float32
	if s.count > 0 {
		buf = make([]float32, s.count*s.dim)
		copy(buf, s.buf[:s.count*s.dim])
	}
	s.buf = buf
	s.capacity = s.count
	s.docs = slices.Clip(s.docs)
}

// Query embeds q and returns up to topK ranked results. It returns an empty
// slice when the store is empty or the query cannot be embedded.
func (s *Store) Query(ctx context.Context, q document.Document, topK int) []Result {
	if s.Len() == 0 {
		return []Result{}
	}
	vecs, err := s.embed(ctx, []document.Document{q})
	if err != nil {
		s.logger.Warn("Query embedding failed", zap.Error(err))
		return []Result{}
	}
	results, err := s.QueryVector(vecs[0], topK)
	if err != nil {
		s.logger.Warn("Query failed", zap.Error(err))
		return []Result{}
	}
	return results
}

// QueryDocuments is Query without scores.
func (s *Store) QueryDocuments(ctx context.Context, q document.Document, topK int) []document.Document {
	results := s.Query(ctx, q, topK)
	docs := make([]document.Document, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	return docs
}

// QueryVector ranks stored vectors against vec.
func (s *Store) QueryVector(vec []float32, topK int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return []Result{}, nil
	}
	if len(vec) != s.dim {
		return nil, wrapError("query", fmt.Errorf("%w: query has length %d, store has %d", ErrDimensionMismatch, len(vec), s.dim))
	}
	m := vector.NewMatrix(s.buf, s.count, s.dim)
	idx, scores := vector.Rank(m, vec, topK, s.score)
	results := make([]Result, len(idx))
	for i, j := range idx {
		results[i] = Result{Index: j, Document: s.docs[j], Score: scores[i]}
	}
	return results, nil
}

// Listing enumerates entries in store order. Each iteration starts over from
// index 0 and sees the store as it is at each step. Vectors are copies.
func (s *Store) Listing(includeVectors bool) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := 0; ; i++ {
			e, ok := s.entry(i, includeVectors)
			if !ok || !yield(e) {
				return
			}
		}
	}
}

func (s *Store) entry(i int, includeVector bool) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i >= s.count {
		return Entry{}, false
	}
	e := Entry{Index: i, Document: s.docs[i].Clone()}
	if includeVector {
		e.Vector = slices.Clone(s.buf[i*s.dim : (i+1)*s.dim])
	}
	return e, true
}
