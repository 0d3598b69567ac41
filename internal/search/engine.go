// Package search provides the retrieval engine that sits between the vector
// store and its callers: snapshot bootstrap, chat context lookup and
// incremental updates from the data directory.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/ingest"
	"github.com/hyperjump/hyperdb/internal/storage"
	"github.com/hyperjump/hyperdb/internal/store"
)

// DefaultContextTopK is the number of context snippets returned for a chat prompt.
const DefaultContextTopK = 50

// RoleUser is the chat role whose last message is used as the query.
const RoleUser = "user"

// ErrNoUserMessage is returned by ChatContext when the conversation has no user turn.
var ErrNoUserMessage = errors.New("no user message in conversation")

// Message is a chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Status summarizes the engine's store and snapshot.
type Status struct {
	Documents     int    `json:"documents"`
	Capacity      int    `json:"capacity"`
	Dimensions    int    `json:"dimensions"`
	Metric        string `json:"metric"`
	SnapshotPath  string `json:"snapshot_path"`
	SnapshotBytes int64  `json:"snapshot_bytes"`
}

// Engine owns a store and keeps it in step with the data directory and snapshot.
type Engine struct {
	store        *store.Store
	loader       *ingest.Loader
	snapshotPath string
	dataPath     string
	defaultTopK  int
	logger       *zap.Logger

	// mu serializes read-modify-save sequences (ingest, remove, build).
	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSnapshotPath sets where the store is loaded from and saved to.
func WithSnapshotPath(path string) Option {
	return func(e *Engine) { e.snapshotPath = path }
}

// WithDataPath sets the directory ingested when no snapshot exists.
func WithDataPath(path string) Option {
	return func(e *Engine) { e.dataPath = path }
}

// WithDefaultTopK sets the snippet count used when callers pass topK <= 0.
func WithDefaultTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.defaultTopK = k
		}
	}
}

// NewEngine creates an engine over st. loader may be nil when the engine
// never ingests (query-only tools).
func NewEngine(st *store.Store, loader *ingest.Loader, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		loader:      loader,
		defaultTopK: DefaultContextTopK,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store { return e.store }

// Accepts reports whether IngestFile would load path.
func (e *Engine) Accepts(path string) bool {
	return e.loader != nil && e.loader.Accepts(path)
}

// Open loads the snapshot, or builds it from the data directory when the
// snapshot does not exist yet. A corrupt snapshot is an error, not a rebuild.
func (e *Engine) Open(ctx context.Context) error {
	if e.snapshotPath == "" {
		return errors.New("no snapshot path configured")
	}
	err := e.store.Load(e.snapshotPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrStoreFileNotFound) {
		return err
	}
	e.logger.Info("No snapshot found, building from data path",
		zap.String("snapshot", e.snapshotPath), zap.String("data_path", e.dataPath))
	_, err = e.Build(ctx)
	return err
}

// Build ingests the data directory into the store, shrinks the buffer and
// saves the snapshot. It returns the number of documents added.
func (e *Engine) Build(ctx context.Context) (int, error) {
	if e.loader == nil {
		return 0, errors.New("no loader configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	docs, err := e.loader.LoadDir(ctx, e.dataPath)
	if err != nil {
		return 0, fmt.Errorf("load data path: %w", err)
	}
	if err := e.store.AddDocuments(ctx, docs, nil); err != nil {
		return 0, err
	}
	e.store.Finalize()
	if err := e.saveLocked(); err != nil {
		return 0, err
	}
	size, err := storage.DiskUsageBytes(e.snapshotPath)
	if err != nil {
		e.logger.Warn("Failed to stat snapshot", zap.Error(err))
	}
	e.logger.Info("Store built",
		zap.Int("documents", len(docs)),
		zap.String("snapshot", e.snapshotPath),
		zap.Float64("size_mb", storage.FormatMB(size)))
	return len(docs), nil
}

// Context returns the text of the topK documents most similar to q. Records
// contribute their description field; anything else its rendered text.
func (e *Engine) Context(ctx context.Context, q document.Document, topK int) []string {
	if topK <= 0 {
		topK = e.defaultTopK
	}
	results := e.store.Query(ctx, q, topK)
	snippets := make([]string, len(results))
	for i, r := range results {
		snippets[i] = snippet(r.Document)
	}
	e.logger.Debug("Context retrieved", zap.Int("snippets", len(snippets)))
	return snippets
}

func snippet(d document.Document) string {
	if v, ok := d.Lookup(ingest.KeyDescription); ok && d.IsRecord() {
		return document.FormatValue(v)
	}
	return d.String()
}

// Query ranks the store against q. Unlike Store.Query it reports embedding
// failures instead of returning an empty result.
func (e *Engine) Query(ctx context.Context, q document.Document, topK int) ([]store.Result, error) {
	if topK <= 0 {
		topK = store.DefaultTopK
	}
	if e.store.Len() == 0 {
		return []store.Result{}, nil
	}
	vecs, err := e.store.Embed(ctx, []document.Document{q})
	if err != nil {
		return nil, err
	}
	return e.store.QueryVector(vecs[0], topK)
}

// ChatContext finds the last user message, retrieves context for it and
// returns one user message per snippet followed by that prompt.
func (e *Engine) ChatContext(ctx context.Context, messages []Message) ([]Message, error) {
	last := -1
	for i, m := range messages {
		if m.Role == RoleUser {
			last = i
		}
	}
	if last < 0 {
		return nil, ErrNoUserMessage
	}
	prompt := messages[last]
	snippets := e.Context(ctx, document.Text(prompt.Content), 0)
	out := make([]Message, 0, len(snippets)+1)
	for _, s := range snippets {
		out = append(out, Message{Role: RoleUser, Content: s})
	}
	return append(out, prompt), nil
}

// IngestFile replaces every record that came from path with a fresh load of
// the file and saves the snapshot.
func (e *Engine) IngestFile(ctx context.Context, path string) error {
	if e.loader == nil {
		return errors.New("no loader configured")
	}
	if !e.Accepts(path) {
		return nil
	}
	docs, err := e.loader.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	// Embed before taking the lock so a failure leaves the file's old records in place.
	vecs, err := e.store.Embed(ctx, docs)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Old records go only if the new ones fit the store.
	removed, err := e.store.ReplaceFunc(ctx, fromSource(path), docs, vecs)
	if err != nil {
		return err
	}
	e.logger.Info("File ingested", zap.String("path", path), zap.Int("removed", removed), zap.Int("added", len(docs)))
	return e.saveLocked()
}

// RemoveSource drops every record that came from path and saves the snapshot
// when anything was removed.
func (e *Engine) RemoveSource(_ context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := e.store.RemoveFunc(fromSource(path))
	if removed == 0 {
		return nil
	}
	e.logger.Info("Source removed", zap.String("path", path), zap.Int("removed", removed))
	return e.saveLocked()
}

func fromSource(path string) func(document.Document) bool {
	return func(d document.Document) bool {
		src, ok := ingest.Source(d)
		return ok && src == path
	}
}

// Save writes the snapshot.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked()
}

func (e *Engine) saveLocked() error {
	if e.snapshotPath == "" {
		return errors.New("no snapshot path configured")
	}
	return e.store.Save(e.snapshotPath)
}

// Status reports store counters and the snapshot size on disk.
func (e *Engine) Status() Status {
	size, err := storage.DiskUsageBytes(e.snapshotPath)
	if err != nil {
		e.logger.Warn("Failed to stat snapshot", zap.Error(err))
	}
	return Status{
		Documents:     e.store.Len(),
		Capacity:      e.store.Capacity(),
		Dimensions:    e.store.Dimensions(),
		Metric:        e.store.Metric().String(),
		SnapshotPath:  e.snapshotPath,
		SnapshotBytes: size,
	}
}
