// Package ingest loads the data directory into chunked records ready for embedding.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/hyperdb/internal/config"
	"github.com/hyperjump/hyperdb/internal/document"
	"github.com/hyperjump/hyperdb/internal/extract"
)

// Record keys of an ingested chunk.
const (
	KeyID          = "id"
	KeyContent     = "content"
	KeySource      = "source"
	KeyDescription = "description"
)

// Loader walks a data directory, extracts text from matching files and splits
// it into chunk records.
type Loader struct {
	extractor  *extract.Extractor
	splitter   *Splitter
	extensions []string
	workers    int
	newID      func() string
	logger     *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for progress output.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithIDFunc replaces the chunk ID generator.
func WithIDFunc(fn func() string) LoaderOption {
	return func(ld *Loader) { ld.newID = fn }
}

// NewLoader creates a loader from the ingest settings.
func NewLoader(cfg config.IngestConfig, extractor *extract.Extractor, opts ...LoaderOption) *Loader {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	ld := &Loader{
		extractor:  extractor,
		splitter:   NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		extensions: cfg.Extensions,
		workers:    max(cfg.Workers, 1),
		newID:      func() string { return uuid.New().String() },
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Accepts reports whether path has one of the configured extensions.
// An empty extension list accepts everything.
func (ld *Loader) Accepts(path string) bool {
	return extensionAllowed(strings.ToLower(filepath.Ext(path)), ld.extensions)
}

// LoadDir loads every matching file under dir. Files are extracted
// concurrently; records keep walk order. A missing dir yields no records.
// Files that fail to extract are logged and skipped.
func (ld *Loader) LoadDir(ctx context.Context, dir string) ([]document.Document, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		ld.logger.Warn("Data path does not exist, nothing to load", zap.String("path", dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat data path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !ld.Accepts(path) {
			return nil
		}
		// Resolve symlinks so only regular files are loaded
		if fi, statErr := os.Stat(path); statErr != nil || !fi.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk data path: %w", err)
	}
	ld.logger.Info("Loading documents", zap.String("path", dir), zap.Int("files", len(files)))

	perFile := make([][]document.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ld.workers)
	for i, path := range files {
		g.Go(func() error {
			records, err := ld.LoadFile(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				ld.logger.Warn("Skipping file", zap.String("path", path), zap.Error(err))
				return nil
			}
			perFile[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []document.Document
	for _, records := range perFile {
		out = append(out, records...)
	}
	ld.logger.Info("Documents split into chunks", zap.Int("files", len(files)), zap.Int("chunks", len(out)))
	return out, nil
}

// LoadFile extracts and splits a single file.
func (ld *Loader) LoadFile(ctx context.Context, path string) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := ld.extractor.Extract(path)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	chunks := ld.splitter.Split(text)
	records := make([]document.Document, len(chunks))
	for i, chunk := range chunks {
		records[i] = document.FromRecord(document.NewRecord().
			Set(KeyID, ld.newID()).
			Set(KeyContent, chunk).
			Set(KeySource, path).
			Set(KeyDescription, chunk))
	}
	ld.logger.Debug("File loaded", zap.String("path", path), zap.Int("chunks", len(records)))
	return records, nil
}

// Source returns the source path of an ingested record.
func Source(d document.Document) (string, bool) {
	if !d.IsRecord() {
		return "", false
	}
	return d.Record().GetString(KeySource)
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
