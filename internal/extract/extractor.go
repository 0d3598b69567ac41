// Package extract turns files in the data directory into plain text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".txt":      extractPlain,
	".md":       extractPlain,
	".markdown": extractPlain,
	".rst":      extractPlain,
	".json":     extractJSON,
	".pdf":      extractPDF,
	".docx":     extractDOCX,
	".xlsx":     extractExcel,
	".odt":      extractOpenDocument,
	".rtf":      extractOpenDocument,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported returns the extensions with a dedicated extractor, sorted.
func Supported() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on ext, which includes the
// leading dot. Unknown extensions are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	if fn, ok := extractors[strings.ToLower(ext)]; ok {
		return fn(content)
	}
	return extractPlain(content)
}
