// Package document defines the opaque documents held by the vector store.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is either plain text or an ordered record. The store never looks
// inside a document except to extract text for embedding.
type Document struct {
	text   string
	record *Record
}

// Text returns a plain-text document.
func Text(s string) Document {
	return Document{text: s}
}

// FromRecord returns a structured document.
func FromRecord(r *Record) Document {
	if r == nil {
		r = NewRecord()
	}
	return Document{record: r}
}

// IsRecord reports whether d is structured.
func (d Document) IsRecord() bool { return d.record != nil }

// Record returns the record of a structured document, or nil.
func (d Document) Record() *Record { return d.record }

// String returns the text of a plain document, or the rendered record.
func (d Document) String() string {
	if d.record != nil {
		return d.record.Render()
	}
	return d.text
}

// Lookup follows a dotted path in a structured document.
func (d Document) Lookup(path string) (any, bool) {
	if d.record == nil {
		return nil, false
	}
	return d.record.Lookup(path)
}

// EmbeddingText returns the text handed to the embedding producer. Plain text
// is used as is. For records, a non-empty fieldPath selects one value (newlines
// replaced by spaces); an empty fieldPath renders every "key: value" pair.
func (d Document) EmbeddingText(fieldPath string) (string, error) {
	if d.record == nil {
		return d.text, nil
	}
	if fieldPath == "" {
		return d.record.Render(), nil
	}
	v, ok := d.record.Lookup(fieldPath)
	if !ok {
		return "", fmt.Errorf("field %q not found in document", fieldPath)
	}
	return strings.ReplaceAll(FormatValue(v), "\n", " "), nil
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	return Document{text: d.text, record: d.record.Clone()}
}

// MarshalJSON encodes a plain document as a JSON string and a record as an object.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.record != nil {
		return d.record.MarshalJSON()
	}
	return json.Marshal(d.text)
}

// UnmarshalJSON accepts a JSON string or object.
func (d *Document) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		rec := NewRecord()
		if err := rec.UnmarshalJSON(data); err != nil {
			return err
		}
		*d = Document{record: rec}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("document must be a JSON string or object: %w", err)
	}
	*d = Document{text: s}
	return nil
}
