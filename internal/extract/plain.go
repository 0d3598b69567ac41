package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as a string, replacing invalid UTF-8 sequences.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd"), nil
	}
	return string(content), nil
}

// extractJSON returns the document as compact JSON text.
func extractJSON(content []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(content)); err != nil {
		return "", fmt.Errorf("extract JSON: %w", err)
	}
	return buf.String(), nil
}
