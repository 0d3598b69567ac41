// Package cli provides output helpers for the hyperdb command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/hyperdb/internal/store"
	"github.com/hyperjump/hyperdb/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// previewRunes is how much of a document the text format shows.
const previewRunes = 200

// ParseOutputFormat accepts "text" or "json", case-insensitively.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteQueryResults writes ranked results to w in the given format.
func WriteQueryResults(w io.Writer, results []store.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"results": results, "count": len(results)})
	}
	fmt.Fprintf(w, "\nFound %d results\n\n", len(results))
	for rank, r := range results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Index: %d | Score: %.4f\n", rank+1, r.Index, r.Score)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Document.String(), previewRunes))
	}
	return nil
}

// WriteEntries writes a store listing to w in the given format.
func WriteEntries(w io.Writer, entries []store.Entry, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"entries": entries, "count": len(entries)})
	}
	for _, e := range entries {
		line := strings.ReplaceAll(utils.Truncate(e.Document.String(), previewRunes), "\n", " ")
		if e.Vector != nil {
			fmt.Fprintf(w, "%6d  [%d dims]  %s\n", e.Index, len(e.Vector), line)
		} else {
			fmt.Fprintf(w, "%6d  %s\n", e.Index, line)
		}
	}
	fmt.Fprintf(w, "\n%d documents\n", len(entries))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
