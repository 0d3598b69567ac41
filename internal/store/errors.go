package store

import (
	"errors"
	"fmt"

	"github.com/hyperjump/hyperdb/internal/vector"
)

var (
	// ErrUnsupportedMetric is returned by New for an unknown metric.
	ErrUnsupportedMetric = vector.ErrUnsupportedMetric

	// ErrEmbeddingUnavailable is returned when no vector could be produced for a document.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexOutOfRange is returned for an index outside [0, Len()).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrStoreFileNotFound is returned by Load when the snapshot does not exist.
	ErrStoreFileNotFound = errors.New("store file not found")

	// ErrStoreFileCorrupt is returned by Load for an unreadable snapshot.
	ErrStoreFileCorrupt = errors.New("store file corrupt")

	// ErrDimensionMismatch is returned when a vector's length differs from the store's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Error wraps an error with the store operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("store: %v", e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
