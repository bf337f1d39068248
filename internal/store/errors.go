package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store. Use errors.Is to match them.
var (
	// ErrStoreUnavailable means the backing database could not be opened or created.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotConnected is returned when an operation runs before Connect or after Close.
	ErrNotConnected = errors.New("store not connected")

	// ErrDimensionMismatch is returned when an embedding length differs from the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("document not found")

	// ErrInconsistentState means the database holds embeddings of mixed or unexpected widths.
	ErrInconsistentState = errors.New("inconsistent persisted state")
)

// DimensionMismatchError carries the expected and actual embedding lengths.
type DimensionMismatchError struct {
	ID       string // empty for queries
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	if e.Expected == 0 {
		return fmt.Sprintf("%s: embedding for %q is empty", ErrDimensionMismatch, e.ID)
	}
	if e.ID == "" {
		return fmt.Sprintf("%s: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: document %q: expected %d, got %d", ErrDimensionMismatch, e.ID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrDimensionMismatch) hold.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// MetadataDecodeError describes a stored metadata blob that is not a JSON
// string map. It is logged and the record is returned with empty metadata.
type MetadataDecodeError struct {
	ID  string
	Err error
}

func (e *MetadataDecodeError) Error() string {
	return fmt.Sprintf("failed to decode metadata for %q: %v", e.ID, e.Err)
}

func (e *MetadataDecodeError) Unwrap() error { return e.Err }
