package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNotDirectory indicates a source path that is not a directory.
	ErrNotDirectory = errors.New("pipeline: source is not a directory")

	// ErrOverlap indicates source and output directories that contain
	// each other.
	ErrOverlap = errors.New("pipeline: source and output overlap")
)

// UsageError reports an invocation the driver refuses to run. No file has
// been read or written when it is returned.
type UsageError struct {
	Msg string
	Err error
}

func (e *UsageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: %s: %v", e.Msg, e.Err)
	}
	return "pipeline: " + e.Msg
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func usage(err error, format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...), Err: err}
}
