package scopeplot

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDataFound is returned when the header scan reaches the end of the
	// input without seeing a single numeric row.
	ErrNoDataFound = errors.New("no data rows found")

	// ErrInsufficientData is returned when a capture has fewer than two data
	// rows, so no sample period can be derived.
	ErrInsufficientData = errors.New("at least two data rows are required")
)

// FileAccessError is returned when the capture file cannot be opened or read.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("cannot access capture %q: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error {
	return e.Err
}
