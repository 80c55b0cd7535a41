package dataset

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrEntryNotFound is returned when an archive has no entry by that name.
var ErrEntryNotFound = errors.New("entry not found")

// IOError indicates the dataset bytes could not be read.
type IOError struct {
	Name string
	Err  error
}

func (e *IOError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("could not read %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("could not read dataset: %v", e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FormatError indicates the CSV content is not usable, e.g. fewer than two
// non-blank lines.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "invalid CSV: " + e.Reason }

// SizeLimitError indicates an upload larger than the configured limit.
type SizeLimitError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s is %s, which exceeds the %s limit", e.Name, humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

// UnsupportedFormatError indicates a file that is neither a CSV nor a ZIP
// holding at least one CSV.
type UnsupportedFormatError struct {
	Name   string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported file %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("unsupported file %s: use a .csv or .zip file", e.Name)
}
