package repository

import (
	"errors"
	"fmt"
	"strings"

	"depweaver/internal/artifactstore"
)

// ErrNotFound is returned when a repository does not have a file.
var ErrNotFound = errors.New("not found")

// FetchError is a failed attempt to fetch one file from one repository.
type FetchError struct {
	Repository string
	Path       string
	Status     int
	Err        error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s from %s: HTTP %d", e.Path, e.Repository, e.Status)
	}
	return fmt.Sprintf("fetch %s from %s: %v", e.Path, e.Repository, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ChecksumsUnavailableError means none of the checksum files of a file
// could be downloaded, so the file cannot be trusted.
type ChecksumsUnavailableError struct {
	Repository string
	File       string
}

func (e *ChecksumsUnavailableError) Error() string {
	return "Unable to download checksums of file " + e.File
}

// ChecksumMismatchError means downloaded content does not match its
// published checksum. It is never retried or ignored.
type ChecksumMismatchError struct {
	Repository string
	File       string
	Expected   artifactstore.Checksum
	Actual     string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("Checksum mismatch for file %s: expected %s, got %s", e.File, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return artifactstore.ErrChecksumMismatch }

// Attempt records why one repository could not serve one file.
type Attempt struct {
	Repository string
	File       string
	Err        error
}

// Line renders the attempt for diagnostics.
func (a Attempt) Line() string {
	var notFound *ChecksumsUnavailableError
	var mismatch *ChecksumMismatchError
	switch {
	case errors.As(a.Err, &notFound), errors.As(a.Err, &mismatch):
		return fmt.Sprintf("%s (%s)", a.Err.Error(), a.Repository)
	case errors.Is(a.Err, ErrNotFound):
		return fmt.Sprintf("File %s not found (%s)", a.File, a.Repository)
	default:
		return fmt.Sprintf("Unable to download file %s: %v", a.File, a.Err)
	}
}

// AggregateError collects the failures of every repository tried for one
// coordinate.
type AggregateError struct {
	Subject  string
	Attempts []Attempt
}

func (e *AggregateError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: no repositories to try", e.Subject)
	}
	return fmt.Sprintf("%s: %s", e.Subject, strings.Join(e.Lines(), "; "))
}

// Lines renders each attempt on its own line, in the order tried.
func (e *AggregateError) Lines() []string {
	lines := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		lines[i] = a.Line()
	}
	return lines
}

// Unwrap exposes each attempt's error to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// IsChecksumMismatch reports whether any attempt hit a checksum mismatch.
func (e *AggregateError) IsChecksumMismatch() bool {
	return errors.Is(e, artifactstore.ErrChecksumMismatch)
}
