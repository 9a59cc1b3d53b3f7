// Package apperr holds the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid page id")

	// ErrExtraction marks a save whose content could not be parsed for links.
	// The index keeps the page's previous state.
	ErrExtraction = errors.New("link extraction failed")

	// ErrUnavailable marks a storage-layer failure. Callers may retry.
	ErrUnavailable = errors.New("index unavailable")
)

// Retryable reports whether err is worth retrying unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
