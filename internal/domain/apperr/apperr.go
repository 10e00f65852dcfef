// Package apperr defines the error kinds shared across shufflebox.
//
// Kinds are attached with errors.Mark so they survive further wrapping
// and can be tested with errors.Is at any layer.
package apperr

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrAuthentication means credentials are missing or were rejected. Fatal to the whole run.
	ErrAuthentication = errors.New("authentication error")
	// ErrProvider means the playlist service could not serve a request.
	// Aborts the current playlist's workflow only.
	ErrProvider = errors.New("provider error")
	// ErrNotFound means the playlist or its track collection does not exist.
	// Always also marked as ErrProvider.
	ErrNotFound = errors.New("not found")
	// ErrCapacity means more tracks were requested than exist.
	ErrCapacity = errors.New("capacity error")
	// ErrArgument means an input could not be used for a provider call.
	ErrArgument = errors.New("argument error")
)

// Authentication marks err as an authentication failure.
func Authentication(err error) error {
	return errors.Mark(err, ErrAuthentication)
}

// Provider marks err as a provider failure.
func Provider(err error) error {
	return errors.Mark(err, ErrProvider)
}

// NotFound marks err as a missing resource on the provider side.
func NotFound(err error) error {
	return errors.Mark(errors.Mark(err, ErrNotFound), ErrProvider)
}

// Capacity marks err as a capacity failure.
func Capacity(err error) error {
	return errors.Mark(err, ErrCapacity)
}

// Argument marks err as an invalid argument.
func Argument(err error) error {
	return errors.Mark(err, ErrArgument)
}

// IsFatal reports whether err must abort the whole run rather than a single job.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
