// Package errors provides error handling for corpipe.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// On top of that it declares the pipeline error kinds. Each kind is a
// sentinel; wrap it to add context and test for it with errors.Is:
//
//	if errors.Is(err, errors.ErrConfiguration) {
//	    // fatal, do not retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Assertions
var AssertionFailedf = crdb.AssertionFailedf

// Pipeline error kinds.
var (
	// ErrConfiguration covers unknown stages, malformed arguments and
	// document sets that cannot be resolved together. Fatal for the run.
	ErrConfiguration = New("configuration error")

	// ErrDocumentFetch means the source text of a document could not be
	// obtained. Fails that document only.
	ErrDocumentFetch = New("document fetch error")

	// ErrStageExecution means a stage callable failed on a document.
	ErrStageExecution = New("stage execution error")

	// ErrStoreWrite means a computed result could not be persisted.
	// Logged, never fatal.
	ErrStoreWrite = New("store write error")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrUnavailable means a backend could not be reached or answered
	// with a server error. The same request may succeed later.
	ErrUnavailable = New("unavailable")
)

// NewConfigurationError creates a configuration error with a formatted message.
func NewConfigurationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConfiguration)
}

// WrapConfiguration marks err as a configuration error and adds context.
func WrapConfiguration(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrConfiguration)
}

// IsConfigurationError checks if an error is or wraps ErrConfiguration
func IsConfigurationError(err error) bool {
	return err != nil && Is(err, ErrConfiguration)
}

// MarkUnavailable marks err as a transient backend failure
func MarkUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrUnavailable)
}

// IsUnavailable checks if an error is or wraps ErrUnavailable
func IsUnavailable(err error) bool {
	return err != nil && Is(err, ErrUnavailable)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
