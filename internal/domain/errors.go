// Package domain contains the core business entities and logic.
package domain

import "errors"

// Sentinel errors for common domain error cases.
// These allow callers to classify errors without coupling to infrastructure.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource with the same identifier already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates the input data is invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNonRetryable marks queue input that can never be processed:
	// a missing owner or type, an unparseable body, or a wrong content
	// type. Retrying cannot help, so the consumer must delete the message
	// instead of backing it off.
	ErrNonRetryable = errors.New("event cannot be processed")
)
