// Package apperr defines the error taxonomy shared across the core:
// validation failures, missing nodes, and graph-store failures.
// Callers discriminate with errors.Is; no layer retries.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any store interaction.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an identity-based lookup with no matching node.
	ErrNotFound = errors.New("not found")
	// ErrStore marks a graph-store failure (connection, constraint, transaction).
	ErrStore = errors.New("store error")
)

// Validationf wraps a formatted message as a validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps a formatted message as a not-found error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Storef wraps an underlying store failure, keeping it inspectable with errors.Is.
func Storef(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}
