package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two fatal error classes. Policy violations (item
// ineligible, window expired, value out of bounds) are not errors; they are
// expected outcomes recorded in the EvaluationResult.
var (
	// ErrConfiguration marks a malformed policy: unmatched zone with no
	// default, unparseable risk ranges, overlapping price tiers. Fatal,
	// never silently patched.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput marks a malformed evaluation input: missing policy,
	// missing required fields, non-positive quantities. Evaluation aborts
	// before any stage runs.
	ErrInvalidInput = errors.New("invalid input")
)

// ConfigurationError wraps ErrConfiguration with the offending field.
func ConfigurationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// InvalidInputError wraps ErrInvalidInput with the offending field.
func InvalidInputError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
