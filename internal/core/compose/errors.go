// Package compose contains pure functions for parsing Compose-style deployment
// descriptions into a DeploymentConfig.
// This is part of the Functional Core - all functions are pure with no I/O.
package compose

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyInput = errors.New("compose document is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")
	ErrInvalidType = errors.New("unexpected value type")

	// Compose structure errors
	ErrNoServices = errors.New("compose document must define at least one service")

	// Service errors
	ErrServiceNoImage       = errors.New("service must have image or build")
	ErrServiceInvalidPort   = errors.New("invalid port configuration")
	ErrServiceInvalidVolume = errors.New("invalid volume configuration")
	ErrInvalidDuration      = errors.New("invalid duration")
	ErrInvalidHealthCheck   = errors.New("invalid healthcheck")
	ErrInvalidRestart       = errors.New("invalid restart policy")
	ErrUnknownDependency    = errors.New("depends_on references an undefined service")
	ErrUnknownNetwork       = errors.New("service references an undefined network")
	ErrUnknownVolume        = errors.New("service references an undefined volume")

	// Interpolation errors
	ErrMissingVariable = errors.New("required variable is missing")
	ErrInvalidTemplate = errors.New("invalid interpolation template")

	// Env file errors
	ErrInvalidEnvFile = errors.New("invalid env file")

	// Unsupported feature errors
	ErrUnsupportedFeature = errors.New("unsupported compose feature")
)

// ComposeError reports a problem at a YAML key path.
type ComposeError struct {
	Path   string // e.g., "services.web.ports[0]"
	Reason string
	Err    error
}

func (e *ComposeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return e.Reason
}

func (e *ComposeError) Unwrap() error {
	return e.Err
}

// NewComposeError creates a new ComposeError.
func NewComposeError(path, reason string, err error) *ComposeError {
	return &ComposeError{
		Path:   path,
		Reason: reason,
		Err:    err,
	}
}

// InterpolationError reports a ${VAR:?message} reference to a variable that
// has no value.
type InterpolationError struct {
	Var    string
	Path   string
	Reason string
}

func (e *InterpolationError) Error() string {
	msg := fmt.Sprintf("required variable %s is missing a value", e.Var)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Path != "" {
		return e.Path + ": " + msg
	}
	return msg
}

func (e *InterpolationError) Unwrap() error {
	return ErrMissingVariable
}

// ValidationError aggregates every violation found in a config.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// Add appends err unless it is nil. Nested ValidationErrors are flattened.
func (e *ValidationError) Add(err error) {
	var nested *ValidationError
	switch {
	case err == nil:
	case errors.As(err, &nested) && nested != e:
		e.Errors = append(e.Errors, nested.Errors...)
	default:
		e.Errors = append(e.Errors, err)
	}
}

// Err returns e when it holds at least one violation, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
