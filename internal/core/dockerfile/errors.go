// Package dockerfile contains pure functions for reading Dockerfile text into a
// BuildConfig and writing it back out.
// This is part of the Functional Core - all functions are pure with no I/O.
package dockerfile

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Line joining errors
	ErrDanglingContinuation = errors.New("continuation marker on last line")
	ErrUnterminatedQuote    = errors.New("unterminated quote")

	// Instruction errors
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrMissingArguments   = errors.New("missing arguments")
	ErrInvalidJSONArray   = errors.New("malformed JSON array")
	ErrInvalidFlag        = errors.New("invalid flag")
	ErrInvalidPort        = errors.New("invalid port")
	ErrInvalidPair        = errors.New("malformed key=value pair")
	ErrInvalidTrigger     = errors.New("instruction not allowed in ONBUILD")
	ErrUnknownStage       = errors.New("stage not declared before use")
)

// SyntaxError reports a problem found while joining physical lines into
// logical instruction lines.
type SyntaxError struct {
	Line   int
	Reason string
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// DockerfileError reports an instruction that could not be parsed.
type DockerfileError struct {
	Line   int
	Reason string
	Err    error
}

func (e *DockerfileError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *DockerfileError) Unwrap() error {
	return e.Err
}

// NewDockerfileError creates a new DockerfileError.
func NewDockerfileError(line int, reason string, err error) *DockerfileError {
	return &DockerfileError{
		Line:   line,
		Reason: reason,
		Err:    err,
	}
}
