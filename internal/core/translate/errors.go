// Package translate converts declared resource limits, health checks and IPAM
// blocks into the numeric and structured forms a container engine expects.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// Translators run immediately before the runtime call that needs them, never
// while parsing, so a config parses even if it is never deployed.
package translate

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrInvalidResourceLimit = errors.New("invalid resource limit")
	ErrInvalidHealthCheck   = errors.New("invalid healthcheck")
	ErrInvalidIpamConfig    = errors.New("invalid IPAM configuration")
)

// InvalidResourceLimit reports a resource value that cannot be translated.
type InvalidResourceLimit struct {
	Field  string // e.g. "memory_limit", empty when parsing a bare value
	Value  string
	Reason string
}

func (e *InvalidResourceLimit) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid resource value %q: %s", e.Value, e.Reason)
}

func (e *InvalidResourceLimit) Unwrap() error {
	return ErrInvalidResourceLimit
}

// InvalidHealthCheck reports a health check the engine would reject.
type InvalidHealthCheck struct {
	Reason string
}

func (e *InvalidHealthCheck) Error() string {
	return "invalid healthcheck: " + e.Reason
}

func (e *InvalidHealthCheck) Unwrap() error {
	return ErrInvalidHealthCheck
}

// InvalidIpamConfig reports a malformed or inconsistent IPAM pool.
type InvalidIpamConfig struct {
	Pool   int // index into the pool list
	Field  string
	Value  string
	Reason string
}

func (e *InvalidIpamConfig) Error() string {
	return fmt.Sprintf("ipam config[%d].%s %q: %s", e.Pool, e.Field, e.Value, e.Reason)
}

func (e *InvalidIpamConfig) Unwrap() error {
	return ErrInvalidIpamConfig
}
