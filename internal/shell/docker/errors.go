package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/stevedore/internal/core/deployment"
	cerrdefs "github.com/containerd/errdefs"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	// Network errors
	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")
	ErrNetworkInUse         = errors.New("network has active endpoints")

	// Volume errors
	ErrVolumeNotFound      = errors.New("volume not found")
	ErrVolumeAlreadyExists = errors.New("volume already exists")
	ErrVolumeInUse         = errors.New("volume is in use")

	// Image errors
	ErrImageNotFound    = errors.New("image not found")
	ErrImagePullFailed  = errors.New("image pull failed")
	ErrImageBuildFailed = errors.New("image build failed")
	ErrUnknownTarget    = errors.New("unknown build target")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("docker connection failed")
	ErrTimeout              = errors.New("operation timed out")

	// Deployment errors
	ErrResourceConflict   = errors.New("resource conflict")
	ErrHealthCheckTimeout = errors.New("health check timed out")
	ErrRollbackFailed     = errors.New("rollback failed")
	ErrDeploymentFailed   = errors.New("deployment failed")
	ErrServiceNotFound    = errors.New("service not found")

	// Preflight errors
	ErrPreflightFailed       = errors.New("preflight check failed")
	ErrHostPortInUse         = errors.New("host port is in use")
	ErrInsufficientResources = errors.New("engine lacks the resources")
)

// =============================================================================
// Runtime Call Errors
// =============================================================================

// RuntimeCallError wraps a failed runtime call with the operation and the
// entity it targeted.
type RuntimeCallError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, volume, image)
	ID      string // Entity ID or name if applicable
	Message string
	Err     error
}

func (e *RuntimeCallError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RuntimeCallError) Unwrap() error {
	return e.Err
}

// NewRuntimeCallError creates a new RuntimeCallError.
func NewRuntimeCallError(op, entity, id, message string, err error) *RuntimeCallError {
	return &RuntimeCallError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// notFound maps an entity type to its not-found sentinel.
var notFound = map[string]error{
	"container": ErrContainerNotFound,
	"network":   ErrNetworkNotFound,
	"volume":    ErrVolumeNotFound,
	"image":     ErrImageNotFound,
}

// alreadyExists maps an entity type to its conflict sentinel.
var alreadyExists = map[string]error{
	"container": ErrContainerAlreadyExists,
	"network":   ErrNetworkAlreadyExists,
	"volume":    ErrVolumeAlreadyExists,
}

// classify turns an engine error into a RuntimeCallError whose chain carries
// the matching sentinel, so callers can use errors.Is without inspecting
// engine error text.
func classify(op, entity, id string, err error) *RuntimeCallError {
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(ErrTimeout, err))
	case errors.Is(err, context.Canceled):
		return NewRuntimeCallError(op, entity, id, msg, err)
	case cerrdefs.IsNotFound(err) && notFound[entity] != nil:
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(notFound[entity], err))
	case strings.Contains(msg, "port is already allocated"):
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(ErrPortAlreadyAllocated, err))
	case strings.Contains(msg, "has active endpoints"):
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(ErrNetworkInUse, err))
	case strings.Contains(msg, "volume is in use"):
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(ErrVolumeInUse, err))
	case strings.Contains(msg, "is already running") || strings.Contains(msg, "already started"):
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(ErrContainerAlreadyRunning, err))
	case strings.Contains(msg, "is not running"):
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(ErrContainerNotRunning, err))
	case (cerrdefs.IsConflict(err) || cerrdefs.IsAlreadyExists(err) || strings.Contains(msg, "already exists")) && alreadyExists[entity] != nil:
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(alreadyExists[entity], err))
	case cerrdefs.IsUnavailable(err) || isConnectionFailure(msg):
		return NewRuntimeCallError(op, entity, id, msg, errors.Join(ErrConnectionFailed, err))
	}
	return NewRuntimeCallError(op, entity, id, msg, err)
}

func isConnectionFailure(msg string) bool {
	return strings.Contains(msg, "Cannot connect to the Docker daemon") || strings.Contains(msg, "connection refused")
}

// =============================================================================
// Deployment Errors
// =============================================================================

// ResourceConflictError is returned when an existing network or volume does
// not match its declaration.
type ResourceConflictError struct {
	Kind  deployment.EntryKind
	Name  string
	Field string
	Want  string
	Got   string
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists with %s %q, declared %q", e.Kind, e.Name, e.Field, e.Got, e.Want)
}

func (e *ResourceConflictError) Unwrap() error {
	return ErrResourceConflict
}

// HealthCheckTimeoutError is returned when a health-gated service does not
// become healthy before its deadline.
type HealthCheckTimeoutError struct {
	Service    string
	LastStatus string
	Deadline   time.Duration
}

func (e *HealthCheckTimeoutError) Error() string {
	return fmt.Sprintf("service %s not healthy after %s (last status %q)", e.Service, e.Deadline, e.LastStatus)
}

func (e *HealthCheckTimeoutError) Unwrap() error {
	return ErrHealthCheckTimeout
}

// PreflightError lists the host conditions that rule a deployment out before
// anything is created.
type PreflightError struct {
	Problems []error
}

func (e *PreflightError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, err := range e.Problems {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPreflightFailed, strings.Join(msgs, "; "))
}

func (e *PreflightError) Unwrap() []error {
	return append([]error{ErrPreflightFailed}, e.Problems...)
}

// ServiceError attributes a failure to the service whose task produced it.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// RollbackError collects every failure met while undoing a run.
type RollbackError struct {
	Errors []error
}

func (e *RollbackError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrRollbackFailed, strings.Join(msgs, "; "))
}

func (e *RollbackError) Unwrap() []error {
	return append([]error{ErrRollbackFailed}, e.Errors...)
}

// DeploymentError is returned by a failed run. Cause is the first failure;
// RolledBack lists the ledger entries that were removed, and Rollback holds
// rollback failures, if any. The cause is never replaced by rollback errors.
type DeploymentError struct {
	Project    string
	RunID      string
	Cause      error
	RolledBack []deployment.LedgerEntry
	Rollback   *RollbackError
}

func (e *DeploymentError) Error() string {
	msg := fmt.Sprintf("deployment %s failed: %v", e.Project, e.Cause)
	if e.Rollback != nil {
		msg += fmt.Sprintf(" (rollback incomplete: %d errors)", len(e.Rollback.Errors))
	}
	return msg
}

func (e *DeploymentError) Unwrap() []error {
	return []error{ErrDeploymentFailed, e.Cause}
}
