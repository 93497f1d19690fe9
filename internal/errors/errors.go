// Package errors provides centralized error definitions and error handling
// utilities for the sandbox supervisor. It defines sentinel errors for each
// subsystem, semantic error types with context wrapping, and classification
// helpers used when shaping errors for status events and the bridge.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewSupervisorError("create failed", errors.ErrDuplicateCreate).WithCommandID("job.a")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrModuleNotAllowed) { ... }
//
//	var scriptErr *errors.ScriptError
//	if errors.As(err, &scriptErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience, so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Module gate sentinel errors.
var (
	// ErrModuleNotAllowed indicates a require() specifier that is not a
	// host-registered builtin. The gate is total: this fires regardless
	// of whether the module exists anywhere on disk.
	ErrModuleNotAllowed = New("module not allowed")
)

// Supervisor sentinel errors.
var (
	// ErrDuplicateCreate indicates a create for the same command id is
	// already in flight.
	ErrDuplicateCreate = New("create already in progress for command")
	// ErrCommandNotRunning indicates an operation that requires a live instance.
	ErrCommandNotRunning = New("command not running")
	// ErrSupervisorClosed indicates the supervisor has been shut down.
	ErrSupervisorClosed = New("supervisor closed")
)

// Message bus sentinel errors.
var (
	// ErrAbortedBeforeReady indicates an open() target that was aborted
	// before its top-level code finished executing.
	ErrAbortedBeforeReady = New("target aborted before ready")
)

// Script store sentinel errors.
var (
	// ErrScriptNotFound indicates an unknown command id in the store.
	ErrScriptNotFound = New("script not found")
	// ErrScriptExists indicates a duplicate command id during install.
	ErrScriptExists = New("script already exists")
	// ErrScriptInvalid indicates a script that failed policy validation.
	ErrScriptInvalid = New("script failed validation")
)

// Arena sentinel errors.
var (
	// ErrArenaReleased indicates a registration attempt after ReleaseAll.
	ErrArenaReleased = New("resource arena already released")
)

// Bridge sentinel errors.
var (
	// ErrUnknownCapability indicates a namespace/function pair the bridge
	// does not expose.
	ErrUnknownCapability = New("unknown bridge capability")
	// ErrPolicyDenied indicates a call rejected by per-namespace policy
	// before execution.
	ErrPolicyDenied = New("denied by bridge policy")
	// ErrBridgeTimeout indicates a call that exceeded its budget.
	ErrBridgeTimeout = New("bridge call timed out")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for the typed errors below.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error message is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SupervisorError represents errors from instance lifecycle management.
//
// Example:
//
//	err := errors.NewSupervisorError("create failed", errors.ErrDuplicateCreate)
//	err = err.WithCommandID("job.a")
type SupervisorError struct {
	baseError
	CommandID string
}

// NewSupervisorError creates a new SupervisorError.
func NewSupervisorError(message string, cause error) *SupervisorError {
	return &SupervisorError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithCommandID adds a command id to the error context.
func (e *SupervisorError) WithCommandID(id string) *SupervisorError {
	e.CommandID = id
	return e
}

// Error returns the formatted error message.
func (e *SupervisorError) Error() string {
	prefix := "supervisor error"
	if e.CommandID != "" {
		prefix = fmt.Sprintf("supervisor error [command=%s]", e.CommandID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SupervisorError) Is(target error) bool {
	if _, ok := target.(*SupervisorError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ScriptError represents an error raised by user script code and caught
// at the instance boundary. It never propagates past the supervisor;
// callers see it only as a status event message.
type ScriptError struct {
	baseError
	CommandID string
}

// NewScriptError creates a new ScriptError from an uncaught exception.
func NewScriptError(message string, cause error) *ScriptError {
	return &ScriptError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithCommandID adds a command id to the error context.
func (e *ScriptError) WithCommandID(id string) *ScriptError {
	e.CommandID = id
	return e
}

// Error returns the formatted error message.
func (e *ScriptError) Error() string {
	prefix := "script error"
	if e.CommandID != "" {
		prefix = fmt.Sprintf("script error [command=%s]", e.CommandID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ScriptError) Is(target error) bool {
	if _, ok := target.(*ScriptError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ReleaseError collects failures from an arena release sweep. The sweep
// never stops on individual failures; the aggregate is logged, not
// propagated.
type ReleaseError struct {
	Failures []error
}

// NewReleaseError creates a ReleaseError from collected sweep failures.
func NewReleaseError(failures []error) *ReleaseError {
	return &ReleaseError{Failures: failures}
}

// Error returns the formatted error message.
func (e *ReleaseError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("resource release failed: %v", e.Failures[0])
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d resource releases failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap returns the collected failures for errors.Is/As traversal.
func (e *ReleaseError) Unwrap() []error {
	return e.Failures
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// classified is implemented by the typed errors in this package.
type classified interface {
	error
	Severity() Severity
	IsUserFacing() bool
}

// IsUserFacing returns true if the error message is safe to display to
// end users (and therefore safe to carry on a status event).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var c classified
	if As(err, &c) {
		return c.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that carry no classification.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var c classified
	if As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}

// Message returns the bare message string for an error, suitable for
// crossing the bridge boundary. Only the message crosses: no wrapped
// error identity, no stack.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
