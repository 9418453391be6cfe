package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatProcess    ErrorCategory = "process"    // Adapter process could not produce output
	ErrCatCodec      ErrorCategory = "codec"      // Adapter output violates the protocol
	ErrCatDispatch   ErrorCategory = "dispatch"   // Scheduling outcome, not a failure
	ErrCatValidation ErrorCategory = "validation" // Invalid input or configuration
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatState      ErrorCategory = "state"      // Illegal state transition
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// Error codes. Each code belongs to exactly one category.
const (
	CodeTimeout            = "TIMEOUT"
	CodeNonZeroExit        = "NON_ZERO_EXIT"
	CodeSpawnFailure       = "SPAWN_FAILURE"
	CodeCancelled          = "CANCELLED"
	CodeEmptyOutput        = "EMPTY_OUTPUT"
	CodeMalformedPayload   = "MALFORMED_PAYLOAD"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	CodeNoMatchingAdapter  = "NO_MATCHING_ADAPTER"
	CodeSuperseded         = "SUPERSEDED"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeNotFound           = "NOT_FOUND"
	CodePanic              = "PANIC"
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value, or nil.
func (e *DomainError) Detail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// Sentinels usable with errors.Is. Only Category and Code are compared.
var (
	ErrTimeoutSentinel            = &DomainError{Category: ErrCatProcess, Code: CodeTimeout}
	ErrNonZeroExitSentinel        = &DomainError{Category: ErrCatProcess, Code: CodeNonZeroExit}
	ErrSpawnFailureSentinel       = &DomainError{Category: ErrCatProcess, Code: CodeSpawnFailure}
	ErrCancelledSentinel          = &DomainError{Category: ErrCatProcess, Code: CodeCancelled}
	ErrEmptyOutputSentinel        = &DomainError{Category: ErrCatCodec, Code: CodeEmptyOutput}
	ErrMalformedPayloadSentinel   = &DomainError{Category: ErrCatCodec, Code: CodeMalformedPayload}
	ErrUnsupportedVersionSentinel = &DomainError{Category: ErrCatCodec, Code: CodeUnsupportedVersion}
	ErrNoMatchingAdapterSentinel  = &DomainError{Category: ErrCatDispatch, Code: CodeNoMatchingAdapter}
	ErrSupersededSentinel         = &DomainError{Category: ErrCatDispatch, Code: CodeSuperseded}
	ErrNotFoundSentinel           = &DomainError{Category: ErrCatNotFound, Code: CodeNotFound}
)

// ErrTimeout creates a process timeout error.
func ErrTimeout(adapter string, after time.Duration) *DomainError {
	return &DomainError{
		Category:  ErrCatProcess,
		Code:      CodeTimeout,
		Message:   fmt.Sprintf("adapter %s timed out after %v", adapter, after),
		Retryable: true,
	}
}

// ErrNonZeroExit creates an error for an adapter that exited with a
// non-zero code and no usable payload.
func ErrNonZeroExit(adapter string, code int) *DomainError {
	return (&DomainError{
		Category:  ErrCatProcess,
		Code:      CodeNonZeroExit,
		Message:   fmt.Sprintf("adapter %s exited with code %d", adapter, code),
		Retryable: true,
	}).WithDetail("exit_code", code)
}

// ErrSpawnFailure creates an error for an adapter that could not be started.
func ErrSpawnFailure(adapter string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatProcess,
		Code:      CodeSpawnFailure,
		Message:   fmt.Sprintf("adapter %s could not be started", adapter),
		Retryable: false,
		Cause:     cause,
	}
}

// ErrCancelled creates an error for an invocation stopped by its caller.
func ErrCancelled(adapter string) *DomainError {
	return &DomainError{
		Category:  ErrCatProcess,
		Code:      CodeCancelled,
		Message:   fmt.Sprintf("adapter %s invocation cancelled", adapter),
		Retryable: false,
	}
}

// ErrEmptyOutput creates an error for an adapter that printed nothing.
func ErrEmptyOutput() *DomainError {
	return &DomainError{
		Category: ErrCatCodec,
		Code:     CodeEmptyOutput,
		Message:  "adapter produced no output",
	}
}

// ErrMalformedPayload creates an error carrying the raw adapter output.
func ErrMalformedPayload(reason string, raw []byte) *DomainError {
	return (&DomainError{
		Category: ErrCatCodec,
		Code:     CodeMalformedPayload,
		Message:  reason,
	}).WithDetail("raw", string(raw))
}

// ErrUnsupportedVersion creates an error for a payload newer than the codec.
func ErrUnsupportedVersion(version, supported int) *DomainError {
	return (&DomainError{
		Category: ErrCatCodec,
		Code:     CodeUnsupportedVersion,
		Message:  fmt.Sprintf("protocol version %d is newer than supported version %d", version, supported),
	}).WithDetail("version", version).WithDetail("supported", supported)
}

// ErrNoMatchingAdapter reports a path no adapter is configured for.
func ErrNoMatchingAdapter(path string) *DomainError {
	return &DomainError{
		Category: ErrCatDispatch,
		Code:     CodeNoMatchingAdapter,
		Message:  fmt.Sprintf("no adapter matches %s", path),
	}
}

// ErrSuperseded reports a result dropped because a newer invocation exists.
func ErrSuperseded(adapter, path string, generation uint64) *DomainError {
	return (&DomainError{
		Category: ErrCatDispatch,
		Code:     CodeSuperseded,
		Message:  fmt.Sprintf("result of %s for %s superseded", adapter, path),
	}).WithDetail("generation", generation)
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrInvalidTransition reports an illegal invocation state change.
func ErrInvalidTransition(from, to InvocationState) *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     CodeInvalidTransition,
		Message:  fmt.Sprintf("invalid invocation transition %s -> %s", from, to),
	}
}

// ErrPanic wraps a recovered panic value.
func ErrPanic(value interface{}) *DomainError {
	return &DomainError{
		Category: ErrCatInternal,
		Code:     CodePanic,
		Message:  fmt.Sprintf("recovered panic: %v", value),
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// GetCode extracts the error code, or "" for foreign errors.
func GetCode(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// FailureKind is the closed set of reasons an adapter invocation can fail,
// as shown to users in warnings and status output.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureTimeout            FailureKind = "timeout"
	FailureNonZeroExit        FailureKind = "non_zero_exit"
	FailureSpawn              FailureKind = "spawn_failure"
	FailureCancelled          FailureKind = "cancelled"
	FailureEmptyOutput        FailureKind = "empty_output"
	FailureMalformedPayload   FailureKind = "malformed_payload"
	FailureUnsupportedVersion FailureKind = "unsupported_version"
	FailureInternal           FailureKind = "internal"
)

// Classify maps an error onto a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	switch GetCode(err) {
	case CodeTimeout:
		return FailureTimeout
	case CodeNonZeroExit:
		return FailureNonZeroExit
	case CodeSpawnFailure:
		return FailureSpawn
	case CodeCancelled, CodeSuperseded:
		return FailureCancelled
	case CodeEmptyOutput:
		return FailureEmptyOutput
	case CodeMalformedPayload:
		return FailureMalformedPayload
	case CodeUnsupportedVersion:
		return FailureUnsupportedVersion
	}
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureInternal
}
