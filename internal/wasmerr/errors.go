// Package wasmerr provides the unified error envelope used across the
// Control Plane and Node Agent.
package wasmerr

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies one of the closed set of error kinds from the orchestrator
// error model.
type Code string

const (
	InvalidRequest         Code = "INVALID_REQUEST"
	InstanceNotFound       Code = "INSTANCE_NOT_FOUND"
	CapabilityNotFound     Code = "CAPABILITY_NOT_FOUND"
	PermissionDenied       Code = "PERMISSION_DENIED"
	ValidationError        Code = "VALIDATION_ERROR"
	ResourceExhausted      Code = "RESOURCE_EXHAUSTED"
	Timeout                Code = "TIMEOUT"
	WasmRuntimeError       Code = "WASM_RUNTIME_ERROR"
	StorageError           Code = "STORAGE_ERROR"
	CrashDetected          Code = "CRASH_DETECTED"
	RestartPolicyViolation Code = "RESTART_POLICY_VIOLATION"
	FailedPrecondition     Code = "FAILED_PRECONDITION"
)

// Error is the structured error envelope surfaced at every API boundary.
type Error struct {
	Code      Code                   `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Err       error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches a detail key/value pair, returning the same error for
// chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now()}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now(), Err: cause}
}

// NotFoundf builds an Error with the given code and a formatted message.
func NotFoundf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// As reports whether err (or something it wraps) is a *Error and returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the Code carried by err if it is a *Error, or StorageError
// as a conservative default for opaque failures.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return StorageError
}
