// Package errors provides structured error handling for the extractor
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeAuthentication represents a rejected or missing API session.
	// It is fatal for the whole run.
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeTransient represents request failures that exhausted retries
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeRequest represents non-retryable API rejections (4xx other than auth)
	ErrorTypeRequest ErrorType = "request"
	// ErrorTypeTransformation represents malformed records
	ErrorTypeTransformation ErrorType = "transformation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeState represents state store failures
	ErrorTypeState ErrorType = "state"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeUpload represents object storage upload errors
	ErrorTypeUpload ErrorType = "upload"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value previously attached with WithDetail.
func (e *Error) Detail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Authentication returns an authentication error.
func Authentication(message string, cause error) *Error {
	if cause == nil {
		return New(ErrorTypeAuthentication, message)
	}
	return Wrap(cause, ErrorTypeAuthentication, message)
}

// Transformation returns a transformation error naming the table and field.
func Transformation(table, field, message string) *Error {
	return Newf(ErrorTypeTransformation, "table %s: field %s: %s", table, field, message).
		WithDetail("table", table).
		WithDetail("field", field)
}

// Config returns a configuration error.
func Config(format string, args ...interface{}) *Error {
	return Newf(ErrorTypeConfig, format, args...)
}

// TypeOf returns the type of the outermost *Error in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Type, true
}

// IsType reports whether any *Error in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable returns true if the error is retryable at the request level
func IsRetryable(err error) bool {
	t, ok := TypeOf(err)
	return ok && t == ErrorTypeTransient
}

// IsFatalForRun reports whether err must stop every table, not just one.
func IsFatalForRun(err error) bool {
	return IsType(err, ErrorTypeAuthentication)
}

// Is and As re-export the standard library helpers so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 16
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
