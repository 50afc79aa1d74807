// Package errors provides the structured error type shared by the scanner,
// build invoker, registry and orchestrator.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeScanFailed        = "ERR_SCAN_FAILED"
	ErrCodeBuildFailed       = "ERR_BUILD_FAILED"
	ErrCodeComponentNotFound = "ERR_COMPONENT_NOT_FOUND"
	ErrCodeMetadataWrite     = "ERR_METADATA_WRITE"
	ErrCodeMetadataRead      = "ERR_METADATA_READ"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeWatchFailed       = "ERR_WATCH_FAILED"
	ErrCodeCleanupFailed     = "ERR_CLEANUP_FAILED"
)

// ErrNotFound is matched by every not-found error produced by this module,
// so callers can use errors.Is(err, ErrNotFound).
var ErrNotFound = &PagebuildError{Type: ErrorTypeNotFound, Code: ErrCodeComponentNotFound}

// PagebuildError is a structured error type with context.
type PagebuildError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Component string
	FilePath  string
}

// Error implements the error interface.
func (e *PagebuildError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PagebuildError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *PagebuildError) Is(target error) bool {
	var t *PagebuildError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PagebuildError) WithContext(key string, value interface{}) *PagebuildError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile adds the source file the error refers to.
func (e *PagebuildError) WithFile(filePath string) *PagebuildError {
	e.FilePath = filePath

	return e
}

// WithComponent adds component context.
func (e *PagebuildError) WithComponent(component string) *PagebuildError {
	e.Component = component

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PagebuildError {
	return &PagebuildError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewBuildError creates a build error. Build errors only affect the file
// that produced them.
func NewBuildError(code, message string, cause error) *PagebuildError {
	return &PagebuildError{
		Type:    ErrorTypeBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PagebuildError {
	return &PagebuildError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PagebuildError {
	return &PagebuildError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates the strict-resolution failure for a component
// that has no registry entry.
func NewNotFoundError(component string) *PagebuildError {
	return &PagebuildError{
		Type:      ErrorTypeNotFound,
		Code:      ErrCodeComponentNotFound,
		Message:   "component not found in registry",
		Component: component,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PagebuildError {
	return &PagebuildError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	var pe *PagebuildError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeBuild
	}

	return false
}

// IsNotFound reports whether err is a registry not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrBuildFailed creates a build failure error for one source file.
func ErrBuildFailed(sourcePath string, cause error) *PagebuildError {
	return NewBuildError(
		ErrCodeBuildFailed,
		"bundle build failed",
		cause,
	).WithFile(sourcePath)
}

// ErrScanFailed creates the error returned when the scan root is unusable.
func ErrScanFailed(root string, cause error) *PagebuildError {
	return NewIOError(ErrCodeScanFailed, "scanning source directory failed", cause).WithFile(root)
}
