package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeLock       ErrorType = "lock"
	ErrorTypeCache      ErrorType = "cache"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeLink       ErrorType = "link"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// KCLError is a structured error type with context.
type KCLError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Package   string
	FilePath  string
	Retryable bool
}

// Error implements the error interface.
func (e *KCLError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Package != "" {
		parts = append(parts, "package:"+e.Package)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *KCLError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison. Two KCLErrors match when their type and
// code match, so wrapped instances still satisfy errors.Is against the
// sentinels below.
func (e *KCLError) Is(target error) bool {
	var t *KCLError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *KCLError) WithContext(key string, value interface{}) *KCLError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPackage adds package context.
func (e *KCLError) WithPackage(pkgpath string) *KCLError {
	e.Package = pkgpath

	return e
}

// WithFile adds file location information.
func (e *KCLError) WithFile(filePath string) *KCLError {
	e.FilePath = filePath

	return e
}

// Common error codes.
const (
	ErrCodeInvalidThreadCount = "ERR_INVALID_THREAD_COUNT"
	ErrCodeCompilationFailure = "ERR_COMPILATION_FAILURE"
	ErrCodeTimeout            = "ERR_TIMEOUT"
	ErrCodeLinkFailed         = "ERR_LINK_FAILED"
	ErrCodeLockAcquisition    = "ERR_LOCK_ACQUISITION"
	ErrCodeAtomicWrite        = "ERR_ATOMIC_WRITE"
	ErrCodeInvalidProgram     = "ERR_INVALID_PROGRAM"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeInvalidPath        = "ERR_INVALID_PATH"
	ErrCodeCommandInjection   = "ERR_COMMAND_INJECTION"
	ErrCodeFileNotFound       = "ERR_FILE_NOT_FOUND"
	ErrCodeInternalError      = "ERR_INTERNAL"
)

// Sentinels for errors.Is. Only Type and Code take part in the comparison.
var (
	ErrInvalidThreadCount = &KCLError{Type: ErrorTypeConfig, Code: ErrCodeInvalidThreadCount}
	ErrCompilationFailure = &KCLError{Type: ErrorTypeBuild, Code: ErrCodeCompilationFailure}
	ErrTimeout            = &KCLError{Type: ErrorTypeTimeout, Code: ErrCodeTimeout}
	ErrLinkError          = &KCLError{Type: ErrorTypeLink, Code: ErrCodeLinkFailed}
	ErrLockAcquisition    = &KCLError{Type: ErrorTypeLock, Code: ErrCodeLockAcquisition}
	ErrAtomicWrite        = &KCLError{Type: ErrorTypeIO, Code: ErrCodeAtomicWrite}
	ErrInvalidProgram     = &KCLError{Type: ErrorTypeValidation, Code: ErrCodeInvalidProgram}
)

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *KCLError {
	return &KCLError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *KCLError {
	return &KCLError{
		Type:    ErrorTypeBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *KCLError {
	return &KCLError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewLockError creates a lock acquisition error.
func NewLockError(message string, cause error) *KCLError {
	return &KCLError{
		Type:    ErrorTypeLock,
		Code:    ErrCodeLockAcquisition,
		Message: message,
		Cause:   cause,
	}
}

// NewTimeoutError creates a timeout error. Timeouts are the only retryable
// failures: the caller may try again with a larger budget.
func NewTimeoutError(message string, cause error) *KCLError {
	return &KCLError{
		Type:      ErrorTypeTimeout,
		Code:      ErrCodeTimeout,
		Message:   message,
		Cause:     cause,
		Retryable: true,
	}
}

// NewLinkError creates a link error.
func NewLinkError(message string, cause error) *KCLError {
	return &KCLError{
		Type:    ErrorTypeLink,
		Code:    ErrCodeLinkFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *KCLError {
	return &KCLError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *KCLError {
	return &KCLError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error recovery and handling utilities

// IsRetryable checks if an error may succeed on a later attempt.
func IsRetryable(err error) bool {
	var te *KCLError
	if errors.As(err, &te) {
		return te.Retryable
	}

	return false
}

// IsTimeout checks if an error is a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	var te *KCLError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeBuild
	}

	return false
}

// TypeOf returns the category of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var te *KCLError
	if errors.As(err, &te) {
		return te.Type
	}

	return ErrorTypeInternal
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its category.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var te *KCLError
	if !errors.As(err, &te) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch te.Type {
	case ErrorTypeTimeout:
		h.logger.Warn(ctx, err, "Build timed out",
			"code", te.Code,
			"retryable", te.Retryable)
	case ErrorTypeBuild, ErrorTypeLink:
		h.logger.Error(ctx, err, "Build failed",
			"type", te.Type,
			"code", te.Code,
			"package", te.Package,
			"file", te.FilePath)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", te.Type,
			"code", te.Code)
	}
}
