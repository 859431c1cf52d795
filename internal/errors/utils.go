package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps err in a KCLError, keeping the package and file of an inner
// KCLError.
func Wrap(err error, errType ErrorType, code, message string) *KCLError {
	if err == nil {
		return nil
	}

	wrapped := &KCLError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}

	var inner *KCLError
	if errors.As(err, &inner) {
		wrapped.Package = inner.Package
		wrapped.FilePath = inner.FilePath
		wrapped.Retryable = inner.Retryable
	}
	return wrapped
}

// GetRootCause returns the innermost error of the chain.
func GetRootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

// HasErrorCode reports whether any KCLError in the chain carries code.
func HasErrorCode(err error, code string) bool {
	for err != nil {
		var te *KCLError
		if !errors.As(err, &te) {
			return false
		}
		if te.Code == code {
			return true
		}
		err = te.Cause
	}
	return false
}

// DiagnosticsOf returns the tool diagnostics attached to err, if any.
func DiagnosticsOf(err error) []Diagnostic {
	var te *KCLError
	for errors.As(err, &te) {
		if d, ok := te.Context["diagnostics"].([]Diagnostic); ok {
			return d
		}
		err = te.Cause
	}
	return nil
}

// FormatError renders err for terminal output, listing attached
// diagnostics below the message.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(err.Error())
	for _, d := range DiagnosticsOf(err) {
		fmt.Fprintf(&b, "\n  %s", d)
	}
	return b.String()
}
