// Package errors provides the typed error taxonomy shared by the cache,
// assembler and linker, plus a collector for per-package build failures.
package errors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// PackageError records a failure attributed to one package.
type PackageError struct {
	Package   string
	File      string
	Message   string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (pe *PackageError) Error() string {
	if pe.File != "" {
		return fmt.Sprintf("%s (%s): %s", pe.Package, pe.File, pe.Message)
	}
	return fmt.Sprintf("%s: %s", pe.Package, pe.Message)
}

// Unwrap returns the underlying error.
func (pe *PackageError) Unwrap() error {
	return pe.Err
}

// ErrorCollector collects package errors from concurrent workers
type ErrorCollector struct {
	errors []PackageError
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]PackageError, 0),
	}
}

// Add adds a package error to the collector
func (ec *ErrorCollector) Add(err PackageError) {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	err.Timestamp = time.Now()
	ec.errors = append(ec.errors, err)
}

// GetErrors returns the collected errors ordered by package path
func (ec *ErrorCollector) GetErrors() []PackageError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]PackageError, len(ec.errors))
	copy(result, ec.errors)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Package < result[j].Package
	})
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = ec.errors[:0]
}

// Summary renders one line per collected error.
func (ec *ErrorCollector) Summary() string {
	errs := ec.GetErrors()
	if len(errs) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d package(s) failed:\n", len(errs))
	for _, err := range errs {
		b.WriteString("  - ")
		b.WriteString(err.Error())
		if err.Err != nil {
			b.WriteString(": ")
			b.WriteString(err.Err.Error())
		}
		b.WriteString("\n")
	}
	return b.String()
}
