//go:build property
// +build property

package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestErrorCollectorProperties validates error collection and ordering properties
func TestErrorCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Property: concurrent additions are never lost and come back sorted
	properties.Property("concurrent addition is lossless and ordered", prop.ForAll(
		func(goroutineCount int, errorsPerGoroutine int) bool {
			collector := NewErrorCollector()

			var wg sync.WaitGroup
			for g := 0; g < goroutineCount; g++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for e := 0; e < errorsPerGoroutine; e++ {
						collector.Add(PackageError{
							Package: fmt.Sprintf("pkg%03d.m%03d", id, e),
							Message: "compile failed",
						})
					}
				}(g)
			}
			wg.Wait()

			errs := collector.GetErrors()
			if len(errs) != goroutineCount*errorsPerGoroutine {
				return false
			}
			for i := 1; i < len(errs); i++ {
				if errs[i-1].Package > errs[i].Package {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// TestKCLErrorProperties validates sentinel matching through wrapping.
func TestKCLErrorProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: wrapping any number of times preserves errors.Is on Type+Code
	properties.Property("sentinel survives wrapping", prop.ForAll(
		func(depth int, message string) bool {
			var err error = NewTimeoutError(message, nil)
			for i := 0; i < depth; i++ {
				err = fmt.Errorf("layer %d: %w", i, err)
			}
			return IsTimeout(err) && IsRetryable(err) && !IsBuildError(err)
		},
		gen.IntRange(0, 10),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
