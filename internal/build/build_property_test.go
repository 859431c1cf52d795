//go:build property
// +build property

package build

import (
	"context"
	"os"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestGenLibsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 25

	properties := gopter.NewProperties(parameters)

	properties.Property("one library per package regardless of worker count", prop.ForAll(
		func(packages, threads int) bool {
			f := wideFixture(t, packages)
			a := newTestAssembler(t, threads)
			backend := &fakeBackend{}

			libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
			if err != nil || len(libs) != packages+1 {
				return false
			}
			for _, lib := range libs {
				if _, err := os.Stat(lib); err != nil {
					return false
				}
			}
			return len(listSuffix(t, a.Store(f.root).Dir(), backend.IRSuffix())) == 0
		},
		gen.IntRange(0, 12),
		gen.IntRange(1, 6),
	))

	properties.Property("a warm rebuild compiles only the main package", prop.ForAll(
		func(packages, threads int) bool {
			f := wideFixture(t, packages)
			a := newTestAssembler(t, threads)
			backend := &fakeBackend{}

			first, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
			if err != nil {
				return false
			}
			backend.Reset()

			second, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
			if err != nil || len(second) != len(first) {
				return false
			}
			for i := range first {
				if first[i] != second[i] {
					return false
				}
			}
			compiled := backend.Compiled()
			return len(compiled) == 1 && compiled[0] == MainPkg
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 4),
	))

	properties.Property("zero or negative thread counts are rejected", prop.ForAll(
		func(threads int) bool {
			_, err := NewAssembler(threads)
			return err != nil
		},
		gen.IntRange(-64, 0),
	))

	properties.TestingRun(t)
}
