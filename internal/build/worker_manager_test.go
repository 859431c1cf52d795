package build

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/logging"
)

func newTestWorkerManager(t *testing.T, f *fixture, backend Backend, workers int) (*WorkerManager, []CompilationJob) {
	t.Helper()
	store := cache.NewStore(f.root, testCacheOptions())
	require.NoError(t, store.EnsureDir())

	var jobs []CompilationJob
	for _, pkg := range f.program.PackagePaths() {
		jobs = append(jobs, CompilationJob{Pkg: pkg, LibPath: filepath.Join(store.Dir(), pkg+backend.LibSuffix())})
	}
	wm := NewWorkerManager(workers, backend, store, f.program, f.scope, store.Dir(), logging.NewNop(), NewBuildMetrics())
	return wm, jobs
}

func TestWorkerManagerCompilesAndCaches(t *testing.T) {
	f := wideFixture(t, 5)
	backend := &fakeBackend{}
	wm, jobs := newTestWorkerManager(t, f, backend, 3)

	require.NoError(t, wm.Run(context.Background(), jobs))
	assert.Equal(t, f.program.PackagePaths(), backend.Compiled())
	assert.False(t, wm.Failures().HasErrors())

	store := cache.NewStore(f.root, testCacheOptions())
	for _, job := range jobs {
		lib, ok := cache.Load[string](store, job.Pkg)
		require.True(t, ok, job.Pkg)
		assert.Equal(t, job.LibPath, lib)
	}
}

func TestWorkerManagerCollectsFailures(t *testing.T) {
	f := wideFixture(t, 3)
	backend := &fakeBackend{failPkg: "pkg00"}
	wm, jobs := newTestWorkerManager(t, f, backend, 1)

	err := wm.Run(context.Background(), jobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCompilationFailure)

	failures := wm.Failures().GetErrors()
	require.Len(t, failures, 1)
	assert.Equal(t, "pkg00", failures[0].Package)
	assert.NotEmpty(t, failures[0].File)
	assert.Contains(t, wm.Failures().Summary(), "1 package(s) failed")
}

func TestWorkerManagerCancelledIsNotAFailure(t *testing.T) {
	f := wideFixture(t, 3)
	wm, jobs := newTestWorkerManager(t, f, &fakeBackend{}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, wm.Run(ctx, jobs), context.Canceled)
	assert.False(t, wm.Failures().HasErrors())
}
