package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/codec"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/lockfile"
)

func TestNewAssemblerThreadCount(t *testing.T) {
	for _, threads := range []int{0, -3} {
		_, err := NewAssembler(threads)
		assert.ErrorIs(t, err, errors.ErrInvalidThreadCount)
	}

	a, err := NewAssembler(5)
	require.NoError(t, err)
	assert.Equal(t, 5, a.ThreadCount())
	assert.Equal(t, DefaultTimeout, a.Timeout())

	assert.GreaterOrEqual(t, DefaultAssembler().ThreadCount(), 1)
}

func TestGenLibsCompleteness(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{}
	a := newTestAssembler(t, 2)

	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)

	store := cache.NewStore(f.root, testCacheOptions())
	assert.Equal(t, []string{
		f.entry + ".so",
		filepath.Join(store.Dir(), "app.models.so"),
		filepath.Join(store.Dir(), "app.util.so"),
	}, libs)
	for _, lib := range libs {
		assert.FileExists(t, lib)
	}
	assert.Equal(t, []string{MainPkg, "app.models", "app.util"}, backend.Compiled())

	// Intermediates, including backend partitions, are gone.
	assert.Empty(t, listSuffix(t, store.Dir(), ".ll"))

	// The main package is never cached.
	_, ok := cache.Load[string](store, MainPkg)
	assert.False(t, ok)
}

func TestGenLibsReusesCache(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{}
	a := newTestAssembler(t, 2)

	first, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)
	backend.Reset()

	second, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{MainPkg}, backend.Compiled())

	snapshot := a.Metrics().GetSnapshot()
	assert.Equal(t, int64(2), snapshot.CacheHits)
	assert.Equal(t, int64(2), snapshot.CacheMisses)
	assert.InDelta(t, 50.0, a.Metrics().GetCacheHitRate(), 0.001)
}

func TestGenLibsRecompilesChangedPackage(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{}
	a := newTestAssembler(t, 2)

	_, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)
	backend.Reset()

	writeSource(t, filepath.Join(f.root, "app", "util.k"), "double = lambda x { x + x }\n")

	_, err = a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)
	assert.Equal(t, []string{MainPkg, "app.util"}, backend.Compiled())
}

func TestGenLibsRecompilesMissingLibrary(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{}
	a := newTestAssembler(t, 2)

	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)
	backend.Reset()

	require.NoError(t, os.Remove(libs[1]))

	_, err = a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)
	assert.Equal(t, []string{MainPkg, "app.models"}, backend.Compiled())
	assert.FileExists(t, libs[1])
}

func TestGenLibsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{failPkg: "app.util"}
	a := newTestAssembler(t, 1)

	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.Error(t, err)
	assert.Nil(t, libs)
	assert.ErrorIs(t, err, errors.ErrCompilationFailure)
	assert.False(t, errors.IsTimeout(err))

	store := cache.NewStore(f.root, testCacheOptions())
	_, ok := cache.Load[string](store, "app.util")
	assert.False(t, ok)
	assert.Empty(t, listSuffix(t, store.Dir(), ".ll"))
}

func TestGenLibsMainFailureStopsEarly(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{failPkg: MainPkg}
	a := newTestAssembler(t, 2)

	_, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	assert.ErrorIs(t, err, errors.ErrCompilationFailure)
	assert.Equal(t, []string{MainPkg}, backend.Compiled())
}

func TestGenLibsTimeout(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{delay: 5 * time.Second}
	a := newTestAssembler(t, 2, WithTimeout(50*time.Millisecond))

	start := time.Now()
	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.Error(t, err)
	assert.Nil(t, libs)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.True(t, errors.IsRetryable(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGenLibsTimeoutWithoutPoolJobs(t *testing.T) {
	f := wideFixture(t, 0)
	backend := &fakeBackend{delay: 300 * time.Millisecond, stubborn: true}
	a := newTestAssembler(t, 2, WithTimeout(50*time.Millisecond))

	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	assert.Nil(t, libs)
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestGenLibsTimeoutWhenOthersCached(t *testing.T) {
	f := newFixture(t)
	a := newTestAssembler(t, 2)
	_, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, &fakeBackend{})
	require.NoError(t, err)

	slow := &fakeBackend{delay: 300 * time.Millisecond, stubborn: true}
	a = newTestAssembler(t, 2, WithTimeout(50*time.Millisecond))
	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, slow)
	assert.Nil(t, libs)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.Equal(t, []string{MainPkg}, slow.Compiled())
}

func TestAssembleLibTimeout(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{delay: 300 * time.Millisecond, stubborn: true}
	a := newTestAssembler(t, 1, WithTimeout(50*time.Millisecond))

	_, err := a.AssembleLib(context.Background(), f.program, f.scope, "app.util",
		filepath.Join(t.TempDir(), "app.util.so"), backend)
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestGenLibsLeavesNoTemporaryLibraries(t *testing.T) {
	f := newFixture(t)
	a := newTestAssembler(t, 2)

	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, &fakeBackend{})
	require.NoError(t, err)

	for _, lib := range libs {
		data, err := os.ReadFile(lib)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "lib:"), lib)
		assert.Empty(t, listSuffix(t, filepath.Dir(lib), lockfile.TempSuffix))
	}
}

func TestGenLibsParentCancellation(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{delay: 5 * time.Second}
	a := newTestAssembler(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := a.GenLibs(ctx, f.program, f.scope, f.entry, backend)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsTimeout(err))
}

func TestGenLibsBoundedConcurrency(t *testing.T) {
	f := wideFixture(t, 12)
	backend := &fakeBackend{delay: 10 * time.Millisecond}
	a := newTestAssembler(t, 3)

	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)
	assert.Len(t, libs, 13)
	assert.Len(t, backend.Compiled(), 13)
	assert.LessOrEqual(t, backend.peak.Load(), int32(3))
}

func TestGenLibsUsesTmpDir(t *testing.T) {
	f := newFixture(t)
	tmp := t.TempDir()
	backend := &fakeBackend{}
	a := newTestAssembler(t, 2, WithTmpDir(tmp))

	_, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend)
	require.NoError(t, err)

	for _, ir := range backend.irPaths {
		assert.Equal(t, tmp, filepath.Dir(ir))
	}
	assert.Empty(t, listSuffix(t, tmp, ".ll"))
}

func TestGenLibsRejectsInvalidProgram(t *testing.T) {
	f := newFixture(t)
	a := newTestAssembler(t, 1)

	noMain := *f.program
	noMain.Main = ""
	_, err := a.GenLibs(context.Background(), &noMain, f.scope, f.entry, &fakeBackend{})
	assert.ErrorIs(t, err, errors.ErrInvalidProgram)

	scope := &Scope{ImportNames: map[string]map[string]string{
		f.entry: {"missing": "app.missing"},
	}}
	_, err = a.GenLibs(context.Background(), f.program, scope, f.entry, &fakeBackend{})
	assert.ErrorIs(t, err, errors.ErrInvalidProgram)
}

func TestGenLibsWithArchiveBackend(t *testing.T) {
	f := newFixture(t)
	a := newTestAssembler(t, 2)

	libs, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, NewArchiveBackend(codec.CompressionZstd))
	require.NoError(t, err)
	require.Len(t, libs, 3)
	assert.Equal(t, f.entry+ArchiveLibSuffix, libs[0])

	unit, err := ReadArchive(libs[1])
	require.NoError(t, err)
	assert.Equal(t, "app.models", unit.Pkg)
	assert.Len(t, unit.Modules, 2)
	assert.False(t, unit.Main)

	mainUnit, err := ReadArchive(libs[0])
	require.NoError(t, err)
	assert.True(t, mainUnit.Main)
	assert.Equal(t, "app.models", mainUnit.Imports[f.entry]["models"])
}

func TestAssembleLib(t *testing.T) {
	f := newFixture(t)
	a := newTestAssembler(t, 1)
	out := filepath.Join(t.TempDir(), "util.so")

	lib, err := a.AssembleLib(context.Background(), f.program, f.scope, "app.util", out, &fakeBackend{})
	require.NoError(t, err)
	assert.Equal(t, out, lib)
	assert.FileExists(t, out)
	assert.Empty(t, listSuffix(t, filepath.Dir(out), ".ll"))

	_, err = a.AssembleLib(context.Background(), f.program, f.scope, "nope", out, &fakeBackend{})
	assert.ErrorIs(t, err, errors.ErrInvalidProgram)
}

func TestBuildLinksManifest(t *testing.T) {
	f := newFixture(t)
	a := newTestAssembler(t, 2)

	artifact, err := a.Build(context.Background(), f.program, f.scope, f.entry, &fakeBackend{}, NewManifestLinker())
	require.NoError(t, err)
	assert.Equal(t, f.entry+ManifestSuffix, artifact.Path)
	assert.Len(t, artifact.Inputs, 3)

	manifest, err := ReadManifest(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, f.entry, manifest.Entry)
	assert.Len(t, manifest.Libraries, 3)
}
