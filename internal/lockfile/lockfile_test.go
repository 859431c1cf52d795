package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	kerrors "github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	target := filepath.Join(t.TempDir(), "ns", "info")

	require.NoError(t, WriteAtomic(target, []byte("first")))
	require.NoError(t, WriteAtomic(target, []byte("second")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.FileExists(t, target+LockSuffix)
	assertNoTempFiles(t, filepath.Dir(target))
}

func TestUpdateSerializesReadModifyWrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "counter")
	const writers = 32

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := Update(target, func(current []byte, exists bool) ([]byte, error) {
				return append(current, []byte(fmt.Sprintf("line-%02d\n", i))...), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, writers, "every update must survive")
	assertNoTempFiles(t, filepath.Dir(target))
}

func TestUpdateReportsAbsentFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "fresh")

	var sawExists bool
	require.NoError(t, Update(target, func(current []byte, exists bool) ([]byte, error) {
		sawExists = exists
		assert.Empty(t, current)
		return []byte("x"), nil
	}))
	assert.False(t, sawExists)
}

func TestUpdateCallbackErrorLeavesTargetUntouched(t *testing.T) {
	target := filepath.Join(t.TempDir(), "keep")
	require.NoError(t, WriteAtomic(target, []byte("original")))

	boom := fmt.Errorf("boom")
	err := Update(target, func([]byte, bool) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	lock, err := Acquire(target)
	require.NoError(t, err, "lock must be released after a failed update")
	require.NoError(t, lock.Release())
}

func TestAcquireFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Acquire(filepath.Join(blocker, "child", "target"))
	assert.ErrorIs(t, err, kerrors.ErrLockAcquisition)

	err = WriteAtomic(filepath.Join(blocker, "child", "target"), []byte("x"))
	assert.ErrorIs(t, err, kerrors.ErrLockAcquisition)
}

func TestReleaseTwice(t *testing.T) {
	lock, err := Acquire(filepath.Join(t.TempDir(), "target"))
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
}

func TestTempNameUnique(t *testing.T) {
	dir := t.TempDir()
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				name := TempName(dir, "app.models")
				mu.Lock()
				assert.False(t, seen[name], "duplicate temp name %s", name)
				seen[name] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for name := range seen {
		base := filepath.Base(name)
		assert.True(t, strings.HasPrefix(base, fmt.Sprintf("app.models.%d.", os.Getpid())))
		assert.True(t, strings.HasSuffix(base, TempSuffix))
	}
}

func TestInstall(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.models.so")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	src := TempName(dir, filepath.Base(target))
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, Install(src, target))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.NoFileExists(t, src)
	assertNoTempFiles(t, dir)
}

func TestInstallMissingSource(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "app.models.so")

	err := Install(filepath.Join(dir, "missing.tmp"), target)
	assert.ErrorIs(t, err, kerrors.ErrAtomicWrite)
	assert.NoFileExists(t, target)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), TempSuffix), "leftover temp file %s", entry.Name())
	}
}
