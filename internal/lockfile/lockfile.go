// Package lockfile persists files atomically under an advisory lock.
//
// Writers take an exclusive lock on a sibling "<target>.lock" file, write
// the new content to a uniquely named temporary file in the target's
// directory, and rename it over the target. Readers never lock: they open
// the target directly and observe either the old or the new content.
// The lock is an OS-level file lock, so it serializes writers across
// processes as well as goroutines.
package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	kerrors "github.com/Lexterl33t/KCLVM/internal/errors"
)

// LockSuffix is appended to a target path to name its lock file.
const LockSuffix = ".lock"

// TempSuffix ends every temporary file name produced by TempName.
const TempSuffix = ".tmp"

// Lock is a held advisory lock. Release must be called exactly once.
type Lock struct {
	file *os.File
	path string
}

// Acquire blocks until the exclusive lock for target is held.
func Acquire(target string) (*Lock, error) {
	lockPath := target + LockSuffix
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, kerrors.NewLockError("creating lock directory", err).WithFile(lockPath)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, kerrors.NewLockError("opening lock file", err).WithFile(lockPath)
	}

	if err := lockFile(file); err != nil {
		_ = file.Close()
		return nil, kerrors.NewLockError("acquiring lock", err).WithFile(lockPath)
	}

	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and closes the lock file. The lock file itself is
// left in place; deleting it would let two writers lock different inodes.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return kerrors.NewLockError("releasing lock", unlockErr).WithFile(l.path)
	}
	return closeErr
}

// WriteAtomic replaces target with data under target's lock.
func WriteAtomic(target string, data []byte) error {
	return Update(target, func([]byte, bool) ([]byte, error) {
		return data, nil
	})
}

// UpdateFunc computes the new content of a file from its current content.
// exists is false when the file is absent.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Update performs a read-modify-write of target while holding its lock. The
// lock spans the read, fn and the rename, so concurrent updates from other
// goroutines or processes never lose each other's changes.
func Update(target string, fn UpdateFunc) (err error) {
	lock, err := Acquire(target)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	current, readErr := os.ReadFile(target)
	exists := readErr == nil
	if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
		return kerrors.NewIOError(kerrors.ErrCodeAtomicWrite, "reading current content", readErr).WithFile(target)
	}

	next, err := fn(current, exists)
	if err != nil {
		return err
	}

	return writeLocked(target, next)
}

// Install moves the finished file src onto target under target's lock.
// src must be in target's directory. On failure src is removed.
func Install(src, target string) (err error) {
	defer func() {
		if err != nil {
			_ = os.Remove(src)
		}
	}()

	lock, err := Acquire(target)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	if err := os.Rename(src, target); err != nil {
		return kerrors.NewIOError(kerrors.ErrCodeAtomicWrite, "installing file", err).WithFile(target)
	}
	return nil
}

// writeLocked writes data through a temporary file and renames it onto
// target. The caller must hold target's lock.
func writeLocked(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kerrors.NewIOError(kerrors.ErrCodeAtomicWrite, "creating directory", err).WithFile(dir)
	}

	tmpName := TempName(dir, filepath.Base(target))
	tmp, err := os.OpenFile(tmpName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return kerrors.NewIOError(kerrors.ErrCodeAtomicWrite, "creating temporary file", err).WithFile(tmpName)
	}

	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpName)
		}
	}()

	_, writeErr := tmp.Write(data)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		return kerrors.NewIOError(kerrors.ErrCodeAtomicWrite, "writing temporary file", writeErr).WithFile(tmpName)
	}
	if closeErr != nil {
		return kerrors.NewIOError(kerrors.ErrCodeAtomicWrite, "closing temporary file", closeErr).WithFile(tmpName)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return kerrors.NewIOError(kerrors.ErrCodeAtomicWrite, "renaming temporary file", err).WithFile(target)
	}
	renamed = true
	return nil
}

var lastStamp atomic.Int64

// uniqueStamp returns a nanosecond timestamp that is strictly increasing
// within this process, so goroutines sharing a pid never share a stamp.
func uniqueStamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastStamp.Load()
		if now <= last {
			now = last + 1
		}
		if lastStamp.CompareAndSwap(last, now) {
			return now
		}
	}
}

// TempName returns "<dir>/<base>.<pid>.<nanos>.tmp". The pid separates
// processes sharing dir; the stamp separates goroutines within a process.
func TempName(dir, base string) string {
	return TempStem(dir, base) + TempSuffix
}

// TempStem is TempName without the suffix, for callers that append their
// own extension.
func TempStem(dir, base string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.%d", base, os.Getpid(), uniqueStamp()))
}
