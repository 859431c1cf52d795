//go:build windows

package lockfile

import (
	"os"

	"golang.org/x/sys/windows"
)

// The whole file is locked by locking the maximum byte range.
const allBytes = ^uint32(0)

func lockFile(file *os.File) error {
	var overlapped windows.Overlapped
	return windows.LockFileEx(windows.Handle(file.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, allBytes, allBytes, &overlapped)
}

func unlockFile(file *os.File) error {
	var overlapped windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(file.Fd()), 0, allBytes, allBytes, &overlapped)
}
