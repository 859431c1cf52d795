package build

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Lexterl33t/KCLVM/internal/errors"
)

// CleanPath removes the file at path. A missing path is not an error.
// Directories are left alone; cache namespaces are cleared by cache.Store.
func CleanPath(path string) error {
	if info, err := os.Lstat(path); err == nil && info.IsDir() {
		return errors.NewValidationError(errors.ErrCodeInvalidPath, "refusing to remove a directory").WithFile(path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError(errors.ErrCodeAtomicWrite, "remove path", err).WithFile(path)
	}
	return nil
}

// CleanPathForGenLibs removes path and every sibling named
// "<base of path>.<token><suffix>", the partitions a backend may emit next to its
// intermediate file. Calling it again is a no-op.
func CleanPathForGenLibs(path, suffix string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError(errors.ErrCodeAtomicWrite, "remove intermediate", err).WithFile(path)
	}

	pattern := filepath.Join(filepath.Dir(path), escapeGlob(filepath.Base(path))+".*"+escapeGlob(suffix))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInvalidPath, "bad cleanup pattern", err).WithFile(pattern)
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return errors.NewIOError(errors.ErrCodeAtomicWrite, "remove intermediate", err).WithFile(match)
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)

func escapeGlob(s string) string {
	if filepath.Separator == '\\' {
		// Backslash is the separator on Windows, not an escape.
		return strings.NewReplacer(`*`, `[*]`, `?`, `[?]`, `[`, `[[]`).Replace(s)
	}
	return globEscaper.Replace(s)
}
