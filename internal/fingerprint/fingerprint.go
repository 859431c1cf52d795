// Package fingerprint computes deterministic content digests for package
// sources. Cache validity is decided by comparing these digests, so the
// result depends only on file bytes and their name order, never on
// timestamps or filesystem enumeration order.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// SourceSuffix is the file suffix of package source files.
const SourceSuffix = ".k"

// Size is the length in characters of every digest returned by this package.
const Size = 64

// Path fingerprints a single source file or a package directory. For a
// directory, every regular file matching *.k directly inside it is hashed
// in name order.
func Path(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	if !info.IsDir() {
		return Files([]string{path})
	}

	files, err := SourceFiles(path)
	if err != nil {
		return "", err
	}
	return Files(files)
}

// SourceFiles lists the package source files of dir, sorted by name.
func SourceFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+SourceSuffix))
	if err != nil {
		return nil, fmt.Errorf("listing sources in %s: %w", dir, err)
	}

	files := matches[:0]
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", match, err)
		}
		if info.Mode().IsRegular() {
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Files folds the contents of paths into one digest. The list is sorted
// (on a copy) first; callers may pass paths in any order.
func Files(paths []string) (string, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	hasher := blake3.New()
	for _, p := range sorted {
		if err := copyInto(hasher, p); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Bytes returns the digest of b.
func Bytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func copyInto(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for fingerprint: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	return nil
}
