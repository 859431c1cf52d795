package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/lockfile"
)

// Namespace summarizes one "<version>-<checksum>" directory.
type Namespace struct {
	Name    string
	Path    string
	Entries int
	Files   int
	Size    int64
	ModTime time.Time
	Current bool
}

// Namespaces lists every namespace under the base directory, sorted by
// name. A missing base directory yields an empty list.
func (s *Store) Namespaces() ([]Namespace, error) {
	entries, err := os.ReadDir(s.base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "list cache namespaces", err).
			WithFile(s.base)
	}

	var namespaces []Namespace
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ns, err := s.inspect(entry.Name())
		if err != nil {
			return nil, err
		}
		namespaces = append(namespaces, ns)
	}

	sort.Slice(namespaces, func(i, j int) bool {
		return namespaces[i].Name < namespaces[j].Name
	})
	return namespaces, nil
}

func (s *Store) inspect(name string) (Namespace, error) {
	ns := Namespace{
		Name:    name,
		Path:    filepath.Join(s.base, name),
		Current: name == s.identity,
	}

	if data, err := os.ReadFile(filepath.Join(ns.Path, InfoFilename)); err == nil {
		ns.Entries = len(parseInfo(data))
	}

	err := filepath.WalkDir(ns.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isBookkeeping(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		ns.Files++
		ns.Size += info.Size()
		if info.ModTime().After(ns.ModTime) {
			ns.ModTime = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return ns, errors.NewIOError(errors.ErrCodeFileNotFound, "inspect cache namespace", err).
			WithFile(ns.Path)
	}
	return ns, nil
}

func isBookkeeping(name string) bool {
	return strings.HasSuffix(name, lockfile.LockSuffix) || strings.HasSuffix(name, lockfile.TempSuffix)
}

// Clear removes namespaces and returns the names removed. With staleOnly
// set the current namespace is kept.
func (s *Store) Clear(ctx context.Context, staleOnly bool) ([]string, error) {
	namespaces, err := s.Namespaces()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, ns := range namespaces {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if staleOnly && ns.Current {
			continue
		}
		if err := os.RemoveAll(ns.Path); err != nil {
			return removed, errors.NewIOError(errors.ErrCodeAtomicWrite, "remove cache namespace", err).
				WithFile(ns.Path)
		}
		s.logger.Info(ctx, "removed cache namespace", "namespace", ns.Name, "bytes", ns.Size)
		removed = append(removed, ns.Name)
	}
	return removed, nil
}
