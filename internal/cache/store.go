// Package cache persists compiled package artifacts keyed by source
// content.
//
// Every toolchain identity gets its own namespace directory:
//
//	<root>/<cache dir>/<version>-<checksum>/
//	    info            YAML map of "./rel/source/path" to fingerprint
//	    <pkgpath>       framed artifact for one package
//
// An artifact is valid only while the fingerprint recorded in info matches
// the current sources of its package. Writers serialize through advisory
// lock files; readers never lock and treat anything unreadable as a miss.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lexterl33t/KCLVM/internal/codec"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/fingerprint"
	"github.com/Lexterl33t/KCLVM/internal/lockfile"
	"github.com/Lexterl33t/KCLVM/internal/logging"
	"github.com/Lexterl33t/KCLVM/internal/version"
)

const (
	// DefaultCacheDir is the cache location relative to the session root.
	DefaultCacheDir = ".kclvm/cache"

	// InfoFilename is the name of the info record inside a namespace.
	InfoFilename = "info"
)

// Options configures a Store. Zero values select the defaults.
type Options struct {
	// CacheDir is joined to the root unless absolute.
	CacheDir string
	// Version and Checksum override the toolchain identity.
	Version  string
	Checksum string
	// Compression is applied to artifact payloads.
	Compression codec.Compression
	Logger      logging.Logger
}

// Store reads and writes artifacts for one session root and one toolchain
// identity.
type Store struct {
	root        string
	base        string
	identity    string
	compression codec.Compression
	logger      logging.Logger
}

// NewStore creates a store rooted at root. Nothing is created on disk until
// the first Save.
func NewStore(root string, opts Options) *Store {
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir
	}
	base := cacheDir
	if !filepath.IsAbs(base) && root != "" {
		base = filepath.Join(root, cacheDir)
	}

	identity := version.Identity()
	if opts.Version != "" || opts.Checksum != "" {
		v, c := opts.Version, opts.Checksum
		if v == "" {
			v = version.GetVersion()
		}
		if c == "" {
			c = version.GetChecksum()
		}
		identity = version.IdentityOf(v, c)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Store{
		root:        root,
		base:        base,
		identity:    identity,
		compression: opts.Compression,
		logger:      logger.WithComponent("cache"),
	}
}

// Root returns the session root.
func (s *Store) Root() string { return s.root }

// Identity returns the "<version>-<checksum>" namespace name.
func (s *Store) Identity() string { return s.identity }

// BaseDir returns the directory holding every namespace.
func (s *Store) BaseDir() string { return s.base }

// Dir returns the namespace directory of the current identity.
func (s *Store) Dir() string {
	return filepath.Join(s.base, s.identity)
}

// InfoPath returns the location of the info record.
func (s *Store) InfoPath() string {
	return filepath.Join(s.Dir(), InfoFilename)
}

// ArtifactPath returns where the artifact of pkgpath is stored.
func (s *Store) ArtifactPath(pkgpath string) string {
	return filepath.Join(s.Dir(), pkgpath)
}

// EnsureDir creates the namespace directory if needed.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeAtomicWrite, "create cache namespace", err).
			WithFile(s.Dir())
	}
	return nil
}

// PkgRealPath maps a dotted package path to its sources: "<root>/a/b.k" when
// that file exists, else the directory "<root>/a/b".
func PkgRealPath(root, pkgpath string) string {
	rel := filepath.Join(strings.Split(pkgpath, ".")...)
	file := filepath.Join(root, rel+fingerprint.SourceSuffix)
	if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() {
		return file
	}
	return filepath.Join(root, rel)
}

// infoKey renders a real path as the root-relative key used in info.
func (s *Store) infoKey(realPath string) string {
	rel, err := filepath.Rel(s.root, realPath)
	if err != nil {
		return filepath.ToSlash(realPath)
	}
	return "./" + filepath.ToSlash(rel)
}

// Load returns the artifact of pkgpath if it is present and its sources are
// unchanged. Every failure is reported as a miss.
func Load[T any](s *Store, pkgpath string) (T, bool) {
	var zero T
	if s == nil || s.root == "" || pkgpath == "" {
		return zero, false
	}

	ctx := context.Background()
	artifact := s.ArtifactPath(pkgpath)
	data, err := os.ReadFile(artifact)
	if err != nil {
		return zero, false
	}

	realPath := PkgRealPath(s.root, pkgpath)
	if _, err := os.Stat(realPath); err == nil {
		recorded, ok := s.ReadInfo()[s.infoKey(realPath)]
		if !ok {
			s.logger.Debug(ctx, "cache miss: no fingerprint recorded", "package", pkgpath)
			return zero, false
		}
		current, err := fingerprint.Path(realPath)
		if err != nil || current != recorded {
			s.logger.Debug(ctx, "cache miss: sources changed", "package", pkgpath)
			return zero, false
		}
	}

	var value T
	if err := codec.Decode(data, &value); err != nil {
		s.logger.Warn(ctx, err, "discarding unreadable artifact", "package", pkgpath)
		return zero, false
	}
	return value, true
}

// Save records the fingerprint of pkgpath's sources, when they exist, and
// atomically replaces its artifact with value.
func Save[T any](s *Store, pkgpath string, value T) error {
	if s == nil || s.root == "" || pkgpath == "" {
		return nil
	}
	if err := s.EnsureDir(); err != nil {
		return err
	}

	realPath := PkgRealPath(s.root, pkgpath)
	if _, err := os.Stat(realPath); err == nil {
		digest, err := fingerprint.Path(realPath)
		if err != nil {
			return errors.NewIOError(errors.ErrCodeFileNotFound, "fingerprint package sources", err).
				WithPackage(pkgpath).
				WithFile(realPath)
		}
		if err := s.recordFingerprint(s.infoKey(realPath), digest); err != nil {
			return err
		}
	}

	data, err := codec.Encode(value, s.compression)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "encode artifact", err).
			WithPackage(pkgpath)
	}
	if err := lockfile.WriteAtomic(s.ArtifactPath(pkgpath), data); err != nil {
		return err
	}

	s.logger.Debug(context.Background(), "artifact saved", "package", pkgpath, "bytes", len(data))
	return nil
}

// LoadPkgCache is Load against a store built from root and opts.
func LoadPkgCache[T any](root, pkgpath string, opts Options) (T, bool) {
	return Load[T](NewStore(root, opts), pkgpath)
}

// SavePkgCache is Save against a store built from root and opts.
func SavePkgCache[T any](root, pkgpath string, value T, opts Options) error {
	return Save(NewStore(root, opts), pkgpath, value)
}
