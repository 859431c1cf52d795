// Package loader discovers the packages of a KCL program on disk.
//
// It is not a parser. The loader reads import statements line by line to
// find which packages the entry files depend on, resolves each one below the
// program root and returns the Program and Scope the assembler consumes.
// Imports that do not resolve under the root (builtin modules such as math
// or regex) are reported as external and left to the backend.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Lexterl33t/KCLVM/internal/build"
	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/fingerprint"
	"github.com/Lexterl33t/KCLVM/internal/logging"
	"github.com/Lexterl33t/KCLVM/internal/validation"
)

var importPattern = regexp.MustCompile(`^\s*import\s+(\.*[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)(?:\s+as\s+([A-Za-z_][A-Za-z0-9_]*))?\s*(?:#.*)?$`)

// Import is one import statement.
type Import struct {
	Path  string
	Alias string
	Line  int
}

// Result is a loaded program.
type Result struct {
	Program *build.Program
	Scope   *build.Scope
	// Entries are the absolute entry file paths, in the order given.
	Entries []string
	// External lists imports that did not resolve below the root.
	External []string
}

// Loader resolves programs rooted at one directory.
type Loader struct {
	root    string
	workers int
	logger  logging.Logger
}

// New returns a loader for root. A nil logger discards output.
func New(root string, logger logging.Logger) (*Loader, error) {
	if err := validation.ValidatePath(root); err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPath, err.Error())
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInvalidPath, "resolving program root", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "program root", err).WithFile(abs)
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPath, "program root is not a directory").WithFile(abs)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return &Loader{root: abs, workers: workers, logger: logger.WithComponent("loader")}, nil
}

// Root returns the absolute program root.
func (l *Loader) Root() string {
	return l.root
}

// Load builds the program reachable from entries. Entries are paths relative
// to the root or absolute; with no entries every *.k file directly inside the
// root forms the main package.
func (l *Loader) Load(ctx context.Context, entries ...string) (*Result, error) {
	files, err := l.entryFiles(entries)
	if err != nil {
		return nil, err
	}

	program := &build.Program{
		Root: l.root,
		Main: build.MainPkg,
		Pkgs: make(map[string][]*build.Module),
	}
	scope := &build.Scope{ImportNames: make(map[string]map[string]string)}
	external := make(map[string]bool)

	mainModules, err := l.readModules(ctx, build.MainPkg, files)
	if err != nil {
		return nil, err
	}
	program.Pkgs[build.MainPkg] = mainModules

	queue := append([]*build.Module(nil), mainModules...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		module := queue[0]
		queue = queue[1:]

		for _, imp := range ParseImports(module.Source) {
			pkg := resolveRelative(module.Pkg, imp.Path)
			if err := validation.ValidatePackagePath(pkg); err != nil {
				return nil, errors.NewValidationError(errors.ErrCodeInvalidProgram,
					fmt.Sprintf("line %d: %v", imp.Line, err)).WithFile(module.Filename)
			}

			if _, seen := program.Pkgs[pkg]; !seen && !external[pkg] {
				sources, ok, err := l.packageSources(pkg)
				if err != nil {
					return nil, err
				}
				if !ok {
					l.logger.Debug(ctx, "Import not found under root, treating as external",
						"import", pkg, "file", module.Filename)
					external[pkg] = true
					continue
				}
				modules, err := l.readModules(ctx, pkg, sources)
				if err != nil {
					return nil, err
				}
				program.Pkgs[pkg] = modules
				queue = append(queue, modules...)
			}
			if external[pkg] {
				continue
			}

			names := scope.ImportNames[module.Filename]
			if names == nil {
				names = make(map[string]string)
				scope.ImportNames[module.Filename] = names
			}
			names[imp.Alias] = pkg
		}
	}

	result := &Result{
		Program:  program,
		Scope:    scope,
		Entries:  files,
		External: sortedKeys(external),
	}

	l.logger.Debug(ctx, "Loaded program",
		"root", l.root,
		"packages", len(program.Pkgs),
		"external", len(result.External))

	return result, nil
}

func (l *Loader) entryFiles(entries []string) ([]string, error) {
	if len(entries) == 0 {
		files, err := fingerprint.SourceFiles(l.root)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "listing entry files", err)
		}
		if len(files) == 0 {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidProgram,
				"no "+fingerprint.SourceSuffix+" files in program root").WithFile(l.root)
		}
		return files, nil
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		path := entry
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.root, path)
		}
		path = filepath.Clean(path)

		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.NewIOError(errors.ErrCodeFileNotFound, "entry file", err).WithFile(path)
		}
		if !info.Mode().IsRegular() {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidPath, "entry is not a regular file").WithFile(path)
		}
		files = append(files, path)
	}
	return files, nil
}

// packageSources lists the source files of pkg. ok is false when pkg does
// not exist below the root.
func (l *Loader) packageSources(pkg string) ([]string, bool, error) {
	real := cache.PkgRealPath(l.root, pkg)
	info, err := os.Stat(real)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewIOError(errors.ErrCodeFileNotFound, "package source", err).
			WithPackage(pkg).WithFile(real)
	}
	if !info.IsDir() {
		return []string{real}, true, nil
	}

	files, err := fingerprint.SourceFiles(real)
	if err != nil {
		return nil, false, errors.NewIOError(errors.ErrCodeFileNotFound, "listing package sources", err).WithPackage(pkg)
	}
	if len(files) == 0 {
		return nil, false, nil
	}
	return files, true, nil
}

// readModules reads files concurrently, keeping their order.
func (l *Loader) readModules(ctx context.Context, pkg string, files []string) ([]*build.Module, error) {
	modules := make([]*build.Module, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			source, err := os.ReadFile(file)
			if err != nil {
				return errors.NewIOError(errors.ErrCodeFileNotFound, "reading source", err).
					WithPackage(pkg).WithFile(file)
			}
			modules[i] = &build.Module{Pkg: pkg, Filename: file, Source: source}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return modules, nil
}

// ParseImports extracts import statements from source. The alias defaults to
// the last path segment.
func ParseImports(source []byte) []Import {
	var imports []Import

	scanner := bufio.NewScanner(bytes.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		m := importPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		alias := m[2]
		if alias == "" {
			alias = m[1][strings.LastIndex(m[1], ".")+1:]
		}
		imports = append(imports, Import{Path: m[1], Alias: alias, Line: line})
	}
	return imports
}

// resolveRelative turns a leading-dot import into an absolute package path.
// One dot is the importing package itself, each further dot goes up a level.
func resolveRelative(from, path string) string {
	if !strings.HasPrefix(path, ".") {
		return path
	}
	dots := len(path) - len(strings.TrimLeft(path, "."))
	rest := path[dots:]

	var base []string
	if from != build.MainPkg {
		base = strings.Split(from, ".")
	}
	up := dots - 1
	if up > len(base) {
		up = len(base)
	}
	base = base[:len(base)-up]
	return strings.Join(append(base, rest), ".")
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
