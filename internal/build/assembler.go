package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/logging"
)

// DefaultTimeout bounds one GenLibs call unless WithTimeout says otherwise.
const DefaultTimeout = 5 * time.Minute

// Assembler generates one library per package of a program.
type Assembler struct {
	threads   int
	timeout   time.Duration
	tmpDir    string
	cacheOpts cache.Options
	logger    logging.Logger
	metrics   *BuildMetrics
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithTimeout sets the deadline applied to each GenLibs call.
func WithTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Assembler) { a.logger = logger }
}

// WithMetrics shares a metrics tracker between assemblers.
func WithMetrics(m *BuildMetrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// WithTmpDir places intermediate files in dir instead of the cache
// namespace.
func WithTmpDir(dir string) Option {
	return func(a *Assembler) { a.tmpDir = dir }
}

// WithCacheOptions configures the package cache.
func WithCacheOptions(opts cache.Options) Option {
	return func(a *Assembler) { a.cacheOpts = opts }
}

// NewAssembler creates an assembler with a pool of threads workers.
func NewAssembler(threads int, opts ...Option) (*Assembler, error) {
	if threads < 1 {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidThreadCount,
			fmt.Sprintf("illegal thread count in multi-file compilation: %d", threads))
	}

	a := &Assembler{
		threads: threads,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	a.logger = a.logger.WithComponent("assembler")
	if a.cacheOpts.Logger == nil {
		a.cacheOpts.Logger = a.logger
	}
	if a.metrics == nil {
		a.metrics = NewBuildMetrics()
	}
	return a, nil
}

// DefaultAssembler uses one worker per CPU.
func DefaultAssembler(opts ...Option) *Assembler {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	a, err := NewAssembler(threads, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// ThreadCount returns the worker pool size.
func (a *Assembler) ThreadCount() int { return a.threads }

// Timeout returns the per-call deadline.
func (a *Assembler) Timeout() time.Duration { return a.timeout }

// Metrics returns the metrics tracker.
func (a *Assembler) Metrics() *BuildMetrics { return a.metrics }

// Store returns the cache store used for program root.
func (a *Assembler) Store(root string) *cache.Store {
	return cache.NewStore(root, a.cacheOpts)
}

// GenLibs compiles every package of program and returns the library paths:
// the main library at entryFile plus the backend suffix first, then one per
// other package in package path order. Packages whose cached library is
// still valid are not recompiled. Any failure, including the deadline,
// fails the whole call.
func (a *Assembler) GenLibs(
	ctx context.Context,
	program *Program,
	scope *Scope,
	entryFile string,
	backend Backend,
) (libs []string, err error) {
	done := a.metrics.StartGenLibs()
	defer done(&err)

	if err := program.Validate(scope); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	store := a.Store(program.Root)
	if err := store.EnsureDir(); err != nil {
		return nil, err
	}
	tmpDir := a.tmpDir
	if tmpDir == "" {
		tmpDir = store.Dir()
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeAtomicWrite, "create temp dir", err).WithFile(tmpDir)
	}

	mainLib := entryFile + backend.LibSuffix()
	start := time.Now()
	if err := compilePackage(ctx, backend, program, scope, tmpDir, program.Main, mainLib, a.logger); err != nil {
		a.metrics.RecordCompile(program.Main, time.Since(start), err)
		return nil, a.fail(ctx, err)
	}
	a.metrics.RecordCompile(program.Main, time.Since(start), nil)
	if err := ctx.Err(); err != nil {
		return nil, a.fail(ctx, err)
	}

	libs = []string{mainLib}
	var jobs []CompilationJob
	for _, pkg := range program.PackagePaths() {
		libPath := filepath.Join(store.Dir(), pkg+backend.LibSuffix())
		libs = append(libs, libPath)

		if cachedLibIsValid(store, pkg, libPath) {
			a.metrics.RecordCacheLookup(true)
			a.logger.Debug(ctx, "cache hit", "package", pkg)
			continue
		}
		a.metrics.RecordCacheLookup(false)
		jobs = append(jobs, CompilationJob{Pkg: pkg, LibPath: libPath})
	}

	if len(jobs) > 0 {
		wm := NewWorkerManager(a.threads, backend, store, program, scope, tmpDir, a.logger, a.metrics)
		if err := wm.Run(ctx, jobs); err != nil {
			if wm.Failures().HasErrors() {
				a.logger.Error(ctx, err, "package compilation failed", "summary", wm.Failures().Summary())
			}
			return nil, a.fail(ctx, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, a.fail(ctx, err)
	}

	a.logger.Info(ctx, "libraries generated",
		"root", program.Root,
		"packages", len(libs),
		"compiled", len(jobs)+1,
		"cached", len(libs)-len(jobs)-1)
	return libs, nil
}

// cachedLibIsValid reports a hit only when the cache record is current and
// names libPath, and the library file is still there.
func cachedLibIsValid(store *cache.Store, pkg, libPath string) bool {
	cached, ok := cache.Load[string](store, pkg)
	if !ok || cached != libPath {
		return false
	}
	info, err := os.Stat(libPath)
	return err == nil && info.Mode().IsRegular()
}

// fail maps deadline expiry to a timeout error and logs the failure.
func (a *Assembler) fail(ctx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = errors.NewTimeoutError(fmt.Sprintf("library generation exceeded %s", a.timeout), context.DeadlineExceeded)
	}
	a.logger.Error(ctx, err, "library generation failed")
	return err
}

// AssembleLib compiles a single package of program to libPath without
// consulting the cache.
func (a *Assembler) AssembleLib(
	ctx context.Context,
	program *Program,
	scope *Scope,
	pkg, libPath string,
	backend Backend,
) (string, error) {
	if _, ok := program.Pkgs[pkg]; !ok {
		return "", errors.NewValidationError(errors.ErrCodeInvalidProgram,
			fmt.Sprintf("package %q is not part of the program", pkg))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tmpDir := a.tmpDir
	if tmpDir == "" {
		tmpDir = filepath.Dir(libPath)
	}
	if err := compilePackage(ctx, backend, program, scope, tmpDir, pkg, libPath, a.logger); err != nil {
		return "", a.fail(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return "", a.fail(ctx, err)
	}
	return libPath, nil
}

// Build runs GenLibs and links the result with linker.
func (a *Assembler) Build(
	ctx context.Context,
	program *Program,
	scope *Scope,
	entryFile string,
	backend Backend,
	linker Linker,
) (*FinalArtifact, error) {
	libs, err := a.GenLibs(ctx, program, scope, entryFile, backend)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	artifact, err := linker.Link(ctx, libs, entryFile)
	if err != nil {
		a.logger.Error(ctx, err, "link failed", "entry", entryFile)
		return nil, err
	}
	a.logger.Info(ctx, "artifact linked", "path", artifact.Path, "inputs", len(artifact.Inputs))
	return artifact, nil
}
