package build

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/lockfile"
	"github.com/Lexterl33t/KCLVM/internal/logging"
)

// WorkerManager runs a fixed number of workers over a JobQueue. The first
// failing job cancels the others.
type WorkerManager struct {
	// workers is the pool size, fixed at construction
	workers int
	backend Backend
	store   *cache.Store
	program *Program
	scope   *Scope
	// tmpDir receives intermediate files
	tmpDir  string
	logger  logging.Logger
	metrics *BuildMetrics
	// failures collects every package that failed before cancellation
	failures *errors.ErrorCollector
}

// NewWorkerManager creates a worker manager for one GenLibs call.
func NewWorkerManager(
	workers int,
	backend Backend,
	store *cache.Store,
	program *Program,
	scope *Scope,
	tmpDir string,
	logger logging.Logger,
	metrics *BuildMetrics,
) *WorkerManager {
	return &WorkerManager{
		workers:  workers,
		backend:  backend,
		store:    store,
		program:  program,
		scope:    scope,
		tmpDir:   tmpDir,
		logger:   logger,
		metrics:  metrics,
		failures: errors.NewErrorCollector(),
	}
}

// Failures returns the packages that failed during Run.
func (wm *WorkerManager) Failures() *errors.ErrorCollector {
	return wm.failures
}

// Run feeds jobs into a queue and processes them until all are done, one
// fails, or ctx ends. It returns the first error.
func (wm *WorkerManager) Run(ctx context.Context, jobs []CompilationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	queue := NewJobQueue(wm.workers * 2)

	g.Go(func() error {
		defer queue.Close()
		for _, job := range jobs {
			if err := queue.Enqueue(ctx, job); err != nil {
				return err
			}
		}
		return nil
	})

	for i := 0; i < wm.workers; i++ {
		g.Go(func() error {
			return wm.worker(ctx, queue)
		})
	}

	return g.Wait()
}

func (wm *WorkerManager) worker(ctx context.Context, queue *JobQueue) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-queue.Jobs():
			if !ok {
				return nil
			}
			if err := wm.process(ctx, job); err != nil {
				return err
			}
		}
	}
}

// process compiles one package and records the result in the cache.
func (wm *WorkerManager) process(ctx context.Context, job CompilationJob) error {
	start := time.Now()
	if err := compilePackage(ctx, wm.backend, wm.program, wm.scope, wm.tmpDir, job.Pkg, job.LibPath, wm.logger); err != nil {
		wm.metrics.RecordCompile(job.Pkg, time.Since(start), err)
		wm.recordFailure(job, "compile failed", err)
		return err
	}

	if err := cache.Save(wm.store, job.Pkg, job.LibPath); err != nil {
		wm.metrics.RecordCompile(job.Pkg, time.Since(start), err)
		wm.recordFailure(job, "cache save failed", err)
		return err
	}

	wm.metrics.RecordCompile(job.Pkg, time.Since(start), nil)
	wm.logger.Debug(ctx, "package compiled", "package", job.Pkg, "lib", job.LibPath, "duration", time.Since(start))
	return nil
}

// recordFailure adds a failed job to the collector. Jobs stopped by
// cancellation are not failures of their own.
func (wm *WorkerManager) recordFailure(job CompilationJob, message string, err error) {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return
	}
	failure := errors.PackageError{Package: job.Pkg, Message: message, Err: err}
	var ke *errors.KCLError
	if stderrors.As(err, &ke) {
		failure.File = ke.FilePath
	}
	wm.failures.Add(failure)
}

// compilePackage writes the compile unit of pkg to a unique intermediate
// file, runs the backend into a temporary library and installs it at
// libPath under its lock. Intermediates are always removed.
func compilePackage(
	ctx context.Context,
	backend Backend,
	program *Program,
	scope *Scope,
	tmpDir, pkg, libPath string,
	logger logging.Logger,
) error {
	stem := lockfile.TempStem(tmpDir, pkg)
	irPath := stem + backend.IRSuffix()
	defer func() {
		if err := CleanPath(irPath); err != nil {
			logger.Warn(ctx, err, "failed to remove intermediate file", "package", pkg, "path", irPath)
		}
		if err := CleanPathForGenLibs(stem, backend.IRSuffix()); err != nil {
			logger.Warn(ctx, err, "failed to remove intermediate files", "package", pkg, "path", stem)
		}
	}()

	if err := WriteCompileUnit(irPath, program.Unit(pkg, scope)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(libPath), 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeAtomicWrite, "create library directory", err).WithFile(libPath)
	}
	tmpLib := lockfile.TempName(filepath.Dir(libPath), filepath.Base(libPath))
	defer func() { _ = os.Remove(tmpLib) }()

	if err := backend.Compile(ctx, irPath, tmpLib); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.IsBuildError(err) {
			return err
		}
		return errors.NewBuildError(errors.ErrCodeCompilationFailure, "backend failed", err).
			WithPackage(pkg).
			WithFile(irPath)
	}

	if _, err := os.Stat(tmpLib); err != nil {
		return errors.NewBuildError(errors.ErrCodeCompilationFailure, "backend produced no library", err).
			WithPackage(pkg).
			WithFile(libPath)
	}
	return lockfile.Install(tmpLib, libPath)
}
