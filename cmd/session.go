package cmd

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/Lexterl33t/KCLVM/internal/build"
	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/config"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/loader"
	"github.com/Lexterl33t/KCLVM/internal/logging"
)

// session holds everything needed to build one program repeatedly.
type session struct {
	cfg       *config.Config
	logger    logging.Logger
	backend   build.Backend
	linker    build.Linker
	assembler *build.Assembler
	handler   *errors.ErrorHandler
}

// buildReport summarizes one build.
type buildReport struct {
	Artifact *build.FinalArtifact
	Packages int
	Compiled int64
	Cached   int64
	External []string
	Duration time.Duration
}

func newSession(cfg *config.Config, logger logging.Logger) (*session, error) {
	var backend build.Backend
	if cfg.Backend.Command != "" {
		b, err := build.NewCommandBackend(cfg.Backend.Command, cfg.Backend.Args,
			cfg.Backend.LibSuffix, cfg.Backend.IRSuffix)
		if err != nil {
			return nil, err
		}
		backend = b
	} else {
		backend = build.NewArchiveBackend(cfg.Compression())
	}

	linker, err := build.NewLinker(cfg.Build.Linker, cfg.Linker.Command, cfg.Linker.Args)
	if err != nil {
		return nil, err
	}

	assembler, err := build.NewAssembler(cfg.Build.Threads,
		build.WithTimeout(cfg.Build.Timeout),
		build.WithLogger(logger),
		build.WithMetrics(build.NewBuildMetrics()),
		build.WithTmpDir(cfg.Build.TmpDir),
		build.WithCacheOptions(cache.Options{
			CacheDir:    cfg.Build.CacheDir,
			Compression: cfg.Compression(),
			Logger:      logger,
		}),
	)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		linker:    linker,
		assembler: assembler,
		handler:   errors.NewErrorHandler(logger),
	}, nil
}

// build loads the program under dir and builds it. The first entry names
// the main library.
func (s *session) build(ctx context.Context, dir string, entries []string) (*buildReport, error) {
	start := time.Now()
	before := s.assembler.Metrics().GetSnapshot()

	l, err := loader.New(dir, s.logger)
	if err != nil {
		return nil, err
	}
	result, err := l.Load(ctx, entries...)
	if err != nil {
		return nil, err
	}

	artifact, err := s.assembler.Build(ctx, result.Program, result.Scope, result.Entries[0], s.backend, s.linker)
	if err != nil {
		s.handler.Handle(ctx, err)
		return nil, err
	}

	if s.cfg.Build.MetricsFile != "" {
		path := s.cfg.Build.MetricsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.Root(), path)
		}
		if err := s.assembler.Metrics().WriteTextfile(path); err != nil {
			s.logger.Warn(ctx, err, "Failed to write metrics textfile", "path", path)
		}
	}

	after := s.assembler.Metrics().GetSnapshot()
	return &buildReport{
		Artifact: artifact,
		Packages: len(result.Program.Pkgs),
		Compiled: after.SuccessfulBuilds - before.SuccessfulBuilds,
		Cached:   after.CacheHits - before.CacheHits,
		External: result.External,
		Duration: time.Since(start),
	}, nil
}

// printReport writes a human readable build summary.
func printReport(w io.Writer, report *buildReport) {
	p := newPrinter()
	p.Fprintf(w, "Built %d packages (%d compiled, %d cached) in %v\n",
		report.Packages, report.Compiled, report.Cached, report.Duration.Round(time.Millisecond))
	p.Fprintf(w, "  artifact: %s (%d bytes, %s)\n",
		report.Artifact.Path, report.Artifact.Size, report.Artifact.Strategy)
	if len(report.External) > 0 {
		p.Fprintf(w, "  external imports: %v\n", report.External)
	}
}
