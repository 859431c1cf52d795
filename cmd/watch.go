package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch [dir]",
	Aliases: []string{"w"},
	Short:   "Rebuild a KCL program whenever its sources change",
	Long: `Build the program rooted at dir, then watch its .k files and rebuild
after each batch of changes. Unchanged packages come from the cache, so a
rebuild only compiles what was edited.

Examples:
  kclvm watch                    # Watch the current directory
  kclvm watch ./app -e main.k    # Watch ./app with an explicit entry`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var watchVerbose bool

func init() {
	rootCmd.AddCommand(watchCmd)
	addBuildFlags(watchCmd)
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "list changed files before each rebuild")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := newSession(cfg, logger)
	if err != nil {
		return err
	}

	dir := programDir(args)
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	rebuild := func(ctx context.Context) {
		report, err := s.build(ctx, dir, buildEntries)
		if err != nil {
			fmt.Fprintln(errOut, errors.FormatError(err))
			return
		}
		printReport(out, report)
	}

	fileWatcher, err := watcher.NewFileWatcher(dir, cfg.Watch.Debounce, logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fileWatcher.Stop()

	fileWatcher.IgnoreDirs(cfg.Watch.Ignore...)
	fileWatcher.AddFilter(watcher.SourceFilter)
	fileWatcher.AddFilter(watcher.NoTempFilter)
	fileWatcher.AddFilter(watcher.IgnoreFilter(cfg.Watch.Ignore...))
	fileWatcher.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		if watchVerbose {
			fmt.Fprintln(out, "File changes detected:")
			for _, event := range events {
				fmt.Fprintf(out, "   %s: %s\n", event.Type, event.Path)
			}
		} else {
			fmt.Fprintf(out, "%d file(s) changed\n", len(events))
		}
		rebuild(ctx)
		return nil
	})

	if err := fileWatcher.AddRecursive("."); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rebuild(ctx)

	if err := fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	fmt.Fprintf(out, "Watching %s for changes... (Press Ctrl+C to stop)\n", fileWatcher.Root())

	<-ctx.Done()
	fmt.Fprintln(out, "Stopping file watcher...")
	return nil
}
