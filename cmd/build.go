package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Lexterl33t/KCLVM/internal/errors"
)

var buildCmd = &cobra.Command{
	Use:     "build [dir]",
	Aliases: []string{"b"},
	Short:   "Build a KCL program into native libraries",
	Long: `Build the KCL program rooted at dir (default: the current directory).

Every package is compiled to a library in the cache namespace of the current
toolchain; packages whose sources are unchanged reuse their cached library.
The libraries are then linked into one artifact next to the entry file.

Examples:
  kclvm build                         # Build ./ using every *.k file as the entry
  kclvm build ./app --entry main.k    # Build with an explicit entry file
  kclvm build -j 8 --timeout 2m       # Eight workers, two minute deadline
  kclvm build --linker command        # Link with linker.command`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

var buildEntries []string

func init() {
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

// addBuildFlags registers the flags shared by build and watch.
func addBuildFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceVarP(&buildEntries, "entry", "e", nil, "entry files relative to dir (default: every *.k file in dir)")
	flags.IntP("threads", "j", 0, "number of parallel code generation workers (default: CPU count)")
	flags.Duration("timeout", 0, "deadline for code generation and linking")
	flags.String("linker", "", "link strategy (manifest, command)")
	flags.String("compression", "", "cached artifact compression (none, lz4, zstd)")
	flags.String("metrics-file", "", "write Prometheus metrics to this file after each build")

	cmd.PreRunE = bindBuildFlags
}

// bindBuildFlags binds the flags of the running command. Binding happens at
// run time because build and watch share the same viper keys.
func bindBuildFlags(cmd *cobra.Command, args []string) error {
	return bindFlags(cmd.Flags(), map[string]string{
		"build.threads":      "threads",
		"build.timeout":      "timeout",
		"build.linker":       "linker",
		"cache.compression":  "compression",
		"build.metrics_file": "metrics-file",
	})
}

func programDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := newSession(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := s.build(ctx, programDir(args), buildEntries)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errors.FormatError(err))
		if errors.IsTimeout(err) {
			fmt.Fprintln(cmd.ErrOrStderr(), "hint: raise build.timeout or use --timeout")
		}
		return err
	}

	printReport(cmd.OutOrStdout(), report)
	return nil
}
