package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/config"
	"github.com/Lexterl33t/KCLVM/internal/logging"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the build cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info [dir]",
	Short: "List cache namespaces of a program",
	Long: `List the cache namespaces under the cache directory of the program rooted
at dir. Each toolchain version and checksum gets its own namespace; the one
used by this binary is marked current.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheInfo,
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean [dir]",
	Short: "Remove cache namespaces",
	Long: `Remove cache namespaces of the program rooted at dir. With --stale only
namespaces written by other toolchain versions are removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheClean,
}

var cacheCleanStale bool

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheCleanCmd)

	cacheCleanCmd.Flags().BoolVar(&cacheCleanStale, "stale", false, "keep the namespace of the current toolchain")
}

func openStore(cfg *config.Config, dir string, logger logging.Logger) (*cache.Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return cache.NewStore(root, cache.Options{
		CacheDir:    cfg.Build.CacheDir,
		Compression: cfg.Compression(),
		Logger:      logger,
	}), nil
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, programDir(args), logger)
	if err != nil {
		return err
	}

	namespaces, err := store.Namespaces()
	if err != nil {
		return err
	}
	renderNamespaces(cmd.OutOrStdout(), store.BaseDir(), namespaces)
	return nil
}

func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

func renderNamespaces(w io.Writer, base string, namespaces []cache.Namespace) {
	p := newPrinter()
	if len(namespaces) == 0 {
		p.Fprintf(w, "No cache namespaces in %s\n", base)
		return
	}

	titleCaser := cases.Title(language.English)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Namespace", "Status", "Packages", "Files", "Size", "Modified"})

	var total int64
	for _, ns := range namespaces {
		status := "stale"
		if ns.Current {
			status = "current"
		}
		t.AppendRow(table.Row{
			ns.Name,
			titleCaser.String(status),
			p.Sprintf("%d", ns.Entries),
			p.Sprintf("%d", ns.Files),
			formatBytes(p, ns.Size),
			ns.ModTime.Format(time.DateTime),
		})
		total += ns.Size
	}
	t.AppendFooter(table.Row{"", "", "", "", formatBytes(p, total), ""})
	t.Render()
	p.Fprintf(w, "(%d namespaces in %s)\n", len(namespaces), base)
}

func formatBytes(p *message.Printer, n int64) string {
	const unit = 1024
	if n < unit {
		return p.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return p.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, programDir(args), logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	removed, err := store.Clear(ctx, cacheCleanStale)
	if err != nil {
		return fmt.Errorf("failed to clean cache: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(removed) == 0 {
		fmt.Fprintln(out, "Nothing to remove")
		return nil
	}
	for _, name := range removed {
		fmt.Fprintf(out, "removed %s\n", name)
	}
	return nil
}
