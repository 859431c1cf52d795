// Package cmd provides the kclvm command-line interface.
//
// Configuration is read, in increasing order of precedence, from
// .kclvm.yml in the working directory (or the file named by --config or
// KCLVM_CONFIG_FILE), KCLVM_<SECTION>_<OPTION> environment variables and
// command-line flags.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Lexterl33t/KCLVM/internal/config"
	"github.com/Lexterl33t/KCLVM/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kclvm",
	Short: "Incremental, parallel library builds for KCL programs",
	Long: `kclvm compiles the packages of a KCL program into native libraries,
reusing cached libraries whose sources have not changed, and links them into
one artifact.

Quick Start:
  kclvm init                      Write a default .kclvm.yml
  kclvm build                     Build the program in the current directory
  kclvm watch                     Rebuild whenever a .k file changes
  kclvm cache info                Show cache namespaces
  kclvm cache clean --stale       Remove caches of other toolchain versions`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .kclvm.yml, can also use KCLVM_CONFIG_FILE env var)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("cache-dir", "", "cache directory relative to the program root")

	_ = bindFlags(flags, map[string]string{
		"log.level":       "log-level",
		"log.format":      "log-format",
		"build.cache_dir": "cache-dir",
	})
}

// bindFlags binds viper keys to the named flags of flags.
func bindFlags(flags *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag --%s", name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// initConfig selects the config file and enables KCLVM_ environment
// overrides. A missing config file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("KCLVM_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.FileName, ".yml"))
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads the configuration and a logger writing to stderr.
func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	lc := cfg.LoggerConfig()
	lc.Output = os.Stderr
	return cfg, logging.NewLogger(lc), nil
}
