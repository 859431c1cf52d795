// Package config loads kclvm settings using Viper: a .kclvm.yml file,
// KCLVM_ prefixed environment variables and command-line flags, in
// increasing order of precedence. Missing values fall back to defaults and
// the result is validated before use.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/Lexterl33t/KCLVM/internal/codec"
	"github.com/Lexterl33t/KCLVM/internal/logging"
)

// FileName is the configuration file looked up in the working directory.
const FileName = ".kclvm.yml"

// EnvPrefix prefixes environment overrides, e.g. KCLVM_BUILD_THREADS.
const EnvPrefix = "KCLVM"

type Config struct {
	Build   BuildConfig   `mapstructure:"build" yaml:"build"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Linker  LinkerConfig  `mapstructure:"linker" yaml:"linker"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
}

type BuildConfig struct {
	Threads     int           `mapstructure:"threads" yaml:"threads"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheDir    string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	TmpDir      string        `mapstructure:"tmp_dir" yaml:"tmp_dir,omitempty"`
	Linker      string        `mapstructure:"linker" yaml:"linker"`
	MetricsFile string        `mapstructure:"metrics_file" yaml:"metrics_file,omitempty"`
}

// BackendConfig selects the code generator. An empty command selects the
// built-in archive backend.
type BackendConfig struct {
	Command   string   `mapstructure:"command" yaml:"command,omitempty"`
	Args      []string `mapstructure:"args" yaml:"args,omitempty"`
	LibSuffix string   `mapstructure:"lib_suffix" yaml:"lib_suffix,omitempty"`
	IRSuffix  string   `mapstructure:"ir_suffix" yaml:"ir_suffix,omitempty"`
}

type LinkerConfig struct {
	Command string   `mapstructure:"command" yaml:"command,omitempty"`
	Args    []string `mapstructure:"args" yaml:"args,omitempty"`
}

type CacheConfig struct {
	Compression string `mapstructure:"compression" yaml:"compression"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
}

// Defaults.
const (
	DefaultTimeout     = 5 * time.Minute
	DefaultCacheDir    = ".kclvm/cache"
	DefaultLinker      = "manifest"
	DefaultCompression = "zstd"
	DefaultDebounce    = 300 * time.Millisecond
)

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Viper leaves slices set through Set or env untouched by Unmarshal in
	// some cases.
	if v.IsSet("backend.args") && len(config.Backend.Args) == 0 {
		config.Backend.Args = v.GetStringSlice("backend.args")
	}
	if v.IsSet("linker.args") && len(config.Linker.Args) == 0 {
		config.Linker.Args = v.GetStringSlice("linker.args")
	}
	if v.IsSet("watch.ignore") && len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = v.GetStringSlice("watch.ignore")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(config *Config) {
	if config.Build.Threads == 0 {
		config.Build.Threads = runtime.NumCPU()
	}
	if config.Build.Timeout == 0 {
		config.Build.Timeout = DefaultTimeout
	}
	if config.Build.CacheDir == "" {
		config.Build.CacheDir = DefaultCacheDir
	}
	if config.Build.Linker == "" {
		config.Build.Linker = DefaultLinker
	}

	if config.Backend.Command != "" {
		if config.Backend.LibSuffix == "" {
			config.Backend.LibSuffix = ".so"
		}
		if config.Backend.IRSuffix == "" {
			config.Backend.IRSuffix = ".ll"
		}
	}

	if config.Cache.Compression == "" {
		config.Cache.Compression = DefaultCompression
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = DefaultDebounce
	}
	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = []string{".kclvm", ".git"}
	}
}

// Compression returns the configured artifact compression.
func (c *Config) Compression() codec.Compression {
	compression, err := codec.ParseCompression(c.Cache.Compression)
	if err != nil {
		return codec.CompressionNone
	}
	return compression
}

// LoggerConfig returns logger settings for c.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format
	return cfg
}
