package config

import (
	"fmt"
	"strings"

	"github.com/Lexterl33t/KCLVM/internal/codec"
	"github.com/Lexterl33t/KCLVM/internal/logging"
	"github.com/Lexterl33t/KCLVM/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails checks every section and reports all problems.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{}

	validateBuildConfigDetails(&config.Build, result)
	validateBackendConfigDetails(&config.Backend, result)
	validateLinkerConfigDetails(config, result)

	if _, err := codec.ParseCompression(config.Cache.Compression); err != nil {
		result.addError("cache.compression", config.Cache.Compression, err.Error(), "use one of: none, lz4, zstd")
	}

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		result.addError("log.level", config.Log.Level, err.Error(), "use one of: debug, info, warn, error")
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		result.addError("log.format", config.Log.Format, "format must be text or json")
	}

	if config.Watch.Debounce < 0 {
		result.addError("watch.debounce", config.Watch.Debounce, "debounce cannot be negative")
	}

	return result
}

// validateConfig returns the first validation error, if any.
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if result.HasErrors() {
		return &result.Errors[0]
	}
	return nil
}

func validateBuildConfigDetails(config *BuildConfig, result *ValidationResult) {
	if config.Threads < 1 {
		result.addError("build.threads", config.Threads, "thread count must be at least 1")
	} else if config.Threads > 256 {
		result.addWarning("build.threads", config.Threads, "very large worker pool", "a value near the CPU count is usually fastest")
	}

	if config.Timeout <= 0 {
		result.addError("build.timeout", config.Timeout, "timeout must be positive", "for example 5m or 90s")
	}

	if err := validation.ValidateRelativePath(config.CacheDir); err != nil {
		result.addError("build.cache_dir", config.CacheDir, err.Error(),
			"use a path relative to the program root, such as .kclvm/cache")
	}

	if config.TmpDir != "" {
		if err := validation.ValidatePath(config.TmpDir); err != nil {
			result.addError("build.tmp_dir", config.TmpDir, err.Error())
		}
	}

	if config.MetricsFile != "" {
		if err := validation.ValidatePath(config.MetricsFile); err != nil {
			result.addError("build.metrics_file", config.MetricsFile, err.Error())
		}
	}
}

func validateBackendConfigDetails(config *BackendConfig, result *ValidationResult) {
	if config.Command == "" {
		if len(config.Args) > 0 {
			result.addWarning("backend.args", config.Args, "ignored without backend.command")
		}
		return
	}

	if err := validation.ValidateCommand(config.Command, nil); err != nil {
		result.addError("backend.command", config.Command, err.Error())
	}
	if err := validation.ValidateArgTemplate(config.Args); err != nil {
		result.addError("backend.args", config.Args, err.Error())
	}
	if err := validation.ValidateSuffix(config.LibSuffix); err != nil {
		result.addError("backend.lib_suffix", config.LibSuffix, err.Error())
	}
	if err := validation.ValidateSuffix(config.IRSuffix); err != nil {
		result.addError("backend.ir_suffix", config.IRSuffix, err.Error())
	}
	if config.LibSuffix == config.IRSuffix {
		result.addError("backend.ir_suffix", config.IRSuffix, "intermediate and library suffixes must differ")
	}
}

func validateLinkerConfigDetails(config *Config, result *ValidationResult) {
	switch config.Build.Linker {
	case "manifest":
		return
	case "command":
		if err := validation.ValidateCommand(config.Linker.Command, nil); err != nil {
			result.addError("linker.command", config.Linker.Command, err.Error(),
				"set linker.command when build.linker is command")
		}
		if err := validation.ValidateArgTemplate(config.Linker.Args); err != nil {
			result.addError("linker.args", config.Linker.Args, err.Error())
		}
	default:
		result.addError("build.linker", config.Build.Linker, "unknown linker strategy", "use manifest or command")
	}
}
