// Package validation provides input validation for external commands,
// configured paths and package identifiers, preventing command injection and
// path traversal.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// Placeholders expanded in backend and linker argument templates.
const (
	PlaceholderIR     = "{ir}"
	PlaceholderLib    = "{lib}"
	PlaceholderOutput = "{out}"
	PlaceholderInputs = "{inputs}"
)

var packagePathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	if err := validateArgumentSyntax(arg); err != nil {
		return err
	}

	// Check for absolute paths (prefer relative paths for security)
	if filepath.IsAbs(arg) && !inSystemBin(arg) {
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}

	return nil
}

func inSystemBin(path string) bool {
	return strings.HasPrefix(path, "/usr/bin/") || strings.HasPrefix(path, "/bin/") ||
		strings.HasPrefix(path, "/usr/local/bin/")
}

// validateArgumentSyntax rejects shell metacharacters and path traversal.
func validateArgumentSyntax(arg string) error {
	// Check for shell metacharacters that could be used for command injection
	dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r", "\x00"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}

	// Check for path traversal attempts
	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name. A nil allowlist accepts any
// command that passes the argument checks. Absolute commands outside the
// system bin directories must name an existing executable file.
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if allowedCommands != nil && !allowedCommands[filepath.Base(command)] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	if !filepath.IsAbs(command) || inSystemBin(command) {
		if err := ValidateArgument(command); err != nil {
			return fmt.Errorf("invalid command '%s': %w", command, err)
		}
		return nil
	}

	if err := validateArgumentSyntax(filepath.ToSlash(command)); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}
	return validateExecutable(command)
}

func validateExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("command '%s' not found: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("command '%s' is not a regular file", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("command '%s' is not executable", path)
	}
	return nil
}

// ValidateArgTemplate validates configured arguments. Placeholders are
// checked as literals; the paths substituted at run time are produced
// internally and never pass through here.
func ValidateArgTemplate(args []string) error {
	for _, arg := range args {
		if err := ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	return nil
}

// ValidatePath validates a file path to prevent path traversal attacks
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path traversal detected: %s", path)
	}

	// Prevent access to sensitive system directories
	restrictedPaths := []string{
		"/etc/",
		"/proc/",
		"/sys/",
		"/dev/",
		"/boot/",
	}

	cleanPathLower := strings.ToLower(filepath.ToSlash(cleanPath))
	for _, restricted := range restrictedPaths {
		if strings.HasPrefix(cleanPathLower+"/", restricted) {
			return fmt.Errorf("access to restricted path denied: %s", path)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\x00"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %q", char)
		}
	}

	return nil
}

// ValidateRelativePath accepts only relative paths that stay below their
// base directory.
func ValidateRelativePath(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) || strings.HasPrefix(filepath.ToSlash(path), "/") {
		return fmt.Errorf("path must be relative: %s", path)
	}
	return nil
}

// ValidatePackagePath checks a dotted package identifier such as "app.models".
func ValidatePackagePath(pkgpath string) error {
	if !packagePathPattern.MatchString(pkgpath) {
		return fmt.Errorf("invalid package path: %q", pkgpath)
	}
	return nil
}

// ValidateSuffix checks a file suffix such as ".so" or ".ll".
func ValidateSuffix(suffix string) error {
	if len(suffix) < 2 || suffix[0] != '.' {
		return fmt.Errorf("suffix must start with '.' and be non-empty: %q", suffix)
	}
	if strings.ContainsAny(suffix, `/\*?[]`) || strings.Contains(suffix, "..") {
		return fmt.Errorf("suffix contains invalid characters: %q", suffix)
	}
	return nil
}

// SanitizeInput removes control characters from external output before it
// is embedded in errors or logs.
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var sanitized strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			sanitized.WriteRune(r)
		}
	}

	return sanitized.String()
}
