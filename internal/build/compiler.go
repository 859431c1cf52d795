// Package build assembles native libraries for a resolved program: one
// library per package, compiled in parallel on a fixed worker pool, reused
// from the package cache when sources are unchanged, and finally linked into
// one artifact.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Lexterl33t/KCLVM/internal/codec"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/validation"
)

// Backend turns the intermediate file of one package into a library.
type Backend interface {
	// Compile reads irPath and writes the library to libPath. Implementations
	// must honor ctx cancellation.
	Compile(ctx context.Context, irPath, libPath string) error
	// LibSuffix is the library file suffix, for example ".so".
	LibSuffix() string
	// IRSuffix is the intermediate file suffix, for example ".ll".
	IRSuffix() string
}

// Default suffixes of the built-in archive backend.
const (
	ArchiveLibSuffix = ".klib"
	ArchiveIRSuffix  = ".kir"
)

// DefaultBackendArgs is used when a command backend has no arguments.
var DefaultBackendArgs = []string{validation.PlaceholderIR, "-o", validation.PlaceholderLib}

// CommandBackend runs an external code generator for every package.
type CommandBackend struct {
	command   string
	args      []string
	libSuffix string
	irSuffix  string
}

// NewCommandBackend creates a backend invoking command with args, where
// "{ir}" and "{lib}" are replaced by the intermediate and library paths.
func NewCommandBackend(command string, args []string, libSuffix, irSuffix string) (*CommandBackend, error) {
	if len(args) == 0 {
		args = DefaultBackendArgs
	}
	if err := validation.ValidateCommand(command, nil); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeCommandInjection, fmt.Sprintf("backend command: %v", err))
	}
	if err := validation.ValidateArgTemplate(args); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeCommandInjection, fmt.Sprintf("backend arguments: %v", err))
	}
	for _, suffix := range []string{libSuffix, irSuffix} {
		if err := validation.ValidateSuffix(suffix); err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
		}
	}

	return &CommandBackend{
		command:   command,
		args:      append([]string(nil), args...),
		libSuffix: libSuffix,
		irSuffix:  irSuffix,
	}, nil
}

// LibSuffix implements Backend.
func (b *CommandBackend) LibSuffix() string { return b.libSuffix }

// IRSuffix implements Backend.
func (b *CommandBackend) IRSuffix() string { return b.irSuffix }

// Compile implements Backend.
func (b *CommandBackend) Compile(ctx context.Context, irPath, libPath string) error {
	args := make([]string, len(b.args))
	for i, arg := range b.args {
		arg = strings.ReplaceAll(arg, validation.PlaceholderIR, irPath)
		args[i] = strings.ReplaceAll(arg, validation.PlaceholderLib, libPath)
	}

	var output bytes.Buffer
	if err := toolCommand(ctx, b.command, args, &output).Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return toolError(errors.NewBuildError(errors.ErrCodeCompilationFailure,
			fmt.Sprintf("%s failed", b.command), err).WithFile(irPath), output.String())
	}

	if _, err := os.Stat(libPath); err != nil {
		return errors.NewBuildError(errors.ErrCodeCompilationFailure,
			fmt.Sprintf("%s produced no library", b.command), err).WithFile(libPath)
	}
	return nil
}

// toolWaitDelay bounds how long a cancelled tool may keep its output pipes
// open, through children that inherited them, before Wait gives up.
const toolWaitDelay = 500 * time.Millisecond

// toolCommand prepares an external tool invocation writing all output to
// output. Cancelling ctx kills the tool together with its children.
func toolCommand(ctx context.Context, name string, args []string, output *bytes.Buffer) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = toolWaitDelay
	setProcessGroup(cmd)
	return cmd
}

// toolError attaches the diagnostics found in output to err. Unparsed
// output is kept in the context as well.
func toolError(err *errors.KCLError, output string) *errors.KCLError {
	output = strings.TrimSpace(validation.SanitizeInput(output))
	if output == "" {
		return err
	}
	if diagnostics := errors.NewErrorParser().Parse(output); len(diagnostics) > 0 {
		err.WithContext("diagnostics", diagnostics)
	}
	return err.WithContext("output", output)
}

// ArchiveBackend stores the compile unit itself, compressed, as the
// library. It needs no external toolchain and is what the CLI uses when no
// backend command is configured.
type ArchiveBackend struct {
	Compression codec.Compression
}

// NewArchiveBackend creates an archive backend.
func NewArchiveBackend(c codec.Compression) *ArchiveBackend {
	return &ArchiveBackend{Compression: c}
}

// LibSuffix implements Backend.
func (b *ArchiveBackend) LibSuffix() string { return ArchiveLibSuffix }

// IRSuffix implements Backend.
func (b *ArchiveBackend) IRSuffix() string { return ArchiveIRSuffix }

// Compile implements Backend.
func (b *ArchiveBackend) Compile(ctx context.Context, irPath, libPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unit, err := ReadCompileUnit(irPath)
	if err != nil {
		return errors.NewBuildError(errors.ErrCodeCompilationFailure, "read compile unit", err).WithFile(irPath)
	}
	data, err := codec.Encode(unit, b.Compression)
	if err != nil {
		return errors.NewBuildError(errors.ErrCodeCompilationFailure, "encode archive", err).WithPackage(unit.Pkg)
	}
	if err := os.WriteFile(libPath, data, 0o644); err != nil {
		return errors.NewBuildError(errors.ErrCodeCompilationFailure, "write archive", err).WithFile(libPath)
	}
	return nil
}

// ReadArchive decodes a library written by ArchiveBackend.
func ReadArchive(libPath string) (*CompileUnit, error) {
	return ReadCompileUnit(libPath)
}
