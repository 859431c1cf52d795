package build

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/fingerprint"
	"github.com/Lexterl33t/KCLVM/internal/lockfile"
	"github.com/Lexterl33t/KCLVM/internal/validation"
)

// FinalArtifact is the output of a link.
type FinalArtifact struct {
	Path     string
	Inputs   []string
	Strategy string
	Size     int64
}

// Linker merges package libraries into one artifact next to the entry file.
type Linker interface {
	Link(ctx context.Context, libPaths []string, entry string) (*FinalArtifact, error)
	// Suffix is appended to the entry path to name the artifact.
	Suffix() string
}

// Linker strategy names accepted by NewLinker.
const (
	LinkerManifest = "manifest"
	LinkerCommand  = "command"
)

// ManifestSuffix names the manifest linker output.
const ManifestSuffix = ".manifest.yaml"

// PlatformLibSuffix returns the shared library suffix of the host.
func PlatformLibSuffix() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// NewLinker builds the linker named by strategy.
func NewLinker(strategy, command string, args []string) (Linker, error) {
	switch strategy {
	case "", LinkerManifest:
		return NewManifestLinker(), nil
	case LinkerCommand:
		return NewCommandLinker(command, args)
	default:
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, fmt.Sprintf("unknown linker strategy %q", strategy))
	}
}

// checkInputs requires every library to be a non-empty regular file.
func checkInputs(libPaths []string) error {
	if len(libPaths) == 0 {
		return errors.NewLinkError("no libraries to link", nil)
	}
	for _, path := range libPaths {
		info, err := os.Stat(path)
		if err != nil {
			return errors.NewLinkError("library is missing", err).WithFile(path)
		}
		if !info.Mode().IsRegular() {
			return errors.NewLinkError("library is not a regular file", nil).WithFile(path)
		}
		if info.Size() == 0 {
			return errors.NewLinkError("library is empty", nil).WithFile(path)
		}
	}
	return nil
}

// DefaultLinkerArgs is used when a command linker has no arguments.
var DefaultLinkerArgs = []string{"-shared", "-o", validation.PlaceholderOutput, validation.PlaceholderInputs}

// CommandLinker runs an external linker.
type CommandLinker struct {
	command string
	args    []string
	suffix  string
}

// NewCommandLinker creates a linker invoking command. In args "{out}" is the
// artifact path and a standalone "{inputs}" expands to every library.
func NewCommandLinker(command string, args []string) (*CommandLinker, error) {
	if len(args) == 0 {
		args = DefaultLinkerArgs
	}
	if err := validation.ValidateCommand(command, nil); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeCommandInjection, fmt.Sprintf("linker command: %v", err))
	}
	if err := validation.ValidateArgTemplate(args); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeCommandInjection, fmt.Sprintf("linker arguments: %v", err))
	}
	return &CommandLinker{
		command: command,
		args:    append([]string(nil), args...),
		suffix:  PlatformLibSuffix(),
	}, nil
}

// Suffix implements Linker.
func (l *CommandLinker) Suffix() string { return l.suffix }

// Link implements Linker.
func (l *CommandLinker) Link(ctx context.Context, libPaths []string, entry string) (*FinalArtifact, error) {
	if err := checkInputs(libPaths); err != nil {
		return nil, err
	}
	out := entry + l.suffix

	var args []string
	for _, arg := range l.args {
		if arg == validation.PlaceholderInputs {
			args = append(args, libPaths...)
			continue
		}
		args = append(args, strings.ReplaceAll(arg, validation.PlaceholderOutput, out))
	}

	var output bytes.Buffer
	if err := toolCommand(ctx, l.command, args, &output).Run(); err != nil {
		_ = os.Remove(out)
		if err := ctx.Err(); err != nil {
			return nil, linkInterrupted(err)
		}
		return nil, toolError(errors.NewLinkError(fmt.Sprintf("%s failed", l.command), err).WithFile(out), output.String())
	}

	info, err := os.Stat(out)
	if err != nil {
		return nil, errors.NewLinkError("linker produced no output", err).WithFile(out)
	}
	return &FinalArtifact{
		Path:     out,
		Inputs:   append([]string(nil), libPaths...),
		Strategy: LinkerCommand,
		Size:     info.Size(),
	}, nil
}

// linkInterrupted reports a context error from a link. Only deadline expiry
// is a timeout; cancellation is returned as is.
func linkInterrupted(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError("link interrupted", err)
	}
	return err
}

// Manifest is the document written by ManifestLinker.
type Manifest struct {
	Entry     string          `yaml:"entry"`
	Libraries []ManifestEntry `yaml:"libraries"`
}

// ManifestEntry describes one linked library.
type ManifestEntry struct {
	Path        string `yaml:"path"`
	Fingerprint string `yaml:"fingerprint"`
	Size        int64  `yaml:"size"`
}

// ManifestLinker records the libraries and their fingerprints in a YAML
// manifest instead of producing a merged binary.
type ManifestLinker struct{}

// NewManifestLinker creates a manifest linker.
func NewManifestLinker() *ManifestLinker { return &ManifestLinker{} }

// Suffix implements Linker.
func (l *ManifestLinker) Suffix() string { return ManifestSuffix }

// Link implements Linker.
func (l *ManifestLinker) Link(ctx context.Context, libPaths []string, entry string) (*FinalArtifact, error) {
	if err := checkInputs(libPaths); err != nil {
		return nil, err
	}

	manifest := Manifest{Entry: entry}
	for _, path := range libPaths {
		if err := ctx.Err(); err != nil {
			return nil, linkInterrupted(err)
		}
		digest, err := fingerprint.Path(path)
		if err != nil {
			return nil, errors.NewLinkError("fingerprint library", err).WithFile(path)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.NewLinkError("library is missing", err).WithFile(path)
		}
		manifest.Libraries = append(manifest.Libraries, ManifestEntry{
			Path:        path,
			Fingerprint: digest,
			Size:        info.Size(),
		})
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return nil, errors.NewLinkError("encode manifest", err)
	}
	out := entry + ManifestSuffix
	if err := lockfile.WriteAtomic(out, data); err != nil {
		return nil, err
	}

	return &FinalArtifact{
		Path:     out,
		Inputs:   append([]string(nil), libPaths...),
		Strategy: LinkerManifest,
		Size:     int64(len(data)),
	}, nil
}

// ReadManifest loads a manifest written by ManifestLinker.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
