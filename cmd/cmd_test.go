package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lexterl33t/KCLVM/internal/build"
	"github.com/Lexterl33t/KCLVM/internal/cache"
	"github.com/Lexterl33t/KCLVM/internal/config"
	"github.com/Lexterl33t/KCLVM/internal/logging"
	"github.com/Lexterl33t/KCLVM/internal/version"
)

// chdirTemp moves into a fresh directory for the duration of the test so
// that no .kclvm.yml from the working tree is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldDir) })
	return dir
}

func writeProgram(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"main.k":     "import app.util\nresult = util.double(2)\n",
		"app/util.k": "double = lambda x { x * 2 }\n",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buildEntries = nil
	cacheCleanStale = false
	initForce = false
	versionFormat = "text"
	versionShort = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildCommand(t *testing.T) {
	dir := chdirTemp(t)
	writeProgram(t, dir)

	out, err := execute(t, "build", ".", "-j", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Built 2 packages (2 compiled, 0 cached)")
	assert.FileExists(t, filepath.Join(dir, "main.k"+build.ArchiveLibSuffix))
	assert.FileExists(t, filepath.Join(dir, "main.k"+build.ManifestSuffix))

	out, err = execute(t, "build", ".", "-j", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Built 2 packages (1 compiled, 1 cached)")

	manifest, err := build.ReadManifest(filepath.Join(dir, "main.k"+build.ManifestSuffix))
	require.NoError(t, err)
	assert.Len(t, manifest.Libraries, 2)
}

func TestBuildCommandReportsFailure(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.k"), []byte("x = 1\n"), 0o644))

	_, err := execute(t, "build", ".", "--entry", "missing.k")
	assert.Error(t, err)
}

func TestCacheInfoAndClean(t *testing.T) {
	dir := chdirTemp(t)
	writeProgram(t, dir)

	_, err := execute(t, "build", ".")
	require.NoError(t, err)

	stale := filepath.Join(dir, config.DefaultCacheDir, "0.0.1-old")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	out, err := execute(t, "cache", "info", ".")
	require.NoError(t, err)
	assert.Contains(t, out, version.Identity())
	assert.Contains(t, out, "0.0.1-old")
	assert.Contains(t, out, "Current")
	assert.Contains(t, out, "Stale")
	assert.Contains(t, out, "(2 namespaces in")

	out, err = execute(t, "cache", "clean", ".", "--stale")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0.0.1-old")
	assert.NoDirExists(t, stale)
	assert.DirExists(t, filepath.Join(dir, config.DefaultCacheDir, version.Identity()))

	out, err = execute(t, "cache", "clean", ".")
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+version.Identity())

	out, err = execute(t, "cache", "info", ".")
	require.NoError(t, err)
	assert.Contains(t, out, "No cache namespaces")
}

func TestInitCommand(t *testing.T) {
	dir := chdirTemp(t)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, config.FileName)
	assert.FileExists(t, filepath.Join(dir, config.FileName))

	_, err = execute(t, "init")
	assert.Error(t, err)

	_, err = execute(t, "init", "--force")
	assert.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	chdirTemp(t)

	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.GetShortVersion()+"\n", out)

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"identity": "`+version.Identity()+`"`)

	_, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestNewSessionSelectsBackend(t *testing.T) {
	cfg := config.Default()
	s, err := newSession(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &build.ArchiveBackend{}, s.backend)
	assert.IsType(t, &build.ManifestLinker{}, s.linker)
	assert.Equal(t, cfg.Build.Threads, s.assembler.ThreadCount())

	cfg.Backend = config.BackendConfig{Command: "cp", LibSuffix: ".so", IRSuffix: ".ll"}
	cfg.Build.Linker = build.LinkerCommand
	cfg.Linker.Command = "cc"
	s, err = newSession(cfg, logging.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &build.CommandBackend{}, s.backend)
	assert.IsType(t, &build.CommandLinker{}, s.linker)

	cfg.Build.Threads = 0
	_, err = newSession(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	p := newPrinter()
	assert.Equal(t, "512 B", formatBytes(p, 512))
	assert.Equal(t, "1.5 KiB", formatBytes(p, 1536))
	assert.Equal(t, "2.0 MiB", formatBytes(p, 2*1024*1024))
}

func TestRenderNamespaces(t *testing.T) {
	var out bytes.Buffer
	renderNamespaces(&out, "/work/.kclvm/cache", []cache.Namespace{
		{Name: "0.1.0-abc", Entries: 1200, Files: 2401, Size: 4096, ModTime: time.Unix(0, 0), Current: true},
	})
	assert.Contains(t, out.String(), "1,200")
	assert.Contains(t, out.String(), "4.0 KiB")
	assert.Contains(t, out.String(), "(1 namespaces in /work/.kclvm/cache)")
}
