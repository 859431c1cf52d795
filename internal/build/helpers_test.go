package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lexterl33t/KCLVM/internal/cache"
)

// fakeBackend writes "lib:<pkg>" libraries and records what it compiled.
type fakeBackend struct {
	mu       sync.Mutex
	compiled []string
	irPaths  []string

	failPkg string
	delay   time.Duration
	// stubborn backends sleep through cancellation
	stubborn bool
	inflight atomic.Int32
	peak     atomic.Int32
}

func (b *fakeBackend) LibSuffix() string { return ".so" }
func (b *fakeBackend) IRSuffix() string  { return ".ll" }

func (b *fakeBackend) Compile(ctx context.Context, irPath, libPath string) error {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	unit, err := ReadCompileUnit(irPath)
	if err != nil {
		return err
	}

	// A sibling partition, as real backends emit per-module outputs.
	partition := irPath[:len(irPath)-len(b.IRSuffix())] + ".part1" + b.IRSuffix()
	if err := os.WriteFile(partition, []byte("partial"), 0o644); err != nil {
		return err
	}

	if b.delay > 0 && b.stubborn {
		time.Sleep(b.delay)
	} else if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	b.compiled = append(b.compiled, unit.Pkg)
	b.irPaths = append(b.irPaths, irPath)
	b.mu.Unlock()

	if unit.Pkg == b.failPkg {
		return fmt.Errorf("backend rejected %s", unit.Pkg)
	}
	return os.WriteFile(libPath, []byte("lib:"+unit.Pkg), 0o644)
}

func (b *fakeBackend) Compiled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.compiled...)
	sort.Strings(out)
	return out
}

func (b *fakeBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compiled = nil
	b.irPaths = nil
}

func writeSource(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixture is a program with a main package importing a directory package
// and a file package.
type fixture struct {
	root    string
	entry   string
	program *Program
	scope   *Scope
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	root := t.TempDir()
	mainFile := filepath.Join(root, "main.k")
	personFile := filepath.Join(root, "app", "models", "person.k")
	teamFile := filepath.Join(root, "app", "models", "team.k")
	utilFile := filepath.Join(root, "app", "util.k")

	writeSource(t, mainFile, "import app.models\nimport app.util\np = models.Person {name = \"a\"}\n")
	writeSource(t, personFile, "schema Person:\n    name: str\n")
	writeSource(t, teamFile, "schema Team:\n    size: int\n")
	writeSource(t, utilFile, "double = lambda x { x * 2 }\n")

	read := func(path string) []byte {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}

	program := &Program{
		Root: root,
		Main: MainPkg,
		Pkgs: map[string][]*Module{
			MainPkg: {{Pkg: MainPkg, Filename: mainFile, Source: read(mainFile)}},
			"app.models": {
				{Pkg: "app.models", Filename: personFile, Source: read(personFile)},
				{Pkg: "app.models", Filename: teamFile, Source: read(teamFile)},
			},
			"app.util": {{Pkg: "app.util", Filename: utilFile, Source: read(utilFile)}},
		},
	}
	scope := &Scope{ImportNames: map[string]map[string]string{
		mainFile: {"models": "app.models", "util": "app.util"},
	}}

	return &fixture{
		root:    root,
		entry:   filepath.Join(root, "main.k"),
		program: program,
		scope:   scope,
	}
}

// wideFixture is a program with n independent file packages.
func wideFixture(t testing.TB, n int) *fixture {
	t.Helper()
	root := t.TempDir()
	mainFile := filepath.Join(root, "main.k")
	writeSource(t, mainFile, "a = 1\n")
	program := &Program{
		Root: root,
		Main: MainPkg,
		Pkgs: map[string][]*Module{
			MainPkg: {{Pkg: MainPkg, Filename: mainFile, Source: []byte("a = 1\n")}},
		},
	}
	for i := 0; i < n; i++ {
		pkg := fmt.Sprintf("pkg%02d", i)
		file := filepath.Join(root, pkg+".k")
		source := fmt.Sprintf("value = %d\n", i)
		writeSource(t, file, source)
		program.Pkgs[pkg] = []*Module{{Pkg: pkg, Filename: file, Source: []byte(source)}}
	}
	return &fixture{root: root, entry: mainFile, program: program, scope: &Scope{}}
}

func testCacheOptions() cache.Options {
	return cache.Options{Version: "0.1.0", Checksum: "test"}
}

func testCacheOptionsFor(i int) cache.Options {
	return cache.Options{Version: "0.1.0", Checksum: fmt.Sprintf("bench%d", i)}
}

func newTestAssembler(t testing.TB, threads int, opts ...Option) *Assembler {
	t.Helper()
	opts = append([]Option{WithCacheOptions(testCacheOptions())}, opts...)
	a, err := NewAssembler(threads, opts...)
	require.NoError(t, err)
	return a
}

func listSuffix(t testing.TB, dir, suffix string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
	require.NoError(t, err)
	return matches
}
