package build

import (
	"fmt"
	"os"
	"sort"

	"github.com/Lexterl33t/KCLVM/internal/codec"
	"github.com/Lexterl33t/KCLVM/internal/errors"
	"github.com/Lexterl33t/KCLVM/internal/validation"
)

// MainPkg is the package path conventionally used for the entry package.
const MainPkg = "__main__"

// Module is one parsed source file.
type Module struct {
	Pkg      string
	Filename string
	Source   []byte
}

// Program is a resolved program: every package with its modules. Main names
// the entry package, which is also present in Pkgs.
type Program struct {
	Root string
	Main string
	Pkgs map[string][]*Module
}

// Scope carries resolver output the assembler needs: for every file, the
// import alias to package path mapping.
type Scope struct {
	ImportNames map[string]map[string]string
}

// Validate checks that the main package exists, every other package path is
// well formed and every import in scope resolves to a package in p.
func (p *Program) Validate(scope *Scope) error {
	if p == nil {
		return errors.NewValidationError(errors.ErrCodeInvalidProgram, "program is nil")
	}
	if p.Main == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidProgram, "program has no main package")
	}
	if _, ok := p.Pkgs[p.Main]; !ok {
		return errors.NewValidationError(errors.ErrCodeInvalidProgram,
			fmt.Sprintf("main package %q has no modules", p.Main)).WithContext("root", p.Root)
	}

	for _, pkg := range p.PackagePaths() {
		if err := validation.ValidatePackagePath(pkg); err != nil {
			return errors.NewValidationError(errors.ErrCodeInvalidProgram, err.Error()).WithPackage(pkg)
		}
	}

	if scope == nil {
		return nil
	}
	files := make([]string, 0, len(scope.ImportNames))
	for file := range scope.ImportNames {
		files = append(files, file)
	}
	sort.Strings(files)
	for _, file := range files {
		for alias, pkg := range scope.ImportNames[file] {
			if _, ok := p.Pkgs[pkg]; !ok {
				return errors.NewValidationError(errors.ErrCodeInvalidProgram,
					fmt.Sprintf("import %q (%s) is not part of the program", pkg, alias)).
					WithFile(file)
			}
		}
	}
	return nil
}

// PackagePaths returns every non-main package path, sorted.
func (p *Program) PackagePaths() []string {
	pkgs := make([]string, 0, len(p.Pkgs))
	for pkg := range p.Pkgs {
		if pkg != p.Main {
			pkgs = append(pkgs, pkg)
		}
	}
	sort.Strings(pkgs)
	return pkgs
}

// UnitModule is a module as stored in a compile unit.
type UnitModule struct {
	Filename string `cbor:"filename"`
	Source   []byte `cbor:"source"`
}

// CompileUnit is the intermediate handed to a Backend for one package.
type CompileUnit struct {
	Pkg     string                       `cbor:"pkg"`
	Root    string                       `cbor:"root"`
	Main    bool                         `cbor:"main"`
	Modules []UnitModule                 `cbor:"modules"`
	Imports map[string]map[string]string `cbor:"imports,omitempty"`
}

// Unit builds the compile unit of pkg, restricted to imports of its files.
func (p *Program) Unit(pkg string, scope *Scope) *CompileUnit {
	unit := &CompileUnit{
		Pkg:  pkg,
		Root: p.Root,
		Main: pkg == p.Main,
	}
	for _, m := range p.Pkgs[pkg] {
		unit.Modules = append(unit.Modules, UnitModule{Filename: m.Filename, Source: m.Source})
		if scope == nil {
			continue
		}
		if imports, ok := scope.ImportNames[m.Filename]; ok {
			if unit.Imports == nil {
				unit.Imports = make(map[string]map[string]string)
			}
			unit.Imports[m.Filename] = imports
		}
	}
	return unit
}

// WriteCompileUnit writes unit to path.
func WriteCompileUnit(path string, unit *CompileUnit) error {
	data, err := codec.Encode(unit, codec.CompressionNone)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "encode compile unit", err).
			WithPackage(unit.Pkg)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeAtomicWrite, "write compile unit", err).
			WithPackage(unit.Pkg).
			WithFile(path)
	}
	return nil
}

// ReadCompileUnit reads a compile unit written by WriteCompileUnit.
func ReadCompileUnit(path string) (*CompileUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var unit CompileUnit
	if err := codec.Decode(data, &unit); err != nil {
		return nil, err
	}
	return &unit, nil
}
