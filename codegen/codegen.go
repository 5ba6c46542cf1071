// Package codegen writes a stub project: the stub interface description,
// the WIT dependencies it needs, and the source of a component that
// implements the stub world by forwarding every call over golem:rpc.
package codegen

import (
	"embed"
	"path"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/resolve"
	"github.com/wippyai/wasm-rpc-stubgen/stub"
)

//go:embed templates/*.tmpl
var templates embed.FS

const (
	// WitDir is the WIT root of a generated project.
	WitDir = "wit"
	// DepsDir holds WIT dependencies under WitDir.
	DepsDir = "deps"
)

// Result describes a generated project.
type Result struct {
	// Root is the project directory.
	Root string
	// Module is the Go module path of the project.
	Module string
	// World is the stub world the project implements.
	World string
	// Files lists the written files relative to Root, sorted.
	Files []string
}

// backend produces the language-specific files of a project.
type backend interface {
	files(w *stub.World, cfg stubgen.Config) (map[string][]byte, error)
}

type tinygoBackend struct{}

func (tinygoBackend) files(w *stub.World, cfg stubgen.Config) (map[string][]byte, error) {
	module := ModulePath(w)
	out, err := newGoGen(w, module, cfg.StubVersion).files()
	if err != nil {
		return nil, err
	}
	if out["go.mod"], err = goMod(module, cfg.Transport); err != nil {
		return nil, err
	}
	if cfg.SealWorkspace {
		if out["go.work"], err = goWork(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func backendFor(b stubgen.Backend) (backend, error) {
	switch b {
	case stubgen.BackendTinyGo:
		return tinygoBackend{}, nil
	}
	return nil, errors.New(errors.PhaseGenerate, errors.KindInvalidInput).
		Artifact(b.String()).
		Detail("unknown backend").
		Build()
}

// ModulePath returns the Go module path of the stub project for w.
func ModulePath(w *stub.World) string {
	return w.Package.Name
}

// Generate writes the stub project for w under cfg.TargetRoot. Source WIT
// files are read from fsys, the filesystem the world was resolved from.
// The output is a pure function of w and cfg.
func Generate(fsys afero.Fs, w *stub.World, cfg stubgen.Config) (*Result, error) {
	cfg = cfg.WithDefaults()
	be, err := backendFor(cfg.Backend)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		StubWitFile: StubWit(w),
		path.Join(WitDir, DepsDir, TransportWitDir, "wasm-rpc.wit"): TransportWit(),
	}
	if !w.Inline {
		if err := vendorSources(fsys, w.Source, files); err != nil {
			return nil, err
		}
	}
	langFiles, err := be.files(w, cfg)
	if err != nil {
		return nil, err
	}
	for name, data := range langFiles {
		files[name] = data
	}

	root := cfg.TargetRoot
	if err := fsys.RemoveAll(path.Join(root, WitDir)); err != nil {
		return nil, errors.IO(errors.PhaseGenerate, path.Join(root, WitDir), err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		full := path.Join(root, name)
		if err := fsys.MkdirAll(path.Dir(full), 0o755); err != nil {
			return nil, errors.IO(errors.PhaseGenerate, path.Dir(full), err)
		}
		if err := afero.WriteFile(fsys, full, files[name], 0o644); err != nil {
			return nil, errors.IO(errors.PhaseGenerate, full, err)
		}
	}

	Logger().Info("generated stub project",
		zap.String("root", root),
		zap.String("world", w.WorldName),
		zap.Bool("inline", w.Inline),
		zap.Bool("sealed", cfg.SealWorkspace),
		zap.Int("files", len(names)))

	return &Result{Root: root, Module: ModulePath(w), World: w.WorldName, Files: names}, nil
}

// vendorSources copies every source package into wit/deps so the stub can
// use types from them.
func vendorSources(fsys afero.Fs, src *resolve.Source, files map[string][]byte) error {
	for _, pkg := range src.Packages {
		dir := path.Join(WitDir, DepsDir, stub.SourcePackageDirName(pkg.Name))
		for _, name := range pkg.Files {
			from := path.Join(pkg.Dir, name)
			data, err := afero.ReadFile(fsys, from)
			if err != nil {
				return errors.IO(errors.PhaseGenerate, from, err)
			}
			files[path.Join(dir, name)] = data
		}
	}
	return nil
}
