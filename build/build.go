// Package build compiles a generated stub project into a component binary
// by running the external toolchain, and installs the result.
package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"mvdan.cc/sh/v3/shell"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// Default toolchain command templates. $STUB_WORLD, $OUT, $PROJECT and
// $MODULE are expanded before the command is split into arguments.
const (
	DefaultBindgen = "wit-bindgen-go generate --world $STUB_WORLD --out internal --package-root $MODULE/internal ./wit"
	DefaultCompile = "tinygo build -target=wasip2 --wit-package ./wit --wit-world $STUB_WORLD -o $OUT ."
)

// OfflineEnv forbids the Go toolchain from fetching modules.
var OfflineEnv = []string{"GOPROXY=off", "GOFLAGS=-mod=mod"}

// OutputName is the binary the compile step writes inside the project.
const OutputName = "stub.wasm"

// Options configures one build.
type Options struct {
	// Project is the generated project directory.
	Project string
	// Module is the project's Go module path.
	Module string
	// World is the stub world to compile.
	World string
	// Offline forbids fetching remote dependencies.
	Offline bool
	// Bindgen and Compile override the command templates.
	Bindgen string
	Compile string
	// Runner executes the commands; ExecRunner when nil.
	Runner Runner
}

func (o Options) withDefaults() Options {
	if o.Bindgen == "" {
		o.Bindgen = DefaultBindgen
	}
	if o.Compile == "" {
		o.Compile = DefaultCompile
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	return o
}

// Commands expands the command templates of o.
func (o Options) Commands() ([]Command, error) {
	o = o.withDefaults()
	vars := map[string]string{
		"STUB_WORLD": o.World,
		"OUT":        filepath.Join(o.Project, OutputName),
		"PROJECT":    o.Project,
		"MODULE":     o.Module,
	}
	var env []string
	if o.Offline {
		env = OfflineEnv
	}

	var cmds []Command
	for _, tmpl := range []string{o.Bindgen, o.Compile} {
		args, err := shell.Fields(tmpl, func(name string) string { return vars[name] })
		if err != nil {
			return nil, errors.New(errors.PhaseBuild, errors.KindInvalidInput).
				Artifact(tmpl).
				Cause(err).
				Detail("invalid toolchain command template").
				Build()
		}
		if len(args) == 0 {
			return nil, errors.New(errors.PhaseBuild, errors.KindInvalidInput).
				Artifact(tmpl).
				Detail("toolchain command template expands to nothing").
				Build()
		}
		cmds = append(cmds, Command{Args: args, Dir: o.Project, Env: env})
	}
	return cmds, nil
}

// Build runs the toolchain against the project and returns the path of the
// produced binary. Toolchain failures are returned as *errors.BuildError
// with the diagnostics exactly as the toolchain printed them.
func Build(ctx context.Context, fsys afero.Fs, opts Options) (string, error) {
	opts = opts.withDefaults()
	cmds, err := opts.Commands()
	if err != nil {
		return "", err
	}
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return "", errors.Wrap(errors.PhaseBuild, errors.KindToolchain, err, "build cancelled")
		}
		if _, err := opts.Runner.Run(ctx, cmd); err != nil {
			return "", err
		}
	}

	out := filepath.Join(opts.Project, OutputName)
	if ok, _ := afero.Exists(fsys, out); !ok {
		return "", errors.New(errors.PhaseBuild, errors.KindToolchain).
			Artifact(out).
			Detail("toolchain succeeded but produced no binary").
			Build()
	}
	Logger().Info("built stub", zap.String("world", opts.World), zap.String("binary", out), zap.Bool("offline", opts.Offline))
	return out, nil
}

// Install copies the binary to destBinary and the project's WIT tree to
// destWit. Either destination may be empty to skip it.
func Install(fsys afero.Fs, project, binary, destBinary, destWit string) error {
	if destBinary != "" {
		if err := CopyFile(fsys, binary, destBinary); err != nil {
			return err
		}
	}
	if destWit != "" {
		if err := CopyTree(fsys, filepath.Join(project, "wit"), destWit); err != nil {
			return err
		}
	}
	return nil
}

// CopyFile copies one file, creating the destination directory.
func CopyFile(fsys afero.Fs, from, to string) error {
	data, err := afero.ReadFile(fsys, from)
	if err != nil {
		return errors.IO(errors.PhaseBuild, from, err)
	}
	if err := fsys.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return errors.IO(errors.PhaseBuild, filepath.Dir(to), err)
	}
	if err := afero.WriteFile(fsys, to, data, 0o644); err != nil {
		return errors.IO(errors.PhaseBuild, to, err)
	}
	return nil
}

// CopyTree copies every regular file under from to the same relative path
// under to.
func CopyTree(fsys afero.Fs, from, to string) error {
	return afero.Walk(fsys, from, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.IO(errors.PhaseBuild, p, err)
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return errors.IO(errors.PhaseBuild, p, err)
		}
		return CopyFile(fsys, p, filepath.Join(to, rel))
	})
}
