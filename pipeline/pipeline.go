// Package pipeline runs the generate and build commands. Each entry point
// threads one stubgen.Config through resolution, synthesis, code generation
// and, for Build, the toolchain.
package pipeline

import (
	"context"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/build"
	"github.com/wippyai/wasm-rpc-stubgen/codegen"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/resolve"
	"github.com/wippyai/wasm-rpc-stubgen/stub"
)

// Generate resolves cfg.SourceWitRoot, synthesizes the stub world and
// writes the stub project under cfg.TargetRoot.
func Generate(fsys afero.Fs, cfg stubgen.Config) (*codegen.Result, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := resolve.Resolve(fsys, cfg.SourceWitRoot, cfg.World)
	if err != nil {
		return nil, err
	}
	w, err := stub.Synthesize(src, cfg)
	if err != nil {
		return nil, err
	}
	return codegen.Generate(fsys, w, cfg)
}

// BuildOptions configures Build beyond the shared Config.
type BuildOptions struct {
	// DestBinary receives the compiled stub.
	DestBinary string
	// DestWitRoot receives the stub's WIT tree; empty skips it.
	DestWitRoot string
	// Offline forbids the toolchain from fetching dependencies.
	Offline bool
	// Bindgen and Compile override the toolchain command templates.
	Bindgen string
	Compile string
	// Runner executes the toolchain; build.ExecRunner when nil.
	Runner build.Runner
}

// Build generates the stub project and compiles it. With an empty
// cfg.TargetRoot the project goes to a temporary directory that is removed
// afterwards; otherwise it is kept at cfg.TargetRoot.
func Build(ctx context.Context, fsys afero.Fs, cfg stubgen.Config, opts BuildOptions) (*codegen.Result, error) {
	if opts.DestBinary == "" {
		return nil, errors.InvalidInput(errors.PhaseBuild, "destination binary path is required")
	}
	if cfg.TargetRoot == "" {
		tmp, err := afero.TempDir(fsys, "", "stubgen-build-")
		if err != nil {
			return nil, errors.IO(errors.PhaseBuild, "temporary project directory", err)
		}
		defer func() {
			if err := fsys.RemoveAll(tmp); err != nil {
				Logger().Warn("failed to remove temporary project", zap.String("dir", tmp), zap.Error(err))
			}
		}()
		cfg.TargetRoot = tmp
	}

	res, err := Generate(fsys, cfg)
	if err != nil {
		return nil, err
	}
	binary, err := build.Build(ctx, fsys, build.Options{
		Project: res.Root,
		Module:  res.Module,
		World:   res.World,
		Offline: opts.Offline,
		Bindgen: opts.Bindgen,
		Compile: opts.Compile,
		Runner:  opts.Runner,
	})
	if err != nil {
		return nil, err
	}
	if err := build.Install(fsys, res.Root, binary, opts.DestBinary, opts.DestWitRoot); err != nil {
		return nil, err
	}
	Logger().Info("installed stub",
		zap.String("world", res.World),
		zap.String("binary", opts.DestBinary),
		zap.String("wit", opts.DestWitRoot))
	return res, nil
}
