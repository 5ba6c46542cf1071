package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"mvdan.cc/sh/v3/shell"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/build"
	"github.com/wippyai/wasm-rpc-stubgen/compose"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/merge"
	"github.com/wippyai/wasm-rpc-stubgen/pipeline"
)

// Builder builds an Application. Stages run in order: stubs of every
// dependency target, stub merges into the callers' WIT roots, the build
// steps of every component, then linking. The first failure stops the
// build.
type Builder struct {
	Fs afero.Fs
	// Config supplies the stub version, backend, inline mode and transport.
	// Source and target roots are set per component.
	Config stubgen.Config
	// Force skips every up-to-date check.
	Force bool
	// Offline forbids the toolchain from fetching dependencies.
	Offline bool
	// Bindgen and Compile override the stub toolchain templates.
	Bindgen string
	Compile string
	// Toolchain runs every external process; build.ExecRunner when nil.
	Toolchain build.Runner
	// Compose configures linking.
	Compose compose.Options
}

// Report lists what a build ran and what it found up to date, in order.
type Report struct {
	Ran      []string
	UpToDate []string
}

func (r *Report) add(task string, skipped bool) {
	if skipped {
		r.UpToDate = append(r.UpToDate, task)
	} else {
		r.Ran = append(r.Ran, task)
	}
}

// Build builds every component of app.
func (b *Builder) Build(ctx context.Context, app *Application) (*Report, error) {
	toolchain := b.Toolchain
	if toolchain == nil {
		toolchain = build.ExecRunner{}
	}
	rep := &Report{}
	log := Logger()

	for _, t := range app.Targets() {
		if err := b.stub(ctx, app, app.Components[t], toolchain, rep); err != nil {
			return rep, err
		}
	}
	for _, name := range app.Names() {
		c := app.Components[name]
		for _, d := range c.Dependencies {
			res, err := merge.Merge(b.Fs, merge.Options{
				StubWitRoot: app.StubWit(d),
				DestWitRoot: c.SourceWit,
				Overwrite:   true,
			})
			if err != nil {
				return rep, err
			}
			rep.add("add-stub-dependency "+d+" -> "+name, res.Writes() == 0)
		}
	}
	for _, name := range app.Names() {
		if err := b.component(ctx, app.Components[name], toolchain, rep); err != nil {
			return rep, err
		}
	}
	for _, name := range app.Names() {
		if err := b.link(ctx, app, app.Components[name], rep); err != nil {
			return rep, err
		}
	}

	log.Info("application built", zap.Int("ran", len(rep.Ran)), zap.Int("up_to_date", len(rep.UpToDate)))
	return rep, nil
}

func (b *Builder) check(sources, targets []string) (bool, error) {
	if b.Force {
		return false, nil
	}
	return upToDate(b.Fs, sources, targets)
}

func (b *Builder) stub(ctx context.Context, app *Application, c *Component, toolchain build.Runner, rep *Report) error {
	task := "stub " + c.Name
	binary := app.StubBinary(c.Name)
	wit := app.StubWit(c.Name)
	fresh, err := b.check([]string{c.SourceWit}, []string{binary, filepath.Join(wit, merge.StubWitFile)})
	if err != nil {
		return err
	}
	if !fresh {
		cfg := b.Config
		cfg.SourceWitRoot = c.SourceWit
		cfg.TargetRoot = filepath.Join(app.StubRoot(c.Name), "project")
		cfg.SealWorkspace = true
		if err := b.Fs.RemoveAll(wit); err != nil {
			return errors.IO(errors.PhaseApp, wit, err)
		}
		_, err := pipeline.Build(ctx, b.Fs, cfg, pipeline.BuildOptions{
			DestBinary:  binary,
			DestWitRoot: wit,
			Offline:     b.Offline,
			Bindgen:     b.Bindgen,
			Compile:     b.Compile,
			Runner:      toolchain,
		})
		if err != nil {
			return err
		}
	}
	rep.add(task, fresh)
	return nil
}

func (b *Builder) component(ctx context.Context, c *Component, toolchain build.Runner, rep *Report) error {
	vars := map[string]string{
		"COMPONENT":      c.Name,
		"PROFILE":        c.Profile,
		"OUT":            c.ComponentWasm,
		"SOURCE_WIT":     c.SourceWit,
		"COMPONENT_WASM": c.ComponentWasm,
	}
	for i, s := range c.Build {
		task := fmt.Sprintf("build %s[%d]", c.Name, i)
		fresh, err := b.check(joinAll(s.Dir, s.Sources), joinAll(s.Dir, s.Targets))
		if err != nil {
			return err
		}
		if !fresh {
			args, err := shell.Fields(s.Command, func(name string) string { return vars[name] })
			if err != nil || len(args) == 0 {
				return errors.New(errors.PhaseApp, errors.KindInvalidInput).
					Artifact(s.Command).
					Cause(err).
					Detail("invalid build command of %s", c.Name).
					Build()
			}
			cmd := build.Command{Args: args, Dir: s.Dir}
			if b.Offline {
				cmd.Env = build.OfflineEnv
			}
			if err := ctx.Err(); err != nil {
				return errors.Wrap(errors.PhaseApp, errors.KindToolchain, err, "build cancelled")
			}
			Logger().Debug("running build step", zap.String("component", c.Name), zap.Strings("args", args), zap.String("dir", s.Dir))
			if _, err := toolchain.Run(ctx, cmd); err != nil {
				return err
			}
		}
		rep.add(task, fresh)
	}
	if ok, _ := afero.Exists(b.Fs, c.ComponentWasm); !ok {
		return errors.New(errors.PhaseApp, errors.KindToolchain).
			Artifact(c.ComponentWasm).
			Detail("build of %s produced no component binary", c.Name).
			Build()
	}
	return nil
}

func (b *Builder) link(ctx context.Context, app *Application, c *Component, rep *Report) error {
	if len(c.Dependencies) == 0 {
		return nil
	}
	stubs := make([]string, len(c.Dependencies))
	for i, d := range c.Dependencies {
		stubs[i] = app.StubBinary(d)
	}
	fresh, err := b.check(append([]string{c.ComponentWasm}, stubs...), []string{c.LinkedWasm})
	if err != nil {
		return err
	}
	if !fresh {
		if _, err := compose.ComposeFiles(ctx, b.Fs, c.ComponentWasm, stubs, c.LinkedWasm, b.Compose); err != nil {
			return err
		}
	}
	rep.add("link "+c.Name, fresh)
	return nil
}

// Clean removes every output of app's components across all profiles and
// the application's TempDir. It returns the paths that existed.
func Clean(fsys afero.Fs, app *Application) ([]string, error) {
	var paths []string
	for _, name := range app.Names() {
		paths = append(paths, app.Components[name].CleanPaths...)
	}
	paths = append(paths, filepath.Join(app.Root, TempDir))

	var removed []string
	for _, p := range paths {
		ok, err := afero.Exists(fsys, p)
		if err != nil {
			return removed, errors.IO(errors.PhaseApp, p, err)
		}
		if !ok {
			continue
		}
		if err := fsys.RemoveAll(p); err != nil {
			return removed, errors.IO(errors.PhaseApp, p, err)
		}
		removed = append(removed, p)
		Logger().Debug("removed", zap.String("path", p))
	}
	Logger().Info("application cleaned", zap.Int("removed", len(removed)))
	return removed, nil
}
