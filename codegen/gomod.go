package codegen

import (
	"strings"

	"golang.org/x/mod/modfile"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// GoVersion is the go directive written to generated modules.
const GoVersion = "1.24"

// transportRequirement returns the version of the transport module to
// require and the local replacement path, if any.
func transportRequirement(o stubgen.TransportOverride) (version, replace string) {
	version = DefaultTransportVersion
	if o.Version != "" {
		version = o.Version
		if !strings.HasPrefix(version, "v") {
			version = "v" + version
		}
	}
	return version, o.Path
}

// goMod renders the go.mod of a generated stub project.
func goMod(module string, o stubgen.TransportOverride) ([]byte, error) {
	f := &modfile.File{Syntax: &modfile.FileSyntax{}}
	version, replace := transportRequirement(o)
	steps := []func() error{
		func() error { return f.AddModuleStmt(module) },
		func() error { return f.AddGoStmt(GoVersion) },
		func() error { return f.AddRequire(TransportModule, version) },
	}
	if replace != "" {
		steps = append(steps, func() error { return f.AddReplace(TransportModule, "", replace, "") })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, errors.Wrap(errors.PhaseGenerate, errors.KindInvariant, err, "build go.mod")
		}
	}
	f.Cleanup()
	return modfile.Format(f.Syntax), nil
}

// goWork renders a go.work that makes the project its own workspace.
func goWork() ([]byte, error) {
	wf := &modfile.WorkFile{Syntax: &modfile.FileSyntax{}}
	if err := wf.AddGoStmt(GoVersion); err != nil {
		return nil, errors.Wrap(errors.PhaseGenerate, errors.KindInvariant, err, "build go.work")
	}
	if err := wf.AddUse(".", ""); err != nil {
		return nil, errors.Wrap(errors.PhaseGenerate, errors.KindInvariant, err, "build go.work")
	}
	wf.Cleanup()
	return modfile.Format(wf.Syntax), nil
}
