// Package compose links a caller component with stub components into one
// binary. Caller imports are matched against stub exports by name, semver
// compatible version and signature; the stubs and the caller are embedded
// as nested components and instantiated against each other.
package compose

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-rpc-stubgen/component"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// emitter writes the composed component. Imports of the output are shared
// by name across inputs.
type emitter struct {
	b      *component.Builder
	shared map[string]component.InstantiateArg
}

// Compose emits the composed binary. Stubs come first, in order, followed by
// the caller; the caller's exports are re-exported.
func (p *Plan) Compose() ([]byte, error) {
	e := &emitter{b: component.NewBuilder(), shared: make(map[string]component.InstantiateArg)}

	instances := make([]uint32, len(p.stubs))
	for i, u := range p.stubs {
		if !u.used {
			continue
		}
		instances[i] = e.embed(u, nil)
	}

	callerInst := e.embed(p.caller, func(imp component.Import) (component.Alias, bool) {
		prov, ok := p.satisfied[imp.Name]
		if !ok {
			return component.Alias{}, false
		}
		return component.Alias{
			Sort:     prov.export.Sort,
			Target:   component.AliasExport,
			Instance: instances[prov.stub],
			Name:     prov.export.Name,
		}, true
	})

	var exports []component.Export
	for _, exp := range p.caller.comp.Exports {
		if exp.Sort == component.SortCore {
			return nil, errors.Unsupported(errors.PhaseCompose, []string{p.caller.name, exp.Name},
				"core export at component level")
		}
		idx := e.b.Aliases(nil, component.Alias{
			Sort:     exp.Sort,
			Target:   component.AliasExport,
			Instance: callerInst,
			Name:     exp.Name,
		})
		exports = append(exports, component.Export{Name: exp.Name, Sort: exp.Sort, Index: idx[0]})
	}
	if len(exports) > 0 {
		e.b.Exports(exports...)
	}

	out, err := e.b.Bytes()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompose, errors.KindInvariant, err, "encode composed component")
	}
	return out, nil
}

// embed copies the prologue of u into the output, embeds u and instantiates
// it. satisfy turns an import into an alias of another instance's export.
func (e *emitter) embed(u *unit, satisfy func(component.Import) (component.Alias, bool)) uint32 {
	comp := u.comp
	m := &component.IndexMap{}
	var args []component.InstantiateArg
	var types, imports, aliases int

	for _, sec := range comp.Sections[:comp.Prologue] {
		switch sec.ID {
		case component.SectionType:
			defs := comp.Types[types : types+sec.Count]
			types += sec.Count
			first := e.b.Count(component.SortType)
			for i := range defs {
				m.Types = append(m.Types, first+uint32(i))
			}
			e.b.Types(m, defs...)

		case component.SectionImport:
			for _, imp := range comp.Imports[imports : imports+sec.Count] {
				arg := e.provide(m, imp, satisfy)
				args = append(args, arg)
				switch arg.Sort {
				case component.SortType:
					m.Types = append(m.Types, arg.Index)
				case component.SortInstance:
					m.Instances = append(m.Instances, arg.Index)
				}
			}
			imports += sec.Count

		case component.SectionAlias:
			for _, a := range comp.Aliases[aliases : aliases+sec.Count] {
				idx := e.b.Aliases(m, a)[0]
				switch a.Sort {
				case component.SortType:
					m.Types = append(m.Types, idx)
				case component.SortInstance:
					m.Instances = append(m.Instances, idx)
				}
			}
			aliases += sec.Count
		}
	}

	idx := e.b.Component(u.data)
	inst := e.b.Instantiate(idx, args...)
	Logger().Debug("embedded component",
		zap.String("name", u.name),
		zap.Uint32("instance", inst),
		zap.Int("imports", len(args)))
	return inst
}

// provide makes the item an import of u refers to available in the output
// and returns it as an instantiation argument.
func (e *emitter) provide(m *component.IndexMap, imp component.Import, satisfy func(component.Import) (component.Alias, bool)) component.InstantiateArg {
	sort := component.SortOf(imp.Desc.Kind)
	if satisfy != nil {
		if a, ok := satisfy(imp); ok {
			idx := e.b.Aliases(nil, a)[0]
			return component.InstantiateArg{Name: imp.Name, Sort: sort, Index: idx}
		}
	}
	if arg, ok := e.shared[imp.Name]; ok {
		return arg
	}
	idx := e.b.Imports(m, component.Import{Name: imp.Name, Desc: imp.Desc})[0]
	arg := component.InstantiateArg{Name: imp.Name, Sort: sort, Index: idx}
	e.shared[imp.Name] = arg
	return arg
}

// Compose plans and emits the composition of caller with stubs.
func Compose(ctx context.Context, caller Input, stubs []Input, opts Options) ([]byte, *Plan, error) {
	plan, err := NewPlan(caller, stubs, opts)
	if err != nil {
		return nil, nil, err
	}
	out, err := plan.Compose()
	if err != nil {
		return nil, nil, err
	}
	if opts.Validate {
		if err := Validate(ctx, out); err != nil {
			return nil, nil, err
		}
	}
	Logger().Info("composed component",
		zap.String("caller", caller.Name),
		zap.Int("stubs", len(stubs)),
		zap.Int("matched", len(plan.Matches)),
		zap.Strings("pass_through", plan.PassThrough),
		zap.Int("bytes", len(out)))
	return out, plan, nil
}

// ComposeFiles reads the caller and stub binaries from fsys, composes them
// and writes the result to dest.
func ComposeFiles(ctx context.Context, fsys afero.Fs, callerPath string, stubPaths []string, dest string, opts Options) (*Plan, error) {
	read := func(p string) (Input, error) {
		data, err := afero.ReadFile(fsys, p)
		if err != nil {
			return Input{}, errors.IO(errors.PhaseCompose, p, err)
		}
		return Input{Name: p, Data: data}, nil
	}

	caller, err := read(callerPath)
	if err != nil {
		return nil, err
	}
	stubs := make([]Input, 0, len(stubPaths))
	for _, p := range stubPaths {
		in, err := read(p)
		if err != nil {
			return nil, err
		}
		stubs = append(stubs, in)
	}

	out, plan, err := Compose(ctx, caller, stubs, opts)
	if err != nil {
		return nil, err
	}
	if err := fsys.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, errors.IO(errors.PhaseCompose, dest, err)
	}
	if err := afero.WriteFile(fsys, dest, out, os.FileMode(0o644)); err != nil {
		return nil, errors.IO(errors.PhaseCompose, dest, err)
	}
	return plan, nil
}
