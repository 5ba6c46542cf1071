package compose

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-rpc-stubgen/component"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
)

// maxNesting bounds component nesting during validation.
const maxNesting = 64

// Validate checks a composed component at every nesting depth: each
// instantiation supplies every import of the component it instantiates,
// each instance export alias names an export of its instance, and every
// embedded core module compiles. Core modules importing from the empty
// module name are compiled with that name rewritten.
func Validate(ctx context.Context, data []byte) error {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	modules := 0
	var walk func(data []byte, path string, depth int) error
	walk = func(data []byte, path string, depth int) error {
		if depth > maxNesting {
			return fmt.Errorf("%s: components nested deeper than %d", path, maxNesting)
		}
		comp, err := component.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := links(comp, path); err != nil {
			return err
		}
		for i, mod := range comp.CoreModules {
			mod, err := component.RewriteEmptyModuleNames(mod)
			if err != nil {
				return fmt.Errorf("%s/module[%d]: %w", path, i, err)
			}
			compiled, err := r.CompileModule(ctx, mod)
			if err != nil {
				return fmt.Errorf("%s/module[%d]: %w", path, i, err)
			}
			modules++
			if err := compiled.Close(ctx); err != nil {
				return err
			}
		}
		for i, nested := range comp.Components {
			if err := walk(nested, fmt.Sprintf("%s/component[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(data, "root", 0); err != nil {
		return errors.Wrap(errors.PhaseCompose, errors.KindInvalidData, err, "validate composed component")
	}
	Logger().Debug("validated composed component", zap.Int("core_modules", modules))
	return nil
}

// links checks the instantiations of comp and the instance export aliases
// that refer to them. Imported and aliased components are not inspected.
func links(comp *component.Component, path string) error {
	decoded := make(map[uint32]*component.Component)
	nested := func(idx uint32) (*component.Component, error) {
		if c, ok := decoded[idx]; ok {
			return c, nil
		}
		data, ok := comp.Nested(idx)
		if !ok {
			return nil, nil
		}
		c, err := component.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: component %d: %w", path, idx, err)
		}
		decoded[idx] = c
		return c, nil
	}

	for i, inst := range comp.Instances {
		if inst.Inline {
			continue
		}
		c, err := nested(inst.Component)
		if err != nil {
			return err
		}
		if c == nil {
			continue
		}
		supplied := make(map[string]byte, len(inst.Args))
		for _, a := range inst.Args {
			supplied[a.Name] = a.Sort
		}
		for _, imp := range c.Imports {
			sort, ok := supplied[imp.Name]
			if !ok {
				return fmt.Errorf("%s/instance[%d]: import %q of component %d is not supplied", path, i, imp.Name, inst.Component)
			}
			if sort != component.SortOf(imp.Desc.Kind) {
				return fmt.Errorf("%s/instance[%d]: import %q of component %d is supplied with the wrong sort", path, i, imp.Name, inst.Component)
			}
		}
	}

	for i, a := range comp.Aliases {
		if a.Target != component.AliasExport {
			continue
		}
		def, ok := comp.InstanceDef(a.Instance)
		if !ok {
			continue
		}
		found := false
		if def.Inline {
			for _, e := range def.Exports {
				found = found || (e.Name == a.Name && e.Sort == a.Sort)
			}
		} else {
			c, err := nested(def.Component)
			if err != nil {
				return err
			}
			if c == nil {
				continue
			}
			for _, e := range c.Exports {
				found = found || (e.Name == a.Name && e.Sort == a.Sort)
			}
		}
		if !found {
			return fmt.Errorf("%s/alias[%d]: instance %d has no export %q", path, i, a.Instance, a.Name)
		}
	}
	return nil
}
