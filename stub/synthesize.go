package stub

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	stubgen "github.com/wippyai/wasm-rpc-stubgen"
	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/resolve"
)

type synth struct {
	src *resolve.Source
	w   *World
}

// Synthesize derives the stub world of the selected source world.
func Synthesize(src *resolve.Source, cfg stubgen.Config) (*World, error) {
	world := src.SelectedWorld()
	root := src.RootPackage()

	w := &World{
		Source: src,
		Package: resolve.PackageName{
			Namespace: root.Name.Namespace,
			Name:      root.Name.Name + "-stub",
		},
		InterfaceName: "stub-" + world.Name,
		WorldName:     "wasm-rpc-stub-" + world.Name,
		SourceWorld:   world.Name,
		Inline:        cfg.InlineTypes,
		Forwarded:     make(map[resolve.TypeID]string),
	}
	s := &synth{src: src, w: w}

	for _, item := range world.Exports {
		if item.Kind != resolve.ItemInterface {
			continue
		}
		for _, id := range src.Interface(item.Interface).Types {
			if def := src.Type(id); def.Kind == resolve.KindResource {
				w.Forwarded[id] = def.Name
			}
		}
	}

	s.resources(world)
	if len(w.Resources) == 0 {
		return nil, errors.New(errors.PhaseSynthesize, errors.KindInvalidInput).
			Artifact("world " + world.Name).
			Detail("world exports no functions or resources to forward").
			Build()
	}
	if err := s.checkNames(); err != nil {
		return nil, err
	}
	for _, r := range w.Resources {
		for _, fn := range r.Functions {
			if err := s.checkSignature(r, fn.Name, fn.Params, fn.Results); err != nil {
				return nil, err
			}
		}
		if err := s.checkSignature(r, "constructor", r.CtorParams, resolve.Results{}); err != nil {
			return nil, err
		}
	}
	if err := s.collectTypes(); err != nil {
		return nil, err
	}

	Logger().Debug("synthesized stub world",
		zap.String("world", w.WorldName),
		zap.Int("resources", len(w.Resources)),
		zap.Int("functions", len(w.Functions())),
		zap.Int("inlined", len(w.Inlined)),
		zap.Int("uses", len(w.Uses)))
	return w, nil
}

func (s *synth) resources(world *resolve.World) {
	var worldFuncs []Function
	for _, item := range world.Exports {
		switch item.Kind {
		case resolve.ItemFunction:
			fn := item.Function
			worldFuncs = append(worldFuncs, Function{
				Name:       fn.Name,
				RemoteName: "{" + fn.Name + "}",
				Doc:        fn.Doc,
				Params:     fn.Params,
				Results:    fn.Results,
			})
		case resolve.ItemInterface:
			s.interfaceResources(item)
		}
	}
	if len(worldFuncs) > 0 {
		s.w.Resources = append(s.w.Resources, Resource{
			Name:      world.Name,
			Kind:      ForWorld,
			Doc:       world.Doc,
			Functions: worldFuncs,
		})
	}
}

func (s *synth) interfaceResources(item resolve.WorldItem) {
	iface := s.src.Interface(item.Interface)
	target := item.Name

	var free []Function
	byResource := make(map[resolve.TypeID]*Resource)
	var order []resolve.TypeID
	for _, id := range iface.Types {
		def := s.src.Type(id)
		if def.Kind != resolve.KindResource {
			continue
		}
		byResource[id] = &Resource{
			Name:              def.Name,
			Kind:              ForResource,
			Doc:               def.Doc,
			Target:            target,
			Interface:         item.Interface,
			Source:            id,
			RemoteConstructor: fmt.Sprintf("%s.{%s.new}", target, def.Name),
			RemoteDrop:        fmt.Sprintf("%s.{%s.drop}", target, def.Name),
		}
		order = append(order, id)
	}

	for _, fn := range iface.Functions {
		if fn.Kind == resolve.FuncFreestanding {
			free = append(free, Function{
				Name:       fn.Name,
				RemoteName: fmt.Sprintf("%s.{%s}", target, fn.Name),
				Doc:        fn.Doc,
				Params:     fn.Params,
				Results:    fn.Results,
			})
			continue
		}
		res := byResource[fn.Resource]
		if fn.Kind == resolve.FuncConstructor {
			res.CtorParams = fn.Params
			continue
		}
		res.Functions = append(res.Functions, Function{
			Name:       fn.Name,
			Static:     fn.Kind == resolve.FuncStatic,
			RemoteName: fmt.Sprintf("%s.{%s.%s}", target, res.Name, fn.Name),
			Doc:        fn.Doc,
			Params:     fn.Params,
			Results:    fn.Results,
		})
	}

	if len(free) > 0 {
		s.w.Resources = append(s.w.Resources, Resource{
			Name:      shortName(target),
			Kind:      ForInterface,
			Doc:       iface.Doc,
			Target:    target,
			Interface: item.Interface,
			Functions: free,
		})
	}
	for _, id := range order {
		s.w.Resources = append(s.w.Resources, *byResource[id])
	}
}

func (s *synth) checkNames() error {
	seen := map[string]string{LocationType: TransportInterface}
	for _, r := range s.w.Resources {
		owner := r.Target
		if owner == "" {
			owner = "world " + s.w.SourceWorld
		}
		if prev, ok := seen[r.Name]; ok {
			return errors.New(errors.PhaseSynthesize, errors.KindConflict).
				Artifact(s.w.QualifiedInterface()).
				Detail("stub resource name %q derived from %s collides with %s", r.Name, owner, prev).
				Build()
		}
		seen[r.Name] = owner
	}
	return nil
}

func (s *synth) resourceFuncPath(r Resource, fn string) string {
	if r.Kind == ForResource {
		return r.Name + "." + fn
	}
	return fn
}

func (s *synth) checkSignature(r Resource, fn string, params []resolve.Param, results resolve.Results) error {
	name := s.resourceFuncPath(r, fn)
	for i, p := range params {
		if err := s.checkHandles(name, p.Type, []string{fmt.Sprintf("param[%d]", i)}, 0, false); err != nil {
			return err
		}
	}
	if results.Anon != nil {
		return s.checkHandles(name, *results.Anon, []string{"result"}, 0, false)
	}
	for i, p := range results.Named {
		if err := s.checkHandles(name, p.Type, []string{fmt.Sprintf("result[%d]", i)}, 0, false); err != nil {
			return err
		}
	}
	return nil
}

// checkHandles verifies that every resource handle in t can be forwarded:
// it must refer to an exported resource and sit directly in the signature or
// inside a single anonymous list, option or result.
func (s *synth) checkHandles(fn string, t resolve.Type, path []string, containers int, inTuple bool) error {
	if t.IsPrim() {
		return nil
	}
	def := s.src.Type(t.Def)
	if def.Name != "" {
		if def.Kind != resolve.KindResource && s.containsHandle(t.Def, map[resolve.TypeID]bool{}) {
			return s.unsupported(fn, append(path, def.Name), "named type %q contains a resource handle", def.Name)
		}
		return nil
	}

	switch def.Kind {
	case resolve.KindOwn, resolve.KindBorrow:
		seg := s.src.TypeString(t)
		if _, ok := s.w.Forwarded[def.Elem.Def]; !ok {
			return s.unsupported(fn, append(path, seg), "resource %q is not exported by world %q", s.src.Type(def.Elem.Def).Name, s.w.SourceWorld)
		}
		if inTuple || containers > 1 {
			return s.unsupported(fn, append(path, seg), "resource handles are only forwarded directly or inside one list, option or result")
		}
		return nil
	case resolve.KindList, resolve.KindOption:
		return s.checkHandles(fn, def.Elem, append(path, def.Kind.String()), containers+1, inTuple)
	case resolve.KindResult:
		if def.OK != nil {
			if err := s.checkHandles(fn, *def.OK, append(path, "result", "ok"), containers+1, inTuple); err != nil {
				return err
			}
		}
		if def.Err != nil {
			return s.checkHandles(fn, *def.Err, append(path, "result", "err"), containers+1, inTuple)
		}
		return nil
	case resolve.KindTuple:
		for i, e := range def.Tuple {
			if err := s.checkHandles(fn, e, append(path, fmt.Sprintf("tuple[%d]", i)), containers+1, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *synth) unsupported(fn string, path []string, format string, args ...any) error {
	full := append([]string{fn}, path...)
	return errors.New(errors.PhaseSynthesize, errors.KindUnsupported).
		Path(full...).
		Artifact("function "+fn).
		Detail(format, args...).
		Build()
}

func (s *synth) containsHandle(id resolve.TypeID, visited map[resolve.TypeID]bool) bool {
	if visited[id] {
		return false
	}
	visited[id] = true
	def := s.src.Type(id)
	if def.Kind == resolve.KindOwn || def.Kind == resolve.KindBorrow {
		return true
	}
	for _, ref := range def.Refs() {
		if !ref.IsPrim() && s.containsHandle(ref.Def, visited) {
			return true
		}
	}
	return false
}

// collectTypes finds the named source types the stub interface refers to
// and decides, per type, whether it is copied or used from its owner.
func (s *synth) collectTypes() error {
	seen := make(map[resolve.TypeID]bool)
	for _, r := range s.w.Resources {
		for _, p := range r.CtorParams {
			s.visit(p.Type, seen)
		}
		for _, fn := range r.Functions {
			for _, p := range fn.Params {
				s.visit(p.Type, seen)
			}
			if fn.Results.Anon != nil {
				s.visit(*fn.Results.Anon, seen)
			}
			for _, p := range fn.Results.Named {
				s.visit(p.Type, seen)
			}
		}
	}

	ids := make([]resolve.TypeID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	uses := make(map[resolve.InterfaceID]*Use)
	var useOrder []resolve.InterfaceID
	for _, id := range ids {
		def := s.src.Type(id)
		if s.inlined(def) {
			s.w.Inlined = append(s.w.Inlined, id)
			continue
		}
		owner := def.Owner.Interface
		u, ok := uses[owner]
		if !ok {
			u = &Use{Interface: owner, Qualified: s.src.QualifiedName(owner)}
			uses[owner] = u
			useOrder = append(useOrder, owner)
		}
		u.Types = append(u.Types, id)
	}
	sort.Slice(useOrder, func(i, j int) bool { return useOrder[i] < useOrder[j] })
	for _, owner := range useOrder {
		s.w.Uses = append(s.w.Uses, *uses[owner])
	}
	return s.checkTypeNames()
}

// inlined reports whether a named type is copied into the stub interface.
// World types and types of inline interfaces have no package path to use
// them from, so they are always copied.
func (s *synth) inlined(def *resolve.TypeDef) bool {
	if s.w.Inline || def.Owner.Kind != resolve.OwnerInterface {
		return true
	}
	return s.src.Interface(def.Owner.Interface).Inline
}

func (s *synth) visit(t resolve.Type, seen map[resolve.TypeID]bool) {
	if t.IsPrim() {
		return
	}
	def := s.src.Type(t.Def)
	if def.Kind == resolve.KindOwn || def.Kind == resolve.KindBorrow {
		return
	}
	if def.Name != "" {
		if seen[t.Def] {
			return
		}
		seen[t.Def] = true
		if !s.inlined(def) {
			return
		}
	}
	for _, ref := range def.Refs() {
		s.visit(ref, seen)
	}
}

func (s *synth) checkTypeNames() error {
	owners := map[string]string{LocationType: TransportInterface}
	for _, r := range s.w.Resources {
		owners[r.Name] = "stub resource " + r.Name
	}
	add := func(id resolve.TypeID) error {
		def := s.src.Type(id)
		owner := s.ownerName(def)
		if prev, ok := owners[def.Name]; ok {
			return errors.New(errors.PhaseSynthesize, errors.KindConflict).
				Artifact(s.w.QualifiedInterface()).
				Detail("type name %q from %s collides with %s", def.Name, owner, prev).
				Build()
		}
		owners[def.Name] = owner
		return nil
	}
	for _, id := range s.w.Inlined {
		if err := add(id); err != nil {
			return err
		}
	}
	for _, u := range s.w.Uses {
		for _, id := range u.Types {
			if err := add(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *synth) ownerName(def *resolve.TypeDef) string {
	switch def.Owner.Kind {
	case resolve.OwnerInterface:
		iface := s.src.Interface(def.Owner.Interface)
		if iface.Inline {
			return "interface " + iface.Name
		}
		return s.src.QualifiedName(def.Owner.Interface)
	case resolve.OwnerWorld:
		return "world " + s.src.Worlds[def.Owner.World].Name
	}
	return "anonymous type"
}
