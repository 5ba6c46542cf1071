package component

import (
	"fmt"
	"sort"

	"go.bytecodealliance.org/wit"
)

// maxTypeDepth bounds alias chains and nesting in malformed binaries.
const maxTypeDepth = 1000

// scope is one type index space: the component's top level or the body of
// an instance type.
type scope struct {
	parent *scope
	types  []typeEntry
	cache  map[uint32]wit.Type
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, cache: make(map[uint32]wit.Type)}
}

func (s *scope) add(e typeEntry) uint32 {
	s.types = append(s.types, e)
	return uint32(len(s.types) - 1)
}

func (s *scope) ancestor(n uint32) *scope {
	sc := s
	for ; n > 0 && sc != nil; n-- {
		sc = sc.parent
	}
	return sc
}

// typeEntry is one slot of a type index space. Exactly one of def, ref,
// resource, fromInstance or opaque describes it.
type typeEntry struct {
	def  TypeDef
	ref  *scope
	idx  uint32
	name string

	resource     bool
	fromInstance bool
	inst         uint32
	opaque       bool
}

// instanceEntry is one slot of the top-level instance index space. An
// instance has a declared type (known) or comes from the instance section
// (defined, at Instances[def]).
type instanceEntry struct {
	typeIdx uint32
	known   bool
	defined bool
	def     int
}

// funcEntry is one slot of the top-level function index space: a function
// of type idx, a re-export of function idx, or an export of an instance.
type funcEntry struct {
	typed        bool
	ref          bool
	idx          uint32
	fromInstance bool
	inst         uint32
	name         string
}

// instanceShape is an evaluated instance type: its local scope and the
// local indices of its exported types and functions.
type instanceShape struct {
	scope *scope
	types map[string]uint32
	funcs map[string]uint32
}

func importedType(top *scope, imp Import) typeEntry {
	if imp.Desc.Bound == BoundEq {
		return typeEntry{ref: top, idx: imp.Desc.Index, name: imp.Name}
	}
	return typeEntry{resource: true, name: imp.Name}
}

func aliasedType(a Alias) typeEntry {
	if a.Target == AliasExport {
		return typeEntry{fromInstance: true, inst: a.Instance, name: a.Name}
	}
	return typeEntry{opaque: true}
}

// evaluator turns binary type definitions into wit.Type values. It is not
// safe for concurrent use.
type evaluator struct {
	comp   *Component
	shapes map[uint32]*instanceShape
	nested map[int]*Component
	depth  int
}

func (c *Component) evaluator() *evaluator {
	if c.eval == nil {
		c.eval = &evaluator{
			comp:   c,
			shapes: make(map[uint32]*instanceShape),
			nested: make(map[int]*Component),
		}
	}
	return c.eval
}

func (e *evaluator) enter() error {
	e.depth++
	if e.depth > maxTypeDepth {
		return fmt.Errorf("type nesting exceeds %d levels", maxTypeDepth)
	}
	return nil
}

func (e *evaluator) leave() { e.depth-- }

// typ evaluates slot idx of sc.
func (e *evaluator) typ(sc *scope, idx uint32) (wit.Type, error) {
	if int(idx) >= len(sc.types) {
		return nil, fmt.Errorf("type index %d out of range (%d types)", idx, len(sc.types))
	}
	if t, ok := sc.cache[idx]; ok {
		return t, nil
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	ent := sc.types[idx]
	var t wit.Type
	var err error
	switch {
	case ent.resource, ent.opaque:
		t = namedResource(ent.name)
	case ent.fromInstance:
		var sh *instanceShape
		sh, err = e.instance(ent.inst)
		if err != nil {
			break
		}
		if sh == nil {
			t = namedResource(ent.name)
			break
		}
		local, ok := sh.types[ent.name]
		if !ok {
			return nil, fmt.Errorf("instance %d has no type export %q", ent.inst, ent.name)
		}
		t, err = e.typ(sh.scope, local)
	case ent.ref != nil:
		t, err = e.typ(ent.ref, ent.idx)
		if err == nil && ent.name != "" && isResource(t) {
			// A resource takes the name it is exported or imported under.
			t = namedResource(ent.name)
		}
	default:
		t, err = e.def(sc, ent.def)
	}
	if err != nil {
		return nil, err
	}
	sc.cache[idx] = t
	return t, nil
}

func namedResource(name string) *wit.TypeDef {
	def := &wit.TypeDef{Kind: &wit.Resource{}}
	if name != "" {
		def.Name = &name
	}
	return def
}

func isResource(t wit.Type) bool {
	def, ok := t.(*wit.TypeDef)
	if !ok {
		return false
	}
	_, ok = def.Kind.(*wit.Resource)
	return ok
}

func (e *evaluator) val(sc *scope, v ValType) (wit.Type, error) {
	if v.IsPrim() {
		return primType(v.Prim)
	}
	return e.typ(sc, v.Index)
}

func (e *evaluator) optVal(sc *scope, v *ValType) (wit.Type, error) {
	if v == nil {
		return nil, nil
	}
	return e.val(sc, *v)
}

func (e *evaluator) def(sc *scope, d TypeDef) (wit.Type, error) {
	switch t := d.(type) {
	case PrimType:
		return primType(t)
	case RecordType:
		rec := &wit.Record{Fields: make([]wit.Field, len(t.Fields))}
		for i, f := range t.Fields {
			ft, err := e.val(sc, f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			rec.Fields[i] = wit.Field{Name: f.Name, Type: ft}
		}
		return &wit.TypeDef{Kind: rec}, nil
	case VariantType:
		v := &wit.Variant{Cases: make([]wit.Case, len(t.Cases))}
		for i, c := range t.Cases {
			ct, err := e.optVal(sc, c.Type)
			if err != nil {
				return nil, fmt.Errorf("case %q: %w", c.Name, err)
			}
			v.Cases[i] = wit.Case{Name: c.Name, Type: ct}
		}
		return &wit.TypeDef{Kind: v}, nil
	case EnumType:
		en := &wit.Enum{Cases: make([]wit.EnumCase, len(t.Names))}
		for i, n := range t.Names {
			en.Cases[i] = wit.EnumCase{Name: n}
		}
		return &wit.TypeDef{Kind: en}, nil
	case FlagsType:
		fl := &wit.Flags{Flags: make([]wit.Flag, len(t.Names))}
		for i, n := range t.Names {
			fl.Flags[i] = wit.Flag{Name: n}
		}
		return &wit.TypeDef{Kind: fl}, nil
	case ListType:
		elem, err := e.val(sc, t.Elem)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.List{Type: elem}}, nil
	case OptionType:
		elem, err := e.val(sc, t.Elem)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Option{Type: elem}}, nil
	case ResultType:
		ok, err := e.optVal(sc, t.OK)
		if err != nil {
			return nil, err
		}
		fail, err := e.optVal(sc, t.Err)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Result{OK: ok, Err: fail}}, nil
	case TupleType:
		tup := &wit.Tuple{Types: make([]wit.Type, len(t.Types))}
		for i, v := range t.Types {
			vt, err := e.val(sc, v)
			if err != nil {
				return nil, err
			}
			tup.Types[i] = vt
		}
		return &wit.TypeDef{Kind: tup}, nil
	case OwnType:
		res, err := e.resource(sc, t.Index)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Own{Type: res}}, nil
	case BorrowType:
		res, err := e.resource(sc, t.Index)
		if err != nil {
			return nil, err
		}
		return &wit.TypeDef{Kind: &wit.Borrow{Type: res}}, nil
	case ResourceType:
		return namedResource(""), nil
	}
	return nil, fmt.Errorf("%T is not a value type", d)
}

func (e *evaluator) resource(sc *scope, idx uint32) (*wit.TypeDef, error) {
	t, err := e.typ(sc, idx)
	if err != nil {
		return nil, err
	}
	def, ok := t.(*wit.TypeDef)
	if !ok {
		return nil, fmt.Errorf("handle to non-resource type %d", idx)
	}
	if _, ok := def.Kind.(*wit.Resource); !ok {
		return nil, fmt.Errorf("handle to non-resource type %d", idx)
	}
	return def, nil
}

// lookup follows aliases from slot idx of sc to the definition and the
// scope its indices belong to. A nil definition means the slot is abstract
// or comes from an instance without a declared type.
func (e *evaluator) lookup(sc *scope, idx uint32) (TypeDef, *scope, error) {
	for hops := 0; hops < maxTypeDepth; hops++ {
		if int(idx) >= len(sc.types) {
			return nil, nil, fmt.Errorf("type index %d out of range (%d types)", idx, len(sc.types))
		}
		ent := sc.types[idx]
		switch {
		case ent.ref != nil:
			sc, idx = ent.ref, ent.idx
		case ent.fromInstance:
			sh, err := e.instance(ent.inst)
			if err != nil || sh == nil {
				return nil, nil, err
			}
			local, ok := sh.types[ent.name]
			if !ok {
				return nil, nil, fmt.Errorf("instance %d has no type export %q", ent.inst, ent.name)
			}
			sc, idx = sh.scope, local
		case ent.def != nil:
			return ent.def, sc, nil
		default:
			return nil, nil, nil
		}
	}
	return nil, nil, fmt.Errorf("alias chain exceeds %d hops", maxTypeDepth)
}

// instance evaluates the type of top-level instance idx, or returns nil when
// the instance has no declared type.
func (e *evaluator) instance(idx uint32) (*instanceShape, error) {
	if sh, ok := e.shapes[idx]; ok {
		return sh, nil
	}
	if int(idx) >= len(e.comp.instances) {
		return nil, fmt.Errorf("instance index %d out of range", idx)
	}
	ent := e.comp.instances[idx]
	if !ent.known {
		e.shapes[idx] = nil
		return nil, nil
	}
	sh, err := e.instanceType(e.comp.top, ent.typeIdx)
	if err != nil {
		return nil, fmt.Errorf("instance %d: %w", idx, err)
	}
	e.shapes[idx] = sh
	return sh, nil
}

func (e *evaluator) instanceType(sc *scope, idx uint32) (*instanceShape, error) {
	def, defScope, err := e.lookup(sc, idx)
	if err != nil {
		return nil, err
	}
	it, ok := def.(*InstanceType)
	if !ok {
		return nil, fmt.Errorf("type %d is not an instance type", idx)
	}
	return e.shape(defScope, it)
}

func (e *evaluator) shape(parent *scope, it *InstanceType) (*instanceShape, error) {
	sc := newScope(parent)
	sh := &instanceShape{scope: sc, types: make(map[string]uint32), funcs: make(map[string]uint32)}
	for i, d := range it.Decls {
		switch d.Kind {
		case DeclType:
			sc.add(typeEntry{def: d.Type})
		case DeclAlias:
			if d.Alias.Sort != SortType {
				continue
			}
			target := sc.ancestor(d.Alias.Outer)
			if target == nil {
				return nil, fmt.Errorf("declaration %d: outer alias escapes the component", i)
			}
			sc.add(typeEntry{ref: target, idx: d.Alias.Index})
		case DeclExport:
			switch d.Desc.Kind {
			case ExternType:
				if d.Desc.Bound == BoundEq {
					sh.types[d.Name] = sc.add(typeEntry{ref: sc, idx: d.Desc.Index, name: d.Name})
				} else {
					sh.types[d.Name] = sc.add(typeEntry{resource: true, name: d.Name})
				}
			case ExternFunc:
				sh.funcs[d.Name] = d.Desc.Index
			}
		}
	}
	return sh, nil
}

// funcSignature evaluates function type idx of sc.
func (e *evaluator) funcSignature(name string, sc *scope, idx uint32) (FuncSignature, error) {
	def, defScope, err := e.lookup(sc, idx)
	if err != nil {
		return FuncSignature{}, err
	}
	ft, ok := def.(*FuncType)
	if !ok {
		return FuncSignature{}, fmt.Errorf("%s: type %d is not a function type", name, idx)
	}
	sig := FuncSignature{Name: name}
	for _, p := range ft.Params {
		t, err := e.val(defScope, p.Type)
		if err != nil {
			return FuncSignature{}, fmt.Errorf("%s: param %q: %w", name, p.Name, err)
		}
		sig.Params = append(sig.Params, Param{Name: p.Name, Type: t})
	}
	if ft.Result != nil {
		t, err := e.val(defScope, *ft.Result)
		if err != nil {
			return FuncSignature{}, fmt.Errorf("%s: result: %w", name, err)
		}
		sig.Results = []Param{{Type: t}}
	}
	for _, r := range ft.Results {
		t, err := e.val(defScope, r.Type)
		if err != nil {
			return FuncSignature{}, fmt.Errorf("%s: result %q: %w", name, r.Name, err)
		}
		sig.Results = append(sig.Results, Param{Name: r.Name, Type: t})
	}
	return sig, nil
}

func (e *evaluator) signature(desc ExternDesc) (*Signature, error) {
	sig := &Signature{Kind: desc.Kind}
	switch desc.Kind {
	case ExternFunc:
		f, err := e.funcSignature("", e.comp.top, desc.Index)
		if err != nil {
			return nil, err
		}
		sig.Funcs = []FuncSignature{f}
	case ExternInstance:
		sh, err := e.instanceType(e.comp.top, desc.Index)
		if err != nil {
			return nil, err
		}
		if err := e.shapeFuncs(sig, sh); err != nil {
			return nil, err
		}
	}
	return sig, nil
}

func (e *evaluator) shapeFuncs(sig *Signature, sh *instanceShape) error {
	names := make([]string, 0, len(sh.funcs))
	for n := range sh.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		f, err := e.funcSignature(n, sh.scope, sh.funcs[n])
		if err != nil {
			return err
		}
		sig.Funcs = append(sig.Funcs, f)
	}
	return nil
}

// ImportSignature evaluates the type of an import.
func (c *Component) ImportSignature(imp Import) (*Signature, error) {
	sig, err := c.evaluator().signature(imp.Desc)
	if err != nil {
		return nil, fmt.Errorf("import %q: %w", imp.Name, err)
	}
	return sig, nil
}

// ExportSignature evaluates the type of an export from its ascription, or
// from the item it exports: a typed instance, an instance bundling lifted
// functions, an instantiation of a nested component, or a function. It
// returns nil when the type cannot be known without instantiating.
func (c *Component) ExportSignature(exp Export) (*Signature, error) {
	e := c.evaluator()
	var (
		sig *Signature
		err error
	)
	switch {
	case exp.Desc != nil:
		sig, err = e.signature(*exp.Desc)
	case exp.Sort == SortInstance:
		sig, err = e.instanceSignature(exp.Index)
	case exp.Sort == SortFunc:
		var f FuncSignature
		var ok bool
		f, ok, err = e.function("", exp.Index)
		if ok {
			sig = &Signature{Kind: ExternFunc, Funcs: []FuncSignature{f}}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("export %q: %w", exp.Name, err)
	}
	return sig, nil
}

// instanceSignature evaluates the functions of top-level instance idx, or
// returns nil when they cannot be known.
func (e *evaluator) instanceSignature(idx uint32) (*Signature, error) {
	if int(idx) >= len(e.comp.instances) {
		return nil, fmt.Errorf("instance index %d out of range", idx)
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	ent := e.comp.instances[idx]
	switch {
	case ent.known:
		sh, err := e.instance(idx)
		if err != nil {
			return nil, err
		}
		sig := &Signature{Kind: ExternInstance}
		if err := e.shapeFuncs(sig, sh); err != nil {
			return nil, err
		}
		return sig, nil
	case ent.defined:
		inst := e.comp.Instances[ent.def]
		if inst.Inline {
			return e.bundle(inst.Exports)
		}
		return e.instantiated(inst.Component)
	}
	return nil, nil
}

// bundle evaluates an inline instance from the functions it exports.
func (e *evaluator) bundle(items []InstantiateArg) (*Signature, error) {
	sig := &Signature{Kind: ExternInstance}
	for _, it := range items {
		if it.Sort != SortFunc {
			continue
		}
		f, ok, err := e.function(it.Name, it.Index)
		if err != nil || !ok {
			return nil, err
		}
		sig.Funcs = append(sig.Funcs, f)
	}
	sortFuncs(sig.Funcs)
	return sig, nil
}

// instantiated evaluates an instance of component idx from the function
// exports of that component.
func (e *evaluator) instantiated(idx uint32) (*Signature, error) {
	if int(idx) >= len(e.comp.components) {
		return nil, fmt.Errorf("component index %d out of range", idx)
	}
	slot := e.comp.components[idx]
	if slot < 0 {
		return nil, nil
	}
	nested, ok := e.nested[slot]
	if !ok {
		var err error
		nested, err = Decode(e.comp.Components[slot])
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", idx, err)
		}
		e.nested[slot] = nested
	}

	sig := &Signature{Kind: ExternInstance}
	for _, exp := range nested.Exports {
		if exp.Sort != SortFunc {
			continue
		}
		fs, err := nested.ExportSignature(exp)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", idx, err)
		}
		if fs == nil || len(fs.Funcs) != 1 {
			return nil, nil
		}
		f := fs.Funcs[0]
		f.Name = exp.Name
		sig.Funcs = append(sig.Funcs, f)
	}
	sortFuncs(sig.Funcs)
	return sig, nil
}

// function evaluates top-level function idx under name. It reports false
// when the function's type cannot be known.
func (e *evaluator) function(name string, idx uint32) (FuncSignature, bool, error) {
	if int(idx) >= len(e.comp.funcs) {
		if e.comp.funcsLost {
			return FuncSignature{}, false, nil
		}
		return FuncSignature{}, false, fmt.Errorf("function index %d out of range", idx)
	}
	if err := e.enter(); err != nil {
		return FuncSignature{}, false, err
	}
	defer e.leave()

	ent := e.comp.funcs[idx]
	switch {
	case ent.typed:
		f, err := e.funcSignature(name, e.comp.top, ent.idx)
		return f, err == nil, err
	case ent.ref:
		return e.function(name, ent.idx)
	case ent.fromInstance:
		sig, err := e.instanceSignature(ent.inst)
		if err != nil || sig == nil {
			return FuncSignature{}, false, err
		}
		f, ok := sig.Func(ent.name)
		f.Name = name
		return f, ok, nil
	}
	return FuncSignature{}, false, nil
}

func sortFuncs(fs []FuncSignature) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
}

func primType(p PrimType) (wit.Type, error) {
	switch p {
	case PrimBool:
		return wit.Bool{}, nil
	case PrimS8:
		return wit.S8{}, nil
	case PrimU8:
		return wit.U8{}, nil
	case PrimS16:
		return wit.S16{}, nil
	case PrimU16:
		return wit.U16{}, nil
	case PrimS32:
		return wit.S32{}, nil
	case PrimU32:
		return wit.U32{}, nil
	case PrimS64:
		return wit.S64{}, nil
	case PrimU64:
		return wit.U64{}, nil
	case PrimF32:
		return wit.F32{}, nil
	case PrimF64:
		return wit.F64{}, nil
	case PrimChar:
		return wit.Char{}, nil
	case PrimString:
		return wit.String{}, nil
	default:
		return nil, fmt.Errorf("unknown primitive type: 0x%02x", byte(p))
	}
}
