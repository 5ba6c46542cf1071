package component

import (
	"fmt"
)

// TypeDef is one entry of a type section or of a type declaration inside an
// instance or component type.
type TypeDef interface {
	isTypeDef()
}

// PrimType is a primitive value type, encoded as its negative s33 byte.
type PrimType byte

const (
	PrimBool   PrimType = 0x7f
	PrimS8     PrimType = 0x7e
	PrimU8     PrimType = 0x7d
	PrimS16    PrimType = 0x7c
	PrimU16    PrimType = 0x7b
	PrimS32    PrimType = 0x7a
	PrimU32    PrimType = 0x79
	PrimS64    PrimType = 0x78
	PrimU64    PrimType = 0x77
	PrimF32    PrimType = 0x76
	PrimF64    PrimType = 0x75
	PrimChar   PrimType = 0x74
	PrimString PrimType = 0x73
)

func (PrimType) isTypeDef() {}

func isPrim(b byte) bool {
	return b >= byte(PrimString) && b <= byte(PrimBool)
}

// ValType is a primitive or a reference into the enclosing type index space.
type ValType struct {
	Prim  PrimType
	Index uint32
}

// Prim returns a primitive value type.
func Prim(p PrimType) ValType { return ValType{Prim: p} }

// Ref returns a value type referring to type index i.
func Ref(i uint32) ValType { return ValType{Index: i} }

// IsPrim reports whether v is a primitive.
func (v ValType) IsPrim() bool { return v.Prim != 0 }

type RecordType struct {
	Fields []FieldType
}

type FieldType struct {
	Name string
	Type ValType
}

type VariantType struct {
	Cases []CaseType
}

type CaseType struct {
	Name string
	Type *ValType
}

type ListType struct {
	Elem ValType
}

type TupleType struct {
	Types []ValType
}

type FlagsType struct {
	Names []string
}

type EnumType struct {
	Names []string
}

type OptionType struct {
	Elem ValType
}

type ResultType struct {
	OK  *ValType
	Err *ValType
}

type OwnType struct {
	Index uint32
}

type BorrowType struct {
	Index uint32
}

// FuncType is a component function type. Result is set for a single
// unnamed result; otherwise Results holds the named results.
type FuncType struct {
	Params  []FieldType
	Result  *ValType
	Results []FieldType
}

// ResourceType is a locally defined resource with an optional destructor.
type ResourceType struct {
	Dtor *uint32
}

// InstanceType declares the exports of an instance.
type InstanceType struct {
	Decls []Decl
}

// ComponentType declares the imports and exports of a component.
type ComponentType struct {
	Decls []Decl
}

func (RecordType) isTypeDef()     {}
func (VariantType) isTypeDef()    {}
func (ListType) isTypeDef()       {}
func (TupleType) isTypeDef()      {}
func (FlagsType) isTypeDef()      {}
func (EnumType) isTypeDef()       {}
func (OptionType) isTypeDef()     {}
func (ResultType) isTypeDef()     {}
func (OwnType) isTypeDef()        {}
func (BorrowType) isTypeDef()     {}
func (*FuncType) isTypeDef()      {}
func (ResourceType) isTypeDef()   {}
func (*InstanceType) isTypeDef()  {}
func (*ComponentType) isTypeDef() {}

// DeclKind tags a declaration inside an instance or component type.
type DeclKind byte

const (
	DeclType   DeclKind = 0x01
	DeclAlias  DeclKind = 0x02
	DeclImport DeclKind = 0x03
	DeclExport DeclKind = 0x04
)

// Decl is one declaration of an instance or component type.
type Decl struct {
	Kind  DeclKind
	Type  TypeDef
	Alias Alias
	Name  string
	Desc  ExternDesc
}

// Extern kinds of an externdesc.
const (
	ExternCoreModule byte = 0x00
	ExternFunc       byte = 0x01
	ExternValue      byte = 0x02
	ExternType       byte = 0x03
	ExternComponent  byte = 0x04
	ExternInstance   byte = 0x05
)

// Type bounds of a type import or export.
const (
	BoundEq          byte = 0x00
	BoundSubResource byte = 0x01
)

// ExternDesc describes the type of an import or export. Index is a type
// index, except for value bounds and eq type bounds where it names the
// bounded item.
type ExternDesc struct {
	Kind  byte
	Index uint32
	Bound byte
	Value *ValType
}

// Sort kinds
const (
	SortCore      byte = 0x00
	SortFunc      byte = 0x01
	SortValue     byte = 0x02
	SortType      byte = 0x03
	SortComponent byte = 0x04
	SortInstance  byte = 0x05
)

// Core sorts
const (
	CoreSortFunc     byte = 0x00
	CoreSortModule   byte = 0x11
	CoreSortInstance byte = 0x12
)

// Alias targets
const (
	AliasExport     byte = 0x00
	AliasCoreExport byte = 0x01
	AliasOuter      byte = 0x02
)

// Alias introduces an item of Sort from an instance export or an
// enclosing component.
type Alias struct {
	Sort     byte
	CoreSort byte
	Target   byte
	Instance uint32
	Name     string
	Outer    uint32
	Index    uint32
}

// SortOf returns the sort an item with this extern kind is indexed under.
func SortOf(kind byte) byte {
	if kind == ExternCoreModule {
		return SortCore
	}
	return kind
}

func parseTypeSection(data []byte) ([]TypeDef, error) {
	r := newReader(data)
	n, err := r.count("type")
	if err != nil {
		return nil, err
	}
	defs := make([]TypeDef, 0, n)
	for i := uint32(0); i < n; i++ {
		def, err := parseTypeDef(r)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		defs = append(defs, def)
	}
	if !r.eof() {
		return nil, fmt.Errorf("%d trailing bytes in type section", len(r.data)-r.pos)
	}
	return defs, nil
}

func parseTypeDef(r *reader) (TypeDef, error) {
	b, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch {
	case isPrim(b):
		return PrimType(b), nil
	case b == 0x72:
		n, err := r.count("field")
		if err != nil {
			return nil, err
		}
		rec := RecordType{Fields: make([]FieldType, 0, n)}
		for i := uint32(0); i < n; i++ {
			f, err := parseField(r)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			rec.Fields = append(rec.Fields, f)
		}
		return rec, nil
	case b == 0x71:
		n, err := r.count("case")
		if err != nil {
			return nil, err
		}
		v := VariantType{Cases: make([]CaseType, 0, n)}
		for i := uint32(0); i < n; i++ {
			name, err := r.name()
			if err != nil {
				return nil, fmt.Errorf("case %d: %w", i, err)
			}
			t, err := parseOptVal(r)
			if err != nil {
				return nil, fmt.Errorf("case %q: %w", name, err)
			}
			if err := r.expect(0x00, "case refines"); err != nil {
				return nil, err
			}
			v.Cases = append(v.Cases, CaseType{Name: name, Type: t})
		}
		return v, nil
	case b == 0x70:
		t, err := parseValType(r)
		return ListType{Elem: t}, err
	case b == 0x6f:
		n, err := r.count("tuple")
		if err != nil {
			return nil, err
		}
		tup := TupleType{Types: make([]ValType, 0, n)}
		for i := uint32(0); i < n; i++ {
			t, err := parseValType(r)
			if err != nil {
				return nil, err
			}
			tup.Types = append(tup.Types, t)
		}
		return tup, nil
	case b == 0x6e:
		names, err := parseNames(r)
		return FlagsType{Names: names}, err
	case b == 0x6d:
		names, err := parseNames(r)
		return EnumType{Names: names}, err
	case b == 0x6b:
		t, err := parseValType(r)
		return OptionType{Elem: t}, err
	case b == 0x6a:
		ok, err := parseOptVal(r)
		if err != nil {
			return nil, err
		}
		e, err := parseOptVal(r)
		return ResultType{OK: ok, Err: e}, err
	case b == 0x69:
		i, err := r.u32()
		return OwnType{Index: i}, err
	case b == 0x68:
		i, err := r.u32()
		return BorrowType{Index: i}, err
	case b == 0x40:
		return parseFuncType(r)
	case b == 0x41:
		decls, err := parseDecls(r, true)
		return &ComponentType{Decls: decls}, err
	case b == 0x42:
		decls, err := parseDecls(r, false)
		return &InstanceType{Decls: decls}, err
	case b == 0x3f:
		if err := r.expect(0x7f, "resource rep"); err != nil {
			return nil, err
		}
		has, err := r.readByte()
		if err != nil {
			return nil, err
		}
		res := ResourceType{}
		if has == 0x01 {
			f, err := r.u32()
			if err != nil {
				return nil, err
			}
			res.Dtor = &f
		}
		return res, nil
	}
	return nil, fmt.Errorf("unsupported type form 0x%02x", b)
}

func parseField(r *reader) (FieldType, error) {
	name, err := r.name()
	if err != nil {
		return FieldType{}, err
	}
	t, err := parseValType(r)
	return FieldType{Name: name, Type: t}, err
}

func parseNames(r *reader) ([]string, error) {
	n, err := r.count("label")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := r.name()
		if err != nil {
			return nil, err
		}
		names = append(names, s)
	}
	return names, nil
}

func parseValType(r *reader) (ValType, error) {
	b, err := r.peek()
	if err != nil {
		return ValType{}, err
	}
	if isPrim(b) {
		r.pos++
		return Prim(PrimType(b)), nil
	}
	v, err := r.s33()
	if err != nil {
		return ValType{}, err
	}
	if v < 0 || v > int64(^uint32(0)) {
		return ValType{}, fmt.Errorf("invalid value type %d", v)
	}
	return Ref(uint32(v)), nil
}

func parseOptVal(r *reader) (*ValType, error) {
	has, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch has {
	case 0x00:
		return nil, nil
	case 0x01:
		t, err := parseValType(r)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, fmt.Errorf("invalid option flag 0x%02x", has)
}

func parseFuncType(r *reader) (*FuncType, error) {
	n, err := r.count("param")
	if err != nil {
		return nil, err
	}
	ft := &FuncType{}
	for i := uint32(0); i < n; i++ {
		p, err := parseField(r)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		ft.Params = append(ft.Params, p)
	}
	kind, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch kind {
	case 0x00:
		t, err := parseValType(r)
		if err != nil {
			return nil, err
		}
		ft.Result = &t
	case 0x01:
		n, err := r.count("result")
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			res, err := parseField(r)
			if err != nil {
				return nil, fmt.Errorf("result %d: %w", i, err)
			}
			ft.Results = append(ft.Results, res)
		}
	default:
		return nil, fmt.Errorf("invalid result list 0x%02x", kind)
	}
	return ft, nil
}

func parseDecls(r *reader, component bool) ([]Decl, error) {
	n, err := r.count("declaration")
	if err != nil {
		return nil, err
	}
	decls := make([]Decl, 0, n)
	for i := uint32(0); i < n; i++ {
		kind, err := r.readByte()
		if err != nil {
			return nil, err
		}
		d := Decl{Kind: DeclKind(kind)}
		switch d.Kind {
		case 0x00:
			return nil, fmt.Errorf("declaration %d: core type declarations are not supported", i)
		case DeclType:
			d.Type, err = parseTypeDef(r)
		case DeclAlias:
			d.Alias, err = parseAlias(r)
			if err == nil && d.Alias.Target != AliasOuter {
				err = fmt.Errorf("type declarations may only alias outer items")
			}
		case DeclImport:
			if !component {
				return nil, fmt.Errorf("declaration %d: import in instance type", i)
			}
			d.Name, d.Desc, err = parseExternName(r)
		case DeclExport:
			d.Name, d.Desc, err = parseExternName(r)
		default:
			return nil, fmt.Errorf("declaration %d: unknown kind 0x%02x", i, kind)
		}
		if err != nil {
			return nil, fmt.Errorf("declaration %d: %w", i, err)
		}
		decls = append(decls, d)
	}
	return decls, nil
}

func parseExternName(r *reader) (string, ExternDesc, error) {
	name, err := parseExternNameOnly(r)
	if err != nil {
		return "", ExternDesc{}, err
	}
	desc, err := parseExternDesc(r)
	if err != nil {
		return "", ExternDesc{}, fmt.Errorf("%s: %w", name, err)
	}
	return name, desc, nil
}

// parseExternNameOnly reads importname' / exportname'. The 0x01 prefix of
// older encoders carried the version inside the name.
func parseExternNameOnly(r *reader) (string, error) {
	prefix, err := r.readByte()
	if err != nil {
		return "", err
	}
	if prefix != 0x00 && prefix != 0x01 {
		return "", fmt.Errorf("invalid name prefix 0x%02x", prefix)
	}
	return r.name()
}

func parseExternDesc(r *reader) (ExternDesc, error) {
	kind, err := r.readByte()
	if err != nil {
		return ExternDesc{}, err
	}
	d := ExternDesc{Kind: kind}
	switch kind {
	case ExternCoreModule:
		if err := r.expect(0x11, "core module sort"); err != nil {
			return d, err
		}
		d.Index, err = r.u32()
	case ExternFunc, ExternComponent, ExternInstance:
		d.Index, err = r.u32()
	case ExternValue:
		d.Bound, err = r.readByte()
		if err != nil {
			return d, err
		}
		switch d.Bound {
		case 0x00:
			d.Index, err = r.u32()
		case 0x01:
			var v ValType
			v, err = parseValType(r)
			d.Value = &v
		default:
			err = fmt.Errorf("invalid value bound 0x%02x", d.Bound)
		}
	case ExternType:
		d.Bound, err = r.readByte()
		if err != nil {
			return d, err
		}
		switch d.Bound {
		case BoundEq:
			d.Index, err = r.u32()
		case BoundSubResource:
		default:
			err = fmt.Errorf("invalid type bound 0x%02x", d.Bound)
		}
	default:
		err = fmt.Errorf("unknown extern kind 0x%02x", kind)
	}
	return d, err
}

func parseAlias(r *reader) (Alias, error) {
	var a Alias
	var err error
	if a.Sort, err = r.readByte(); err != nil {
		return a, err
	}
	if a.Sort > SortInstance {
		return a, fmt.Errorf("unknown sort 0x%02x", a.Sort)
	}
	if a.Sort == SortCore {
		if a.CoreSort, err = r.readByte(); err != nil {
			return a, err
		}
	}
	if a.Target, err = r.readByte(); err != nil {
		return a, err
	}
	switch a.Target {
	case AliasExport, AliasCoreExport:
		if a.Instance, err = r.u32(); err != nil {
			return a, err
		}
		a.Name, err = r.name()
	case AliasOuter:
		if a.Outer, err = r.u32(); err != nil {
			return a, err
		}
		a.Index, err = r.u32()
	default:
		err = fmt.Errorf("unknown alias target 0x%02x", a.Target)
	}
	return a, err
}

// typeRemap rewrites type indices of the outermost scope while a type
// definition is encoded. Nested instance and component types keep their own
// index spaces; only outer aliases that escape them are rewritten.
type typeRemap func(uint32) (uint32, error)

type typeEncoder struct {
	w     *writer
	remap typeRemap
	err   error
}

func (e *typeEncoder) index(i uint32, depth int) uint32 {
	if depth > 0 || e.remap == nil || e.err != nil {
		return i
	}
	out, err := e.remap(i)
	if err != nil {
		e.err = err
	}
	return out
}

func (e *typeEncoder) valType(v ValType, depth int) {
	if v.IsPrim() {
		e.w.byte(byte(v.Prim))
		return
	}
	e.w.s33(int64(e.index(v.Index, depth)))
}

func (e *typeEncoder) optVal(v *ValType, depth int) {
	if v == nil {
		e.w.byte(0x00)
		return
	}
	e.w.byte(0x01)
	e.valType(*v, depth)
}

func (e *typeEncoder) fields(fs []FieldType, depth int) {
	e.w.length(len(fs))
	for _, f := range fs {
		e.w.name(f.Name)
		e.valType(f.Type, depth)
	}
}

func (e *typeEncoder) names(ns []string) {
	e.w.length(len(ns))
	for _, n := range ns {
		e.w.name(n)
	}
}

func (e *typeEncoder) typeDef(def TypeDef, depth int) {
	w := e.w
	switch t := def.(type) {
	case PrimType:
		w.byte(byte(t))
	case RecordType:
		w.byte(0x72)
		e.fields(t.Fields, depth)
	case VariantType:
		w.byte(0x71)
		w.length(len(t.Cases))
		for _, c := range t.Cases {
			w.name(c.Name)
			e.optVal(c.Type, depth)
			w.byte(0x00)
		}
	case ListType:
		w.byte(0x70)
		e.valType(t.Elem, depth)
	case TupleType:
		w.byte(0x6f)
		w.length(len(t.Types))
		for _, v := range t.Types {
			e.valType(v, depth)
		}
	case FlagsType:
		w.byte(0x6e)
		e.names(t.Names)
	case EnumType:
		w.byte(0x6d)
		e.names(t.Names)
	case OptionType:
		w.byte(0x6b)
		e.valType(t.Elem, depth)
	case ResultType:
		w.byte(0x6a)
		e.optVal(t.OK, depth)
		e.optVal(t.Err, depth)
	case OwnType:
		w.byte(0x69)
		w.u32(e.index(t.Index, depth))
	case BorrowType:
		w.byte(0x68)
		w.u32(e.index(t.Index, depth))
	case *FuncType:
		w.byte(0x40)
		e.fields(t.Params, depth)
		if t.Result != nil {
			w.byte(0x00)
			e.valType(*t.Result, depth)
		} else {
			w.byte(0x01)
			e.fields(t.Results, depth)
		}
	case ResourceType:
		w.byte(0x3f)
		w.byte(0x7f)
		if t.Dtor == nil {
			w.byte(0x00)
		} else {
			w.byte(0x01)
			w.u32(*t.Dtor)
		}
	case *InstanceType:
		w.byte(0x42)
		e.decls(t.Decls, depth+1)
	case *ComponentType:
		w.byte(0x41)
		e.decls(t.Decls, depth+1)
	default:
		if e.err == nil {
			e.err = fmt.Errorf("cannot encode type %T", def)
		}
	}
}

func (e *typeEncoder) decls(decls []Decl, depth int) {
	w := e.w
	w.length(len(decls))
	for _, d := range decls {
		w.byte(byte(d.Kind))
		switch d.Kind {
		case DeclType:
			e.typeDef(d.Type, depth)
		case DeclAlias:
			a := d.Alias
			// An outer alias reaching the outermost scope follows its remap.
			if a.Target == AliasOuter && int(a.Outer) == depth && a.Sort == SortType {
				a.Index = e.index(a.Index, 0)
			}
			encodeAlias(w, a)
		case DeclImport, DeclExport:
			w.byte(0x00)
			w.name(d.Name)
			e.externDesc(d.Desc, depth)
		}
	}
}

func (e *typeEncoder) externDesc(d ExternDesc, depth int) {
	w := e.w
	w.byte(d.Kind)
	switch d.Kind {
	case ExternCoreModule:
		w.byte(0x11)
		w.u32(d.Index)
	case ExternFunc, ExternComponent, ExternInstance:
		w.u32(e.index(d.Index, depth))
	case ExternValue:
		w.byte(d.Bound)
		if d.Value != nil {
			e.valType(*d.Value, depth)
		} else {
			w.u32(d.Index)
		}
	case ExternType:
		w.byte(d.Bound)
		if d.Bound == BoundEq {
			w.u32(e.index(d.Index, depth))
		}
	}
}

func encodeAlias(w *writer, a Alias) {
	w.byte(a.Sort)
	if a.Sort == SortCore {
		w.byte(a.CoreSort)
	}
	w.byte(a.Target)
	switch a.Target {
	case AliasExport, AliasCoreExport:
		w.u32(a.Instance)
		w.name(a.Name)
	case AliasOuter:
		w.u32(a.Outer)
		w.u32(a.Index)
	}
}
