package resolve

import (
	"fmt"
	"strings"
)

// TypeID indexes Source.Types.
type TypeID uint32

// InterfaceID indexes Source.Interfaces.
type InterfaceID uint32

// WorldID indexes Source.Worlds.
type WorldID uint32

// PackageID indexes Source.Packages.
type PackageID uint32

// Prim identifies a primitive type. PrimNone marks a reference to a TypeDef.
type Prim uint8

const (
	PrimNone Prim = iota
	PrimBool
	PrimU8
	PrimU16
	PrimU32
	PrimU64
	PrimS8
	PrimS16
	PrimS32
	PrimS64
	PrimF32
	PrimF64
	PrimChar
	PrimString
)

var primNames = [...]string{
	PrimNone:   "",
	PrimBool:   "bool",
	PrimU8:     "u8",
	PrimU16:    "u16",
	PrimU32:    "u32",
	PrimU64:    "u64",
	PrimS8:     "s8",
	PrimS16:    "s16",
	PrimS32:    "s32",
	PrimS64:    "s64",
	PrimF32:    "f32",
	PrimF64:    "f64",
	PrimChar:   "char",
	PrimString: "string",
}

func (p Prim) String() string {
	if int(p) < len(primNames) {
		return primNames[p]
	}
	return fmt.Sprintf("prim(%d)", uint8(p))
}

// ParsePrim maps a WIT primitive name to its Prim value.
func ParsePrim(name string) (Prim, bool) {
	for i, n := range primNames {
		if i > 0 && n == name {
			return Prim(i), true
		}
	}
	return PrimNone, false
}

// Type is either a primitive or a reference into Source.Types.
type Type struct {
	Prim Prim
	Def  TypeID
}

// IsPrim reports whether t is a primitive type.
func (t Type) IsPrim() bool { return t.Prim != PrimNone }

// PrimType returns the Type for a primitive.
func PrimType(p Prim) Type { return Type{Prim: p} }

// DefType returns the Type referencing a type definition.
func DefType(id TypeID) Type { return Type{Def: id} }

// TypeKind is the shape of a TypeDef.
type TypeKind uint8

const (
	KindAlias TypeKind = iota
	KindRecord
	KindVariant
	KindEnum
	KindFlags
	KindResource
	KindList
	KindOption
	KindResult
	KindTuple
	KindOwn
	KindBorrow
)

var kindNames = [...]string{
	KindAlias:    "alias",
	KindRecord:   "record",
	KindVariant:  "variant",
	KindEnum:     "enum",
	KindFlags:    "flags",
	KindResource: "resource",
	KindList:     "list",
	KindOption:   "option",
	KindResult:   "result",
	KindTuple:    "tuple",
	KindOwn:      "own",
	KindBorrow:   "borrow",
}

func (k TypeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// OwnerKind says what declared a named type.
type OwnerKind uint8

const (
	OwnerNone OwnerKind = iota
	OwnerInterface
	OwnerWorld
)

// Owner identifies the interface or world declaring a named type.
type Owner struct {
	Kind      OwnerKind
	Interface InterfaceID
	World     WorldID
}

// Field is a named record field.
type Field struct {
	Name string
	Type Type
}

// Case is a variant case; Type is nil for payload-less cases.
type Case struct {
	Name string
	Type *Type
}

// TypeDef is one entry of the flat type table. Named definitions carry a
// Name and an Owner; anonymous ones (list<T>, option<T>, ...) have neither.
type TypeDef struct {
	Kind  TypeKind
	Name  string
	Doc   string
	Owner Owner

	// Elem is the aliased type (alias), element type (list, option), or
	// resource (own, borrow; Elem.Def is the resource TypeDef).
	Elem   Type
	OK     *Type
	Err    *Type
	Fields []Field
	Cases  []Case
	Names  []string
	Tuple  []Type
}

// FuncKind distinguishes free functions from resource functions.
type FuncKind uint8

const (
	FuncFreestanding FuncKind = iota
	FuncMethod
	FuncStatic
	FuncConstructor
)

// Param is a named parameter or named result.
type Param struct {
	Name string
	Type Type
}

// Results is the result of a function: none, one anonymous type, or a list
// of named results.
type Results struct {
	Anon  *Type
	Named []Param
}

// Len returns the number of result values.
func (r Results) Len() int {
	if r.Anon != nil {
		return 1
	}
	return len(r.Named)
}

// Function is a resolved function signature. Resource functions carry the
// resource TypeDef in Resource; methods take the implicit self handle, which
// is not included in Params.
type Function struct {
	Name     string
	Kind     FuncKind
	Resource TypeID
	Doc      string
	Params   []Param
	Results  Results
}

// Interface is a resolved interface.
type Interface struct {
	Name    string
	Doc     string
	Package PackageID
	// Inline is set for interfaces declared inline in a world item.
	Inline bool
	// Types lists the named types declared in the interface, in order.
	Types []TypeID
	// Uses lists types brought into scope from other interfaces, in order.
	Uses      []UsedType
	Functions []Function
	scope     map[string]TypeID
}

// UsedType records one "use iface.{name as local}" binding.
type UsedType struct {
	From  InterfaceID
	Type  TypeID
	Local string
}

// LookupType returns the type bound to name in the interface's scope.
func (i *Interface) LookupType(name string) (TypeID, bool) {
	id, ok := i.scope[name]
	return id, ok
}

// ItemKind is the kind of a world import or export.
type ItemKind uint8

const (
	ItemInterface ItemKind = iota
	ItemFunction
)

// WorldItem is one import or export of a world.
type WorldItem struct {
	// Name is the plain name of inline items and world functions, or the
	// qualified name of referenced interfaces.
	Name      string
	Kind      ItemKind
	Interface InterfaceID
	Function  *Function
}

// World is a resolved world.
type World struct {
	Name    string
	Doc     string
	Package PackageID
	Imports []WorldItem
	Exports []WorldItem
	Types   []TypeID
	Uses    []UsedType
	scope   map[string]TypeID
}

// PackageName identifies a package.
type PackageName struct {
	Namespace string
	Name      string
	Version   string
}

func (n PackageName) String() string {
	s := n.Namespace + ":" + n.Name
	if n.Version != "" {
		s += "@" + n.Version
	}
	return s
}

// Unversioned returns "ns:name".
func (n PackageName) Unversioned() string {
	return n.Namespace + ":" + n.Name
}

// Package is a resolved package.
type Package struct {
	Name PackageName
	// Dir is the directory the package was loaded from, relative to the
	// filesystem the resolver read. Files are relative to Dir.
	Dir   string
	Files []string
	// Single is set for dependencies stored as one file directly under deps/.
	Single     bool
	Interfaces []InterfaceID
	Worlds     []WorldID
	// Deps lists the packages this package references, in first-use order.
	Deps []PackageID
}

// Source is the resolver's output: the selected world and the transitive
// closure of packages it depends on. All cross references are indices.
type Source struct {
	Packages   []Package
	Interfaces []Interface
	Worlds     []World
	Types      []TypeDef
	Root       PackageID
	World      WorldID
}

// Type returns the definition for id.
func (s *Source) Type(id TypeID) *TypeDef { return &s.Types[id] }

// Interface returns the interface for id.
func (s *Source) Interface(id InterfaceID) *Interface { return &s.Interfaces[id] }

// SelectedWorld returns the world chosen for the run.
func (s *Source) SelectedWorld() *World { return &s.Worlds[s.World] }

// RootPackage returns the package containing the selected world.
func (s *Source) RootPackage() *Package { return &s.Packages[s.Root] }

// QualifiedName returns "ns:pkg/iface@version" for a named interface.
func (s *Source) QualifiedName(id InterfaceID) string {
	iface := &s.Interfaces[id]
	pkg := s.Packages[iface.Package].Name
	q := pkg.Unversioned() + "/" + iface.Name
	if pkg.Version != "" {
		q += "@" + pkg.Version
	}
	return q
}

// Unalias follows alias definitions until a non-alias type is reached.
func (s *Source) Unalias(t Type) Type {
	for !t.IsPrim() {
		def := &s.Types[t.Def]
		if def.Kind != KindAlias {
			return t
		}
		t = def.Elem
	}
	return t
}

// TypeString renders t in WIT syntax. Named types render as their name.
func (s *Source) TypeString(t Type) string {
	if t.IsPrim() {
		return t.Prim.String()
	}
	def := &s.Types[t.Def]
	if def.Name != "" {
		return def.Name
	}
	switch def.Kind {
	case KindList:
		return "list<" + s.TypeString(def.Elem) + ">"
	case KindOption:
		return "option<" + s.TypeString(def.Elem) + ">"
	case KindOwn:
		return "own<" + s.TypeString(def.Elem) + ">"
	case KindBorrow:
		return "borrow<" + s.TypeString(def.Elem) + ">"
	case KindTuple:
		parts := make([]string, len(def.Tuple))
		for i, e := range def.Tuple {
			parts[i] = s.TypeString(e)
		}
		return "tuple<" + strings.Join(parts, ", ") + ">"
	case KindResult:
		switch {
		case def.OK == nil && def.Err == nil:
			return "result"
		case def.Err == nil:
			return "result<" + s.TypeString(*def.OK) + ">"
		case def.OK == nil:
			return "result<_, " + s.TypeString(*def.Err) + ">"
		default:
			return "result<" + s.TypeString(*def.OK) + ", " + s.TypeString(*def.Err) + ">"
		}
	case KindAlias:
		return s.TypeString(def.Elem)
	}
	return def.Kind.String()
}

// Refs returns the types directly referenced by def. Handles reference
// their resource, which callers may choose to treat as a non-structural edge.
func (def *TypeDef) Refs() []Type {
	var refs []Type
	switch def.Kind {
	case KindAlias, KindList, KindOption, KindOwn, KindBorrow:
		refs = append(refs, def.Elem)
	case KindResult:
		if def.OK != nil {
			refs = append(refs, *def.OK)
		}
		if def.Err != nil {
			refs = append(refs, *def.Err)
		}
	case KindTuple:
		refs = append(refs, def.Tuple...)
	case KindRecord:
		for _, f := range def.Fields {
			refs = append(refs, f.Type)
		}
	case KindVariant:
		for _, c := range def.Cases {
			if c.Type != nil {
				refs = append(refs, *c.Type)
			}
		}
	}
	return refs
}
