// Package ast declares the syntax tree of a WIT source file.
package ast

import "github.com/wippyai/wasm-rpc-stubgen/resolve/internal/token"

// File is one parsed .wit file.
type File struct {
	Path    string
	Package *PackageName
	Uses    []*TopUse
	Items   []Item
}

// PackageName is "ns:name@version".
type PackageName struct {
	Namespace string
	Name      string
	Version   string
	Pos       token.Pos
}

// Item is a top-level declaration: *Interface or *World.
type Item interface {
	itemNode()
}

// UsePath names an interface or world, either locally ("iface") or in
// another package ("ns:pkg/iface@1.0.0").
type UsePath struct {
	Namespace string
	Package   string
	Name      string
	Version   string
	Pos       token.Pos
}

// IsLocal reports whether the path refers to the current package.
func (p UsePath) IsLocal() bool { return p.Namespace == "" }

func (p UsePath) String() string {
	if p.IsLocal() {
		return p.Name
	}
	s := p.Namespace + ":" + p.Package + "/" + p.Name
	if p.Version != "" {
		s += "@" + p.Version
	}
	return s
}

// TopUse is a file-level "use ns:pkg/iface as alias;".
type TopUse struct {
	Path UsePath
	As   string
}

// UseName is one imported name with an optional local rename.
type UseName struct {
	Name string
	As   string
	Pos  token.Pos
}

// Local returns the name the item is bound to in scope.
func (n UseName) Local() string {
	if n.As != "" {
		return n.As
	}
	return n.Name
}

// Use brings named types of another interface into scope.
type Use struct {
	Path  UsePath
	Names []UseName
}

// Interface is a named interface, or an inline interface of a world item.
type Interface struct {
	Name  string
	Doc   string
	Pos   token.Pos
	Uses  []*Use
	Types []*TypeDecl
	Funcs []*Func
}

func (*Interface) itemNode() {}

// World declares imports and exports of one component.
type World struct {
	Name     string
	Doc      string
	Pos      token.Pos
	Uses     []*Use
	Types    []*TypeDecl
	Imports  []*Extern
	Exports  []*Extern
	Includes []*Include
}

func (*World) itemNode() {}

// Extern is one import or export of a world. Exactly one of Path, Func and
// Interface is set.
type Extern struct {
	Name      string
	Path      *UsePath
	Func      *Func
	Interface *Interface
	Pos       token.Pos
}

// Include merges another world into the enclosing one.
type Include struct {
	Path UsePath
	With []UseName
}

// TypeKind is the declaration form of a named type.
type TypeKind uint8

const (
	TypeAlias TypeKind = iota
	TypeRecord
	TypeVariant
	TypeEnum
	TypeFlags
	TypeResource
)

// TypeDecl is a named type declaration.
type TypeDecl struct {
	Kind   TypeKind
	Name   string
	Doc    string
	Pos    token.Pos
	Alias  *TypeExpr
	Fields []*Field
	Cases  []*Case
	Names  []string
	Funcs  []*Func
}

// Field is a record field or function parameter.
type Field struct {
	Name string
	Type *TypeExpr
	Pos  token.Pos
}

// Case is a variant case with an optional payload.
type Case struct {
	Name string
	Type *TypeExpr
	Pos  token.Pos
}

// ExprKind is the form of a type expression.
type ExprKind uint8

const (
	ExprNamed ExprKind = iota
	ExprPrim
	ExprList
	ExprOption
	ExprResult
	ExprTuple
	ExprOwn
	ExprBorrow
)

// TypeExpr is a type reference. Args holds the element types of list,
// option and tuple, and the ok/err pair of result where either may be nil.
type TypeExpr struct {
	Kind ExprKind
	Name string
	Args []*TypeExpr
	Pos  token.Pos
}

// FuncKind distinguishes free functions from resource functions.
type FuncKind uint8

const (
	FuncFreestanding FuncKind = iota
	FuncMethod
	FuncStatic
	FuncConstructor
)

// Func is a function signature. Results holds either one anonymous result
// (a single Field with an empty name) or a list of named results.
type Func struct {
	Kind    FuncKind
	Name    string
	Doc     string
	Pos     token.Pos
	Params  []*Field
	Results []*Field
}
