package component

import (
	"strings"

	"go.bytecodealliance.org/wit"
)

// Signature is the evaluated type of an import or export. Funcs holds the
// functions of an instance sorted by name, or the single unnamed function
// of a function import or export.
type Signature struct {
	Kind  byte
	Funcs []FuncSignature
}

// FuncSignature is a function's parameters and results over wit.Type.
type FuncSignature struct {
	Name    string
	Params  []Param
	Results []Param
}

// Param is a named parameter or result. A single unnamed result has an
// empty Name.
type Param struct {
	Name string
	Type wit.Type
}

// Func returns the function called name.
func (s *Signature) Func(name string) (FuncSignature, bool) {
	for _, f := range s.Funcs {
		if f.Name == name {
			return f, true
		}
	}
	return FuncSignature{}, false
}

// Satisfies reports whether an item of signature s can stand in for an
// item declared with want: every function of want exists in s with an
// equal signature.
func (s *Signature) Satisfies(want *Signature) bool {
	if s.Kind != want.Kind {
		return false
	}
	for _, f := range want.Funcs {
		have, ok := s.Func(f.Name)
		if !ok || have.String() != f.String() {
			return false
		}
	}
	return true
}

// Equal reports whether two signatures declare the same functions.
func (s *Signature) Equal(o *Signature) bool {
	return s.Satisfies(o) && o.Satisfies(s)
}

func (s *Signature) String() string {
	var b strings.Builder
	switch s.Kind {
	case ExternInstance:
		b.WriteString("instance {")
		for i, f := range s.Funcs {
			if i > 0 {
				b.WriteString(";")
			}
			b.WriteString(" ")
			b.WriteString(f.Name)
			b.WriteString(": ")
			b.WriteString(f.String())
		}
		b.WriteString(" }")
	case ExternFunc:
		if len(s.Funcs) == 1 {
			b.WriteString(s.Funcs[0].String())
		}
	default:
		b.WriteString("extern ")
		b.WriteString(kindName(s.Kind))
	}
	return b.String()
}

// String renders the function in WIT-like syntax with structural types.
func (f FuncSignature) String() string {
	var b strings.Builder
	b.WriteString("func(")
	writeParams(&b, f.Params)
	b.WriteString(")")
	switch {
	case len(f.Results) == 1 && f.Results[0].Name == "":
		b.WriteString(" -> ")
		b.WriteString(TypeString(f.Results[0].Type))
	case len(f.Results) > 0:
		b.WriteString(" -> (")
		writeParams(&b, f.Results)
		b.WriteString(")")
	}
	return b.String()
}

func writeParams(b *strings.Builder, ps []Param) {
	for i, p := range ps {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(TypeString(p.Type))
	}
}

// TypeString renders t structurally. Resources render by name since they
// are nominal; every other type renders its full shape.
func TypeString(t wit.Type) string {
	var b strings.Builder
	writeType(&b, t)
	return b.String()
}

func writeType(b *strings.Builder, t wit.Type) {
	switch t := t.(type) {
	case nil:
		b.WriteString("_")
	case wit.Bool:
		b.WriteString("bool")
	case wit.S8:
		b.WriteString("s8")
	case wit.U8:
		b.WriteString("u8")
	case wit.S16:
		b.WriteString("s16")
	case wit.U16:
		b.WriteString("u16")
	case wit.S32:
		b.WriteString("s32")
	case wit.U32:
		b.WriteString("u32")
	case wit.S64:
		b.WriteString("s64")
	case wit.U64:
		b.WriteString("u64")
	case wit.F32:
		b.WriteString("f32")
	case wit.F64:
		b.WriteString("f64")
	case wit.Char:
		b.WriteString("char")
	case wit.String:
		b.WriteString("string")
	case *wit.TypeDef:
		writeTypeDef(b, t)
	default:
		b.WriteString("?")
	}
}

func writeTypeDef(b *strings.Builder, t *wit.TypeDef) {
	switch k := t.Kind.(type) {
	case *wit.Record:
		b.WriteString("record{")
		for i, f := range k.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			writeType(b, f.Type)
		}
		b.WriteString("}")
	case *wit.Variant:
		b.WriteString("variant{")
		for i, c := range k.Cases {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			if c.Type != nil {
				b.WriteString("(")
				writeType(b, c.Type)
				b.WriteString(")")
			}
		}
		b.WriteString("}")
	case *wit.Enum:
		b.WriteString("enum{")
		for i, c := range k.Cases {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
		}
		b.WriteString("}")
	case *wit.Flags:
		b.WriteString("flags{")
		for i, f := range k.Flags {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
		}
		b.WriteString("}")
	case *wit.Tuple:
		b.WriteString("tuple<")
		for i, e := range k.Types {
			if i > 0 {
				b.WriteString(", ")
			}
			writeType(b, e)
		}
		b.WriteString(">")
	case *wit.List:
		b.WriteString("list<")
		writeType(b, k.Type)
		b.WriteString(">")
	case *wit.Option:
		b.WriteString("option<")
		writeType(b, k.Type)
		b.WriteString(">")
	case *wit.Result:
		b.WriteString("result<")
		writeType(b, k.OK)
		b.WriteString(", ")
		writeType(b, k.Err)
		b.WriteString(">")
	case *wit.Own:
		b.WriteString("own<")
		writeResourceName(b, k.Type)
		b.WriteString(">")
	case *wit.Borrow:
		b.WriteString("borrow<")
		writeResourceName(b, k.Type)
		b.WriteString(">")
	case *wit.Resource:
		b.WriteString("resource ")
		writeResourceName(b, t)
	case wit.Type:
		writeType(b, k)
	default:
		b.WriteString("?")
	}
}

func writeResourceName(b *strings.Builder, t *wit.TypeDef) {
	if t != nil && t.Name != nil {
		b.WriteString(*t.Name)
		return
	}
	b.WriteString("_")
}

func kindName(kind byte) string {
	switch kind {
	case ExternCoreModule:
		return "core module"
	case ExternFunc:
		return "func"
	case ExternValue:
		return "value"
	case ExternType:
		return "type"
	case ExternComponent:
		return "component"
	case ExternInstance:
		return "instance"
	}
	return "unknown"
}
