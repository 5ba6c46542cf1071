package codegen

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-rpc-stubgen/resolve"
)

// layoutInfo is the canonical ABI size and alignment of a type.
type layoutInfo struct {
	Size  uint32
	Align uint32
}

// layoutCalculator computes canonical ABI layouts. The Go bindings pick the
// storage shape of a result from the larger of its two payloads.
type layoutCalculator struct {
	cache map[*wit.TypeDef]layoutInfo
}

func newLayoutCalculator() *layoutCalculator {
	return &layoutCalculator{cache: make(map[*wit.TypeDef]layoutInfo)}
}

func alignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

func discriminantSize(cases int) uint32 {
	switch {
	case cases <= 256:
		return 1
	case cases <= 65536:
		return 2
	}
	return 4
}

func (c *layoutCalculator) calculate(t wit.Type) layoutInfo {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return layoutInfo{Size: 1, Align: 1}
	case wit.U16, wit.S16:
		return layoutInfo{Size: 2, Align: 2}
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return layoutInfo{Size: 4, Align: 4}
	case wit.U64, wit.S64, wit.F64:
		return layoutInfo{Size: 8, Align: 8}
	case wit.String:
		return layoutInfo{Size: 8, Align: 4}
	case *wit.TypeDef:
		return c.typeDef(typ)
	}
	return layoutInfo{Size: 0, Align: 1}
}

func (c *layoutCalculator) typeDef(t *wit.TypeDef) layoutInfo {
	if cached, ok := c.cache[t]; ok {
		return cached
	}

	var info layoutInfo
	switch kind := t.Kind.(type) {
	case *wit.Record:
		types := make([]wit.Type, len(kind.Fields))
		for i, f := range kind.Fields {
			types[i] = f.Type
		}
		info = c.sequence(types)
	case *wit.Tuple:
		info = c.sequence(kind.Types)
	case *wit.Variant:
		payloads := make([]wit.Type, len(kind.Cases))
		for i, cs := range kind.Cases {
			payloads[i] = cs.Type
		}
		info = c.tagged(discriminantSize(len(kind.Cases)), payloads...)
	case *wit.Enum:
		size := discriminantSize(len(kind.Cases))
		info = layoutInfo{Size: size, Align: size}
	case *wit.Flags:
		info = flagsLayout(len(kind.Flags))
	case *wit.List:
		info = layoutInfo{Size: 8, Align: 4}
	case *wit.Option:
		info = c.tagged(1, kind.Type)
	case *wit.Result:
		info = c.tagged(1, kind.OK, kind.Err)
	case *wit.Own, *wit.Borrow:
		info = layoutInfo{Size: 4, Align: 4}
	case wit.Type:
		info = c.calculate(kind)
	default:
		info = layoutInfo{Size: 0, Align: 1}
	}

	c.cache[t] = info
	return info
}

func (c *layoutCalculator) sequence(types []wit.Type) layoutInfo {
	maxAlign := uint32(1)
	offset := uint32(0)
	for _, t := range types {
		l := c.calculate(t)
		offset = alignTo(offset, l.Align)
		if l.Align > maxAlign {
			maxAlign = l.Align
		}
		offset += l.Size
	}
	return layoutInfo{Size: alignTo(offset, maxAlign), Align: maxAlign}
}

func (c *layoutCalculator) tagged(disc uint32, payloads ...wit.Type) layoutInfo {
	maxAlign := disc
	maxSize := uint32(0)
	for _, p := range payloads {
		if p == nil {
			continue
		}
		l := c.calculate(p)
		if l.Align > maxAlign {
			maxAlign = l.Align
		}
		if l.Size > maxSize {
			maxSize = l.Size
		}
	}
	payloadOffset := alignTo(disc, maxAlign)
	return layoutInfo{Size: alignTo(payloadOffset+maxSize, maxAlign), Align: maxAlign}
}

func flagsLayout(n int) layoutInfo {
	switch {
	case n == 0:
		return layoutInfo{Size: 0, Align: 1}
	case n <= 8:
		return layoutInfo{Size: 1, Align: 1}
	case n <= 16:
		return layoutInfo{Size: 2, Align: 2}
	case n <= 32:
		return layoutInfo{Size: 4, Align: 4}
	}
	return layoutInfo{Size: uint32((n+31)/32) * 4, Align: 4}
}

// larger reports whether a is stored in preference to b: the larger size
// wins, then the stricter alignment, then a.
func (c *layoutCalculator) larger(a, b wit.Type) bool {
	la, lb := c.calculate(a), c.calculate(b)
	if la.Size != lb.Size {
		return la.Size > lb.Size
	}
	return la.Align >= lb.Align
}

// witTypes converts resolved types into wit.Type values for layout queries.
type witTypes struct {
	src  *resolve.Source
	defs map[resolve.TypeID]*wit.TypeDef
}

func newWitTypes(src *resolve.Source) *witTypes {
	return &witTypes{src: src, defs: make(map[resolve.TypeID]*wit.TypeDef)}
}

func witPrim(p resolve.Prim) wit.Type {
	switch p {
	case resolve.PrimBool:
		return wit.Bool{}
	case resolve.PrimU8:
		return wit.U8{}
	case resolve.PrimU16:
		return wit.U16{}
	case resolve.PrimU32:
		return wit.U32{}
	case resolve.PrimU64:
		return wit.U64{}
	case resolve.PrimS8:
		return wit.S8{}
	case resolve.PrimS16:
		return wit.S16{}
	case resolve.PrimS32:
		return wit.S32{}
	case resolve.PrimS64:
		return wit.S64{}
	case resolve.PrimF32:
		return wit.F32{}
	case resolve.PrimF64:
		return wit.F64{}
	case resolve.PrimChar:
		return wit.Char{}
	case resolve.PrimString:
		return wit.String{}
	}
	return nil
}

func (c *witTypes) convert(t resolve.Type) wit.Type {
	if t.IsPrim() {
		return witPrim(t.Prim)
	}
	if def, ok := c.defs[t.Def]; ok {
		return def
	}
	src := c.src.Type(t.Def)
	def := &wit.TypeDef{}
	if src.Name != "" {
		name := src.Name
		def.Name = &name
	}
	// Register before converting children: handles refer back to resources.
	c.defs[t.Def] = def

	opt := func(t *resolve.Type) wit.Type {
		if t == nil {
			return nil
		}
		return c.convert(*t)
	}
	switch src.Kind {
	case resolve.KindAlias:
		if k, ok := c.convert(src.Elem).(wit.TypeDefKind); ok {
			def.Kind = k
		}
	case resolve.KindRecord:
		rec := &wit.Record{Fields: make([]wit.Field, len(src.Fields))}
		for i, f := range src.Fields {
			rec.Fields[i] = wit.Field{Name: f.Name, Type: c.convert(f.Type)}
		}
		def.Kind = rec
	case resolve.KindVariant:
		v := &wit.Variant{Cases: make([]wit.Case, len(src.Cases))}
		for i, cs := range src.Cases {
			v.Cases[i] = wit.Case{Name: cs.Name, Type: opt(cs.Type)}
		}
		def.Kind = v
	case resolve.KindEnum:
		e := &wit.Enum{Cases: make([]wit.EnumCase, len(src.Names))}
		for i, n := range src.Names {
			e.Cases[i] = wit.EnumCase{Name: n}
		}
		def.Kind = e
	case resolve.KindFlags:
		f := &wit.Flags{Flags: make([]wit.Flag, len(src.Names))}
		for i, n := range src.Names {
			f.Flags[i] = wit.Flag{Name: n}
		}
		def.Kind = f
	case resolve.KindResource:
		def.Kind = &wit.Resource{}
	case resolve.KindList:
		def.Kind = &wit.List{Type: c.convert(src.Elem)}
	case resolve.KindOption:
		def.Kind = &wit.Option{Type: c.convert(src.Elem)}
	case resolve.KindResult:
		def.Kind = &wit.Result{OK: opt(src.OK), Err: opt(src.Err)}
	case resolve.KindTuple:
		tup := &wit.Tuple{Types: make([]wit.Type, len(src.Tuple))}
		for i, e := range src.Tuple {
			tup.Types[i] = c.convert(e)
		}
		def.Kind = tup
	case resolve.KindOwn:
		def.Kind = &wit.Own{Type: c.convert(src.Elem).(*wit.TypeDef)}
	case resolve.KindBorrow:
		def.Kind = &wit.Borrow{Type: c.convert(src.Elem).(*wit.TypeDef)}
	}
	return def
}
