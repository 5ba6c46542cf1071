package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wippyai/wasm-rpc-stubgen/resolve"
	"github.com/wippyai/wasm-rpc-stubgen/stub"
)

// StubWitFile is the stub interface description, relative to the target root.
const StubWitFile = "wit/_stub.wit"

// witPrinter renders the stub world as WIT text.
type witPrinter struct {
	w   *stub.World
	src *resolve.Source
	buf bytes.Buffer
	ind int
}

// StubWit renders the stub package: one interface holding every stub
// resource and one world exporting it.
func StubWit(w *stub.World) []byte {
	p := &witPrinter{w: w, src: w.Source}
	p.print()
	return p.buf.Bytes()
}

func (p *witPrinter) line(format string, args ...any) {
	if format == "" {
		p.buf.WriteByte('\n')
		return
	}
	p.buf.WriteString(strings.Repeat("  ", p.ind))
	fmt.Fprintf(&p.buf, format, args...)
	p.buf.WriteByte('\n')
}

func (p *witPrinter) doc(doc string) {
	if doc == "" {
		return
	}
	for _, l := range strings.Split(doc, "\n") {
		p.line("/// %s", strings.TrimRight(l, " "))
	}
}

func (p *witPrinter) print() {
	p.line("package %s;", p.w.Package.Unversioned())
	p.line("")
	p.line("interface %s {", witIdent(p.w.InterfaceName))
	p.ind++
	p.line("use %s.{%s};", stub.TransportInterface, stub.LocationType)
	for _, u := range p.w.Uses {
		names := make([]string, len(u.Types))
		for i, id := range u.Types {
			names[i] = witIdent(p.src.Type(id).Name)
		}
		p.line("use %s.{%s};", u.Qualified, strings.Join(names, ", "))
	}
	for _, id := range p.w.Inlined {
		p.line("")
		p.typeDef(p.src.Type(id))
	}
	for i := range p.w.Resources {
		p.line("")
		p.resource(&p.w.Resources[i])
	}
	p.ind--
	p.line("}")
	p.line("")
	p.line("world %s {", witIdent(p.w.WorldName))
	p.ind++
	p.line("export %s;", witIdent(p.w.InterfaceName))
	p.ind--
	p.line("}")
}

func (p *witPrinter) typeDef(def *resolve.TypeDef) {
	p.doc(def.Doc)
	name := witIdent(def.Name)
	switch def.Kind {
	case resolve.KindRecord:
		p.line("record %s {", name)
		p.ind++
		for _, f := range def.Fields {
			p.line("%s: %s,", witIdent(f.Name), p.typ(f.Type))
		}
		p.ind--
		p.line("}")
	case resolve.KindVariant:
		p.line("variant %s {", name)
		p.ind++
		for _, c := range def.Cases {
			if c.Type == nil {
				p.line("%s,", witIdent(c.Name))
				continue
			}
			p.line("%s(%s),", witIdent(c.Name), p.typ(*c.Type))
		}
		p.ind--
		p.line("}")
	case resolve.KindEnum, resolve.KindFlags:
		p.line("%s %s {", def.Kind, name)
		p.ind++
		for _, n := range def.Names {
			p.line("%s,", witIdent(n))
		}
		p.ind--
		p.line("}")
	default:
		p.line("type %s = %s;", name, p.anon(def))
	}
}

func (p *witPrinter) resource(r *stub.Resource) {
	p.doc(r.Doc)
	p.line("resource %s {", witIdent(r.Name))
	p.ind++
	p.line("constructor(%s);", p.params(r.CtorParams, true))
	for _, fn := range r.Functions {
		p.doc(fn.Doc)
		kw := "func"
		if fn.Static {
			kw = "static func"
		}
		p.line("%s: %s(%s)%s;", witIdent(fn.Name), kw, p.params(fn.Params, fn.Static), p.results(fn.Results))
	}
	p.ind--
	p.line("}")
}

// params renders a parameter list, led by the location parameter when
// location is set.
func (p *witPrinter) params(params []resolve.Param, location bool) string {
	parts := make([]string, 0, len(params)+1)
	if location {
		parts = append(parts, stub.LocationParam+": "+stub.LocationType)
	}
	for _, prm := range params {
		parts = append(parts, witIdent(prm.Name)+": "+p.typ(prm.Type))
	}
	return strings.Join(parts, ", ")
}

func (p *witPrinter) results(r resolve.Results) string {
	switch {
	case r.Anon != nil:
		return " -> " + p.typ(*r.Anon)
	case len(r.Named) > 0:
		return " -> (" + p.params(r.Named, false) + ")"
	}
	return ""
}

func (p *witPrinter) typ(t resolve.Type) string {
	if t.IsPrim() {
		return t.Prim.String()
	}
	def := p.src.Type(t.Def)
	if def.Name != "" {
		if def.Kind == resolve.KindResource {
			if name, ok := p.w.Forwarded[t.Def]; ok {
				return witIdent(name)
			}
		}
		return witIdent(def.Name)
	}
	return p.anon(def)
}

func (p *witPrinter) anon(def *resolve.TypeDef) string {
	switch def.Kind {
	case resolve.KindList:
		return "list<" + p.typ(def.Elem) + ">"
	case resolve.KindOption:
		return "option<" + p.typ(def.Elem) + ">"
	case resolve.KindOwn:
		return p.typ(def.Elem)
	case resolve.KindBorrow:
		return "borrow<" + p.typ(def.Elem) + ">"
	case resolve.KindTuple:
		parts := make([]string, len(def.Tuple))
		for i, e := range def.Tuple {
			parts[i] = p.typ(e)
		}
		return "tuple<" + strings.Join(parts, ", ") + ">"
	case resolve.KindResult:
		switch {
		case def.OK == nil && def.Err == nil:
			return "result"
		case def.Err == nil:
			return "result<" + p.typ(*def.OK) + ">"
		case def.OK == nil:
			return "result<_, " + p.typ(*def.Err) + ">"
		}
		return "result<" + p.typ(*def.OK) + ", " + p.typ(*def.Err) + ">"
	case resolve.KindAlias:
		return p.typ(def.Elem)
	}
	return def.Kind.String()
}
