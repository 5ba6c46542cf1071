package codegen

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/tools/imports"

	"github.com/wippyai/wasm-rpc-stubgen/errors"
	"github.com/wippyai/wasm-rpc-stubgen/resolve"
	"github.com/wippyai/wasm-rpc-stubgen/stub"
)

const (
	cmImport    = "go.bytecodealliance.org/cm"
	generatedBy = "// Code generated by wasm-rpc-stubgen. DO NOT EDIT.\n\n"
)

type primCodec struct {
	Name, Go, Node, Zero, Wit string
}

var primCodecs = map[resolve.Prim]primCodec{
	resolve.PrimBool:   {"Bool", "bool", "Bool", "false", "bool"},
	resolve.PrimU8:     {"U8", "uint8", "U8", "0", "u8"},
	resolve.PrimU16:    {"U16", "uint16", "U16", "0", "u16"},
	resolve.PrimU32:    {"U32", "uint32", "U32", "0", "u32"},
	resolve.PrimU64:    {"U64", "uint64", "U64", "0", "u64"},
	resolve.PrimS8:     {"S8", "int8", "S8", "0", "s8"},
	resolve.PrimS16:    {"S16", "int16", "S16", "0", "s16"},
	resolve.PrimS32:    {"S32", "int32", "S32", "0", "s32"},
	resolve.PrimS64:    {"S64", "int64", "S64", "0", "s64"},
	resolve.PrimF32:    {"F32", "float32", "Float32", "0", "f32"},
	resolve.PrimF64:    {"F64", "float64", "Float64", "0", "f64"},
	resolve.PrimChar:   {"Char", "rune", "Char", "0", "char"},
	resolve.PrimString: {"String", "string", "String", `""`, "string"},
}

// goFile accumulates one generated Go source file.
type goFile struct {
	name    string
	buf     bytes.Buffer
	imports map[string]string
}

func newGoFile(name string) *goFile {
	return &goFile{name: name, imports: make(map[string]string)}
}

func (f *goFile) p(format string, args ...any) {
	fmt.Fprintf(&f.buf, format, args...)
	f.buf.WriteByte('\n')
}

// use records an import and returns its qualifier.
func (f *goFile) use(importPath, alias string) string {
	f.imports[alias] = importPath
	return alias
}

func (f *goFile) source() []byte {
	var out bytes.Buffer
	out.WriteString(generatedBy)
	out.WriteString("package main\n\n")
	if len(f.imports) > 0 {
		aliases := make([]string, 0, len(f.imports))
		for a := range f.imports {
			aliases = append(aliases, a)
		}
		sort.Strings(aliases)
		out.WriteString("import (\n")
		for _, a := range aliases {
			if p := f.imports[a]; path.Base(p) == a {
				fmt.Fprintf(&out, "\t%q\n", p)
			} else {
				fmt.Fprintf(&out, "\t%s %q\n", a, p)
			}
		}
		out.WriteString(")\n\n")
	}
	out.Write(f.buf.Bytes())
	return out.Bytes()
}

// codec is a generated encoder or decoder for one non-primitive type.
type codec struct {
	key  string
	name string
	t    resolve.Type
}

// goGen emits the Go sources of a TinyGo stub project.
type goGen struct {
	w       *stub.World
	src     *resolve.Source
	module  string
	version string
	conv    *witTypes
	calc    *layoutCalculator

	inlined map[resolve.TypeID]bool
	pkgs    map[resolve.InterfaceID]string
	aliases map[string]string

	names    map[string]string
	encoders map[string]*codec
	decoders map[string]*codec

	err error
}

func newGoGen(w *stub.World, module, version string) *goGen {
	g := &goGen{
		w:        w,
		src:      w.Source,
		module:   module,
		version:  version,
		conv:     newWitTypes(w.Source),
		calc:     newLayoutCalculator(),
		inlined:  make(map[resolve.TypeID]bool),
		pkgs:     make(map[resolve.InterfaceID]string),
		aliases:  map[string]string{"cm": cmImport, "fmt": "fmt"},
		names:    make(map[string]string),
		encoders: make(map[string]*codec),
		decoders: make(map[string]*codec),
	}
	g.aliases["rpc"] = g.transportImport()
	g.aliases["stub"] = g.stubImport()
	for _, id := range w.Inlined {
		g.inlined[id] = true
	}
	return g
}

func (g *goGen) fail(format string, args ...any) {
	if g.err == nil {
		g.err = errors.Invariant(errors.PhaseGenerate, format, args...)
	}
}

func (g *goGen) bindingPath(ns, pkg, iface string) string {
	return path.Join(g.module, "internal", ns, pkg, iface)
}

func (g *goGen) transportImport() string {
	return g.bindingPath("golem", "rpc", "types")
}

func (g *goGen) stubImport() string {
	return g.bindingPath(g.w.Package.Namespace, g.w.Package.Name, g.w.InterfaceName)
}

// ifaceAlias returns the import alias of a source interface's bindings.
func (g *goGen) ifaceAlias(id resolve.InterfaceID) string {
	if alias, ok := g.pkgs[id]; ok {
		return alias
	}
	iface := g.src.Interface(id)
	pkg := g.src.Packages[iface.Package].Name
	importPath := g.bindingPath(pkg.Namespace, pkg.Name, iface.Name)

	candidates := []string{
		goPackageName(iface.Name),
		goPackageName(pkg.Name) + goPackageName(iface.Name),
		goPackageName(pkg.Namespace) + goPackageName(pkg.Name) + goPackageName(iface.Name),
	}
	alias := ""
	for _, c := range candidates {
		if p, taken := g.aliases[c]; !taken || p == importPath {
			alias = c
			break
		}
	}
	for n := 2; alias == ""; n++ {
		c := fmt.Sprintf("%s%d", candidates[0], n)
		if _, taken := g.aliases[c]; !taken {
			alias = c
		}
	}
	g.aliases[alias] = importPath
	g.pkgs[id] = alias
	return alias
}

// goType renders the Go type the bindings use for t.
func (g *goGen) goType(f *goFile, t resolve.Type) string {
	if t.IsPrim() {
		return primCodecs[t.Prim].Go
	}
	def := g.src.Type(t.Def)
	if def.Name != "" {
		if def.Kind == resolve.KindResource {
			return g.handleType(f, t.Def)
		}
		if g.inlined[t.Def] || def.Owner.Kind != resolve.OwnerInterface {
			return f.use(g.stubImport(), "stub") + "." + GoName(def.Name)
		}
		alias := g.ifaceAlias(def.Owner.Interface)
		return f.use(g.aliases[alias], alias) + "." + GoName(def.Name)
	}

	cm := func() string { return f.use(cmImport, "cm") }
	switch def.Kind {
	case resolve.KindList:
		return cm() + ".List[" + g.goType(f, def.Elem) + "]"
	case resolve.KindOption:
		return cm() + ".Option[" + g.goType(f, def.Elem) + "]"
	case resolve.KindResult:
		if def.OK == nil && def.Err == nil {
			return cm() + ".BoolResult"
		}
		ok, errT, shape := "struct{}", "struct{}", ""
		if def.OK != nil {
			ok = g.goType(f, *def.OK)
			shape = ok
		}
		if def.Err != nil {
			errT = g.goType(f, *def.Err)
			if def.OK == nil || !g.calc.larger(g.conv.convert(*def.OK), g.conv.convert(*def.Err)) {
				shape = errT
			}
		}
		return cm() + ".Result[" + shape + ", " + ok + ", " + errT + "]"
	case resolve.KindTuple:
		n := len(def.Tuple)
		if n < 2 || n > 16 {
			g.fail("tuple of %d elements has no Go binding", n)
			return "struct{}"
		}
		name := "Tuple"
		if n > 2 {
			name = fmt.Sprintf("Tuple%d", n)
		}
		parts := make([]string, n)
		for i, e := range def.Tuple {
			parts[i] = g.goType(f, e)
		}
		return cm() + "." + name + "[" + strings.Join(parts, ", ") + "]"
	case resolve.KindOwn:
		return g.handleType(f, def.Elem.Def)
	case resolve.KindBorrow:
		return cm() + ".Rep"
	case resolve.KindAlias:
		return g.goType(f, def.Elem)
	}
	g.fail("type %s has no Go binding", g.src.TypeString(t))
	return "struct{}"
}

func (g *goGen) handleType(f *goFile, resource resolve.TypeID) string {
	name, ok := g.w.Forwarded[resource]
	if !ok {
		g.fail("resource %q is not forwarded by the stub", g.src.Type(resource).Name)
	}
	return f.use(g.stubImport(), "stub") + "." + GoName(name)
}

// codecName returns the stem shared by the encoder and decoder of t.
func (g *goGen) codecName(t resolve.Type) string {
	if t.IsPrim() {
		return primCodecs[t.Prim].Name
	}
	def := g.src.Type(t.Def)
	if def.Name != "" {
		return GoName(def.Name)
	}
	switch def.Kind {
	case resolve.KindList:
		return "List" + g.codecName(def.Elem)
	case resolve.KindOption:
		return "Option" + g.codecName(def.Elem)
	case resolve.KindResult:
		name := "Result"
		for _, p := range []*resolve.Type{def.OK, def.Err} {
			if p == nil {
				name += "Void"
				continue
			}
			name += g.codecName(*p)
		}
		return name
	case resolve.KindTuple:
		name := "Tuple"
		for _, e := range def.Tuple {
			name += g.codecName(e)
		}
		return name
	case resolve.KindOwn:
		return "Own" + GoName(g.w.Forwarded[def.Elem.Def])
	case resolve.KindBorrow:
		return "Borrow" + GoName(g.w.Forwarded[def.Elem.Def])
	}
	return def.Kind.String()
}

func (g *goGen) codecKey(t resolve.Type) string {
	if t.IsPrim() {
		return t.Prim.String()
	}
	def := g.src.Type(t.Def)
	if def.Name != "" {
		return fmt.Sprintf("#%d", t.Def)
	}
	switch def.Kind {
	case resolve.KindResult:
		key := "result<"
		for _, p := range []*resolve.Type{def.OK, def.Err} {
			if p == nil {
				key += "_,"
				continue
			}
			key += g.codecKey(*p) + ","
		}
		return key + ">"
	case resolve.KindTuple:
		parts := make([]string, len(def.Tuple))
		for i, e := range def.Tuple {
			parts[i] = g.codecKey(e)
		}
		return "tuple<" + strings.Join(parts, ",") + ">"
	}
	return def.Kind.String() + "<" + g.codecKey(def.Elem) + ">"
}

// register records the codec for t and everything it contains. It returns
// the codec stem.
func (g *goGen) register(t resolve.Type, encode bool) string {
	t = g.src.Unalias(t)
	if t.IsPrim() {
		return primCodecs[t.Prim].Name
	}
	key := g.codecKey(t)
	table := g.decoders
	if encode {
		table = g.encoders
	}
	if c, ok := table[key]; ok {
		return c.name
	}
	name, ok := g.names[key]
	if !ok {
		base := g.codecName(t)
		name = base
		for n := 2; g.nameTaken(name); n++ {
			name = fmt.Sprintf("%s%d", base, n)
		}
		g.names[key] = name
	}
	table[key] = &codec{key: key, name: name, t: t}

	def := g.src.Type(t.Def)
	if def.Kind == resolve.KindOwn || def.Kind == resolve.KindBorrow {
		return name
	}
	for _, ref := range def.Refs() {
		g.register(ref, encode)
	}
	return name
}

func (g *goGen) nameTaken(name string) bool {
	for _, n := range g.names {
		if n == name {
			return true
		}
	}
	for _, pc := range primCodecs {
		if pc.Name == name {
			return true
		}
	}
	return false
}

// files renders main.go, witvalue.go, stub.go and codec.go.
func (g *goGen) files() (map[string][]byte, error) {
	out := make(map[string][]byte)

	mainSrc, err := renderTemplate("main.go.tmpl", nil)
	if err != nil {
		return nil, err
	}
	out["main.go"] = mainSrc

	prims := make([]primCodec, 0, len(primCodecs))
	for p := resolve.PrimBool; p <= resolve.PrimString; p++ {
		prims = append(prims, primCodecs[p])
	}
	witvalue, err := renderTemplate("witvalue.go.tmpl", map[string]any{
		"Module": g.module,
		"Prims":  prims,
	})
	if err != nil {
		return nil, err
	}
	out["witvalue.go"] = witvalue

	stubFile := g.stubFile()
	codecFile := g.codecFile()
	if g.err != nil {
		return nil, g.err
	}
	out["stub.go"] = stubFile.source()
	out["codec.go"] = codecFile.source()

	for name, src := range out {
		formatted, err := imports.Process(name, src, &imports.Options{
			FormatOnly: true,
			Comments:   true,
			TabIndent:  true,
			TabWidth:   8,
		})
		if err != nil {
			return nil, errors.New(errors.PhaseGenerate, errors.KindInvariant).
				Artifact(name).
				Cause(err).
				Detail("generated Go source does not parse").
				Build()
		}
		out[name] = formatted
	}
	return out, nil
}

func renderTemplate(name string, data any) ([]byte, error) {
	tmpl, err := template.ParseFS(templates, "templates/"+name)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseGenerate, errors.KindInvariant, err, "parse template "+name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, errors.Wrap(errors.PhaseGenerate, errors.KindInvariant, err, "render template "+name)
	}
	return buf.Bytes(), nil
}
