package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wippyai/wasm-rpc-stubgen/resolve"
	"github.com/wippyai/wasm-rpc-stubgen/stub"
)

// resourceNames are the Go identifiers derived from one stub resource.
type resourceNames struct {
	export string
	local  string
	table  string
	state  string
}

func namesOf(r *stub.Resource) resourceNames {
	n := resourceNames{
		export: GoName(r.Name),
		local:  goLocalName(r.Name),
		state:  "remoteInterface",
	}
	n.table = n.local + "Table"
	if r.Kind == stub.ForResource {
		n.state = "remoteResource"
	}
	return n
}

// signature is the rendered Go signature of one stub function.
type signature struct {
	params  []string
	types   []string
	results []string
}

func (s signature) paramList() string {
	parts := make([]string, len(s.params))
	for i := range s.params {
		parts[i] = s.params[i] + " " + s.types[i]
	}
	return strings.Join(parts, ", ")
}

func (g *goGen) signature(f *goFile, self bool, location bool, params []resolve.Param, results resolve.Results) signature {
	var s signature
	if self {
		s.params = append(s.params, "self")
		s.types = append(s.types, f.use(cmImport, "cm")+".Rep")
	}
	if location {
		s.params = append(s.params, "location")
		s.types = append(s.types, f.use(g.transportImport(), "rpc")+".URI")
	}
	for i, p := range params {
		s.params = append(s.params, fmt.Sprintf("p%d", i))
		s.types = append(s.types, g.goType(f, p.Type))
	}
	if results.Anon != nil {
		s.results = append(s.results, g.goType(f, *results.Anon))
	}
	for _, p := range results.Named {
		s.results = append(s.results, g.goType(f, p.Type))
	}
	return s
}

func (g *goGen) stubFile() *goFile {
	f := newGoFile("stub.go")
	stubPkg := f.use(g.stubImport(), "stub")
	rpc := f.use(g.transportImport(), "rpc")
	f.use(cmImport, "cm")

	f.p("// StubVersion is the version this stub was generated as.")
	f.p("const StubVersion = %q", g.version)
	f.p("")

	f.p("var (")
	for i := range g.w.Resources {
		n := namesOf(&g.w.Resources[i])
		f.p("%s = newHandleTable[%s]()", n.table, n.state)
	}
	f.p(")")
	f.p("")

	f.p("func init() {")
	for i := range g.w.Resources {
		r := &g.w.Resources[i]
		n := namesOf(r)
		f.p("%s.Exports.%s.Constructor = %sConstructor", stubPkg, n.export, n.local)
		f.p("%s.Exports.%s.Destructor = %sDestructor", stubPkg, n.export, n.local)
		for _, fn := range r.Functions {
			f.p("%s.Exports.%s.%s = %s%s", stubPkg, n.export, GoName(fn.Name), n.local, GoName(fn.Name))
		}
	}
	f.p("}")

	for i := range g.w.Resources {
		r := &g.w.Resources[i]
		g.constructor(f, r, rpc, stubPkg)
		g.destructor(f, r)
		for _, fn := range r.Functions {
			g.function(f, r, fn)
		}
	}
	return f
}

func (g *goGen) constructor(f *goFile, r *stub.Resource, rpc, stubPkg string) {
	n := namesOf(r)
	sig := g.signature(f, false, true, r.CtorParams, resolve.Results{})

	f.p("")
	if r.Kind != stub.ForResource {
		f.p("func %sConstructor(location %s.URI) %s.%s {", n.local, rpc, stubPkg, n.export)
		f.p("return %s.%sResourceNew(%s.add(&remoteInterface{conn: %s.NewWasmRPC(location)}))", stubPkg, n.export, n.table, rpc)
		f.p("}")
		return
	}

	f.p("func %sConstructor(%s) %s.%s {", n.local, sig.paramList(), stubPkg, n.export)
	f.p("st, err := call%sConstructor(%s)", n.export, strings.Join(sig.params, ", "))
	f.p("if err != nil {")
	f.p("panic(err)")
	f.p("}")
	f.p("return %s.%sResourceNew(%s.add(st))", stubPkg, n.export, n.table)
	f.p("}")
	f.p("")
	f.p("func call%sConstructor(%s) (*remoteResource, error) {", n.export, sig.paramList())
	f.p("conn := %s.NewWasmRPC(location)", rpc)
	f.p("r, err := invokeAndAwait(conn, %q, %s)", r.RemoteConstructor, g.paramValues(f, "", r.CtorParams))
	f.p("if err != nil {")
	f.p("conn.ResourceDrop()")
	f.p("return nil, err")
	f.p("}")
	f.p("items, err := r.results(1)")
	f.p("if err != nil {")
	f.p("return nil, err")
	f.p("}")
	f.p("uri, id, err := r.handle(items[0])")
	f.p("if err != nil {")
	f.p("return nil, err")
	f.p("}")
	f.p("return &remoteResource{conn: conn, uri: uri, id: id}, nil")
	f.p("}")
}

func (g *goGen) destructor(f *goFile, r *stub.Resource) {
	n := namesOf(r)
	cm := f.use(cmImport, "cm")
	f.p("")
	f.p("func %sDestructor(self %s.Rep) {", n.local, cm)
	f.p("st := %s.remove(self)", n.table)
	f.p("if st == nil {")
	f.p("return")
	f.p("}")
	if r.Kind == stub.ForResource {
		f.p("if _, err := invokeAndAwait(st.conn, %q, []%s.WitValue{st.value()}); err != nil {", r.RemoteDrop, f.use(g.transportImport(), "rpc"))
		f.p("panic(err)")
		f.p("}")
	}
	f.p("st.conn.ResourceDrop()")
	f.p("}")
}

// paramValues renders the wit-value list of a remote call, one value per
// parameter, preceded by the handle of self when self is set.
func (g *goGen) paramValues(f *goFile, self string, params []resolve.Param) string {
	rpc := f.use(g.transportImport(), "rpc")
	if len(params) == 0 && self == "" {
		return "nil"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[]%s.WitValue{\n", rpc)
	if self != "" {
		fmt.Fprintf(&b, "%s.value(),\n", self)
	}
	for i, p := range params {
		enc := g.register(p.Type, true)
		fmt.Fprintf(&b, "buildValue(func(b *witBuilder) %s.NodeIndex { return encode%s(b, p%d) }),\n", rpc, enc, i)
	}
	b.WriteString("}")
	return b.String()
}

func (g *goGen) function(f *goFile, r *stub.Resource, fn stub.Function) {
	n := namesOf(r)
	method := !fn.Static
	sig := g.signature(f, method, fn.Static, fn.Params, fn.Results)
	callName := "call" + n.export + GoName(fn.Name)

	results := make([]string, len(sig.results))
	for i := range results {
		results[i] = fmt.Sprintf("r%d", i)
	}

	// Export shim: traps on transport failure.
	f.p("")
	if fn.Doc != "" {
		for _, l := range strings.Split(fn.Doc, "\n") {
			f.p("// %s", l)
		}
	}
	f.p("func %s%s(%s)%s {", n.local, GoName(fn.Name), sig.paramList(), resultList(sig.results, false))
	assign := append(append([]string{}, results...), "err")
	if len(results) == 0 {
		f.p("if err := %s(%s); err != nil {", callName, strings.Join(sig.params, ", "))
		f.p("panic(err)")
		f.p("}")
	} else {
		f.p("%s := %s(%s)", strings.Join(assign, ", "), callName, strings.Join(sig.params, ", "))
		f.p("if err != nil {")
		f.p("panic(err)")
		f.p("}")
		f.p("return %s", strings.Join(results, ", "))
	}
	f.p("}")

	// Call: performs the remote invocation and decodes its results.
	named := make([]string, len(sig.results))
	for i, t := range sig.results {
		named[i] = results[i] + " " + t
	}
	f.p("")
	f.p("func %s(%s) (%s) {", callName, sig.paramList(), strings.Join(append(named, "err error"), ", "))
	ret := "return " + strings.Join(assign, ", ")

	switch {
	case fn.Static:
		rpc := f.use(g.transportImport(), "rpc")
		f.p("conn := %s.NewWasmRPC(location)", rpc)
		f.p("defer conn.ResourceDrop()")
	default:
		f.p("st := %s.get(self)", n.table)
		f.p("conn := st.conn")
	}
	self := ""
	if r.Kind == stub.ForResource && method {
		self = "st"
	}
	values := g.paramValues(f, self, fn.Params)
	if len(results) == 0 {
		f.p("_, err = invokeAndAwait(conn, %q, %s)", fn.RemoteName, values)
		f.p("return err")
		f.p("}")
		return
	}
	f.p("r, err := invokeAndAwait(conn, %q, %s)", fn.RemoteName, values)
	f.p("if err != nil {")
	f.p("%s", ret)
	f.p("}")
	f.p("items, err := r.results(%d)", len(results))
	f.p("if err != nil {")
	f.p("%s", ret)
	f.p("}")

	var types []resolve.Type
	if fn.Results.Anon != nil {
		types = append(types, *fn.Results.Anon)
	}
	for _, p := range fn.Results.Named {
		types = append(types, p.Type)
	}
	for i, t := range types {
		dec := g.register(t, false)
		f.p("if %s, err = decode%s(r, items[%d]); err != nil {", results[i], dec, i)
		f.p("%s", ret)
		f.p("}")
	}
	f.p("%s", ret)
	f.p("}")
}

func resultList(results []string, withErr bool) string {
	if withErr {
		results = append(results, "error")
	}
	switch len(results) {
	case 0:
		return ""
	case 1:
		return " " + results[0]
	}
	return " (" + strings.Join(results, ", ") + ")"
}

func (g *goGen) codecFile() *goFile {
	f := newGoFile("codec.go")

	emit := func(table map[string]*codec, body func(*goFile, *codec)) {
		list := make([]*codec, 0, len(table))
		for _, c := range table {
			list = append(list, c)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
		for _, c := range list {
			f.p("")
			body(f, c)
		}
	}
	emit(g.encoders, g.encoder)
	emit(g.decoders, g.decoder)
	return f
}

func (g *goGen) encoder(f *goFile, c *codec) {
	rpc := f.use(g.transportImport(), "rpc")
	def := g.src.Type(c.t.Def)
	f.p("func encode%s(b *witBuilder, v %s) %s.NodeIndex {", c.name, g.goType(f, c.t), rpc)

	enc := func(t resolve.Type) string { return "encode" + g.register(t, true) }
	cm := func() string { return f.use(cmImport, "cm") }
	indices := func(ctor string, elems []string) {
		f.p("i := b.reserve()")
		f.p("b.set(i, %s.%s(%s.ToList([]%s.NodeIndex{", rpc, ctor, cm(), rpc)
		for _, e := range elems {
			f.p("%s,", e)
		}
		f.p("})))")
		f.p("return i")
	}

	switch def.Kind {
	case resolve.KindRecord:
		elems := make([]string, len(def.Fields))
		for i, fl := range def.Fields {
			elems[i] = fmt.Sprintf("%s(b, v.%s)", enc(fl.Type), GoName(fl.Name))
		}
		indices("WitNodeRecordValue", elems)
	case resolve.KindTuple:
		elems := make([]string, len(def.Tuple))
		for i, e := range def.Tuple {
			elems[i] = fmt.Sprintf("%s(b, v.F%d)", enc(e), i)
		}
		indices("WitNodeTupleValue", elems)
	case resolve.KindVariant:
		f.p("i := b.reserve()")
		f.p("payload := %s.None[%s.NodeIndex]()", cm(), rpc)
		var cases []int
		for i, cs := range def.Cases {
			if cs.Type != nil {
				cases = append(cases, i)
			}
		}
		if len(cases) > 0 {
			f.p("switch v.Tag() {")
			for _, i := range cases {
				cs := def.Cases[i]
				f.p("case %d:", i)
				f.p("payload = %s.Some(%s(b, *v.%s()))", cm(), enc(*cs.Type), GoName(cs.Name))
			}
			f.p("}")
		}
		f.p("b.set(i, variantNode(uint32(v.Tag()), payload))")
		f.p("return i")
	case resolve.KindEnum:
		f.p("return b.add(%s.WitNodeEnumValue(uint32(v)))", rpc)
	case resolve.KindFlags:
		if len(def.Names) > 64 {
			g.fail("flags %q has more than 64 members", def.Name)
		}
		f.p("return b.add(flagsNode(uint64(v), %d))", len(def.Names))
	case resolve.KindList:
		f.p("i := b.reserve()")
		f.p("items := make([]%s.NodeIndex, 0, v.Len())", rpc)
		f.p("for _, e := range v.Slice() {")
		f.p("items = append(items, %s(b, e))", enc(def.Elem))
		f.p("}")
		f.p("b.set(i, %s.WitNodeListValue(%s.ToList(items)))", rpc, cm())
		f.p("return i")
	case resolve.KindOption:
		f.p("i := b.reserve()")
		f.p("payload := %s.None[%s.NodeIndex]()", cm(), rpc)
		f.p("if some := v.Some(); some != nil {")
		f.p("payload = %s.Some(%s(b, *some))", cm(), enc(def.Elem))
		f.p("}")
		f.p("b.set(i, %s.WitNodeOptionValue(payload))", rpc)
		f.p("return i")
	case resolve.KindResult:
		f.p("i := b.reserve()")
		f.p("payload := %s.None[%s.NodeIndex]()", cm(), rpc)
		if def.OK == nil && def.Err == nil {
			f.p("b.set(i, resultNode(bool(v), payload))")
			f.p("return i")
			break
		}
		if def.Err != nil {
			f.p("if e := v.Err(); e != nil {")
			f.p("payload = %s.Some(%s(b, *e))", cm(), enc(*def.Err))
			f.p("}")
		}
		if def.OK != nil {
			f.p("if ok := v.OK(); ok != nil {")
			f.p("payload = %s.Some(%s(b, *ok))", cm(), enc(*def.OK))
			f.p("}")
		}
		f.p("b.set(i, resultNode(v.IsErr(), payload))")
		f.p("return i")
	case resolve.KindOwn:
		f.p("return b.add(%s.get(v.ResourceRep()).node())", g.tableOf(def.Elem.Def))
	case resolve.KindBorrow:
		f.p("return b.add(%s.get(v).node())", g.tableOf(def.Elem.Def))
	default:
		g.fail("no encoder for %s", g.src.TypeString(c.t))
		f.p("panic(%q)", "unreachable")
	}
	f.p("}")
}

func (g *goGen) tableOf(resource resolve.TypeID) string {
	return goLocalName(g.w.Forwarded[resource]) + "Table"
}

func (g *goGen) decoder(f *goFile, c *codec) {
	rpc := f.use(g.transportImport(), "rpc")
	def := g.src.Type(c.t.Def)
	goT := g.goType(f, c.t)
	f.p("func decode%s(r *witReader, i %s.NodeIndex) (v %s, err error) {", c.name, rpc, goT)

	dec := func(t resolve.Type) string { return "decode" + g.register(t, false) }
	cm := func() string { return f.use(cmImport, "cm") }
	check := func() {
		f.p("if err != nil {")
		f.p("return v, err")
		f.p("}")
	}
	fields := func(reader string, n int, lhs func(int) string, types []resolve.Type) {
		if n == 0 {
			f.p("_, err = r.%s(i, 0)", reader)
			f.p("return v, err")
			return
		}
		f.p("items, err := r.%s(i, %d)", reader, n)
		check()
		for j, t := range types {
			f.p("if %s, err = %s(r, items[%d]); err != nil {", lhs(j), dec(t), j)
			f.p("return v, err")
			f.p("}")
		}
		f.p("return v, nil")
	}
	// payloadCase decodes a case payload with dec and returns wrap(x).
	payloadCase := func(t resolve.Type, wrap string) {
		f.p("p, err := r.payload(i, payload)")
		check()
		f.p("x, err := %s(r, p)", dec(t))
		check()
		f.p("return %s(x), nil", wrap)
	}

	switch def.Kind {
	case resolve.KindRecord:
		types := make([]resolve.Type, len(def.Fields))
		for j, fl := range def.Fields {
			types[j] = fl.Type
		}
		fields("record", len(types), func(j int) string { return "v." + GoName(def.Fields[j].Name) }, types)
	case resolve.KindTuple:
		fields("tuple", len(def.Tuple), func(j int) string { return fmt.Sprintf("v.F%d", j) }, def.Tuple)
	case resolve.KindVariant:
		qual := strings.TrimSuffix(goT, GoName(def.Name))
		f.p("tag, payload, err := r.variant(i)")
		check()
		f.p("switch tag {")
		for j, cs := range def.Cases {
			f.p("case %d:", j)
			ctor := qual + GoName(def.Name) + GoName(cs.Name)
			if cs.Type == nil {
				f.p("return %s(), nil", ctor)
				continue
			}
			payloadCase(*cs.Type, ctor)
		}
		f.p("}")
		f.p("_ = payload")
		f.p("return v, r.mismatch(i, %q)", "case of variant "+def.Name)
	case resolve.KindEnum:
		f.p("tag, err := r.enum(i, %d)", len(def.Names))
		f.p("return %s(tag), err", goT)
	case resolve.KindFlags:
		f.p("bits, err := r.flags(i, %d)", len(def.Names))
		f.p("return %s(bits), err", goT)
	case resolve.KindList:
		f.p("items, err := r.list(i)")
		check()
		f.p("out := make([]%s, 0, len(items))", g.goType(f, def.Elem))
		f.p("for _, item := range items {")
		f.p("e, err := %s(r, item)", dec(def.Elem))
		check()
		f.p("out = append(out, e)")
		f.p("}")
		f.p("return %s.ToList(out), nil", cm())
	case resolve.KindOption:
		f.p("some, err := r.option(i)")
		f.p("if err != nil || some == nil {")
		f.p("return v, err")
		f.p("}")
		f.p("e, err := %s(r, *some)", dec(def.Elem))
		check()
		f.p("return %s.Some(e), nil", cm())
	case resolve.KindResult:
		f.p("isErr, payload, err := r.result(i)")
		check()
		if def.OK == nil && def.Err == nil {
			f.p("_ = payload")
			f.p("return %s.BoolResult(isErr), nil", cm())
			break
		}
		f.p("if isErr {")
		if def.Err != nil {
			payloadCase(*def.Err, fmt.Sprintf("%s.Err[%s]", cm(), goT))
		} else {
			f.p("return %s.Err[%s](struct{}{}), nil", cm(), goT)
		}
		f.p("}")
		if def.OK != nil {
			payloadCase(*def.OK, fmt.Sprintf("%s.OK[%s]", cm(), goT))
		} else {
			f.p("_ = payload")
			f.p("return %s.OK[%s](struct{}{}), nil", cm(), goT)
		}
	case resolve.KindOwn:
		name := g.w.Forwarded[def.Elem.Def]
		f.p("uri, id, err := r.handle(i)")
		check()
		f.p("return %s.%sResourceNew(%s.add(newRemoteResource(uri, id))), nil",
			f.use(g.stubImport(), "stub"), GoName(name), g.tableOf(def.Elem.Def))
	default:
		g.fail("no decoder for %s", g.src.TypeString(c.t))
		f.p("panic(%q)", "unreachable")
	}
	f.p("}")
}
