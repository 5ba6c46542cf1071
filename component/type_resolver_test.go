package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bytecodealliance.org/wit"
)

// counterInstance declares a resource with a constructor and a method plus
// a record-typed function.
func counterInstance() *InstanceType {
	return &InstanceType{Decls: []Decl{
		{Kind: DeclExport, Name: "counter", Desc: ExternDesc{Kind: ExternType, Bound: BoundSubResource}},
		{Kind: DeclType, Type: OwnType{Index: 0}},
		{Kind: DeclType, Type: BorrowType{Index: 0}},
		{Kind: DeclType, Type: &FuncType{
			Params: []FieldType{{Name: "self", Type: Ref(2)}},
			Result: u32Ptr(Prim(PrimU64)),
		}},
		{Kind: DeclExport, Name: "[method]counter.get", Desc: ExternDesc{Kind: ExternFunc, Index: 3}},
		{Kind: DeclType, Type: &FuncType{
			Params: []FieldType{{Name: "start", Type: Prim(PrimU64)}},
			Result: u32Ptr(Ref(1)),
		}},
		{Kind: DeclExport, Name: "[constructor]counter", Desc: ExternDesc{Kind: ExternFunc, Index: 4}},
		{Kind: DeclType, Type: ListType{Elem: Prim(PrimString)}},
		{Kind: DeclType, Type: RecordType{Fields: []FieldType{
			{Name: "x", Type: Prim(PrimU32)},
			{Name: "tags", Type: Ref(5)},
		}}},
		{Kind: DeclExport, Name: "point", Desc: ExternDesc{Kind: ExternType, Bound: BoundEq, Index: 6}},
		{Kind: DeclType, Type: &FuncType{Params: []FieldType{{Name: "p", Type: Ref(7)}}}},
		{Kind: DeclExport, Name: "move", Desc: ExternDesc{Kind: ExternFunc, Index: 8}},
	}}
}

func funcStrings(sig *Signature) map[string]string {
	out := make(map[string]string, len(sig.Funcs))
	for _, f := range sig.Funcs {
		out[f.Name] = f.String()
	}
	return out
}

func TestImportSignature_Instance(t *testing.T) {
	b := NewBuilder()
	b.Types(nil, counterInstance())
	b.Imports(nil, Import{Name: "test:counters/api", Desc: ExternDesc{Kind: ExternInstance, Index: 0}})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	sig, err := comp.ImportSignature(comp.Imports[0])
	require.NoError(t, err)

	assert.Equal(t, ExternInstance, sig.Kind)
	names := make([]string, len(sig.Funcs))
	for i, f := range sig.Funcs {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"[constructor]counter", "[method]counter.get", "move"}, names)
	assert.Equal(t, map[string]string{
		"[constructor]counter": "func(start: u64) -> own<counter>",
		"[method]counter.get":  "func(self: borrow<counter>) -> u64",
		"move":                 "func(p: record{x: u32, tags: list<string>})",
	}, funcStrings(sig))
}

func TestImportSignature_OuterAlias(t *testing.T) {
	b := NewBuilder()
	b.Types(nil, &InstanceType{Decls: []Decl{
		{Kind: DeclType, Type: EnumType{Names: []string{"fast", "slow"}}},
		{Kind: DeclExport, Name: "mode", Desc: ExternDesc{Kind: ExternType, Bound: BoundEq, Index: 0}},
	}})
	b.Imports(nil, Import{Name: "test:a/types", Desc: ExternDesc{Kind: ExternInstance, Index: 0}})
	b.Aliases(nil, Alias{Sort: SortType, Target: AliasExport, Instance: 0, Name: "mode"})
	b.Types(nil, &InstanceType{Decls: []Decl{
		{Kind: DeclAlias, Alias: Alias{Sort: SortType, Target: AliasOuter, Outer: 1, Index: 1}},
		{Kind: DeclExport, Name: "mode", Desc: ExternDesc{Kind: ExternType, Bound: BoundEq, Index: 0}},
		{Kind: DeclType, Type: &FuncType{
			Params: []FieldType{{Name: "m", Type: Ref(1)}},
			Result: u32Ptr(Prim(PrimBool)),
		}},
		{Kind: DeclExport, Name: "check", Desc: ExternDesc{Kind: ExternFunc, Index: 2}},
	}})
	b.Imports(nil, Import{Name: "test:a/api", Desc: ExternDesc{Kind: ExternInstance, Index: 2}})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, comp.Imports, 2)
	sig, err := comp.ImportSignature(comp.Imports[1])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"check": "func(m: enum{fast, slow}) -> bool"}, funcStrings(sig))
}

func TestImportSignature_Func(t *testing.T) {
	b := NewBuilder()
	b.Types(nil, &FuncType{Params: []FieldType{{Name: "msg", Type: Prim(PrimString)}}})
	b.Imports(nil, Import{Name: "log", Desc: ExternDesc{Kind: ExternFunc, Index: 0}})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	sig, err := comp.ImportSignature(comp.Imports[0])
	require.NoError(t, err)
	assert.Equal(t, "func(msg: string)", sig.String())
}

func TestImportSignature_NotAnInstanceType(t *testing.T) {
	b := NewBuilder()
	b.Types(nil, PrimU32)
	b.Imports(nil, Import{Name: "bad", Desc: ExternDesc{Kind: ExternInstance, Index: 0}})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	_, err = comp.ImportSignature(comp.Imports[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), `import "bad"`)
}

// wrapperComponent builds the component wit-component nests around a lifted
// function: it imports the function as import-func-<name> and exports it
// back under name.
func wrapperComponent(t *testing.T, name string, ft *FuncType) []byte {
	t.Helper()
	b := NewBuilder()
	imported := b.Types(nil, ft)
	fn := b.Imports(nil, Import{Name: "import-func-" + name, Desc: ExternDesc{Kind: ExternFunc, Index: imported}})[0]
	exported := b.Types(nil, ft)
	b.Exports(Export{Name: name, Sort: SortFunc, Index: fn, Desc: &ExternDesc{Kind: ExternFunc, Index: exported}})
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

func TestExportSignature(t *testing.T) {
	addFunc := &FuncType{
		Params: []FieldType{{Name: "a", Type: Prim(PrimU32)}, {Name: "b", Type: Prim(PrimU32)}},
		Result: u32Ptr(Prim(PrimU32)),
	}

	b := NewBuilder()
	b.Types(nil, addInstance(PrimU32))
	ft := b.Types(nil, addFunc)
	b.CoreModule(emptyModule)
	typed := b.InlineInstance()
	fn := b.Canons(
		Lift(0, ft, CanonOption{Kind: CanonOptUTF8}),
		CanonDef{Kind: CanonLower, FuncIndex: 0},
	)[0]
	bundle := b.InlineInstance(InstantiateArg{Name: "add", Sort: SortFunc, Index: fn})
	wrapper := b.Component(wrapperComponent(t, "add", addFunc))
	wrapped := b.Instantiate(wrapper, InstantiateArg{Name: "import-func-add", Sort: SortFunc, Index: fn})
	b.Exports(
		Export{Name: "typed", Sort: SortInstance, Index: typed, Desc: &ExternDesc{Kind: ExternInstance, Index: 0}},
		Export{Name: "bundle", Sort: SortInstance, Index: bundle},
		Export{Name: "wrapped", Sort: SortInstance, Index: wrapped},
		Export{Name: "add", Sort: SortFunc, Index: fn},
	)
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, comp.Exports, 4)

	want := map[string]string{
		"typed":   "instance { add: func(a: u32, b: u32) -> u32 }",
		"bundle":  "instance { add: func(a: u32, b: u32) -> u32 }",
		"wrapped": "instance { add: func(a: u32, b: u32) -> u32 }",
		"add":     "func(a: u32, b: u32) -> u32",
	}
	for _, exp := range comp.Exports {
		sig, err := comp.ExportSignature(exp)
		require.NoError(t, err, exp.Name)
		require.NotNil(t, sig, exp.Name)
		assert.Equal(t, want[exp.Name], sig.String(), exp.Name)
	}
}

func TestExportSignature_WrappedResource(t *testing.T) {
	w := NewBuilder()
	w.Imports(nil, Import{Name: "import-type-counter", Desc: ExternDesc{Kind: ExternType, Bound: BoundSubResource}})
	w.Types(nil,
		BorrowType{Index: 0},
		&FuncType{Params: []FieldType{{Name: "self", Type: Ref(1)}}, Result: u32Ptr(Prim(PrimU64))},
	)
	get := w.Imports(nil, Import{Name: "import-method-counter-get", Desc: ExternDesc{Kind: ExternFunc, Index: 2}})[0]
	w.Exports(Export{Name: "counter", Sort: SortType, Index: 0})
	w.Types(nil,
		BorrowType{Index: 3},
		&FuncType{Params: []FieldType{{Name: "self", Type: Ref(4)}}, Result: u32Ptr(Prim(PrimU64))},
	)
	w.Exports(Export{Name: "[method]counter.get", Sort: SortFunc, Index: get, Desc: &ExternDesc{Kind: ExternFunc, Index: 5}})
	wrapper, err := w.Bytes()
	require.NoError(t, err)

	b := NewBuilder()
	b.Component(wrapper)
	inst := b.Instantiate(0)
	b.Exports(Export{Name: "test:counters/api", Sort: SortInstance, Index: inst})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	sig, err := comp.ExportSignature(comp.Exports[0])
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "instance { [method]counter.get: func(self: borrow<counter>) -> u64 }", sig.String())
}

func TestExportSignature_Unknown(t *testing.T) {
	t.Run("aliased instance", func(t *testing.T) {
		b := NewBuilder()
		b.Types(nil, &InstanceType{Decls: []Decl{
			{Kind: DeclType, Type: addInstance(PrimU32)},
			{Kind: DeclExport, Name: "inner", Desc: ExternDesc{Kind: ExternInstance, Index: 0}},
		}})
		b.Imports(nil, Import{Name: "outer", Desc: ExternDesc{Kind: ExternInstance, Index: 0}})
		inner := b.Aliases(nil, Alias{Sort: SortInstance, Target: AliasExport, Instance: 0, Name: "inner"})[0]
		b.Exports(Export{Name: "inner", Sort: SortInstance, Index: inner})
		data, err := b.Bytes()
		require.NoError(t, err)

		comp, err := Decode(data)
		require.NoError(t, err)
		sig, err := comp.ExportSignature(comp.Exports[0])
		require.NoError(t, err)
		assert.Nil(t, sig)
	})

	t.Run("unreadable canon section", func(t *testing.T) {
		b := NewBuilder()
		b.Raw(SectionCanon, []byte{0x01, 0x0f})
		b.Exports(Export{Name: "f", Sort: SortFunc, Index: 0})
		data, err := b.Bytes()
		require.NoError(t, err)

		comp, err := Decode(data)
		require.NoError(t, err)
		sig, err := comp.ExportSignature(comp.Exports[0])
		require.NoError(t, err)
		assert.Nil(t, sig)
	})
}

func TestSignature_Satisfies(t *testing.T) {
	sig := func(fs ...FuncSignature) *Signature {
		return &Signature{Kind: ExternInstance, Funcs: fs}
	}
	add := FuncSignature{Name: "add", Params: []Param{{Name: "a", Type: wit.U32{}}}}
	sub := FuncSignature{Name: "sub", Params: []Param{{Name: "a", Type: wit.U32{}}}}
	addStr := FuncSignature{Name: "add", Params: []Param{{Name: "a", Type: wit.String{}}}}

	tests := []struct {
		name string
		have *Signature
		want *Signature
		ok   bool
	}{
		{name: "equal", have: sig(add), want: sig(add), ok: true},
		{name: "superset", have: sig(add, sub), want: sig(add), ok: true},
		{name: "missing function", have: sig(add), want: sig(add, sub), ok: false},
		{name: "different param type", have: sig(addStr), want: sig(add), ok: false},
		{name: "different kind", have: &Signature{Kind: ExternFunc, Funcs: []FuncSignature{add}}, want: sig(add), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.have.Satisfies(tt.want))
		})
	}
	assert.False(t, sig(add, sub).Equal(sig(add)))
	assert.True(t, sig(add).Equal(sig(add)))
}
