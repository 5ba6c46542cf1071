package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyModule is the smallest valid core module.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func u32Ptr(v ValType) *ValType { return &v }

// addInstance declares an instance exporting add(a: u32, b: u32) -> u32.
func addInstance(param PrimType) *InstanceType {
	return &InstanceType{Decls: []Decl{
		{Kind: DeclType, Type: &FuncType{
			Params: []FieldType{{Name: "a", Type: Prim(param)}, {Name: "b", Type: Prim(param)}},
			Result: u32Ptr(Prim(PrimU32)),
		}},
		{Kind: DeclExport, Name: "add", Desc: ExternDesc{Kind: ExternFunc, Index: 0}},
	}}
}

func buildCaller(t *testing.T) []byte {
	t.Helper()
	b := NewBuilder()
	b.Types(nil, addInstance(PrimU32))
	b.Imports(nil, Import{Name: "test:math/api@0.1.0", Desc: ExternDesc{Kind: ExternInstance, Index: 0}})
	b.CoreModule(emptyModule)
	inst := b.InlineInstance()
	b.Exports(Export{Name: "test:app/run@0.1.0", Sort: SortInstance, Index: inst})
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

func TestDecode(t *testing.T) {
	comp, err := Decode(buildCaller(t))
	require.NoError(t, err)

	require.Len(t, comp.Imports, 1)
	assert.Equal(t, Import{
		Name:    "test:math/api@0.1.0",
		Desc:    ExternDesc{Kind: ExternInstance, Index: 0},
		Index:   0,
		Section: 1,
	}, comp.Imports[0])

	assert.Equal(t, 2, comp.Prologue)
	require.Len(t, comp.Sections, 5)
	assert.Equal(t, SectionType, comp.Sections[0].ID)
	assert.Equal(t, SectionExport, comp.Sections[4].ID)

	require.Len(t, comp.Types, 1)
	assert.Equal(t, addInstance(PrimU32), comp.Types[0])

	require.Len(t, comp.CoreModules, 1)
	assert.Equal(t, emptyModule, comp.CoreModules[0])

	require.Len(t, comp.Instances, 1)
	assert.True(t, comp.Instances[0].Inline)

	require.Len(t, comp.Exports, 1)
	assert.Equal(t, Export{Name: "test:app/run@0.1.0", Sort: SortInstance, Index: 1}, comp.Exports[0])
}

func TestDecode_AllValueTypes(t *testing.T) {
	defs := []TypeDef{
		PrimString,
		RecordType{Fields: []FieldType{{Name: "x", Type: Prim(PrimF64)}, {Name: "label", Type: Ref(0)}}},
		VariantType{Cases: []CaseType{{Name: "none"}, {Name: "some", Type: u32Ptr(Ref(1))}}},
		ListType{Elem: Prim(PrimU8)},
		TupleType{Types: []ValType{Prim(PrimS8), Prim(PrimChar)}},
		FlagsType{Names: []string{"read", "write"}},
		EnumType{Names: []string{"fast", "slow"}},
		OptionType{Elem: Ref(3)},
		ResultType{OK: u32Ptr(Prim(PrimU32))},
		ResultType{},
		ResourceType{},
		OwnType{Index: 10},
		BorrowType{Index: 10},
		&FuncType{Results: []FieldType{{Name: "lo", Type: Prim(PrimU32)}, {Name: "hi", Type: Prim(PrimU32)}}},
		&ComponentType{Decls: []Decl{
			{Kind: DeclImport, Name: "log", Desc: ExternDesc{Kind: ExternFunc, Index: 0}},
			{Kind: DeclExport, Name: "ready", Desc: ExternDesc{Kind: ExternType, Bound: BoundSubResource}},
		}},
	}
	b := NewBuilder()
	b.Types(nil, defs...)
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, defs, comp.Types)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{name: "core module", data: emptyModule, msg: "not a component"},
		{name: "short", data: []byte{0x00, 0x61}, msg: "not a component"},
		{
			name: "truncated section",
			data: append(append([]byte(nil), Preamble...), SectionType, 0x0a, 0x01),
			msg:  "exceeds component size",
		},
		{
			name: "unknown type form",
			data: append(append([]byte(nil), Preamble...), SectionType, 0x02, 0x01, 0x50),
			msg:  "unsupported type form 0x50",
		},
		{
			name: "bad import name prefix",
			data: append(append([]byte(nil), Preamble...), SectionImport, 0x04, 0x01, 0x07, 0x00, 0x00),
			msg:  "invalid name prefix",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDecode_PrologueStopsAtFirstBodySection(t *testing.T) {
	b := NewBuilder()
	b.Types(nil, addInstance(PrimU32))
	b.CoreModule(emptyModule)
	b.Imports(nil, Import{Name: "late", Desc: ExternDesc{Kind: ExternInstance, Index: 0}})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 1, comp.Prologue)
	require.Len(t, comp.Imports, 1)
	assert.Equal(t, 2, comp.Imports[0].Section)
}

func TestDecode_Canons(t *testing.T) {
	defs := []CanonDef{
		{Kind: CanonLower, FuncIndex: 0, Options: []CanonOption{{Kind: CanonOptMemory, Index: 0}, {Kind: CanonOptUTF8}}},
		Lift(2, 0, CanonOption{Kind: CanonOptMemory, Index: 0}, CanonOption{Kind: CanonOptRealloc, Index: 3}),
		{Kind: CanonResourceDrop, ResourceType: 1},
		Lift(4, 0, CanonOption{Kind: CanonOptPostReturn, Index: 5}),
	}
	b := NewBuilder()
	b.Types(nil, &FuncType{})
	b.Imports(nil, Import{Name: "f", Desc: ExternDesc{Kind: ExternFunc, Index: 0}})
	idx := b.Canons(defs...)
	assert.Equal(t, []uint32{0, 1, 0, 2}, idx)
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, defs, comp.Canons)
	assert.Equal(t, 4, comp.Sections[2].Count)
}

func TestDecode_CanonErrorKeepsSectionsRaw(t *testing.T) {
	b := NewBuilder()
	b.Raw(SectionCanon, []byte{0x02, 0x03, 0x00, 0x0f})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []CanonDef{{Kind: CanonResourceDrop}}, comp.Canons)
	require.Len(t, comp.Sections, 1)
	assert.Equal(t, []byte{0x02, 0x03, 0x00, 0x0f}, comp.Sections[0].Data)
}

func TestIsComponent(t *testing.T) {
	assert.True(t, IsComponent(Preamble))
	assert.False(t, IsComponent(emptyModule))
	assert.False(t, IsComponent(nil))
}
