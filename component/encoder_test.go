package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_RemapsOutermostIndices(t *testing.T) {
	m := &IndexMap{Types: []uint32{7, 9}, Instances: []uint32{4}}

	b := NewBuilder()
	b.Types(m,
		RecordType{Fields: []FieldType{{Name: "a", Type: Ref(1)}}},
		&InstanceType{Decls: []Decl{
			{Kind: DeclAlias, Alias: Alias{Sort: SortType, Target: AliasOuter, Outer: 1, Index: 0}},
			{Kind: DeclType, Type: OwnType{Index: 0}},
			{Kind: DeclExport, Name: "f", Desc: ExternDesc{Kind: ExternFunc, Index: 1}},
		}},
	)
	b.Imports(m, Import{Name: "i", Desc: ExternDesc{Kind: ExternInstance, Index: 1}})
	b.Aliases(m, Alias{Sort: SortType, Target: AliasExport, Instance: 0, Name: "t"})
	data, err := b.Bytes()
	require.NoError(t, err)

	comp, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, comp.Types, 2)
	assert.Equal(t, RecordType{Fields: []FieldType{{Name: "a", Type: Ref(9)}}}, comp.Types[0])

	inner := comp.Types[1].(*InstanceType)
	assert.Equal(t, uint32(7), inner.Decls[0].Alias.Index, "outer alias follows the map")
	assert.Equal(t, OwnType{Index: 0}, inner.Decls[1].Type, "local index is untouched")
	assert.Equal(t, uint32(1), inner.Decls[2].Desc.Index, "local index is untouched")

	assert.Equal(t, uint32(9), comp.Imports[0].Desc.Index)
	assert.Equal(t, uint32(4), comp.Aliases[0].Instance)
}

func TestBuilder_MissingMapping(t *testing.T) {
	b := NewBuilder()
	b.Types(&IndexMap{}, ListType{Elem: Ref(3)})
	_, err := b.Bytes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type index 3 has no mapping")
}

func TestBuilder_Counts(t *testing.T) {
	b := NewBuilder()
	assert.Equal(t, uint32(0), b.Types(nil, PrimU32, PrimString))
	idx := b.Imports(nil,
		Import{Name: "a", Desc: ExternDesc{Kind: ExternInstance, Index: 0}},
		Import{Name: "b", Desc: ExternDesc{Kind: ExternType, Bound: BoundSubResource}},
		Import{Name: "c", Desc: ExternDesc{Kind: ExternInstance, Index: 0}},
	)
	assert.Equal(t, []uint32{0, 2, 1}, idx)
	assert.Equal(t, uint32(3), b.Count(SortType))
	assert.Equal(t, uint32(2), b.Count(SortInstance))
	assert.Equal(t, uint32(0), b.Component(Preamble))
	assert.Equal(t, uint32(2), b.Instantiate(0, InstantiateArg{Name: "a", Sort: SortInstance, Index: 0}))
}

func TestLEB128(t *testing.T) {
	tests := []struct {
		name    string
		encoded []byte
		s33     bool
		value   int64
	}{
		{name: "u32 zero", encoded: []byte{0x00}, value: 0},
		{name: "u32 two bytes", encoded: []byte{0xe5, 0x8e, 0x26}, value: 624485},
		{name: "u32 max", encoded: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, value: 0xffffffff},
		{name: "s33 small", encoded: []byte{0x3f}, s33: true, value: 63},
		{name: "s33 sign bit needs a second byte", encoded: []byte{0xc0, 0x00}, s33: true, value: 64},
		{name: "s33 negative", encoded: []byte{0x7f}, s33: true, value: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w writer
			if tt.s33 {
				w.s33(tt.value)
			} else {
				w.u32(uint32(tt.value))
			}
			assert.Equal(t, tt.encoded, w.buf.Bytes())

			r := newReader(tt.encoded)
			var got int64
			if tt.s33 {
				v, err := r.s33()
				require.NoError(t, err)
				got = v
			} else {
				v, err := r.u32()
				require.NoError(t, err)
				got = int64(v)
			}
			assert.Equal(t, tt.value, got)
			assert.True(t, r.eof())
		})
	}
}

func TestLEB128_Overflow(t *testing.T) {
	_, err := newReader([]byte{0xff, 0xff, 0xff, 0xff, 0x1f}).u32()
	assert.Error(t, err)
	_, err = newReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}).u32()
	assert.Error(t, err)
	_, err = newReader([]byte{0x80}).u32()
	assert.Error(t, err)
}
