package symbol

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr32() dwarf.Type {
	return &dwarf.PtrType{CommonType: dwarf.CommonType{ByteSize: 4}}
}

func TestConvertStruct(t *testing.T) {
	ctx := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 4},
		StructName: "context",
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "r13", ByteOffset: 0, Type: ptr32()},
		},
	}
	thread := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 16},
		StructName: "Thread",
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "p_ctx", ByteOffset: 0, Type: ctx},
			{Name: "p_newer", ByteOffset: 4, Type: ptr32()},
			{Name: "p_older", ByteOffset: 8, Type: ptr32()},
			// members behind a typedef still resolve
			{Name: "p_name", ByteOffset: 12, Type: &dwarf.TypedefType{
				CommonType: dwarf.CommonType{Name: "name_t"},
				Type:       ptr32(),
			}},
		},
	}

	st := convertStruct("Thread", thread, 0)
	require.NotNil(t, st)
	assert.Equal(t, "Thread", st.Name)
	assert.Equal(t, int64(16), st.Size)

	newer, ok := st.Member("p_newer")
	require.True(t, ok)
	assert.Equal(t, uint64(4), newer.Offset)
	assert.Equal(t, int64(4), newer.Size)

	ctxm, ok := st.Member("p_ctx")
	require.True(t, ok)
	require.NotNil(t, ctxm.Struct, "struct members descend one level")
	sp, ok := ctxm.Struct.Member("r13")
	require.True(t, ok)
	assert.Equal(t, uint64(0), sp.Offset)

	name, ok := st.Member("p_name")
	require.True(t, ok)
	assert.Equal(t, int64(4), name.Size)

	assert.False(t, st.HasMember("p_stklimit"))
}

func TestResolveStructUnwrapsTypedefs(t *testing.T) {
	inner := &dwarf.StructType{StructName: "ch_thread", Kind: "struct"}
	td := &dwarf.TypedefType{
		CommonType: dwarf.CommonType{Name: "thread_t"},
		Type:       inner,
	}

	got, ok := resolveStruct(td)
	require.True(t, ok)
	assert.Same(t, inner, got)

	_, ok = resolveStruct(ptr32())
	assert.False(t, ok)
}

func TestLookupSymbols(t *testing.T) {
	b := &Binary{syms: map[string]uint64{"ch": 0x20000000, "vectors": 0x08000000}}

	addr, err := b.LookupSymbol("ch")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20000000), addr)

	_, err = b.LookupSymbol("rlist")
	require.ErrorIs(t, err, ErrSymbolNotFound)

	// version fallback: first existing candidate wins
	addr, err = b.LookupAnySymbol("rlist", "ch")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20000000), addr)

	_, err = b.LookupAnySymbol("nope1", "nope2")
	require.ErrorIs(t, err, ErrSymbolNotFound)
}
