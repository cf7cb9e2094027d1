package chibios

import (
	"encoding/binary"
	"testing"

	"github.com/deftsp/chibios-gdb/pkg/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullThreadType mimics the DWARF description of a fully instrumented
// ChibiOS 2.x Thread struct.
func fullThreadType() *symbol.StructType {
	ctx := &symbol.StructType{
		Name: "context",
		Size: 4,
		Members: []symbol.Field{
			{Name: "r13", Offset: 0, Size: 4},
		},
	}
	return &symbol.StructType{
		Name: "Thread",
		Size: 36,
		Members: []symbol.Field{
			{Name: "p_ctx", Offset: 0, Size: 4, Struct: ctx},
			{Name: "p_newer", Offset: 4, Size: 4},
			{Name: "p_older", Offset: 8, Size: 4},
			{Name: "p_name", Offset: 12, Size: 4},
			{Name: "p_stklimit", Offset: 16, Size: 4},
			{Name: "p_state", Offset: 20, Size: 1},
			{Name: "p_flags", Offset: 21, Size: 1},
			{Name: "p_prio", Offset: 24, Size: 4},
			{Name: "p_refs", Offset: 28, Size: 1},
			{Name: "p_time", Offset: 32, Size: 4},
		},
	}
}

func without(typ *symbol.StructType, names ...string) *symbol.StructType {
	out := &symbol.StructType{Name: typ.Name, Size: typ.Size}
	for _, m := range typ.Members {
		drop := false
		for _, n := range names {
			if m.Name == n {
				drop = true
			}
		}
		if !drop {
			out.Members = append(out.Members, m)
		}
	}
	return out
}

func TestCheckSchemaFullyInstrumented(t *testing.T) {
	layout, warnings, err := CheckSchema(fullThreadType(), binary.LittleEndian, 4)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.True(t, layout.HasStkLimit)
	assert.True(t, layout.HasTime)
	assert.Equal(t, uint64(4), layout.Newer.Offset)
	assert.Equal(t, uint64(8), layout.Older.Offset)
	assert.Equal(t, uint64(0), layout.CtxSP.Offset, "p_ctx offset + r13 offset")
	assert.Equal(t, int64(1), layout.State.Size)
	assert.Equal(t, 4, layout.PtrSize)
}

func TestCheckSchemaRegistryDisabled(t *testing.T) {
	for _, missing := range [][]string{
		{"p_newer"}, {"p_older"}, {"p_newer", "p_older"},
	} {
		_, _, err := CheckSchema(without(fullThreadType(), missing...), binary.LittleEndian, 4)
		require.ErrorIs(t, err, ErrRegistryDisabled)
	}
}

func TestCheckSchemaOptionalAdvisories(t *testing.T) {
	t.Run("no p_stklimit", func(t *testing.T) {
		layout, warnings, err := CheckSchema(without(fullThreadType(), "p_stklimit"), binary.LittleEndian, 4)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "CH_DBG_ENABLE_STACK_CHECK")
		assert.False(t, layout.HasStkLimit)
		assert.True(t, layout.HasTime)
	})

	t.Run("no p_time", func(t *testing.T) {
		layout, warnings, err := CheckSchema(without(fullThreadType(), "p_time"), binary.LittleEndian, 4)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "CH_DBG_THREADS_PROFILING")
		assert.False(t, layout.HasTime)
	})

	t.Run("neither", func(t *testing.T) {
		layout, warnings, err := CheckSchema(without(fullThreadType(), "p_stklimit", "p_time"), binary.LittleEndian, 4)
		require.NoError(t, err)
		assert.Len(t, warnings, 2)
		assert.False(t, layout.HasStkLimit)
		assert.False(t, layout.HasTime)
	})
}

func TestCheckSchemaMissingCoreField(t *testing.T) {
	_, _, err := CheckSchema(without(fullThreadType(), "p_prio"), binary.LittleEndian, 4)
	var fre *FieldReadError
	require.ErrorAs(t, err, &fre)
	assert.Equal(t, "p_prio", fre.Field)
	require.ErrorIs(t, err, ErrFieldMissing)

	// p_ctx without an r13 member is just as fatal
	typ := fullThreadType()
	typ.Members[0].Struct = &symbol.StructType{Name: "context"}
	_, _, err = CheckSchema(typ, binary.LittleEndian, 4)
	require.ErrorAs(t, err, &fre)
	assert.Equal(t, "p_ctx.r13", fre.Field)
}

func TestParseState(t *testing.T) {
	st, err := ParseState(0)
	require.NoError(t, err)
	assert.Equal(t, StateReady, st)
	assert.Equal(t, "READY", st.String())

	st, err = ParseState(14)
	require.NoError(t, err)
	assert.Equal(t, StateFinal, st)

	_, err = ParseState(15)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, uint64(15), ise.Ordinal)
}
