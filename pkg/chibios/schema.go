package chibios

import (
	"encoding/binary"
	"fmt"

	"github.com/deftsp/chibios-gdb/pkg/symbol"
)

// Thread struct field names, ChibiOS/RT 2.x spelling. The registry feature
// and both debug options key off these.
const (
	fieldNewer    = "p_newer"
	fieldOlder    = "p_older"
	fieldCtx      = "p_ctx"
	fieldCtxSP    = "r13"
	fieldStkLimit = "p_stklimit"
	fieldName     = "p_name"
	fieldState    = "p_state"
	fieldFlags    = "p_flags"
	fieldPrio     = "p_prio"
	fieldRefs     = "p_refs"
	fieldTime     = "p_time"
)

// FieldLoc locates one scalar field inside the thread control block.
type FieldLoc struct {
	Name   string
	Offset uint64
	Size   int64
}

// Layout is the thread-control-block schema resolved once at check time:
// field offsets, optional-field capabilities, and how to decode what we read.
// Extraction is parametric over a Layout instead of re-probing field presence
// per thread.
type Layout struct {
	Order   binary.ByteOrder
	PtrSize int

	Newer FieldLoc
	Older FieldLoc
	CtxSP FieldLoc // p_ctx.r13, the saved stack pointer
	Name  FieldLoc
	State FieldLoc
	Flags FieldLoc
	Prio  FieldLoc
	Refs  FieldLoc

	HasStkLimit bool
	StkLimit    FieldLoc
	HasTime     bool
	Time        FieldLoc
}

// CheckSchema validates that the target's thread struct carries enough
// instrumentation to walk the registry and resolves the field layout used by
// every later extraction.
//
// Missing p_newer/p_older means CH_USE_REGISTRY is off and nothing further is
// meaningful: ErrRegistryDisabled. Missing p_stklimit or p_time only degrade
// the corresponding snapshot fields to zero; each absence produces one
// human-readable advisory. Any other missing field fails with a
// FieldReadError naming it.
func CheckSchema(thread *symbol.StructType, order binary.ByteOrder, ptrSize int) (*Layout, []string, error) {
	if !thread.HasMember(fieldNewer) || !thread.HasMember(fieldOlder) {
		return nil, nil, fmt.Errorf("%s/%s missing (CH_USE_REGISTRY): %w",
			fieldNewer, fieldOlder, ErrRegistryDisabled)
	}

	l := &Layout{Order: order, PtrSize: ptrSize}

	for _, want := range []struct {
		name string
		loc  *FieldLoc
	}{
		{fieldNewer, &l.Newer},
		{fieldOlder, &l.Older},
		{fieldName, &l.Name},
		{fieldState, &l.State},
		{fieldFlags, &l.Flags},
		{fieldPrio, &l.Prio},
		{fieldRefs, &l.Refs},
	} {
		m, ok := thread.Member(want.name)
		if !ok {
			return nil, nil, &FieldReadError{Field: want.name, Err: ErrFieldMissing}
		}
		*want.loc = FieldLoc{Name: want.name, Offset: m.Offset, Size: m.Size}
	}

	// the saved SP lives one struct down, thread.p_ctx.r13
	ctx, ok := thread.Member(fieldCtx)
	if !ok || ctx.Struct == nil {
		return nil, nil, &FieldReadError{Field: fieldCtx, Err: ErrFieldMissing}
	}
	sp, ok := ctx.Struct.Member(fieldCtxSP)
	if !ok {
		return nil, nil, &FieldReadError{Field: fieldCtx + "." + fieldCtxSP, Err: ErrFieldMissing}
	}
	l.CtxSP = FieldLoc{
		Name:   fieldCtx + "." + fieldCtxSP,
		Offset: ctx.Offset + sp.Offset,
		Size:   sp.Size,
	}

	var warnings []string
	if m, ok := thread.Member(fieldStkLimit); ok {
		l.HasStkLimit = true
		l.StkLimit = FieldLoc{Name: fieldStkLimit, Offset: m.Offset, Size: m.Size}
	} else {
		warnings = append(warnings,
			"no p_stklimit in thread struct; enable CH_DBG_ENABLE_STACK_CHECK (stack totals will read 0)")
	}
	if m, ok := thread.Member(fieldTime); ok {
		l.HasTime = true
		l.Time = FieldLoc{Name: fieldTime, Offset: m.Offset, Size: m.Size}
	} else {
		warnings = append(warnings,
			"no p_time in thread struct; enable CH_DBG_THREADS_PROFILING (thread times will read 0)")
	}

	return l, warnings, nil
}

// readField reads and decodes one scalar field of the thread at base.
func (l *Layout) readField(mem MemoryReader, base uint64, loc FieldLoc) (uint64, error) {
	size := loc.Size
	if size <= 0 || size > 8 {
		size = int64(l.PtrSize)
	}
	buf := make([]byte, size)
	n, err := mem.ReadMemory(base+loc.Offset, buf)
	if err != nil {
		return 0, &FieldReadError{Field: loc.Name, Addr: base, Err: err}
	}
	if n != len(buf) {
		return 0, &FieldReadError{Field: loc.Name, Addr: base,
			Err: fmt.Errorf("short read: %d of %d bytes", n, len(buf))}
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(l.Order.Uint16(buf)), nil
	case 4:
		return uint64(l.Order.Uint32(buf)), nil
	case 8:
		return l.Order.Uint64(buf), nil
	default:
		return 0, &FieldReadError{Field: loc.Name, Addr: base,
			Err: fmt.Errorf("unsupported field size %d", size)}
	}
}
