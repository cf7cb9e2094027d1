package chibios

// MemoryReader is the slice of the target introspection service the extractor
// needs: raw byte reads from target memory. Reads may fail at any time
// (target gone, region unmapped); failures must come back as errors, never
// panics.
type MemoryReader interface {
	ReadMemory(addr uint64, buf []byte) (int, error)
}

// ThreadSelector reports the debugger's currently selected execution context
// as a thread-control-block address. ok is false when there is none.
type ThreadSelector interface {
	CurrentThread() (addr uint64, ok bool, err error)
}

const (
	// maxStackScan bounds the fill scan against absurd sizes read out of a
	// corrupt TCB. Real ChibiOS thread stacks are a few KiB.
	maxStackScan = 1 << 20

	// maxNameLen bounds the p_name string read.
	maxNameLen = 64
)

// Extractor builds thread snapshots from target memory through a layout
// resolved by CheckSchema.
type Extractor struct {
	mem    MemoryReader
	layout *Layout

	// Fill is the stack fill byte to scan for, FillByte unless overridden.
	Fill byte
}

func NewExtractor(mem MemoryReader, layout *Layout) *Extractor {
	return &Extractor{mem: mem, layout: layout, Fill: FillByte}
}

// Extract reads one thread control block at addr and returns its snapshot.
//
// Construction is atomic: any mandatory field that cannot be read fails the
// whole extraction, there is no partial snapshot. The stack fill scan is the
// one best-effort part, a read failure there degrades StackUnused to 0 and
// extraction carries on.
func (e *Extractor) Extract(addr uint64) (*Snapshot, error) {
	snap := &Snapshot{Address: addr, Name: NoName}

	top, err := e.layout.readField(e.mem, addr, e.layout.CtxSP)
	if err != nil {
		return nil, err
	}
	snap.StackTop = top

	if e.layout.HasStkLimit {
		limit, err := e.layout.readField(e.mem, addr, e.layout.StkLimit)
		if err != nil {
			return nil, err
		}
		snap.StkLimit = limit
		// only scan when the base is known and the arithmetic is sane;
		// a limit above the saved SP means the TCB is lying to us
		if limit > 0 && top >= limit {
			snap.StackSize = top - limit
			snap.StackUnused = e.scanStack(limit, snap.StackSize)
		}
	}

	name, err := e.readName(addr)
	if err != nil {
		return nil, err
	}
	if name != "" {
		snap.Name = name
	}

	ordinal, err := e.layout.readField(e.mem, addr, e.layout.State)
	if err != nil {
		return nil, err
	}
	state, err := ParseState(ordinal)
	if err != nil {
		return nil, err
	}
	snap.State = state

	if snap.Flags, err = e.layout.readField(e.mem, addr, e.layout.Flags); err != nil {
		return nil, err
	}
	if snap.Prio, err = e.layout.readField(e.mem, addr, e.layout.Prio); err != nil {
		return nil, err
	}
	if snap.Refs, err = e.layout.readField(e.mem, addr, e.layout.Refs); err != nil {
		return nil, err
	}

	if e.layout.HasTime {
		if snap.Time, err = e.layout.readField(e.mem, addr, e.layout.Time); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

// scanStack counts contiguous fill bytes from the stack limit upward. The
// count stops at the first byte a thread has overwritten. All-fill regions
// report 0: a stack that was never touched is indistinguishable from one
// whose fill survived by accident, so we stay conservative. Stack telemetry
// is best effort, unreadable stack memory degrades to 0.
func (e *Extractor) scanStack(limit, size uint64) uint64 {
	if size == 0 || size > maxStackScan {
		return 0
	}
	buf := make([]byte, size)
	n, err := e.mem.ReadMemory(limit, buf)
	if err != nil || n != len(buf) {
		return 0
	}
	for i, b := range buf {
		if b != e.Fill {
			return uint64(i)
		}
	}
	return 0
}

// readName dereferences p_name and reads the C string it points at, bounded
// to maxNameLen. A NULL pointer is an unnamed thread, not an error; an
// unreadable pointer field is.
func (e *Extractor) readName(addr uint64) (string, error) {
	ptr, err := e.layout.readField(e.mem, addr, e.layout.Name)
	if err != nil {
		return "", err
	}
	if ptr == 0 {
		return "", nil
	}

	name := make([]byte, 0, maxNameLen)
	for len(name) < maxNameLen {
		chunk := make([]byte, 8)
		n, err := e.mem.ReadMemory(ptr+uint64(len(name)), chunk)
		if n <= 0 {
			if len(name) > 0 {
				// the string ran into an unmapped page, keep what we have
				break
			}
			return "", &FieldReadError{Field: fieldName, Addr: addr, Err: err}
		}
		for _, b := range chunk[:n] {
			if b == 0 {
				return string(name), nil
			}
			name = append(name, b)
		}
		if err != nil {
			// partial read: everything past this point is unreadable
			break
		}
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return string(name), nil
}

// SelectedThread resolves the debugger's current thread selection (a TCB
// address for ChibiOS-aware stubs) and extracts that one thread without
// walking the registry.
func SelectedThread(sel ThreadSelector, ex *Extractor) (*Snapshot, error) {
	addr, ok, err := sel.CurrentThread()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoThreadSelected
	}
	return ex.Extract(addr)
}
