// Package chibios reconstructs the live thread set of a ChibiOS/RT target
// from its in-memory registry: the circular doubly-linked list of thread
// control blocks anchored at the kernel's rlist structure.
//
// Stack headroom is inferred from the 0x55 fill pattern ChibiOS paints on
// thread stacks when CH_DBG_FILL_THREADS is enabled. The measurement is a
// heuristic: a thread that legitimately pushed 0x55 bytes next to the
// high-water boundary over-reports its free stack. That imprecision is
// inherent to fill-pattern measurement and is left as is.
package chibios

// FillByte is the value ChibiOS paints on unused stack space
// (CH_DBG_FILL_THREADS).
const FillByte = 0x55

// NoName stands in for threads whose p_name is empty or unset.
const NoName = "<no name>"

// ThreadState is a ChibiOS scheduler state. The ordinal values match the
// kernel's THD_STATE_* constants in order.
type ThreadState uint8

const (
	StateReady ThreadState = iota
	StateCurrent
	StateSuspended
	StateWTSem
	StateWTMtx
	StateWTCond
	StateSleeping
	StateWTExit
	StateWTOrEvt
	StateWTAndEvt
	StateSndMsgQ
	StateSndMsg
	StateWTMsg
	StateWTQueue
	StateFinal
)

var stateNames = [...]string{
	"READY", "CURRENT", "SUSPENDED", "WTSEM", "WTMTX", "WTCOND", "SLEEPING",
	"WTEXIT", "WTOREVT", "WTANDEVT", "SNDMSGQ", "SNDMSG", "WTMSG", "WTQUEUE",
	"FINAL",
}

func (s ThreadState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// ParseState converts a raw p_state ordinal read from target memory into a
// ThreadState, failing on out-of-range input instead of indexing past the
// table.
func ParseState(ordinal uint64) (ThreadState, error) {
	if ordinal >= uint64(len(stateNames)) {
		return 0, &InvalidStateError{Ordinal: ordinal}
	}
	return ThreadState(ordinal), nil
}

// Snapshot is a point-in-time copy of one thread's observable state. It owns
// all of its fields; nothing refers back into target memory.
type Snapshot struct {
	Address     uint64 // address of the thread control block, doubles as thread id
	StkLimit    uint64 // lowest valid stack address, 0 if the kernel does not track it
	StackTop    uint64 // saved stack pointer (p_ctx.r13)
	StackSize   uint64 // StackTop - StkLimit, 0 when StkLimit is unavailable
	StackUnused uint64 // contiguous fill bytes above StkLimit, 0 when the scan cannot run
	Name        string
	State       ThreadState
	Flags       uint64
	Prio        uint64
	Refs        uint64
	Time        uint64 // cumulative scheduled time, 0 if the kernel does not track it
}
