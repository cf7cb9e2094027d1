package chibios

// DefaultMaxNodes caps a registry walk. A list corrupted into a cycle that
// still satisfies the pairwise link checks would otherwise walk forever.
const DefaultMaxNodes = 4096

type walkState int

const (
	atAnchor walkState = iota // anchor links not read yet
	onNode                    // cursor points at the next TCB to extract
	corrupt                   // walk aborted, err holds why
	walkDone                  // full circuit back to the anchor
)

// Walker iterates the thread registry: the circular doubly-linked list of
// TCBs anchored at rlist. The anchor is a sentinel, not a thread; the walk
// ends when the p_newer chain returns to it.
//
// Usage follows bufio.Scanner: Next/Snapshot until Next returns false, then
// Err. A walker is single-use; each command invocation builds a fresh one so
// nothing is cached across invocations.
//
// Integrity rule: after every advance the new node's p_older must point back
// at the node just left, the final hop into the anchor included. A mismatch
// stops the walk and blames the new node. The snapshot extracted just before
// the bad hop is still delivered, so a list broken at node k yields exactly
// k-1 snapshots.
type Walker struct {
	mem    MemoryReader
	ex     *Extractor
	layout *Layout
	anchor uint64 // anchor address, reinterpreted as TCB pointer = stop sentinel

	// MaxNodes bounds the walk, DefaultMaxNodes unless overridden before the
	// first Next.
	MaxNodes int

	state   walkState
	cursor  uint64
	visited int
	snap    *Snapshot
	err     error
}

func NewWalker(mem MemoryReader, layout *Layout, anchor uint64) *Walker {
	return &Walker{
		mem:      mem,
		ex:       NewExtractor(mem, layout),
		layout:   layout,
		anchor:   anchor,
		MaxNodes: DefaultMaxNodes,
		state:    atAnchor,
	}
}

// Next advances to the next live thread. It returns false when the walk is
// over, either normally or because the list cannot be trusted; Err tells
// which.
func (w *Walker) Next() bool {
	switch w.state {
	case corrupt, walkDone:
		return false
	case atAnchor:
		// first hop: the anchor's p_newer starts the circuit
		first, err := w.layout.readField(w.mem, w.anchor, w.layout.Newer)
		if err != nil {
			w.fail(err)
			return false
		}
		w.cursor = first
		w.state = onNode
	}

	if w.cursor == w.anchor {
		w.state = walkDone
		return false
	}
	if w.visited >= w.MaxNodes {
		w.fail(&TooLongError{Max: w.MaxNodes})
		return false
	}

	snap, err := w.ex.Extract(w.cursor)
	if err != nil {
		// an untrustworthy node invalidates the rest of the list
		w.fail(err)
		return false
	}
	w.snap = snap
	w.visited++

	// advance, then verify the new node's back link returns to the node we
	// just left. The check runs for the final hop into the anchor too.
	next, err := w.layout.readField(w.mem, w.cursor, w.layout.Newer)
	if err != nil {
		w.fail(err)
		return true // the snapshot we extracted is still good
	}
	back, err := w.layout.readField(w.mem, next, w.layout.Older)
	if err != nil {
		w.fail(err)
		return true
	}
	if back != w.cursor {
		w.fail(&CorruptionError{Node: next, Want: w.cursor, Got: back})
		return true
	}

	w.cursor = next
	return true
}

// SetFill overrides the stack fill byte the walk's extractor scans for.
func (w *Walker) SetFill(b byte) { w.ex.Fill = b }

// Snapshot returns the thread reached by the last successful Next.
func (w *Walker) Snapshot() *Snapshot { return w.snap }

// Err returns the error that stopped the walk, nil after a clean circuit.
func (w *Walker) Err() error { return w.err }

// Visited reports how many threads the walk has extracted so far.
func (w *Walker) Visited() int { return w.visited }

func (w *Walker) fail(err error) {
	if w.err == nil {
		w.err = err
	}
	w.state = corrupt
}
