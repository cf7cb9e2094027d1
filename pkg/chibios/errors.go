package chibios

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistryDisabled means the kernel was built without CH_USE_REGISTRY,
	// the thread list simply does not exist in target memory.
	ErrRegistryDisabled = errors.New("thread registry not enabled, cannot access thread information")

	// ErrNoThreadSelected means the stub reports no current execution context.
	ErrNoThreadSelected = errors.New("no thread selected")

	// ErrFieldMissing marks a mandatory field absent from the thread struct.
	ErrFieldMissing = errors.New("field not present in thread struct")
)

// FieldReadError reports a mandatory thread field that could not be resolved,
// either missing from the struct layout or unreadable in target memory.
type FieldReadError struct {
	Field string
	Addr  uint64
	Err   error
}

func (e *FieldReadError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("read field %s of thread %#x: %v", e.Field, e.Addr, e.Err)
	}
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *FieldReadError) Unwrap() error { return e.Err }

// InvalidStateError reports a state ordinal outside the known state table.
type InvalidStateError struct {
	Ordinal uint64
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid thread state ordinal %d (max %d)", e.Ordinal, len(stateNames)-1)
}

// CorruptionError reports a node whose back link does not return to the node
// the walk just left. The list cannot be trusted past this point.
type CorruptionError struct {
	Node uint64 // node whose p_older failed the check
	Want uint64 // node the walk just left
	Got  uint64 // what p_older actually held
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("registry corrupt: node %#x p_older is %#x, expected %#x", e.Node, e.Got, e.Want)
}

// TooLongError reports a walk that exceeded its node cap. Either the list is
// enormous or it is corrupt in a way that still satisfies the link checks.
type TooLongError struct {
	Max int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("registry walk exceeded %d nodes, giving up", e.Max)
}
