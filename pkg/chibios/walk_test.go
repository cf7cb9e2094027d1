package chibios

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anchorAddr = 0x20000000

// buildRegistry places a healthy circular registry of n threads in fake
// memory and returns their TCB addresses in registry order. The anchor is a
// sentinel, threads hang off its p_newer chain.
func buildRegistry(m *fakeMem, n int) []uint64 {
	addrs := make([]uint64, n)
	for i := range addrs {
		addrs[i] = 0x20001000 + uint64(i)*0x100
	}

	ring := append([]uint64{anchorAddr}, addrs...)
	for i, addr := range ring {
		newer := ring[(i+1)%len(ring)]
		older := ring[(i-1+len(ring))%len(ring)]

		if addr == anchorAddr {
			// the anchor only needs its link fields
			m.write32(addr+offNewer, uint32(newer))
			m.write32(addr+offOlder, uint32(older))
			continue
		}

		name := nameAddr + uint64(i)*0x40
		m.writeCString(name, "thread")
		stack := 0x20008000 + uint64(i)*0x200
		m.fillStack(stack, stkSize, 8)
		m.writeTCB(tcb{
			addr:     addr,
			sp:       stack + stkSize,
			newer:    newer,
			older:    older,
			namePtr:  name,
			stkLimit: stack,
			state:    byte(StateReady),
			prio:     uint32(i),
			refs:     1,
		})
	}
	return addrs
}

func collect(w *Walker) []*Snapshot {
	var snaps []*Snapshot
	for w.Next() {
		snaps = append(snaps, w.Snapshot())
	}
	return snaps
}

func TestWalkFullCircuit(t *testing.T) {
	for _, n := range []int{1, 3, 8} {
		m := newFakeMem()
		addrs := buildRegistry(m, n)

		w := NewWalker(m, testLayout(), anchorAddr)
		snaps := collect(w)

		require.NoError(t, w.Err())
		require.Len(t, snaps, n, "want exactly one snapshot per node")
		assert.Equal(t, n, w.Visited())
		for i, s := range snaps {
			// encounter order is registry insertion order, never sorted
			assert.Equal(t, addrs[i], s.Address)
		}
	}
}

func TestWalkEmptyRegistry(t *testing.T) {
	m := newFakeMem()
	// anchor linking to itself: no threads
	m.write32(anchorAddr+offNewer, anchorAddr)
	m.write32(anchorAddr+offOlder, anchorAddr)

	w := NewWalker(m, testLayout(), anchorAddr)
	assert.False(t, w.Next())
	assert.NoError(t, w.Err())
	assert.Equal(t, 0, w.Visited())
}

func TestWalkCorruptBackLink(t *testing.T) {
	const n, k = 5, 3 // break the back link of the third thread
	m := newFakeMem()
	addrs := buildRegistry(m, n)
	m.write32(addrs[k-1]+offOlder, 0xdeadbeef)

	w := NewWalker(m, testLayout(), anchorAddr)
	snaps := collect(w)

	// exactly k-1 snapshots came out before the bad hop
	require.Len(t, snaps, k-1)

	var ce *CorruptionError
	require.ErrorAs(t, w.Err(), &ce)
	assert.Equal(t, addrs[k-1], ce.Node, "blame the node whose back link failed")
	assert.Equal(t, addrs[k-2], ce.Want)
	assert.Equal(t, uint64(0xdeadbeef), ce.Got)
}

func TestWalkValidatesFinalHop(t *testing.T) {
	const n = 3
	m := newFakeMem()
	addrs := buildRegistry(m, n)
	// the anchor's own back link is checked too
	m.write32(anchorAddr+offOlder, 0x1234)

	w := NewWalker(m, testLayout(), anchorAddr)
	snaps := collect(w)

	require.Len(t, snaps, n)
	var ce *CorruptionError
	require.ErrorAs(t, w.Err(), &ce)
	assert.Equal(t, uint64(anchorAddr), ce.Node)
	assert.Equal(t, addrs[n-1], ce.Want)
}

func TestWalkAbortsOnExtractionFailure(t *testing.T) {
	const n = 4
	m := newFakeMem()
	addrs := buildRegistry(m, n)
	delete(m.data, addrs[1]+offState) // second node unreadable

	w := NewWalker(m, testLayout(), anchorAddr)
	snaps := collect(w)

	// the walk does not skip and continue, the rest of the list is suspect
	require.Len(t, snaps, 1)
	var fre *FieldReadError
	require.ErrorAs(t, w.Err(), &fre)
	assert.Equal(t, "p_state", fre.Field)
	assert.Equal(t, addrs[1], fre.Addr)
}

func TestWalkCapBoundsCorruptCycles(t *testing.T) {
	m := newFakeMem()
	addrs := buildRegistry(m, 2)
	// splice the last node back to the first: pairwise-consistent links that
	// never return to the anchor
	m.write32(addrs[1]+offNewer, uint32(addrs[0]))
	m.write32(addrs[0]+offOlder, uint32(addrs[1]))

	w := NewWalker(m, testLayout(), anchorAddr)
	w.MaxNodes = 10
	snaps := collect(w)

	assert.Len(t, snaps, 10)
	var tle *TooLongError
	require.ErrorAs(t, w.Err(), &tle)
	assert.Equal(t, 10, tle.Max)
}

func TestWalkScanFailureDoesNotAbort(t *testing.T) {
	const n = 3
	m := newFakeMem()
	addrs := buildRegistry(m, n)
	// unmap the middle thread's stack region only
	mid := addrs[1]
	stack := uint64(0x20008000 + 2*0x200) // buildRegistry ring index 2 = addrs[1]
	for i := uint64(0); i < stkSize; i++ {
		delete(m.data, stack+i)
	}

	w := NewWalker(m, testLayout(), anchorAddr)
	snaps := collect(w)

	require.NoError(t, w.Err())
	require.Len(t, snaps, n)
	assert.Equal(t, uint64(0), snaps[1].StackUnused, "scan degraded for the hit node")
	assert.Equal(t, mid, snaps[1].Address)
	assert.NotZero(t, snaps[0].StackUnused)
	assert.NotZero(t, snaps[2].StackUnused)
}
