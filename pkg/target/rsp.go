// Package target speaks the GDB remote serial protocol to the debug stub
// (OpenOCD, J-Link gdbserver, qemu -gdb) that fronts the embedded board.
// It is the live half of the introspection service: raw memory reads and
// the stub's notion of the currently selected thread.
package target

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/deftsp/chibios-gdb/pkg/symbol"
	"go.uber.org/atomic"
)

var (
	// Attached is the stub connection of the running session.
	Attached *RemoteTarget

	ErrBusy = errors.New("another request is on the wire")
)

// MemoryError reports target memory the stub refused to read. It is
// distinguishable so callers can degrade instead of aborting.
type MemoryError struct {
	Addr uint64
	Len  int
	Code string // stub error code, e.g. "E01"
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("unreadable memory [%#x,+%d): stub said %s", e.Addr, e.Len, e.Code)
}

// readChunk is the largest single 'm' request we issue. Stubs advertise
// bigger packet sizes but 512 is safe everywhere.
const readChunk = 512

// RemoteTarget is one attached RSP stub connection. The protocol is a strict
// request/reply conversation over one socket, so requests never interleave.
type RemoteTarget struct {
	Addr  string
	BInfo *symbol.Binary // firmware symbols and types

	conn  net.Conn
	rd    *bufio.Reader
	inUse *atomic.Bool
}

// AttachRemote loads the firmware's symbols and dials the stub, confirming
// the target is halted.
func AttachRemote(addr, execFile string) (*RemoteTarget, error) {
	bi, err := symbol.Analyze(execFile)
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial stub %s: %w", addr, err)
	}
	t := &RemoteTarget{
		Addr:  addr,
		BInfo: bi,
		conn:  conn,
		rd:    bufio.NewReader(conn),
		inUse: atomic.NewBool(false),
	}

	// '?' asks why the target stopped; any S/T reply means it is halted and
	// memory is readable
	reply, err := t.exchange("?")
	if err != nil {
		conn.Close()
		return nil, err
	}
	if len(reply) == 0 || (reply[0] != 'S' && reply[0] != 'T') {
		conn.Close()
		return nil, fmt.Errorf("stub %s: target not halted (reply %q)", addr, reply)
	}
	return t, nil
}

// Detach tells the stub we are done and closes the connection.
func (t *RemoteTarget) Detach() error {
	if t.conn == nil {
		return nil
	}
	_, err := t.exchange("D")
	cerr := t.conn.Close()
	t.conn = nil
	if err != nil {
		return err
	}
	return cerr
}

// ReadMemory reads len(buf) bytes of target memory at addr into buf and
// returns the byte count. Unreadable memory comes back as *MemoryError.
func (t *RemoteTarget) ReadMemory(addr uint64, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n := len(buf) - read
		if n > readChunk {
			n = readChunk
		}
		reply, err := t.exchange(fmt.Sprintf("m%x,%x", addr+uint64(read), n))
		if err != nil {
			return read, err
		}
		if isStubError(reply) {
			return read, &MemoryError{Addr: addr + uint64(read), Len: n, Code: reply}
		}
		dat, err := hex.DecodeString(reply)
		if err != nil {
			return read, fmt.Errorf("stub sent bad hex for [%#x,+%d): %w", addr+uint64(read), n, err)
		}
		if len(dat) == 0 {
			return read, &MemoryError{Addr: addr + uint64(read), Len: n, Code: "empty reply"}
		}
		copy(buf[read:], dat)
		read += len(dat)
		if len(dat) < n {
			// stub truncated the read at a region boundary
			return read, &MemoryError{Addr: addr + uint64(read), Len: n - len(dat), Code: "short read"}
		}
	}
	return read, nil
}

// CurrentThread asks the stub for its selected thread ('qC'). RTOS-aware
// stubs report ChibiOS thread ids that are the TCB addresses themselves,
// which is exactly the correlate the extractor wants. ok is false when the
// stub has no current thread or does not support the query.
func (t *RemoteTarget) CurrentThread() (uint64, bool, error) {
	reply, err := t.exchange("qC")
	if err != nil {
		return 0, false, err
	}
	if !strings.HasPrefix(reply, "QC") {
		return 0, false, nil
	}
	id := strings.TrimPrefix(reply, "QC")
	// multiprocess syntax pPID.TID: the thread part is what we want
	if i := strings.IndexByte(id, '.'); i >= 0 {
		id = id[i+1:]
	}
	id = strings.TrimPrefix(id, "p")
	tid, err := strconv.ParseUint(strings.TrimPrefix(id, "0x"), 16, 64)
	if err != nil || tid == 0 {
		return 0, false, nil
	}
	return tid, true, nil
}

// exchange sends one packet and returns the payload of the stub's reply.
func (t *RemoteTarget) exchange(cmd string) (string, error) {
	if t.conn == nil {
		return "", errors.New("not attached")
	}
	if !t.inUse.CAS(false, true) {
		return "", ErrBusy
	}
	defer t.inUse.Store(false)

	pkt := fmt.Sprintf("$%s#%02x", cmd, checksum(cmd))
	for {
		if _, err := t.conn.Write([]byte(pkt)); err != nil {
			return "", err
		}
		ack, err := t.rd.ReadByte()
		if err != nil {
			return "", err
		}
		if ack == '+' {
			break
		}
		if ack != '-' {
			return "", fmt.Errorf("stub sent %q instead of ack", ack)
		}
		// '-': checksum mismatch on the wire, retransmit
	}

	reply, err := readPacket(t.rd)
	if err != nil {
		return "", err
	}
	_, err = t.conn.Write([]byte{'+'})
	return reply, err
}

func checksum(payload string) byte {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	return sum
}

// readPacket reads one $payload#xx frame, verifies the checksum and undoes
// the protocol's escaping ('}') and run-length encoding ('*').
func readPacket(rd *bufio.Reader) (string, error) {
	// skip notifications/noise until the packet start
	for {
		b, err := rd.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '$' {
			break
		}
	}

	raw, err := rd.ReadString('#')
	if err != nil {
		return "", err
	}
	raw = raw[:len(raw)-1]

	var csum [2]byte
	if _, err := io.ReadFull(rd, csum[:]); err != nil {
		return "", err
	}
	want, err := strconv.ParseUint(string(csum[:]), 16, 8)
	if err != nil {
		return "", fmt.Errorf("bad packet checksum %q: %w", csum, err)
	}
	if checksum(raw) != byte(want) {
		return "", fmt.Errorf("packet checksum mismatch: got %#02x want %#02x", checksum(raw), want)
	}

	return expand(raw)
}

// expand decodes RSP escapes and run-length repeats in a packet payload.
func expand(raw string) (string, error) {
	var out []byte
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '}':
			if i+1 >= len(raw) {
				return "", errors.New("dangling escape in packet")
			}
			i++
			out = append(out, raw[i]^0x20)
		case '*':
			if len(out) == 0 || i+1 >= len(raw) {
				return "", errors.New("dangling run-length in packet")
			}
			i++
			repeat := int(raw[i]) - 29
			if repeat < 0 {
				return "", errors.New("bad run-length count in packet")
			}
			last := out[len(out)-1]
			for j := 0; j < repeat; j++ {
				out = append(out, last)
			}
		default:
			out = append(out, raw[i])
		}
	}
	return string(out), nil
}

func isStubError(reply string) bool {
	return len(reply) == 3 && reply[0] == 'E' && isHexDigit(reply[1]) && isHexDigit(reply[2])
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
