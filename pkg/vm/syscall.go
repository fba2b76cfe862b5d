package vm

import (
	"fmt"
	"os"

	"stackvm/pkg/value"
)

// syscall dispatches opcode `syscall n` to the host bridge. The stack
// effect for read/write is `fd buf count ->  retval`; exit consumes just
// the status and never returns a value (it returns ErrExit instead).
func (m *VM) syscall(n int) error {
	switch n {
	case SysRead:
		return m.sysRead()
	case SysWrite:
		return m.sysWrite()
	case SysExit:
		return m.sysExit()
	default:
		return m.syscallFallback(n)
	}
}

// sysRead is unimplemented: copying host stdin bytes into VM global
// memory needs a blocking/partial-read design this machine doesn't
// specify. It pops its three operands and pushes -1, matching the
// reference's stub.
func (m *VM) sysRead() error {
	if _, err := m.pop(); err != nil { // count
		return err
	}
	if _, err := m.pop(); err != nil { // buf
		return err
	}
	if _, err := m.pop(); err != nil { // fd
		return err
	}
	m.push(value.NewValue(value.B64, ^uint64(0)))
	return nil
}

func (m *VM) sysWrite() error {
	count, err := m.popAddr()
	if err != nil {
		return err
	}
	buf, err := m.popAddr()
	if err != nil {
		return err
	}
	fd, err := m.popAddr()
	if err != nil {
		return err
	}

	// count is a raw program-controlled operand; validate it against the
	// addressed region's actual extent before allocating, rather than
	// trusting it as an allocation size. Checked as a subtraction to
	// avoid buf+count overflowing uint64.
	globalLen := uint64(len(m.global))
	if buf > globalLen || count > globalLen-buf {
		return ErrOutOfRange
	}
	data := make([]byte, count)
	for i := uint64(0); i < count; i++ {
		data[i] = m.global[buf+i].Byte()
	}

	w := m.writerFor(fd)
	n, writeErr := w.Write(data)
	if writeErr != nil {
		m.push(value.NewValue(value.B64, ^uint64(0)))
		return nil
	}
	m.push(value.NewValue(value.B64, uint64(n)))
	return nil
}

func (m *VM) sysExit() error {
	status, err := m.pop()
	if err != nil {
		return err
	}
	code, _ := status.Uint64()
	return ErrExit{Code: int(int32(code))}
}

// syscallFallback pops nothing further and reports the unrecognized
// number the way the reference treats any syscall it doesn't implement:
// fatal rather than silently ignored.
func (m *VM) syscallFallback(n int) error {
	return &UnknownSyscallError{Number: n}
}

// UnknownSyscallError is returned for a syscall number outside
// read/write/exit.
type UnknownSyscallError struct {
	Number int
}

func (e *UnknownSyscallError) Error() string {
	return fmt.Sprintf("vm: unrecognized syscall number %d", e.Number)
}

// writerFor resolves a file descriptor to a Writer: 1 and 2 map to the
// VM's configured Stdout/Stderr (defaulting to the process's own streams
// if unset); any other fd is out of scope, matching the portability
// caveat that syscall numbers/descriptors aren't claimed cross-host.
func (m *VM) writerFor(fd uint64) Writer {
	switch fd {
	case 1:
		if m.Stdout != nil {
			return m.Stdout
		}
		return os.Stdout
	case 2:
		if m.Stderr != nil {
			return m.Stderr
		}
		return os.Stderr
	default:
		return discard{}
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
