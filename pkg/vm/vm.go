// Package vm implements the stack-based interpreter: an operand stack of
// tagged values, a call stack of return addresses, byte-addressed global
// memory, and 1024 lazily-created local memory regions, decoding and
// dispatching the word stream produced by pkg/asm.
package vm

import (
	"errors"
	"fmt"
	"math/big"

	"stackvm/pkg/value"
)

// Opcode constants, mirroring pkg/asm's encoding: the 16-bit word with
// the opcode in bits 15..10.
const (
	opAdd      uint16 = 0x0400
	opSub      uint16 = 0x0800
	opMul      uint16 = 0x0C00
	opDiv      uint16 = 0x1000
	opPop      uint16 = 0x1800
	opDup      uint16 = 0x1C00
	opJmp      uint16 = 0x2000
	opJz       uint16 = 0x2400
	opJnz      uint16 = 0x2800
	opCall     uint16 = 0x2C00
	opRet      uint16 = 0x3000
	opEq       uint16 = 0x3400
	opLt       uint16 = 0x3800
	opGt       uint16 = 0x3C00
	opGload    uint16 = 0x4000
	opGstore   uint16 = 0x4400
	opLload    uint16 = 0x4800
	opLstore   uint16 = 0x4C00
	opPushd8   uint16 = 0x5000
	opPushd16  uint16 = 0x5400
	opPushd32  uint16 = 0x5800
	opPushd64  uint16 = 0x5C00
	opPushd128 uint16 = 0x6000
	opSyscall  uint16 = 0x6400
)

const opcodeMask = 0xFC00
const inlineMask = 0x03FF

var (
	// ErrUnknownOpcode is returned when the decoder reads a word whose
	// high 6 bits don't match any recognized opcode. Unlike the reference
	// implementation (which prints a diagnostic and limps on, likely
	// misdecoding whatever follows), this is fatal.
	ErrUnknownOpcode = errors.New("vm: unknown opcode")

	// ErrStackUnderflow is returned when an operation needs more operand
	// stack entries than are present.
	ErrStackUnderflow = errors.New("vm: operand stack underflow")

	// ErrOutOfRange is returned by a global/local load past the current
	// length of the addressed memory region.
	ErrOutOfRange = errors.New("vm: memory read out of range")
)

// ErrExit is returned by Run/Step when the program executes an exit
// syscall. cmd/stackvm translates Code into the process exit status; the
// VM itself never calls os.Exit, keeping it safe to embed.
type ErrExit struct {
	Code int
}

func (e ErrExit) Error() string {
	return fmt.Sprintf("vm: exit(%d)", e.Code)
}

// Syscalls, numbered to match the host's read/write/exit identifiers.
const (
	SysRead  = 0
	SysWrite = 1
	SysExit  = 60
)

// VM holds the full machine state for one running program.
type VM struct {
	pc        *big.Int
	code      []uint16
	stack     []value.Value
	callStack []*big.Int
	global    []value.Value
	local     [1024][]value.Value

	// Stdout/Stderr receive syscall-write output for fd 1/2. New leaves
	// them nil, which selects the process's own os.Stdout/os.Stderr; a host
	// embedder may set them before calling Run.
	Stdout Writer
	Stderr Writer
}

// Writer is the minimal sink the syscall bridge writes bytes to; *os.File
// and *bytes.Buffer both satisfy it.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// New constructs a VM over an immutable word stream, program counter at 0.
func New(code []uint16) *VM {
	return &VM{
		pc:   big.NewInt(0),
		code: code,
	}
}

// Run executes Step until the program counter runs past the end of the
// word stream or a top-level ret halts it. An ErrExit from the exit
// syscall is returned as-is; any other error is also fatal and returned.
func (m *VM) Run() error {
	for {
		if _, ok := m.pcIndex(); !ok {
			return nil
		}
		halted, err := m.Step()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
}

// RunUntilDone is a synonym for Run: this VM has no distinct waiting
// state, only halted or erroring.
func (m *VM) RunUntilDone() error {
	return m.Run()
}

// Stack exposes the current operand stack, top last, for host inspection
// and tests. The slice is a live view; callers must not retain it across
// further Step/Run calls.
func (m *VM) Stack() []value.Value {
	return m.stack
}

// Global exposes the current global memory vector for host inspection.
func (m *VM) Global() []value.Value {
	return m.global
}

// Local exposes local memory region t for host inspection.
func (m *VM) Local(t int) []value.Value {
	return m.local[t]
}

func (m *VM) pcIndex() (uint64, bool) {
	if !m.pc.IsUint64() {
		return 0, false
	}
	idx := m.pc.Uint64()
	return idx, idx < uint64(len(m.code))
}

// Step executes exactly one decode/dispatch cycle. It reports halted=true
// when an empty-call-stack ret ends the program; err is non-nil on any
// fatal condition, including ErrExit.
func (m *VM) Step() (halted bool, err error) {
	idx, ok := m.pcIndex()
	if !ok {
		return true, nil
	}
	word := m.code[idx]
	opcode := word & opcodeMask
	inline := word & inlineMask
	m.pc = new(big.Int).Add(m.pc, big.NewInt(1))

	switch opcode {
	case opAdd, opSub, opMul, opDiv:
		return false, m.binaryArith(opcode)
	case opPop:
		_, err := m.pop()
		return false, err
	case opDup:
		v, err := m.pop()
		if err != nil {
			return false, err
		}
		m.push(v)
		m.push(v)
		return false, nil
	case opJmp:
		target, err := m.readTarget()
		if err != nil {
			return false, err
		}
		m.pc = target
		return false, nil
	case opJz, opJnz:
		target, err := m.readTarget()
		if err != nil {
			return false, err
		}
		v, err := m.pop()
		if err != nil {
			return false, err
		}
		zero := v.Payload.Sign() == 0
		if (opcode == opJz && zero) || (opcode == opJnz && !zero) {
			m.pc = target
		}
		return false, nil
	case opCall:
		target, err := m.readTarget()
		if err != nil {
			return false, err
		}
		m.callStack = append(m.callStack, new(big.Int).Set(m.pc))
		m.pc = target
		return false, nil
	case opRet:
		if len(m.callStack) == 0 {
			return true, nil
		}
		ret := m.callStack[len(m.callStack)-1]
		m.callStack = m.callStack[:len(m.callStack)-1]
		m.pc = ret
		return false, nil
	case opEq, opLt, opGt:
		return false, m.compare(opcode)
	case opGload:
		addr, err := m.popAddr()
		if err != nil {
			return false, err
		}
		v, err := readCell(m.global, addr)
		if err != nil {
			return false, err
		}
		m.push(v)
		return false, nil
	case opGstore:
		addr, err := m.popAddr()
		if err != nil {
			return false, err
		}
		v, err := m.pop()
		if err != nil {
			return false, err
		}
		m.global = writeCell(m.global, addr, v)
		return false, nil
	case opLload:
		addr, err := m.popAddr()
		if err != nil {
			return false, err
		}
		v, err := readCell(m.local[inline], addr)
		if err != nil {
			return false, err
		}
		m.push(v)
		return false, nil
	case opLstore:
		addr, err := m.popAddr()
		if err != nil {
			return false, err
		}
		v, err := m.pop()
		if err != nil {
			return false, err
		}
		m.local[inline] = writeCell(m.local[inline], addr, v)
		return false, nil
	case opPushd8:
		w, err := m.readWords(1)
		if err != nil {
			return false, err
		}
		m.push(value.NewValue(value.B8, uint64(w[0])&0xFF))
		return false, nil
	case opPushd16:
		w, err := m.readWords(1)
		if err != nil {
			return false, err
		}
		m.push(value.NewValue(value.B16, uint64(w[0])))
		return false, nil
	case opPushd32:
		n, err := m.readWideUint(2)
		if err != nil {
			return false, err
		}
		m.push(value.NewValueBig(value.B32, n))
		return false, nil
	case opPushd64:
		n, err := m.readWideUint(4)
		if err != nil {
			return false, err
		}
		m.push(value.NewValueBig(value.B64, n))
		return false, nil
	case opPushd128:
		n, err := m.readWideUint(8)
		if err != nil {
			return false, err
		}
		m.push(value.NewValueBig(value.B128, n))
		return false, nil
	case opSyscall:
		return false, m.syscall(int(inline))
	default:
		return false, ErrUnknownOpcode
	}
}

func (m *VM) push(v value.Value) {
	m.stack = append(m.stack, v)
}

func (m *VM) pop() (value.Value, error) {
	if len(m.stack) == 0 {
		return value.Value{}, ErrStackUnderflow
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// popAddr pops an address operand and reports it as a uint64; addresses
// beyond 64 bits are not representable by any memory region this VM can
// allocate and are treated as out of range.
func (m *VM) popAddr() (uint64, error) {
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	addr, ok := v.Uint64()
	if !ok {
		return 0, ErrOutOfRange
	}
	return addr, nil
}

func (m *VM) binaryArith(opcode uint16) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	switch opcode {
	case opAdd:
		m.push(a.Add(b))
	case opSub:
		m.push(a.Sub(b))
	case opMul:
		m.push(a.Mul(b))
	case opDiv:
		r, err := a.Div(b)
		if err != nil {
			return err
		}
		m.push(r)
	}
	return nil
}

func (m *VM) compare(opcode uint16) error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	cmp := a.Cmp(b)
	var result bool
	switch opcode {
	case opEq:
		result = cmp == 0
	case opLt:
		result = cmp < 0
	case opGt:
		result = cmp > 0
	}
	if result {
		m.push(value.NewValue(value.B8, 1))
	} else {
		m.push(value.NewValue(value.B8, 0))
	}
	return nil
}

// readWords reads n words starting at pc and advances pc by n.
func (m *VM) readWords(n int) ([]uint16, error) {
	idx, ok := m.pcIndex()
	if !ok || idx+uint64(n) > uint64(len(m.code)) {
		return nil, fmt.Errorf("vm: immediate read past end of code at word %s", m.pc)
	}
	out := m.code[idx : idx+uint64(n)]
	m.pc = new(big.Int).Add(m.pc, big.NewInt(int64(n)))
	return out, nil
}

// readWideUint reads n little-endian words and assembles them into an
// unsigned value, low word first.
func (m *VM) readWideUint(n int) (*big.Int, error) {
	words, err := m.readWords(n)
	if err != nil {
		return nil, err
	}
	out := new(big.Int)
	for i := n - 1; i >= 0; i-- {
		out.Lsh(out, 16)
		out.Or(out, big.NewInt(int64(words[i])))
	}
	return out, nil
}

// readTarget reads the 8-word little-endian 128-bit branch/call target.
func (m *VM) readTarget() (*big.Int, error) {
	return m.readWideUint(8)
}

// readCell returns cell[addr], or ErrOutOfRange if addr is past the
// region's current length.
func readCell(cells []value.Value, addr uint64) (value.Value, error) {
	if addr >= uint64(len(cells)) {
		return value.Value{}, ErrOutOfRange
	}
	return cells[addr], nil
}

// writeCell grows cells to addr+1 if needed, zero-filling the gap, then
// assigns v at addr.
func writeCell(cells []value.Value, addr uint64, v value.Value) []value.Value {
	if addr >= uint64(len(cells)) {
		grown := make([]value.Value, addr+1)
		copy(grown, cells)
		for i := len(cells); i < len(grown); i++ {
			grown[i] = value.Zero()
		}
		cells = grown
	}
	cells[addr] = v
	return cells
}
