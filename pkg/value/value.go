// Package value implements the VM's tagged stack cell: a declared bit
// width paired with an unsigned payload that is always reduced modulo
// 2^128. Arithmetic wraps at that modulus; comparisons are unsigned.
package value

import (
	"errors"
	"math/big"
)

// Width identifies the declared bit width of a Value. It is carried for
// introspection and memory-cell identity; it never masks arithmetic
// results (see Add/Sub/Mul/Div).
type Width int

const (
	B8 Width = iota
	B16
	B32
	B64
	B128
)

// Bits returns the declared bit width.
func (w Width) Bits() int {
	switch w {
	case B8:
		return 8
	case B16:
		return 16
	case B32:
		return 32
	case B64:
		return 64
	case B128:
		return 128
	default:
		return 0
	}
}

func (w Width) String() string {
	switch w {
	case B8:
		return "B8"
	case B16:
		return "B16"
	case B32:
		return "B32"
	case B64:
		return "B64"
	case B128:
		return "B128"
	default:
		return "B?"
	}
}

// ErrDivideByZero is returned by Div when the divisor's payload is zero.
var ErrDivideByZero = errors.New("division by zero")

// modulus is 2^128, the wraparound point for every arithmetic op.
var modulus = new(big.Int).Lsh(big.NewInt(1), 128)

// Value is a tagged stack/memory cell: (width, payload mod 2^128).
type Value struct {
	Width   Width
	Payload *big.Int
}

// NewValue builds a Value from a uint64, reduced mod 2^128 (a no-op for
// any uint64, but kept for symmetry with NewValueBig).
func NewValue(w Width, v uint64) Value {
	return Value{Width: w, Payload: new(big.Int).SetUint64(v)}
}

// NewValueBig builds a Value from an arbitrary non-negative big.Int,
// reducing it mod 2^128. v is never mutated.
func NewValueBig(w Width, v *big.Int) Value {
	p := new(big.Int).Mod(v, modulus)
	return Value{Width: w, Payload: p}
}

// Zero is the canonical zero-filled B8 cell memory vectors grow with.
func Zero() Value {
	return NewValue(B8, 0)
}

func wrap(p *big.Int) *big.Int {
	return p.Mod(p, modulus)
}

// Add returns a+b mod 2^128, width = a's width.
func (a Value) Add(b Value) Value {
	r := new(big.Int).Add(a.Payload, b.Payload)
	return Value{Width: a.Width, Payload: wrap(r)}
}

// Sub returns a-b mod 2^128, width = a's width.
func (a Value) Sub(b Value) Value {
	r := new(big.Int).Sub(a.Payload, b.Payload)
	return Value{Width: a.Width, Payload: wrap(r)}
}

// Mul returns a*b mod 2^128, width = a's width.
func (a Value) Mul(b Value) Value {
	r := new(big.Int).Mul(a.Payload, b.Payload)
	return Value{Width: a.Width, Payload: wrap(r)}
}

// Div returns unsigned a/b, width = a's width. ErrDivideByZero if b is 0.
func (a Value) Div(b Value) (Value, error) {
	if b.Payload.Sign() == 0 {
		return Value{}, ErrDivideByZero
	}
	r := new(big.Int).Quo(a.Payload, b.Payload)
	return Value{Width: a.Width, Payload: wrap(r)}, nil
}

// Cmp performs an unsigned 128-bit compare, ignoring width: -1 if a<b,
// 0 if equal, 1 if a>b.
func (a Value) Cmp(b Value) int {
	return a.Payload.Cmp(b.Payload)
}

var mask64 = new(big.Int).SetUint64(^uint64(0))

// Uint64 returns the low 64 bits of the payload and whether the full
// payload fits in 64 bits (used defensively at the syscall boundary).
func (a Value) Uint64() (uint64, bool) {
	low := new(big.Int).And(a.Payload, mask64)
	return low.Uint64(), a.Payload.IsUint64()
}

// Byte returns the low 8 bits of the payload, as used for global-memory
// cells holding a character or syscall buffer byte.
func (a Value) Byte() byte {
	low, _ := a.Uint64()
	return byte(low & 0xFF)
}
