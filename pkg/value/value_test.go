package value

import (
	"math/big"
	"testing"
)

func TestAddWrapsAt128Bits(t *testing.T) {
	max := NewValueBig(B128, new(big.Int).Sub(modulus, big.NewInt(1)))
	one := NewValue(B128, 1)

	got := max.Add(one)
	if got.Payload.Sign() != 0 {
		t.Fatalf("(2^128-1)+1 = %s, want 0", got.Payload)
	}
}

func TestSubWrapsNegative(t *testing.T) {
	zero := NewValue(B8, 0)
	one := NewValue(B8, 1)

	got := zero.Sub(one)
	want := new(big.Int).Sub(modulus, big.NewInt(1))
	if got.Payload.Cmp(want) != 0 {
		t.Errorf("0-1 = %s, want %s", got.Payload, want)
	}
}

func TestMulWraps(t *testing.T) {
	a := NewValueBig(B128, new(big.Int).Lsh(big.NewInt(1), 100))
	b := NewValueBig(B128, new(big.Int).Lsh(big.NewInt(1), 100))

	got := a.Mul(b)
	want := new(big.Int).Mod(new(big.Int).Lsh(big.NewInt(1), 200), modulus)
	if got.Payload.Cmp(want) != 0 {
		t.Errorf("2^100 * 2^100 mod 2^128 = %s, want %s", got.Payload, want)
	}
}

func TestDivByZero(t *testing.T) {
	a := NewValue(B16, 10)
	zero := NewValue(B16, 0)

	if _, err := a.Div(zero); err != ErrDivideByZero {
		t.Fatalf("Div by zero: got %v, want ErrDivideByZero", err)
	}
}

func TestDivUnsigned(t *testing.T) {
	a := NewValue(B32, 17)
	b := NewValue(B32, 5)

	got, err := a.Div(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Payload.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("17/5 = %s, want 3", got.Payload)
	}
}

func TestCmp(t *testing.T) {
	lo := NewValue(B16, 5)
	hi := NewValue(B16, 9)

	if lo.Cmp(hi) >= 0 {
		t.Errorf("5 should compare less than 9")
	}
	if hi.Cmp(lo) <= 0 {
		t.Errorf("9 should compare greater than 5")
	}
	if lo.Cmp(NewValue(B16, 5)) != 0 {
		t.Errorf("5 should compare equal to 5")
	}
}

func TestResultCarriesLeftOperandWidth(t *testing.T) {
	a := NewValue(B8, 200)
	b := NewValue(B64, 1)

	if got := a.Add(b); got.Width != B8 {
		t.Errorf("add width = %v, want B8", got.Width)
	}
	if got := b.Add(a); got.Width != B64 {
		t.Errorf("add width = %v, want B64", got.Width)
	}
}

func TestByteAndUint64(t *testing.T) {
	v := NewValue(B16, 0x1234)
	if v.Byte() != 0x34 {
		t.Errorf("Byte() = 0x%02X, want 0x34", v.Byte())
	}
	u, ok := v.Uint64()
	if !ok || u != 0x1234 {
		t.Errorf("Uint64() = %d, %v; want 0x1234, true", u, ok)
	}

	huge := NewValueBig(B128, new(big.Int).Lsh(big.NewInt(1), 100))
	if _, ok := huge.Uint64(); ok {
		t.Errorf("Uint64() ok=true for a value that doesn't fit in 64 bits")
	}
}
