package buf

import (
	"math"
	"testing"
)

func TestAddOverflowSafe(t *testing.T) {
	if sum, ok := AddOverflowSafe(10, 5); !ok || sum != 15 {
		t.Fatalf("AddOverflowSafe(10,5)=%d,%v want 15,true", sum, ok)
	}
	if _, ok := AddOverflowSafe(math.MaxInt, 1); ok {
		t.Fatalf("expected overflow when adding to MaxInt")
	}
	if _, ok := AddOverflowSafe(math.MinInt, -1); ok {
		t.Fatalf("expected underflow when subtracting from MinInt")
	}
}

func TestMulOverflowSafe(t *testing.T) {
	if p, ok := MulOverflowSafe(6, 7); !ok || p != 42 {
		t.Fatalf("MulOverflowSafe(6,7)=%d,%v want 42,true", p, ok)
	}
	if p, ok := MulOverflowSafe(0, math.MaxInt); !ok || p != 0 {
		t.Fatalf("MulOverflowSafe(0,MaxInt)=%d,%v want 0,true", p, ok)
	}
	if _, ok := MulOverflowSafe(math.MaxInt/2+1, 2); ok {
		t.Fatalf("expected overflow for MaxInt/2+1 * 2")
	}
	if _, ok := MulOverflowSafe(-1, 2); ok {
		t.Fatalf("negative operands must be rejected")
	}
}

func TestSumOverflowSafe(t *testing.T) {
	if s, ok := SumOverflowSafe(1, 2, 3, 4); !ok || s != 10 {
		t.Fatalf("SumOverflowSafe=%d,%v want 10,true", s, ok)
	}
	if _, ok := SumOverflowSafe(1, math.MaxInt); ok {
		t.Fatalf("expected overflow")
	}
}

func TestCheckSpan(t *testing.T) {
	if end, err := CheckSpan(16, 4, 8); err != nil || end != 12 {
		t.Fatalf("CheckSpan(16,4,8)=%d,%v want 12,nil", end, err)
	}
	if _, err := CheckSpan(16, 10, 8); err == nil {
		t.Fatalf("expected bounds error")
	}
	if _, err := CheckSpan(16, -1, 1); err == nil {
		t.Fatalf("expected negative offset error")
	}
	if _, err := CheckSpan(16, math.MaxInt, 1); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestSlice(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4}
	got, ok := Slice(data, 1, 3)
	if !ok || len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("Slice returned unexpected result: %v, %v", got, ok)
	}
	if cap(got) != 3 {
		t.Fatalf("Slice cap=%d want 3", cap(got))
	}
	if _, ok := Slice(data, 4, 2); ok {
		t.Fatalf("Slice should fail when extending beyond len")
	}
	if _, ok := Slice(data, -1, 1); ok {
		t.Fatalf("Slice should reject negative offset")
	}
	if _, ok := Slice(data, 1, -1); ok {
		t.Fatalf("Slice should reject negative length")
	}
}

func TestPadTo(t *testing.T) {
	cases := []struct{ n, align, want int }{
		{13, 0, 0},
		{13, 8, 3},
		{16, 8, 0},
		{5, 4, 3},
		{1, 1, 0},
	}
	for _, c := range cases {
		if got := PadTo(c.n, c.align); got != c.want {
			t.Errorf("PadTo(%d,%d)=%d want %d", c.n, c.align, got, c.want)
		}
	}
}

func TestIsPow2(t *testing.T) {
	for _, v := range []int{1, 2, 4, 64, 4096} {
		if !IsPow2(v) {
			t.Errorf("IsPow2(%d) = false", v)
		}
	}
	for _, v := range []int{0, -4, 3, 12, 100} {
		if IsPow2(v) {
			t.Errorf("IsPow2(%d) = true", v)
		}
	}
}
