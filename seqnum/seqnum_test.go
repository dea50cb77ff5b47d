package seqnum

import "testing"

func TestLessThanWraps(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		{0xffffffff, 0, true},
		{0, 0xffffffff, false},
		{1<<31 - 1, 1 << 31, true},
	}
	for _, c := range cases {
		if got := c.a.LessThan(c.b); got != c.want {
			t.Errorf("%#x.LessThan(%#x) = %v, want %v", uint32(c.a), uint32(c.b), got, c.want)
		}
	}
}

func TestInWindow(t *testing.T) {
	const start = Value(100)
	const size = Size(10)
	if start.InWindow(start, size) == false {
		t.Error("window start must be in window")
	}
	if (start.Add(size)).InWindow(start, size) {
		t.Error("window end (exclusive) must not be in window")
	}
	if (start.Add(size)).InWindowClosed(start, size) == false {
		t.Error("window end must be in closed window")
	}
	if (start - 1).InWindow(start, size) {
		t.Error("byte before window start must not be in window")
	}
	if Value(0).InWindow(0xfffffff0, 0x20) == false {
		t.Error("window wrap across 0 must be handled")
	}
}

func TestZeroWindowNeverContains(t *testing.T) {
	if Value(5).InWindow(5, 0) {
		t.Error("zero-size window must never contain any value")
	}
}
