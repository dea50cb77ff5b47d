// Package seqnum implements wrapping arithmetic over the 32-bit TCP
// sequence number space (RFC 793 §3.3).
package seqnum

// Value is a 32-bit TCP sequence or acknowledgment number. Comparisons
// between two Values must account for wraparound and should go through
// the methods below rather than native operators.
type Value uint32

// Size is a count of bytes occupied in the sequence space, such as a
// segment length or an advertised window.
type Size uint32

// Add returns v+n, wrapping as uint32 addition does.
func (v Value) Add(n Size) Value { return v + Value(n) }

// Sub returns the number of bytes separating v from before, assuming
// before precedes v in sequence order (i.e. v was produced by advancing
// before by the returned amount).
func (v Value) Sub(before Value) Size { return Size(v - before) }

// LessThan reports whether v occurs strictly before w in the sequence
// space, defined as in RFC 1982 modular comparison: the difference w-v,
// taken as an unsigned 32-bit value, is in (0, 2^31).
func (v Value) LessThan(w Value) bool {
	d := uint32(w - v)
	return d != 0 && d < 1<<31
}

// LessThanEq reports whether v occurs at or before w.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow reports whether v falls in the half-open interval
// [start, start+size) of the sequence space.
func (v Value) InWindow(start Value, size Size) bool {
	if size == 0 {
		return false
	}
	return v.Sub(start) < size
}

// InWindowClosed reports whether v falls in the closed interval
// [start, start+size], i.e. InWindow with the window's end edge included.
func (v Value) InWindowClosed(start Value, size Size) bool {
	return v.Sub(start) <= Size(size)
}
