// Package splitstring carries the bytes of a single logical token that may
// straddle the boundary between two of a filereader.Reader's buffers. A
// Token never owns storage; every part it describes borrows memory from
// whatever buffer produced it, and is only valid while that buffer is
// still held.
package splitstring

// Part is a (base, length) view into a buffer owned elsewhere. base is the
// backing slice starting at the part's first byte and changes only through
// SetPart or SetPartBase; length is updated as the token grows.
type Part struct {
	base []byte
	n    int
}

// Bytes returns the part's current contents.
func (p Part) Bytes() []byte { return p.base[:p.n] }

// Base returns the part's full backing slice, unsliced by its length.
// Scanners use this to recompute a part's length from a live read
// position without needing a separate record of where the part began.
func (p Part) Base() []byte { return p.base }

// Token is a value of 0, 1 or 2 parts describing a token whose storage
// lives in one or two reader buffers. The zero value is a cleared Token.
type Token struct {
	parts [2]Part
	count int
}

// PartsCount returns how many parts are currently populated: 0, 1 or 2.
func (t *Token) PartsCount() int { return t.count }

// SetPartsCount sets the number of populated parts. n must be 0, 1 or 2;
// callers are responsible for keeping the parts themselves consistent.
// Setting the count to 0 also zeroes both parts, so a cleared Token never
// reports stale bases through IsClear or Part.
func (t *Token) SetPartsCount(n int) {
	if n < 0 || n > 2 {
		panic("splitstring: parts count out of range")
	}
	t.count = n
	if n == 0 {
		t.parts = [2]Part{}
	}
}

// Part returns a copy of the i'th part (i must be 0 or 1).
func (t *Token) Part(i int) Part { return t.parts[i] }

// SetPart installs part i with the given base and length in one step.
func (t *Token) SetPart(i int, base []byte, length int) {
	t.parts[i] = Part{base: base, n: length}
}

// SetPartBase updates part i's base slice, leaving its length unchanged.
func (t *Token) SetPartBase(i int, base []byte) {
	t.parts[i].base = base
}

// SetPartLength updates part i's length, leaving its base unchanged.
func (t *Token) SetPartLength(i int, length int) {
	t.parts[i].n = length
}

// IsClear reports whether the token has no parts at all, with both parts
// zeroed.
func (t *Token) IsClear() bool {
	return t.count == 0 &&
		t.parts[0].base == nil && t.parts[0].n == 0 &&
		t.parts[1].base == nil && t.parts[1].n == 0
}

// Bytes concatenates the token's parts into a single slice. It allocates
// when the token spans two parts; callers on the hot path that only need
// to inspect the bytes (rather than retain them past the next scanner
// call) should prefer iterating Part(0)/Part(1) directly.
func (t *Token) Bytes() []byte {
	switch t.count {
	case 0:
		return nil
	case 1:
		return t.parts[0].Bytes()
	default:
		a, b := t.parts[0].Bytes(), t.parts[1].Bytes()
		out := make([]byte, 0, len(a)+len(b))
		out = append(out, a...)
		out = append(out, b...)
		return out
	}
}
