// Package bitset provides the fixed-width and sparse bit vectors used by
// liveness analysis and the interference graph. Both kinds address bits by a
// dense non-negative id and are not safe for concurrent mutation.
package bitset

import (
	"fmt"
	"math/bits"
	"strings"
)

const wordBits = 64

// BitSet is a fixed-capacity dense bit vector. The zero value is an empty set
// of capacity zero; use New to size one.
type BitSet struct {
	words []uint64
	n     int
}

// New creates a BitSet able to hold ids in [0, n).
func New(n int) *BitSet {
	return &BitSet{
		words: make([]uint64, (n+wordBits-1)/wordBits),
		n:     n,
	}
}

// Len returns the capacity in bits.
func (b *BitSet) Len() int { return b.n }

// Set marks id as a member of the set.
func (b *BitSet) Set(id int) {
	b.words[id/wordBits] |= 1 << (uint(id) % wordBits)
}

// Clear removes id from the set.
func (b *BitSet) Clear(id int) {
	b.words[id/wordBits] &^= 1 << (uint(id) % wordBits)
}

// Test reports whether id is a member of the set. Ids outside the capacity
// are reported as absent rather than panicking, so callers can probe with
// ids from a wider numbering.
func (b *BitSet) Test(id int) bool {
	if id < 0 || id >= b.n {
		return false
	}

	return b.words[id/wordBits]&(1<<(uint(id)%wordBits)) != 0
}

// SetAll marks every id in [0, Len) as a member.
func (b *BitSet) SetAll() {
	for i := range b.words {
		b.words[i] = ^uint64(0)
	}
	b.trim()
}

// Reset removes all members without changing capacity.
func (b *BitSet) Reset() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// SetRange marks every id in [lo, hi) as a member.
func (b *BitSet) SetRange(lo, hi int) {
	for i := lo; i < hi; i++ {
		b.Set(i)
	}
}

// Or adds every member of other to b and reports whether b changed.
// The two sets must have the same capacity.
func (b *BitSet) Or(other *BitSet) bool {
	changed := false

	for i, w := range other.words {
		nw := b.words[i] | w
		if nw != b.words[i] {
			b.words[i] = nw
			changed = true
		}
	}

	return changed
}

// And intersects b with other in place.
func (b *BitSet) And(other *BitSet) {
	for i := range b.words {
		b.words[i] &= other.words[i]
	}
}

// AndNot removes every member of other from b.
func (b *BitSet) AndNot(other *BitSet) {
	for i := range b.words {
		b.words[i] &^= other.words[i]
	}
}

// Copy overwrites b with the contents of other. Capacities must match.
func (b *BitSet) Copy(other *BitSet) {
	copy(b.words, other.words)
}

// Clone returns an independent copy of b.
func (b *BitSet) Clone() *BitSet {
	c := New(b.n)
	copy(c.words, b.words)

	return c
}

// Equal reports whether b and other contain exactly the same members.
func (b *BitSet) Equal(other *BitSet) bool {
	if b.n != other.n {
		return false
	}

	for i, w := range b.words {
		if w != other.words[i] {
			return false
		}
	}

	return true
}

// Count returns the number of members.
func (b *BitSet) Count() int {
	total := 0
	for _, w := range b.words {
		total += bits.OnesCount64(w)
	}

	return total
}

// IsEmpty reports whether the set has no members.
func (b *BitSet) IsEmpty() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}

	return true
}

// ForEach calls fn for every member in ascending order.
func (b *BitSet) ForEach(fn func(id int)) {
	for i, w := range b.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			fn(i*wordBits + bit)
			w &^= 1 << uint(bit)
		}
	}
}

// NextSet returns the smallest member >= id, or -1 when none exists.
func (b *BitSet) NextSet(id int) int {
	if id < 0 {
		id = 0
	}

	for i := id / wordBits; i < len(b.words); i++ {
		w := b.words[i]
		if i == id/wordBits {
			w &= ^uint64(0) << (uint(id) % wordBits)
		}

		if w != 0 {
			return i*wordBits + bits.TrailingZeros64(w)
		}
	}

	return -1
}

// String renders the members as "{1, 5, 9}" for debugging.
func (b *BitSet) String() string {
	var sb strings.Builder

	sb.WriteByte('{')

	first := true
	b.ForEach(func(id int) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%d", id)
	})
	sb.WriteByte('}')

	return sb.String()
}

// trim clears bits beyond the capacity so Count and Equal stay exact after
// SetAll.
func (b *BitSet) trim() {
	if rem := b.n % wordBits; rem != 0 && len(b.words) > 0 {
		b.words[len(b.words)-1] &= (1 << uint(rem)) - 1
	}
}
