package bitset

import "math/bits"

// Sparse is an unbounded bit vector backed by a word map. It trades the dense
// vector's O(1) word indexing for memory proportional to the number of
// occupied words, which is what the interference graph needs above its dense
// matrix threshold.
type Sparse struct {
	words map[int]uint64
}

// NewSparse creates an empty sparse bit vector.
func NewSparse() *Sparse {
	return &Sparse{words: make(map[int]uint64)}
}

// Set marks id as a member of the set.
func (s *Sparse) Set(id int) {
	s.words[id/wordBits] |= 1 << (uint(id) % wordBits)
}

// Clear removes id from the set.
func (s *Sparse) Clear(id int) {
	w := id / wordBits

	if cur, ok := s.words[w]; ok {
		cur &^= 1 << (uint(id) % wordBits)
		if cur == 0 {
			delete(s.words, w)
		} else {
			s.words[w] = cur
		}
	}
}

// Test reports whether id is a member of the set.
func (s *Sparse) Test(id int) bool {
	return s.words[id/wordBits]&(1<<(uint(id)%wordBits)) != 0
}

// Count returns the number of members.
func (s *Sparse) Count() int {
	total := 0
	for _, w := range s.words {
		total += bits.OnesCount64(w)
	}

	return total
}

// IsEmpty reports whether the set has no members.
func (s *Sparse) IsEmpty() bool { return len(s.words) == 0 }

// ForEach calls fn for every member. Iteration order follows the word map and
// is unspecified; callers needing determinism must collect and sort.
func (s *Sparse) ForEach(fn func(id int)) {
	for wi, w := range s.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			fn(wi*wordBits + bit)
			w &^= 1 << uint(bit)
		}
	}
}
