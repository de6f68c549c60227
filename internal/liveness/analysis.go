package liveness

import (
	"github.com/vela-gpu/vela/internal/bitset"
	"github.com/vela-gpu/vela/internal/gir"
)

// Result holds the dataflow sets of one analysis run, indexed by block id.
// Bits are root declare ids.
type Result struct {
	NumVars int

	UEVar   []*bitset.BitSet // upward-exposed uses
	VarKill []*bitset.BitSet // fully killed in block
	LiveIn  []*bitset.BitSet
	LiveOut []*bitset.BitSet

	Iterations int
}

// Analyze runs the backward fixpoint over the kernel's current control-flow
// graph. Callers rerun it after inserting spill code.
func Analyze(k *gir.Kernel) *Result {
	n := len(k.Declares)
	nb := len(k.Blocks)
	r := &Result{
		NumVars: n,
		UEVar:   make([]*bitset.BitSet, nb),
		VarKill: make([]*bitset.BitSet, nb),
		LiveIn:  make([]*bitset.BitSet, nb),
		LiveOut: make([]*bitset.BitSet, nb),
	}

	for _, b := range k.Blocks {
		ue := bitset.New(n)
		kill := bitset.New(n)
		for _, in := range b.Instrs {
			for _, u := range UseRefs(k.Platform, in) {
				if !kill.Test(u.Dcl.ID()) {
					ue.Set(u.Dcl.ID())
				}
			}
			for _, d := range DefRefs(k.Platform, in, b.Divergent) {
				if d.FullKill {
					kill.Set(d.Dcl.ID())
				}
			}
		}
		r.UEVar[b.ID] = ue
		r.VarKill[b.ID] = kill
		r.LiveIn[b.ID] = bitset.New(n)
		r.LiveOut[b.ID] = bitset.New(n)
	}

	// Reverse layout order converges quickly on reducible flow graphs.
	changed := true
	for changed {
		changed = false
		r.Iterations++
		for i := nb - 1; i >= 0; i-- {
			b := k.Blocks[i]
			out := r.LiveOut[b.ID]
			for _, s := range b.Succs {
				if out.Or(r.LiveIn[s.ID]) {
					changed = true
				}
			}
			in := out.Clone()
			in.AndNot(r.VarKill[b.ID])
			in.Or(r.UEVar[b.ID])
			if !in.Equal(r.LiveIn[b.ID]) {
				r.LiveIn[b.ID] = in
				changed = true
			}
		}
	}

	return r
}

// LiveAcross reports whether declare id is live out of any block, i.e. the
// variable crosses a block boundary and counts as global for the
// allocator's heuristics.
func (r *Result) LiveAcross(id int) bool {
	for _, out := range r.LiveOut {
		if out.Test(id) {
			return true
		}
	}

	return false
}
