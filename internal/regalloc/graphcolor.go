package regalloc

import (
	"container/heap"
	"sort"

	"github.com/vela-gpu/vela/internal/bitset"
	"github.com/vela-gpu/vela/internal/gir"
)

// coloringState carries one register file through one build-color-assign
// attempt.
type coloringState struct {
	file   gir.RegFile
	lrs    []*LiveRange
	lrOf   []int // declare id -> live-range id
	ig     *Interference
	tables *forbiddenTables

	// callSites pairs each external call with its clobber node.
	callSites []callSite

	// stack holds the simplify order; assignment walks it backward.
	stack []*LiveRange
	// spilled collects the ranges assignment could not color.
	spilled []*LiveRange
}

func (cs *coloringState) lrForDcl(d *gir.Declare) *LiveRange {
	if id := cs.lrOf[d.ID()]; id >= 0 {
		return cs.lrs[id]
	}

	return nil
}

// hasSpilledLiveRanges reports whether assignment left uncolored ranges
// for the spill rewriter.
func (cs *coloringState) hasSpilledLiveRanges() bool { return len(cs.spilled) > 0 }

// freeRegsFor returns how many allocation units the file offers a range
// after its forbidden table.
func (cs *coloringState) freeRegsFor(lr *LiveRange, p *gir.Platform) int {
	switch cs.file {
	case gir.RegFileAddress:
		return p.NumAddrSubRegs
	case gir.RegFileFlag:
		return p.NumFlagRegs
	default:
		return cs.tables.FreeRegs(lr.ForbiddenKind())
	}
}

// ====== Degree ======.

// edgeWeightGRF weighs an edge by how many start positions the neighbor
// pair rules out. Even-aligned ends round the count to pairs.
func edgeWeightGRF(vars *varTable, lr1, lr2 *LiveRange) int {
	n1, n2 := lr1.NumRegNeeded(), lr2.NumRegNeeded()
	e1 := vars.EvenAlign(lr1.Dcl)
	e2 := vars.EvenAlign(lr2.Dcl)
	switch {
	case !e1:
		return n1 + n2 - 1
	case !e2:
		sum := n1 + n2

		return sum + 1 - sum%2
	default:
		return roundUpEven(n1) + roundUpEven(n2) - 1
	}
}

func roundUpEven(n int) int { return n + n%2 }

// edgeWeightARF weighs an edge in the scalar files by the neighbor's unit
// count.
func edgeWeightARF(lr2 *LiveRange) int { return lr2.NumRegNeeded() }

func (cs *coloringState) edgeWeight(vars *varTable, lr, neighbor *LiveRange) int {
	if cs.file == gir.RegFileGRF {
		return edgeWeightGRF(vars, lr, neighbor)
	}

	return edgeWeightARF(neighbor)
}

// computeDegrees sums edge weights per node from the frozen neighbor
// lists.
func (cs *coloringState) computeDegrees(vars *varTable) {
	for _, lr := range cs.lrs {
		deg := 0
		for _, nb := range cs.ig.Neighbors(lr.ID()) {
			deg += cs.edgeWeight(vars, lr, cs.lrs[nb])
		}
		lr.SetDegree(deg)
	}
}

// ====== Spill cost ======.

// computeSpillCosts prices every node. Loop-weighted references over the
// byte footprint keeps hot small scalars expensive and cold wide payloads
// cheap. Pinned classes and spill temporaries get the infinite sentinel;
// spill temporaries never re-spill. Roots in forceSpill failed an earlier
// round and go first in the spill order.
func (cs *coloringState) computeSpillCosts(vars *varTable, isSpillTemp func(*gir.Declare) bool, forceSpill map[*gir.Declare]bool) {
	for _, lr := range cs.lrs {
		switch {
		case lr.IsInfiniteSpillCost():
			// Pinned earlier (return addresses, clobber nodes).
		case lr.IsPseudoNode() || lr.IsRetIP():
			lr.MarkInfiniteSpillCost()
		case isSpillTemp != nil && isSpillTemp(lr.Dcl):
			lr.MarkInfiniteSpillCost()
		case forceSpill[lr.Dcl]:
			lr.SetSpillCost(MinSpillCost)
		default:
			refs := lr.RefCount()
			size := lr.Dcl.ByteSize()
			if size == 0 {
				size = 1
			}
			lr.SetSpillCost(float64(refs) / float64(size))
		}
	}
}

// ====== Simplify ======.

// costHeap orders the unconstrained worklist by ascending spill cost so
// the cheapest candidate leaves the graph first and colors last. Ties
// break toward the lower live-range id.
type costHeap struct {
	lrs []*LiveRange
	ids []int
}

func (h *costHeap) Len() int { return len(h.ids) }
func (h *costHeap) Less(i, j int) bool {
	a, b := h.ids[i], h.ids[j]
	if ca, cb := h.lrs[a].SpillCost(), h.lrs[b].SpillCost(); ca != cb {
		return ca < cb
	}

	return a < b
}
func (h *costHeap) Swap(i, j int) { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *costHeap) Push(x any)    { h.ids = append(h.ids, x.(int)) }
func (h *costHeap) Pop() any {
	old := h.ids
	n := len(old)
	id := old[n-1]
	h.ids = old[:n-1]

	return id
}

// determineColorOrdering empties the graph onto cs.stack. Nodes whose
// degree plus width fit the file leave first, cheapest first; when none
// fits, the cheapest remaining node leaves optimistically and may still
// color when its turn comes back.
func (cs *coloringState) determineColorOrdering(vars *varTable, p *gir.Platform) {
	n := len(cs.lrs)
	cs.stack = make([]*LiveRange, 0, n)
	removed := bitset.New(n)
	queued := bitset.New(n)

	free := make([]int, n)
	for i, lr := range cs.lrs {
		free[i] = cs.freeRegsFor(lr, p)
	}

	work := &costHeap{lrs: cs.lrs}
	tryQueue := func(id int) {
		lr := cs.lrs[id]
		if queued.Test(id) || removed.Test(id) {
			return
		}
		if lr.Degree()+lr.NumRegNeeded() <= free[id] {
			lr.SetUnconstrained(true)
			queued.Set(id)
			heap.Push(work, id)
		}
	}
	for id := range cs.lrs {
		tryQueue(id)
	}

	// Optimistic picks walk a spill-cost presort; costs do not depend on
	// degree, so the order stays valid while the graph shrinks.
	byCost := make([]int, n)
	for i := range byCost {
		byCost[i] = i
	}
	sort.Slice(byCost, func(i, j int) bool {
		ci, cj := cs.lrs[byCost[i]].SpillCost(), cs.lrs[byCost[j]].SpillCost()
		if ci != cj {
			return ci < cj
		}

		return byCost[i] < byCost[j]
	})
	nextCheap := 0

	remove := func(id int) {
		lr := cs.lrs[id]
		removed.Set(id)
		cs.stack = append(cs.stack, lr)
		for _, nb := range cs.ig.Neighbors(id) {
			if removed.Test(nb) {
				continue
			}
			cs.lrs[nb].SubtractDegree(cs.edgeWeight(vars, cs.lrs[nb], lr))
			tryQueue(nb)
		}
	}

	for remaining := n; remaining > 0; remaining-- {
		if work.Len() > 0 {
			remove(heap.Pop(work).(int))

			continue
		}
		for nextCheap < n && removed.Test(byCost[nextCheap]) {
			nextCheap++
		}
		if nextCheap == n {
			violationf("ordering", "graph not empty but no removable node")
		}
		remove(byCost[nextCheap])
	}
}
