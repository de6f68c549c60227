package regalloc

import (
	"container/heap"
	"sort"

	"github.com/vela-gpu/vela/internal/gir"
	"github.com/vela-gpu/vela/internal/liveness"
)

// AugMask classifies how a variable's definitions relate to the execution
// mask. Two variables whose writes both follow the default lane pattern of
// the same element size can overlap safely under divergence; anything else
// needs separation.
type AugMask int

const (
	MaskUndetermined AugMask = iota
	MaskDefault16Bit
	MaskDefault32Bit
	MaskDefault64Bit
	MaskDefaultPredicate
	MaskNonDefault
)

var augMaskNames = [...]string{
	MaskUndetermined:     "undetermined",
	MaskDefault16Bit:     "default16",
	MaskDefault32Bit:     "default32",
	MaskDefault64Bit:     "default64",
	MaskDefaultPredicate: "default-predicate",
	MaskNonDefault:       "non-default",
}

func (m AugMask) String() string {
	if int(m) < len(augMaskNames) {
		return augMaskNames[m]
	}

	return "invalid"
}

func classForTypeSize(size int) AugMask {
	switch size {
	case 2:
		return MaskDefault16Bit
	case 4:
		return MaskDefault32Bit
	case 8:
		return MaskDefault64Bit
	default:
		return MaskNonDefault
	}
}

// augmenter adds the divergence edges the plain liveness build cannot see:
// it classifies every variable's write pattern, builds lexical intervals,
// and sweeps them oldest-first deciding strong edge, weak edge or proved
// compatibility per overlapping pair.
type augmenter struct {
	b    *intfBuild
	k    *gir.Kernel
	vars *varTable
}

// augNode is one sorted interval.
type augNode struct {
	lr    *LiveRange
	start int
	end   int
}

// endHeap orders active intervals by ascending end so expiry pops are
// cheap. Ties break toward the lower live-range id.
type endHeap []*augNode

func (h endHeap) Len() int { return len(h) }
func (h endHeap) Less(i, j int) bool {
	if h[i].end != h[j].end {
		return h[i].end < h[j].end
	}

	return h[i].lr.ID() < h[j].lr.ID()
}
func (h endHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *endHeap) Push(x any)   { *h = append(*h, x.(*augNode)) }
func (h *endHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]

	return it
}

func (ag *augmenter) run() {
	ag.classifyMasks()
	nodes := ag.buildIntervals()
	ag.sweep(nodes)
}

// classifyMasks walks every definition and folds it into the root
// declare's mask class. A second class, a predicate, a write-enable
// override, a stride or a lane offset that disagrees with the mask all
// demote to non-default.
func (ag *augmenter) classifyMasks() {
	ag.vars.ResetIntervals()
	for _, bb := range ag.k.Blocks {
		for _, in := range bb.Instrs {
			if d := in.Dst; d != nil && !d.Indirect {
				ag.classifyDst(in, d)
			}
			if cm := in.CondMod; cm != nil {
				ag.classifyCondMod(in, cm)
			}
		}
	}
}

func (ag *augmenter) classifyDst(in *gir.Instruction, d *gir.DstRegion) {
	root, rootOff := d.Dcl.RootDeclare()
	if root.RegFile() != gir.RegFileGRF {
		return
	}
	tsz := d.Ty.Size()
	elemOff := (rootOff + d.RegOff*ag.k.Platform.GRFByteSize) / tsz
	elemOff += d.SubRegOff

	mask := classForTypeSize(tsz)
	switch {
	case in.Pred != nil:
		mask = MaskNonDefault
	case in.NoMask:
		mask = MaskNonDefault
	case d.HorzStride != 1:
		mask = MaskNonDefault
	case elemOff != in.MaskOffset:
		mask = MaskNonDefault
	}
	ag.mergeMask(root, mask)
}

func (ag *augmenter) classifyCondMod(in *gir.Instruction, cm *gir.CondMod) {
	root, _ := cm.Dcl.RootDeclare()
	mask := MaskDefaultPredicate
	if in.Pred != nil || in.NoMask || in.MaskOffset != 0 || in.ExecSize != ag.k.SimdSize {
		mask = MaskNonDefault
	}
	ag.mergeMask(root, mask)
}

func (ag *augmenter) mergeMask(root *gir.Declare, mask AugMask) {
	if prev, set := ag.vars.Mask(root); set && prev != mask {
		mask = MaskNonDefault
	}
	ag.vars.SetMask(root, mask)
}

// maskOf reads the stored class; a variable with no classified definition
// (kernel inputs, address-filled values) counts as non-default.
func (ag *augmenter) maskOf(lr *LiveRange) AugMask {
	m, set := ag.vars.Mask(lr.Dcl)
	if !set || m == MaskUndetermined {
		return MaskNonDefault
	}

	return m
}

// buildIntervals computes a lexical [start, end] per colored range: every
// reference extends it, and liveness at block boundaries stretches it over
// whole blocks the variable crosses.
func (ag *augmenter) buildIntervals() []*augNode {
	b := ag.b
	for _, bb := range b.k.Blocks {
		for _, in := range bb.Instrs {
			for _, def := range defUseRoots(b.k.Platform, in, bb.Divergent) {
				if b.lrOf[def.ID()] >= 0 {
					ag.vars.ExtendInterval(def, in.ID)
				}
			}
		}
		if len(bb.Instrs) == 0 {
			continue
		}
		first, last := bb.Instrs[0].ID, bb.Instrs[len(bb.Instrs)-1].ID
		b.live.LiveIn[bb.ID].ForEach(func(declID int) {
			if b.lrOf[declID] >= 0 {
				ag.vars.ExtendInterval(b.k.Declares[declID], first)
			}
		})
		b.live.LiveOut[bb.ID].ForEach(func(declID int) {
			if b.lrOf[declID] >= 0 {
				ag.vars.ExtendInterval(b.k.Declares[declID], last)
			}
		})
	}

	nodes := make([]*augNode, 0, len(b.lrs))
	for _, lr := range b.lrs {
		if lr.IsPseudoNode() {
			continue
		}
		start, end, set := ag.vars.Interval(lr.Dcl)
		if !set {
			continue
		}
		nodes = append(nodes, &augNode{lr: lr, start: start, end: end})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].start != nodes[j].start {
			return nodes[i].start < nodes[j].start
		}

		return nodes[i].lr.ID() < nodes[j].lr.ID()
	})

	return nodes
}

// sweep walks intervals in start order with an active set keyed by end.
// Every pair that overlaps lexically gets a pairwise mask decision.
func (ag *augmenter) sweep(nodes []*augNode) {
	active := &endHeap{}
	for _, n := range nodes {
		for active.Len() > 0 && (*active)[0].end < n.start {
			heap.Pop(active)
		}
		for _, act := range *active {
			ag.handleSIMDIntf(act.lr, n.lr)
		}
		heap.Push(active, n)
	}
}

// handleSIMDIntf decides what an overlapping pair needs. Matching default
// classes are proved compatible, a non-default side forces a strong edge,
// and differing default classes either take a weak edge with even
// alignment or, when their spans stay small, a strong edge.
func (ag *augmenter) handleSIMDIntf(lr1, lr2 *LiveRange) {
	v1, v2 := lr1.ID(), lr2.ID()
	if v1 == v2 || ag.b.ig.Interfere(v1, v2) {
		return
	}
	m1, m2 := ag.maskOf(lr1), ag.maskOf(lr2)
	switch {
	case m1 == MaskNonDefault || m2 == MaskNonDefault:
		ag.b.checkAndSet(v1, v2)
	case m1 == m2:
		ag.b.ig.MarkCompatible(v1, v2)
	case ag.weakEdgeNeeded(m1) || ag.weakEdgeNeeded(m2):
		ag.b.ig.AddWeak(v1, v2)
		ag.vars.SetEvenAlign(lr1.Dcl)
		ag.vars.SetEvenAlign(lr2.Dcl)
	default:
		ag.b.checkAndSet(v1, v2)
	}
}

// weakEdgeNeeded reports whether a default class spans more than two
// registers at the kernel's width, where even alignment instead of a hard
// edge keeps lanes of mixed-size pairs from straddling.
func (ag *augmenter) weakEdgeNeeded(m AugMask) bool {
	var elemSize int
	switch m {
	case MaskDefault32Bit:
		elemSize = 4
	case MaskDefault64Bit:
		elemSize = 8
	default:
		return false
	}

	return elemSize*ag.k.SimdSize > 2*ag.k.Platform.GRFByteSize
}

// defUseRoots lists the root declares an instruction touches, defs and
// uses both.
func defUseRoots(p *gir.Platform, in *gir.Instruction, divergent bool) []*gir.Declare {
	var roots []*gir.Declare
	seen := map[*gir.Declare]bool{}
	add := func(d *gir.Declare) {
		if !seen[d] {
			seen[d] = true
			roots = append(roots, d)
		}
	}
	for _, r := range liveness.DefRefs(p, in, divergent) {
		add(r.Dcl)
	}
	for _, r := range liveness.UseRefs(p, in) {
		add(r.Dcl)
	}

	return roots
}
