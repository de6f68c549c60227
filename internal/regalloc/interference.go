package regalloc

import (
	"math/bits"
	"sort"

	"github.com/vela-gpu/vela/internal/bitset"
	"github.com/vela-gpu/vela/internal/gir"
	"github.com/vela-gpu/vela/internal/liveness"
)

// Interference stores the strong edges of one coloring attempt in an
// upper-triangular bit matrix: an edge (v1, v2) with v1 < v2 lives in row
// v1. The dense layout is picked at construction when it fits the memory
// budget, otherwise rows fall back to sparse word maps. Once neighbor
// lists are generated the matrix freezes and late writes are violations.
type Interference struct {
	maxID    int
	rowWords int

	useDense bool
	dense    []uint64
	sparse   []*bitset.Sparse

	neighbors [][]int
	frozen    bool
	edges     int

	weak       map[uint64]struct{}
	compatible map[uint64]struct{}
}

func newInterference(maxID int, denseLimit int64) *Interference {
	if denseLimit <= 0 {
		denseLimit = defaultDenseLimit()
	}
	ig := &Interference{
		maxID:      maxID,
		rowWords:   (maxID + 63) / 64,
		weak:       make(map[uint64]struct{}),
		compatible: make(map[uint64]struct{}),
	}
	need := int64(maxID) * int64(ig.rowWords) * 8
	ig.useDense = need <= denseLimit
	if ig.useDense {
		ig.dense = make([]uint64, maxID*ig.rowWords)
	} else {
		ig.sparse = make([]*bitset.Sparse, maxID)
		for i := range ig.sparse {
			ig.sparse[i] = bitset.NewSparse()
		}
	}

	return ig
}

// DenseInUse reports which layout the attempt picked.
func (ig *Interference) DenseInUse() bool { return ig.useDense }

// MaxID returns the node count the matrix was sized for.
func (ig *Interference) MaxID() int { return ig.maxID }

func pairKey(v1, v2 int) uint64 {
	if v1 > v2 {
		v1, v2 = v2, v1
	}

	return uint64(v1)<<32 | uint64(v2)
}

// Set records a strong edge. Self-edges are ignored.
func (ig *Interference) Set(v1, v2 int) {
	if v1 == v2 {
		return
	}
	if ig.frozen {
		violationf("intf-frozen", "edge (%d,%d) after neighbor lists were generated", v1, v2)
	}
	if v1 > v2 {
		v1, v2 = v2, v1
	}
	if v2 >= ig.maxID {
		violationf("intf-bounds", "edge (%d,%d) beyond matrix size %d", v1, v2, ig.maxID)
	}
	if ig.useDense {
		ig.dense[v1*ig.rowWords+(v2>>6)] |= 1 << (v2 & 63)
	} else {
		ig.sparse[v1].Set(v2)
	}
}

// SafeSet records an edge if both ids fit the matrix and reports whether it
// did. The incremental path uses the false return to force a full rebuild.
func (ig *Interference) SafeSet(v1, v2 int) bool {
	if v1 == v2 {
		return true
	}
	if v1 >= ig.maxID || v2 >= ig.maxID || ig.frozen {
		return false
	}
	ig.Set(v1, v2)

	return true
}

// Interfere reports whether a strong edge exists.
func (ig *Interference) Interfere(v1, v2 int) bool {
	if v1 == v2 || v1 >= ig.maxID || v2 >= ig.maxID || v1 < 0 || v2 < 0 {
		return false
	}
	if v1 > v2 {
		v1, v2 = v2, v1
	}
	if ig.useDense {
		return ig.dense[v1*ig.rowWords+(v2>>6)]&(1<<(v2&63)) != 0
	}

	return ig.sparse[v1].Test(v2)
}

// IsStrongEdgeBetween is Interfere under the name the conflict heuristics
// use: weak edges never count.
func (ig *Interference) IsStrongEdgeBetween(v1, v2 int) bool { return ig.Interfere(v1, v2) }

// AddWeak records a weak edge: the pair may share registers if both sides
// keep an even-register alignment. Weak edges live beside the matrix, not
// in it.
func (ig *Interference) AddWeak(v1, v2 int) {
	if v1 == v2 {
		return
	}
	ig.weak[pairKey(v1, v2)] = struct{}{}
}

// IsWeakEdge reports a recorded weak edge.
func (ig *Interference) IsWeakEdge(v1, v2 int) bool {
	_, ok := ig.weak[pairKey(v1, v2)]

	return ok
}

// MarkCompatible records a pair the lane-footprint rules proved
// overlap-safe, so the matrix deliberately has no edge.
func (ig *Interference) MarkCompatible(v1, v2 int) {
	if v1 == v2 {
		return
	}
	ig.compatible[pairKey(v1, v2)] = struct{}{}
}

// Compatible reports whether the pair was proved overlap-safe.
func (ig *Interference) Compatible(v1, v2 int) bool {
	_, ok := ig.compatible[pairKey(v1, v2)]

	return ok
}

// GenerateSparseIntf materializes per-node neighbor lists for the coloring
// loops and freezes the matrix.
func (ig *Interference) GenerateSparseIntf() {
	ig.neighbors = make([][]int, ig.maxID)
	ig.edges = 0
	if ig.useDense {
		for v1 := 0; v1 < ig.maxID; v1++ {
			row := ig.dense[v1*ig.rowWords : (v1+1)*ig.rowWords]
			for w, word := range row {
				for word != 0 {
					v2 := w<<6 | bits.TrailingZeros64(word)
					ig.neighbors[v1] = append(ig.neighbors[v1], v2)
					ig.neighbors[v2] = append(ig.neighbors[v2], v1)
					ig.edges++
					word &= word - 1
				}
			}
		}
	} else {
		for v1 := 0; v1 < ig.maxID; v1++ {
			ig.sparse[v1].ForEach(func(v2 int) {
				ig.neighbors[v1] = append(ig.neighbors[v1], v2)
				ig.neighbors[v2] = append(ig.neighbors[v2], v1)
				ig.edges++
			})
		}
		for _, ns := range ig.neighbors {
			sort.Ints(ns)
		}
	}
	ig.frozen = true
}

// Neighbors returns the strong neighbors of id. Valid only after
// GenerateSparseIntf.
func (ig *Interference) Neighbors(id int) []int {
	if !ig.frozen {
		violationf("intf-neighbors", "neighbor list requested before generation")
	}

	return ig.neighbors[id]
}

// EdgeCount returns the strong edge total. Valid only after
// GenerateSparseIntf.
func (ig *Interference) EdgeCount() int { return ig.edges }

// ====== Interference build ======.

// intfBuild sweeps each block backward from its live-out set and records an
// edge from every definition to everything live past it.
type intfBuild struct {
	k    *gir.Kernel
	file gir.RegFile
	lrs  []*LiveRange
	lrOf []int // declare id -> live-range id, -1 when not colored here
	live *liveness.Result
	vars *varTable
	ig   *Interference

	callSites []callSite
}

// callSite is one external call the sweep saw, with its clobber node.
type callSite struct {
	inst   *gir.Instruction
	pseudo *LiveRange
}

func (b *intfBuild) lrFor(d *gir.Declare) *LiveRange {
	id := b.lrOf[d.ID()]
	if id < 0 {
		return nil
	}

	return b.lrs[id]
}

// splitRelated suppresses edges inside one split family, whose members are
// laid out within the parent's footprint. Unrelated ranges keep their own
// id as parent, so equal parents always mean one family.
func (b *intfBuild) splitRelated(v1, v2 int) bool {
	return b.lrs[v1].ParentID() == b.lrs[v2].ParentID()
}

func (b *intfBuild) checkAndSet(v1, v2 int) {
	if b.splitRelated(v1, v2) {
		return
	}
	b.ig.Set(v1, v2)
}

func (b *intfBuild) addIntfWithLive(lr *LiveRange, live *bitset.BitSet) {
	id := lr.ID()
	live.ForEach(func(other int) {
		if other != id {
			b.checkAndSet(id, other)
		}
	})
}

// seedLive translates a declare-id liveness set into live-range ids.
func (b *intfBuild) seedLive(declSet *bitset.BitSet) *bitset.BitSet {
	live := bitset.New(len(b.lrs))
	declSet.ForEach(func(declID int) {
		if lrID := b.lrOf[declID]; lrID >= 0 {
			live.Set(lrID)
		}
	})

	return live
}

func (b *intfBuild) run() {
	for _, bb := range b.k.Blocks {
		live := b.seedLive(b.live.LiveOut[bb.ID])
		for i := len(bb.Instrs) - 1; i >= 0; i-- {
			in := bb.Instrs[i]

			if isExternalCall(in) {
				b.clobberAtCall(in, live)
			}

			for _, def := range liveness.DefRefs(b.k.Platform, in, bb.Divergent) {
				lr := b.lrFor(def.Dcl)
				if lr == nil {
					continue
				}
				b.addIntfWithLive(lr, live)
				if def.FullKill {
					live.Clear(lr.ID())
				} else {
					// A partial write leaves the older value
					// flowing through the instruction.
					live.Set(lr.ID())
				}
			}
			for _, use := range liveness.UseRefs(b.k.Platform, in) {
				if lr := b.lrFor(use.Dcl); lr != nil {
					live.Set(lr.ID())
				}
			}
		}
	}
	b.transferSplitEdges()
}

// transferSplitEdges copies each split parent's strong edges onto its
// children. Children occupy fixed sub-spans of wherever the parent lands,
// so anything that must avoid the parent must avoid them too.
func (b *intfBuild) transferSplitEdges() {
	for _, par := range b.lrs {
		if b.vars.NumSplit(par.Dcl) == 0 {
			continue
		}
		for _, sub := range b.vars.SubDcls(par.Dcl) {
			child := b.lrFor(sub)
			if child == nil {
				continue
			}
			for _, other := range b.lrs {
				if other.ID() == par.ID() || other.ParentID() == par.ID() {
					continue
				}
				if b.ig.Interfere(par.ID(), other.ID()) {
					b.ig.Set(child.ID(), other.ID())
				}
			}
		}
	}
}

// clobberAtCall wires the call's clobber node against everything live past
// the call and biases those ranges toward callee-save registers.
func (b *intfBuild) clobberAtCall(in *gir.Instruction, live *bitset.BitSet) {
	var pseudo *LiveRange
	for _, cs := range b.callSites {
		if cs.inst == in {
			pseudo = cs.pseudo

			break
		}
	}
	if pseudo == nil {
		return
	}
	b.addIntfWithLive(pseudo, live)
	live.ForEach(func(id int) {
		lr := b.lrs[id]
		if lr.IsPseudoNode() || lr.IsEOTSrc() {
			return
		}
		lr.SetCalleeSaveBias(true)
	})
}
