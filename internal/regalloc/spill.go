package regalloc

import (
	"fmt"

	"github.com/vela-gpu/vela/internal/gir"
)

// SpillMetrics counts what spill insertion produced across all iterations
// of one Allocate call.
type SpillMetrics struct {
	SpillStores     int
	SpillFills      int
	FlagSpillStores int
	FlagSpillLoads  int
	AddrSpillStores int
	AddrSpillLoads  int
	AddrFillsElided int
	SpillMemUsed    int
}

// addrSigEmpty marks an address sub-register whose tracked fill value is
// unknown. The table starts at this sentinel so a fill from the first
// home is never dropped as already present.
const addrSigEmpty = -1

// SpillManager rewrites references to spilled variables. General-file
// variables move through scratch slots with fill-before-use and
// store-after-def; address and flag variables get a persistent general
// register home plus narrow move temporaries at each reference.
type SpillManager struct {
	k    *gir.Kernel
	vars *varTable

	temps  map[*gir.Declare]bool
	homeOf map[*gir.Declare]*gir.Declare
	slotOf map[*gir.Declare]int

	nextSlot int
	tempID   int

	addrFills map[*gir.Instruction]bool

	Metrics SpillMetrics
}

func newSpillManager(k *gir.Kernel, vars *varTable) *SpillManager {
	return &SpillManager{
		k:         k,
		vars:      vars,
		temps:     make(map[*gir.Declare]bool),
		homeOf:    make(map[*gir.Declare]*gir.Declare),
		slotOf:    make(map[*gir.Declare]int),
		addrFills: make(map[*gir.Instruction]bool),
	}
}

// IsSpillTemp reports whether d was created by spill insertion, including
// the general-register homes of spilled address and flag variables.
func (sm *SpillManager) IsSpillTemp(d *gir.Declare) bool { return sm.temps[d] }

func (sm *SpillManager) newTemp(root *gir.Declare, tag string, file gir.RegFile) *gir.Declare {
	t := sm.k.NewDeclare(fmt.Sprintf("%s_%s%d", root.Name(), tag, sm.tempID), file, root.ElemType(), root.NumElems())
	sm.tempID++
	sm.temps[t] = true

	return t
}

// ensureSlot reserves scratch space for a general-file root, aligned to
// whole registers.
func (sm *SpillManager) ensureSlot(root *gir.Declare) int {
	if s, ok := sm.slotOf[root]; ok {
		return s
	}
	grf := sm.k.Platform.GRFByteSize
	sm.nextSlot = (sm.nextSlot + grf - 1) / grf * grf
	s := sm.nextSlot
	sm.slotOf[root] = s
	sm.nextSlot += sm.k.Platform.RegsForBytes(root.ByteSize()) * grf
	sm.Metrics.SpillMemUsed = sm.nextSlot

	return s
}

// home returns the persistent general-register value home of a spilled
// address or flag root.
func (sm *SpillManager) home(root *gir.Declare) *gir.Declare {
	if h, ok := sm.homeOf[root]; ok {
		return h
	}
	h := sm.newTemp(root, "home", gir.RegFileGRF)
	sm.homeOf[root] = h

	return h
}

// retarget points an operand declare at temp instead of its spilled root,
// rebuilding the alias view when the operand used one.
func (sm *SpillManager) retarget(old, root *gir.Declare, off int, temp *gir.Declare) *gir.Declare {
	if old == root {
		return temp
	}
	view := sm.k.NewDeclare(fmt.Sprintf("%s_rt%d", old.Name(), sm.tempID), old.RegFile(), old.ElemType(), old.NumElems())
	sm.tempID++
	sm.temps[view] = true
	view.SetAlias(temp, off)

	return view
}

// InsertSpillCode rewrites every reference to the given spilled ranges and
// returns how many instructions it inserted. The caller renumbers the
// kernel afterwards.
func (sm *SpillManager) InsertSpillCode(spilled []*LiveRange) int {
	roots := make(map[*gir.Declare]*LiveRange, len(spilled))
	for _, lr := range spilled {
		roots[lr.Dcl] = lr
		if lr.RegKind() == gir.RegFileGRF {
			sm.ensureSlot(lr.Dcl)
		}
	}

	inserted := 0
	for _, bb := range sm.k.Blocks {
		out := make([]*gir.Instruction, 0, len(bb.Instrs))
		for _, in := range bb.Instrs {
			fills, stores := sm.rewriteInst(in, bb, roots)
			out = append(out, fills...)
			out = append(out, in)
			out = append(out, stores...)
			inserted += len(fills) + len(stores)
		}
		bb.Instrs = out
	}

	return inserted
}

func noMaskMov(execSize int, dst *gir.DstRegion, src *gir.SrcRegion) *gir.Instruction {
	in := gir.NewMov(execSize, dst, src)
	in.NoMask = true

	return in
}

func (sm *SpillManager) rewriteInst(in *gir.Instruction, bb *gir.BasicBlock, roots map[*gir.Declare]*LiveRange) (fills, stores []*gir.Instruction) {
	grfTemp := map[*gir.Declare]*gir.Declare{}
	grfFilled := map[*gir.Declare]bool{}

	ensureGRFTemp := func(root *gir.Declare, needFill bool) *gir.Declare {
		t, ok := grfTemp[root]
		if !ok {
			t = sm.newTemp(root, "sp", gir.RegFileGRF)
			grfTemp[root] = t
		}
		if needFill && !grfFilled[root] {
			fill := gir.NewFill(t.NumElems(), sm.slotOf[root], gir.FullDst(t))
			fill.NoMask = true
			fills = append(fills, fill)
			grfFilled[root] = true
			sm.Metrics.SpillFills++
		}

		return t
	}
	addrLoad := func(root *gir.Declare) *gir.Declare {
		aT := sm.newTemp(root, "af", gir.RegFileAddress)
		mov := noMaskMov(aT.NumElems(), gir.FullDst(aT), gir.FullSrc(sm.home(root)))
		sm.addrFills[mov] = true
		fills = append(fills, mov)
		sm.Metrics.AddrSpillLoads++

		return aT
	}
	flagLoad := func(root *gir.Declare) *gir.Declare {
		fT := sm.newTemp(root, "ff", gir.RegFileFlag)
		fills = append(fills, noMaskMov(fT.NumElems(), gir.FullDst(fT), gir.FullSrc(sm.home(root))))
		sm.Metrics.FlagSpillLoads++

		return fT
	}

	for _, s := range in.Srcs {
		if s == nil {
			continue
		}
		root, off := s.Dcl.RootDeclare()
		if _, ok := roots[root]; !ok {
			continue
		}
		switch root.RegFile() {
		case gir.RegFileGRF:
			s.Dcl = sm.retarget(s.Dcl, root, off, ensureGRFTemp(root, true))
		case gir.RegFileAddress:
			s.Dcl = sm.retarget(s.Dcl, root, off, addrLoad(root))
		case gir.RegFileFlag:
			s.Dcl = sm.retarget(s.Dcl, root, off, flagLoad(root))
		}
	}

	if pr := in.Pred; pr != nil {
		if root, off := pr.Dcl.RootDeclare(); roots[root] != nil {
			pr.Dcl = sm.retarget(pr.Dcl, root, off, flagLoad(root))
		}
	}

	if cm := in.CondMod; cm != nil {
		if root, off := cm.Dcl.RootDeclare(); roots[root] != nil {
			fT := sm.newTemp(root, "fc", gir.RegFileFlag)
			full := in.Pred == nil && in.MaskOffset == 0 &&
				(in.ExecSize+7)/8 >= root.ByteSize()
			if !full {
				fills = append(fills, noMaskMov(fT.NumElems(), gir.FullDst(fT), gir.FullSrc(sm.home(root))))
				sm.Metrics.FlagSpillLoads++
			}
			cm.Dcl = sm.retarget(cm.Dcl, root, off, fT)
			stores = append(stores, noMaskMov(fT.NumElems(), gir.FullDst(sm.home(root)), gir.FullSrc(fT)))
			sm.Metrics.FlagSpillStores++
		}
	}

	if d := in.Dst; d != nil {
		root, off := d.Dcl.RootDeclare()
		if roots[root] != nil {
			switch {
			case d.Indirect:
				// The indirect write reads the address value.
				d.Dcl = sm.retarget(d.Dcl, root, off, addrLoad(root))
			case root.RegFile() == gir.RegFileGRF:
				lb, rb := d.ByteBounds(sm.k.Platform, in.ExecSize)
				fullKill := in.Pred == nil && (in.NoMask || !bb.Divergent) &&
					lb == 0 && rb >= root.ByteSize()-1
				t := ensureGRFTemp(root, !fullKill)
				d.Dcl = sm.retarget(d.Dcl, root, off, t)
				store := gir.NewSpill(t.NumElems(), sm.slotOf[root], gir.FullSrc(t))
				store.NoMask = true
				stores = append(stores, store)
				sm.Metrics.SpillStores++
			case root.RegFile() == gir.RegFileAddress:
				aT := sm.newTemp(root, "aw", gir.RegFileAddress)
				d.Dcl = sm.retarget(d.Dcl, root, off, aT)
				stores = append(stores, noMaskMov(aT.NumElems(), gir.FullDst(sm.home(root)), gir.FullSrc(aT)))
				sm.Metrics.AddrSpillStores++
			}
		}
	}

	return fills, stores
}

// ElideAddrFills drops address fills whose target sub-registers already
// hold the same home's value. It runs after assignment, when the fill
// temporaries know their physical sub-registers. Returns how many fills it
// removed.
func (sm *SpillManager) ElideAddrFills() int {
	p := sm.k.Platform
	sig := make([]int, p.NumAddrSubRegs)
	removed := 0
	for _, bb := range sm.k.Blocks {
		for i := range sig {
			sig[i] = addrSigEmpty
		}
		ins := bb.Instrs
		out := ins[:0]
		for _, in := range ins {
			if sm.addrFills[in] {
				if lo, n, srcID, ok := sm.addrFillKey(in); ok {
					same := true
					for u := lo; u < lo+n; u++ {
						if sig[u] != srcID {
							same = false

							break
						}
					}
					if same {
						removed++
						sm.Metrics.AddrFillsElided++

						continue
					}
					for u := lo; u < lo+n; u++ {
						sig[u] = srcID
					}
					out = append(out, in)

					continue
				}
			}
			if d := in.Dst; d != nil && !d.Indirect {
				if root, _ := d.Dcl.RootDeclare(); root.RegFile() == gir.RegFileAddress {
					for i := range sig {
						sig[i] = addrSigEmpty
					}
				}
			}
			if in.IsCall() {
				for i := range sig {
					sig[i] = addrSigEmpty
				}
			}
			out = append(out, in)
		}
		bb.Instrs = out
	}

	return removed
}

// addrFillKey resolves a fill's physical sub-register span and the id of
// the home it loads from.
func (sm *SpillManager) addrFillKey(in *gir.Instruction) (lo, n, srcID int, ok bool) {
	if in.Dst == nil || len(in.Srcs) == 0 || in.Srcs[0] == nil {
		return 0, 0, 0, false
	}
	dRoot, _ := in.Dst.Dcl.RootDeclare()
	if !dRoot.HasPhyReg() {
		return 0, 0, 0, false
	}
	sRoot, _ := in.Srcs[0].Dcl.RootDeclare()
	lo = dRoot.PhyRegOff()
	n = dRoot.NumElems()
	if lo+n > sm.k.Platform.NumAddrSubRegs {
		return 0, 0, 0, false
	}

	return lo, n, sRoot.ID(), true
}
