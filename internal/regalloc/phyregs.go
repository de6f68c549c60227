package regalloc

import (
	"github.com/vela-gpu/vela/internal/bitset"
	"github.com/vela-gpu/vela/internal/gir"
)

// fileUnits returns the allocation grain of the file: whole registers for
// the general file, 16-bit sub-registers for address and flag.
func fileUnits(file gir.RegFile, p *gir.Platform) int {
	switch file {
	case gir.RegFileAddress:
		return p.NumAddrSubRegs
	case gir.RegFileFlag:
		return p.NumFlagRegs
	default:
		return p.NumGRF
	}
}

// assignColors walks the simplify stack in reverse and gives every range
// the lowest legal start, preferring bank-friendly ones. Ranges with no
// legal start are marked spilled and collected.
func (cs *coloringState) assignColors(vars *varTable, p *gir.Platform) {
	units := fileUnits(cs.file, p)
	occupied := bitset.New(units)

	for i := len(cs.stack) - 1; i >= 0; i-- {
		lr := cs.stack[i]
		occupied.Reset()
		for _, nb := range cs.ig.Neighbors(lr.ID()) {
			markOccupied(occupied, cs.lrs[nb])
		}
		if pid := lr.ParentID(); pid != lr.ID() && cs.file == gir.RegFileGRF {
			// A split child tracks its parent's placement at its layout
			// offset when the parent is already assigned.
			if par := cs.lrs[pid]; par.HasPhyReg() {
				lr.SetAllocHint(par.PhyReg().Num + vars.SplitOffset(lr.Dcl)/p.GRFByteSize)
			}
		}

		start := cs.pickStart(lr, vars, p, occupied, units)
		if start < 0 {
			lr.MarkSpilled()
			cs.spilled = append(cs.spilled, lr)

			continue
		}
		switch cs.file {
		case gir.RegFileAddress:
			lr.SetPhyReg(gir.PhyReg{File: gir.RegFileAddress, Num: 0}, start)
		case gir.RegFileFlag:
			lr.SetPhyReg(gir.PhyReg{File: gir.RegFileFlag, Num: start}, 0)
		default:
			lr.SetPhyReg(gir.PhyReg{File: gir.RegFileGRF, Num: start}, 0)
		}
	}
}

func markOccupied(occupied *bitset.BitSet, lr *LiveRange) {
	if !lr.HasPhyReg() {
		return
	}
	var lo int
	switch lr.RegKind() {
	case gir.RegFileAddress:
		lo = lr.PhyRegOff()
	default:
		lo = lr.PhyReg().Num
	}
	occupied.SetRange(lo, lo+lr.NumRegNeeded())
}

// pickStart scans every legal start and keeps the bank-best, lowest one.
// It returns -1 when nothing fits.
func (cs *coloringState) pickStart(lr *LiveRange, vars *varTable, p *gir.Platform, occupied *bitset.BitSet, units int) int {
	need := lr.NumRegNeeded()
	forbidden := lr.Forbidden()
	align := cs.startAlign(lr, vars)

	legal := func(s int) bool {
		if s%align != 0 {
			return false
		}
		for u := s; u < s+need; u++ {
			if occupied.Test(u) || (forbidden != nil && forbidden.Test(u)) {
				return false
			}
		}

		return true
	}

	if h := lr.AllocHint(); h != UndefHint && h >= 0 && h+need <= units && legal(h) {
		return h
	}

	bc := lr.GetBankConflict()
	best, bestScore := -1, int(^uint(0)>>1)
	for s := 0; s+need <= units; s++ {
		if !legal(s) {
			continue
		}
		if cs.file != gir.RegFileGRF || bc == BankConflictNone {
			return s
		}
		score := bankScore(p, bc, s)
		if score == 0 {
			return s
		}
		if score < bestScore {
			best, bestScore = s, score
		}
	}

	return best
}

// startAlign returns the required start modulus in file units.
func (cs *coloringState) startAlign(lr *LiveRange, vars *varTable) int {
	switch cs.file {
	case gir.RegFileGRF:
		if vars.EvenAlign(lr.Dcl) {
			return 2
		}

		return 1
	case gir.RegFileFlag:
		// A 32-bit flag occupies both halves of one physical flag.
		if lr.NumRegNeeded() > 1 {
			return 2
		}

		return 1
	default:
		a := int(vars.SubRegAlign(lr.Dcl))
		if a < 1 {
			a = 1
		}

		return a
	}
}

// bankScore penalizes a start whose bank parity or file half disagrees
// with the conflict pass's preference.
func bankScore(p *gir.Platform, bc BankConflict, start int) int {
	score := 0
	evenBank := p.Bank(start, 0) == 0
	if evenBank != bc.wantsEvenBank() {
		score++
	}
	secondHalf := start >= p.NumGRF/2
	if secondHalf != bc.wantsSecondHalf() {
		score++
	}

	return score
}

// commitAssignments copies staged registers onto the declares and records
// linearized byte offsets. Pseudo nodes stay internal.
func (cs *coloringState) commitAssignments(p *gir.Platform) {
	for _, lr := range cs.lrs {
		if lr.IsPseudoNode() || !lr.HasPhyReg() {
			continue
		}
		lr.Dcl.SetPhyReg(lr.PhyReg(), lr.PhyRegOff())
		if cs.file == gir.RegFileGRF {
			lr.Dcl.SetGRFByteOffset(lr.PhyReg().Num * p.GRFByteSize)
		}
	}
}
