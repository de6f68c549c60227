package regalloc

// Post-assignment checks. Every committed coloring is re-validated against
// the interference matrix before the next file runs, so a broken sweep or
// assignment heuristic surfaces here instead of as silent corruption
// downstream.

// verifyAssignment re-checks one colored file: spans stay inside the file,
// avoid their forbidden registers, honor alignment, and strong neighbors
// never overlap. Violations unwind to Allocate as a ConsistencyError.
func (a *Allocator) verifyAssignment(cs *coloringState) {
	p := a.p
	units := fileUnits(cs.file, p)

	for _, lr := range cs.lrs {
		if !lr.HasPhyReg() {
			continue
		}
		lo := assignStart(lr)
		hi := lo + lr.NumRegNeeded() - 1
		if lo < 0 || hi >= units {
			violationf("verify-bounds", "%s assigned [%d, %d] outside the %s file",
				lr.Dcl.Name(), lo, hi, cs.file)
		}
		if f := lr.Forbidden(); f != nil {
			for u := lo; u <= hi; u++ {
				if f.Test(u) {
					violationf("verify-forbidden", "%s span [%d, %d] covers unit %d (%s)",
						lr.Dcl.Name(), lo, hi, u, lr.ForbiddenKind())
				}
			}
		}
		if align := cs.startAlign(lr, a.vars); lo%align != 0 {
			violationf("verify-align", "%s start %d breaks alignment %d",
				lr.Dcl.Name(), lo, align)
		}
	}

	for _, lr := range cs.lrs {
		if !lr.HasPhyReg() {
			continue
		}
		for _, nb := range cs.ig.Neighbors(lr.ID()) {
			if nb <= lr.ID() {
				continue
			}
			other := cs.lrs[nb]
			if !other.HasPhyReg() {
				continue
			}
			lo1, hi1 := assignStart(lr), assignStart(lr)+lr.NumRegNeeded()-1
			lo2, hi2 := assignStart(other), assignStart(other)+other.NumRegNeeded()-1
			if lo1 <= hi2 && lo2 <= hi1 {
				violationf("verify-overlap", "interfering %s [%d, %d] and %s [%d, %d]",
					lr.Dcl.Name(), lo1, hi1, other.Dcl.Name(), lo2, hi2)
			}
		}
	}
}
