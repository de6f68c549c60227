package regalloc

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vela-gpu/vela/internal/gir"
)

// Allocator colors one kernel. Construct with New, run with Allocate; the
// instance keeps cross-attempt state and is not safe for concurrent use.
type Allocator struct {
	k    *gir.Kernel
	p    *gir.Platform // k.Platform, possibly capped by Options.GRFLimit
	opts Options
	log  *slog.Logger

	vars  *varTable
	arena *lrArena
	inc   *IncrementalRA
	sm    *SpillManager

	clobberDcls map[*gir.Instruction]*gir.Declare

	// forceSpill carries the roots of failed rounds; fail-safe retries
	// pin them to the front of the spill order.
	forceSpill map[*gir.Declare]bool
	saveTemps  int

	res Result
}

// Result summarizes a finished allocation.
type Result struct {
	Iterations   int
	SpilledVars  int
	FailSafeUsed bool
	ReservedGRFs int
	MaxGRFUsed   int
	DenseMatrix  bool
	EdgeCount    int
	CallSaveMovs int
	Spill        SpillMetrics

	// SaveRestore lists the preservation code inserted around external
	// calls, one entry per call with live scalar-file values.
	SaveRestore []SaveRestoreSite `json:"-"`
}

// HasSpills reports whether any round pushed variables to scratch before
// the allocation converged.
func (r *Result) HasSpills() bool { return r.SpilledVars > 0 }

// New builds an allocator over k. The kernel is mutated in place: spill
// code is inserted and declares receive their physical registers.
func New(k *gir.Kernel, opts Options) *Allocator {
	vars := newVarTable(k)
	p := k.Platform
	if opts.GRFLimit > 0 && opts.GRFLimit < p.NumGRF {
		capped := *p
		capped.NumGRF = opts.GRFLimit
		p = &capped
	}

	return &Allocator{
		k:           k,
		p:           p,
		opts:        opts,
		log:         opts.logger(),
		vars:        vars,
		arena:       newLRArena(len(k.Declares)),
		inc:         newIncrementalRA(opts.Incremental),
		sm:          newSpillManager(k, vars),
		clobberDcls: make(map[*gir.Instruction]*gir.Declare),
		forceSpill:  make(map[*gir.Declare]bool),
	}
}

// Allocate runs the three register files to a fixed point: address and
// flag first, whose spills materialize general-register homes, then
// call-boundary save code, then the general file itself.
func (a *Allocator) Allocate() (res *Result, err error) {
	defer recoverViolation(&err)

	a.log.Info("allocation start",
		"kernel", a.k.Name, "simd", a.k.SimdSize,
		"declares", len(a.k.Declares), "blocks", len(a.k.Blocks))

	if err := a.colorFile(gir.RegFileAddress); err != nil {
		return nil, err
	}
	if err := a.colorFile(gir.RegFileFlag); err != nil {
		return nil, err
	}
	a.insertCallSaveRestore()
	if n := a.sm.ElideAddrFills(); n > 0 {
		a.log.Debug("address fills elided", "count", n)
	}
	if err := a.colorFile(gir.RegFileGRF); err != nil {
		return nil, err
	}
	a.assignAliasRegs()

	a.res.Spill = a.sm.Metrics
	a.res.MaxGRFUsed = a.maxGRFUsed()
	a.log.Info("allocation done",
		"iterations", a.res.Iterations, "spilled", a.res.SpilledVars,
		"spillMem", a.res.Spill.SpillMemUsed, "maxGRF", a.res.MaxGRFUsed)
	a.dumpMetrics()

	return &a.res, nil
}

// colorFile runs the build-color-assign loop for one file until nothing
// spills or the iteration bound trips.
func (a *Allocator) colorFile(file gir.RegFile) error {
	a.inc.BeginFile(file)
	clear(a.forceSpill)
	lastSpills := 0
	for iter := 1; iter <= a.opts.MaxIterations; iter++ {
		reserved := 0
		if file == gir.RegFileGRF && a.opts.FailSafe && iter > a.opts.FailSafeAfter {
			reserved = a.reservedGRFs()
			a.res.FailSafeUsed = true
			a.res.ReservedGRFs = reserved
		}

		cs, err := a.attempt(file, iter, reserved)
		if err != nil {
			return err
		}
		if cs == nil {
			// Nothing to color in this file.
			return nil
		}
		a.res.Iterations++

		if !cs.hasSpilledLiveRanges() {
			cs.commitAssignments(a.p)
			for _, lr := range cs.lrs {
				if lr.IsPseudoNode() || !lr.HasPhyReg() {
					continue
				}
				a.inc.RecordAssignment(lr.Dcl, assignStart(lr))
			}
			if file == gir.RegFileGRF {
				a.res.DenseMatrix = cs.ig.DenseInUse()
				a.res.EdgeCount = cs.ig.EdgeCount()
			}
			a.verifyAssignment(cs)
			a.log.Info("file colored", "file", file.String(),
				"iteration", iter, "ranges", len(cs.lrs))

			return nil
		}

		for _, lr := range cs.lrs {
			if lr.HasPhyReg() && !lr.IsPseudoNode() {
				a.inc.RecordAssignment(lr.Dcl, assignStart(lr))
			}
		}
		a.res.SpilledVars += len(cs.spilled)
		lastSpills = len(cs.spilled)
		a.dumpSpills(cs.spilled)
		inserted := a.sm.InsertSpillCode(cs.spilled)
		for _, lr := range cs.spilled {
			a.forceSpill[lr.Dcl] = true
			a.inc.MarkForUpdate(lr.Dcl)
		}
		a.log.Info("spill round", "file", file.String(), "iteration", iter,
			"spilled", lastSpills, "inserted", inserted,
			"spillMem", a.sm.Metrics.SpillMemUsed)
	}

	return &IterationLimitError{Kernel: a.k.Name, Iterations: a.opts.MaxIterations, LastSpills: lastSpills}
}

// attempt builds and colors the graph once. A nil state means the file has
// no candidates.
func (a *Allocator) attempt(file gir.RegFile, iter, reserved int) (*coloringState, error) {
	numInstrs := a.k.NumberInstructions()
	live := a.inc.Liveness(a.k, numInstrs)
	a.vars.grow(a.k)

	cs := a.createLiveRanges(file, reserved)
	if cs == nil {
		return nil, nil
	}

	build := &intfBuild{
		k:         a.k,
		file:      file,
		lrs:       cs.lrs,
		lrOf:      cs.lrOf,
		live:      live,
		vars:      a.vars,
		ig:        cs.ig,
		callSites: cs.callSites,
	}
	build.run()
	if file == gir.RegFileGRF {
		ag := &augmenter{b: build, k: a.k, vars: a.vars}
		ag.run()
		// Fail-safe rounds run without the advisory heuristics.
		if a.opts.BankTuning && reserved == 0 {
			build.computeBankConflicts()
		}
	}
	cs.ig.GenerateSparseIntf()

	for _, lr := range cs.lrs {
		cs.tables.assignForbidden(lr, a.sm.IsSpillTemp(lr.Dcl))
	}

	var force map[*gir.Declare]bool
	if reserved > 0 {
		force = a.forceSpill
	}
	cs.computeDegrees(a.vars)
	cs.computeSpillCosts(a.vars, a.sm.IsSpillTemp, force)
	cs.determineColorOrdering(a.vars, a.p)
	cs.assignColors(a.vars, a.p)

	if a.opts.DOTPath != "" {
		a.dumpDOT(cs, file, iter)
	}

	if cs.hasSpilledLiveRanges() {
		finite := cs.spilled[:0]
		var pinned []string
		for _, lr := range cs.spilled {
			if lr.IsInfiniteSpillCost() {
				pinned = append(pinned, lr.Dcl.Name())
			} else {
				finite = append(finite, lr)
			}
		}
		if len(finite) == 0 {
			return nil, &UnresolvableSpillError{Kernel: a.k.Name, Iteration: iter, Candidates: pinned}
		}
		cs.spilled = finite
	}

	return cs, nil
}

// createLiveRanges scans references, then materializes one range per
// referenced root declare of the file, plus a clobber node per external
// call site in the general file.
func (a *Allocator) createLiveRanges(file gir.RegFile, reserved int) *coloringState {
	p := a.p
	a.arena.reset()
	a.vars.ResetRefs()

	eotRoots := make(map[int]bool)
	var callInsts []*gir.Instruction
	for _, bb := range a.k.Blocks {
		w := loopWeight(bb.LoopDepth)
		for _, in := range bb.Instrs {
			for _, root := range defUseRoots(p, in, bb.Divergent) {
				a.vars.AddRefs(root, w)
				a.vars.MarkBlock(root, bb.ID)
			}
			if in.IsEOT() {
				for _, s := range in.Srcs {
					if s == nil {
						continue
					}
					root, _ := s.Dcl.RootDeclare()
					eotRoots[root.ID()] = true
				}
			}
			if file == gir.RegFileGRF && isExternalCall(in) {
				callInsts = append(callInsts, in)
			}
		}
	}

	type cand struct {
		d   *gir.Declare
		idx int
	}
	var cands []cand
	for _, d := range a.k.Declares {
		if d.RegFile() != file || d.AliasDeclare() != nil {
			continue
		}
		if a.vars.NumRefs(d) == 0 {
			continue
		}
		cands = append(cands, cand{d, a.inc.VarIdx(d)})
	}
	if len(cands) == 0 && len(callInsts) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].idx < cands[j].idx })

	cs := &coloringState{
		file:   file,
		lrOf:   make([]int, len(a.k.Declares)),
		tables: newForbiddenTables(p, reserved),
	}
	for i := range cs.lrOf {
		cs.lrOf[i] = -1
	}
	for i, c := range cands {
		lr := a.arena.alloc()
		lr.init(c.d, i, p)
		lr.AddRefs(a.vars.NumRefs(c.d))
		if eotRoots[c.d.ID()] {
			lr.MarkEOTSrc()
		}
		if c.d.IsRetAddr() {
			lr.MarkRetIP()
		}
		lr.SetAllocHint(a.inc.Hint(c.d))
		cs.lrOf[c.d.ID()] = i
		cs.lrs = append(cs.lrs, lr)
	}
	for _, lr := range cs.lrs {
		if par := a.vars.SplitParent(lr.Dcl); par != nil {
			if pid := cs.lrOf[par.ID()]; pid >= 0 {
				lr.SetParentID(pid)
			}
		}
	}

	for _, in := range callInsts {
		dcl := a.clobberDclFor(in)
		if len(cs.lrOf) < len(a.k.Declares) {
			grown := make([]int, len(a.k.Declares))
			for i := range grown {
				grown[i] = -1
			}
			copy(grown, cs.lrOf)
			cs.lrOf = grown
		}
		lr := a.arena.alloc()
		lr.init(dcl, len(cs.lrs), p)
		lr.MarkPseudoNode()
		lr.MarkInfiniteSpillCost()
		// Confined to the caller-save partition, the node blocks exactly
		// the registers an external callee may overwrite.
		lr.SetCallerSaveBias(true)
		cs.lrOf[dcl.ID()] = lr.ID()
		cs.lrs = append(cs.lrs, lr)
		cs.callSites = append(cs.callSites, callSite{inst: in, pseudo: lr})
	}

	cs.ig = newInterference(len(cs.lrs), a.opts.DenseLimitBytes)

	return cs
}

// clobberDclFor returns the caller-save-sized declare standing in for what
// an external callee may overwrite, created once per call site.
func (a *Allocator) clobberDclFor(in *gir.Instruction) *gir.Declare {
	if d, ok := a.clobberDcls[in]; ok {
		return d
	}
	p := a.p
	regs := p.NumGRF/2 - 1
	elems := regs * p.GRFByteSize / gir.TypeUD.Size()
	d := a.k.NewDeclare(fmt.Sprintf("call_clobber_%d", len(a.clobberDcls)), gir.RegFileGRF, gir.TypeUD, elems)
	a.clobberDcls[in] = d
	a.vars.grow(a.k)

	return d
}

// RecordSplit registers an upstream variable split: parent's storage is
// children laid back to back, in order. The allocator drops edges inside
// the family, steers children toward the parent's placement and answers
// WasSplit afterward.
func (a *Allocator) RecordSplit(parent *gir.Declare, children []*gir.Declare) {
	a.vars.grow(a.k)
	a.vars.RecordSplit(parent, children)
}

// WasSplit reports whether d was registered as a split parent.
func (a *Allocator) WasSplit(d *gir.Declare) bool { return a.vars.NumSplit(d) > 0 }

// assignAliasRegs propagates committed root registers onto alias views,
// folding each view's byte offset into its register and sub-register.
func (a *Allocator) assignAliasRegs() {
	p := a.k.Platform
	for _, d := range a.k.Declares {
		if d.AliasDeclare() == nil || d.HasPhyReg() {
			continue
		}
		root, off := d.RootDeclare()
		if !root.HasPhyReg() {
			continue
		}
		reg := root.PhyReg()
		switch reg.File {
		case gir.RegFileGRF:
			regAdd := off / p.GRFByteSize
			subBytes := off % p.GRFByteSize
			d.SetPhyReg(gir.PhyReg{File: reg.File, Num: reg.Num + regAdd}, subBytes/d.ElemType().Size())
			d.SetGRFByteOffset((reg.Num+regAdd)*p.GRFByteSize + subBytes)
		case gir.RegFileAddress:
			d.SetPhyReg(reg, root.PhyRegOff()+off/d.ElemType().Size())
		case gir.RegFileFlag:
			d.SetPhyReg(gir.PhyReg{File: reg.File, Num: reg.Num + off/2}, 0)
		}
	}
}

// reservedGRFs returns the fail-safe holdout: one register when a dword
// variable fills a register at the kernel's width, two otherwise.
func (a *Allocator) reservedGRFs() int {
	if a.k.SimdSize == a.k.Platform.EltsPerGRF(gir.TypeUD) {
		return 1
	}

	return 2
}

// loopWeight is the reference multiplier at a loop depth, growing
// fourfold per level and saturating at depth 8.
func loopWeight(depth int) int {
	if depth > 8 {
		depth = 8
	}
	w := 1
	for i := 0; i < depth; i++ {
		w *= 4
	}

	return w
}

// assignStart normalizes a staged assignment to its start unit.
func assignStart(lr *LiveRange) int {
	if lr.RegKind() == gir.RegFileAddress {
		return lr.PhyRegOff()
	}

	return lr.PhyReg().Num
}

// maxGRFUsed returns one past the highest general register any declare
// occupies.
func (a *Allocator) maxGRFUsed() int {
	p := a.k.Platform
	maxReg := 0
	for _, d := range a.k.Declares {
		if !d.HasPhyReg() || d.PhyReg().File != gir.RegFileGRF {
			continue
		}
		if end := d.PhyReg().Num + p.RegsForBytes(d.ByteSize()); end > maxReg {
			maxReg = end
		}
	}

	return maxReg
}

// Allocate is the package-level convenience: allocate k with opts.
func Allocate(k *gir.Kernel, opts Options) (*Result, error) {
	return New(k, opts).Allocate()
}
