package regalloc

import (
	"fmt"

	"github.com/vela-gpu/vela/internal/bitset"
	"github.com/vela-gpu/vela/internal/gir"
)

// Spill-cost sentinels. MaxSpillCost marks ranges that must stay in
// registers; MinSpillCost forces a range to the front of the spill order.
const (
	MaxSpillCost = 1e30
	MinSpillCost = -1e30
)

// UndefHint means no allocation hint.
const UndefHint = -1

// LiveRange is one coloring node: a root declare of the file being colored,
// its degree and spill cost, and the staged physical assignment.
type LiveRange struct {
	Dcl *gir.Declare

	id           int
	regKind      gir.RegFile
	numRegNeeded int

	degree   int
	refCount int

	spillCost    float64
	infiniteCost bool

	active        bool
	candidate     bool
	pseudoNode    bool
	spilled       bool
	unconstrained bool

	eotSrc         bool
	retIP          bool
	calleeSaveBias bool
	callerSaveBias bool

	forbidden     *bitset.BitSet
	forbiddenKind forbiddenKind

	reg    gir.PhyReg
	regOff int
	hasReg bool

	allocHint int
	bc        BankConflict
	parentID  int
}

func (lr *LiveRange) init(dcl *gir.Declare, id int, p *gir.Platform) {
	lr.Dcl = dcl
	lr.id = id
	lr.regKind = dcl.RegFile()
	lr.allocHint = UndefHint
	lr.parentID = id
	lr.reg = gir.InvalidPhyReg
	switch lr.regKind {
	case gir.RegFileGRF:
		lr.numRegNeeded = p.RegsForBytes(dcl.ByteSize())
	case gir.RegFileAddress:
		lr.numRegNeeded = dcl.NumElems()
	case gir.RegFileFlag:
		lr.numRegNeeded = dcl.WordSize()
	}
}

// ID returns the dense live-range id the matrix rows are keyed by.
func (lr *LiveRange) ID() int { return lr.id }

// RegKind returns the register file the range competes in.
func (lr *LiveRange) RegKind() gir.RegFile { return lr.regKind }

// NumRegNeeded returns the allocation unit count: whole registers for the
// general file, sub-registers for address, words for flags.
func (lr *LiveRange) NumRegNeeded() int { return lr.numRegNeeded }

// Degree returns the current weighted degree.
func (lr *LiveRange) Degree() int { return lr.degree }

// SetDegree replaces the degree after a recompute.
func (lr *LiveRange) SetDegree(d int) { lr.degree = d }

// SubtractDegree relaxes the degree as a neighbor leaves the graph. Going
// below zero is a build bug.
func (lr *LiveRange) SubtractDegree(d int) {
	if d > lr.degree {
		violationf("degree", "%s: subtract %d from %d", lr.Dcl.Name(), d, lr.degree)
	}
	lr.degree -= d
}

// RefCount returns the loop-weighted reference count.
func (lr *LiveRange) RefCount() int { return lr.refCount }

// AddRefs accumulates loop-weighted references.
func (lr *LiveRange) AddRefs(n int) { lr.refCount += n }

// SpillCost returns the cost assigned by computeSpillCosts.
func (lr *LiveRange) SpillCost() float64 { return lr.spillCost }

// SetSpillCost records the cost. The sentinels are accepted as-is.
func (lr *LiveRange) SetSpillCost(c float64) { lr.spillCost = c }

// MarkInfiniteSpillCost pins the range in registers.
func (lr *LiveRange) MarkInfiniteSpillCost() {
	lr.infiniteCost = true
	lr.spillCost = MaxSpillCost
}

// IsInfiniteSpillCost reports whether the range must not spill.
func (lr *LiveRange) IsInfiniteSpillCost() bool { return lr.infiniteCost }

// SetCandidate includes or excludes the range from coloring.
func (lr *LiveRange) SetCandidate(v bool) { lr.candidate = v }

// IsCandidate reports whether the range participates in coloring.
func (lr *LiveRange) IsCandidate() bool { return lr.candidate }

// SetActive toggles membership in the augmentation sweep's active set.
func (lr *LiveRange) SetActive(v bool) { lr.active = v }

// IsActive reports augmentation active-set membership.
func (lr *LiveRange) IsActive() bool { return lr.active }

// MarkPseudoNode tags call-site footprint nodes that color but never map
// to an instruction operand.
func (lr *LiveRange) MarkPseudoNode() { lr.pseudoNode = true }

// IsPseudoNode reports whether the range is a call-site footprint node.
func (lr *LiveRange) IsPseudoNode() bool { return lr.pseudoNode }

// MarkSpilled takes the range out of the register file for this iteration.
func (lr *LiveRange) MarkSpilled() {
	lr.ResetPhyReg()
	lr.spilled = true
}

// IsSpilled reports whether the range was chosen for spilling.
func (lr *LiveRange) IsSpilled() bool { return lr.spilled }

// SetUnconstrained records that the range's degree can never exhaust the
// register file.
func (lr *LiveRange) SetUnconstrained(v bool) { lr.unconstrained = v }

// IsUnconstrained reports the trivially colorable classification.
func (lr *LiveRange) IsUnconstrained() bool { return lr.unconstrained }

// MarkEOTSrc tags a range feeding an end-of-thread send, which must sit in
// the file's trailing registers.
func (lr *LiveRange) MarkEOTSrc() { lr.eotSrc = true }

// IsEOTSrc reports end-of-thread payload membership.
func (lr *LiveRange) IsEOTSrc() bool { return lr.eotSrc }

// MarkRetIP tags a return-address holder.
func (lr *LiveRange) MarkRetIP() {
	lr.retIP = true
	lr.MarkInfiniteSpillCost()
}

// IsRetIP reports whether the range holds a return address.
func (lr *LiveRange) IsRetIP() bool { return lr.retIP }

// SetCalleeSaveBias steers assignment toward the callee-save partition.
func (lr *LiveRange) SetCalleeSaveBias(v bool) { lr.calleeSaveBias = v }

// HasCalleeSaveBias reports the callee-save steering flag.
func (lr *LiveRange) HasCalleeSaveBias() bool { return lr.calleeSaveBias }

// SetCallerSaveBias steers assignment toward the caller-save partition.
func (lr *LiveRange) SetCallerSaveBias(v bool) { lr.callerSaveBias = v }

// HasCallerSaveBias reports the caller-save steering flag.
func (lr *LiveRange) HasCallerSaveBias() bool { return lr.callerSaveBias }

// Forbidden returns the shared forbidden-register set. Callers must not
// mutate it.
func (lr *LiveRange) Forbidden() *bitset.BitSet { return lr.forbidden }

// ForbiddenKind returns which forbidden table the range points at.
func (lr *LiveRange) ForbiddenKind() forbiddenKind { return lr.forbiddenKind }

// SetForbidden points the range at one of the shared forbidden tables.
func (lr *LiveRange) SetForbidden(kind forbiddenKind, set *bitset.BitSet) {
	lr.forbiddenKind = kind
	lr.forbidden = set
}

// SetPhyReg stages an assignment. Reassigning to a different register
// without a reset in between is a coloring bug.
func (lr *LiveRange) SetPhyReg(reg gir.PhyReg, subOff int) {
	if !reg.IsValid() {
		violationf("assign", "%s: invalid register", lr.Dcl.Name())
	}
	if lr.hasReg && (lr.reg != reg || lr.regOff != subOff) {
		violationf("assign", "%s: already at %s.%d, refusing %s.%d",
			lr.Dcl.Name(), lr.reg, lr.regOff, reg, subOff)
	}
	lr.reg = reg
	lr.regOff = subOff
	lr.hasReg = true
}

// ResetPhyReg discards any staged assignment.
func (lr *LiveRange) ResetPhyReg() {
	lr.reg = gir.InvalidPhyReg
	lr.regOff = 0
	lr.hasReg = false
}

// HasPhyReg reports whether an assignment is staged.
func (lr *LiveRange) HasPhyReg() bool { return lr.hasReg }

// PhyReg returns the staged register.
func (lr *LiveRange) PhyReg() gir.PhyReg { return lr.reg }

// PhyRegOff returns the staged sub-register offset.
func (lr *LiveRange) PhyRegOff() int { return lr.regOff }

// SetAllocHint suggests a start register for bank-aware assignment.
func (lr *LiveRange) SetAllocHint(reg int) { lr.allocHint = reg }

// AllocHint returns the suggested start register or UndefHint.
func (lr *LiveRange) AllocHint() int { return lr.allocHint }

// SetBankConflict records the bank preference computed before coloring.
func (lr *LiveRange) SetBankConflict(bc BankConflict) { lr.bc = bc }

// GetBankConflict returns the bank preference.
func (lr *LiveRange) GetBankConflict() BankConflict { return lr.bc }

// SetParentID links a split child to its parent's live-range id.
func (lr *LiveRange) SetParentID(id int) { lr.parentID = id }

// ParentID returns the split parent's id, or the range's own id.
func (lr *LiveRange) ParentID() int { return lr.parentID }

func (lr *LiveRange) String() string {
	s := fmt.Sprintf("LR#%d %s deg=%d refs=%d", lr.id, lr.Dcl.Name(), lr.degree, lr.refCount)
	if lr.hasReg {
		s += fmt.Sprintf(" @%s.%d", lr.reg, lr.regOff)
	}
	if lr.spilled {
		s += " spilled"
	}

	return s
}

// lrArena hands out live ranges in chunks so one coloring attempt costs a
// handful of allocations. Single-goroutine use only.
type lrArena struct {
	chunks    [][]LiveRange
	used      int
	chunkSize int
	allocs    int
}

func newLRArena(hint int) *lrArena {
	if hint < 64 {
		hint = 64
	}

	return &lrArena{chunkSize: hint}
}

func (a *lrArena) alloc() *LiveRange {
	if len(a.chunks) == 0 || a.used == a.chunkSize {
		a.chunks = append(a.chunks, make([]LiveRange, a.chunkSize))
		a.used = 0
	}
	lr := &a.chunks[len(a.chunks)-1][a.used]
	a.used++
	a.allocs++

	return lr
}

// Allocated returns how many ranges the arena handed out.
func (a *lrArena) Allocated() int { return a.allocs }

// reset recycles the arena for the next attempt, keeping the chunks.
func (a *lrArena) reset() {
	for i := range a.chunks {
		clear(a.chunks[i])
	}
	a.used = 0
	if len(a.chunks) > 1 {
		a.chunks = a.chunks[:1]
	}
	a.allocs = 0
}
