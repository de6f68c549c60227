package regalloc

import (
	"github.com/vela-gpu/vela/internal/gir"
)

// varInfo is the allocator-side metadata of one declare. It outlives a
// single coloring attempt so the incremental path can reuse it.
type varInfo struct {
	numRefs int
	bbID    int
	crosses bool

	conflict  BankConflict
	evenAlign bool
	subAlign  gir.SubRegAlign

	mask    AugMask
	maskSet bool

	splitDcl   *gir.Declare
	splitOff   int
	numSplit   int
	subDclList []*gir.Declare

	startInterval int
	endInterval   int
	intervalSet   bool
}

// varTable maps declare ids to their metadata.
type varTable struct {
	vars []varInfo
}

func newVarTable(k *gir.Kernel) *varTable {
	t := &varTable{}
	t.grow(k)

	return t
}

// grow extends the table for declares added since the last call, seeding
// alignment from the declare itself.
func (t *varTable) grow(k *gir.Kernel) {
	for i := len(t.vars); i < len(k.Declares); i++ {
		d := k.Declares[i]
		t.vars = append(t.vars, varInfo{
			bbID:          -1,
			subAlign:      d.SubRegAlign(),
			evenAlign:     d.EvenAlign(),
			startInterval: -1,
			endInterval:   -1,
		})
	}
}

func (t *varTable) info(d *gir.Declare) *varInfo { return &t.vars[d.ID()] }

// NumRefs returns the loop-weighted reference count.
func (t *varTable) NumRefs(d *gir.Declare) int { return t.info(d).numRefs }

// AddRefs accumulates loop-weighted references.
func (t *varTable) AddRefs(d *gir.Declare, w int) { t.info(d).numRefs += w }

// ResetRefs clears the counts before a recount.
func (t *varTable) ResetRefs() {
	for i := range t.vars {
		t.vars[i].numRefs = 0
	}
}

// SubRegAlign returns the working alignment.
func (t *varTable) SubRegAlign(d *gir.Declare) gir.SubRegAlign { return t.info(d).subAlign }

// SetSubRegAlign tightens the working alignment. Loosening an alignment a
// previous pass established is a bug in the caller.
func (t *varTable) SetSubRegAlign(d *gir.Declare, a gir.SubRegAlign) {
	cur := &t.info(d).subAlign
	switch {
	case *cur == a || *cur == gir.AlignAny:
	case a > *cur && int(a)%int(*cur) == 0:
	default:
		violationf("subalign", "%s: %s would loosen %s", d.Name(), a, *cur)
	}
	*cur = a
}

// EvenAlign reports the even general-register start requirement.
func (t *varTable) EvenAlign(d *gir.Declare) bool { return t.info(d).evenAlign }

// SetEvenAlign requires an even general-register start.
func (t *varTable) SetEvenAlign(d *gir.Declare) { t.info(d).evenAlign = true }

// Mask returns the lane-footprint class and whether it has been set.
func (t *varTable) Mask(d *gir.Declare) (AugMask, bool) {
	vi := t.info(d)

	return vi.mask, vi.maskSet
}

// SetMask records the lane-footprint class.
func (t *varTable) SetMask(d *gir.Declare, m AugMask) {
	vi := t.info(d)
	vi.mask = m
	vi.maskSet = true
}

// BankConflict returns the assignment bank preference.
func (t *varTable) BankConflict(d *gir.Declare) BankConflict { return t.info(d).conflict }

// SetBankConflict records the assignment bank preference.
func (t *varTable) SetBankConflict(d *gir.Declare, bc BankConflict) { t.info(d).conflict = bc }

// MarkBlock tracks which block references the declare. A second block
// makes it cross-block.
func (t *varTable) MarkBlock(d *gir.Declare, bbID int) {
	vi := t.info(d)
	switch {
	case vi.bbID == -1:
		vi.bbID = bbID
	case vi.bbID != bbID:
		vi.crosses = true
	}
}

// IsBlockLocal reports whether every reference sits in one block.
func (t *varTable) IsBlockLocal(d *gir.Declare) bool {
	vi := t.info(d)

	return vi.bbID != -1 && !vi.crosses
}

// RecordSplit links a split parent to its children, laid out back to back
// in the given order. Children double as the parent's sub-declare list.
func (t *varTable) RecordSplit(parent *gir.Declare, children []*gir.Declare) {
	vi := t.info(parent)
	vi.numSplit = len(children)
	parent.MarkSplitParent()
	off := 0
	for _, c := range children {
		c.MarkSplitChild()
		ci := t.info(c)
		ci.splitDcl = parent
		ci.splitOff = off
		off += c.ByteSize()
		t.AddSubDcl(parent, c)
	}
}

// SplitParent returns the parent of a split child, or nil.
func (t *varTable) SplitParent(d *gir.Declare) *gir.Declare { return t.info(d).splitDcl }

// SplitOffset returns a child's byte offset within its parent's layout.
func (t *varTable) SplitOffset(d *gir.Declare) int { return t.info(d).splitOff }

// NumSplit returns how many children a split parent has.
func (t *varTable) NumSplit(d *gir.Declare) int { return t.info(d).numSplit }

// AddSubDcl registers an aliased sub-view used for interference in the
// parent's stead.
func (t *varTable) AddSubDcl(parent, sub *gir.Declare) {
	vi := t.info(parent)
	vi.subDclList = append(vi.subDclList, sub)
}

// SubDcls returns the registered sub-views.
func (t *varTable) SubDcls(parent *gir.Declare) []*gir.Declare { return t.info(parent).subDclList }

// ExtendInterval widens the declare's instruction-id interval.
func (t *varTable) ExtendInterval(d *gir.Declare, instID int) {
	vi := t.info(d)
	if !vi.intervalSet {
		vi.startInterval = instID
		vi.endInterval = instID
		vi.intervalSet = true

		return
	}
	if instID < vi.startInterval {
		vi.startInterval = instID
	}
	if instID > vi.endInterval {
		vi.endInterval = instID
	}
}

// Interval returns the declare's instruction-id interval. Valid only when
// set is true.
func (t *varTable) Interval(d *gir.Declare) (start, end int, set bool) {
	vi := t.info(d)

	return vi.startInterval, vi.endInterval, vi.intervalSet
}

// ResetIntervals clears intervals before an augmentation rebuild.
func (t *varTable) ResetIntervals() {
	for i := range t.vars {
		t.vars[i].startInterval = -1
		t.vars[i].endInterval = -1
		t.vars[i].intervalSet = false
		t.vars[i].mask = MaskUndetermined
		t.vars[i].maskSet = false
	}
}
