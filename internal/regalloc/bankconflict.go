package regalloc

import (
	"github.com/vela-gpu/vela/internal/gir"
)

// BankConflict is the register-bank preference the conflict pass attaches
// to a declare. Assignment treats it as advisory: a mismatch costs score,
// never legality.
type BankConflict int

const (
	BankConflictNone BankConflict = iota
	BankConflictFirstHalfEven
	BankConflictFirstHalfOdd
	BankConflictSecondHalfEven
	BankConflictSecondHalfOdd
)

var bankConflictNames = [...]string{
	BankConflictNone:           "none",
	BankConflictFirstHalfEven:  "first-half-even",
	BankConflictFirstHalfOdd:   "first-half-odd",
	BankConflictSecondHalfEven: "second-half-even",
	BankConflictSecondHalfOdd:  "second-half-odd",
}

func (bc BankConflict) String() string {
	if int(bc) < len(bankConflictNames) {
		return bankConflictNames[bc]
	}

	return "invalid"
}

// wantsEvenBank reports the preferred bank parity.
func (bc BankConflict) wantsEvenBank() bool {
	return bc == BankConflictFirstHalfEven || bc == BankConflictSecondHalfEven
}

// wantsSecondHalf reports the preferred file half.
func (bc BankConflict) wantsSecondHalf() bool {
	return bc == BankConflictSecondHalfEven || bc == BankConflictSecondHalfOdd
}

// computeBankConflicts spreads the sources of three-source instructions
// across banks: src1 is read in the same cycle as src0 and src2, so it gets
// the odd bank while the outer sources share the even one. A declare
// feeding conflicting positions keeps its first preference.
func (b *intfBuild) computeBankConflicts() {
	secondHalf := false
	for _, bb := range b.k.Blocks {
		for _, in := range bb.Instrs {
			if in.Op != gir.OpMad || len(in.Srcs) < 3 {
				continue
			}
			b.markBankPref(in.Srcs[0], false, secondHalf)
			b.markBankPref(in.Srcs[1], true, secondHalf)
			b.markBankPref(in.Srcs[2], false, secondHalf)
			// Alternate halves across sites so heavy mad chains do
			// not pile onto the same bundles.
			secondHalf = !secondHalf
		}
	}
	for _, lr := range b.lrs {
		lr.SetBankConflict(b.vars.BankConflict(lr.Dcl))
	}
}

func (b *intfBuild) markBankPref(s *gir.SrcRegion, odd, secondHalf bool) {
	if s == nil || s.Indirect {
		return
	}
	root, _ := s.Dcl.RootDeclare()
	if root.RegFile() != gir.RegFileGRF || b.lrOf[root.ID()] < 0 {
		return
	}
	if b.vars.BankConflict(root) != BankConflictNone {
		return
	}
	var bc BankConflict
	switch {
	case odd && secondHalf:
		bc = BankConflictSecondHalfOdd
	case odd:
		bc = BankConflictFirstHalfOdd
	case secondHalf:
		bc = BankConflictSecondHalfEven
	default:
		bc = BankConflictFirstHalfEven
	}
	b.vars.SetBankConflict(root, bc)
}
