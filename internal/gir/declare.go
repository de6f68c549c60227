package gir

import "fmt"

// PhyReg names one physical register: a general register r<Num>, the
// address register (always a0, distinguished by sub-offset), or a 16-bit
// flag unit.
type PhyReg struct {
	File RegFile
	Num  int
}

// InvalidPhyReg is the "not assigned" sentinel.
var InvalidPhyReg = PhyReg{File: RegFileNone, Num: -1}

// IsValid reports whether the register names a real physical location.
func (r PhyReg) IsValid() bool { return r.File != RegFileNone && r.Num >= 0 }

func (r PhyReg) String() string {
	switch r.File {
	case RegFileGRF:
		return fmt.Sprintf("r%d", r.Num)
	case RegFileAddress:
		return "a0"
	case RegFileFlag:
		return fmt.Sprintf("f%d.%d", r.Num/2, r.Num%2)
	default:
		return "<unassigned>"
	}
}

// Declare is one front-end variable declaration. Identity, size and element
// type are fixed once instructions reference the declare; only the
// register-assignment fields mutate afterwards.
type Declare struct {
	id       int
	name     string
	regFile  RegFile
	elemType Type
	numElems int

	subRegAlign SubRegAlign
	evenAlign   bool

	alias    *Declare
	aliasOff int

	splitParent bool
	splitChild  bool
	retAddr     bool

	reg        PhyReg
	regOff     int
	hasReg     bool
	grfByteOff int
}

// ID returns the dense kernel-scoped declare id.
func (d *Declare) ID() int { return d.id }

// Name returns the declare's diagnostic name.
func (d *Declare) Name() string { return d.name }

// RegFile returns the register class the declare allocates from.
func (d *Declare) RegFile() RegFile { return d.regFile }

// ElemType returns the element type.
func (d *Declare) ElemType() Type { return d.elemType }

// NumElems returns the element count.
func (d *Declare) NumElems() int { return d.numElems }

// ByteSize returns the total footprint in bytes.
func (d *Declare) ByteSize() int { return d.numElems * d.elemType.Size() }

// WordSize returns the footprint in 2-byte words, rounded up.
func (d *Declare) WordSize() int { return (d.ByteSize() + 1) / 2 }

// SubRegAlign returns the front-end declared sub-register alignment.
func (d *Declare) SubRegAlign() SubRegAlign { return d.subRegAlign }

// SetSubRegAlign overrides the declared alignment. The tighten-only rule is
// enforced by the allocator's metadata table, not here.
func (d *Declare) SetSubRegAlign(a SubRegAlign) { d.subRegAlign = a }

// EvenAlign reports whether the declare requires an even general-register
// start.
func (d *Declare) EvenAlign() bool { return d.evenAlign }

// SetEvenAlign requires an even general-register start.
func (d *Declare) SetEvenAlign(v bool) { d.evenAlign = v }

// SetAlias makes the declare a view of target at the given byte offset.
func (d *Declare) SetAlias(target *Declare, byteOff int) {
	d.alias = target
	d.aliasOff = byteOff
}

// AliasDeclare returns the direct alias target, or nil.
func (d *Declare) AliasDeclare() *Declare { return d.alias }

// AliasOffset returns the byte offset into the direct alias target.
func (d *Declare) AliasOffset() int { return d.aliasOff }

// RootDeclare resolves an alias chain to its root declare and the byte
// offset of this view within it. A non-aliased declare is its own root at
// offset 0.
func (d *Declare) RootDeclare() (*Declare, int) {
	root, off := d, 0
	for root.alias != nil {
		off += root.aliasOff
		root = root.alias
	}

	return root, off
}

// MarkSplitParent records that the declare has been split into
// sub-declares. The child list lives in the allocator's split table.
func (d *Declare) MarkSplitParent() { d.splitParent = true }

// IsSplitParent reports whether the declare was split.
func (d *Declare) IsSplitParent() bool { return d.splitParent }

// MarkSplitChild records that the declare covers a byte range of a split
// parent.
func (d *Declare) MarkSplitChild() { d.splitChild = true }

// IsSplitChild reports whether the declare is a split product.
func (d *Declare) IsSplitChild() bool { return d.splitChild }

// MarkRetAddr tags the declare as a return-address holder, which the
// allocator must never spill.
func (d *Declare) MarkRetAddr() { d.retAddr = true }

// IsRetAddr reports whether the declare holds a return address.
func (d *Declare) IsRetAddr() bool { return d.retAddr }

// SetPhyReg records the assigned physical register and the sub-register
// offset in element-type units.
func (d *Declare) SetPhyReg(reg PhyReg, subOff int) {
	d.reg = reg
	d.regOff = subOff
	d.hasReg = true
}

// ResetPhyReg discards any assignment.
func (d *Declare) ResetPhyReg() {
	d.reg = InvalidPhyReg
	d.regOff = 0
	d.hasReg = false
}

// HasPhyReg reports whether the declare has been assigned.
func (d *Declare) HasPhyReg() bool { return d.hasReg }

// PhyReg returns the assigned physical register.
func (d *Declare) PhyReg() PhyReg { return d.reg }

// PhyRegOff returns the assigned sub-register offset in element units.
func (d *Declare) PhyRegOff() int { return d.regOff }

// SetGRFByteOffset records the linearized byte address of the assignment
// within the general register file.
func (d *Declare) SetGRFByteOffset(off int) { d.grfByteOff = off }

// GRFByteOffset returns the linearized byte address within the general
// register file. Valid only after ComputePhyRegs ran.
func (d *Declare) GRFByteOffset() int { return d.grfByteOff }

func (d *Declare) String() string {
	s := fmt.Sprintf("%s(%s %dx%s", d.name, d.regFile, d.numElems, d.elemType)
	if d.hasReg {
		s += fmt.Sprintf(" @%s.%d", d.reg, d.regOff)
	}

	return s + ")"
}
