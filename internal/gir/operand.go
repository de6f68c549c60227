package gir

import "fmt"

// DstRegion is a destination operand: a row/sub-register offset into a
// declare plus a horizontal stride between written elements. Ty may
// reinterpret the declare's element type.
type DstRegion struct {
	Dcl        *Declare
	RegOff     int // GRF rows from the declare start
	SubRegOff  int // elements of Ty within the row
	HorzStride int
	Ty         Type
	Indirect   bool // Dcl is an address declare dereferenced through a0
}

// NewDst builds a destination region with stride 1.
func NewDst(dcl *Declare, regOff, subRegOff int) *DstRegion {
	return &DstRegion{Dcl: dcl, RegOff: regOff, SubRegOff: subRegOff, HorzStride: 1, Ty: dcl.ElemType()}
}

// ByteBounds returns the inclusive byte range the write covers within the
// root declare, alias offset included.
func (d *DstRegion) ByteBounds(p *Platform, execSize int) (lb, rb int) {
	_, rootOff := d.Dcl.RootDeclare()
	tsz := d.Ty.Size()
	lb = rootOff + d.RegOff*p.GRFByteSize + d.SubRegOff*tsz
	if execSize < 1 {
		execSize = 1
	}
	rb = lb + ((execSize-1)*d.HorzStride+1)*tsz - 1

	return lb, rb
}

func (d *DstRegion) String() string {
	return fmt.Sprintf("%s(%d,%d)<%d>:%s", d.Dcl.Name(), d.RegOff, d.SubRegOff, d.HorzStride, d.Ty)
}

// SrcRegion is a source operand with a <VertStride;Width,HorzStride>
// access region.
type SrcRegion struct {
	Dcl        *Declare
	RegOff     int
	SubRegOff  int
	VertStride int
	Width      int
	HorzStride int
	Ty         Type
	Negate     bool
	Indirect   bool
}

// NewScalarSrc builds a <0;1,0> broadcast read of one element.
func NewScalarSrc(dcl *Declare, regOff, subRegOff int) *SrcRegion {
	return &SrcRegion{Dcl: dcl, RegOff: regOff, SubRegOff: subRegOff, VertStride: 0, Width: 1, HorzStride: 0, Ty: dcl.ElemType()}
}

// NewContiguousSrc builds a unit-stride read starting at the given offset.
func NewContiguousSrc(dcl *Declare, regOff, subRegOff int) *SrcRegion {
	return &SrcRegion{Dcl: dcl, RegOff: regOff, SubRegOff: subRegOff, VertStride: 8, Width: 8, HorzStride: 1, Ty: dcl.ElemType()}
}

// FullSrc builds a read of every element, for use with an execution size of
// dcl.NumElems().
func FullSrc(dcl *Declare) *SrcRegion {
	n := dcl.NumElems()

	return &SrcRegion{Dcl: dcl, VertStride: n, Width: n, HorzStride: 1, Ty: dcl.ElemType()}
}

// FullDst builds a write of every element, for use with an execution size
// of dcl.NumElems().
func FullDst(dcl *Declare) *DstRegion {
	return &DstRegion{Dcl: dcl, HorzStride: 1, Ty: dcl.ElemType()}
}

// IsScalar reports whether the region broadcasts a single element.
func (s *SrcRegion) IsScalar() bool {
	return s.VertStride == 0 && s.Width == 1 && s.HorzStride == 0
}

// ByteBounds returns the inclusive byte range the read covers within the
// root declare, alias offset included.
func (s *SrcRegion) ByteBounds(p *Platform, execSize int) (lb, rb int) {
	_, rootOff := s.Dcl.RootDeclare()
	tsz := s.Ty.Size()
	lb = rootOff + s.RegOff*p.GRFByteSize + s.SubRegOff*tsz
	if execSize < 1 {
		execSize = 1
	}
	w := s.Width
	if w < 1 || w > execSize {
		w = execSize
	}
	rows := execSize / w
	if rows < 1 {
		rows = 1
	}
	span := (rows-1)*s.VertStride + (w-1)*s.HorzStride + 1
	rb = lb + span*tsz - 1

	return lb, rb
}

func (s *SrcRegion) String() string {
	neg := ""
	if s.Negate {
		neg = "-"
	}

	return fmt.Sprintf("%s%s(%d,%d)<%d;%d,%d>:%s",
		neg, s.Dcl.Name(), s.RegOff, s.SubRegOff, s.VertStride, s.Width, s.HorzStride, s.Ty)
}

// Predicate guards an instruction with a flag declare.
type Predicate struct {
	Dcl      *Declare
	Inverted bool
}

func (p *Predicate) String() string {
	inv := ""
	if p.Inverted {
		inv = "!"
	}

	return fmt.Sprintf("(%s%s)", inv, p.Dcl.Name())
}

// CondMod writes a comparison result into a flag declare.
type CondMod struct {
	Dcl *Declare
}

func (c *CondMod) String() string { return fmt.Sprintf("[%s]", c.Dcl.Name()) }
