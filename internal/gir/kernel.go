package gir

import "fmt"

// BasicBlock is a straight-line run of instructions with a single entry and
// a single exit.
type BasicBlock struct {
	ID        int
	Label     string
	Instrs    []*Instruction
	Preds     []*BasicBlock
	Succs     []*BasicBlock
	LoopDepth int
	Divergent bool // reached under a non-uniform branch
}

// Append adds an instruction at the end of the block.
func (b *BasicBlock) Append(in *Instruction) *Instruction {
	b.Instrs = append(b.Instrs, in)

	return in
}

// InsertBefore places insts ahead of the instruction at idx.
func (b *BasicBlock) InsertBefore(idx int, insts ...*Instruction) {
	b.Instrs = append(b.Instrs[:idx], append(insts, b.Instrs[idx:]...)...)
}

// InsertAfter places insts behind the instruction at idx.
func (b *BasicBlock) InsertAfter(idx int, insts ...*Instruction) {
	b.InsertBefore(idx+1, insts...)
}

func (b *BasicBlock) String() string {
	if b.Label != "" {
		return b.Label
	}

	return fmt.Sprintf("BB%d", b.ID)
}

// Subroutine groups the blocks of one callable unit. RetDcl holds the
// return address and must survive allocation in a register. An External
// subroutine has no blocks here and clobbers the caller-save registers.
type Subroutine struct {
	ID       int
	Name     string
	Blocks   []*BasicBlock
	RetDcl   *Declare
	External bool
}

// Kernel is one compilation unit handed to the register allocator.
type Kernel struct {
	Name        string
	SimdSize    int
	Platform    *Platform
	Declares    []*Declare
	Blocks      []*BasicBlock
	Subroutines []*Subroutine
}

// NewKernel builds an empty kernel for the given platform and SIMD width.
func NewKernel(name string, simdSize int, p *Platform) *Kernel {
	if p == nil {
		p = DefaultPlatform()
	}

	return &Kernel{Name: name, SimdSize: simdSize, Platform: p}
}

// NewDeclare creates a declare with the next dense id. Alignment defaults
// to the element size's natural word alignment.
func (k *Kernel) NewDeclare(name string, rf RegFile, ty Type, numElems int) *Declare {
	d := &Declare{
		id:          len(k.Declares),
		name:        name,
		regFile:     rf,
		elemType:    ty,
		numElems:    numElems,
		subRegAlign: AlignAny,
		reg:         InvalidPhyReg,
	}
	k.Declares = append(k.Declares, d)

	return d
}

// NewBlock creates an empty block with the next dense id and appends it to
// the layout.
func (k *Kernel) NewBlock(label string) *BasicBlock {
	b := &BasicBlock{ID: len(k.Blocks), Label: label}
	k.Blocks = append(k.Blocks, b)

	return b
}

// AddEdge records a control-flow edge from pred to succ.
func (k *Kernel) AddEdge(pred, succ *BasicBlock) {
	pred.Succs = append(pred.Succs, succ)
	succ.Preds = append(succ.Preds, pred)
}

// NewSubroutine registers a callable unit.
func (k *Kernel) NewSubroutine(name string, retDcl *Declare) *Subroutine {
	if retDcl != nil {
		retDcl.MarkRetAddr()
	}
	s := &Subroutine{ID: len(k.Subroutines), Name: name, RetDcl: retDcl}
	k.Subroutines = append(k.Subroutines, s)

	return s
}

// NumberInstructions assigns kernel-wide order ids in layout order and
// returns the instruction count. Callers renumber after inserting spill
// code.
func (k *Kernel) NumberInstructions() int {
	n := 0
	for _, b := range k.Blocks {
		for _, in := range b.Instrs {
			in.ID = n
			n++
		}
	}

	return n
}

// Entry returns the first layout block, or nil for an empty kernel.
func (k *Kernel) Entry() *BasicBlock {
	if len(k.Blocks) == 0 {
		return nil
	}

	return k.Blocks[0]
}
