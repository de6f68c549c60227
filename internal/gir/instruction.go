package gir

import (
	"fmt"
	"strings"
)

// Opcode enumerates the instruction set the allocator understands. Anything
// more exotic in a real pipeline lowers onto these before allocation.
type Opcode int

const (
	OpMov Opcode = iota
	OpAdd
	OpMul
	OpMad
	OpCmp
	OpSel
	OpAddrAdd
	OpSend
	OpCall
	OpRet
	OpSpill // scratch store of a register range
	OpFill  // scratch load into a register range
)

var opcodeNames = [...]string{
	OpMov:     "mov",
	OpAdd:     "add",
	OpMul:     "mul",
	OpMad:     "mad",
	OpCmp:     "cmp",
	OpSel:     "sel",
	OpAddrAdd: "addr_add",
	OpSend:    "send",
	OpCall:    "call",
	OpRet:     "ret",
	OpSpill:   "spill",
	OpFill:    "fill",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}

	return fmt.Sprintf("op(%d)", int(op))
}

// Instruction is one SIMD operation. ID is the kernel-wide order number
// assigned by Kernel.NumberInstructions.
type Instruction struct {
	ID         int
	Op         Opcode
	ExecSize   int
	MaskOffset int
	NoMask     bool

	Pred    *Predicate
	CondMod *CondMod
	Dst     *DstRegion
	Srcs    []*SrcRegion

	CallTarget *Subroutine
	EOT        bool
	ScratchSlot int
}

// NewMov builds a copy.
func NewMov(execSize int, dst *DstRegion, src *SrcRegion) *Instruction {
	return &Instruction{Op: OpMov, ExecSize: execSize, Dst: dst, Srcs: []*SrcRegion{src}}
}

// NewBinary builds a two-source arithmetic instruction.
func NewBinary(op Opcode, execSize int, dst *DstRegion, s0, s1 *SrcRegion) *Instruction {
	return &Instruction{Op: op, ExecSize: execSize, Dst: dst, Srcs: []*SrcRegion{s0, s1}}
}

// NewTernary builds a three-source instruction such as mad.
func NewTernary(op Opcode, execSize int, dst *DstRegion, s0, s1, s2 *SrcRegion) *Instruction {
	return &Instruction{Op: op, ExecSize: execSize, Dst: dst, Srcs: []*SrcRegion{s0, s1, s2}}
}

// NewCmp builds a comparison writing a flag through cm.
func NewCmp(execSize int, cm *CondMod, s0, s1 *SrcRegion) *Instruction {
	return &Instruction{Op: OpCmp, ExecSize: execSize, CondMod: cm, Srcs: []*SrcRegion{s0, s1}}
}

// NewSend builds a message send. An EOT send ends the thread.
func NewSend(execSize int, dst *DstRegion, payload *SrcRegion, eot bool) *Instruction {
	return &Instruction{Op: OpSend, ExecSize: execSize, Dst: dst, Srcs: []*SrcRegion{payload}, EOT: eot}
}

// NewCall builds a subroutine call.
func NewCall(target *Subroutine) *Instruction {
	return &Instruction{Op: OpCall, ExecSize: 1, CallTarget: target}
}

// NewRet builds a kernel-level return.
func NewRet() *Instruction {
	return &Instruction{Op: OpRet, ExecSize: 1}
}

// NewRetFrom builds a return out of sub, which reads the subroutine's
// return-address declare.
func NewRetFrom(sub *Subroutine) *Instruction {
	return &Instruction{Op: OpRet, ExecSize: 1, CallTarget: sub}
}

// NewSpill builds a scratch store of src into slot.
func NewSpill(execSize, slot int, src *SrcRegion) *Instruction {
	return &Instruction{Op: OpSpill, ExecSize: execSize, Srcs: []*SrcRegion{src}, ScratchSlot: slot}
}

// NewFill builds a scratch load of slot into dst.
func NewFill(execSize, slot int, dst *DstRegion) *Instruction {
	return &Instruction{Op: OpFill, ExecSize: execSize, Dst: dst, ScratchSlot: slot}
}

// IsCall reports whether the instruction transfers to a subroutine.
func (in *Instruction) IsCall() bool { return in.Op == OpCall }

// IsRet reports whether the instruction returns from a subroutine.
func (in *Instruction) IsRet() bool { return in.Op == OpRet }

// IsSend reports whether the instruction is a message send.
func (in *Instruction) IsSend() bool { return in.Op == OpSend }

// IsEOT reports whether the instruction ends the thread.
func (in *Instruction) IsEOT() bool { return in.Op == OpSend && in.EOT }

// WritesWholeDst reports whether the write covers every lane regardless of
// the execution mask.
func (in *Instruction) WritesWholeDst() bool { return in.NoMask }

func (in *Instruction) String() string {
	var b strings.Builder
	if in.Pred != nil {
		b.WriteString(in.Pred.String())
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%s (%d|M%d)", in.Op, in.ExecSize, in.MaskOffset)
	if in.NoMask {
		b.WriteString(" {NoMask}")
	}
	if in.CondMod != nil {
		b.WriteByte(' ')
		b.WriteString(in.CondMod.String())
	}
	if in.Dst != nil {
		b.WriteByte(' ')
		b.WriteString(in.Dst.String())
	}
	for _, s := range in.Srcs {
		if s == nil {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(s.String())
	}
	switch {
	case in.Op == OpCall && in.CallTarget != nil:
		fmt.Fprintf(&b, " %s", in.CallTarget.Name)
	case in.Op == OpSpill || in.Op == OpFill:
		fmt.Fprintf(&b, " slot%d", in.ScratchSlot)
	case in.EOT:
		b.WriteString(" {EOT}")
	}

	return b.String()
}
