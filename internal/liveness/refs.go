// Package liveness computes per-block live-in and live-out variable sets
// for a kernel. Variables are tracked by root declare id, so aliased views
// contribute to their root's range.
package liveness

import "github.com/vela-gpu/vela/internal/gir"

// Ref is one resolved operand reference: the root declare touched and the
// inclusive byte range within it.
type Ref struct {
	Dcl *gir.Declare
	LB  int
	RB  int

	// FullKill is set on defs that overwrite every byte of the root
	// unconditionally, which is what lets a backward sweep retire the
	// variable.
	FullKill bool
}

func flagBounds(execSize, maskOffset int) (lb, rb int) {
	lb = maskOffset / 8
	rb = (maskOffset + execSize - 1) / 8

	return lb, rb
}

// DefRefs returns the references written by in. divergent marks
// instructions under non-uniform control flow, whose writes never fully
// kill unless NoMask is set.
func DefRefs(p *gir.Platform, in *gir.Instruction, divergent bool) []Ref {
	var refs []Ref
	// A write through a0 consumes the address value and defines no
	// tracked register bytes, so it contributes uses only.
	if d := in.Dst; d != nil && !d.Indirect {
		root, _ := d.Dcl.RootDeclare()
		lb, rb := d.ByteBounds(p, in.ExecSize)
		full := in.Pred == nil &&
			(in.NoMask || !divergent) &&
			lb == 0 && rb >= root.ByteSize()-1
		refs = append(refs, Ref{Dcl: root, LB: lb, RB: rb, FullKill: full})
	}
	if cm := in.CondMod; cm != nil {
		root, off := cm.Dcl.RootDeclare()
		lb, rb := flagBounds(in.ExecSize, in.MaskOffset)
		lb += off
		rb += off
		full := in.Pred == nil &&
			(in.NoMask || !divergent) &&
			lb == 0 && rb >= root.ByteSize()-1
		refs = append(refs, Ref{Dcl: root, LB: lb, RB: rb, FullKill: full})
	}
	if in.IsCall() && in.CallTarget != nil && in.CallTarget.RetDcl != nil {
		root, off := in.CallTarget.RetDcl.RootDeclare()
		refs = append(refs, Ref{Dcl: root, LB: off, RB: off + in.CallTarget.RetDcl.ByteSize() - 1, FullKill: true})
	}

	return refs
}

// UseRefs returns the references read by in.
func UseRefs(p *gir.Platform, in *gir.Instruction) []Ref {
	var refs []Ref
	for _, s := range in.Srcs {
		if s == nil {
			continue
		}
		root, off := s.Dcl.RootDeclare()
		if s.Indirect {
			refs = append(refs, Ref{Dcl: root, LB: off, RB: off + s.Dcl.ByteSize() - 1})

			continue
		}
		lb, rb := s.ByteBounds(p, in.ExecSize)
		refs = append(refs, Ref{Dcl: root, LB: lb, RB: rb})
	}
	if d := in.Dst; d != nil && d.Indirect {
		root, off := d.Dcl.RootDeclare()
		refs = append(refs, Ref{Dcl: root, LB: off, RB: off + d.Dcl.ByteSize() - 1})
	}
	if pr := in.Pred; pr != nil {
		root, off := pr.Dcl.RootDeclare()
		refs = append(refs, Ref{Dcl: root, LB: off, RB: off + pr.Dcl.ByteSize() - 1})
	}
	if in.IsRet() && in.CallTarget != nil && in.CallTarget.RetDcl != nil {
		root, off := in.CallTarget.RetDcl.RootDeclare()
		refs = append(refs, Ref{Dcl: root, LB: off, RB: off + in.CallTarget.RetDcl.ByteSize() - 1})
	}

	return refs
}
