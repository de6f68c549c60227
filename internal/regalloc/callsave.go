package regalloc

import (
	"fmt"

	"github.com/vela-gpu/vela/internal/gir"
	"github.com/vela-gpu/vela/internal/liveness"
)

// SaveRestoreSite records the preservation moves inserted around one
// external call.
type SaveRestoreSite struct {
	Call     *gir.Instruction   `json:"-"`
	Saves    []*gir.Instruction `json:"-"`
	Restores []*gir.Instruction `json:"-"`
}

func isExternalCall(in *gir.Instruction) bool {
	return in.IsCall() && in.CallTarget != nil && in.CallTarget.External
}

// insertCallSaveRestore parks colored address and flag values that are
// live across an external call in general-register temporaries: a save
// move before the call, a restore after. General-file values need no
// moves because the clobber node already forces them into callee-save
// registers. The pass runs between the scalar files and the general
// file, so the temporaries reach the general pass as ordinary candidates.
func (a *Allocator) insertCallSaveRestore() {
	hasCalls := false
	for _, bb := range a.k.Blocks {
		for _, in := range bb.Instrs {
			if isExternalCall(in) {
				hasCalls = true
			}
		}
	}
	if !hasCalls {
		return
	}

	var cands []*gir.Declare
	for _, d := range a.k.Declares {
		rf := d.RegFile()
		if (rf == gir.RegFileAddress || rf == gir.RegFileFlag) &&
			d.AliasDeclare() == nil && d.HasPhyReg() {
			cands = append(cands, d)
		}
	}
	if len(cands) == 0 {
		return
	}

	live := a.inc.Liveness(a.k, a.k.NumberInstructions())
	movs := 0
	for _, bb := range a.k.Blocks {
		protect := a.protectSets(bb, live, cands)
		if len(protect) == 0 {
			continue
		}
		out := make([]*gir.Instruction, 0, len(bb.Instrs)+4*len(protect))
		for idx, in := range bb.Instrs {
			dcls, ok := protect[idx]
			if !ok {
				out = append(out, in)

				continue
			}
			site := SaveRestoreSite{Call: in}
			for _, d := range dcls {
				tmp := a.k.NewDeclare(fmt.Sprintf("%s_cs%d", d.Name(), a.saveTemps),
					gir.RegFileGRF, d.ElemType(), d.NumElems())
				a.saveTemps++
				site.Saves = append(site.Saves, noMaskMov(d.NumElems(), gir.FullDst(tmp), gir.FullSrc(d)))
				site.Restores = append(site.Restores, noMaskMov(d.NumElems(), gir.FullDst(d), gir.FullSrc(tmp)))
			}
			out = append(out, site.Saves...)
			out = append(out, in)
			out = append(out, site.Restores...)
			movs += len(site.Saves) + len(site.Restores)
			a.res.SaveRestore = append(a.res.SaveRestore, site)
		}
		bb.Instrs = out
	}
	a.res.CallSaveMovs = movs
	if movs > 0 {
		a.log.Debug("call save/restore inserted",
			"moves", movs, "sites", len(a.res.SaveRestore))
	}
}

// protectSets returns, per instruction index, the candidates live past
// that external call, in declare order. Values the call itself defines
// need no preservation.
func (a *Allocator) protectSets(bb *gir.BasicBlock, live *liveness.Result, cands []*gir.Declare) map[int][]*gir.Declare {
	var protect map[int][]*gir.Declare
	p := a.k.Platform
	cur := live.LiveOut[bb.ID].Clone()
	for idx := len(bb.Instrs) - 1; idx >= 0; idx-- {
		in := bb.Instrs[idx]
		defs := liveness.DefRefs(p, in, bb.Divergent)
		if isExternalCall(in) {
			var dcls []*gir.Declare
			for _, d := range cands {
				if !cur.Test(d.ID()) {
					continue
				}
				defined := false
				for _, ref := range defs {
					if ref.Dcl == d {
						defined = true
					}
				}
				if !defined {
					dcls = append(dcls, d)
				}
			}
			if len(dcls) > 0 {
				if protect == nil {
					protect = make(map[int][]*gir.Declare)
				}
				protect[idx] = dcls
			}
		}
		for _, ref := range defs {
			if ref.FullKill {
				cur.Clear(ref.Dcl.ID())
			}
		}
		for _, ref := range liveness.UseRefs(p, in) {
			cur.Set(ref.Dcl.ID())
		}
	}

	return protect
}
