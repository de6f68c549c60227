package regalloc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vela-gpu/vela/internal/gir"
)

// fullDef writes every element of d. In a non-divergent block the write
// kills the whole declare.
func fullDef(d *gir.Declare) *gir.Instruction {
	return gir.NewMov(d.NumElems(), gir.FullDst(d), nil)
}

// fullCopy reads all of src into dst.
func fullCopy(dst, src *gir.Declare) *gir.Instruction {
	return gir.NewMov(dst.NumElems(), gir.FullDst(dst), gir.FullSrc(src))
}

func noMask(in *gir.Instruction) *gir.Instruction {
	in.NoMask = true

	return in
}

// testOptions pins every knob the scenarios depend on so the environment
// cannot skew them. Bank tuning stays off; the packing asserts below count
// on strict first-fit starts.
func testOptions() Options {
	o := DefaultOptions()
	o.MaxIterations = 10
	o.Incremental = 1
	o.BankTuning = false
	o.FailSafe = false
	o.GRFLimit = 0
	o.DOTPath = ""

	return o
}

func TestAllocate_DisjointRangesShareRegister(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b0 := k.NewBlock("entry")
	b1 := k.NewBlock("exit")
	k.AddEdge(b0, b1)

	v1 := k.NewDeclare("v1", gir.RegFileGRF, gir.TypeD, 8)
	v2 := k.NewDeclare("v2", gir.RegFileGRF, gir.TypeD, 8)
	t1 := k.NewDeclare("t1", gir.RegFileGRF, gir.TypeD, 8)
	t2 := k.NewDeclare("t2", gir.RegFileGRF, gir.TypeD, 8)

	b0.Append(fullDef(v1))
	b0.Append(fullCopy(t1, v1))
	b1.Append(fullDef(v2))
	b1.Append(fullCopy(t2, v2))

	res, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)
	require.Equal(t, 0, res.SpilledVars)

	require.True(t, v1.HasPhyReg())
	require.True(t, v2.HasPhyReg())
	// The ranges never overlap, so both land on the same register.
	require.Equal(t, v1.PhyReg().Num, v2.PhyReg().Num)
}

func TestAllocate_OverlappingRangesGetDistinctRegisters(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b := k.NewBlock("entry")

	v1 := k.NewDeclare("v1", gir.RegFileGRF, gir.TypeD, 8)
	v2 := k.NewDeclare("v2", gir.RegFileGRF, gir.TypeD, 8)
	v3 := k.NewDeclare("v3", gir.RegFileGRF, gir.TypeD, 8)

	b.Append(fullDef(v1))
	b.Append(fullDef(v2))
	b.Append(gir.NewBinary(gir.OpAdd, 8, gir.FullDst(v3), gir.FullSrc(v1), gir.FullSrc(v2)))

	res, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)
	require.Positive(t, res.EdgeCount)

	require.True(t, v1.HasPhyReg())
	require.True(t, v2.HasPhyReg())
	require.NotEqual(t, v1.PhyReg().Num, v2.PhyReg().Num)
}

// pressureKernel builds one block whose 32 four-register values and one
// accumulator all live at once: 132 registers of demand against 127
// colorable ones. The two cheapest values must spill, and the retry fits.
func pressureKernel(t *testing.T) (*gir.Kernel, []*gir.Declare) {
	t.Helper()

	k := gir.NewKernel("pressure", 32, nil)
	b := k.NewBlock("entry")

	acc := k.NewDeclare("acc", gir.RegFileGRF, gir.TypeUD, 32)
	vs := make([]*gir.Declare, 32)
	for i := range vs {
		vs[i] = k.NewDeclare("v"+string(rune('a'+i/26))+string(rune('a'+i%26)), gir.RegFileGRF, gir.TypeUD, 32)
		b.Append(fullDef(vs[i]))
	}
	b.Append(fullDef(acc))
	for i := len(vs) - 1; i >= 0; i-- {
		b.Append(gir.NewBinary(gir.OpAdd, 32, gir.FullDst(acc), gir.FullSrc(acc), gir.FullSrc(vs[i])))
	}

	return k, vs
}

func TestAllocate_HighPressureSpillsAndConverges(t *testing.T) {
	k, vs := pressureKernel(t)

	res, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)

	require.Equal(t, 2, res.Iterations)
	require.Equal(t, 2, res.SpilledVars)
	require.Equal(t, 2, res.Spill.SpillStores)
	require.Equal(t, 2, res.Spill.SpillFills)
	// Two 128-byte values in scratch, general-register aligned.
	require.Equal(t, 256, res.Spill.SpillMemUsed)
	require.Equal(t, 125, res.MaxGRFUsed)
	require.True(t, res.DenseMatrix)

	spilled := 0
	for _, v := range vs {
		if !v.HasPhyReg() {
			spilled++
		}
	}
	require.Equal(t, 2, spilled)
}

func TestAllocate_AllInfiniteCostFails(t *testing.T) {
	p := &gir.Platform{Name: "test20", NumGRF: 20, GRFByteSize: 32, NumAddrSubRegs: 16, NumFlagRegs: 4}
	k := gir.NewKernel("clique", 8, p)
	b := k.NewBlock("entry")

	// Twenty single-register values that may not spill against nineteen
	// colorable registers.
	vs := make([]*gir.Declare, 20)
	for i := range vs {
		vs[i] = k.NewDeclare("r"+string(rune('a'+i)), gir.RegFileGRF, gir.TypeUD, 8)
		vs[i].MarkRetAddr()
		b.Append(fullDef(vs[i]))
	}
	sink := k.NewDeclare("sink", gir.RegFileGRF, gir.TypeUD, 8)
	for i := len(vs) - 1; i >= 0; i-- {
		b.Append(fullCopy(sink, vs[i]))
	}

	_, err := New(k, testOptions()).Allocate()
	require.Error(t, err)

	var use *UnresolvableSpillError
	require.ErrorAs(t, err, &use)
	require.Equal(t, "clique", use.Kernel)
	require.NotEmpty(t, use.Candidates)
}

func TestAllocate_WideAndNarrowDefaultMasksShare(t *testing.T) {
	k := gir.NewKernel("k", 16, nil)
	b := k.NewBlock("entry")

	v1 := k.NewDeclare("wide", gir.RegFileGRF, gir.TypeDF, 16)
	v2 := k.NewDeclare("narrow", gir.RegFileGRF, gir.TypeD, 16)
	ct := k.NewDeclare("ct", gir.RegFileGRF, gir.TypeDF, 16)
	cw := k.NewDeclare("cw", gir.RegFileGRF, gir.TypeD, 16)
	cu := k.NewDeclare("cu", gir.RegFileGRF, gir.TypeDF, 16)

	// v1 has a hole between its first death and its full redefinition;
	// v2 lives entirely inside the hole.
	b.Append(fullDef(v1))
	b.Append(fullCopy(ct, v1))
	b.Append(fullDef(v2))
	b.Append(fullCopy(cw, v2))
	b.Append(fullDef(v1))
	b.Append(fullCopy(cu, v1))

	res, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)
	require.Equal(t, 0, res.SpilledVars)

	// Differing default masks make a weak edge: both starts go even and
	// the narrow value overlays the wide one's hole.
	require.Equal(t, v1.PhyReg().Num, v2.PhyReg().Num)
	require.Zero(t, v1.PhyReg().Num%2)
	require.Zero(t, v2.PhyReg().Num%2)
}

func TestAllocate_CallClobberForcesCalleeSave(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b := k.NewBlock("entry")

	ext := k.NewSubroutine("ext", nil)
	ext.External = true

	v := k.NewDeclare("v", gir.RegFileGRF, gir.TypeD, 8)
	u := k.NewDeclare("u", gir.RegFileGRF, gir.TypeD, 8)

	b.Append(fullDef(v))
	b.Append(gir.NewCall(ext))
	b.Append(fullCopy(u, v))

	a := New(k, testOptions())
	res, err := a.Allocate()
	require.NoError(t, err)
	require.Positive(t, res.EdgeCount)

	// v lives across the call, so it must sit in the callee-save half.
	p := k.Platform
	require.GreaterOrEqual(t, v.PhyReg().Num, p.NumGRF/2)
	// u is born after the call and stays caller-save.
	require.Less(t, u.PhyReg().Num, p.NumGRF/2)

	require.Len(t, a.clobberDcls, 1)
	for _, d := range a.clobberDcls {
		require.False(t, d.HasPhyReg(), "clobber pseudo %s must stay virtual", d.Name())
	}
}

func TestAllocate_EOTPayloadInTopWindow(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b := k.NewBlock("entry")

	payload := k.NewDeclare("payload", gir.RegFileGRF, gir.TypeUD, 8)
	b.Append(fullDef(payload))
	b.Append(noMask(gir.NewSend(8, nil, gir.FullSrc(payload), true)))

	_, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)

	p := k.Platform
	require.GreaterOrEqual(t, payload.PhyReg().Num, p.NumGRF-16)
	require.Less(t, payload.PhyReg().Num, p.NumGRF)
}

func TestAllocate_AddressAndFlagFiles(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b := k.NewBlock("entry")

	v := k.NewDeclare("v", gir.RegFileGRF, gir.TypeD, 8)
	t0 := k.NewDeclare("t0", gir.RegFileGRF, gir.TypeD, 8)
	a := k.NewDeclare("a", gir.RegFileAddress, gir.TypeUW, 4)
	f := k.NewDeclare("f", gir.RegFileFlag, gir.TypeUW, 1)
	g := k.NewDeclare("g", gir.RegFileFlag, gir.TypeUW, 1)

	b.Append(fullDef(v))
	b.Append(gir.NewMov(4, gir.NewDst(a, 0, 0), nil))
	indirect := gir.NewMov(8, gir.FullDst(t0), &gir.SrcRegion{Dcl: a, Indirect: true, VertStride: 8, Width: 8, HorzStride: 1, Ty: gir.TypeD})
	b.Append(indirect)
	b.Append(gir.NewCmp(8, &gir.CondMod{Dcl: f}, gir.FullSrc(v), gir.FullSrc(v)))
	b.Append(gir.NewCmp(8, &gir.CondMod{Dcl: g}, gir.FullSrc(v), gir.FullSrc(v)))

	pm := fullCopy(t0, v)
	pm.Pred = &gir.Predicate{Dcl: f}
	b.Append(pm)
	pg := fullCopy(t0, v)
	pg.Pred = &gir.Predicate{Dcl: g}
	b.Append(pg)

	_, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)

	require.True(t, a.HasPhyReg())
	require.Equal(t, gir.RegFileAddress, a.PhyReg().File)
	require.GreaterOrEqual(t, a.PhyRegOff(), 0)
	require.LessOrEqual(t, a.PhyRegOff()+a.NumElems(), k.Platform.NumAddrSubRegs)

	require.True(t, f.HasPhyReg())
	require.True(t, g.HasPhyReg())
	require.Equal(t, gir.RegFileFlag, f.PhyReg().File)
	// Both flags live from their compare to their predicated use.
	require.NotEqual(t, f.PhyReg().Num, g.PhyReg().Num)
}

func TestAllocate_AliasInheritsRootRegister(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b := k.NewBlock("entry")

	root := k.NewDeclare("root", gir.RegFileGRF, gir.TypeD, 16)
	row1 := k.NewDeclare("root_row1", gir.RegFileGRF, gir.TypeD, 8)
	row1.SetAlias(root, 32)
	sink := k.NewDeclare("sink", gir.RegFileGRF, gir.TypeD, 8)

	b.Append(fullDef(root))
	b.Append(fullCopy(sink, row1))

	_, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)

	require.True(t, root.HasPhyReg())
	require.True(t, row1.HasPhyReg())
	require.Equal(t, root.PhyReg().Num+1, row1.PhyReg().Num)
	require.Zero(t, row1.PhyRegOff())
	require.Equal(t, (root.PhyReg().Num+1)*k.Platform.GRFByteSize, row1.GRFByteOffset())
}

func TestAllocate_SplitChildrenFollowParent(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b := k.NewBlock("entry")

	// The extra payload reads make the parent the costliest range in the
	// family, so it colors first and the children can chase its placement.
	c0 := k.NewDeclare("send_lo", gir.RegFileGRF, gir.TypeUD, 16)
	c1 := k.NewDeclare("send_hi", gir.RegFileGRF, gir.TypeUD, 16)
	x := k.NewDeclare("x", gir.RegFileGRF, gir.TypeD, 8)
	xs := k.NewDeclare("xs", gir.RegFileGRF, gir.TypeD, 8)
	parent := k.NewDeclare("send_payload", gir.RegFileGRF, gir.TypeUD, 32)
	probe := k.NewDeclare("probe", gir.RegFileGRF, gir.TypeUD, 16)

	half := func(regOff int) *gir.SrcRegion {
		return &gir.SrcRegion{Dcl: parent, RegOff: regOff, VertStride: 16, Width: 16, HorzStride: 1, Ty: gir.TypeUD}
	}

	b.Append(noMask(fullDef(parent)))
	b.Append(fullDef(x))
	b.Append(fullCopy(xs, x))
	b.Append(noMask(gir.NewMov(16, gir.FullDst(c0), half(0))))
	b.Append(noMask(gir.NewMov(16, gir.FullDst(c1), half(2))))
	b.Append(noMask(gir.NewMov(16, gir.FullDst(probe), half(1))))
	b.Append(noMask(gir.NewMov(16, gir.FullDst(probe), half(1))))
	b.Append(noMask(gir.NewSend(16, nil, gir.FullSrc(c0), false)))
	b.Append(noMask(gir.NewSend(16, nil, gir.FullSrc(c1), false)))

	a := New(k, testOptions())
	a.RecordSplit(parent, []*gir.Declare{c0, c1})

	_, err := a.Allocate()
	require.NoError(t, err)

	require.True(t, a.WasSplit(parent))
	require.Equal(t, parent.PhyReg().Num, c0.PhyReg().Num)
	require.Equal(t, parent.PhyReg().Num+2, c1.PhyReg().Num)

	// x interferes with the parent, and the transferred edges keep it off
	// both children as well.
	xn := x.PhyReg().Num
	require.True(t, xn < c0.PhyReg().Num || xn >= c0.PhyReg().Num+2)
	require.True(t, xn < c1.PhyReg().Num || xn >= c1.PhyReg().Num+2)
}

func TestAllocate_AddressPressureSpillsAndElides(t *testing.T) {
	k := gir.NewKernel("k", 8, nil)
	b := k.NewBlock("entry")

	n := k.Platform.NumAddrSubRegs + 1
	as := make([]*gir.Declare, n)
	for i := range as {
		as[i] = k.NewDeclare("a"+string(rune('a'+i)), gir.RegFileAddress, gir.TypeUW, 1)
		b.Append(gir.NewMov(1, gir.NewDst(as[i], 0, 0), nil))
	}

	t0 := k.NewDeclare("t0", gir.RegFileGRF, gir.TypeD, 8)
	use := func(a *gir.Declare) {
		b.Append(gir.NewMov(8, gir.FullDst(t0), &gir.SrcRegion{Dcl: a, Indirect: true, VertStride: 8, Width: 8, HorzStride: 1, Ty: gir.TypeD}))
	}
	// The cheapest value's uses come last so its reload temporaries find
	// the file empty and collapse into one fill.
	for i := n - 1; i >= 0; i-- {
		use(as[i])
		use(as[i])
	}

	res, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)

	require.Equal(t, 1, res.SpilledVars)
	require.Equal(t, 1, res.Spill.AddrSpillStores)
	require.Equal(t, 2, res.Spill.AddrSpillLoads)
	require.Equal(t, 1, res.Spill.AddrFillsElided)
	require.False(t, as[0].HasPhyReg())

	for _, a := range as[1:] {
		require.True(t, a.HasPhyReg(), "unspilled %s", a.Name())
	}
}

func TestAllocate_FlagPressureSpills(t *testing.T) {
	k := gir.NewKernel("k", 16, nil)
	b := k.NewBlock("entry")

	v := k.NewDeclare("v", gir.RegFileGRF, gir.TypeD, 16)
	t0 := k.NewDeclare("t0", gir.RegFileGRF, gir.TypeD, 16)
	b.Append(fullDef(v))

	n := k.Platform.NumFlagRegs + 1
	fs := make([]*gir.Declare, n)
	for i := range fs {
		fs[i] = k.NewDeclare("f"+string(rune('a'+i)), gir.RegFileFlag, gir.TypeUW, 1)
		b.Append(gir.NewCmp(16, &gir.CondMod{Dcl: fs[i]}, gir.FullSrc(v), gir.FullSrc(v)))
	}
	for i := n - 1; i >= 0; i-- {
		pm := fullCopy(t0, v)
		pm.Pred = &gir.Predicate{Dcl: fs[i]}
		b.Append(pm)
	}

	res, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)

	require.Equal(t, 1, res.SpilledVars)
	require.Equal(t, 1, res.Spill.FlagSpillStores)
	require.Equal(t, 1, res.Spill.FlagSpillLoads)
	// The flag home lives in a general register, not scratch.
	require.Zero(t, res.Spill.SpillMemUsed)
	require.False(t, fs[0].HasPhyReg())
}

// limitKernel builds one block whose peak demand is four live registers:
// a long-lived value spans three overlapping helpers before a reduction
// chain drains them.
func limitKernel(t *testing.T) (*gir.Kernel, *gir.Declare) {
	t.Helper()

	k := gir.NewKernel("limited", 8, nil)
	b := k.NewBlock("entry")

	long := k.NewDeclare("long_lived", gir.RegFileGRF, gir.TypeD, 8)
	hs := make([]*gir.Declare, 3)
	for i := range hs {
		hs[i] = k.NewDeclare("h"+string(rune('0'+i)), gir.RegFileGRF, gir.TypeD, 8)
	}
	s1 := k.NewDeclare("s1", gir.RegFileGRF, gir.TypeD, 8)
	s2 := k.NewDeclare("s2", gir.RegFileGRF, gir.TypeD, 8)
	s3 := k.NewDeclare("s3", gir.RegFileGRF, gir.TypeD, 8)

	b.Append(fullDef(long))
	for _, h := range hs {
		b.Append(fullDef(h))
	}
	b.Append(gir.NewBinary(gir.OpAdd, 8, gir.FullDst(s1), gir.FullSrc(hs[0]), gir.FullSrc(hs[1])))
	b.Append(gir.NewBinary(gir.OpAdd, 8, gir.FullDst(s2), gir.FullSrc(s1), gir.FullSrc(hs[2])))
	b.Append(gir.NewBinary(gir.OpAdd, 8, gir.FullDst(s3), gir.FullSrc(s2), gir.FullSrc(long)))

	return k, long
}

func TestAllocate_GRFLimitForcesSpills(t *testing.T) {
	k, long := limitKernel(t)

	o := testOptions()
	o.GRFLimit = 4

	res, err := New(k, o).Allocate()
	require.NoError(t, err)

	// Three colorable registers cannot hold the four-way peak; the value
	// with the most neighbors goes to scratch and the retry fits.
	require.True(t, res.HasSpills())
	require.Equal(t, 2, res.Iterations)
	require.Equal(t, 1, res.SpilledVars)
	require.Equal(t, 1, res.Spill.SpillStores)
	require.Equal(t, 1, res.Spill.SpillFills)
	require.Equal(t, 32, res.Spill.SpillMemUsed)
	require.Equal(t, 4, res.MaxGRFUsed)
	require.False(t, long.HasPhyReg())

	for _, d := range k.Declares {
		if d.HasPhyReg() && d.PhyReg().File == gir.RegFileGRF {
			require.Less(t, d.PhyReg().Num, o.GRFLimit, "capped %s", d.Name())
		}
	}

	// The same kernel fits the full file without spilling.
	full, long2 := limitKernel(t)
	res2, err := New(full, testOptions()).Allocate()
	require.NoError(t, err)
	require.False(t, res2.HasSpills())
	require.True(t, long2.HasPhyReg())
	require.Equal(t, 5, res2.MaxGRFUsed)
}

func TestAllocate_FailSafeReservesScratch(t *testing.T) {
	k, _ := pressureKernel(t)

	o := testOptions()
	o.FailSafe = true
	o.FailSafeAfter = 1

	res, err := New(k, o).Allocate()
	require.NoError(t, err)

	require.True(t, res.FailSafeUsed)
	require.Equal(t, 2, res.ReservedGRFs)
	require.Equal(t, 2, res.Iterations)
}

func TestAllocate_IterationLimit(t *testing.T) {
	k, _ := pressureKernel(t)

	o := testOptions()
	o.MaxIterations = 1

	_, err := New(k, o).Allocate()
	require.Error(t, err)

	var ile *IterationLimitError
	require.ErrorAs(t, err, &ile)
	require.Equal(t, 1, ile.Iterations)
	require.Positive(t, ile.LastSpills)
}

func TestAllocate_EmptyKernel(t *testing.T) {
	k := gir.NewKernel("empty", 8, nil)
	k.NewBlock("entry")

	res, err := New(k, testOptions()).Allocate()
	require.NoError(t, err)
	require.Zero(t, res.Iterations)
	require.Zero(t, res.SpilledVars)
}

func TestAllocate_WritesInterferenceDump(t *testing.T) {
	k := gir.NewKernel("dumped", 8, nil)
	b := k.NewBlock("entry")

	v1 := k.NewDeclare("v1", gir.RegFileGRF, gir.TypeD, 8)
	v2 := k.NewDeclare("v2", gir.RegFileGRF, gir.TypeD, 8)
	v3 := k.NewDeclare("v3", gir.RegFileGRF, gir.TypeD, 8)
	b.Append(fullDef(v1))
	b.Append(fullDef(v2))
	b.Append(gir.NewBinary(gir.OpAdd, 8, gir.FullDst(v3), gir.FullSrc(v1), gir.FullSrc(v2)))

	o := testOptions()
	o.DOTPath = t.TempDir()

	_, err := New(k, o).Allocate()
	require.NoError(t, err)

	entries, err := os.ReadDir(o.DOTPath)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Contains(t, entries[0].Name(), ".dot")
}
