package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vela-gpu/vela/internal/gir"
)

func TestEdgeWeightGRF(t *testing.T) {
	p := gir.DefaultPlatform()
	k := gir.NewKernel("k", 8, p)
	vars := newVarTable(k)
	ar := newLRArena(8)

	mk := func(name string, regs int, even bool) *LiveRange {
		d := k.NewDeclare(name, gir.RegFileGRF, gir.TypeUD, regs*p.EltsPerGRF(gir.TypeUD))
		vars.grow(k)
		if even {
			vars.SetEvenAlign(d)
		}
		lr := ar.alloc()
		lr.init(d, d.ID(), p)

		return lr
	}

	tests := []struct {
		name   string
		n1, n2 int
		e1, e2 bool
		want   int
	}{
		{"single_single", 1, 1, false, false, 1},
		{"quad_quad", 4, 4, false, false, 7},
		{"even_pair_vs_single", 2, 1, true, false, 3},
		{"even_pair_vs_pair", 2, 2, true, false, 5},
		{"both_even_singles", 1, 1, true, true, 3},
		{"both_even_mixed", 1, 3, true, true, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lr1 := mk("a_"+tc.name, tc.n1, tc.e1)
			lr2 := mk("b_"+tc.name, tc.n2, tc.e2)
			require.Equal(t, tc.want, edgeWeightGRF(vars, lr1, lr2))
		})
	}
}

func TestEdgeWeightARF(t *testing.T) {
	p := gir.DefaultPlatform()
	k := gir.NewKernel("k", 8, p)
	d := k.NewDeclare("a", gir.RegFileAddress, gir.TypeUW, 4)
	lr := newLRArena(1).alloc()
	lr.init(d, 0, p)

	require.Equal(t, 4, edgeWeightARF(lr))
}

func TestRoundUpEven(t *testing.T) {
	require.Equal(t, 0, roundUpEven(0))
	require.Equal(t, 2, roundUpEven(1))
	require.Equal(t, 2, roundUpEven(2))
	require.Equal(t, 4, roundUpEven(3))
}

func TestLoopWeight(t *testing.T) {
	require.Equal(t, 1, loopWeight(0))
	require.Equal(t, 4, loopWeight(1))
	require.Equal(t, 16, loopWeight(2))
	require.Equal(t, 65536, loopWeight(8))
	// Depth caps so deeply nested loops cannot overflow the weight.
	require.Equal(t, 65536, loopWeight(12))
}

func TestComputeSpillCosts(t *testing.T) {
	p := gir.DefaultPlatform()
	k := gir.NewKernel("k", 8, p)
	vars := newVarTable(k)
	ar := newLRArena(4)

	mkLR := func(name string) *LiveRange {
		d := k.NewDeclare(name, gir.RegFileGRF, gir.TypeD, 8)
		vars.grow(k)
		lr := ar.alloc()
		lr.init(d, d.ID(), p)

		return lr
	}

	plain := mkLR("plain")
	plain.AddRefs(8)
	ret := mkLR("ret_addr")
	ret.MarkRetIP()
	temp := mkLR("temp")

	cs := &coloringState{file: gir.RegFileGRF, lrs: []*LiveRange{plain, ret, temp}}
	cs.computeSpillCosts(vars, func(d *gir.Declare) bool { return d == temp.Dcl }, nil)

	require.InDelta(t, 8.0/32.0, plain.SpillCost(), 1e-9)
	require.False(t, plain.IsInfiniteSpillCost())
	require.True(t, ret.IsInfiniteSpillCost())
	require.True(t, temp.IsInfiniteSpillCost())
}

func TestComputeSpillCosts_ForcedCandidates(t *testing.T) {
	p := gir.DefaultPlatform()
	k := gir.NewKernel("k", 8, p)
	vars := newVarTable(k)
	ar := newLRArena(2)

	mkLR := func(name string) *LiveRange {
		d := k.NewDeclare(name, gir.RegFileGRF, gir.TypeD, 8)
		vars.grow(k)
		lr := ar.alloc()
		lr.init(d, d.ID(), p)

		return lr
	}

	forced := mkLR("forced")
	forced.AddRefs(8)
	ret := mkLR("ret_addr")
	ret.MarkRetIP()

	force := map[*gir.Declare]bool{forced.Dcl: true, ret.Dcl: true}
	cs := &coloringState{file: gir.RegFileGRF, lrs: []*LiveRange{forced, ret}}
	cs.computeSpillCosts(vars, func(*gir.Declare) bool { return false }, force)

	// A forced range sinks to the sentinel so it leads the spill order,
	// but pinned ranges stay pinned even when forced.
	require.Equal(t, MinSpillCost, forced.SpillCost())
	require.True(t, ret.IsInfiniteSpillCost())
}

// orderingState builds a triangle of single-register ranges plus one
// isolated range on a three-register file, tight enough that the triangle
// starts constrained.
func orderingState(t *testing.T) (*coloringState, *varTable, *gir.Platform, []*LiveRange) {
	t.Helper()

	p := &gir.Platform{Name: "tiny3", NumGRF: 3, GRFByteSize: 32, NumAddrSubRegs: 16, NumFlagRegs: 4}
	k := gir.NewKernel("k", 8, p)
	vars := newVarTable(k)
	ar := newLRArena(4)

	names := []string{"a", "b", "c", "d"}
	costs := []float64{0.5, 0.25, 1.0, 0.1}
	lrs := make([]*LiveRange, 4)
	for i, name := range names {
		d := k.NewDeclare(name, gir.RegFileGRF, gir.TypeUD, 8)
		vars.grow(k)
		lr := ar.alloc()
		lr.init(d, i, p)
		lr.SetSpillCost(costs[i])
		lrs[i] = lr
	}

	ig := newInterference(4, 1<<20)
	ig.Set(0, 1)
	ig.Set(1, 2)
	ig.Set(0, 2)
	ig.GenerateSparseIntf()

	tables := newForbiddenTables(p, 0)
	cs := &coloringState{file: gir.RegFileGRF, lrs: lrs, ig: ig, tables: tables}
	for _, lr := range lrs {
		tables.assignForbidden(lr, false)
	}
	cs.computeDegrees(vars)

	return cs, vars, p, lrs
}

func TestDetermineColorOrdering_UnconstrainedLeaveFirst(t *testing.T) {
	cs, vars, p, lrs := orderingState(t)
	cs.determineColorOrdering(vars, p)

	require.Len(t, cs.stack, 4)
	// The isolated range leaves first; then the cheapest of the triangle
	// goes optimistically and unlocks the rest.
	require.Same(t, lrs[3], cs.stack[0])
	require.Same(t, lrs[1], cs.stack[1])
	require.Same(t, lrs[0], cs.stack[2])
	require.Same(t, lrs[2], cs.stack[3])
	require.True(t, lrs[3].IsUnconstrained())
	require.False(t, lrs[1].IsUnconstrained())
}

func TestAssignColors_SpillsOptimisticNode(t *testing.T) {
	cs, vars, p, lrs := orderingState(t)
	cs.determineColorOrdering(vars, p)
	cs.assignColors(vars, p)

	// Two colorable registers cannot hold a triangle; the optimistic
	// member is the one left over.
	require.Len(t, cs.spilled, 1)
	require.Same(t, lrs[1], cs.spilled[0])

	require.Equal(t, 1, lrs[2].PhyReg().Num)
	require.Equal(t, 2, lrs[0].PhyReg().Num)
	require.Equal(t, 1, lrs[3].PhyReg().Num)
}

func TestAssignColors_HonorsHintAndEvenAlign(t *testing.T) {
	p := gir.DefaultPlatform()
	k := gir.NewKernel("k", 8, p)
	vars := newVarTable(k)
	ar := newLRArena(3)

	mkLR := func(name string, id int) *LiveRange {
		d := k.NewDeclare(name, gir.RegFileGRF, gir.TypeUD, 8)
		vars.grow(k)
		lr := ar.alloc()
		lr.init(d, id, p)

		return lr
	}

	even := mkLR("even", 0)
	vars.SetEvenAlign(even.Dcl)
	hinted := mkLR("hinted", 1)
	hinted.SetAllocHint(5)
	blockedHint := mkLR("blocked", 2)
	blockedHint.SetAllocHint(0) // r0 is never allocatable

	ig := newInterference(3, 1<<20)
	ig.GenerateSparseIntf()
	tables := newForbiddenTables(p, 0)
	cs := &coloringState{file: gir.RegFileGRF, lrs: []*LiveRange{even, hinted, blockedHint}, ig: ig, tables: tables}
	for _, lr := range cs.lrs {
		tables.assignForbidden(lr, false)
	}
	cs.computeDegrees(vars)
	cs.determineColorOrdering(vars, p)
	cs.assignColors(vars, p)

	require.Empty(t, cs.spilled)
	require.Equal(t, 2, even.PhyReg().Num)
	require.Equal(t, 5, hinted.PhyReg().Num)
	require.Equal(t, 1, blockedHint.PhyReg().Num)
}
