package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vela-gpu/vela/internal/gir"
)

func TestForbiddenTables_Kinds(t *testing.T) {
	p := gir.DefaultPlatform()
	ft := newForbiddenTables(p, 0)

	tests := []struct {
		kind    forbiddenKind
		free    int
		blocked []int
		open    []int
	}{
		{forbiddenDefault, 127, []int{0}, []int{1, 64, 127}},
		{forbiddenEOT, 16, []int{0, 1, 111}, []int{112, 127}},
		{forbiddenLastGRF, 126, []int{0, 127}, []int{1, 126}},
		{forbiddenEOTLastGRF, 15, []int{0, 111, 127}, []int{112, 126}},
		{forbiddenCallerSave, 64, []int{0, 1, 63}, []int{64, 127}},
		{forbiddenCalleeSave, 63, []int{0, 64, 127}, []int{1, 63}},
		{forbiddenSpillTemp, 127, []int{0}, []int{1, 127}},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			s := ft.GRF(tc.kind)
			require.Equal(t, tc.free, ft.FreeRegs(tc.kind))
			for _, r := range tc.blocked {
				require.True(t, s.Test(r), "r%d should be blocked", r)
			}
			for _, r := range tc.open {
				require.False(t, s.Test(r), "r%d should be open", r)
			}
		})
	}
}

func TestForbiddenTables_FailSafeReserve(t *testing.T) {
	p := gir.DefaultPlatform()
	ft := newForbiddenTables(p, 2)

	require.Equal(t, 110, ft.reserveLo())

	def := ft.GRF(forbiddenDefault)
	require.True(t, def.Test(110))
	require.True(t, def.Test(111))
	require.False(t, def.Test(109))
	require.False(t, def.Test(112))
	require.Equal(t, 125, ft.FreeRegs(forbiddenDefault))

	// Spill temporaries may live inside the reserve.
	tmp := ft.GRF(forbiddenSpillTemp)
	require.False(t, tmp.Test(110))
	require.Equal(t, 127, ft.FreeRegs(forbiddenSpillTemp))
}

func TestForbiddenTables_SharedInstance(t *testing.T) {
	ft := newForbiddenTables(gir.DefaultPlatform(), 0)
	require.Same(t, ft.GRF(forbiddenEOT), ft.GRF(forbiddenEOT))
	require.Same(t, ft.Addr(), ft.Addr())
	require.Same(t, ft.Flag(), ft.Flag())
}

func TestAssignForbidden_PicksKindFromFlags(t *testing.T) {
	p := gir.DefaultPlatform()
	k := gir.NewKernel("k", 8, p)
	ft := newForbiddenTables(p, 2)
	ar := newLRArena(8)

	mk := func(name string, rf gir.RegFile, elems int) *LiveRange {
		d := k.NewDeclare(name, rf, gir.TypeUD, elems)
		lr := ar.alloc()
		lr.init(d, d.ID(), p)

		return lr
	}

	wide := mk("eot_wide", gir.RegFileGRF, 16) // two registers
	wide.MarkEOTSrc()
	ft.assignForbidden(wide, false)
	require.Equal(t, forbiddenEOTLastGRF, wide.ForbiddenKind())

	narrow := mk("eot_narrow", gir.RegFileGRF, 8)
	narrow.MarkEOTSrc()
	ft.assignForbidden(narrow, false)
	require.Equal(t, forbiddenEOT, narrow.ForbiddenKind())

	acrossCall := mk("live_across", gir.RegFileGRF, 8)
	acrossCall.SetCalleeSaveBias(true)
	ft.assignForbidden(acrossCall, false)
	require.Equal(t, forbiddenCallerSave, acrossCall.ForbiddenKind())

	clobber := mk("clobber", gir.RegFileGRF, 8)
	clobber.SetCallerSaveBias(true)
	ft.assignForbidden(clobber, false)
	require.Equal(t, forbiddenCalleeSave, clobber.ForbiddenKind())

	temp := mk("temp", gir.RegFileGRF, 8)
	ft.assignForbidden(temp, true)
	require.Equal(t, forbiddenSpillTemp, temp.ForbiddenKind())

	plain := mk("plain", gir.RegFileGRF, 8)
	ft.assignForbidden(plain, false)
	require.Equal(t, forbiddenDefault, plain.ForbiddenKind())

	addr := mk("addr", gir.RegFileAddress, 1)
	ft.assignForbidden(addr, false)
	require.Equal(t, forbiddenAddrFlag, addr.ForbiddenKind())
	require.Zero(t, addr.Forbidden().Count())

	// EOT payloads outrank partition bias.
	both := mk("eot_biased", gir.RegFileGRF, 8)
	both.MarkEOTSrc()
	both.SetCalleeSaveBias(true)
	ft.assignForbidden(both, false)
	require.Equal(t, forbiddenEOT, both.ForbiddenKind())
}
