package bitset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitSet_SetTestClear(t *testing.T) {
	b := New(130)

	ids := []int{0, 1, 63, 64, 65, 127, 128, 129}
	for _, id := range ids {
		b.Set(id)
	}

	for _, id := range ids {
		require.True(t, b.Test(id), "id %d should be set", id)
	}

	require.False(t, b.Test(2))
	require.False(t, b.Test(62))
	// Out-of-range probes report absent instead of panicking.
	require.False(t, b.Test(500))
	require.False(t, b.Test(-1))

	b.Clear(64)
	require.False(t, b.Test(64))
	require.True(t, b.Test(63))
	require.True(t, b.Test(65))

	require.Equal(t, len(ids)-1, b.Count())
}

func TestBitSet_OrReportsChange(t *testing.T) {
	a := New(100)
	b := New(100)

	b.Set(3)
	b.Set(70)

	require.True(t, a.Or(b), "first union should change the set")
	require.False(t, a.Or(b), "second union should be a no-op")
	require.True(t, a.Test(3))
	require.True(t, a.Test(70))
}

func TestBitSet_AndNot(t *testing.T) {
	a := New(64)
	kill := New(64)

	a.SetRange(0, 10)
	kill.Set(4)
	kill.Set(9)

	a.AndNot(kill)

	require.False(t, a.Test(4))
	require.False(t, a.Test(9))
	require.Equal(t, 8, a.Count())
}

func TestBitSet_SetAllRespectsCapacity(t *testing.T) {
	b := New(70)
	b.SetAll()

	require.Equal(t, 70, b.Count())
	require.False(t, b.Test(70))
}

func TestBitSet_ForEachAscending(t *testing.T) {
	b := New(200)
	want := []int{5, 64, 66, 190}

	for _, id := range want {
		b.Set(id)
	}

	var got []int

	b.ForEach(func(id int) { got = append(got, id) })
	require.Equal(t, want, got)
}

func TestBitSet_NextSet(t *testing.T) {
	b := New(128)
	b.Set(10)
	b.Set(100)

	require.Equal(t, 10, b.NextSet(0))
	require.Equal(t, 10, b.NextSet(10))
	require.Equal(t, 100, b.NextSet(11))
	require.Equal(t, -1, b.NextSet(101))
}

func TestBitSet_CloneEqual(t *testing.T) {
	a := New(90)
	a.Set(1)
	a.Set(89)

	c := a.Clone()
	require.True(t, a.Equal(c))

	c.Set(40)
	require.False(t, a.Equal(c))
}

func TestSparse_Basics(t *testing.T) {
	s := NewSparse()

	require.True(t, s.IsEmpty())

	s.Set(7)
	s.Set(100000)

	require.True(t, s.Test(7))
	require.True(t, s.Test(100000))
	require.False(t, s.Test(8))
	require.Equal(t, 2, s.Count())

	s.Clear(7)
	require.False(t, s.Test(7))
	require.Equal(t, 1, s.Count())

	s.Clear(100000)
	require.True(t, s.IsEmpty())
}

func TestSparse_ForEachVisitsAll(t *testing.T) {
	s := NewSparse()
	want := map[int]bool{3: true, 64: true, 4097: true}

	for id := range want {
		s.Set(id)
	}

	got := map[int]bool{}

	s.ForEach(func(id int) { got[id] = true })
	require.Equal(t, want, got)
}
