package unsettled

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapPutGetDelete(t *testing.T) {
	m := New[string]()
	require.Zero(t, m.Len())

	m.Put(1, "a")
	m.Put(2, "b")
	m.Put(3, "c")
	require.Equal(t, 3, m.Len())

	v, ok := m.Get(2)
	require.True(t, ok)
	require.Equal(t, "b", v)

	m.Delete(2)
	require.Equal(t, 2, m.Len())
	_, ok = m.Get(2)
	require.False(t, ok)

	require.Equal(t, []uint32{1, 3}, m.Keys())
}

func TestMapMinMax(t *testing.T) {
	m := New[int]()
	_, ok := m.Min()
	require.False(t, ok)
	_, ok = m.Max()
	require.False(t, ok)

	m.Put(5, 50)
	m.Put(2, 20)
	m.Put(9, 90)

	min, ok := m.Min()
	require.True(t, ok)
	require.EqualValues(t, 2, min)

	max, ok := m.Max()
	require.True(t, ok)
	require.EqualValues(t, 9, max)
}

func TestMapRangeInclusive(t *testing.T) {
	m := New[int]()
	for i := uint32(0); i < 10; i++ {
		m.Put(i, int(i)*10)
	}

	var got []uint32
	m.RangeInclusive(3, 6, func(key uint32, value int) bool {
		require.Equal(t, int(key)*10, value)
		got = append(got, key)
		return true
	})
	require.Equal(t, []uint32{3, 4, 5, 6}, got)
}

func TestMapRangeInclusiveStopsEarly(t *testing.T) {
	m := New[int]()
	for i := uint32(0); i < 10; i++ {
		m.Put(i, 0)
	}

	var got []uint32
	m.RangeInclusive(0, 9, func(key uint32, value int) bool {
		got = append(got, key)
		return key < 3
	})
	require.Equal(t, []uint32{0, 1, 2, 3}, got)
}

func TestMapUpToInclusive(t *testing.T) {
	m := New[int]()
	m.Put(1, 0)
	m.Put(2, 0)
	m.Put(3, 0)
	m.Put(5, 0)

	require.Equal(t, []uint32{1, 2, 3}, m.UpToInclusive(4))
	require.Equal(t, []uint32{1, 2, 3, 5}, m.UpToInclusive(5))
	require.Empty(t, m.UpToInclusive(0))
}
