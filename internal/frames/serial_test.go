package frames

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerialLess(t *testing.T) {
	require.True(t, SerialLess(1, 2))
	require.False(t, SerialLess(2, 1))
	require.False(t, SerialLess(1, 1))

	// wraparound: a value just past the max precedes a value near zero.
	require.True(t, SerialLess(math.MaxUint32, 0))
	require.True(t, SerialLess(math.MaxUint32-1, math.MaxUint32))
	require.False(t, SerialLess(0, math.MaxUint32))
}

func TestSerialLessOrEqual(t *testing.T) {
	require.True(t, SerialLessOrEqual(5, 5))
	require.True(t, SerialLessOrEqual(5, 6))
	require.False(t, SerialLessOrEqual(6, 5))
}

func TestSerialAddWraps(t *testing.T) {
	require.EqualValues(t, 0, SerialAdd(math.MaxUint32, 1))
	require.EqualValues(t, 5, SerialAdd(math.MaxUint32, 6))
	require.EqualValues(t, 11, SerialAdd(10, 1))
}
