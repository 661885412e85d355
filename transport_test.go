package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsumerTagRoundTrip(t *testing.T) {
	for _, h := range []uint32{0, 1, 3, 0xFFFFFFFF, 0x000000FF} {
		tag := encodeConsumerTag(h)
		require.Len(t, tag, len(consumerTagPrefix)+4)

		got, err := decodeConsumerTag(tag)
		require.NoError(t, err)
		require.Equal(t, h, got)
	}
}

func TestConsumerTagFixedExample(t *testing.T) {
	// scenario 2 from spec.md §8: handle=3 -> "ctag-\x00\x00\x00\x03"
	require.Equal(t, "ctag-\x00\x00\x00\x03", encodeConsumerTag(3))
}

func TestDecodeConsumerTagRejectsMalformed(t *testing.T) {
	_, err := decodeConsumerTag("not-a-tag")
	require.Error(t, err)

	_, err = decodeConsumerTag("ctag-short")
	require.Error(t, err)
}
