package frames

// Serial numbers (transfer-id, delivery-count) are modulo-2^32 counters.
// Comparisons must use RFC 1982 ordering so that a counter wrapping past
// math.MaxUint32 still compares correctly against values close to zero.
// See https://www.rfc-editor.org/rfc/rfc1982 §3.2.

// SerialLess reports whether a is strictly before b in RFC 1982 serial order.
func SerialLess(a, b uint32) bool {
	return a != b && (b-a) < (1<<31)
}

// SerialLessOrEqual reports whether a is before or equal to b.
func SerialLessOrEqual(a, b uint32) bool {
	return a == b || SerialLess(a, b)
}

// SerialAdd adds delta to a serial number, wrapping at 2^32.
func SerialAdd(a uint32, delta uint32) uint32 {
	return a + delta
}
