// Package tickbuffer implements the client→server tick command buffer
// (spec.md §2 row 10, SPEC_FULL.md §4.9): a reliable-within-window
// ring of per-tick command payloads, re-offered on every flush until
// the window slides past them.
package tickbuffer

// TickID is a monotonically increasing, wrapping 16-bit simulation
// tick counter. As with action.ID, a TickID delta is signed, and here a
// negative delta is expected in normal use: a client's local tick can run ahead of or behind the
// value the server last observed, so comparisons must tolerate either
// sign rather than assuming forward-only motion (SPEC_FULL.md §4.9
// Open Question).
type TickID uint16

// Less reports whether a comes strictly before b in wrapping order.
func Less(a, b TickID) bool {
	return int16(a-b) < 0
}

// Delta returns the signed wrapping distance from base to id
// (id - base), used to delta-encode consecutive TickIDs on the wire.
func Delta(base, id TickID) int32 {
	return int32(int16(id - base))
}
