// Package action implements the wire-level EntityAction tagged union
// (spec.md §3/§6): the structural changes — spawn, despawn, insert,
// remove, and the retiring no-op — that must be delivered reliably, tagged
// with a monotonic, wrapping 16-bit ActionId.
package action

// ID is a monotonically increasing, wrapping 16-bit action identifier,
// unique per connection (spec.md §3).
type ID uint16

// Less reports whether a comes strictly before b in wrapping sequence
// order, matching the "id < last_canonical_id" comparisons spec.md §4.5
// requires to behave correctly across the 16-bit wraparound boundary.
func Less(a, b ID) bool {
	return int16(a-b) < 0
}

// LessOrEqual reports whether a comes at or before b in wrapping order.
func LessOrEqual(a, b ID) bool {
	return a == b || Less(a, b)
}

// Delta returns the signed wrapping distance from base to id (id - base),
// used to delta-encode consecutive ActionIds on the wire. The delta is
// zigzag-encoded because ids within one packet need not increase: a
// packet can carry a carried-over backlog, fresh sends, and resends that
// reliable.Sender.Collect re-queued in map iteration order, back to back.
func Delta(base, id ID) int32 {
	return int32(int16(id - base))
}
