package reliable

// LossyLink simulates an unreliable, unordered datagram transport for
// tests: Send may drop or reorder a packet according to a caller-supplied
// plan, so worldchannel/hostwriter tests can exercise spec.md §8's
// "lost update packet" and "reordered insert/remove" scenarios without a
// real socket.
type LossyLink struct {
	drop    map[int]bool // packet index -> dropped
	sent    int
	delivered [][]byte
}

// NewLossyLink creates a link that drops the packets at the given
// zero-based send indices and delivers everything else in send order.
func NewLossyLink(dropIndices ...int) *LossyLink {
	drop := make(map[int]bool, len(dropIndices))
	for _, i := range dropIndices {
		drop[i] = true
	}
	return &LossyLink{drop: drop}
}

// Send offers packet for delivery. It returns the zero-based index this
// send was assigned, so a test can later assert on delivery/drop.
func (l *LossyLink) Send(packet []byte) int {
	idx := l.sent
	l.sent++
	if l.drop[idx] {
		return idx
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	l.delivered = append(l.delivered, cp)
	return idx
}

// Delivered returns every packet that made it across, in delivery order.
func (l *LossyLink) Delivered() [][]byte { return l.delivered }

// Reorder swaps the delivery order of the two most recently delivered
// packets, simulating out-of-order arrival.
func (l *LossyLink) Reorder() {
	n := len(l.delivered)
	if n < 2 {
		return
	}
	l.delivered[n-1], l.delivered[n-2] = l.delivered[n-2], l.delivered[n-1]
}
