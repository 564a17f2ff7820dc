// Package reliable provides a reference implementation of the
// ReliableSender contract that WorldChannel and HostWorldWriter consume
// (spec.md §2, §6): resend-on-timeout delivery of tagged messages, keyed
// by a caller-supplied id. Production deployments are expected to plug
// in their own transport-integrated sender; this one exists so the
// module is exercisable — and testable — on its own.
package reliable

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/embervault/netreplica/pkg/action"
)

// pending tracks one in-flight message awaiting acknowledgment.
type pending[M any] struct {
	msg        M
	nextSendAt time.Time
	backoff    *backoff.ExponentialBackOff
}

// Sender is a reference ReliableSender[M]: it assigns ids, tracks
// pending messages, and resends them on an RTT*1.5 cadence (spec.md §6)
// until Deliver acknowledges them.
type Sender[M any] struct {
	mu      sync.Mutex
	nextID  action.ID
	pending map[action.ID]*pending[M]
	ready   []Envelope[M]
}

// Envelope pairs a message with the id it was sent under.
type Envelope[M any] struct {
	ID      action.ID
	Message M
}

// NewSender creates an empty Sender, assigning ids starting at 0.
func NewSender[M any]() *Sender[M] {
	return &Sender[M]{pending: make(map[action.ID]*pending[M])}
}

// Send assigns m a fresh ActionId, marks it pending, and queues it for
// the next TakeNext call. It never blocks.
func (s *Sender[M]) Send(m M) action.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.pending[id] = &pending[M]{msg: m}
	s.ready = append(s.ready, Envelope[M]{ID: id, Message: m})
	return id
}

// Collect scans pending messages and re-queues any whose resend timer
// has elapsed, using cenkalti/backoff's jittered exponential backoff
// seeded at rtt*1.5 and capped there (spec.md §6: "re-enqueued ... on
// its own schedule, RTT x 1.5") so repeated resends don't compound into
// runaway intervals.
func (s *Sender[M]) Collect(now time.Time, rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := time.Duration(float64(rtt) * 1.5)
	for id, p := range s.pending {
		if p.backoff == nil {
			p.backoff = newResendBackoff(interval)
			p.nextSendAt = now.Add(p.backoff.NextBackOff())
			continue
		}
		if now.Before(p.nextSendAt) {
			continue
		}
		s.ready = append(s.ready, Envelope[M]{ID: id, Message: p.msg})
		p.nextSendAt = now.Add(p.backoff.NextBackOff())
	}
}

func newResendBackoff(interval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = interval
	b.Multiplier = 1
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // never give up; the caller's TTL governs lifetime
	b.Reset()
	return b
}

// TakeNext drains and returns every envelope queued for send since the
// last call: freshly Send-ed messages and anything Collect re-armed.
func (s *Sender[M]) TakeNext() []Envelope[M] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.ready
	s.ready = nil
	return out
}

// Deliver acknowledges id, removing it from the pending set and
// returning its message. ok is false if id was already delivered or
// never sent (an ack can legitimately arrive twice over a lossy
// transport whose acks themselves get retransmitted).
func (s *Sender[M]) Deliver(id action.ID) (m M, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, found := s.pending[id]
	if !found {
		return m, false
	}
	delete(s.pending, id)
	return p.msg, true
}

// Pending reports how many messages are currently awaiting acknowledgment.
func (s *Sender[M]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// OldestPending returns the lowest (wrapping order) id still awaiting
// acknowledgment. ok is false when nothing is pending, in which case
// every id ever assigned has been delivered and is safe to prune.
// Callers use this as the threshold for Channel.PruneDelivered: an id
// below the oldest still-pending id can never be legitimately
// redelivered again, since ids are assigned once and never reused.
func (s *Sender[M]) OldestPending() (id action.ID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first := true
	for candidate := range s.pending {
		if first || action.Less(candidate, id) {
			id = candidate
			first = false
		}
	}
	return id, !first
}

// NextID returns the id that will be assigned to the next Send call.
func (s *Sender[M]) NextID() action.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}
