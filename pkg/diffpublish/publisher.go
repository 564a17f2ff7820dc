// Package diffpublish implements the global diff publisher (SPEC_FULL
// §4.10): the fan-out point between ECS mutation signals and the
// per-connection UserDiffHandlers (spec.md §5's "per-component global
// diff handler... fans them out to per-connection UserDiffHandlers").
// Two implementations ship: Local, for a single-process server, and
// NATS, for a topology where ECS mutation and per-connection writers
// run in separate processes.
package diffpublish

import (
	"sync"

	"github.com/google/uuid"

	"github.com/embervault/netreplica/pkg/diffmask"
)

// DirtyFunc is invoked with the dirty bit a Publish call fanned out to
// one subscriber. Callers typically bind this to a specific
// connection's diffmask.Handler.MarkDirty.
type DirtyFunc[E comparable, K comparable] func(e E, k K, bit int)

// Publisher is the contract both implementations satisfy.
type Publisher[E comparable, K comparable] interface {
	// Subscribe registers fn to receive every future Publish(e, k, _)
	// call, until the returned func is called.
	Subscribe(conn uuid.UUID, e E, k K, fn DirtyFunc[E, K]) (unsubscribe func())
	// Publish fans bit out to every current subscriber of (e, k).
	Publish(e E, k K, bit int)
}

type subscriber[E comparable, K comparable] struct {
	conn uuid.UUID
	fn   DirtyFunc[E, K]
}

// Local is an in-process Publisher: a map keyed by (E, K) to the
// connections currently interested in it, guarded by one mutex shared by
// every key; the lock is not per key.
type Local[E comparable, K comparable] struct {
	mu   sync.Mutex
	subs map[diffmask.Key[E, K]][]subscriber[E, K]
}

// NewLocal creates an empty Local publisher.
func NewLocal[E comparable, K comparable]() *Local[E, K] {
	return &Local[E, K]{subs: make(map[diffmask.Key[E, K]][]subscriber[E, K])}
}

// Subscribe registers fn for (e, k).
func (l *Local[E, K]) Subscribe(conn uuid.UUID, e E, k K, fn DirtyFunc[E, K]) func() {
	key := diffmask.Key[E, K]{Entity: e, Component: k}
	l.mu.Lock()
	l.subs[key] = append(l.subs[key], subscriber[E, K]{conn: conn, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		subs := l.subs[key]
		out := subs[:0]
		for _, s := range subs {
			if s.conn != conn {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			delete(l.subs, key)
			return
		}
		l.subs[key] = out
	}
}

// Publish fans bit out to every subscriber of (e, k) synchronously.
// Subscribers must not block — this runs on the ECS mutation's calling
// goroutine, never across an I/O boundary (spec.md §5).
func (l *Local[E, K]) Publish(e E, k K, bit int) {
	key := diffmask.Key[E, K]{Entity: e, Component: k}
	l.mu.Lock()
	subs := append([]subscriber[E, K](nil), l.subs[key]...)
	l.mu.Unlock()

	for _, s := range subs {
		s.fn(e, k, bit)
	}
}
