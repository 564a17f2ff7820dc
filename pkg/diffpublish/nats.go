package diffpublish

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// stringable is what NATS needs to name a subject from (E, K): the
// entity and component kind must each render to a stable, routable
// token (ecs.Entity and component.Kind both already implement this).
type stringable interface{ String() string }

// NATS publishes dirty-bit signals as NATS messages, for a topology
// where ECS mutation and per-connection writers live in separate
// processes (SPEC_FULL §4.10). Subjects follow "diff.<kind>.<entity>".
// Each Subscribe call joins a queue group named after the connection:
// since every connection's group has exactly one member, this behaves
// like a plain subscription per connection while still fanning a
// published bit out to every distinct connection interested in it.
type NATS[E comparable, K comparable] struct {
	nc     *nats.Conn
	logger *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]*nats.Subscription
}

// NewNATS wraps an already-connected *nats.Conn.
func NewNATS[E comparable, K comparable](nc *nats.Conn, logger *zap.Logger) *NATS[E, K] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS[E, K]{nc: nc, logger: logger, subs: make(map[uuid.UUID]*nats.Subscription)}
}

func subject(k stringable, e stringable) string {
	return fmt.Sprintf("diff.%s.%s", k.String(), e.String())
}

// Subscribe joins conn's queue group on (e, k)'s subject. e and k must
// satisfy stringable (ecs.Entity and component.Kind both do).
func (n *NATS[E, K]) Subscribe(conn uuid.UUID, e E, k K, fn DirtyFunc[E, K]) func() {
	subj := subject(any(k).(stringable), any(e).(stringable))
	sub, err := n.nc.QueueSubscribe(subj, conn.String(), func(msg *nats.Msg) {
		if len(msg.Data) != 1 {
			n.logger.Warn("diffpublish: malformed dirty-bit message", zap.String("subject", subj))
			return
		}
		fn(e, k, int(msg.Data[0]))
	})
	if err != nil {
		n.logger.Error("diffpublish: subscribe failed", zap.String("subject", subj), zap.Error(err))
		return func() {}
	}

	n.mu.Lock()
	n.subs[conn] = sub
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, conn)
		n.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn("diffpublish: unsubscribe failed", zap.String("subject", subj), zap.Error(err))
		}
	}
}

// Publish sends bit as a single-byte NATS message on (e, k)'s subject.
func (n *NATS[E, K]) Publish(e E, k K, bit int) {
	if bit < 0 || bit > 255 {
		n.logger.Error("diffpublish: bit out of range for single-byte wire form", zap.Int("bit", bit))
		return
	}
	subj := subject(any(k).(stringable), any(e).(stringable))
	if err := n.nc.Publish(subj, []byte{byte(bit)}); err != nil {
		n.logger.Error("diffpublish: publish failed", zap.String("subject", subj), zap.Error(err))
	}
}
