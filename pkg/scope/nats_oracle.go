package scope

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/embervault/netreplica/pkg/ecs"
)

// scopeChangeMessage is the wire shape of an edge-triggered membership
// event published by an external membership service.
type scopeChangeMessage struct {
	UserID   string     `json:"user_id"`
	Entity   ecs.Entity `json:"entity"`
	InScope  bool       `json:"in_scope"`
}

// NATSOracle maintains an in-memory verdict cache fed by edge-triggered
// scope-change events from an external membership service, rather than
// answering InScope with a blocking network round trip per call
// (SPEC_FULL §4.11). Feeder.Tick polls this cache like any other
// Oracle.
type NATSOracle struct {
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]map[ecs.Entity]bool // userID -> entity -> in-scope
}

// NewNATSOracle subscribes to subject on nc and starts building the
// verdict cache. The subscription is never torn down by this type;
// callers that need lifecycle control should keep the returned
// *nats.Subscription and Unsubscribe it themselves via nc.
func NewNATSOracle(nc *nats.Conn, subject string, logger *zap.Logger) (*NATSOracle, *nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &NATSOracle{logger: logger, cache: make(map[string]map[ecs.Entity]bool)}

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var change scopeChangeMessage
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			o.logger.Warn("scope: malformed scope-change message", zap.Error(err))
			return
		}
		o.apply(change)
	})
	if err != nil {
		return nil, nil, err
	}
	return o, sub, nil
}

func (o *NATSOracle) apply(change scopeChangeMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	byEntity, ok := o.cache[change.UserID]
	if !ok {
		byEntity = make(map[ecs.Entity]bool)
		o.cache[change.UserID] = byEntity
	}
	if change.InScope {
		byEntity[change.Entity] = true
	} else {
		delete(byEntity, change.Entity)
	}
}

// InScope reports the cached verdict, defaulting to false until the
// first scope-change event for (userID, e) has arrived.
func (o *NATSOracle) InScope(userID string, e ecs.Entity) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cache[userID][e]
}
