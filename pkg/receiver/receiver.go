// Package receiver implements EntityActionReceiver (spec.md §4.5): the
// client-side state machine that restores causal order over a
// ReliableSender delivery that can arrive with gaps and limited
// reordering, and forwards only causally-consistent transitions to the
// local application/ECS.
package receiver

import (
	"github.com/embervault/netreplica/pkg/action"
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/entitytable"
)

// Sink receives causally-ordered, confirmed entity/component
// transitions. Implementations typically apply these directly to a
// client-side ECS World.
type Sink interface {
	EntitySpawned(e entitytable.NetEntity, comps []action.ComponentValue)
	EntityDespawned(e entitytable.NetEntity)
	ComponentInserted(e entitytable.NetEntity, k component.Kind, value any)
	ComponentRemoved(e entitytable.NetEntity, k component.Kind)
}

type pendingAction struct {
	id     action.ID
	action action.Action
}

type componentChannelRx struct {
	inserted bool
	hasLast  bool
	lastID   action.ID

	waitingInsert *pendingAction
	waitingRemove *pendingAction
}

type entityState struct {
	spawned bool
	hasLast bool
	lastID  action.ID

	waitingSpawn   *pendingAction
	waitingDespawn *pendingAction

	components map[component.Kind]*componentChannelRx
}

func newEntityState() *entityState {
	return &entityState{components: make(map[component.Kind]*componentChannelRx)}
}

// Receiver is one connection's EntityActionReceiver.
type Receiver struct {
	sink     Sink
	entities map[entitytable.NetEntity]*entityState
}

// New creates a Receiver that forwards confirmed transitions to sink.
func New(sink Sink) *Receiver {
	return &Receiver{sink: sink, entities: make(map[entitytable.NetEntity]*entityState)}
}

func (r *Receiver) entity(e entitytable.NetEntity) *entityState {
	st, ok := r.entities[e]
	if !ok {
		st = newEntityState()
		r.entities[e] = st
	}
	return st
}

// Receive processes one decoded (ActionId, Action) pair, applying
// spec.md §4.5's causal-ordering rules and forwarding any resulting
// transition to the Sink. Out-of-order, duplicate, and stale actions are
// silently absorbed — this is normal operation over a lossy, reordering
// transport, not an error.
func (r *Receiver) Receive(id action.ID, a action.Action) {
	switch a.Type {
	case action.Noop:
		return // sent only to retire an ActionId; nothing to apply
	case action.SpawnEntity:
		r.applySpawn(r.entity(a.Entity), a.Entity, id, a)
	case action.DespawnEntity:
		r.applyDespawn(r.entity(a.Entity), a.Entity, id, a)
	case action.InsertComponent:
		r.applyInsert(r.entity(a.Entity), a.Entity, id, a)
	case action.RemoveComponent:
		r.applyRemove(r.entity(a.Entity), a.Entity, id, a)
	}
}

// Forget drops all receiver-side state for e, for use once an entity's
// channel has fully closed and its NetEntity may be recycled.
func (r *Receiver) Forget(e entitytable.NetEntity) {
	delete(r.entities, e)
}

func (r *Receiver) applySpawn(st *entityState, e entitytable.NetEntity, id action.ID, a action.Action) {
	if st.hasLast && action.Less(id, st.lastID) {
		return
	}
	if st.spawned {
		st.waitingSpawn = &pendingAction{id: id, action: a}
		return
	}

	st.spawned = true
	st.lastID = id
	st.hasLast = true
	r.sink.EntitySpawned(e, a.Components)

	if st.waitingSpawn != nil && action.LessOrEqual(st.waitingSpawn.id, id) {
		st.waitingSpawn = nil
	}
	if st.waitingDespawn != nil && action.LessOrEqual(st.waitingDespawn.id, id) {
		st.waitingDespawn = nil
	}

	if buffered := st.waitingDespawn; buffered != nil {
		st.waitingDespawn = nil
		r.applyDespawn(st, e, buffered.id, buffered.action)
	}
}

func (r *Receiver) applyDespawn(st *entityState, e entitytable.NetEntity, id action.ID, a action.Action) {
	if st.hasLast && action.Less(id, st.lastID) {
		return
	}
	if !st.spawned {
		st.waitingDespawn = &pendingAction{id: id, action: a}
		return
	}

	st.spawned = false
	st.lastID = id
	st.hasLast = true
	r.sink.EntityDespawned(e)
	for _, cc := range st.components {
		cc.inserted = false
	}

	if buffered := st.waitingSpawn; buffered != nil {
		st.waitingSpawn = nil
		r.applySpawn(st, e, buffered.id, buffered.action)
	}
}

func (st *entityState) componentChannel(k component.Kind) *componentChannelRx {
	cc, ok := st.components[k]
	if !ok {
		cc = &componentChannelRx{}
		st.components[k] = cc
	}
	return cc
}

func (r *Receiver) applyInsert(st *entityState, e entitytable.NetEntity, id action.ID, a action.Action) {
	k := a.Component.Kind
	cc := st.componentChannel(k)
	if cc.hasLast && action.Less(id, cc.lastID) {
		return
	}
	if cc.inserted {
		cc.waitingInsert = &pendingAction{id: id, action: a}
		return
	}

	cc.inserted = true
	cc.lastID = id
	cc.hasLast = true
	r.sink.ComponentInserted(e, k, a.Component.Value)

	if buffered := cc.waitingRemove; buffered != nil {
		cc.waitingRemove = nil
		r.applyRemove(st, e, buffered.id, buffered.action)
	}
}

func (r *Receiver) applyRemove(st *entityState, e entitytable.NetEntity, id action.ID, a action.Action) {
	k := a.Component.Kind
	cc := st.componentChannel(k)
	if cc.hasLast && action.Less(id, cc.lastID) {
		return
	}
	if !cc.inserted {
		cc.waitingRemove = &pendingAction{id: id, action: a}
		return
	}

	cc.inserted = false
	cc.lastID = id
	cc.hasLast = true
	r.sink.ComponentRemoved(e, k)

	if buffered := cc.waitingInsert; buffered != nil {
		cc.waitingInsert = nil
		r.applyInsert(st, e, buffered.id, buffered.action)
	}
}
