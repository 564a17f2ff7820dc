package worldchannel

import (
	"github.com/samber/lo"

	"github.com/embervault/netreplica/pkg/action"
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/ecs"
)

// ApplyDelivered feeds a confirmed (acked) wire action into the
// reconciliation state machine (spec.md §4.3). Callers — normally
// pkg/packetnotify, on notify_packet_delivered — must only invoke this
// once the reliable sender has actually retired id; ApplyDelivered adds
// a second idempotence guard of its own (a "delivered-action set keyed
// on ActionId", spec.md §4.3) so a duplicate call is always a no-op
// (spec.md I5/R2).
func (c *Channel) ApplyDelivered(id action.ID, wire action.Action) {
	if _, dup := c.delivered[id]; dup {
		return
	}
	c.delivered[id] = struct{}{}

	switch wire.Type {
	case action.Noop:
		return
	case action.SpawnEntity:
		c.applyDeliveredSpawn(wire)
	case action.DespawnEntity:
		c.applyDeliveredDespawn(wire)
	case action.InsertComponent:
		c.applyDeliveredInsert(wire)
	case action.RemoveComponent:
		c.applyDeliveredRemove(wire)
	}
}

func (c *Channel) applyDeliveredSpawn(wire action.Action) {
	e, err := c.table.NetToEntity(wire.Entity)
	if err != nil {
		return // stale ack for an already-recycled NetEntity; nothing to do
	}
	ec, ok := c.entities[e]
	if !ok || ec.state != Spawning {
		return
	}

	comps := make(map[component.Kind]struct{}, len(wire.Components))
	for _, cv := range wire.Components {
		comps[cv.Kind] = struct{}{}
	}
	c.remoteWorld[e] = comps

	host, stillWanted := c.hostWorld[e]
	if !stillWanted {
		ec.state = Despawning
		c.enqueue(action.DespawnEntity, e, 0)
		return
	}

	ec.state = Spawned

	hostKeys := lo.Keys(host)
	compsKeys := lo.Keys(comps)

	// wanted by the host but absent from the spawn payload: enqueue an
	// insert to bring the remote side up to date.
	for _, k := range lo.Without(hostKeys, compsKeys...) {
		ec.components[k] = &componentChannel{state: Inserting}
		c.enqueue(action.InsertComponent, e, k)
	}
	// present in the spawn payload but no longer wanted by the host:
	// enqueue a remove.
	for _, k := range lo.Without(compsKeys, hostKeys...) {
		ec.components[k] = &componentChannel{state: Removing}
		c.enqueue(action.RemoveComponent, e, k)
	}
	// batched into spawn (spec.md §4.3): the component arrived bundled
	// with the entity itself, so it's already Inserted on the remote
	// side — register it for diffing without ever enqueueing a wire
	// InsertComponent for it.
	for _, k := range lo.Intersect(hostKeys, compsKeys) {
		ec.components[k] = &componentChannel{state: Inserted}
		c.diff.Register(e, k)
	}
}

func (c *Channel) applyDeliveredDespawn(wire action.Action) {
	e, err := c.table.NetToEntity(wire.Entity)
	if err != nil {
		return
	}
	delete(c.remoteWorld, e)

	ec, ok := c.entities[e]
	if !ok || ec.state != Despawning {
		return
	}

	if _, stillWanted := c.hostWorld[e]; stillWanted {
		ec.state = Spawning
		ec.components = make(map[component.Kind]*componentChannel)
		c.enqueue(action.SpawnEntity, e, 0)
		return
	}

	delete(c.entities, e)
	_ = c.table.Recycle(wire.Entity) // on_entity_channel_closed: safe to recycle now
}

func (c *Channel) applyDeliveredInsert(wire action.Action) {
	e, err := c.table.NetToEntity(wire.Entity)
	if err != nil {
		return
	}
	k := wire.Component.Kind
	rw, ok := c.remoteWorld[e]
	if !ok {
		rw = make(map[component.Kind]struct{})
		c.remoteWorld[e] = rw
	}
	rw[k] = struct{}{}

	ec, ok := c.entities[e]
	if !ok {
		return
	}
	cc, open := ec.components[k]
	if !open || cc.state != Inserting {
		return
	}

	if _, stillHas := c.hostWorld[e][k]; stillHas {
		cc.state = Inserted
		c.diff.Register(e, k)
		return
	}
	cc.state = Removing
	c.enqueue(action.RemoveComponent, e, k)
}

func (c *Channel) applyDeliveredRemove(wire action.Action) {
	e, err := c.table.NetToEntity(wire.Entity)
	if err != nil {
		return
	}
	k := wire.Component.Kind
	if rw, ok := c.remoteWorld[e]; ok {
		delete(rw, k)
	}

	ec, ok := c.entities[e]
	if !ok {
		return
	}
	cc, open := ec.components[k]
	if !open || cc.state != Removing {
		return
	}

	if _, stillWants := c.hostWorld[e][k]; stillWants {
		cc.state = Inserting
		c.enqueue(action.InsertComponent, e, k)
		return
	}
	delete(ec.components, k)
}

// Resolve translates a pending Event into the wire-level action.Action
// HostWorldWriter should pack for it, re-checking liveness against the
// *current* host world and channel state (spec.md §4.4): a resend can
// legitimately observe different state than the original enqueue did.
// A stale event — one whose structural change no longer applies —
// resolves to a Noop, which the caller must still record under the same
// ActionId so the reliable sender can retire it.
func (c *Channel) Resolve(ev Event, world ecs.World) action.Action {
	netID, err := c.table.EntityToNet(ev.Entity)
	if err != nil {
		return action.Action{Type: action.Noop}
	}
	ec, ok := c.entities[ev.Entity]

	switch ev.Type {
	case action.SpawnEntity:
		if !ok || ec.state != Spawning {
			return action.Action{Type: action.Noop}
		}
		host := c.hostWorld[ev.Entity]
		comps := make([]action.ComponentValue, 0, len(host))
		for k := range host {
			if v, has := world.Component(ev.Entity, k); has {
				comps = append(comps, action.ComponentValue{Kind: k, Value: v})
			}
		}
		return action.Spawn(netID, comps)

	case action.DespawnEntity:
		if !ok || ec.state != Despawning {
			return action.Action{Type: action.Noop}
		}
		return action.Despawn(netID)

	case action.InsertComponent:
		if !ok || ec.state != Spawned {
			return action.Action{Type: action.Noop}
		}
		if _, stillHas := c.hostWorld[ev.Entity][ev.Component]; !stillHas {
			return action.Action{Type: action.Noop}
		}
		cc, open := ec.components[ev.Component]
		if !open || cc.state != Inserting {
			return action.Action{Type: action.Noop}
		}
		v, has := world.Component(ev.Entity, ev.Component)
		if !has {
			return action.Action{Type: action.Noop}
		}
		return action.Insert(netID, ev.Component, v)

	case action.RemoveComponent:
		if !ok || ec.state != Spawned {
			return action.Action{Type: action.Noop}
		}
		cc, open := ec.components[ev.Component]
		if !open || cc.state != Removing {
			return action.Action{Type: action.Noop}
		}
		return action.Remove(netID, ev.Component)

	default:
		return action.Action{Type: action.Noop}
	}
}
