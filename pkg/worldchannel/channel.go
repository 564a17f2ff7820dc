// Package worldchannel implements the WorldChannel reconciliation state
// machine (spec.md §4.3): the per-connection, per-entity/per-component
// machinery that keeps a client's remote world converging on the
// server's host world across an unreliable transport.
package worldchannel

import (
	"fmt"

	"github.com/embervault/netreplica/pkg/action"
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/diffmask"
	"github.com/embervault/netreplica/pkg/ecs"
	"github.com/embervault/netreplica/pkg/entitytable"
	"github.com/embervault/netreplica/pkg/owner"
	"github.com/embervault/netreplica/pkg/reliable"
)

// Event is a host-side pending structural change: an entry in the
// outgoing action queue before HostWorldWriter resolves it against
// current world state and translates it to a wire-level action.Action
// (spec.md §4.3/§4.4).
type Event struct {
	Type      action.Type
	Entity    ecs.Entity
	Component component.Kind // meaningful for InsertComponent/RemoveComponent only
}

func componentBitWidth(reg *component.Registry) func(component.Kind) int {
	return reg.BitWidth
}

// Channel is one connection's WorldChannel. It owns no reference to the
// ECS world — every operation that needs one receives it as a
// parameter (spec.md §9) — and assumes single-threaded, cooperative use
// per connection (spec.md §5): it performs no internal locking.
type Channel struct {
	table *entitytable.Table
	diff  *diffmask.Handler[ecs.Entity, component.Kind]
	sender *reliable.Sender[Event]

	hostWorld   map[ecs.Entity]map[component.Kind]struct{}
	remoteWorld map[ecs.Entity]map[component.Kind]struct{}
	entities    map[ecs.Entity]*entityChannel

	delivered map[action.ID]struct{}

	owner owner.Owner
}

// New creates an empty Channel. maxNetEntity bounds the connection's
// NetEntity id space (spec.md §3 treats it as 16-bit; pass 65535 for
// the full range). reg supplies each component kind's DiffMask bit
// width to the internal UserDiffHandler.
func New(maxNetEntity uint16, reg *component.Registry) (*Channel, error) {
	table, err := entitytable.New(maxNetEntity)
	if err != nil {
		return nil, fmt.Errorf("worldchannel: new: %w", err)
	}
	return &Channel{
		table:       table,
		diff:        diffmask.NewHandler[ecs.Entity, component.Kind](componentBitWidth(reg)),
		sender:      reliable.NewSender[Event](),
		hostWorld:   make(map[ecs.Entity]map[component.Kind]struct{}),
		remoteWorld: make(map[ecs.Entity]map[component.Kind]struct{}),
		entities:    make(map[ecs.Entity]*entityChannel),
		delivered:   make(map[action.ID]struct{}),
		owner:       owner.Owner{Kind: owner.Host},
	}, nil
}

// SetOwner records who authors this channel's entity (the "pawn" from
// the scope feeder's perspective). It is purely informational here —
// the suppression rule itself lives in pkg/scope — but the consolidated
// WorldChannel carries the field per spec.md §9's redesign note.
func (c *Channel) SetOwner(o owner.Owner) { c.owner = o }

// Owner returns the owner previously set via SetOwner.
func (c *Channel) Owner() owner.Owner { return c.owner }

// DiffHandler exposes the per-connection UserDiffHandler, consumed by
// HostWorldWriter when packing the update section and by PacketNotifier
// when re-accumulating dropped bits.
func (c *Channel) DiffHandler() *diffmask.Handler[ecs.Entity, component.Kind] { return c.diff }

// EntityTable exposes the LocalEntityTable, consumed by HostWorldWriter
// to translate WorldEntity to NetEntity at serialization time.
func (c *Channel) EntityTable() *entitytable.Table { return c.table }

// Sender exposes the reference ReliableSender backing this channel's
// outgoing action queue, consumed by the hub's per-tick scheduling.
func (c *Channel) Sender() *reliable.Sender[Event] { return c.sender }

func (c *Channel) enqueue(t action.Type, e ecs.Entity, k component.Kind) action.ID {
	return c.sender.Send(Event{Type: t, Entity: e, Component: k})
}

// HostSpawnEntity records that the host wants e visible to this
// connection. It is idempotent: calling it while e is already in the
// host world is a silent no-op, and calling it while an entity channel
// is already mid-flight (Spawning or Despawning) defers to that
// channel's eventual delivered-action transition rather than enqueueing
// a second structural action (spec.md scenario 6: "writer must not
// enqueue more than one in-flight structural action per entity").
func (c *Channel) HostSpawnEntity(e ecs.Entity) error {
	if _, already := c.hostWorld[e]; already {
		return nil
	}
	c.hostWorld[e] = make(map[component.Kind]struct{})

	if _, midFlight := c.entities[e]; midFlight {
		return nil
	}
	netID, err := c.table.Generate(e)
	if err != nil {
		return fmt.Errorf("worldchannel: host spawn %s: %w", e, err)
	}
	c.entities[e] = &entityChannel{
		state:      Spawning,
		netID:      netID,
		components: make(map[component.Kind]*componentChannel),
	}
	c.enqueue(action.SpawnEntity, e, 0)
	return nil
}

// HostDespawnEntity records that the host no longer wants e visible to
// this connection.
func (c *Channel) HostDespawnEntity(e ecs.Entity) error {
	delete(c.hostWorld, e)

	ec, exists := c.entities[e]
	if !exists {
		return nil
	}
	switch ec.state {
	case Spawned:
		ec.state = Despawning
		for k, cc := range ec.components {
			if cc.state == Inserted {
				c.diff.Deregister(e, k)
			}
		}
		ec.components = make(map[component.Kind]*componentChannel)
		c.enqueue(action.DespawnEntity, e, 0)
	case Spawning, Despawning:
		// a structural action for e is already in flight; the eventual
		// delivered-action handler observes the cleared host_world and
		// reacts (spec.md §4.3).
	}
	return nil
}

// HostInsertComponent records that component kind k should exist on e.
// It panics if the host world already has k on e (a duplicate insert) —
// per spec.md §7 that is a programmer error, not a recoverable condition.
// Re-inserting k while its component channel is still open from an
// earlier remove (Removing) does not panic; it only records host intent.
func (c *Channel) HostInsertComponent(e ecs.Entity, k component.Kind) error {
	host, hosted := c.hostWorld[e]
	if !hosted {
		return fmt.Errorf("worldchannel: insert %v on %s: %w", k, e, ErrUnknownEntity)
	}
	if _, already := host[k]; already {
		panic(fmt.Sprintf("worldchannel: duplicate InsertComponent(%v) on entity %s: component already present in host world", k, e))
	}
	host[k] = struct{}{}

	ec := c.entities[e]
	if ec.state != Spawned {
		return nil // batched into the spawn payload once the spawn itself is confirmed
	}
	if _, open := ec.components[k]; open {
		return nil // a channel is already open (e.g. still Removing); the ack handler will react
	}
	ec.components[k] = &componentChannel{state: Inserting}
	c.enqueue(action.InsertComponent, e, k)
	return nil
}

// HostRemoveComponent records that component kind k should no longer
// exist on e. It panics if e has no entity channel at all — per
// spec.md §7, removing from a non-existent entity is a programmer
// error. An entity the host already despawned whose channel is still
// open (Despawning) does not panic; the call is a no-op.
func (c *Channel) HostRemoveComponent(e ecs.Entity, k component.Kind) error {
	ec, exists := c.entities[e]
	if !exists {
		panic(fmt.Sprintf("worldchannel: RemoveComponent(%v) on non-existent entity %s", k, e))
	}
	host := c.hostWorld[e]
	if _, has := host[k]; !has {
		return nil // already absent; benign
	}
	delete(host, k)

	cc, open := ec.components[k]
	if !open || cc.state != Inserted {
		return nil // not yet confirmed inserted; nothing to retract on the wire
	}
	cc.state = Removing
	c.diff.Deregister(e, k)
	c.enqueue(action.RemoveComponent, e, k)
	return nil
}

// HostComponents returns a snapshot of the components the host
// currently wants on e, for HostWorldWriter's SpawnEntity payload.
func (c *Channel) HostComponents(e ecs.Entity) []component.Kind {
	host := c.hostWorld[e]
	out := make([]component.Kind, 0, len(host))
	for k := range host {
		out = append(out, k)
	}
	return out
}

// EntityNetID returns e's NetEntity, if it currently has one.
func (c *Channel) EntityNetID(e ecs.Entity) (entitytable.NetEntity, bool) {
	ec, ok := c.entities[e]
	if !ok {
		return 0, false
	}
	return ec.netID, true
}

// EntityChannelState returns e's EntityState, if it has an open channel.
func (c *Channel) EntityChannelState(e ecs.Entity) (EntityState, bool) {
	ec, ok := c.entities[e]
	if !ok {
		return 0, false
	}
	return ec.state, true
}

// ComponentChannelState returns (e,k)'s ComponentState, if open.
func (c *Channel) ComponentChannelState(e ecs.Entity, k component.Kind) (ComponentState, bool) {
	ec, ok := c.entities[e]
	if !ok {
		return 0, false
	}
	cc, ok := ec.components[k]
	if !ok {
		return 0, false
	}
	return cc.state, true
}

// HasHostComponent reports whether the host currently wants k on e.
func (c *Channel) HasHostComponent(e ecs.Entity, k component.Kind) bool {
	_, ok := c.hostWorld[e][k]
	return ok
}

// PruneDelivered forgets delivered-action records older than threshold
// in wrapping-id order, bounding the memory the idempotence set would
// otherwise accumulate over a long-lived connection. Callers (the hub,
// on every tick) pass the oldest ActionId still plausibly in
// flight; everything strictly before it is safe to forget.
func (c *Channel) PruneDelivered(threshold action.ID) {
	for id := range c.delivered {
		if action.Less(id, threshold) {
			delete(c.delivered, id)
		}
	}
}
