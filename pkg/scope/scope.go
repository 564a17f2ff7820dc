// Package scope implements the scope oracle adapter (SPEC_FULL §4.11):
// the bridge between an external "is this entity visible to this user"
// decision and the host_spawn_entity/host_despawn_entity calls that
// actually drive a WorldChannel.
package scope

import (
	"github.com/embervault/netreplica/pkg/ecs"
	"github.com/embervault/netreplica/pkg/owner"
)

// Oracle answers whether e should be visible to userID this tick. It is
// a consumed interface (spec.md §6 "scope oracle") — room/user
// membership logic lives outside this module.
type Oracle interface {
	InScope(userID string, e ecs.Entity) bool
}

// Channel is the subset of worldchannel.Channel the Feeder needs,
// narrowed so this package doesn't import worldchannel just to mention
// its two mutator methods in a type signature.
type Channel interface {
	HostSpawnEntity(e ecs.Entity) error
	HostDespawnEntity(e ecs.Entity) error
}

// Feeder diffs an Oracle's verdicts tick-over-tick per entity and
// issues the corresponding host_spawn_entity/host_despawn_entity calls.
// The pawn-suppression rule (SPEC_FULL §3) is enforced here: Oracle is
// never even consulted for an entity the user owns as their pawn.
type Feeder struct {
	oracle  Oracle
	owners  *owner.Registry
	channel Channel

	inScope map[ecs.Entity]bool
}

// NewFeeder creates a Feeder driving channel's host_spawn/despawn calls
// from oracle's verdicts, consulting owners for pawn suppression.
func NewFeeder(oracle Oracle, owners *owner.Registry, channel Channel) *Feeder {
	return &Feeder{
		oracle:  oracle,
		owners:  owners,
		channel: channel,
		inScope: make(map[ecs.Entity]bool),
	}
}

// Tick re-evaluates scope for every entity in entities, issuing
// host_spawn_entity for newly in-scope entities and host_despawn_entity
// for entities that left scope. An entity missing from entities this
// tick is treated as out of scope (it will be despawned) — callers are
// expected to pass the full candidate set each tick, not a delta.
func (f *Feeder) Tick(userID string, entities []ecs.Entity) error {
	seen := make(map[ecs.Entity]bool, len(entities))

	for _, e := range entities {
		seen[e] = true
		want := f.wantsVisible(userID, e)
		had := f.inScope[e]

		if want && !had {
			if err := f.channel.HostSpawnEntity(e); err != nil {
				return err
			}
			f.inScope[e] = true
		} else if !want && had {
			if err := f.channel.HostDespawnEntity(e); err != nil {
				return err
			}
			delete(f.inScope, e)
		}
	}

	for e := range f.inScope {
		if !seen[e] {
			if err := f.channel.HostDespawnEntity(e); err != nil {
				return err
			}
			delete(f.inScope, e)
		}
	}
	return nil
}

// wantsVisible applies the pawn-suppression rule before ever calling
// into the oracle: a pawn is never host-spawned back to its own owning
// user's connection (SPEC_FULL §3).
func (f *Feeder) wantsVisible(userID string, e ecs.Entity) bool {
	if f.owners != nil && f.owners.Get(e).IsPawnOf(userID) {
		return false
	}
	return f.oracle.InScope(userID, e)
}
