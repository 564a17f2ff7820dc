package worldchannel

import (
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/entitytable"
)

// ComponentState is a component channel's reconciliation state
// (spec.md §3). Inserting and Removing each have exactly one in-flight
// reliable action; Inserted has none.
type ComponentState uint8

const (
	Inserting ComponentState = iota
	Inserted
	Removing
)

func (s ComponentState) String() string {
	switch s {
	case Inserting:
		return "Inserting"
	case Inserted:
		return "Inserted"
	case Removing:
		return "Removing"
	default:
		return "Unknown"
	}
}

// EntityState is an entity channel's reconciliation state (spec.md §3).
type EntityState uint8

const (
	Spawning EntityState = iota
	Spawned
	Despawning
)

func (s EntityState) String() string {
	switch s {
	case Spawning:
		return "Spawning"
	case Spawned:
		return "Spawned"
	case Despawning:
		return "Despawning"
	default:
		return "Unknown"
	}
}

type componentChannel struct {
	state ComponentState
}

// entityChannel is only ever non-nil while the entity's NetEntity is
// allocated — it is created in host_spawn_entity and torn down once
// on_entity_channel_closed fires from a delivered DespawnEntity.
type entityChannel struct {
	state      EntityState
	netID      entitytable.NetEntity
	components map[component.Kind]*componentChannel
}
