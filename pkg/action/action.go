package action

import (
	"fmt"

	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/entitytable"
)

// Type discriminates the EntityAction tagged union (spec.md §3).
type Type uint8

const (
	SpawnEntity Type = iota
	DespawnEntity
	InsertComponent
	RemoveComponent
	Noop
)

func (t Type) String() string {
	switch t {
	case SpawnEntity:
		return "SpawnEntity"
	case DespawnEntity:
		return "DespawnEntity"
	case InsertComponent:
		return "InsertComponent"
	case RemoveComponent:
		return "RemoveComponent"
	case Noop:
		return "Noop"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Action is the wire-level EntityAction: what actually travels in the
// packet's action section, already resolved to the connection-local
// NetEntity space. HostWorldWriter builds these from host-side pending
// events at serialization time; EntityActionReceiver decodes them
// straight off the wire.
type Action struct {
	Type   Type
	Entity entitytable.NetEntity

	// Components carries the full component set for SpawnEntity, one
	// entry per component, each already decoded to its concrete value
	// by the registered Codec.
	Components []ComponentValue

	// Component carries the single affected kind for InsertComponent and
	// RemoveComponent. InsertComponent also populates Value.
	Component ComponentValue
}

// ComponentValue pairs a component kind with its decoded value. Value is
// nil for RemoveComponent, where only the kind travels on the wire.
type ComponentValue struct {
	Kind  component.Kind
	Value any
}

// Spawn builds a SpawnEntity action.
func Spawn(e entitytable.NetEntity, comps []ComponentValue) Action {
	return Action{Type: SpawnEntity, Entity: e, Components: comps}
}

// Despawn builds a DespawnEntity action.
func Despawn(e entitytable.NetEntity) Action {
	return Action{Type: DespawnEntity, Entity: e}
}

// Insert builds an InsertComponent action.
func Insert(e entitytable.NetEntity, k component.Kind, value any) Action {
	return Action{Type: InsertComponent, Entity: e, Component: ComponentValue{Kind: k, Value: value}}
}

// Remove builds a RemoveComponent action.
func Remove(e entitytable.NetEntity, k component.Kind) Action {
	return Action{Type: RemoveComponent, Entity: e, Component: ComponentValue{Kind: k}}
}
