// Package ecs defines the World contract this module consumes from a
// host ECS (spec.md §6) and ships one reference adapter, MapWorld, so
// the replication core can be exercised end to end without a real game
// engine attached.
package ecs

import "fmt"

// Entity is the opaque, copy-comparable handle spec.md calls
// "WorldEntity": an index plus a generation counter, the common ECS
// idiom for guarding against a recycled index silently aliasing a stale
// handle.
type Entity struct {
	ID  uint32
	Gen uint32
}

// String renders the handle for logs and diagnostics.
func (e Entity) String() string { return fmt.Sprintf("entity(%d/%d)", e.ID, e.Gen) }
