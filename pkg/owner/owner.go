// Package owner implements the EntityOwner / pawn scope rule (spec.md
// §9): an entity is either host-authoritative or owned by a remote
// user's client ("pawn"), and a pawn is never replicated back to its
// own owning connection.
package owner

import "github.com/embervault/netreplica/pkg/ecs"

// Kind discriminates who authors an entity's state.
type Kind uint8

const (
	Host Kind = iota
	Remote
)

func (k Kind) String() string {
	if k == Remote {
		return "Remote"
	}
	return "Host"
}

// Owner names who authors an entity. UserID is only meaningful when
// Kind == Remote.
type Owner struct {
	Kind   Kind
	UserID string
}

// IsPawnOf reports whether e is a Remote-owned entity belonging to
// userID — the condition the scope feeder uses to suppress replicating
// an entity back to the client that authors it.
func (o Owner) IsPawnOf(userID string) bool {
	return o.Kind == Remote && o.UserID == userID
}

// Registry tracks the Owner of every entity the host ECS knows about.
// Entities with no registration are implicitly Host-owned.
type Registry struct {
	owners map[ecs.Entity]Owner
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[ecs.Entity]Owner)}
}

// Set records e's owner.
func (r *Registry) Set(e ecs.Entity, o Owner) {
	r.owners[e] = o
}

// Clear removes any ownership record for e, reverting it to Host-owned.
func (r *Registry) Clear(e ecs.Entity) {
	delete(r.owners, e)
}

// Get returns e's owner, defaulting to Host if unregistered.
func (r *Registry) Get(e ecs.Entity) Owner {
	if o, ok := r.owners[e]; ok {
		return o
	}
	return Owner{Kind: Host}
}
