package component

import (
	"fmt"
	"sync"

	"github.com/embervault/netreplica/pkg/diffmask"
	"github.com/embervault/netreplica/pkg/wire"
)

// globalNames lets Kind.String() produce a readable name without every
// caller needing a Registry handle — registration is expected once at
// program init, mirroring a generated-macro step.
var globalNames sync.Map // Kind -> string

// Codec bundles the serialization behavior for one ComponentKind: full
// read/write for spawn/insert payloads, partial update read/write driven
// by a DiffMask, and a speculative bit-length used by the writer's
// counting pass (spec.md §4.4, §6).
type Codec interface {
	// Kind returns the ComponentKind this codec serializes.
	Kind() Kind
	// Name is a human-readable identifier, used in fatal diagnostics
	// naming an oversize component (spec.md §4.4, §7).
	Name() string
	// BitLength returns how many bits Write(component) would consume.
	BitLength(value any) int
	// Write serializes a full component value.
	Write(w *wire.BitWriter, value any) error
	// Read deserializes a full component value.
	Read(r *wire.BitReader) (any, error)
	// UpdateBitLength returns how many bits WriteUpdate would consume
	// for the fields selected by mask.
	UpdateBitLength(value any, mask diffmask.Mask) int
	// WriteUpdate serializes only the fields selected by mask.
	WriteUpdate(w *wire.BitWriter, value any, mask diffmask.Mask) error
	// ReadUpdate applies an update to `into`, returning the updated value.
	ReadUpdate(r *wire.BitReader, into any, mask diffmask.Mask) (any, error)
	// BitWidth is the schema's fixed DiffMask width, in bits.
	BitWidth() int
}

// Registry is a type-keyed table of Codecs, protected by an RWMutex —
// the same shape as the teacher's schema registry, retargeted from JSON
// schema documents to wire codecs.
type Registry struct {
	mu     sync.RWMutex
	codecs map[Kind]Codec
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Kind]Codec)}
}

// Register adds a Codec, failing if its Kind is already registered.
func (r *Registry) Register(c Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[c.Kind()]; ok {
		return fmt.Errorf("component: kind %d already registered", c.Kind())
	}
	r.codecs[c.Kind()] = c
	globalNames.Store(c.Kind(), c.Name())
	return nil
}

// MustRegister panics on a duplicate registration — registration happens
// at program init, where a duplicate is a programmer error, not a
// runtime condition to recover from.
func (r *Registry) MustRegister(c Codec) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get looks up a Codec by kind.
func (r *Registry) Get(k Kind) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[k]
	return c, ok
}

// BitWidth returns the schema bit width for k, or 0 if k is unregistered
// (a caller building a diffmask.Handler's bitWidth func should treat 0
// as "nothing to mark dirty", never panic).
func (r *Registry) BitWidth(k Kind) int {
	c, ok := r.Get(k)
	if !ok {
		return 0
	}
	return c.BitWidth()
}

// Kinds returns every registered kind, for iteration (e.g. spawn
// payloads that must serialize "every component currently in
// host_world[E]").
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.codecs))
	for k := range r.codecs {
		out = append(out, k)
	}
	return out
}
