package action

import (
	"fmt"

	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/entitytable"
	"github.com/embervault/netreplica/pkg/wire"
)

// typeBits is wide enough for the five Type values.
const typeBits = 3

func writeType(w *wire.BitWriter, t Type) error { return w.WriteBits(uint64(t), typeBits) }

func readType(r *wire.BitReader) (Type, error) {
	v, err := r.ReadBits(typeBits)
	if err != nil {
		return 0, err
	}
	return Type(v), nil
}

func writeNetEntity(w *wire.BitWriter, e entitytable.NetEntity) error {
	return w.WriteVarUint(uint64(e))
}

func readNetEntity(r *wire.BitReader) (entitytable.NetEntity, error) {
	v, err := r.ReadVarUint()
	if err != nil {
		return 0, err
	}
	return entitytable.NetEntity(v), nil
}

func writeKind(w *wire.BitWriter, k component.Kind) error { return w.WriteVarUint(uint64(k)) }

func readKind(r *wire.BitReader) (component.Kind, error) {
	v, err := r.ReadVarUint()
	if err != nil {
		return 0, err
	}
	return component.Kind(v), nil
}

// BitLength returns how many bits Write(a) would consume against reg,
// for HostWorldWriter's speculative counting pass (spec.md §4.4).
func BitLength(reg *component.Registry, a Action) (int, error) {
	w := wire.NewBitWriter(1 << 20).Counter()
	if err := Write(w, reg, a); err != nil {
		return 0, err
	}
	return w.Len(), nil
}

// Write serializes a into w, resolving each component's payload through
// reg. It fails (rather than silently truncating) if a component kind
// referenced by a isn't registered — a condition that indicates the host
// and the codec registry have drifted out of sync.
func Write(w *wire.BitWriter, reg *component.Registry, a Action) error {
	if err := writeType(w, a.Type); err != nil {
		return err
	}
	switch a.Type {
	case SpawnEntity:
		if err := writeNetEntity(w, a.Entity); err != nil {
			return err
		}
		if err := w.WriteVarUint(uint64(len(a.Components))); err != nil {
			return err
		}
		for _, cv := range a.Components {
			if err := writeComponentValue(w, reg, cv); err != nil {
				return err
			}
		}
	case DespawnEntity:
		return writeNetEntity(w, a.Entity)
	case InsertComponent:
		if err := writeNetEntity(w, a.Entity); err != nil {
			return err
		}
		return writeComponentValue(w, reg, a.Component)
	case RemoveComponent:
		if err := writeNetEntity(w, a.Entity); err != nil {
			return err
		}
		return writeKind(w, a.Component.Kind)
	case Noop:
		// no payload
	default:
		return fmt.Errorf("action: write: unknown type %v", a.Type)
	}
	return nil
}

func writeComponentValue(w *wire.BitWriter, reg *component.Registry, cv ComponentValue) error {
	codec, ok := reg.Get(cv.Kind)
	if !ok {
		return fmt.Errorf("action: write: component kind %d not registered", cv.Kind)
	}
	if err := writeKind(w, cv.Kind); err != nil {
		return err
	}
	return codec.Write(w, cv.Value)
}

// Read decodes one Action from r, resolving component payloads through reg.
func Read(r *wire.BitReader, reg *component.Registry) (Action, error) {
	t, err := readType(r)
	if err != nil {
		return Action{}, err
	}
	a := Action{Type: t}
	switch t {
	case SpawnEntity:
		if a.Entity, err = readNetEntity(r); err != nil {
			return Action{}, err
		}
		count, err := r.ReadVarUint()
		if err != nil {
			return Action{}, err
		}
		a.Components = make([]ComponentValue, 0, count)
		for i := uint64(0); i < count; i++ {
			cv, err := readComponentValue(r, reg)
			if err != nil {
				return Action{}, err
			}
			a.Components = append(a.Components, cv)
		}
	case DespawnEntity:
		if a.Entity, err = readNetEntity(r); err != nil {
			return Action{}, err
		}
	case InsertComponent:
		if a.Entity, err = readNetEntity(r); err != nil {
			return Action{}, err
		}
		if a.Component, err = readComponentValue(r, reg); err != nil {
			return Action{}, err
		}
	case RemoveComponent:
		if a.Entity, err = readNetEntity(r); err != nil {
			return Action{}, err
		}
		k, err := readKind(r)
		if err != nil {
			return Action{}, err
		}
		a.Component = ComponentValue{Kind: k}
	case Noop:
		// no payload
	default:
		return Action{}, fmt.Errorf("action: read: unknown type %d", t)
	}
	return a, nil
}

func readComponentValue(r *wire.BitReader, reg *component.Registry) (ComponentValue, error) {
	k, err := readKind(r)
	if err != nil {
		return ComponentValue{}, err
	}
	codec, ok := reg.Get(k)
	if !ok {
		return ComponentValue{}, fmt.Errorf("action: read: component kind %d not registered", k)
	}
	v, err := codec.Read(r)
	if err != nil {
		return ComponentValue{}, err
	}
	return ComponentValue{Kind: k, Value: v}, nil
}
