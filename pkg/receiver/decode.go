package receiver

import (
	"github.com/embervault/netreplica/pkg/action"
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/wire"
)

// Entry is one decoded (ActionId, Action) pair off the wire.
type Entry struct {
	ID     action.ID
	Action action.Action
}

// DecodeActionSection reads the action_section spec.md §6 describes —
// the exact counterpart of hostwriter's writeActionSection — returning
// every entry in wire order. Callers feed each entry to Receiver.Receive
// in order.
func DecodeActionSection(r *wire.BitReader, reg *component.Registry) ([]Entry, error) {
	var entries []Entry
	var lastID action.ID
	haveLast := false

	for {
		more, err := r.ReadBit()
		if err != nil {
			return nil, err
		}
		if !more {
			return entries, nil
		}

		var id action.ID
		if !haveLast {
			raw, err := r.ReadBits(16)
			if err != nil {
				return nil, err
			}
			id = action.ID(raw)
		} else {
			delta, err := r.ReadVarInt()
			if err != nil {
				return nil, err
			}
			id = action.ID(int32(lastID) + delta)
		}

		a, err := action.Read(r, reg)
		if err != nil {
			return nil, err
		}

		entries = append(entries, Entry{ID: id, Action: a})
		lastID = id
		haveLast = true
	}
}
