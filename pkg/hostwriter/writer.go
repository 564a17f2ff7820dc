// Package hostwriter implements HostWorldWriter (spec.md §4.4): packs a
// connection's pending updates and actions into an MTU-bounded packet,
// tracking per-packet state so PacketNotifier can later confirm or
// retry what was sent.
package hostwriter

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/embervault/netreplica/pkg/action"
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/diffmask"
	"github.com/embervault/netreplica/pkg/ecs"
	"github.com/embervault/netreplica/pkg/reliable"
	"github.com/embervault/netreplica/pkg/wire"
	"github.com/embervault/netreplica/pkg/worldchannel"
)

// UpdateKey names one (entity, component) update record.
type UpdateKey struct {
	Entity    ecs.Entity
	Component component.Kind
}

// UpdateRecord is the mask snapshot written for packet P (spec.md §3
// "sent_updates[P]"), consumed by PacketNotifier on drop/TTL to
// re-accumulate superseded dirty bits.
type UpdateRecord struct {
	SentAt time.Time
	Masks  map[UpdateKey]diffmask.Mask
}

// ActionEntry is one (ActionId, EntityAction) pair written into a packet.
type ActionEntry struct {
	ID     action.ID
	Action action.Action
}

// ActionRecord is the action-section snapshot for packet P (spec.md §3
// "sent_action_packets[P]").
type ActionRecord struct {
	SentAt  time.Time
	Entries []ActionEntry
}

// Writer is one connection's HostWorldWriter.
type Writer struct {
	mtuBytes int
	logger   *zap.Logger

	pendingActions []reliable.Envelope[worldchannel.Event]

	sentUpdates           map[int]UpdateRecord
	sentActionPackets     map[int]ActionRecord
	lastUpdatePacketIndex int
}

// New creates a Writer bounded to mtuBytes per packet.
func New(mtuBytes int, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		mtuBytes:          mtuBytes,
		logger:            logger,
		sentUpdates:       make(map[int]UpdateRecord),
		sentActionPackets: make(map[int]ActionRecord),
	}
}

// WriteIntoPacket fills bw (already sized to the packet's MTU budget)
// with the update section followed by the action section (spec.md
// §4.4: "order is important"), recording what was written under
// packetIndex for later ack/nack handling.
func (w *Writer) WriteIntoPacket(
	bw *wire.BitWriter,
	packetIndex int,
	now time.Time,
	world ecs.World,
	ch *worldchannel.Channel,
	reg *component.Registry,
) error {
	updateMasks, err := w.writeUpdateSection(bw, world, ch, reg)
	if err != nil {
		return fmt.Errorf("hostwriter: update section: %w", err)
	}
	w.sentUpdates[packetIndex] = UpdateRecord{SentAt: now, Masks: updateMasks}
	if len(updateMasks) > 0 {
		w.lastUpdatePacketIndex = packetIndex
	}

	entries, err := w.writeActionSection(bw, world, ch, reg)
	if err != nil {
		return fmt.Errorf("hostwriter: action section: %w", err)
	}
	w.sentActionPackets[packetIndex] = ActionRecord{SentAt: now, Entries: entries}
	return nil
}

type updateItem struct {
	kind  component.Kind
	codec component.Codec
	value any
	mask  diffmask.Mask
	bits  int
}

func (w *Writer) writeUpdateSection(bw *wire.BitWriter, world ecs.World, ch *worldchannel.Channel, reg *component.Registry) (map[UpdateKey]diffmask.Mask, error) {
	written := make(map[UpdateKey]diffmask.Mask)

	byEntity := make(map[ecs.Entity][]component.Kind)
	for _, key := range ch.DiffHandler().DirtyKeys() {
		byEntity[key.Entity] = append(byEntity[key.Entity], key.Component)
	}

	for e, kinds := range byEntity {
		netID, ok := ch.EntityNetID(e)
		if !ok {
			continue // entity channel already closed; stale dirty key
		}

		headerBits := 1 + wire.VarUintBitLen(uint64(netID))
		total := headerBits
		var items []updateItem

		for _, k := range kinds {
			codec, ok := reg.Get(k)
			if !ok {
				continue
			}
			value, has := world.Component(e, k)
			if !has {
				continue // component removed from the world; mask will be deregistered separately
			}
			mask, ok := ch.DiffHandler().DiffMask(e, k)
			if !ok || mask.IsClear() {
				continue
			}
			itemBits := 1 + wire.VarUintBitLen(uint64(k)) + codec.UpdateBitLength(value, mask)
			// reserve 1 bit for this entity's component-list terminator and
			// 1 bit for the update section's own terminator.
			if total+itemBits+2 > bw.RemainingBits() {
				break
			}
			items = append(items, updateItem{kind: k, codec: codec, value: value, mask: mask, bits: itemBits})
			total += itemBits
		}
		if len(items) == 0 {
			continue // nothing fit for this entity this tick; it stays dirty for the next
		}

		if err := bw.WriteBit(true); err != nil {
			return nil, err
		}
		if err := bw.WriteVarUint(uint64(netID)); err != nil {
			return nil, err
		}
		for _, it := range items {
			if err := bw.WriteBit(true); err != nil {
				return nil, err
			}
			if err := bw.WriteVarUint(uint64(it.kind)); err != nil {
				return nil, err
			}
			if err := it.codec.WriteUpdate(bw, it.value, it.mask); err != nil {
				return nil, err
			}
			written[UpdateKey{Entity: e, Component: it.kind}] = it.mask
			ch.DiffHandler().Clear(e, it.kind)
		}
		if err := bw.WriteBit(false); err != nil {
			return nil, err
		}
	}

	if err := bw.WriteBit(false); err != nil {
		return nil, err
	}
	return written, nil
}

func (w *Writer) writeActionSection(bw *wire.BitWriter, world ecs.World, ch *worldchannel.Channel, reg *component.Registry) ([]ActionEntry, error) {
	items := append(w.pendingActions, ch.Sender().TakeNext()...)
	w.pendingActions = nil

	var entries []ActionEntry
	var lastID action.ID
	haveLast := false

	for i, env := range items {
		wireAction := ch.Resolve(env.Message, world)
		payloadBits, err := action.BitLength(reg, wireAction)
		if err != nil {
			return nil, fmt.Errorf("resolve %v: %w", env.Message.Type, err)
		}

		idBits := 1 // continue-bit
		if !haveLast {
			idBits += 16
		} else {
			idBits += wire.VarIntBitLen(action.Delta(lastID, env.ID))
		}
		needed := idBits + payloadBits

		if needed+1 > bw.RemainingBits() { // +1 reserves the section terminator
			if len(entries) == 0 {
				name := "unknown"
				if k, ok := primaryComponentKind(wireAction); ok {
					if codec, ok := reg.Get(k); ok {
						name = codec.Name()
					}
				}
				w.logger.Error("component does not fit in an empty packet", zap.String("component", name))
				panic(fmt.Sprintf("hostwriter: component %q cannot fit in an otherwise empty packet (oversized payload; use a fragmented channel instead)", name))
			}
			w.pendingActions = append(w.pendingActions, items[i:]...)
			break
		}

		if err := bw.WriteBit(true); err != nil {
			return nil, err
		}
		if !haveLast {
			if err := bw.WriteBits(uint64(env.ID), 16); err != nil {
				return nil, err
			}
		} else {
			if err := bw.WriteVarInt(action.Delta(lastID, env.ID)); err != nil {
				return nil, err
			}
		}
		if err := action.Write(bw, reg, wireAction); err != nil {
			return nil, err
		}

		entries = append(entries, ActionEntry{ID: env.ID, Action: wireAction})
		lastID = env.ID
		haveLast = true
	}

	if err := bw.WriteBit(false); err != nil {
		return nil, err
	}
	return entries, nil
}

func primaryComponentKind(a action.Action) (component.Kind, bool) {
	switch a.Type {
	case action.InsertComponent, action.RemoveComponent:
		return a.Component.Kind, true
	case action.SpawnEntity:
		if len(a.Components) > 0 {
			return a.Components[0].Kind, true
		}
	}
	return 0, false
}

// TakeUpdateRecord returns and forgets the update record for packetIndex
// (used by PacketNotifier on ack, which drops it outright).
func (w *Writer) TakeUpdateRecord(packetIndex int) (UpdateRecord, bool) {
	r, ok := w.sentUpdates[packetIndex]
	delete(w.sentUpdates, packetIndex)
	return r, ok
}

// UpdateRecord returns the update record for packetIndex without
// removing it (used by PacketNotifier on drop, which needs to consult
// every later packet index up to lastUpdatePacketIndex).
func (w *Writer) UpdateRecord(packetIndex int) (UpdateRecord, bool) {
	r, ok := w.sentUpdates[packetIndex]
	return r, ok
}

// DropUpdateRecord forgets the update record for packetIndex without
// returning it (used once PacketNotifier has finished consulting it).
func (w *Writer) DropUpdateRecord(packetIndex int) {
	delete(w.sentUpdates, packetIndex)
}

// LastUpdatePacketIndex returns the newest packet index any update was
// written into, per spec.md §3.
func (w *Writer) LastUpdatePacketIndex() int { return w.lastUpdatePacketIndex }

// PendingActionCount reports how many actions are waiting in the
// backpressure buffer for the next WriteIntoPacket call, for debugging
// dumps (pkg/diag).
func (w *Writer) PendingActionCount() int { return len(w.pendingActions) }

// UnackedUpdateRecordCount reports how many packets' worth of update
// records are still outstanding, for debugging dumps (pkg/diag).
func (w *Writer) UnackedUpdateRecordCount() int { return len(w.sentUpdates) }

// UnackedActionRecordCount reports how many packets' worth of action
// records are still outstanding, for debugging dumps (pkg/diag).
func (w *Writer) UnackedActionRecordCount() int { return len(w.sentActionPackets) }

// TakeActionRecord returns and forgets the action record for packetIndex.
func (w *Writer) TakeActionRecord(packetIndex int) (ActionRecord, bool) {
	r, ok := w.sentActionPackets[packetIndex]
	delete(w.sentActionPackets, packetIndex)
	return r, ok
}

// PruneActionRecordsBefore drops every action record older than ttl, per
// spec.md §4.6's hard TTL bounding memory for action packet records.
func (w *Writer) PruneActionRecordsBefore(now time.Time, ttl time.Duration) {
	for idx, rec := range w.sentActionPackets {
		if now.Sub(rec.SentAt) > ttl {
			delete(w.sentActionPackets, idx)
		}
	}
}

// PruneUpdateRecordsBefore drops every update record older than ttl
// (spec.md §4.6: "update records are dropped unconditionally after
// ~1.5xRTT").
func (w *Writer) PruneUpdateRecordsBefore(now time.Time, ttl time.Duration) {
	for idx, rec := range w.sentUpdates {
		if now.Sub(rec.SentAt) > ttl {
			delete(w.sentUpdates, idx)
		}
	}
}
