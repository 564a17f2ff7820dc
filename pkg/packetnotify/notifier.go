// Package packetnotify implements the packet acknowledgment glue
// (spec.md §4.6): translating a transport's ack/nack signal for one
// packet index into WorldChannel/HostWorldWriter state transitions.
// Neither WorldChannel nor HostWorldWriter calls back into the
// transport directly; the transport (or the hub scheduling it) is
// expected to call NotifyDelivered/NotifyDropped once it knows a
// packet's fate.
package packetnotify

import (
	"github.com/embervault/netreplica/pkg/hostwriter"
	"github.com/embervault/netreplica/pkg/worldchannel"
)

// Notifier binds one connection's Writer and Channel together for
// ack/nack processing.
type Notifier struct {
	writer  *hostwriter.Writer
	channel *worldchannel.Channel
}

// New creates a Notifier for one connection.
func New(writer *hostwriter.Writer, channel *worldchannel.Channel) *Notifier {
	return &Notifier{writer: writer, channel: channel}
}

// NotifyDelivered handles a confirmed packet: its update record is
// dropped outright (the fields it carried are now known-good on the
// remote), and every action it carried is retired from the reliable
// sender and fed into WorldChannel's delivered-action state machine —
// unless the sender had already retired that id from an earlier,
// duplicate ack (spec.md §4.6, I5).
func (n *Notifier) NotifyDelivered(packetIndex int) {
	n.writer.TakeUpdateRecord(packetIndex)

	rec, ok := n.writer.TakeActionRecord(packetIndex)
	if !ok {
		return
	}
	for _, entry := range rec.Entries {
		if _, stillPending := n.channel.Sender().Deliver(entry.ID); stillPending {
			n.channel.ApplyDelivered(entry.ID, entry.Action)
		}
	}
}

// NotifyDropped handles a lost or timed-out packet: for every (entity,
// component) it carried an update for, the dirty bits it tried to send
// are re-merged into the connection's UserDiffHandler — minus whatever
// a later packet still on record (sent, with no ack or drop processed
// yet) carries for the same key; records of acked packets were already
// removed by NotifyDelivered and are not consulted — so the next write
// re-sends only the bits no newer in-flight packet covers (spec.md
// §4.6, I6). Actions are not re-enqueued here: the reliable sender
// already owns their resend schedule.
func (n *Notifier) NotifyDropped(packetIndex int) {
	rec, ok := n.writer.UpdateRecord(packetIndex)
	if !ok {
		return
	}
	lastUpdate := n.writer.LastUpdatePacketIndex()

	for key, mask := range rec.Masks {
		newMask := mask.Clone()
		for p := packetIndex + 1; p <= lastUpdate; p++ {
			later, ok := n.writer.UpdateRecord(p)
			if !ok {
				continue
			}
			if supersede, ok := later.Masks[hostwriter.UpdateKey{Entity: key.Entity, Component: key.Component}]; ok {
				newMask.Nand(supersede)
			}
		}
		n.channel.DiffHandler().OrDiffMask(key.Entity, key.Component, newMask)
	}

	n.writer.DropUpdateRecord(packetIndex)
}
