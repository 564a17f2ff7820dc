package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/embervault/netreplica/pkg/hostwriter"
	"github.com/embervault/netreplica/pkg/packetnotify"
	"github.com/embervault/netreplica/pkg/worldchannel"
)

// Transport is the outbound half of a connection's datagram socket.
// The hub hands it a fully packed payload; it is responsible for
// actually putting it on the wire and, asynchronously, for calling the
// connection's Notifier once delivery or loss is known. Production
// transports plug in a real socket here; tests use a fake that records
// payloads.
type Transport interface {
	Send(packetIndex int, payload []byte) error
}

// Connection is one player's world-replication state: the WorldChannel
// reconciliation machine, the HostWorldWriter that packs its packets,
// and the PacketNotifier that feeds delivery/loss back into both.
type Connection struct {
	ID     uuid.UUID
	UserID string

	Channel  *worldchannel.Channel
	Writer   *hostwriter.Writer
	Notifier *packetnotify.Notifier

	Transport Transport

	nextPacketIndex int
	lastTickAt      time.Time
}
