package packetnotify

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/diffmask"
	"github.com/embervault/netreplica/pkg/ecs"
	"github.com/embervault/netreplica/pkg/hostwriter"
	"github.com/embervault/netreplica/pkg/wire"
	"github.com/embervault/netreplica/pkg/worldchannel"
)

const positionKind component.Kind = 1

type position struct{ X, Y float32 }

type positionCodec struct{}

func (positionCodec) Kind() component.Kind { return positionKind }
func (positionCodec) Name() string         { return "Position" }
func (positionCodec) BitWidth() int        { return 2 }
func (positionCodec) BitLength(any) int    { return 64 }
func (positionCodec) Write(w *wire.BitWriter, value any) error {
	p := value.(position)
	if err := w.WriteBits(uint64(math.Float32bits(p.X)), 32); err != nil {
		return err
	}
	return w.WriteBits(uint64(math.Float32bits(p.Y)), 32)
}
func (positionCodec) Read(r *wire.BitReader) (any, error) {
	x, err := r.ReadBits(32)
	if err != nil {
		return nil, err
	}
	y, err := r.ReadBits(32)
	if err != nil {
		return nil, err
	}
	return position{X: math.Float32frombits(uint32(x)), Y: math.Float32frombits(uint32(y))}, nil
}
func (positionCodec) UpdateBitLength(value any, mask diffmask.Mask) int {
	n := 0
	if mask.IsSet(0) {
		n += 32
	}
	if mask.IsSet(1) {
		n += 32
	}
	return n
}
func (positionCodec) WriteUpdate(w *wire.BitWriter, value any, mask diffmask.Mask) error {
	p := value.(position)
	if mask.IsSet(0) {
		if err := w.WriteBits(uint64(math.Float32bits(p.X)), 32); err != nil {
			return err
		}
	}
	if mask.IsSet(1) {
		return w.WriteBits(uint64(math.Float32bits(p.Y)), 32)
	}
	return nil
}
func (positionCodec) ReadUpdate(r *wire.BitReader, into any, mask diffmask.Mask) (any, error) {
	return into, nil
}

func setup(t *testing.T) (*worldchannel.Channel, *hostwriter.Writer, *ecs.MapWorld, ecs.Entity) {
	t.Helper()
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(positionCodec{}))

	ch, err := worldchannel.New(65535, reg)
	require.NoError(t, err)

	world := ecs.NewMapWorld()
	e := ecs.Entity{ID: 1}
	world.Spawn(e)
	require.NoError(t, ch.HostSpawnEntity(e))
	deliverAll(ch, world)

	world.Insert(e, positionKind, position{X: 1, Y: 2})
	require.NoError(t, ch.HostInsertComponent(e, positionKind))
	deliverAll(ch, world)

	w := hostwriter.New(512, zap.NewNop())
	return ch, w, world, e
}

func deliverAll(ch *worldchannel.Channel, world ecs.World) {
	for _, env := range ch.Sender().TakeNext() {
		ch.ApplyDelivered(env.ID, ch.Resolve(env.Message, world))
	}
}

func TestNotifyDeliveredRetiresActionAndDropsUpdateRecord(t *testing.T) {
	ch, w, world, e := setup(t)
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(positionCodec{}))

	// force a remove so an action record exists for some packet.
	require.NoError(t, ch.HostRemoveComponent(e, positionKind))
	bw := wire.NewBitWriter(512)
	now := time.Now()
	require.NoError(t, w.WriteIntoPacket(bw, 0, now, world, ch, reg))

	n := New(w, ch)
	assert.NotPanics(t, func() { n.NotifyDelivered(0) })

	_, stillOpen := ch.ComponentChannelState(e, positionKind)
	assert.False(t, stillOpen, "remove should have closed the component channel once delivered")

	_, ok := w.TakeActionRecord(0)
	assert.False(t, ok, "NotifyDelivered must consume the action record")
}

func TestNotifyDroppedReMergesUncoveredBits(t *testing.T) {
	ch, w, world, e := setup(t)
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(positionCodec{}))

	ch.DiffHandler().MarkDirty(e, positionKind, 0)
	bw1 := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw1, 1, time.Now(), world, ch, reg))

	ch.DiffHandler().MarkDirty(e, positionKind, 1)
	bw2 := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw2, 2, time.Now(), world, ch, reg))

	clear, _ := ch.DiffHandler().IsClear(e, positionKind)
	require.True(t, clear, "both bits should have been written and cleared already")

	n := New(w, ch)
	n.NotifyDropped(1)

	mask, ok := ch.DiffHandler().DiffMask(e, positionKind)
	require.True(t, ok)
	assert.True(t, mask.IsSet(0), "bit 0 was only carried by the dropped packet and must be retried")
	assert.False(t, mask.IsSet(1), "bit 1 belongs to a later, still-outstanding packet and must not be resurrected by dropping an earlier one")
}

func TestNotifyDroppedSkipsBitsSupersededByLaterPacket(t *testing.T) {
	ch, w, world, e := setup(t)
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(positionCodec{}))

	ch.DiffHandler().MarkDirty(e, positionKind, 0)
	bw1 := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw1, 1, time.Now(), world, ch, reg))

	// bit 0 goes dirty again and is re-sent in a later packet before the
	// first one's fate is known.
	ch.DiffHandler().MarkDirty(e, positionKind, 0)
	bw2 := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw2, 2, time.Now(), world, ch, reg))

	n := New(w, ch)
	n.NotifyDropped(1)

	mask, ok := ch.DiffHandler().DiffMask(e, positionKind)
	require.True(t, ok)
	assert.False(t, mask.IsSet(0), "bit 0 is already covered by the later packet 2; dropping packet 1 must not double-send it")
}

func TestNotifyDroppedOnUnknownPacketIsNoop(t *testing.T) {
	ch, w, _, _ := setup(t)
	n := New(w, ch)
	assert.NotPanics(t, func() { n.NotifyDropped(999) })
}
