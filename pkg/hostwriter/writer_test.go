package hostwriter

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/embervault/netreplica/pkg/action"
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/diffmask"
	"github.com/embervault/netreplica/pkg/ecs"
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

const hugeKind component.Kind = 2

type hugeValue struct{}

type hugeCodec struct{}

func (hugeCodec) Kind() component.Kind { return hugeKind }
func (hugeCodec) Name() string         { return "HugePayload" }
func (hugeCodec) BitWidth() int        { return 1 }
func (hugeCodec) BitLength(any) int    { return 4000 }
func (hugeCodec) Write(w *wire.BitWriter, value any) error {
	for i := 0; i < 4000; i++ {
		if err := w.WriteBit(false); err != nil {
			return err
		}
	}
	return nil
}
func (hugeCodec) Read(r *wire.BitReader) (any, error) {
	if _, err := r.ReadBits(4000 % 64); err != nil {
		return nil, err
	}
	return hugeValue{}, nil
}
func (hugeCodec) UpdateBitLength(any, diffmask.Mask) int                 { return 0 }
func (hugeCodec) WriteUpdate(*wire.BitWriter, any, diffmask.Mask) error  { return nil }
func (hugeCodec) ReadUpdate(*wire.BitReader, any, diffmask.Mask) (any, error) {
	return hugeValue{}, nil
}

func newTestRegistry(t *testing.T) *component.Registry {
	t.Helper()
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(positionCodec{}))
	require.NoError(t, reg.Register(hugeCodec{}))
	return reg
}

// spawnAndInsert spawns e with k already wanted by the host, so k rides
// along batched inside the SpawnEntity payload itself (spec.md §4.3)
// rather than via a follow-up InsertComponent.
func spawnAndInsert(t *testing.T, ch *worldchannel.Channel, world *ecs.MapWorld, e ecs.Entity, k component.Kind, value any) {
	t.Helper()
	world.Spawn(e)
	world.Insert(e, k, value)
	require.NoError(t, ch.HostSpawnEntity(e))
	require.NoError(t, ch.HostInsertComponent(e, k))
}

func justSpawn(t *testing.T, ch *worldchannel.Channel, world *ecs.MapWorld, e ecs.Entity) {
	t.Helper()
	world.Spawn(e)
	require.NoError(t, ch.HostSpawnEntity(e))
}

// deliverNext acks packetIndex's action-section entries against ch,
// using the actions the writer actually packed rather than re-resolving
// against the sender (WriteIntoPacket already drained it).
func deliverNext(t *testing.T, w *Writer, ch *worldchannel.Channel, packetIndex int) {
	t.Helper()
	rec, ok := w.TakeActionRecord(packetIndex)
	require.True(t, ok)
	for _, entry := range rec.Entries {
		ch.ApplyDelivered(entry.ID, entry.Action)
	}
}

func TestWriteIntoPacketWritesSpawnAction(t *testing.T) {
	reg := newTestRegistry(t)
	ch, err := worldchannel.New(65535, reg)
	require.NoError(t, err)
	world := ecs.NewMapWorld()
	e := ecs.Entity{ID: 1}
	spawnAndInsert(t, ch, world, e, positionKind, position{X: 1, Y: 2})

	w := New(512, zap.NewNop())
	bw := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw, 0, time.Now(), world, ch, reg))

	rec, ok := w.TakeActionRecord(0)
	require.True(t, ok)
	require.Len(t, rec.Entries, 1)
	assert.Equal(t, action.SpawnEntity, rec.Entries[0].Action.Type)
}

func TestUpdateSectionWritesAndClearsDirtyMask(t *testing.T) {
	reg := newTestRegistry(t)
	ch, err := worldchannel.New(65535, reg)
	require.NoError(t, err)
	world := ecs.NewMapWorld()
	e := ecs.Entity{ID: 2}
	justSpawn(t, ch, world, e)
	world.Insert(e, positionKind, position{X: 0, Y: 0})

	w := New(512, zap.NewNop())

	// drive spawn to completion, then an explicit insert, to completion.
	bw0 := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw0, 0, time.Now(), world, ch, reg))
	deliverNext(t, w, ch, 0)

	require.NoError(t, ch.HostInsertComponent(e, positionKind))
	bw1 := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw1, 1, time.Now(), world, ch, reg))
	deliverNext(t, w, ch, 1)

	ch.DiffHandler().MarkDirty(e, positionKind, 0)
	require.False(t, func() bool { c, _ := ch.DiffHandler().IsClear(e, positionKind); return c }())

	bw2 := wire.NewBitWriter(512)
	require.NoError(t, w.WriteIntoPacket(bw2, 2, time.Now(), world, ch, reg))

	rec, ok := w.UpdateRecord(2)
	require.True(t, ok)
	assert.Len(t, rec.Masks, 1)

	clear, registered := ch.DiffHandler().IsClear(e, positionKind)
	require.True(t, registered)
	assert.True(t, clear, "a successfully written update must clear the dirty mask")
}

func TestOversizeComponentInEmptyPacketPanics(t *testing.T) {
	reg := newTestRegistry(t)
	ch, err := worldchannel.New(65535, reg)
	require.NoError(t, err)
	world := ecs.NewMapWorld()
	e := ecs.Entity{ID: 3}
	spawnAndInsert(t, ch, world, e, hugeKind, hugeValue{})

	w := New(16, zap.NewNop()) // 128 bits: far smaller than the 4000-bit component
	bw := wire.NewBitWriter(16)

	assert.Panics(t, func() {
		_ = w.WriteIntoPacket(bw, 0, time.Now(), world, ch, reg)
	})
}

func TestActionOverflowCarriesOverToNextPacket(t *testing.T) {
	reg := newTestRegistry(t)
	ch, err := worldchannel.New(65535, reg)
	require.NoError(t, err)
	world := ecs.NewMapWorld()

	e1 := ecs.Entity{ID: 10}
	e2 := ecs.Entity{ID: 11}
	world.Spawn(e1)
	world.Spawn(e2)
	require.NoError(t, ch.HostSpawnEntity(e1))
	require.NoError(t, ch.HostSpawnEntity(e2))

	// A budget that fits exactly one bare SpawnEntity action but not two:
	// the 1-bit empty update-section terminator leaves 39 bits for the
	// action section, which covers one entry's 28-bit cost (1 continue +
	// 16-bit absolute id + 11-bit spawn payload) plus its 1-bit reserve
	// but not a second entry's further 16 bits.
	w := New(5, zap.NewNop()) // 40 bits
	bw := wire.NewBitWriter(5)
	require.NoError(t, w.WriteIntoPacket(bw, 0, time.Now(), world, ch, reg))

	rec, ok := w.TakeActionRecord(0)
	require.True(t, ok)
	assert.Len(t, rec.Entries, 1, "only one spawn should fit in this tiny packet")

	// the second spawn must still be deliverable on the very next packet,
	// not dropped (spec.md §5 backpressure: "waits until next tick").
	bw2 := wire.NewBitWriter(64)
	w2 := New(64, zap.NewNop())
	w2.pendingActions = w.pendingActions
	require.NoError(t, w2.WriteIntoPacket(bw2, 1, time.Now(), world, ch, reg))
	rec2, ok := w2.TakeActionRecord(1)
	require.True(t, ok)
	assert.Len(t, rec2.Entries, 1)
}
