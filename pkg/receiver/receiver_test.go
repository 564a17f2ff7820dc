package receiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embervault/netreplica/pkg/action"
	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/entitytable"
)

const positionKind component.Kind = 1

type call struct {
	name  string
	e     entitytable.NetEntity
	k     component.Kind
	value any
}

type fakeSink struct{ calls []call }

func (f *fakeSink) EntitySpawned(e entitytable.NetEntity, comps []action.ComponentValue) {
	f.calls = append(f.calls, call{name: "spawn", e: e})
}
func (f *fakeSink) EntityDespawned(e entitytable.NetEntity) {
	f.calls = append(f.calls, call{name: "despawn", e: e})
}
func (f *fakeSink) ComponentInserted(e entitytable.NetEntity, k component.Kind, value any) {
	f.calls = append(f.calls, call{name: "insert", e: e, k: k, value: value})
}
func (f *fakeSink) ComponentRemoved(e entitytable.NetEntity, k component.Kind) {
	f.calls = append(f.calls, call{name: "remove", e: e, k: k})
}

func (f *fakeSink) names() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.name
	}
	return out
}

func TestSpawnThenDespawnInOrder(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1

	r.Receive(10, action.Spawn(e, nil))
	r.Receive(11, action.Despawn(e))

	assert.Equal(t, []string{"spawn", "despawn"}, sink.names())
}

func TestDuplicateSpawnIsIgnored(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1

	r.Receive(10, action.Spawn(e, nil))
	r.Receive(10, action.Spawn(e, nil))

	assert.Equal(t, []string{"spawn"}, sink.names())
}

func TestStaleActionBelowLastCanonicalIsIgnored(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1

	r.Receive(20, action.Spawn(e, nil))
	r.Receive(5, action.Despawn(e)) // older id; must be ignored outright

	assert.Equal(t, []string{"spawn"}, sink.names())
}

func TestDespawnBeforeSpawnIsBufferedThenDrained(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1

	// despawn arrives first (entity not yet spawned on this client) - buffered.
	r.Receive(11, action.Despawn(e))
	assert.Empty(t, sink.names())

	// spawn now arrives; must drain the buffered despawn right after.
	r.Receive(10, action.Spawn(e, nil))
	assert.Equal(t, []string{"spawn", "despawn"}, sink.names())
}

func TestInsertThenRemoveOnComponentChannel(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1

	r.Receive(10, action.Spawn(e, nil))
	r.Receive(11, action.Insert(e, positionKind, "v1"))
	r.Receive(12, action.Remove(e, positionKind))

	assert.Equal(t, []string{"spawn", "insert", "remove"}, sink.names())
}

func TestRemoveBeforeInsertIsBufferedThenDrained(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1
	r.Receive(10, action.Spawn(e, nil))

	r.Receive(13, action.Remove(e, positionKind)) // arrives before the insert it's removing
	assert.Equal(t, []string{"spawn"}, sink.names())

	r.Receive(12, action.Insert(e, positionKind, "v1"))
	assert.Equal(t, []string{"spawn", "insert", "remove"}, sink.names())
}

func TestNoopIsIgnored(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	r.Receive(1, action.Action{Type: action.Noop})
	assert.Empty(t, sink.calls)
}

func TestDespawnResetsComponentInsertedState(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1

	r.Receive(10, action.Spawn(e, nil))
	r.Receive(11, action.Insert(e, positionKind, "v1"))
	r.Receive(12, action.Despawn(e))
	r.Receive(13, action.Spawn(e, nil))
	// insert must be re-deliverable after a full despawn/respawn cycle.
	r.Receive(14, action.Insert(e, positionKind, "v2"))

	assert.Equal(t, []string{"spawn", "insert", "despawn", "spawn", "insert"}, sink.names())
}

func TestForgetDropsEntityState(t *testing.T) {
	sink := &fakeSink{}
	r := New(sink)
	const e entitytable.NetEntity = 1
	r.Receive(10, action.Spawn(e, nil))
	r.Forget(e)
	_, ok := r.entities[e]
	require.False(t, ok)
}
