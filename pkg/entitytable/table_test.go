package entitytable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embervault/netreplica/pkg/ecs"
)

func TestGenerateAndLookupBothDirections(t *testing.T) {
	tbl, err := New(65535)
	require.NoError(t, err)

	e := ecs.Entity{ID: 7, Gen: 1}
	id, err := tbl.Generate(e)
	require.NoError(t, err)

	gotNet, err := tbl.EntityToNet(e)
	require.NoError(t, err)
	assert.Equal(t, id, gotNet)

	gotEntity, err := tbl.NetToEntity(id)
	require.NoError(t, err)
	assert.Equal(t, e, gotEntity)
}

func TestGenerateTwiceFails(t *testing.T) {
	tbl, err := New(65535)
	require.NoError(t, err)
	e := ecs.Entity{ID: 1}
	_, err = tbl.Generate(e)
	require.NoError(t, err)
	_, err = tbl.Generate(e)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestUnknownLookupsReturnNotFoundNeverPanic(t *testing.T) {
	tbl, err := New(65535)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, err := tbl.EntityToNet(ecs.Entity{ID: 99})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = tbl.NetToEntity(NetEntity(12345))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRecycleReleasesIdForReuse(t *testing.T) {
	tbl, err := New(2) // tiny space: ids 0,1,2
	require.NoError(t, err)

	e1 := ecs.Entity{ID: 1}
	e2 := ecs.Entity{ID: 2}
	e3 := ecs.Entity{ID: 3}
	e4 := ecs.Entity{ID: 4}

	id1, err := tbl.Generate(e1)
	require.NoError(t, err)
	_, err = tbl.Generate(e2)
	require.NoError(t, err)
	_, err = tbl.Generate(e3)
	require.NoError(t, err)

	// space exhausted
	_, err = tbl.Generate(e4)
	require.Error(t, err)

	require.NoError(t, tbl.Recycle(id1))
	id4, err := tbl.Generate(e4)
	require.NoError(t, err)
	assert.Equal(t, id1, id4, "recycled id should be reused before minting a new one")

	// e1 is no longer resolvable once recycled
	_, err = tbl.EntityToNet(e1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecycleUnknownIdFails(t *testing.T) {
	tbl, err := New(65535)
	require.NoError(t, err)
	err = tbl.Recycle(NetEntity(5))
	assert.ErrorIs(t, err, ErrNotFound)
}
