// Package entitytable implements LocalEntityTable (spec.md §4.2): a
// bidirectional WorldEntity <-> NetEntity table with a recycling id
// pool, scoped to one connection. Lookups never panic — a packet
// referencing an obsolete wire id can arrive at any time, and that must
// resolve to an explicit "does not exist" error, not a crash.
package entitytable

import (
	"errors"
	"fmt"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/embervault/netreplica/pkg/ecs"
)

// NetEntity is the compact per-connection integer name for a world
// entity (spec.md §3: "bit-packed; treat as 16-bit").
type NetEntity uint16

func (n NetEntity) String() string { return fmt.Sprintf("net(%d)", uint16(n)) }

// ErrNotFound is returned by lookups that miss — never a panic, because
// packets referencing an already-recycled id can arrive at any time.
var ErrNotFound = errors.New("entitytable: not found")

// ErrAlreadyExists is returned by Insert when the world entity already
// has a NetEntity assigned.
var ErrAlreadyExists = errors.New("entitytable: already exists")

const tableName = "entity_binding"

type binding struct {
	EntityKey string // "ID:Gen", unique index
	Entity    ecs.Entity
	NetID     NetEntity // unique index
}

var tableSchema = &memdb.TableSchema{
	Name: tableName,
	Indexes: map[string]*memdb.IndexSchema{
		"id": {
			Name:    "id",
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "EntityKey"},
		},
		"net": {
			Name:    "net",
			Unique:  true,
			Indexer: &memdb.UintFieldIndex{Field: "NetID"},
		},
	},
}

func entityKey(e ecs.Entity) string { return fmt.Sprintf("%d:%d", e.ID, e.Gen) }

// Table is the per-connection bidirectional entity table.
type Table struct {
	db   *memdb.MemDB
	pool *recyclePool
}

// New creates an empty Table. maxNetEntity bounds the id space (spec.md
// treats NetEntity as 16-bit, so callers typically pass 65535).
func New(maxNetEntity uint16) (*Table, error) {
	schema := &memdb.DBSchema{Tables: map[string]*memdb.TableSchema{tableName: tableSchema}}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("entitytable: new memdb: %w", err)
	}
	return &Table{db: db, pool: newRecyclePool(maxNetEntity)}, nil
}

// Generate allocates a fresh binding for e, preferring a recycled id
// over a brand-new one (spec.md §4.2: "generate() prefers recycled
// ids"). It fails if e already has a binding.
func (t *Table) Generate(e ecs.Entity) (NetEntity, error) {
	txn := t.db.Txn(true)
	defer txn.Abort()

	if _, err := t.lookupByEntity(txn, e); err == nil {
		return 0, fmt.Errorf("entitytable: generate %s: %w", e, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	id, err := t.pool.take()
	if err != nil {
		return 0, err
	}

	b := &binding{EntityKey: entityKey(e), Entity: e, NetID: id}
	if err := txn.Insert(tableName, b); err != nil {
		t.pool.release(id) // don't leak the id if the insert itself fails
		return 0, err
	}
	txn.Commit()
	return id, nil
}

// Recycle returns id to the pool. Per spec.md §3/§4.2 and DESIGN.md's
// "close-then-recycle" resolution, callers must only invoke this after
// on_entity_channel_closed — never at despawn-enqueue time — to avoid id
// aliasing while a despawn is still in flight over an unreliable
// transport.
func (t *Table) Recycle(id NetEntity) error {
	txn := t.db.Txn(true)
	defer txn.Abort()

	b, err := t.lookupByNet(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(tableName, b); err != nil {
		return err
	}
	txn.Commit()
	t.pool.release(id)
	return nil
}

// EntityToNet resolves a world entity to its NetEntity.
func (t *Table) EntityToNet(e ecs.Entity) (NetEntity, error) {
	txn := t.db.Txn(false)
	defer txn.Abort()
	b, err := t.lookupByEntity(txn, e)
	if err != nil {
		return 0, err
	}
	return b.NetID, nil
}

// NetToEntity resolves a NetEntity back to its world entity. A packet
// from an obsolete wire id must resolve to ErrNotFound here, never panic.
func (t *Table) NetToEntity(id NetEntity) (ecs.Entity, error) {
	txn := t.db.Txn(false)
	defer txn.Abort()
	b, err := t.lookupByNet(txn, id)
	if err != nil {
		return ecs.Entity{}, err
	}
	return b.Entity, nil
}

func (t *Table) lookupByEntity(txn *memdb.Txn, e ecs.Entity) (*binding, error) {
	res, err := txn.First(tableName, "id", entityKey(e))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("entitytable: entity %s: %w", e, ErrNotFound)
	}
	return res.(*binding), nil
}

func (t *Table) lookupByNet(txn *memdb.Txn, id NetEntity) (*binding, error) {
	res, err := txn.First(tableName, "net", id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("entitytable: net id %s: %w", id, ErrNotFound)
	}
	return res.(*binding), nil
}
