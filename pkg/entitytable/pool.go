package entitytable

import "fmt"

// recyclePool hands out NetEntity ids, preferring previously-released
// ones (spec.md §4.2 "generate() prefers recycled ids") over a fresh
// monotonic counter, and refuses to exceed maxNetEntity.
type recyclePool struct {
	next      uint32 // next never-used id
	max       uint32
	available []NetEntity // LIFO stack of released ids
}

func newRecyclePool(maxNetEntity uint16) *recyclePool {
	return &recyclePool{max: uint32(maxNetEntity)}
}

func (p *recyclePool) take() (NetEntity, error) {
	if n := len(p.available); n > 0 {
		id := p.available[n-1]
		p.available = p.available[:n-1]
		return id, nil
	}
	if p.next > p.max {
		return 0, fmt.Errorf("entitytable: net entity space exhausted (max %d)", p.max)
	}
	id := NetEntity(p.next)
	p.next++
	return id, nil
}

func (p *recyclePool) release(id NetEntity) {
	p.available = append(p.available, id)
}
