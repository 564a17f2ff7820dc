package diffpublish

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLocalPublishFansOutToAllSubscribers(t *testing.T) {
	l := NewLocal[int, string]()
	var got1, got2 []int

	l.Subscribe(uuid.New(), 1, "pos", func(e int, k string, bit int) { got1 = append(got1, bit) })
	l.Subscribe(uuid.New(), 1, "pos", func(e int, k string, bit int) { got2 = append(got2, bit) })

	l.Publish(1, "pos", 3)
	l.Publish(1, "pos", 7)

	assert.Equal(t, []int{3, 7}, got1)
	assert.Equal(t, []int{3, 7}, got2)
}

func TestLocalPublishIsScopedToExactKey(t *testing.T) {
	l := NewLocal[int, string]()
	var got []int
	l.Subscribe(uuid.New(), 1, "pos", func(e int, k string, bit int) { got = append(got, bit) })

	l.Publish(2, "pos", 9) // different entity
	l.Publish(1, "vel", 9) // different component kind

	assert.Empty(t, got)
}

func TestLocalUnsubscribeStopsDelivery(t *testing.T) {
	l := NewLocal[int, string]()
	var got []int
	unsub := l.Subscribe(uuid.New(), 1, "pos", func(e int, k string, bit int) { got = append(got, bit) })

	l.Publish(1, "pos", 1)
	unsub()
	l.Publish(1, "pos", 2)

	assert.Equal(t, []int{1}, got)
}

func TestLocalUnsubscribeOnlyRemovesItsOwnConnection(t *testing.T) {
	l := NewLocal[int, string]()
	var got1, got2 []int
	connA, connB := uuid.New(), uuid.New()
	unsubA := l.Subscribe(connA, 1, "pos", func(e int, k string, bit int) { got1 = append(got1, bit) })
	l.Subscribe(connB, 1, "pos", func(e int, k string, bit int) { got2 = append(got2, bit) })

	unsubA()
	l.Publish(1, "pos", 5)

	assert.Empty(t, got1)
	assert.Equal(t, []int{5}, got2)
}
