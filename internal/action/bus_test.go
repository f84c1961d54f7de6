package action

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

func TestBus_SubscribeAndCancel(t *testing.T) {
	b := NewBus(2)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	assert.Equal(t, 2, b.Publish(Event{Type: EventCreated, Action: storage.Action{ID: "a1"}}))
	assert.Equal(t, "a1", (<-ch1).Action.ID)
	assert.Equal(t, "a1", (<-ch2).Action.ID)

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, b.Publish(Event{Type: EventConfirmed}))
}

func TestBus_FullSubscriberMissesEvents(t *testing.T) {
	b := NewBus(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	assert.Equal(t, 1, b.Publish(Event{Type: EventCreated}))
	assert.Equal(t, 0, b.Publish(Event{Type: EventConfirmed}))
	assert.Equal(t, EventCreated, (<-ch).Type)
}
