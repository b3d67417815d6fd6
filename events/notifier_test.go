package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonet/skua/events"
)

func TestSubscribeNotify(t *testing.T) {
	n := events.NewNotifier[string]("test", 4)
	a := n.Subscribe()
	b := n.Subscribe()

	n.Notify("hello")
	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-b)
}

func TestNotifyVecKeepsOrder(t *testing.T) {
	n := events.NewNotifier[int]("test", 8)
	ch := n.Subscribe()

	n.NotifyVec([]int{1, 2, 3})
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

func TestFullSubscriberDropsEvents(t *testing.T) {
	n := events.NewNotifier[int]("test", 1)
	ch := n.Subscribe()

	// The second and third notify find the buffer full and are dropped;
	// delivery is best-effort and never blocks.
	n.Notify(1)
	n.Notify(2)
	n.Notify(3)

	assert.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected buffered event %d", v)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := events.NewNotifier[int]("test", 1)
	ch := n.Subscribe()
	n.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)

	// Notifying after unsubscribe must not panic or redeliver.
	n.Notify(7)
}

func TestDefaultBufferSize(t *testing.T) {
	n := events.NewNotifier[int]("test", 0)
	ch := n.Subscribe()
	for i := 0; i < events.DefaultBufferSize; i++ {
		n.Notify(i)
	}
	assert.Len(t, ch, events.DefaultBufferSize)
}
