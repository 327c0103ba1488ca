package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventGateOpened, Message: "initialization gate opened"})

	ev1 := recvEvent(t, sub1)
	ev2 := recvEvent(t, sub2)
	assert.Equal(t, EventGateOpened, ev1.Type)
	assert.Equal(t, EventGateOpened, ev2.Type)
	assert.False(t, ev1.Timestamp.IsZero())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	// The channel is closed on unsubscribe
	_, open := <-sub
	assert.False(t, open)
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewBroker()
	b.Start()

	b.Stop()
	assert.NotPanics(t, func() { b.Stop() })

	// Publishing after Stop must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventConfigUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked after broker stop")
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()

	// Fill the slow subscriber's buffer and keep publishing
	for i := 0; i < cap(slow)+10; i++ {
		b.Publish(&Event{Type: EventConfigReloaded})
	}

	// The fast subscriber still receives events
	ev := recvEvent(t, fast)
	assert.Equal(t, EventConfigReloaded, ev.Type)
}
