package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesDomainSubscribers(t *testing.T) {
	b := NewBroadcaster(time.Minute)
	ch := b.subscribe("orders")
	defer b.unsubscribe("orders", ch)

	b.Publish("orders", "created", map[string]any{"id": "row-1"})
	b.Publish("product", "created", map[string]any{"id": "other"})

	select {
	case event := <-ch:
		assert.Equal(t, "orders", event.Domain)
		assert.Equal(t, "created", event.Action)
		assert.Equal(t, "row-1", event.Payload["id"])
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case event := <-ch:
		t.Fatalf("unexpected cross-domain event: %+v", event)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcaster(time.Minute)
	ch := b.subscribe("orders")
	defer b.unsubscribe("orders", ch)

	done := make(chan struct{})
	go func() {
		// Nobody drains ch; the buffer fills and publishes drop.
		for i := 0; i < 100; i++ {
			b.Publish("orders", "updated", map[string]any{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeRemovesListener(t *testing.T) {
	b := NewBroadcaster(time.Minute)
	ch := b.subscribe("ads")
	require.Equal(t, 1, b.SubscriberCount("ads"))

	b.unsubscribe("ads", ch)
	assert.Equal(t, 0, b.SubscriberCount("ads"))
}
