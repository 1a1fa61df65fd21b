package tracking

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case event := <-c.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case event := <-c.Events():
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesOnlySubscribedOrder(t *testing.T) {
	hub := NewHub(4)

	watcherA := hub.NewClient()
	watcherB := hub.NewClient()
	hub.Subscribe(watcherA, 1)
	hub.Subscribe(watcherB, 2)

	hub.PublishLocation(1, LocationUpdate{Lat: 52.1, Lng: 4.3, DriverID: 7, Timestamp: time.Now()})

	event := recvEvent(t, watcherA)
	if event.Type != EventTypeLocation || event.OrderID != 1 {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Location == nil || event.Location.DriverID != 7 {
		t.Errorf("location payload missing or wrong: %+v", event.Location)
	}

	assertNoEvent(t, watcherB)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(4)

	// Must not panic or error.
	hub.PublishStatus(99, StatusUpdate{Status: "confirmed", Timestamp: time.Now()})

	if n := hub.Subscribers(99); n != 0 {
		t.Errorf("empty channel should not be materialized, got %d subscribers", n)
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	hub := NewHub(4)

	client := hub.NewClient()
	hub.Subscribe(client, 1)
	hub.Subscribe(client, 1)

	if n := hub.Subscribers(1); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	hub.PublishStatus(1, StatusUpdate{Status: "confirmed", Timestamp: time.Now()})
	recvEvent(t, client)
	assertNoEvent(t, client)
}

func TestRebindMovesSubscriber(t *testing.T) {
	hub := NewHub(4)

	client := hub.NewClient()
	hub.Subscribe(client, 1)
	hub.Subscribe(client, 2)

	if n := hub.Subscribers(1); n != 0 {
		t.Errorf("expected old channel emptied, got %d subscribers", n)
	}
	if n := hub.Subscribers(2); n != 1 {
		t.Errorf("expected 1 subscriber on new channel, got %d", n)
	}

	hub.PublishStatus(1, StatusUpdate{Status: "confirmed", Timestamp: time.Now()})
	assertNoEvent(t, client)

	hub.PublishStatus(2, StatusUpdate{Status: "shipped", Timestamp: time.Now()})
	event := recvEvent(t, client)
	if event.OrderID != 2 {
		t.Errorf("expected event for order 2, got %d", event.OrderID)
	}
}

func TestUnsubscribeIsRepeatable(t *testing.T) {
	hub := NewHub(4)

	client := hub.NewClient()
	hub.Subscribe(client, 1)

	hub.Unsubscribe(client)
	hub.Unsubscribe(client)

	select {
	case <-client.Done():
	default:
		t.Error("Done must be closed after unsubscribe")
	}

	hub.PublishStatus(1, StatusUpdate{Status: "confirmed", Timestamp: time.Now()})
	assertNoEvent(t, client)

	// Unsubscribing a client that never subscribed is also fine.
	hub.Unsubscribe(hub.NewClient())
}

func TestJammedSubscriberIsDropped(t *testing.T) {
	hub := NewHub(1)

	stuck := hub.NewClient()
	healthy := hub.NewClient()
	hub.Subscribe(stuck, 1)
	hub.Subscribe(healthy, 1)

	// Fill stuck's buffer, drain healthy, then publish again: stuck
	// must be removed, healthy must keep receiving.
	hub.PublishStatus(1, StatusUpdate{Status: "confirmed", Timestamp: time.Now()})
	recvEvent(t, healthy)
	hub.PublishStatus(1, StatusUpdate{Status: "preparing", Timestamp: time.Now()})
	recvEvent(t, healthy)

	select {
	case <-stuck.Done():
	case <-time.After(time.Second):
		t.Fatal("jammed subscriber was not removed")
	}
	if n := hub.Subscribers(1); n != 1 {
		t.Errorf("expected 1 remaining subscriber, got %d", n)
	}

	hub.PublishStatus(1, StatusUpdate{Status: "shipped", Timestamp: time.Now()})
	recvEvent(t, healthy)
}

func TestEmptyChannelEvicted(t *testing.T) {
	hub := NewHub(4)

	client := hub.NewClient()
	hub.Subscribe(client, 1)
	hub.Unsubscribe(client)

	hub.mu.RLock()
	_, exists := hub.channels[1]
	hub.mu.RUnlock()
	if exists {
		t.Error("channel with no subscribers must be evicted from the registry")
	}
}
