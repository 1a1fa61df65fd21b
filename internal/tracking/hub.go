package tracking

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Client is one connected observer. It is bound to at most one order's
// channel at a time and receives events on a buffered channel. The
// events channel is never closed; Done signals removal instead, so a
// concurrent publish can never hit a closed channel.
type Client struct {
	id     string
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the client has been unsubscribed and will receive
// no further events.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub is the tracking channel manager: a registry of subscribers keyed
// by order id. Channels are ephemeral; an empty channel is removed from
// the registry rather than retained. Broadcasts never block: a
// subscriber whose buffer is full is dropped, not waited on.
type Hub struct {
	mu       sync.RWMutex
	buffer   int
	channels map[int64]map[*Client]struct{}
	bindings map[*Client]int64
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		buffer:   buffer,
		channels: make(map[int64]map[*Client]struct{}),
		bindings: make(map[*Client]int64),
	}
}

func (h *Hub) NewClient() *Client {
	return &Client{
		id:     uuid.New().String(),
		events: make(chan Event, h.buffer),
		done:   make(chan struct{}),
	}
}

// Subscribe binds the client to the order's channel. Subscribing to the
// order it is already bound to is a no-op; subscribing to a different
// order unbinds it from the previous channel first.
func (h *Hub) Subscribe(client *Client, orderID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.bindings[client]; ok {
		if current == orderID {
			return
		}
		h.removeLocked(client, current)
	}

	subs, ok := h.channels[orderID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.channels[orderID] = subs
	}
	subs[client] = struct{}{}
	h.bindings[client] = orderID
}

// Unsubscribe removes the client and signals Done. Safe to call any
// number of times, including for clients that never subscribed.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	if orderID, ok := h.bindings[client]; ok {
		h.removeLocked(client, orderID)
	}
	h.mu.Unlock()

	client.close()
}

func (h *Hub) removeLocked(client *Client, orderID int64) {
	delete(h.bindings, client)
	if subs, ok := h.channels[orderID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.channels, orderID)
		}
	}
}

// Subscribers reports the current size of an order's channel.
func (h *Hub) Subscribers(orderID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[orderID])
}

func (h *Hub) PublishLocation(orderID int64, update LocationUpdate) {
	h.publish(orderID, Event{Type: EventTypeLocation, OrderID: orderID, Location: &update})
}

func (h *Hub) PublishStatus(orderID int64, update StatusUpdate) {
	h.publish(orderID, Event{Type: EventTypeStatus, OrderID: orderID, Status: &update})
}

// publish fans the event out to the order's current subscribers only.
// Publishing to an order with no subscribers is a no-op. A subscriber
// that cannot accept the event is removed so it never stalls the rest.
func (h *Hub) publish(orderID int64, event Event) {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.channels[orderID]))
	for client := range h.channels[orderID] {
		subs = append(subs, client)
	}
	h.mu.RUnlock()

	var dropped []*Client
	for _, client := range subs {
		select {
		case client.events <- event:
		default:
			dropped = append(dropped, client)
		}
	}

	for _, client := range dropped {
		slog.Warn("drop stalled tracking subscriber",
			"subscriber_id", client.id, "order_id", orderID)
		h.Unsubscribe(client)
	}
}
