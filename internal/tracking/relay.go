package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const channelPattern = "tracking:order:*"

func channelName(orderID int64) string {
	return fmt.Sprintf("tracking:order:%d", orderID)
}

// envelope is the Redis wire form of an Event. Origin lets each relay
// skip events it published itself, so local subscribers see them once.
type envelope struct {
	Type    string          `json:"type"`
	OrderID int64           `json:"orderId"`
	Origin  string          `json:"origin"`
	Data    json.RawMessage `json:"data"`
}

// RedisRelay mirrors every published event onto a Redis channel per
// order and feeds events published by other instances into the local
// hub, so tracking works across API replicas. Relay failures are
// logged and swallowed: the local broadcast already happened and live
// telemetry is best-effort.
type RedisRelay struct {
	id     string
	client *redis.Client
	hub    *Hub
}

func NewRedisRelay(client *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{
		id:     uuid.New().String(),
		client: client,
		hub:    hub,
	}
}

func (r *RedisRelay) PublishLocation(orderID int64, update LocationUpdate) {
	r.hub.PublishLocation(orderID, update)
	r.mirror(orderID, EventTypeLocation, update)
}

func (r *RedisRelay) PublishStatus(orderID int64, update StatusUpdate) {
	r.hub.PublishStatus(orderID, update)
	r.mirror(orderID, EventTypeStatus, update)
}

func (r *RedisRelay) mirror(orderID int64, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal tracking event", "error", err)
		return
	}

	env := envelope{
		Type:    eventType,
		OrderID: orderID,
		Origin:  r.id,
		Data:    data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		slog.Error("marshal tracking envelope", "error", err)
		return
	}

	ctx := context.Background()
	if err := r.client.Publish(ctx, channelName(orderID), raw).Err(); err != nil {
		slog.Error("relay tracking event", "order_id", orderID, "error", err)
	}
}

// Run consumes events relayed by other instances until ctx is
// cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPattern)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("tracking relay subscription closed")
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("drop malformed tracking event", "error", err)
		return
	}
	if env.Origin == r.id {
		return
	}

	switch env.Type {
	case EventTypeLocation:
		var update LocationUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			slog.Warn("drop malformed location update", "error", err)
			return
		}
		r.hub.PublishLocation(env.OrderID, update)
	case EventTypeStatus:
		var update StatusUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			slog.Warn("drop malformed status update", "error", err)
			return
		}
		r.hub.PublishStatus(env.OrderID, update)
	default:
		slog.Warn("drop tracking event with unknown type", "type", env.Type)
	}
}
