package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/harborfresh/orderflow/internal/models"
)

// OrderCache keeps read-through snapshots of orders. It is an
// optimization only: every failure path here degrades to the store.
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewOrderCache(client *redis.Client, ttl time.Duration) *OrderCache {
	return &OrderCache{client: client, ttl: ttl}
}

func key(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

func (c *OrderCache) Set(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(order.ID), data, c.ttl).Err()
}

// Get returns nil, nil on a cache miss.
func (c *OrderCache) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	data, err := c.client.Get(ctx, key(orderID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID int64) error {
	return c.client.Del(ctx, key(orderID)).Err()
}
