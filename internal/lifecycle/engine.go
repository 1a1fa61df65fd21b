package lifecycle

import (
	"time"

	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/models"
)

// forward holds the single forward edge out of each non-terminal status.
// cancelled and refunded are reachable from any non-terminal status and
// are handled separately.
var forward = map[models.OrderStatus]models.OrderStatus{
	models.OrderStatusPending:   models.OrderStatusConfirmed,
	models.OrderStatusConfirmed: models.OrderStatusPreparing,
	models.OrderStatusPreparing: models.OrderStatusShipped,
	models.OrderStatusShipped:   models.OrderStatusDelivered,
}

var messages = map[models.OrderStatus]string{
	models.OrderStatusPending:   "Order received and awaiting confirmation",
	models.OrderStatusConfirmed: "Order confirmed",
	models.OrderStatusPreparing: "Order is being prepared",
	models.OrderStatusShipped:   "Order is out for delivery",
	models.OrderStatusDelivered: "Order delivered",
	models.OrderStatusCancelled: "Order cancelled",
	models.OrderStatusRefunded:  "Order refunded",
}

// Change is the outcome of a validated transition: the fields the store
// must persist plus the history entry to append, all in one transaction.
// Nothing is mutated until the store applies it.
type Change struct {
	OrderID           int64
	FromStatus        models.OrderStatus
	Status            models.OrderStatus
	UpdatedAt         time.Time
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	CancelledAt       *time.Time
	History           models.StatusHistoryEntry
	Message           string
}

type Engine struct {
	deliveryLead time.Duration
}

func NewEngine(deliveryLead time.Duration) *Engine {
	return &Engine{deliveryLead: deliveryLead}
}

// CanTransition reports whether target is reachable from current in a
// single step. Dispatch may skip preparing: assigning a driver to a
// confirmed order ships it directly.
func CanTransition(current, target models.OrderStatus) bool {
	if current.IsTerminal() {
		return false
	}
	if target == models.OrderStatusCancelled || target == models.OrderStatusRefunded {
		return true
	}
	if target == models.OrderStatusShipped {
		return current == models.OrderStatusConfirmed || current == models.OrderStatusPreparing
	}
	return forward[current] == target
}

// Plan validates the requested transition against the order's current
// state and returns the Change to persist. The order itself is not
// modified.
func (e *Engine) Plan(order *models.Order, target models.OrderStatus, actorID *int64, note string, now time.Time) (Change, error) {
	if order.Status.IsTerminal() {
		return Change{}, database.ErrOrderTerminal
	}
	if !target.Valid() || !CanTransition(order.Status, target) {
		return Change{}, database.ErrInvalidTransition
	}
	if target == models.OrderStatusShipped && order.DriverID == nil {
		return Change{}, database.ErrInvalidTransition
	}

	change := Change{
		OrderID:    order.ID,
		FromStatus: order.Status,
		Status:     target,
		UpdatedAt:  now,
		Message:    Message(target),
		History: models.StatusHistoryEntry{
			OrderID:   order.ID,
			Status:    target,
			Note:      note,
			ActorID:   actorID,
			CreatedAt: now,
		},
	}

	switch target {
	case models.OrderStatusShipped:
		if order.EstimatedDelivery == nil {
			estimated := now.Add(e.deliveryLead)
			change.EstimatedDelivery = &estimated
		}
	case models.OrderStatusDelivered:
		delivered := now
		change.ActualDelivery = &delivered
	case models.OrderStatusCancelled:
		cancelled := now
		change.CancelledAt = &cancelled
	}

	return change, nil
}

// Message returns the human-readable description broadcast with a
// status, falling back to the raw status value.
func Message(status models.OrderStatus) string {
	if m, ok := messages[status]; ok {
		return m
	}
	return string(status)
}
