package service

import "github.com/harborfresh/orderflow/internal/models"

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleDriver     Role = "driver"
	RoleDispatcher Role = "dispatcher"
	RoleAdmin      Role = "admin"
)

// Actor is the authenticated identity supplied by the auth
// collaborator. Credentials are verified upstream; this core trusts
// the id and role as given.
type Actor struct {
	ID   int64
	Role Role
}

func (a Actor) Elevated() bool {
	return a.Role == RoleAdmin || a.Role == RoleDispatcher
}

// Authorizer decides whether an actor may act on an order. The default
// implementation encodes ownership-or-elevated; deployments with richer
// policy plug in their own.
type Authorizer interface {
	CanView(actor Actor, order *models.Order) bool
	CanMutate(actor Actor, order *models.Order, target models.OrderStatus) bool
}

type roleAuthorizer struct{}

func NewRoleAuthorizer() Authorizer {
	return roleAuthorizer{}
}

func (roleAuthorizer) CanView(actor Actor, order *models.Order) bool {
	if actor.Elevated() {
		return true
	}
	if actor.Role == RoleDriver && order.DriverID != nil && *order.DriverID == actor.ID {
		return true
	}
	return order.UserID == actor.ID
}

// CanMutate allows elevated roles any transition, the assigned driver
// delivery, and the owner cancellation of their own order.
func (roleAuthorizer) CanMutate(actor Actor, order *models.Order, target models.OrderStatus) bool {
	if actor.Elevated() {
		return true
	}
	if actor.Role == RoleDriver && order.DriverID != nil && *order.DriverID == actor.ID {
		return target == models.OrderStatusDelivered
	}
	return order.UserID == actor.ID && target == models.OrderStatusCancelled
}
