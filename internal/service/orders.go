package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/lifecycle"
	"github.com/harborfresh/orderflow/internal/models"
	"github.com/harborfresh/orderflow/internal/store"
	"github.com/harborfresh/orderflow/internal/tracking"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("actor not authorized for this order")
)

// OrderRepository is the persistence port the facade drives; the
// Postgres OrderStore is the production implementation.
type OrderRepository interface {
	Create(ctx context.Context, req store.CreateOrderRequest) (*models.Order, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64, filter store.ListFilter, cursor string) (*store.CursorPage, error)
	ListAll(ctx context.Context, filter store.ListFilter, page int) (*store.OffsetPage, error)
	ApplyChange(ctx context.Context, change lifecycle.Change, expectedVersion int, driverID *int64) (*models.Order, error)
}

// DriverDirectory is the driver-management collaborator surface used by
// this core: identity, availability, last-known location.
type DriverDirectory interface {
	Get(ctx context.Context, id int64) (*models.Driver, error)
	UpdateLocation(ctx context.Context, id int64, lat, lng float64) error
	SetAvailability(ctx context.Context, id int64, available bool) error
}

// Catalog resolves product id to the name and unit price captured into
// order items at creation time.
type Catalog interface {
	GetPricing(ctx context.Context, productID int64) (*store.ProductPricing, error)
}

// SnapshotCache is the optional read-through cache on the Get path.
type SnapshotCache interface {
	Get(ctx context.Context, orderID int64) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Invalidate(ctx context.Context, orderID int64) error
}

type OrderService struct {
	repo      OrderRepository
	drivers   DriverDirectory
	catalog   Catalog
	cache     SnapshotCache
	engine    *lifecycle.Engine
	publisher tracking.Publisher
	hub       *tracking.Hub
	authz     Authorizer
}

func NewOrderService(
	repo OrderRepository,
	drivers DriverDirectory,
	catalog Catalog,
	cache SnapshotCache,
	engine *lifecycle.Engine,
	publisher tracking.Publisher,
	hub *tracking.Hub,
	authz Authorizer,
) *OrderService {
	return &OrderService{
		repo:      repo,
		drivers:   drivers,
		catalog:   catalog,
		cache:     cache,
		engine:    engine,
		publisher: publisher,
		hub:       hub,
		authz:     authz,
	}
}

type CreateOrderInput struct {
	UserID          int64
	Items           []ItemInput
	ShippingCost    decimal.Decimal
	Tax             decimal.Decimal
	Discount        decimal.Decimal
	PaymentMethod   string
	ShippingAddress models.Address
	Notes           string
}

type ItemInput struct {
	ProductID int64
	Quantity  int
}

// CreateOrder validates shape, captures catalog pricing into the items,
// and persists through the store. Customers always create for
// themselves; elevated roles may create on behalf of a user.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, input CreateOrderInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, ErrInvalidInput
	}
	if input.ShippingCost.IsNegative() || input.Tax.IsNegative() || input.Discount.IsNegative() {
		return nil, ErrInvalidInput
	}

	userID := actor.ID
	if actor.Elevated() && input.UserID != 0 {
		userID = input.UserID
	}

	items := make([]store.OrderItemInput, 0, len(input.Items))
	subtotal := decimal.Zero
	for _, item := range input.Items {
		if item.Quantity < 1 {
			return nil, ErrInvalidInput
		}
		pricing, err := s.catalog.GetPricing(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, store.OrderItemInput{
			ProductID: pricing.ID,
			Name:      pricing.Name,
			Quantity:  item.Quantity,
			UnitPrice: pricing.Price,
		})
		subtotal = subtotal.Add(pricing.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	total := subtotal.Add(input.Tax).Add(input.ShippingCost).Sub(input.Discount)
	if !total.IsPositive() {
		return nil, ErrInvalidInput
	}

	order, err := s.repo.Create(ctx, store.CreateOrderRequest{
		UserID:          userID,
		Items:           items,
		ShippingCost:    input.ShippingCost,
		Tax:             input.Tax,
		Discount:        input.Discount,
		PaymentMethod:   input.PaymentMethod,
		ShippingAddress: input.ShippingAddress,
		Notes:           input.Notes,
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order created",
		"order_id", order.ID, "order_number", order.OrderNumber, "user_id", order.UserID)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, orderID)
		if err != nil {
			slog.WarnContext(ctx, "order cache read failed", "order_id", orderID, "error", err)
		} else if cached != nil {
			if !s.authz.CanView(actor, cached) {
				return nil, ErrForbidden
			}
			return cached, nil
		}
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanView(actor, order) {
		return nil, ErrForbidden
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, order); err != nil {
			slog.WarnContext(ctx, "order cache write failed", "order_id", orderID, "error", err)
		}
	}

	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, actor Actor, userID int64, filter store.ListFilter, cursor string) (*store.CursorPage, error) {
	if !actor.Elevated() {
		userID = actor.ID
	}
	return s.repo.ListByUser(ctx, userID, filter, cursor)
}

func (s *OrderService) ListAllOrders(ctx context.Context, actor Actor, filter store.ListFilter, page int) (*store.OffsetPage, error) {
	if !actor.Elevated() {
		return nil, ErrForbidden
	}
	return s.repo.ListAll(ctx, filter, page)
}

// Transition moves the order along the status graph. The store update
// is conditioned on the version read here; a lost race returns
// ErrConflict untouched and the caller may retry.
func (s *OrderService) Transition(ctx context.Context, actor Actor, orderID int64, target models.OrderStatus, note string) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanMutate(actor, order, target) {
		return nil, ErrForbidden
	}

	actorID := actor.ID
	change, err := s.engine.Plan(order, target, &actorID, note, time.Now())
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.ApplyChange(ctx, change, order.Version, nil)
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, change)
	return updated, nil
}

// AssignDriver binds an available driver to the order and dispatches it
// through the lifecycle engine, so history and broadcasts fire exactly
// as for any other transition.
func (s *OrderService) AssignDriver(ctx context.Context, actor Actor, orderID, driverID int64) (*models.Order, error) {
	if !actor.Elevated() {
		return nil, ErrForbidden
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, database.ErrOrderTerminal
	}

	driver, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !driver.Available {
		return nil, database.ErrDriverUnavailable
	}

	// Plan against a copy carrying the binding, so the engine's
	// driver-required check sees the assignment being made.
	planned := *order
	planned.DriverID = &driver.ID

	actorID := actor.ID
	change, err := s.engine.Plan(&planned, models.OrderStatusShipped, &actorID, "Driver assigned", time.Now())
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.ApplyChange(ctx, change, order.Version, &driver.ID)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "driver assigned", "order_id", orderID, "driver_id", driverID)
	s.afterChange(ctx, change)
	return updated, nil
}

func (s *OrderService) afterChange(ctx context.Context, change lifecycle.Change) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, change.OrderID); err != nil {
			slog.WarnContext(ctx, "order cache invalidation failed", "order_id", change.OrderID, "error", err)
		}
	}
	s.publisher.PublishStatus(change.OrderID, tracking.StatusUpdate{
		Status:    string(change.Status),
		Message:   change.Message,
		Timestamp: change.UpdatedAt,
	})
}

// PushDriverLocation records the driver's position and broadcasts it to
// the order's channel. Calls originate from the driver-management feed.
func (s *OrderService) PushDriverLocation(ctx context.Context, orderID, driverID int64, lat, lng float64) error {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DriverID == nil || *order.DriverID != driverID {
		return database.ErrDriverNotFound
	}

	if err := s.drivers.UpdateLocation(ctx, driverID, lat, lng); err != nil {
		slog.WarnContext(ctx, "persist driver location failed", "driver_id", driverID, "error", err)
	}

	s.publisher.PublishLocation(orderID, tracking.LocationUpdate{
		Lat:       lat,
		Lng:       lng,
		DriverID:  driverID,
		Timestamp: time.Now(),
	})
	return nil
}

// Subscribe binds a new tracking client to the order's channel after
// the usual view authorization. The caller owns the client and must
// Unsubscribe when the connection goes away.
func (s *OrderService) Subscribe(ctx context.Context, actor Actor, orderID int64) (*tracking.Client, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanView(actor, order) {
		return nil, ErrForbidden
	}

	client := s.hub.NewClient()
	s.hub.Subscribe(client, orderID)
	return client, nil
}

func (s *OrderService) Unsubscribe(client *tracking.Client) {
	s.hub.Unsubscribe(client)
}

// SetDriverAvailability toggles whether a driver can be assigned.
// Drivers flip their own flag; elevated roles flip anyone's.
func (s *OrderService) SetDriverAvailability(ctx context.Context, actor Actor, driverID int64, available bool) error {
	self := actor.Role == RoleDriver && actor.ID == driverID
	if !self && !actor.Elevated() {
		return ErrForbidden
	}
	return s.drivers.SetAvailability(ctx, driverID, available)
}
