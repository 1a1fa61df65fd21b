package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// IsTerminal reports whether no further status or driver mutation is
// permitted on an order in this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type Address struct {
	Street       string `json:"street"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Instructions string `json:"instructions,omitempty"`
}

type Order struct {
	ID                int64                `json:"id"`
	OrderNumber       string               `json:"order_number"`
	UserID            int64                `json:"user_id"`
	Status            OrderStatus          `json:"status"`
	Subtotal          decimal.Decimal      `json:"subtotal"`
	ShippingCost      decimal.Decimal      `json:"shipping_cost"`
	Tax               decimal.Decimal      `json:"tax"`
	Discount          decimal.Decimal      `json:"discount"`
	Total             decimal.Decimal      `json:"total"`
	PaymentMethod     string               `json:"payment_method"`
	PaymentStatus     PaymentStatus        `json:"payment_status"`
	ShippingAddress   Address              `json:"shipping_address"`
	DriverID          *int64               `json:"driver_id,omitempty"`
	TrackingCode      string               `json:"tracking_code,omitempty"`
	Notes             string               `json:"notes,omitempty"`
	EstimatedDelivery *time.Time           `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time           `json:"actual_delivery,omitempty"`
	CancelledAt       *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	Version           int                  `json:"version"`
	Items             []OrderItem          `json:"items,omitempty"`
	History           []StatusHistoryEntry `json:"history,omitempty"`
	Driver            *DriverProfile       `json:"driver,omitempty"`
}

// RecomputeTotal keeps total = subtotal + tax + shipping - discount.
func (o *Order) RecomputeTotal() {
	o.Total = o.Subtotal.Add(o.Tax).Add(o.ShippingCost).Sub(o.Discount)
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type StatusHistoryEntry struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	ActorID   *int64      `json:"actor_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Driver is the full record as held by the driver-management side.
type Driver struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Vehicle   string    `json:"vehicle"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DriverProfile is the display-safe projection embedded in order reads.
type DriverProfile struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Vehicle string `json:"vehicle"`
}

func (d *Driver) Profile() *DriverProfile {
	return &DriverProfile{ID: d.ID, Name: d.Name, Vehicle: d.Vehicle}
}
