package tracking

import "time"

// Event type names are the wire contract consumed by tracking clients.
const (
	EventTypeLocation = "location-update"
	EventTypeStatus   = "status-update"
)

type LocationUpdate struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	DriverID  int64     `json:"driverId"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusUpdate struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the envelope delivered to subscribers of an order's channel.
// Exactly one of Location and Status is set, matching Type.
type Event struct {
	Type     string          `json:"type"`
	OrderID  int64           `json:"orderId"`
	Location *LocationUpdate `json:"location,omitempty"`
	Status   *StatusUpdate   `json:"status,omitempty"`
}

// Publisher is what the facade publishes through; the in-process Hub
// satisfies it directly, the RedisRelay adds cross-instance fan-out.
type Publisher interface {
	PublishLocation(orderID int64, update LocationUpdate)
	PublishStatus(orderID int64, update StatusUpdate)
}
