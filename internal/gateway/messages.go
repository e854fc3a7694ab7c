package gateway

import "encoding/json"

// Inbound event names. Anything else is dropped.
const (
	eventAuth            = "auth"
	eventDriverOnline    = "driver:online"
	eventDriverOffline   = "driver:offline"
	eventDriverLocation  = "driver:location"
	eventOrderAccept     = "order:accept"
	eventOrderTrack      = "order:track"
	eventAdminWatchOrder = "admin:watch-order"
)

// Outbound event names. Exported ones are also emitted by the control plane.
const (
	EventConnected      = "connected"
	EventDriverStatus   = "driver:status"
	EventDriverLocation = "driver:location"
	EventOrderNew       = "order:new"
	EventOrderStatus    = "order:status"
	EventNotification   = "notification"
	EventDashboard      = "dashboard:update"
)

// ClientMessage is the inbound wire envelope.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the outbound wire envelope.
type ServerMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type authPayload struct {
	Token string `json:"token"`
	Type  string `json:"type"`
}

type driverOnlinePayload struct {
	Services []int64 `json:"services"`
}

// Required coordinates are pointers so a frame missing them is
// distinguishable from one at (0, 0) and can be dropped.
type driverLocationPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Heading   *float64 `json:"heading"`
}

type orderRefPayload struct {
	OrderID int64 `json:"orderId"`
}

type connectedPayload struct {
	UserID int64  `json:"userId"`
	Type   string `json:"type"`
}

// DriverStatusPayload announces a driver going online or offline to the
// admin room.
type DriverStatusPayload struct {
	DriverID int64   `json:"driverId"`
	Status   string  `json:"status"`
	Services []int64 `json:"services,omitempty"`
}

type driverLocationBroadcast struct {
	DriverID  int64    `json:"driverId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Heading   *float64 `json:"heading,omitempty"`
}
