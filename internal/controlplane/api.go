// Package controlplane is the thin façade the rest of the platform talks
// to: targeted emits, broadcasts, trip dispatch, and presence queries, all
// fire-and-forget over the gateway's send primitives.
package controlplane

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Quniber/Wasel-sub001/internal/gateway"
	"github.com/Quniber/Wasel-sub001/pkg/state"
)

type API struct {
	logger   *slog.Logger
	gw       *gateway.Gateway
	state    state.Manager
	offerTTL time.Duration
}

func New(logger *slog.Logger, gw *gateway.Gateway, manager state.Manager, offerTTL time.Duration) *API {
	return &API{
		logger:   logger.With(slog.String("component", "controlplane")),
		gw:       gw,
		state:    manager,
		offerTTL: offerTTL,
	}
}

// DispatchRequest is the trip offer the dispatch logic wants delivered to a
// candidate driver. Pickup, dropoff, and rider stay opaque; the gateway
// relays, it does not interpret.
type DispatchRequest struct {
	DriverID      int64           `json:"driverId"`
	OrderID       int64           `json:"orderId"`
	Pickup        json.RawMessage `json:"pickup"`
	Dropoff       json.RawMessage `json:"dropoff"`
	Rider         json.RawMessage `json:"rider"`
	EstimatedFare float64         `json:"estimatedFare"`
	Distance      float64         `json:"distance"`
	Duration      float64         `json:"duration"`
	PaymentMethod string          `json:"paymentMethod"`
	ServiceName   string          `json:"serviceName"`
}

// orderOffer is the order:new payload. ExpiresAt is informational for the
// receiving client; no timer enforces it here and re-dispatch on silence is
// the caller's policy.
type orderOffer struct {
	OrderID       int64           `json:"orderId"`
	Pickup        json.RawMessage `json:"pickup"`
	Dropoff       json.RawMessage `json:"dropoff"`
	Rider         json.RawMessage `json:"rider"`
	EstimatedFare float64         `json:"estimatedFare"`
	Distance      float64         `json:"distance"`
	Duration      float64         `json:"duration"`
	PaymentMethod string          `json:"paymentMethod"`
	ServiceName   string          `json:"serviceName"`
	ExpiresAt     int64           `json:"expiresAt"`
}

// Notification is the simple toast payload both apps render.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// DispatchOrder offers a trip to one driver. Returns false immediately,
// with no side effects, when the driver has no live connection.
func (a *API) DispatchOrder(req DispatchRequest) bool {
	if !a.state.IsOnline(state.RoleDriver, req.DriverID) {
		a.logger.Debug("Dispatch short-circuit: driver offline", slog.Int64("driverID", req.DriverID))
		return false
	}
	offer := orderOffer{
		OrderID:       req.OrderID,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		Rider:         req.Rider,
		EstimatedFare: req.EstimatedFare,
		Distance:      req.Distance,
		Duration:      req.Duration,
		PaymentMethod: req.PaymentMethod,
		ServiceName:   req.ServiceName,
		ExpiresAt:     time.Now().Add(a.offerTTL).UnixMilli(),
	}
	delivered := a.gw.EmitToActor(state.RoleDriver, req.DriverID, gateway.EventOrderNew, offer)
	a.logger.Info("Order dispatched",
		slog.Int64("orderID", req.OrderID),
		slog.Int64("driverID", req.DriverID),
		slog.Bool("delivered", delivered),
	)
	return delivered
}

// SetDriverOrder force-sets a driver's current order from an authoritative
// assignment, joining the driver's connection into the order room. A zero
// orderID clears the assignment.
func (a *API) SetDriverOrder(driverID, orderID int64) bool {
	applied := a.state.SetCurrentOrder(driverID, orderID)
	if !applied {
		return false
	}
	if orderID != 0 {
		if conn, ok := a.state.Lookup(state.RoleDriver, driverID); ok {
			a.state.Join(conn.ID, state.OrderRoom(orderID))
		}
	}
	return true
}

// EmitOrderStatus fans an order lifecycle change into the order room and
// always mirrors it to admins.
func (a *API) EmitOrderStatus(orderID int64, payload map[string]any) {
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["orderId"] = orderID
	a.gw.EmitToRoom(state.OrderRoom(orderID), gateway.EventOrderStatus, payload)
	a.gw.EmitToRole(state.RoleAdmin, gateway.EventOrderStatus, payload)
}

// EmitToActor relays an arbitrary event to one actor. False means "actor
// currently unreachable", which is expected, not exceptional.
func (a *API) EmitToActor(role state.Role, userID int64, event string, payload json.RawMessage) bool {
	return a.gw.EmitToActor(role, userID, event, payload)
}

func (a *API) EmitToRoleGroup(role state.Role, event string, payload json.RawMessage) {
	a.gw.EmitToRole(role, event, payload)
}

func (a *API) EmitToOrderRoom(orderID int64, event string, payload json.RawMessage) {
	a.gw.EmitToRoom(state.OrderRoom(orderID), event, payload)
}

func (a *API) EmitToEveryone(event string, payload json.RawMessage) {
	a.gw.EmitToAll(event, payload)
}

// Notify sends a notification toast to one actor.
func (a *API) Notify(role state.Role, userID int64, n Notification) bool {
	return a.gw.EmitToActor(role, userID, gateway.EventNotification, n)
}

// NotifyRole sends a notification toast to every actor of a role.
func (a *API) NotifyRole(role state.Role, n Notification) {
	a.gw.EmitToRole(role, gateway.EventNotification, n)
}

// --- Presence queries (pass-through reads) ---

func (a *API) IsOnline(role state.Role, userID int64) bool {
	return a.state.IsOnline(role, userID)
}

func (a *API) OnlineIDs(role state.Role) []int64 {
	return a.state.OnlineIDs(role)
}

func (a *API) Stats() state.Stats {
	return a.state.Stats()
}
