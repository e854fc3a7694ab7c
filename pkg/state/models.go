package state

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Role identifies which kind of actor a connection authenticated as.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

// ParseRole validates a role string coming off the wire.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleDriver, RoleRider:
		return Role(s), true
	default:
		return "", false
	}
}

// Room returns the static broadcast room every connection of this role is
// auto-joined into on registration.
func (r Role) Room() string {
	switch r {
	case RoleAdmin:
		return "admins"
	case RoleDriver:
		return "drivers"
	case RoleRider:
		return "riders"
	}
	return ""
}

// OrderRoom names the dynamic room carrying updates for a single order.
func OrderRoom(orderID int64) string {
	return "order:" + strconv.FormatInt(orderID, 10)
}

// Link is the send side of a live transport session. *transport.Connection
// satisfies it; tests substitute fakes.
type Link interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Connection is the registry's representation of one authenticated
// transport session.
type Connection struct {
	ID     uuid.UUID
	Role   Role
	UserID int64

	// CurrentOrderID is the order a driver connection is actively serving;
	// zero means none. Set by order:accept or a control-plane override.
	CurrentOrderID int64

	Link         Link
	RegisteredAt time.Time
}

// Stats is a per-role census of registered actors.
type Stats struct {
	Admins  int `json:"admins"`
	Drivers int `json:"drivers"`
	Riders  int `json:"riders"`
}
