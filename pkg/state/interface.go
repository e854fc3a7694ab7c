package state

import (
	"github.com/google/uuid"
)

// Manager owns the authoritative actor↔connection index and room
// membership. Every method is atomic with respect to the others; callers
// never need external locking.
type Manager interface {
	// --- Connection Registry ---
	// Register inserts or overwrites the entry for (role, userID).
	// Last-connect-wins: a newer connection for the same actor replaces the
	// routing entry without closing the superseded transport.
	Register(role Role, userID int64, link Link) *Connection

	// Unregister removes the reverse-index entry for connID and drops the
	// forward entry only if it still points at this exact connection, so a
	// stale disconnect cannot clobber a newer session. Returns the removed
	// connection and whether anything was removed.
	Unregister(connID uuid.UUID) (*Connection, bool)

	Lookup(role Role, userID int64) (*Connection, bool)
	IsOnline(role Role, userID int64) bool
	OnlineIDs(role Role) []int64

	// SetCurrentOrder mutates the registered driver connection's current
	// order (zero clears it). No-op when the driver has no live entry.
	SetCurrentOrder(userID int64, orderID int64) bool

	// CurrentOrderOf reads the current order of a specific connection.
	CurrentOrderOf(connID uuid.UUID) (int64, bool)

	Stats() Stats

	// Connections snapshots every registered connection, for shutdown.
	Connections() []*Connection

	// --- Room Membership ---
	// Join and Leave are idempotent. Joining an empty room creates it;
	// leaving the last member removes it.
	Join(connID uuid.UUID, room string)
	Leave(connID uuid.UUID, room string)

	// LeaveAll purges the connection from every room it was part of.
	// Teardown must call this before Unregister.
	LeaveAll(connID uuid.UUID)

	RoomMembers(room string) []*Connection
}
