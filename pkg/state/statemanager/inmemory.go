package statemanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Quniber/Wasel-sub001/pkg/state"
	"github.com/google/uuid"
)

// InMemoryManager keeps all presence state in process memory. A single
// mutex guards both the registry and the room tables so the compound
// teardown sequence (LeaveAll then Unregister) never interleaves with a
// broadcast resolving a half-torn-down connection.
type InMemoryManager struct {
	mu sync.RWMutex

	// forward index: one map per role, userID → connection
	byRole map[state.Role]map[int64]*state.Connection
	// reverse index: connID → connection, used for teardown and room joins
	conns map[uuid.UUID]*state.Connection

	rooms       map[string]map[uuid.UUID]*state.Connection
	roomsByConn map[uuid.UUID]map[string]struct{}

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		byRole: map[state.Role]map[int64]*state.Connection{
			state.RoleAdmin:  {},
			state.RoleDriver: {},
			state.RoleRider:  {},
		},
		conns:       make(map[uuid.UUID]*state.Connection),
		rooms:       make(map[string]map[uuid.UUID]*state.Connection),
		roomsByConn: make(map[uuid.UUID]map[string]struct{}),
		logger:      logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) Register(role state.Role, userID int64, link state.Link) *state.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := &state.Connection{
		ID:           link.ID(),
		Role:         role,
		UserID:       userID,
		Link:         link,
		RegisteredAt: time.Now(),
	}

	if prev, exists := m.byRole[role][userID]; exists {
		// Last-connect-wins. The superseded transport stays open and keeps
		// its reverse-index entry until its own teardown; the identity guard
		// in Unregister keeps that late disconnect from clobbering this one.
		m.logger.Debug("Superseding existing registration",
			slog.String("role", string(role)),
			slog.Int64("userID", userID),
			slog.String("oldConnID", prev.ID.String()),
		)
	}

	m.byRole[role][userID] = conn
	m.conns[conn.ID] = conn
	m.logger.Debug("Connection registered",
		slog.String("role", string(role)),
		slog.Int64("userID", userID),
		slog.String("connID", conn.ID.String()),
	)
	return conn
}

func (m *InMemoryManager) Unregister(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// already deregistered
		return nil, false
	}
	delete(m.conns, connID)

	// Drop the forward entry only if it still points at this connection.
	if current, ok := m.byRole[conn.Role][conn.UserID]; ok && current.ID == connID {
		delete(m.byRole[conn.Role], conn.UserID)
	}

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return conn, true
}

func (m *InMemoryManager) Lookup(role state.Role, userID int64) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.byRole[role][userID]
	return conn, ok
}

func (m *InMemoryManager) IsOnline(role state.Role, userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byRole[role][userID]
	return ok
}

func (m *InMemoryManager) OnlineIDs(role state.Role) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.byRole[role]))
	for id := range m.byRole[role] {
		ids = append(ids, id)
	}
	return ids
}

func (m *InMemoryManager) SetCurrentOrder(userID int64, orderID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.byRole[state.RoleDriver][userID]
	if !ok {
		return false
	}
	conn.CurrentOrderID = orderID
	return true
}

func (m *InMemoryManager) CurrentOrderOf(connID uuid.UUID) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok || conn.CurrentOrderID == 0 {
		return 0, false
	}
	return conn.CurrentOrderID, true
}

func (m *InMemoryManager) Stats() state.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return state.Stats{
		Admins:  len(m.byRole[state.RoleAdmin]),
		Drivers: len(m.byRole[state.RoleDriver]),
		Riders:  len(m.byRole[state.RoleRider]),
	}
}

func (m *InMemoryManager) Connections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

// --- Room Membership ---

func (m *InMemoryManager) Join(connID uuid.UUID, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		m.logger.Warn("Join for unregistered connection ignored",
			slog.String("connID", connID.String()),
			slog.String("room", room),
		)
		return
	}

	members, exists := m.rooms[room]
	if !exists {
		members = make(map[uuid.UUID]*state.Connection)
		m.rooms[room] = members
	}
	if _, already := members[connID]; already {
		return
	}
	members[connID] = conn

	joined, exists := m.roomsByConn[connID]
	if !exists {
		joined = make(map[string]struct{})
		m.roomsByConn[connID] = joined
	}
	joined[room] = struct{}{}

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("room", room))
}

func (m *InMemoryManager) Leave(connID uuid.UUID, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, room)
}

func (m *InMemoryManager) leaveLocked(connID uuid.UUID, room string) {
	members, ok := m.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, room)
	}

	if joined, ok := m.roomsByConn[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(m.roomsByConn, connID)
		}
	}
}

func (m *InMemoryManager) LeaveAll(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for room := range m.roomsByConn[connID] {
		m.leaveLocked(connID, room)
	}
}

func (m *InMemoryManager) RoomMembers(room string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.rooms[room]
	if !ok {
		return nil
	}
	conns := make([]*state.Connection, 0, len(members))
	for _, c := range members {
		conns = append(conns, c)
	}
	return conns
}
