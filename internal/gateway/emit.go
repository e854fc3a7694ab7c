package gateway

import (
	"encoding/json"
	"log/slog"

	"github.com/Quniber/Wasel-sub001/pkg/state"
)

// send marshals one envelope and hands it to a single link. Delivery is
// best-effort; the transport drops frames for connections mid-teardown.
func (g *Gateway) send(link state.Link, event string, payload any) {
	msg, err := json.Marshal(ServerMessage{Event: event, Payload: payload})
	if err != nil {
		g.logger.Error("Failed to marshal outbound event", slog.String("event", event), slog.Any("error", err))
		return
	}
	link.Send(msg)
}

// EmitToActor sends to the one live connection registered for (role,
// userID). Returns whether such a connection existed; absence is a normal
// outcome, not an error.
func (g *Gateway) EmitToActor(role state.Role, userID int64, event string, payload any) bool {
	conn, ok := g.state.Lookup(role, userID)
	if !ok {
		return false
	}
	g.send(conn.Link, event, payload)
	return true
}

// EmitToRole broadcasts to the static room for a role.
func (g *Gateway) EmitToRole(role state.Role, event string, payload any) {
	g.EmitToRoom(role.Room(), event, payload)
}

// EmitToRoom broadcasts to every current member of a room. The envelope is
// marshalled once and fanned out.
func (g *Gateway) EmitToRoom(room string, event string, payload any) {
	members := g.state.RoomMembers(room)
	if len(members) == 0 {
		return
	}
	msg, err := json.Marshal(ServerMessage{Event: event, Payload: payload})
	if err != nil {
		g.logger.Error("Failed to marshal outbound event", slog.String("event", event), slog.Any("error", err))
		return
	}
	for _, conn := range members {
		conn.Link.Send(msg)
	}
}

// EmitToAll broadcasts to every registered connection regardless of role.
func (g *Gateway) EmitToAll(event string, payload any) {
	msg, err := json.Marshal(ServerMessage{Event: event, Payload: payload})
	if err != nil {
		g.logger.Error("Failed to marshal outbound event", slog.String("event", event), slog.Any("error", err))
		return
	}
	for _, conn := range g.state.Connections() {
		conn.Link.Send(msg)
	}
}
