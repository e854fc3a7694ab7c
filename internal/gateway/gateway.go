// Package gateway is the realtime protocol engine. It owns the connection
// lifecycle (accept → authenticate → register → active → teardown),
// interprets inbound actor events, and exposes the fan-out primitives the
// control plane builds on.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Quniber/Wasel-sub001/internal/auth"
	"github.com/Quniber/Wasel-sub001/pkg/state"
	"github.com/google/uuid"
)

var (
	errAuthFailed       = errors.New("authentication failed")
	errHandshakeTimeout = errors.New("handshake deadline exceeded")
)

// session is the gateway's per-connection bookkeeping. Before registration
// it only knows the transport; after a successful handshake it mirrors the
// actor identity so teardown can run even when the registry entry was
// already superseded by a newer connection.
type session struct {
	link       state.Link
	ip         string
	registered bool
	role       state.Role
	userID     int64
	authTimer  *time.Timer
}

type Gateway struct {
	logger           *slog.Logger
	state            state.Manager
	verifier         *auth.Verifier
	handshakeTimeout time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	perIP    map[string]int
}

func New(logger *slog.Logger, manager state.Manager, verifier *auth.Verifier, handshakeTimeout time.Duration) *Gateway {
	return &Gateway{
		logger:           logger.With(slog.String("component", "gateway")),
		state:            manager,
		verifier:         verifier,
		handshakeTimeout: handshakeTimeout,
		sessions:         make(map[uuid.UUID]*session),
		perIP:            make(map[string]int),
	}
}

// HandleConnection admits a freshly upgraded transport session. The peer
// must complete the auth handshake before the deadline or the socket is
// closed. Call before the transport's pumps start.
func (g *Gateway) HandleConnection(link state.Link, ip string) {
	sess := &session{link: link, ip: ip}
	if g.handshakeTimeout > 0 {
		sess.authTimer = time.AfterFunc(g.handshakeTimeout, func() {
			g.mu.Lock()
			s, ok := g.sessions[link.ID()]
			pending := ok && !s.registered
			g.mu.Unlock()
			if pending {
				g.logger.Warn("Closing connection: handshake deadline exceeded", slog.String("connID", link.ID().String()))
				link.Close(errHandshakeTimeout)
			}
		})
	}

	g.mu.Lock()
	g.sessions[link.ID()] = sess
	g.perIP[ip]++
	g.mu.Unlock()
}

// SessionCountForIP reports live sessions (authenticated or not) for one
// remote IP. The upgrade-time connection limiter reads it.
func (g *Gateway) SessionCountForIP(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.perIP[ip]
}

// HandleMessage is the transport's inbound frame callback.
func (g *Gateway) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	g.mu.Lock()
	sess, ok := g.sessions[connID]
	g.mu.Unlock()
	if !ok {
		return
	}

	var env ClientMessage
	if err := json.Unmarshal(msg, &env); err != nil {
		if !sess.registered {
			sess.link.Close(errAuthFailed)
			return
		}
		g.logger.Warn("Dropping unparseable frame", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}

	if !sess.registered {
		g.handleHandshake(sess, env)
		return
	}
	g.dispatch(sess, env)
}

// handleHandshake runs the Authenticating state. All three checks (role,
// token presence, verifier) collapse into one generic closure so the peer
// cannot tell which one failed.
func (g *Gateway) handleHandshake(sess *session, env ClientMessage) {
	connID := sess.link.ID()

	if env.Event != eventAuth {
		sess.link.Close(errAuthFailed)
		return
	}

	var p authPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		sess.link.Close(errAuthFailed)
		return
	}
	role, roleOK := state.ParseRole(p.Type)
	if !roleOK || p.Token == "" {
		sess.link.Close(errAuthFailed)
		return
	}
	userID, ok := g.verifier.Verify(p.Token, p.Type)
	if !ok {
		g.logger.Warn("Rejected handshake", slog.String("connID", connID.String()), slog.String("claimedRole", p.Type))
		sess.link.Close(errAuthFailed)
		return
	}

	if sess.authTimer != nil {
		sess.authTimer.Stop()
	}

	conn := g.state.Register(role, userID, sess.link)
	g.state.Join(conn.ID, role.Room())

	g.mu.Lock()
	sess.registered = true
	sess.role = role
	sess.userID = userID
	g.mu.Unlock()

	g.send(sess.link, EventConnected, connectedPayload{UserID: userID, Type: string(role)})
	g.logger.Info("Actor registered",
		slog.String("role", string(role)),
		slog.Int64("userID", userID),
		slog.String("connID", connID.String()),
	)
}

// dispatch routes one inbound event for a registered connection. Events
// declared for a different role than the connection's are dropped without
// side effects.
func (g *Gateway) dispatch(sess *session, env ClientMessage) {
	switch env.Event {
	case eventDriverOnline:
		if sess.role != state.RoleDriver {
			return
		}
		var p driverOnlinePayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return
			}
		}
		g.EmitToRole(state.RoleAdmin, EventDriverStatus, DriverStatusPayload{
			DriverID: sess.userID,
			Status:   "online",
			Services: p.Services,
		})

	case eventDriverOffline:
		if sess.role != state.RoleDriver {
			return
		}
		g.EmitToRole(state.RoleAdmin, EventDriverStatus, DriverStatusPayload{
			DriverID: sess.userID,
			Status:   "offline",
		})

	case eventDriverLocation:
		if sess.role != state.RoleDriver {
			return
		}
		var p driverLocationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if p.Latitude == nil || p.Longitude == nil {
			return
		}
		update := driverLocationBroadcast{
			DriverID:  sess.userID,
			Latitude:  *p.Latitude,
			Longitude: *p.Longitude,
			Heading:   p.Heading,
		}
		if orderID, ok := g.state.CurrentOrderOf(sess.link.ID()); ok {
			g.EmitToRoom(state.OrderRoom(orderID), EventDriverLocation, update)
		}
		// Always mirrored to admins for the live fleet map.
		g.EmitToRole(state.RoleAdmin, EventDriverLocation, update)

	case eventOrderAccept:
		if sess.role != state.RoleDriver {
			return
		}
		var p orderRefPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.OrderID == 0 {
			return
		}
		// The business layer validated the assignment before the client got
		// here; the gateway trusts the event.
		g.state.SetCurrentOrder(sess.userID, p.OrderID)
		g.state.Join(sess.link.ID(), state.OrderRoom(p.OrderID))

	case eventOrderTrack:
		if sess.role != state.RoleRider {
			return
		}
		var p orderRefPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.OrderID == 0 {
			return
		}
		g.state.Join(sess.link.ID(), state.OrderRoom(p.OrderID))

	case eventAdminWatchOrder:
		if sess.role != state.RoleAdmin {
			return
		}
		var p orderRefPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.OrderID == 0 {
			return
		}
		g.state.Join(sess.link.ID(), state.OrderRoom(p.OrderID))

	default:
		g.logger.Debug("Dropping unknown event", slog.String("event", env.Event))
	}
}

// CloseAll closes every live session, authenticated or not. Used by the
// server's graceful shutdown.
func (g *Gateway) CloseAll(err error) {
	g.mu.Lock()
	links := make([]state.Link, 0, len(g.sessions))
	for _, sess := range g.sessions {
		links = append(links, sess.link)
	}
	g.mu.Unlock()

	for _, link := range links {
		link.Close(err)
	}
}

// HandleClose is the transport's teardown callback. Rooms are purged before
// the registry entry so a broadcast fired mid-teardown can neither reach a
// room the connection is leaving nor resolve an entry that is gone.
func (g *Gateway) HandleClose(connID uuid.UUID, err error) {
	g.mu.Lock()
	sess, ok := g.sessions[connID]
	if ok {
		delete(g.sessions, connID)
		if g.perIP[sess.ip] <= 1 {
			delete(g.perIP, sess.ip)
		} else {
			g.perIP[sess.ip]--
		}
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	if sess.authTimer != nil {
		sess.authTimer.Stop()
	}
	if !sess.registered {
		return
	}

	g.state.LeaveAll(connID)
	g.state.Unregister(connID)

	// Disconnect always implies offline, declared or not.
	if sess.role == state.RoleDriver {
		g.EmitToRole(state.RoleAdmin, EventDriverStatus, DriverStatusPayload{
			DriverID: sess.userID,
			Status:   "offline",
		})
	}

	g.logger.Info("Actor torn down",
		slog.String("role", string(sess.role)),
		slog.Int64("userID", sess.userID),
		slog.String("connID", connID.String()),
		slog.Any("reason", err),
	)
}
