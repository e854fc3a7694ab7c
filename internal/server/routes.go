package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/Quniber/Wasel-sub001/internal/controlplane"
	"github.com/Quniber/Wasel-sub001/pkg/state"
	"github.com/tidwall/gjson"
)

// registerRoutes wires the control-plane HTTP surface. These endpoints are
// consumed by the platform's backend services, never by end-user clients.
// Command endpoints are fire-and-forget: they report reachability, not
// downstream processing.
func (a *App) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /presence/stats", a.handleStats)
	mux.HandleFunc("GET /presence/drivers", a.handleOnlineDrivers)
	mux.HandleFunc("GET /presence/drivers/{id}", a.handleDriverOnline)
	mux.HandleFunc("POST /emit/{role}/{id}", a.handleEmitActor)
	mux.HandleFunc("POST /broadcast/{group}", a.handleBroadcast)
	mux.HandleFunc("POST /orders/{id}/emit", a.handleOrderEmit)
	mux.HandleFunc("POST /orders/{id}/status", a.handleOrderStatus)
	mux.HandleFunc("POST /dispatch", a.handleDispatch)
	mux.HandleFunc("PUT /drivers/{id}/order", a.handleSetDriverOrder)
	mux.HandleFunc("POST /notify/{role}/{id}", a.handleNotifyActor)
	mux.HandleFunc("POST /notify/{group}", a.handleNotifyGroup)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// groupRole maps the plural broadcast segments to roles. "all" is handled
// separately by the callers.
func groupRole(group string) (state.Role, bool) {
	switch group {
	case "admins":
		return state.RoleAdmin, true
	case "drivers":
		return state.RoleDriver, true
	case "riders":
		return state.RoleRider, true
	default:
		return "", false
	}
}

// readEmitBody pulls {event, payload} out of a raw command body. The
// payload stays an opaque raw chunk; the gateway relays it verbatim.
func readEmitBody(r *http.Request) (event string, payload json.RawMessage, ok bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		return "", nil, false
	}
	ev := gjson.GetBytes(body, "event")
	if ev.Type != gjson.String || ev.String() == "" {
		return "", nil, false
	}
	if p := gjson.GetBytes(body, "payload"); p.Exists() {
		payload = json.RawMessage(p.Raw)
	}
	return ev.String(), payload, true
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  a.control.Stats(),
	})
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.control.Stats())
}

func (a *App) handleOnlineDrivers(w http.ResponseWriter, r *http.Request) {
	ids := a.control.OnlineIDs(state.RoleDriver)
	writeJSON(w, http.StatusOK, map[string]any{"driverIds": ids})
}

func (a *App) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid driver id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": a.control.IsOnline(state.RoleDriver, id)})
}

func (a *App) handleEmitActor(w http.ResponseWriter, r *http.Request) {
	role, roleOK := state.ParseRole(r.PathValue("role"))
	if !roleOK {
		writeError(w, http.StatusNotFound, "unknown role")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid actor id")
		return
	}
	event, payload, ok := readEmitBody(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "body must carry a non-empty event")
		return
	}
	delivered := a.control.EmitToActor(role, id, event, payload)
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

func (a *App) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	event, payload, ok := readEmitBody(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "body must carry a non-empty event")
		return
	}

	if group == "all" {
		a.control.EmitToEveryone(event, payload)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	role, roleOK := groupRole(group)
	if !roleOK {
		writeError(w, http.StatusNotFound, "unknown broadcast group")
		return
	}
	a.control.EmitToRoleGroup(role, event, payload)
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleOrderEmit(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	event, payload, ok := readEmitBody(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "body must carry a non-empty event")
		return
	}
	a.control.EmitToOrderRoom(orderID, event, payload)
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || gjson.GetBytes(body, "status").Type != gjson.String {
		writeError(w, http.StatusBadRequest, "body must carry a status string")
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	a.control.EmitOrderStatus(orderID, payload)
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req controlplane.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed dispatch request")
		return
	}
	if req.DriverID <= 0 || req.OrderID <= 0 {
		writeError(w, http.StatusBadRequest, "driverId and orderId are required")
		return
	}
	accepted := a.control.DispatchOrder(req)
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (a *App) handleSetDriverOrder(w http.ResponseWriter, r *http.Request) {
	driverID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid driver id")
		return
	}
	var req struct {
		OrderID *int64 `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	var orderID int64
	if req.OrderID != nil {
		orderID = *req.OrderID
	}
	applied := a.control.SetDriverOrder(driverID, orderID)
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (a *App) decodeNotification(w http.ResponseWriter, r *http.Request) (controlplane.Notification, bool) {
	var n controlplane.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil || n.Message == "" {
		writeError(w, http.StatusBadRequest, "notification requires a message")
		return n, false
	}
	return n, true
}

func (a *App) handleNotifyActor(w http.ResponseWriter, r *http.Request) {
	role, roleOK := state.ParseRole(r.PathValue("role"))
	if !roleOK {
		writeError(w, http.StatusNotFound, "unknown role")
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid actor id")
		return
	}
	n, ok := a.decodeNotification(w, r)
	if !ok {
		return
	}
	delivered := a.control.Notify(role, id, n)
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

func (a *App) handleNotifyGroup(w http.ResponseWriter, r *http.Request) {
	role, roleOK := groupRole(r.PathValue("group"))
	if !roleOK {
		writeError(w, http.StatusNotFound, "unknown notify group")
		return
	}
	n, ok := a.decodeNotification(w, r)
	if !ok {
		return
	}
	a.control.NotifyRole(role, n)
	w.WriteHeader(http.StatusAccepted)
}
