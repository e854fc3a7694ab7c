package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Quniber/Wasel-sub001/internal/server"
	"github.com/Quniber/Wasel-sub001/pkg/config"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "server-e2e-secret"

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Address: ":0",
			Auth:    config.AuthConfig{JWTSecret: testSecret},
		},
		Transport: config.TransportConfig{
			ReadTimeout:      30 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			SendBuffer:       32,
		},
		Dispatch: config.DispatchConfig{OfferTTL: 15 * time.Second},
	}
	app := server.NewApp(newTestLogger(), context.Background(), cfg)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func mintToken(t *testing.T, userID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// dialActor opens a websocket, completes the handshake, and consumes the
// connected ack.
func dialActor(t *testing.T, srv *httptest.Server, role string, userID int64) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	auth := envelope{Event: "auth"}
	payload, _ := json.Marshal(map[string]string{"token": mintToken(t, userID), "type": role})
	auth.Payload = payload
	if err := wsjson.Write(ctx, conn, auth); err != nil {
		t.Fatalf("failed to send handshake: %v", err)
	}

	ack := readEvent(t, conn, "connected")
	var got struct {
		UserID int64  `json:"userId"`
		Type   string `json:"type"`
	}
	if err := json.Unmarshal(ack.Payload, &got); err != nil {
		t.Fatalf("unparseable connected ack: %v", err)
	}
	if got.UserID != userID || got.Type != role {
		t.Fatalf("unexpected connected ack: %+v", got)
	}
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, _ := json.Marshal(payload)
	if err := wsjson.Write(ctx, conn, envelope{Event: event, Payload: raw}); err != nil {
		t.Fatalf("failed to send %s: %v", event, err)
	}
}

// readEvent reads frames until one matches the wanted event name.
func readEvent(t *testing.T, conn *websocket.Conn, event string) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("reading for %s failed: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("GET %s: bad body: %v", url, err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestConnectAndPresence(t *testing.T) {
	srv := newTestServer(t)
	dialActor(t, srv, "driver", 7)

	var online struct {
		Online bool `json:"online"`
	}
	getJSON(t, srv.URL+"/presence/drivers/7", &online)
	if !online.Online {
		t.Error("driver 7 should be reported online")
	}

	var stats struct {
		Drivers int `json:"drivers"`
	}
	getJSON(t, srv.URL+"/presence/stats", &stats)
	if stats.Drivers != 1 {
		t.Errorf("expected 1 driver in stats, got %d", stats.Drivers)
	}
}

func TestInvalidHandshakeDisconnects(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	payload, _ := json.Marshal(map[string]string{"token": "garbage", "type": "driver"})
	if err := wsjson.Write(ctx, conn, envelope{Event: "auth", Payload: payload}); err != nil {
		t.Fatalf("failed to send handshake: %v", err)
	}

	// The server closes without any payload.
	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err == nil {
		t.Fatalf("expected connection close, got event %q", env.Event)
	}
}

func TestDriverOnlineReachesAdmin(t *testing.T) {
	srv := newTestServer(t)
	admin := dialActor(t, srv, "admin", 1)
	driver := dialActor(t, srv, "driver", 7)

	sendEvent(t, driver, "driver:online", map[string]any{"services": []int64{2}})

	env := readEvent(t, admin, "driver:status")
	var status struct {
		DriverID int64  `json:"driverId"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(env.Payload, &status); err != nil {
		t.Fatalf("unparseable driver:status: %v", err)
	}
	if status.DriverID != 7 || status.Status != "online" {
		t.Errorf("unexpected driver:status: %+v", status)
	}
}

func TestDispatchFlow(t *testing.T) {
	srv := newTestServer(t)
	admin := dialActor(t, srv, "admin", 1)
	driver := dialActor(t, srv, "driver", 7)
	rider := dialActor(t, srv, "rider", 3)

	// Dispatch the order to the online driver.
	resp := postJSON(t, srv.URL+"/dispatch", map[string]any{
		"driverId":      7,
		"orderId":       42,
		"pickup":        map[string]float64{"lat": 24.7, "lng": 46.6},
		"dropoff":       map[string]float64{"lat": 24.8, "lng": 46.7},
		"rider":         map[string]any{"id": 3},
		"estimatedFare": 30.0,
		"distance":      10.0,
		"duration":      15.0,
		"serviceName":   "economy",
	})
	var dispatched struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dispatched); err != nil || !dispatched.Accepted {
		t.Fatalf("expected accepted=true, err=%v", err)
	}

	offer := readEvent(t, driver, "order:new")
	var got struct {
		OrderID   int64 `json:"orderId"`
		ExpiresAt int64 `json:"expiresAt"`
	}
	if err := json.Unmarshal(offer.Payload, &got); err != nil {
		t.Fatalf("unparseable offer: %v", err)
	}
	if got.OrderID != 42 || got.ExpiresAt <= time.Now().UnixMilli() {
		t.Errorf("unexpected offer: %+v", got)
	}

	// Driver accepts, rider tracks, driver pings location.
	sendEvent(t, driver, "order:accept", map[string]any{"orderId": 42})
	sendEvent(t, rider, "order:track", map[string]any{"orderId": 42})

	// Room joins are processed in receipt order per connection, but across
	// connections we sync via presence of the member before pinging.
	time.Sleep(100 * time.Millisecond)
	sendEvent(t, driver, "driver:location", map[string]any{"latitude": 24.71, "longitude": 46.68, "heading": 90})

	for name, conn := range map[string]*websocket.Conn{"rider": rider, "admin": admin} {
		env := readEvent(t, conn, "driver:location")
		var loc struct {
			DriverID  int64   `json:"driverId"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		}
		if err := json.Unmarshal(env.Payload, &loc); err != nil {
			t.Fatalf("%s got unparseable location: %v", name, err)
		}
		if loc.DriverID != 7 || loc.Latitude != 24.71 {
			t.Errorf("%s got unexpected location: %+v", name, loc)
		}
	}

	// Driver disconnect: admins hear offline, presence flips.
	driver.Close(websocket.StatusNormalClosure, "done")

	env := readEvent(t, admin, "driver:status")
	var status struct {
		DriverID int64  `json:"driverId"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(env.Payload, &status); err != nil {
		t.Fatalf("unparseable driver:status: %v", err)
	}
	if status.DriverID != 7 || status.Status != "offline" {
		t.Errorf("unexpected status after disconnect: %+v", status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		var online struct {
			Online bool `json:"online"`
		}
		getJSON(t, srv.URL+"/presence/drivers/7", &online)
		if !online.Online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("driver still reported online after disconnect")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestEmitToUnknownActor(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/emit/driver/999", map[string]any{
		"event":   "notification",
		"payload": map[string]string{"title": "t", "message": "m"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if out.Delivered {
		t.Error("expected delivered=false for a never-connected actor")
	}
}

func TestControlPlaneValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name   string
		url    string
		body   any
		status int
	}{
		{"unknown role", "/emit/ghost/1", map[string]any{"event": "x"}, http.StatusNotFound},
		{"missing event", "/emit/driver/1", map[string]any{"payload": map[string]int{}}, http.StatusBadRequest},
		{"bad actor id", "/emit/driver/abc", map[string]any{"event": "x"}, http.StatusBadRequest},
		{"unknown group", "/broadcast/ghosts", map[string]any{"event": "x"}, http.StatusNotFound},
		{"status missing", "/orders/42/status", map[string]any{"eta": 1}, http.StatusBadRequest},
		{"dispatch without driver", "/dispatch", map[string]any{"orderId": 42}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tc.url, tc.body)
			if resp.StatusCode != tc.status {
				t.Errorf("POST %s: expected %d, got %d", tc.url, tc.status, resp.StatusCode)
			}
		})
	}
}

func TestBroadcastToRoleGroup(t *testing.T) {
	srv := newTestServer(t)
	driver := dialActor(t, srv, "driver", 7)
	rider := dialActor(t, srv, "rider", 3)

	resp := postJSON(t, srv.URL+"/broadcast/drivers", map[string]any{
		"event":   "dashboard:update",
		"payload": map[string]int{"version": 2},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	env := readEvent(t, driver, "dashboard:update")
	if !bytes.Contains(env.Payload, []byte(`"version":2`)) {
		t.Errorf("unexpected broadcast payload: %s", env.Payload)
	}

	// The rider must not receive the drivers broadcast. Verify by sending a
	// follow-up directly to the rider: the very next frame it reads must be
	// that follow-up, not a leaked broadcast.
	resp = postJSON(t, srv.URL+"/emit/rider/3", map[string]any{"event": "ping"})
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.Delivered {
		t.Fatalf("expected rider emit delivered, err=%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var next envelope
	if err := wsjson.Read(ctx, rider, &next); err != nil {
		t.Fatalf("rider read failed: %v", err)
	}
	if next.Event != "ping" {
		t.Errorf("rider received leaked event %q before the direct emit", next.Event)
	}
}
