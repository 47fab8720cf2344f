package ws

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"syncplayer/internal/config"
	"syncplayer/internal/protocol"
	"syncplayer/internal/ratelimit"
	"syncplayer/internal/registry"
	"syncplayer/internal/router"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	reg := registry.New(nil)
	rt := router.New(serverModeConfig(), reg, nil, nil, ratelimit.New(), nil, "", slog.New(slog.DiscardHandler))
	e := echo.New()
	NewHandler(rt, slog.New(slog.DiscardHandler)).Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func serverModeConfig() config.Config {
	cfg, _ := config.Load("", nil)
	cfg.ServerMode = true
	return cfg
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, evType string, payload any) {
	t.Helper()
	raw, _ := json.Marshal(payload)
	env := protocol.Envelope{Type: evType, Payload: raw}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", evType, err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, wantType string, timeout time.Duration) protocol.Outbound {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(timeout))
		var out protocol.Outbound
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read: %v", err)
		}
		if out.Type == wantType {
			return out
		}
	}
	t.Fatalf("timed out waiting for %s", wantType)
	return protocol.Outbound{}
}

func TestCreateAndJoinRoomExchangesSync(t *testing.T) {
	url := startTestServer(t)

	admin := dial(t, url)
	send(t, admin, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "admin", Fingerprint: "fp-admin"})
	initial := readUntil(t, admin, protocol.EvInitialState, 2*time.Second)
	state, ok := initial.Payload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected initial-state payload shape: %#v", initial.Payload)
	}
	roomCode, _ := state["roomCode"].(string)
	if roomCode == "" {
		t.Fatalf("expected a room code in initial-state, got %#v", state)
	}

	viewer := dial(t, url)
	send(t, viewer, protocol.EvJoinRoom, protocol.JoinRoomPayload{RoomCode: roomCode, Name: "viewer", Fingerprint: "fp-viewer"})
	readUntil(t, viewer, protocol.EvSync, 2*time.Second)
}

func TestRejectedAdminFingerprintForcesDisconnectWithinGracePeriod(t *testing.T) {
	url := startTestServer(t)

	admin := dial(t, url)
	send(t, admin, protocol.EvCreateRoom, protocol.CreateRoomPayload{Name: "admin", Fingerprint: "fp-admin"})
	initial := readUntil(t, admin, protocol.EvInitialState, 2*time.Second)
	state, _ := initial.Payload.(map[string]any)
	roomCode, _ := state["roomCode"].(string)

	impostor := dial(t, url)
	send(t, impostor, protocol.EvJoinRoom, protocol.JoinRoomPayload{RoomCode: roomCode, Name: "impostor", Fingerprint: "fp-impostor"})
	readUntil(t, impostor, protocol.EvSync, 2*time.Second)

	send(t, impostor, protocol.EvBSLAdminRegister, protocol.BSLAdminRegisterPayload{Fingerprint: "fp-impostor"})
	result := readUntil(t, impostor, protocol.EvAdminAuthResult, 2*time.Second)
	payload, ok := result.Payload.(map[string]any)
	if !ok || payload["success"] != false {
		t.Fatalf("expected a rejected admin-auth-result, got %#v", result.Payload)
	}

	impostor.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := impostor.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be force-closed within the grace period")
	}
}

func TestMalformedFrameDoesNotBreakConnectionLoop(t *testing.T) {
	// The transport forwards a malformed (non-JSON) frame without crashing
	// the connection loop: a later get-config still gets its reply.
	url := startTestServer(t)
	conn := dial(t, url)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	send(t, conn, protocol.EvGetConfig, nil)
	readUntil(t, conn, protocol.EvConfig, 2*time.Second)
}
