package fakeppsspp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Subprotocols: []string{Subprotocol}, HandshakeTimeout: 2 * time.Second}
	conn, resp, err := d.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/debugger", nil)
	require.NoError(t, err)
	assert.Equal(t, Subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req any) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	return next(t, conn)
}

func next(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestServerReplies(t *testing.T) {
	s := New(WithVersion("PPSSPP", "v1.16.6"))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	conn := dial(t, ts)

	t.Run("version", func(t *testing.T) {
		got := roundTrip(t, conn, map[string]any{"event": "version", "name": "test", "version": "1"})
		assert.Equal(t, map[string]any{"event": "version", "name": "PPSSPP", "version": "v1.16.6"}, got)
	})

	t.Run("echo", func(t *testing.T) {
		got := roundTrip(t, conn, map[string]any{"event": "game.status", "n": 3})
		assert.Equal(t, map[string]any{"event": "game.status", "n": float64(3)}, got)
	})

	t.Run("scripted", func(t *testing.T) {
		s.Handle("cpu.status", func(req map[string]any) []map[string]any {
			return []map[string]any{{"event": "cpu.status", "stepping": true, "pc": 0}}
		})
		got := roundTrip(t, conn, map[string]any{"event": "cpu.status"})
		assert.Equal(t, true, got["stepping"])
	})

	t.Run("missing event", func(t *testing.T) {
		got := roundTrip(t, conn, map[string]any{"pc": 1})
		assert.Equal(t, "error", got["event"])
		assert.Equal(t, "Missing event", got["message"])
	})

	t.Run("bad json", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
		got := next(t, conn)
		assert.Equal(t, "error", got["event"])
	})

	t.Run("held then pushed", func(t *testing.T) {
		s.Hold("cpu.getAllRegs")
		require.NoError(t, conn.WriteJSON(map[string]any{"event": "cpu.getAllRegs"}))
		require.Eventually(t, func() bool { return len(s.Received("cpu.getAllRegs")) == 1 }, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, s.Push(map[string]any{"event": "cpu.getAllRegs", "categories": []any{}}))
		assert.Equal(t, "cpu.getAllRegs", next(t, conn)["event"])
	})

	assert.Equal(t, 1, s.Peers())
	s.DropAll()
	assert.Equal(t, 0, s.Peers())
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServerHTTPRoutes(t *testing.T) {
	s := New()
	s.SetMatchList([]MatchEntry{{IP: "192.168.1.4", Port: 45000, T: 1700000000}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/match/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "192.168.1.4", list[0]["ip"])
	assert.Equal(t, float64(45000), list[0]["p"])

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
