package websocket

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

	"github.com/mtr002/Job-Sync/internal/interfaces"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SubscribeAndPing(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"c1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "job_id": "abc123"}))
	msg := readJSON(t, conn)
	assert.Equal(t, "subscription_confirmed", msg["type"])
	assert.Equal(t, "abc123", msg["job_id"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readJSON(t, conn)["type"])

	connections, subscriptions := hub.Stats()
	assert.Equal(t, 1, connections)
	assert.Equal(t, 1, subscriptions)
}

func TestHub_InvalidFramesGetErrors(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url+"c1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	assert.Equal(t, "error", readJSON(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	assert.Equal(t, "error", readJSON(t, conn)["type"])
}

func TestHub_SendJobUpdateReachesSubscribersOnly(t *testing.T) {
	hub, url := startHub(t)
	follower := dial(t, url+"c1")
	other := dial(t, url+"c2")

	require.NoError(t, follower.WriteJSON(map[string]string{"type": "subscribe", "job_id": "abc123"}))
	readJSON(t, follower)
	require.NoError(t, other.WriteJSON(map[string]string{"type": "subscribe", "job_id": "zzz"}))
	readJSON(t, other)

	completed := time.Now()
	hub.SendJobUpdate(&interfaces.Job{
		ID:          "abc123",
		Status:      interfaces.StatusCompleted,
		Progress:    100,
		Result:      json.RawMessage(`{"pdf_url":"/files/abc123.pdf"}`),
		CompletedAt: &completed,
	})

	msg := readJSON(t, follower)
	assert.Equal(t, "job_update", msg["type"])
	assert.Equal(t, "abc123", msg["job_id"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "completed", data["status"])
	assert.EqualValues(t, 100, data["progress"])

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "unsubscribed client must not receive the update")
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"c1")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "job_id": "abc123"}))
	readJSON(t, conn)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
	conn.Close()

	require.Eventually(t, func() bool {
		connections, subscriptions := hub.Stats()
		return connections == 0 && subscriptions == 0
	}, 2*time.Second, 10*time.Millisecond)
}
