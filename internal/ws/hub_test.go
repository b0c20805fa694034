package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// dialTestConn upgrades a loopback connection and returns both ends.
func dialTestConn(t *testing.T) (serverSide, clientSide *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientSide, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientSide.Close() })

	serverSide = <-accepted
	t.Cleanup(func() { serverSide.Close() })
	return serverSide, clientSide
}

func TestHubBroadcastToUsers(t *testing.T) {
	hub := NewHub()
	serverConn, clientConn := dialTestConn(t)
	hub.Register(7, serverConn)

	hub.BroadcastToUsers([]int64{7, 8}, map[string]any{"type": "ping"})

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var payload map[string]any
	require.NoError(t, clientConn.ReadJSON(&payload))
	require.Equal(t, "ping", payload["type"])

	hub.Unregister(7, serverConn)
	// No registered connections left; must not block or panic.
	hub.BroadcastToUsers([]int64{7}, map[string]any{"type": "ping"})
}

func TestHubConcurrentBroadcastsSameConn(t *testing.T) {
	hub := NewHub()
	serverConn, clientConn := dialTestConn(t)
	hub.Register(7, serverConn)

	// Simultaneous broadcasts land on one connection; the per-connection
	// write lock must serialize them.
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			hub.BroadcastToUsers([]int64{7}, map[string]any{"type": "ping"})
		}()
	}

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < n; i++ {
		var payload map[string]any
		require.NoError(t, clientConn.ReadJSON(&payload))
		require.Equal(t, "ping", payload["type"])
	}
	wg.Wait()
}
