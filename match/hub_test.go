package match

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

// dialTestConn upgrades a loopback connection and returns the server side,
// which is what hub clients hold.
func dialTestConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientSide, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientSide.Close() })

	select {
	case serverSide := <-conns:
		return serverSide
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket upgrade")
		return nil
	}
}

func registerTestClient(t *testing.T, hub *Hub, nodeID int, connID string) *Client {
	t.Helper()
	client := &Client{
		Hub:    hub,
		Conn:   dialTestConn(t),
		Send:   make(chan []byte, 8),
		NodeID: nodeID,
		ConnID: connID,
	}
	hub.Register <- client

	// Registration is processed asynchronously by Run.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return hub.nodes[nodeID][client]
	}, 2*time.Second, 5*time.Millisecond)
	return client
}

func receiveEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case raw, ok := <-client.Send:
		require.True(t, ok, "send channel closed")
		var event Event
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubBroadcastToMatch(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := registerTestClient(t, hub, 1, "c-a")
	b := registerTestClient(t, hub, 1, "c-b")
	other := registerTestClient(t, hub, 2, "c-other")

	hub.BroadcastToMatch(1, Event{Type: "updateScore", Payload: map[string]int{"left": 1}})

	assert.Equal(t, "updateScore", receiveEvent(t, a).Type)
	assert.Equal(t, "updateScore", receiveEvent(t, b).Type)
	select {
	case <-other.Send:
		t.Fatal("client of another match received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := registerTestClient(t, hub, 1, "c-a")
	hub.Unregister <- client

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		_, ok := hub.nodes[1]
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	client.Mu.Lock()
	assert.True(t, client.IsClosed)
	client.Mu.Unlock()
	_, open := <-client.Send
	assert.False(t, open)
}

func TestHubMoveClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := registerTestClient(t, hub, 1, "c-a")
	hub.MoveClient(client, 5)

	assert.Equal(t, 5, client.NodeID)
	hub.BroadcastToMatch(5, Event{Type: "resetPositions"})
	assert.Equal(t, "resetPositions", receiveEvent(t, client).Type)

	hub.BroadcastToMatch(1, Event{Type: "updateBall"})
	select {
	case <-client.Send:
		t.Fatal("received event for the node the client left")
	case <-time.After(50 * time.Millisecond):
	}

	// The send channel survives the move, unlike an unregister.
	client.Mu.Lock()
	assert.False(t, client.IsClosed)
	client.Mu.Unlock()
}

func TestHubDisconnectMatch(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := registerTestClient(t, hub, 1, "c-a")
	b := registerTestClient(t, hub, 1, "c-b")
	survivor := registerTestClient(t, hub, 2, "c-other")

	errs := hub.DisconnectMatch(1)
	assert.Empty(t, errs)

	for _, client := range []*Client{a, b} {
		client.Mu.Lock()
		assert.True(t, client.IsClosed)
		client.Mu.Unlock()
	}
	hub.mu.RLock()
	_, gone := hub.nodes[1]
	_, kept := hub.nodes[2]
	hub.mu.RUnlock()
	assert.False(t, gone)
	assert.True(t, kept)

	survivor.Mu.Lock()
	assert.False(t, survivor.IsClosed)
	survivor.Mu.Unlock()
}

func TestHubDisconnectUnknownMatch(t *testing.T) {
	hub := NewHub()
	assert.Nil(t, hub.DisconnectMatch(42))
}
