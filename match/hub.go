package match

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one live websocket connection attached to a bracket node.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	NodeID   int
	ConnID   string
	IsClosed bool
	Mu       sync.Mutex
}

// Event is the envelope for everything pushed to game clients:
// updateBall, updateScore, updatePaddle, gameOver, resetPositions.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	NodeID  int         `json:"node_id,omitempty"`
}

// Hub fans match events out to the websocket clients of each bracket
// node. Registration runs on channels consumed by Run; broadcast and
// teardown take the read lock directly.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	nodes map[int]map[*Client]bool
	mu    sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		nodes:      make(map[int]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.nodes[client.NodeID]; !ok {
				h.nodes[client.NodeID] = make(map[*Client]bool)
			}
			h.nodes[client.NodeID][client] = true
			log.Printf("Client %s registered to match %d. Clients in match: %d",
				client.ConnID, client.NodeID, len(h.nodes[client.NodeID]))
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			h.dropClientLocked(client)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropClientLocked(client *Client) {
	clients, ok := h.nodes[client.NodeID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	client.Mu.Lock()
	if !client.IsClosed {
		close(client.Send)
		client.IsClosed = true
	}
	client.Mu.Unlock()
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.nodes, client.NodeID)
		log.Printf("Match %d has no clients left.", client.NodeID)
	}
}

// MoveClient reattaches a client to another node without closing its
// send channel, used when a participant advances to their next match.
func (h *Hub) MoveClient(client *Client, newNodeID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.nodes[client.NodeID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.nodes, client.NodeID)
		}
	}
	client.NodeID = newNodeID
	if _, ok := h.nodes[newNodeID]; !ok {
		h.nodes[newNodeID] = make(map[*Client]bool)
	}
	h.nodes[newNodeID][client] = true
}

// BroadcastToMatch sends an event to every client of a bracket node.
func (h *Hub) BroadcastToMatch(nodeID int, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.nodes[nodeID]
	if !ok {
		return
	}

	messageBytes, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshalling event for match %d: %v", nodeID, err)
		return
	}

	for client := range clients {
		client.Mu.Lock()
		if client.IsClosed {
			client.Mu.Unlock()
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("Client %s send channel full for match %d. Skipping.", client.ConnID, nodeID)
		}
		client.Mu.Unlock()
	}
}

// DisconnectMatch closes every connection of a node and returns one error
// per client that failed to close. A failing client never blocks the
// others from being torn down.
func (h *Hub) DisconnectMatch(nodeID int) []error {
	h.mu.Lock()
	clients, ok := h.nodes[nodeID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	snapshot := make([]*Client, 0, len(clients))
	for client := range clients {
		snapshot = append(snapshot, client)
	}
	for _, client := range snapshot {
		h.dropClientLocked(client)
	}
	h.mu.Unlock()

	var errs []error
	for _, client := range snapshot {
		if err := client.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing client %s: %w", client.ConnID, err))
		}
	}
	return errs
}

func (c *Client) ReadPump(onMessage func(messageType int, data []byte), onClose func()) {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
		if onClose != nil {
			onClose()
		}
		log.Printf("Client %s readPump closed for match %d", c.ConnID, c.NodeID)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("unexpected close for client %s: %v", c.ConnID, err)
			}
			break
		}
		if onMessage != nil {
			onMessage(messageType, message)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		log.Printf("Client %s writePump closed for match %d", c.ConnID, c.NodeID)
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
