package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pongarena/match-system/match"
	"github.com/pongarena/match-system/models"
	"github.com/pongarena/match-system/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering is enforced by the CORS middleware in front of
		// the router; the handshake accepts what reaches it.
		return true
	},
}

const credentialsWait = 10 * time.Second

// clientMessage is the envelope game clients send after the handshake.
type clientMessage struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

type WebSocketHandler struct {
	hub         *match.Hub
	connections services.ConnectionService
	logger      *slog.Logger
}

func NewWebSocketHandler(hub *match.Hub, connections services.ConnectionService, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, connections: connections, logger: logger}
}

// ServeGame upgrades the connection and runs the admission sequence: the
// first client frame must carry credentials; everything after that is
// game events. A rejected admission closes the socket before any state
// sticks.
func (h *WebSocketHandler) ServeGame(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}

	connID := uuid.NewString()

	conn.SetReadDeadline(time.Now().Add(credentialsWait))
	var creds models.Credentials
	if err := conn.ReadJSON(&creds); err != nil {
		h.logger.Info("client sent no valid credentials",
			slog.String("conn_id", connID), slog.Any("error", err))
		conn.Close()
		return
	}

	nodeID, err := h.connections.HandleConnect(r.Context(), connID, creds)
	if err != nil {
		h.logger.Info("connection rejected",
			slog.String("conn_id", connID), slog.Any("error", err))
		conn.WriteJSON(jsonResponse{"error": err.Error()})
		conn.Close()
		return
	}

	client := &match.Client{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		NodeID: nodeID,
		ConnID: connID,
	}
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump(
		func(_ int, data []byte) { h.handleMessage(client, data) },
		func() {
			h.connections.HandleDisconnect(context.Background(), connID, "client disconnect")
		},
	)
}

func (h *WebSocketHandler) handleMessage(client *match.Client, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Info("discarding malformed client message",
			slog.String("conn_id", client.ConnID), slog.Any("error", err))
		return
	}

	ctx := context.Background()
	switch msg.Event {
	case "paddleMove":
		if err := h.connections.HandlePaddleInput(ctx, client.ConnID, msg.Data["paddleDirection"]); err != nil {
			h.logger.Info("paddle input rejected",
				slog.String("conn_id", client.ConnID), slog.Any("error", err))
		}

	case "nextGame":
		nextNodeID, err := h.connections.AdvanceToNextMatch(ctx, client.ConnID)
		if err != nil {
			h.logger.Info("next-match request rejected",
				slog.String("conn_id", client.ConnID), slog.Any("error", err))
			return
		}
		h.hub.MoveClient(client, nextNodeID)

	default:
		h.logger.Info("unknown client event",
			slog.String("conn_id", client.ConnID), slog.String("event", msg.Event))
	}
}
