package handler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"boxtrack/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	upgrader ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, readBuffer, writeBuffer int, allowedOrigins string) *WebSocketHandler {
	origins := strings.Split(allowedOrigins, ",")
	return &WebSocketHandler{
		manager: manager,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, o := range origins {
					if o = strings.TrimSpace(o); o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), conn, h.manager)
	if targets := r.URL.Query().Get("targets"); targets != "" {
		client.Subscribe(strings.Split(targets, ","))
	}

	if !h.manager.Join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

type WebSocketMessageHandler struct {
	status StatusSource
}

func NewWebSocketMessageHandler(status StatusSource) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		status: status,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeSubscribe:
		var payload websocket.SubscribePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return h.reply(client, websocket.TypeError, websocket.ErrorPayload{Error: "invalid subscribe payload"})
		}
		client.Subscribe(payload.Targets)
		return nil

	case websocket.TypeStatusRequest:
		status, err := h.status.WorkerStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to read sync worker status: %w", err)
		}
		return h.reply(client, websocket.TypeWorkerStatus, status)

	case websocket.TypePing:
		return h.reply(client, websocket.TypePong, nil)

	default:
		return h.reply(client, websocket.TypeError, websocket.ErrorPayload{Error: fmt.Sprintf("unknown message type: %s", msg.Type)})
	}
}

func (h *WebSocketMessageHandler) reply(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return client.Reply(msg)
}
