package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"boxtrack/internal/domain"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type Config struct {
	MaxClients int
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

// Manager fans sync events out to connected dashboard clients.
type Manager struct {
	clients        map[string]*Client
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	done           chan struct{}
	maxClients     int
	sendBuffer     int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
}

type MessageHandler interface {
	HandleWebSocketMessage(ctx context.Context, client *Client, msg *Message) error
}

func NewManager(cfg Config) *Manager {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 64
	}
	return &Manager{
		clients:       make(map[string]*Client),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		HandleMessage: make(chan *ClientMessage),
		done:          make(chan struct{}),
		maxClients:    cfg.MaxClients,
		sendBuffer:    cfg.SendBuffer,
		writeWait:     cfg.WriteWait,
		pongWait:      cfg.PongWait,
		pingPeriod:    cfg.PingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run serves registrations and client messages until ctx is cancelled, then
// disconnects every client.
func (m *Manager) Run(ctx context.Context) {
	defer func() {
		close(m.done)
		m.clientsMutex.Lock()
		for id, client := range m.clients {
			delete(m.clients, id)
			close(client.Send)
		}
		m.clientsMutex.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(ctx, clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.maxClients > 0 && len(m.clients) >= m.maxClients {
		log.Printf("max connections reached, rejecting client %s", client.ID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	log.Printf("client registered: %s", client.ID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		close(client.Send)
		log.Printf("client unregistered: %s", client.ID)
	}
}

// Join registers a client. It reports false once the manager has stopped.
func (m *Manager) Join(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) unregister(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
	}
}

func (m *Manager) processMessage(ctx context.Context, clientMsg *ClientMessage) {
	// replies go to Send, which is closed once the client is gone
	m.clientsMutex.RLock()
	_, registered := m.clients[clientMsg.Client.ID]
	m.clientsMutex.RUnlock()
	if !registered {
		return
	}

	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(ctx, clientMsg.Client, &msg); err != nil {
			log.Printf("error handling message: %v", err)
		}
	}
}

// Publish broadcasts a sync event to every client subscribed to its target.
// Clients whose send buffer is full are disconnected.
func (m *Manager) Publish(event domain.SyncEvent) {
	message, err := NewMessage(TypeSyncEvent, event)
	if err != nil {
		log.Printf("error encoding sync event: %v", err)
		return
	}
	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("error encoding sync event: %v", err)
		return
	}

	var stale []*Client
	m.clientsMutex.RLock()
	for _, client := range m.clients {
		if !client.Wants(event.Target) {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("client %s send buffer full, closing connection", client.ID)
			stale = append(stale, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range stale {
		m.unregister(client)
	}
}

func (m *Manager) ClientCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.clients)
}
