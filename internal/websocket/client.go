package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Client struct {
	ID      string
	Conn    *websocket.Conn
	Manager *Manager
	Send    chan []byte

	mu      sync.RWMutex
	targets map[string]bool
}

func NewClient(id string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:      id,
		Conn:    conn,
		Manager: manager,
		Send:    make(chan []byte, manager.sendBuffer),
	}
}

// Subscribe replaces the client's target filter.
func (c *Client) Subscribe(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(targets) == 0 {
		c.targets = nil
		return
	}
	c.targets = make(map[string]bool, len(targets))
	for _, t := range targets {
		c.targets[t] = true
	}
}

// Wants reports whether events of target pass the client's filter.
func (c *Client) Wants(target string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.targets == nil || c.targets[target]
}

// Reply queues a message for this client only, dropping it when the send
// buffer is full.
func (c *Client) Reply(message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case c.Send <- messageBytes:
	default:
		log.Printf("client %s send buffer full, dropping %s", c.ID, message.Type)
	}
	return nil
}

func (c *Client) ReadPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		select {
		case c.Manager.HandleMessage <- &ClientMessage{Client: c, Message: message}:
		case <-c.Manager.done:
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
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
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
