package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeSyncEvent     MessageType = "sync_event"
	TypeSubscribe     MessageType = "subscribe"
	TypeStatusRequest MessageType = "status_request"
	TypeWorkerStatus  MessageType = "worker_status"
	TypeError         MessageType = "error"
	TypePing          MessageType = "ping"
	TypePong          MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload narrows the event feed of a client to the given sync
// targets. An empty list subscribes to everything.
type SubscribePayload struct {
	Targets []string `json:"targets"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
