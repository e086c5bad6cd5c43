package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boxtrack/internal/domain"
)

type echoHandler struct{}

func (echoHandler) HandleWebSocketMessage(ctx context.Context, client *Client, msg *Message) error {
	if msg.Type == TypeSubscribe {
		var payload SubscribePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		client.Subscribe(payload.Targets)
	}
	reply, err := NewMessage(TypePong, nil)
	if err != nil {
		return err
	}
	return client.Reply(reply)
}

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	m.SetMessageHandler(echoHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m
}

func join(t *testing.T, m *Manager, id string) *Client {
	t.Helper()
	c := NewClient(id, nil, m)
	require.True(t, m.Join(c))
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case raw := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
	}
	return Message{}
}

func TestPublish_RespectsSubscriptions(t *testing.T) {
	m := startManager(t, Config{SendBuffer: 4})
	all := join(t, m, "all")
	filtered := join(t, m, "filtered")
	require.Eventually(t, func() bool { return m.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	subscribe, err := NewMessage(TypeSubscribe, SubscribePayload{Targets: []string{"warehouse"}})
	require.NoError(t, err)
	raw, err := json.Marshal(subscribe)
	require.NoError(t, err)
	m.HandleMessage <- &ClientMessage{Client: filtered, Message: raw}
	require.Equal(t, TypePong, receive(t, filtered).Type)

	m.Publish(domain.SyncEvent{Type: domain.SyncEventSucceeded, Target: "office", Label: "A1 — HDMI"})
	m.Publish(domain.SyncEvent{Type: domain.SyncEventFailed, Target: "warehouse", Label: "B2 — VGA"})

	first := receive(t, all)
	require.Equal(t, TypeSyncEvent, first.Type)
	var event domain.SyncEvent
	require.NoError(t, first.UnmarshalPayload(&event))
	require.Equal(t, "office", event.Target)
	require.Equal(t, TypeSyncEvent, receive(t, all).Type)

	got := receive(t, filtered)
	require.NoError(t, got.UnmarshalPayload(&event))
	require.Equal(t, "warehouse", event.Target)
	require.Empty(t, filtered.Send)
}

func TestPublish_DropsSlowClients(t *testing.T) {
	m := startManager(t, Config{SendBuffer: 1})
	slow := join(t, m, "slow")
	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	m.Publish(domain.SyncEvent{Type: domain.SyncEventSucceeded})
	m.Publish(domain.SyncEvent{Type: domain.SyncEventSucceeded})

	require.Eventually(t, func() bool { return m.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	<-slow.Send
	_, open := <-slow.Send
	require.False(t, open, "send channel is closed on disconnect")
}

func TestManager_RejectsOverCapacity(t *testing.T) {
	m := startManager(t, Config{MaxClients: 1})
	join(t, m, "first")
	second := join(t, m, "second")

	_, open := <-second.Send
	require.False(t, open)
	require.Equal(t, 1, m.ClientCount())
}

func TestManager_StopsOnCancel(t *testing.T) {
	m := NewManager(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	c := join(t, m, "a")
	cancel()
	<-done

	_, open := <-c.Send
	require.False(t, open)
	require.False(t, m.Join(NewClient("late", nil, m)))
}
