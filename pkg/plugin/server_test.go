package plugin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scpdiscord/scpdiscord/pkg/bus"
	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

func startServer(t *testing.T, cfg Config) (*Server, *bus.MessageBus, string) {
	t.Helper()
	b := bus.NewMessageBus()
	s := NewServer(cfg, b)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.closeActive()
		ts.Close()
		b.Close()
	})
	return s, b, "ws" + strings.TrimPrefix(ts.URL, "http") + "/plugin"
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func consume(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	require.True(t, ok, "no inbound message")
	return msg
}

func TestPluginFramesReachBus(t *testing.T) {
	_, b, url := startServer(t, Config{})
	ws := dial(t, url, nil)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	env, err := protocol.NewEnvelope(protocol.TypeChatMessage, protocol.ChatMessage{ChannelID: 42, Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(env))

	msg := consume(t, b)
	assert.NotEmpty(t, msg.Source)
	assert.Equal(t, protocol.TypeChatMessage, msg.Envelope.Type)

	var chat protocol.ChatMessage
	require.NoError(t, msg.Envelope.Decode(&chat))
	assert.Equal(t, uint64(42), chat.ChannelID)
	assert.Equal(t, "hello", chat.Content)
}

func TestSendWithoutPlugin(t *testing.T) {
	s, _, _ := startServer(t, Config{})
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Send(protocol.Envelope{Type: protocol.TypeCommand}), ErrNotConnected)
}

func TestSendReachesPlugin(t *testing.T) {
	s, _, url := startServer(t, Config{})
	ws := dial(t, url, nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	env, err := protocol.NewEnvelope(protocol.TypeCommand, protocol.Command{Name: "list", InteractionID: 77})
	require.NoError(t, err)
	require.NoError(t, s.Send(env))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got protocol.Envelope
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, protocol.TypeCommand, got.Type)

	var cmd protocol.Command
	require.NoError(t, got.Decode(&cmd))
	assert.Equal(t, "list", cmd.Name)
	assert.Equal(t, uint64(77), cmd.InteractionID)
}

func TestOutboundBusIsForwarded(t *testing.T) {
	s, b, url := startServer(t, Config{})
	ws := dial(t, url, nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.forwardOutbound(ctx)

	env, err := protocol.NewEnvelope(protocol.TypeUserInfo, protocol.UserInfo{DiscordUserID: 1, RoleIDs: []uint64{2}})
	require.NoError(t, err)
	b.PublishOutbound(bus.OutboundMessage{Envelope: env})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got protocol.Envelope
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, protocol.TypeUserInfo, got.Type)
}

func TestTokenRequired(t *testing.T) {
	s, _, url := startServer(t, Config{Token: "secret"})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, s.Connected())

	dial(t, url, http.Header{"Authorization": []string{"Bearer secret"}})
	assert.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
}

func TestConnectionLifecycle(t *testing.T) {
	s, _, url := startServer(t, Config{})

	var mu sync.Mutex
	var events []bool
	s.OnConnectionChange(func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, connected)
	})
	snapshot := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), events...)
	}

	first := dial(t, url, nil)
	require.Eventually(t, func() bool { return len(snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	second := dial(t, url, nil)
	require.Eventually(t, func() bool { return len(snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	// The replaced connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
	assert.True(t, s.Connected())

	second.Close()
	require.Eventually(t, func() bool { return !s.Connected() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, true, false}, snapshot())
}
