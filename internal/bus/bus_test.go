package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxphone/internal/session"
)

// hub accepts connections, records what clients send and pushes script to
// each new connection. The first connection is dropped after the script
// when dropFirst is set.
type hub struct {
	t         *testing.T
	received  chan Message
	script    []Message
	dropFirst bool
	conns     atomic.Int32
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := ws.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	n := h.conns.Add(1)
	for _, m := range h.script {
		if err := conn.WriteJSON(m); err != nil {
			return
		}
	}
	if n == 1 && h.dropFirst {
		return
	}

	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		h.received <- m
	}
}

func startHub(t *testing.T, h *hub) string {
	t.Helper()
	h.t = t
	h.received = make(chan Message, 16)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPublish(t *testing.T) {
	h := &hub{}
	url := startHub(t, h)

	c, err := Dial(context.Background(), Config{URL: url, Name: "phone"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Publish(Message{Kind: KindStatus, Content: "LISTENING"}))

	select {
	case m := <-h.received:
		assert.Equal(t, Message{From: "phone", To: Broadcast, Kind: KindStatus, Content: "LISTENING"}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("hub got nothing")
	}
}

func TestRunDeliversAddressedMessages(t *testing.T) {
	h := &hub{script: []Message{
		{From: "desk", To: "someone-else", Kind: KindCommand, Content: "stop"},
		{From: "phone", To: Broadcast, Kind: KindStatus, Content: "IDLE"},
		{From: "desk", To: "phone", Kind: KindPrompt, Content: "battery?"},
		{From: "desk", To: Broadcast, Kind: KindCommand, Content: "clear"},
	}}
	url := startHub(t, h)

	c, err := Dial(context.Background(), Config{URL: url, Name: "phone"})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 4)
	go c.Run(ctx, func(m Message) { got <- m })

	for _, want := range []Message{
		{From: "desk", To: "phone", Kind: KindPrompt, Content: "battery?"},
		{From: "desk", To: Broadcast, Kind: KindCommand, Content: "clear"},
	} {
		select {
		case m := <-got:
			assert.Equal(t, want, m)
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestRunReconnects(t *testing.T) {
	h := &hub{dropFirst: true}
	url := startHub(t, h)

	c, err := Dial(context.Background(), Config{URL: url, Name: "phone", Reconnect: 20 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, func(Message) {})

	require.Eventually(t, func() bool { return h.conns.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return c.Publish(Message{Kind: KindCleared}) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/hub"})
	assert.Error(t, err)
}

func TestFromEvent(t *testing.T) {
	entry := &session.Entry{Role: session.User, Text: "torch on"}

	assert.Equal(t, Message{Kind: KindEntry, Content: "torch on", Role: "user", Status: "THINKING"},
		FromEvent(session.Event{Kind: session.EntryAdded, Status: session.Thinking, Entry: entry}))
	assert.Equal(t, Message{Kind: KindStatus, Content: "SPEAKING", Status: "SPEAKING"},
		FromEvent(session.Event{Kind: session.StatusChanged, Status: session.Speaking}))
	assert.Equal(t, Message{Kind: KindError, Content: "Please allow microphone access.", Status: "IDLE"},
		FromEvent(session.Event{Kind: session.Failed, Status: session.Idle, Text: "Please allow microphone access."}))
}
