package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, frame []byte) Message {
	t.Helper()
	var m Message
	require.NoError(t, json.Unmarshal(frame, &m))
	return m
}

func TestHubPublishFansOut(t *testing.T) {
	h := NewHub(HubOptions{})
	_, a := h.Subscribe()
	_, b := h.Subscribe()
	require.Equal(t, 2, h.Count())

	h.Publish(EventCodeUpdated, FileChange{File: "pipeline.zy"})

	for _, ch := range []<-chan []byte{a, b} {
		select {
		case frame := <-ch:
			m := decode(t, frame)
			assert.Equal(t, EventCodeUpdated, m.Event)
			assert.Equal(t, map[string]any{"file": "pipeline.zy"}, m.Data)
		default:
			t.Fatal("subscriber received nothing")
		}
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := NewHub(HubOptions{Buffer: 1})
	_, ch := h.Subscribe()

	h.Publish(EventMeshUpdated, 1)
	h.Publish(EventMeshUpdated, 2) // dropped, Publish must not block

	published, dropped := h.Stats()
	assert.Equal(t, int64(2), published)
	assert.Equal(t, int64(1), dropped)
	assert.Equal(t, float64(1), decode(t, <-ch).Data)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(HubOptions{})
	id, ch := h.Subscribe()
	h.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, h.Count())

	// Unknown IDs are ignored.
	h.Unsubscribe(uuid.New())
	h.Publish(EventMeshUpdated, nil)
}

func TestHubSendTo(t *testing.T) {
	h := NewHub(HubOptions{})
	id, ch := h.Subscribe()
	_, other := h.Subscribe()

	require.True(t, h.SendTo(id, EventMeshUpdated, "hello"))
	assert.Equal(t, "hello", decode(t, <-ch).Data)
	select {
	case <-other:
		t.Fatal("SendTo reached another subscriber")
	default:
	}
	assert.False(t, h.SendTo(uuid.New(), EventMeshUpdated, nil))
}

func TestHubUnencodablePayload(t *testing.T) {
	h := NewHub(HubOptions{})
	_, ch := h.Subscribe()
	h.Publish(EventMeshUpdated, make(chan int))
	select {
	case <-ch:
		t.Fatal("unencodable payload was delivered")
	default:
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var p Publisher = &r
	p.Publish(EventModelListUpdated, FileChange{File: "models/a.obj"})
	p.Publish(EventCodeUpdated, FileChange{File: "pipeline.zy"})
	p.Publish(EventCodeUpdated, FileChange{File: "templates/viewer.html"})

	assert.Equal(t, 1, r.Count(EventModelListUpdated))
	assert.Equal(t, 2, r.Count(EventCodeUpdated))
	assert.Len(t, r.Events(), 3)
	r.Reset()
	assert.Empty(t, r.Events())

	Discard.Publish(EventMeshUpdated, nil)
}

func TestHubServeWebsocket(t *testing.T) {
	h := NewHub(HubOptions{})
	commands := make(chan Command, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(conn,
			func(id uuid.UUID) { h.SendTo(id, EventMeshUpdated, "initial") },
			func(_ uuid.UUID, cmd Command) { commands <- cmd },
		)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "initial", decode(t, frame).Data)

	h.Publish(EventModelListUpdated, FileChange{File: "models/b.obj"})
	_, frame, err = conn.ReadMessage()
	require.NoError(t, err)
	m := decode(t, frame)
	assert.Equal(t, EventModelListUpdated, m.Event)

	require.NoError(t, conn.WriteJSON(Command{Event: EventChangeMesh, File: "b.obj", LevelScalar: 0.1}))
	select {
	case cmd := <-commands:
		assert.Equal(t, Command{Event: EventChangeMesh, File: "b.obj", LevelScalar: 0.1}, cmd)
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return h.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}
