package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// HubOptions tunes a Hub.
type HubOptions struct {
	// Buffer is the number of frames queued per subscriber before new
	// frames are dropped. Default: 16.
	Buffer int
	// WriteTimeout bounds a single websocket write. Default: 10s.
	WriteTimeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *HubOptions) defaults() {
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Hub fans events out to websocket subscribers. It is safe for concurrent
// use.
type Hub struct {
	opts HubOptions

	mu   sync.RWMutex
	subs map[uuid.UUID]chan []byte

	published atomic.Int64
	dropped   atomic.Int64
}

var _ Publisher = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(opts HubOptions) *Hub {
	opts.defaults()
	return &Hub{opts: opts, subs: make(map[uuid.UUID]chan []byte)}
}

// Subscribe registers a new subscriber and returns its ID and frame
// channel. The channel is closed by Unsubscribe.
func (h *Hub) Subscribe() (uuid.UUID, <-chan []byte) {
	id := uuid.New()
	ch := make(chan []byte, h.opts.Buffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns the number of events published and frames dropped.
func (h *Hub) Stats() (published, dropped int64) {
	return h.published.Load(), h.dropped.Load()
}

// Publish sends the event to every subscriber without blocking.
// Subscribers whose queue is full miss the frame.
func (h *Hub) Publish(event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		h.opts.Logger.Error("notify: encode failed", "event", event, "error", err)
		return
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			h.dropped.Add(1)
			h.opts.Logger.Warn("notify: subscriber queue full, frame dropped", "subscriber", id, "event", event)
		}
	}
}

// SendTo queues the event for one subscriber only. It reports whether the
// frame was queued.
func (h *Hub) SendTo(id uuid.UUID, event string, payload any) bool {
	frame, err := encode(event, payload)
	if err != nil {
		h.opts.Logger.Error("notify: encode failed", "event", event, "error", err)
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.subs[id]
	if !ok {
		return false
	}
	select {
	case ch <- frame:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: payload})
}

// Serve pumps frames between conn and the hub until the connection fails
// or the peer closes it. onConnect runs once the subscriber is registered
// and may use SendTo to push initial state; onCommand receives every
// decodable frame the peer sends. Serve closes conn before returning.
func (h *Hub) Serve(conn *websocket.Conn, onConnect func(id uuid.UUID), onCommand func(id uuid.UUID, cmd Command)) {
	log := h.opts.Logger
	id, frames := h.Subscribe()
	log.Info("notify: subscriber connected", "subscriber", id, "remote", conn.RemoteAddr().String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range frames {
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn("notify: write failed", "subscriber", id, "error", err)
				// Unblock the reader; the frames channel drains once
				// Unsubscribe closes it.
				_ = conn.Close()
				for range frames {
				}
				return
			}
		}
	}()

	if onConnect != nil {
		onConnect(id)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("notify: read failed", "subscriber", id, "error", err)
			}
			break
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warn("notify: bad frame", "subscriber", id, "error", err)
			continue
		}
		if onCommand != nil {
			onCommand(id, cmd)
		}
	}

	h.Unsubscribe(id)
	<-done
	_ = conn.Close()
	log.Info("notify: subscriber disconnected", "subscriber", id)
}
