package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/common-fate/clio"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var ErrClosed = errors.New("realtime hub is closed")

const (
	defaultBuffer = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

type subscriber struct {
	id       string
	channels map[string]bool
	ch       chan Message
}

func (s *subscriber) wants(channel string) bool {
	return len(s.channels) == 0 || s.channels[channel]
}

// Hub fans published messages out to subscribers.
// A subscriber whose buffer is full misses the message.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		subscribers: map[string]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Publish(ctx context.Context, channel, topic string, data any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}

	msg := Message{Channel: channel, Topic: topic, Data: data}
	for _, s := range h.subscribers {
		if !s.wants(channel) {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			clio.Debugf("realtime subscriber %s is full, dropping %s/%s message", s.id, channel, topic)
		}
	}
	return nil
}

// Subscribe to messages on the given channels. No channels means all of them.
// The returned function must be called to unsubscribe.
func (h *Hub) Subscribe(channels []string, buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{
		id:       uuid.NewString(),
		channels: map[string]bool{},
		ch:       make(chan Message, buffer),
	}
	for _, c := range channels {
		s.channels[c] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	h.subscribers[s.id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subscribers[s.id]; ok {
				delete(h.subscribers, s.id)
				close(s.ch)
			}
		})
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, s := range h.subscribers {
		close(s.ch)
		delete(h.subscribers, id)
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket and streams messages for
// the channels named in the 'channel' query parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		clio.Debugf("realtime upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	msgs, unsubscribe := h.Subscribe(r.URL.Query()["channel"], 0)
	defer unsubscribe()

	// the read loop only exists to process control frames and
	// notice when the client goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
