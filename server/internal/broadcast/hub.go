// Package broadcast fans ingested cost events out to live WebSocket
// subscribers.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zhaobenny/gasometer/internal/model"
	"github.com/zhaobenny/gasometer/server/internal/metrics"
	"go.uber.org/zap"
)

// WelcomeMessage is the text of the first frame every subscriber receives
const WelcomeMessage = "Gasometer live feed"

const writeWait = 5 * time.Second

type subscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// close stops the writer and closes the connection. Safe to call twice.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *subscriber) open() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Hub tracks live subscribers and publishes messages to all of them
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
	initialized atomic.Bool

	path       string
	keepAlive  time.Duration
	sendBuffer int
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// Option configures a Hub
type Option func(*Hub)

// WithPath sets the live channel path
func WithPath(path string) Option { return func(h *Hub) { h.path = path } }

// WithKeepAlive sets the ping interval. Zero disables pings.
func WithKeepAlive(d time.Duration) Option { return func(h *Hub) { h.keepAlive = d } }

// WithSendBuffer sets how many messages may queue per subscriber
func WithSendBuffer(n int) Option { return func(h *Hub) { h.sendBuffer = n } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.logger = l } }

// NewHub creates a hub. It accepts no subscribers until Initialize.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[*subscriber]struct{}),
		path:        "/ws/live",
		keepAlive:   30 * time.Second,
		sendBuffer:  64,
		logger:      zap.NewNop(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.sendBuffer < 1 {
		h.sendBuffer = 1
	}
	return h
}

// Initialize attaches the live channel endpoint to mux
func (h *Hub) Initialize(mux *http.ServeMux) {
	mux.HandleFunc("GET "+h.path, h.serveWS)
	h.initialized.Store(true)
	h.logger.Info("live channel ready", zap.String("path", h.path))
}

// Publish sends msg to every open subscriber. It never blocks on subscriber
// I/O and never fails; a nil or uninitialized hub does nothing.
func (h *Hub) Publish(msg model.BroadcastMessage) {
	if h == nil || !h.initialized.Load() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.Error(err))
		return
	}
	h.Deliver(data)
}

// Deliver sends an already-encoded message to every open subscriber
func (h *Hub) Deliver(data []byte) {
	if h == nil || !h.initialized.Load() {
		return
	}

	h.mu.RLock()
	snapshot := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		if !s.open() {
			continue
		}
		select {
		case s.send <- data:
		default:
			metrics.BroadcastDropped.Inc()
			h.logger.Debug("subscriber buffer full, message dropped")
		}
	}
}

// Count returns the number of registered subscribers
func (h *Hub) Count() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close sends a close frame to every subscriber and refuses new ones
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
		delete(h.subscribers, s)
	}
	h.mu.Unlock()

	metrics.Subscribers.Sub(float64(len(subs)))
	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, s := range subs {
		s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		s.close()
	}
}

func (h *Hub) register(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subscribers[s] = struct{}{}
	metrics.Subscribers.Inc()
	return true
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		metrics.Subscribers.Dec()
	}
	h.mu.Unlock()
	s.close()
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &subscriber{
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
	welcome, _ := json.Marshal(model.BroadcastMessage{Type: model.MessageConnected, Message: WelcomeMessage})
	s.send <- welcome

	if !h.register(s) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Debug("subscriber connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(s)
	h.readLoop(s)
}

// writeLoop is the only writer of data frames for s, so frames reach the
// subscriber in publish order
func (h *Hub) writeLoop(s *subscriber) {
	var ping <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("subscriber write failed", zap.Error(err))
				h.unregister(s)
				return
			}
		case <-ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("subscriber ping failed", zap.Error(err))
				h.unregister(s)
				return
			}
		}
	}
}

// readLoop discards client frames and notices disconnects
func (h *Hub) readLoop(s *subscriber) {
	defer h.unregister(s)

	s.conn.SetReadLimit(1024)
	if h.keepAlive > 0 {
		wait := 2*h.keepAlive + writeWait
		s.conn.SetReadDeadline(time.Now().Add(wait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
