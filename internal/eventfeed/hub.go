package eventfeed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/park285/cheese-repertoire/internal/adapter/practicepresenter"
	"github.com/park285/cheese-repertoire/internal/practice"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
	pingInterval  = 30 * time.Second
)

var ErrHubClosed = errors.New("event feed closed")

type Option func(*Hub)

// WithBuffer sets how many frames a slow subscriber may fall behind before
// frames are dropped for it.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// Hub fans practice events out to websocket subscribers. Publishing never
// blocks the engine.
type Hub struct {
	buffer int
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	send    chan practicedto.Event
	session string
	dropped int
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:  defaultBuffer,
		logger:  zap.NewNop(),
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Observer adapts the hub to the engine's observer hook.
func (h *Hub) Observer() practice.Observer {
	return func(ev practice.Event) {
		h.Publish(practicepresenter.ToDTOEvent(ev))
	}
}

// Publish queues ev for every subscriber interested in its session.
func (h *Hub) Publish(ev practicedto.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for c := range h.clients {
		if c.session != "" && c.session != ev.SessionID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			c.dropped++
			if c.dropped == 1 || c.dropped%100 == 0 {
				h.logger.Warn("event_feed_drop", zap.String("kind", ev.Kind), zap.Int("dropped", c.dropped))
			}
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
// ?session=<id> limits the stream to one session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Debug("event_feed_accept_failed", zap.Error(err))
		return
	}
	c := &client{
		send:    make(chan practicedto.Event, h.buffer),
		session: r.URL.Query().Get("session"),
	}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(c)

	ctx := conn.CloseRead(r.Context())
	hello := practicedto.Event{Kind: practicedto.EventHello, SessionID: c.session, At: h.now().UTC()}
	if err := h.write(ctx, conn, hello); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Debug("event_feed_write_failed", zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, ev practicedto.Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Close ends every subscriber stream. Handlers send the close frame on
// their own goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return nil
}
