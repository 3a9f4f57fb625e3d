package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/handoff"
)

// clientBuffer is the per-connection outbound queue depth. A client that
// cannot drain this many deltas is considered dead and disconnected rather
// than allowed to backpressure the engine.
const clientBuffer = 64

// HubMetrics receives fan-out observations.
type HubMetrics interface {
	RecordDelta(kind string)
	SetWebsocketClients(n int)
}

// Hub fans handoff deltas out to connected admin websocket clients and an
// optional outbound webhook. Delivery is best-effort: the engine never
// blocks on a slow observer.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	webhook *WebhookSink
	metrics HubMetrics
	logger  *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewHub builds the fan-out hub. The webhook sink and metrics are optional.
func NewHub(webhook *WebhookSink, metrics HubMetrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		webhook: webhook,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "realtime_hub")),
	}
}

var _ handoff.Realtime = (*Hub)(nil)

// PublishDelta enqueues a delta toward every connected client and the
// webhook. Clients with a full queue are dropped.
func (h *Hub) PublishDelta(ctx context.Context, d *handoff.Delta) {
	data, err := json.Marshal(d)
	if err != nil {
		h.logger.Error("failed to marshal delta", zap.Error(err))
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow realtime client")
			h.removeLocked(c)
		}
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordDelta(string(d.Kind))
	}
	if h.webhook != nil {
		h.webhook.Deliver(ctx, data)
	}
}

// ServeHTTP upgrades the request to a websocket subscription. The
// connection stays open until the client disconnects or fails to keep up.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	h.add(c)
	defer h.remove(c)

	go h.writeLoop(r.Context(), c)

	// Drain (and discard) client frames so pings and close frames are
	// processed; the hub is publish-only.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	return nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetWebsocketClients(n)
	}
	h.logger.Info("realtime client connected", zap.Int("clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetWebsocketClients(n)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.done)
	_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
}
