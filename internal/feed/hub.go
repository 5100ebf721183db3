// Package feed streams newly stored snapshots to websocket subscribers.
package feed

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/ingestion"
	"pair-apr-lab/internal/observability"
)

// ErrClosed is returned by Publish after the hub has stopped.
var ErrClosed = errors.New("feed hub closed")

const clientBuffer = 256

// Hub fans snapshots out to connected websocket clients.
// Run must be started before clients connect or snapshots are published.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []*domain.Snapshot
	done       chan struct{}

	clients map[*client]struct{}
	count   atomic.Int64

	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// Compile-time interface check.
var _ ingestion.SnapshotSink = (*Hub)(nil)

// NewHub creates a hub. Nil logger or metrics fall back to the defaults.
func NewHub(logger logrus.FieldLogger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []*domain.Snapshot, 64),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.WithField("component", "feed"),
		metrics: metrics,
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.metrics.FeedClients.Inc()

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case snapshots := <-h.broadcast:
			for c := range h.clients {
				for _, s := range snapshots {
					if c.pair != "" && c.pair != s.PairID {
						continue
					}
					select {
					case c.send <- s:
					default:
						// Slow consumer; dropping it keeps the hub responsive
						h.logger.WithField("remote", c.remote).Warn("feed client too slow, disconnecting")
						h.drop(c)
					}
					if _, ok := h.clients[c]; !ok {
						break
					}
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	h.metrics.FeedClients.Dec()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Name implements ingestion.SnapshotSink.
func (h *Hub) Name() string { return "websocket" }

// Publish queues snapshots for broadcast.
func (h *Hub) Publish(ctx context.Context, snapshots []*domain.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}

	batch := append([]*domain.Snapshot(nil), snapshots...)
	select {
	case h.broadcast <- batch:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades the request and subscribes the connection.
// An optional ?pair= restricts the stream to one pair.
func (h *Hub) ServeWS(c *gin.Context) {
	var pair string
	if raw := c.Query("pair"); raw != "" {
		normalized, err := domain.NormalizePairID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pair"})
			return
		}
		pair = normalized
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	cl := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan *domain.Snapshot, clientBuffer),
		pair:   pair,
		remote: c.ClientIP(),
	}

	select {
	case h.register <- cl:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump()
}
