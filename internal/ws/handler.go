package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hearthapp/hearth/internal/infrastructure/logging"
	"github.com/hearthapp/hearth/internal/infrastructure/monitoring"
	"github.com/hearthapp/hearth/internal/reader"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Same-host deployment; CORS middleware gates browsers
	},
}

// Handler streams filesystem change events to connected clients.
type Handler struct {
	watcher *reader.Watcher
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a WebSocket handler backed by the watcher. A nil
// watcher is allowed: connections are accepted but only see pings.
func NewHandler(watcher *reader.Watcher, log *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{watcher: watcher, log: log, metrics: metrics}
}

// HandleConnection upgrades the request and pumps watcher events to the
// client until it disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	var (
		events <-chan reader.Event
		cancel func()
	)
	if h.watcher != nil {
		events, cancel = h.watcher.Subscribe()
		defer cancel()
	}

	// Reader loop: we never expect client messages, but reading is what
	// surfaces close frames and connection drops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.send(conn, gin.H{"type": "hello", "message": "connected to hearth reader"})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !h.send(conn, gin.H{"type": "change", "op": ev.Op, "path": ev.Path}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, payload any) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(payload); err != nil {
		h.log.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}
