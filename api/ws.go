package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ballista-dev/ballista/runner"
)

const wsWriteTimeout = 10 * time.Second

// Hub streams snapshots and reports to at most one websocket client.
// A new connection replaces the previous one, so a stale dashboard tab
// never starves the live one. Hub implements runner.Publisher; publish
// failures drop the frame and the connection, never the run.
type Hub struct {
	upgrader  websocket.Upgrader
	pingEvery time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewHub(allowedOrigins []string, pingEvery time.Duration) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		pingEvery: pingEvery,
	}
}

// ServeHTTP upgrades the request and installs the connection as the
// hub's single client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if h.conn != nil {
		h.conn.Close()
	}
	h.conn = conn
	h.mu.Unlock()
	log.Infof("websocket client connected from %s", r.RemoteAddr)

	go h.keepAlive(conn)
	go h.readLoop(conn)
}

// readLoop consumes (and discards) client frames so close and pong
// control messages are processed.
func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.Lock()
		current := h.conn == conn
		if current {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.mu.Unlock()
				h.drop(conn)
				return
			}
		}
		h.mu.Unlock()
		if !current {
			return
		}
	}
}

// drop closes conn and clears it from the hub if it is still current.
func (h *Hub) drop(conn *websocket.Conn) {
	conn.Close()
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
}

func (h *Hub) send(v interface{}) {
	h.mu.Lock()
	conn := h.conn
	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			log.Debugf("websocket write failed, dropping client: %v", err)
			conn.Close()
			h.conn = nil
		}
	}
	h.mu.Unlock()
}

func (h *Hub) PublishSnapshot(testID string, s runner.Snapshot) {
	h.send(map[string]interface{}{"type": "snapshot", "test_id": testID, "data": s})
}

func (h *Hub) PublishReport(testID string, r runner.Report) {
	h.send(map[string]interface{}{"type": "report", "test_id": testID, "data": r})
}

var _ runner.Publisher = (*Hub)(nil)

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}
